package domain

import (
	"time"

	"github.com/victornm/duelhub/internal/errors"
)

type DuelStatus string

const (
	DuelStatusPending   DuelStatus = "pending"
	DuelStatusActive    DuelStatus = "active"
	DuelStatusCompleted DuelStatus = "completed"
	DuelStatusDeclined  DuelStatus = "declined"
)

// Open reports whether scores can still be submitted.
func (s DuelStatus) Open() bool {
	return s == DuelStatusPending || s == DuelStatusActive
}

// Side identifies which party of a duel a player is.
type Side int

const (
	SideChallenger Side = iota + 1
	SideChallenged
)

// Duel is a challenge between two players playing the same seeded game.
//
// WinnerID is set if and only if Status is completed and the scores differ.
type Duel struct {
	ID              string
	ChallengerID    string
	ChallengedID    string
	Seed            int64
	Status          DuelStatus
	ChallengerScore *int64
	ChallengedScore *int64
	WinnerID        *string
	CreateTime      time.Time
}

// NewDuel returns a pending duel with no scores.
func NewDuel(id, challengerID, challengedID string, seed int64, now time.Time) (Duel, error) {
	if challengerID == "" || challengedID == "" {
		return Duel{}, errors.Validation("challenger and challenged are required")
	}
	if challengerID == challengedID {
		return Duel{}, errors.Validation("a player cannot challenge themselves: player=%s", challengerID)
	}

	return Duel{
		ID:           id,
		ChallengerID: challengerID,
		ChallengedID: challengedID,
		Seed:         seed,
		Status:       DuelStatusPending,
		CreateTime:   now,
	}, nil
}

func (d *Duel) Accept() error {
	if d.Status != DuelStatusPending {
		return errors.InvalidTransition("duel %s cannot be accepted from status %s", d.ID, d.Status)
	}
	d.Status = DuelStatusActive
	return nil
}

func (d *Duel) Decline() error {
	if d.Status != DuelStatusPending {
		return errors.InvalidTransition("duel %s cannot be declined from status %s", d.ID, d.Status)
	}
	d.Status = DuelStatusDeclined
	return nil
}

// SubmitScore records the score of one party. Once both scores are known the
// duel is completed and the winner decided; until then the status is kept.
// The result does not depend on which party submits first.
func (d *Duel) SubmitScore(playerID string, score int64) error {
	if !d.Status.Open() {
		return errors.InvalidTransition("duel %s does not accept scores in status %s", d.ID, d.Status)
	}
	if score < 0 {
		return errors.Validation("score must not be negative: %d", score)
	}

	side, ok := d.Side(playerID)
	if !ok {
		return errors.Validation("player %s is not part of duel %s", playerID, d.ID)
	}

	own, other := d.scores(side)
	if *own != nil {
		return errors.AlreadySubmitted("player %s already submitted a score for duel %s", playerID, d.ID)
	}

	*own = &score
	if *other == nil {
		return nil
	}

	d.Status = DuelStatusCompleted
	d.WinnerID = d.winner()
	return nil
}

func (d *Duel) scores(side Side) (own, other **int64) {
	if side == SideChallenger {
		return &d.ChallengerScore, &d.ChallengedScore
	}
	return &d.ChallengedScore, &d.ChallengerScore
}

func (d *Duel) winner() *string {
	a, b := *d.ChallengerScore, *d.ChallengedScore
	switch {
	case a > b:
		id := d.ChallengerID
		return &id
	case b > a:
		id := d.ChallengedID
		return &id
	default:
		return nil
	}
}

// Side returns the side played by playerID, false if they are not a party.
func (d Duel) Side(playerID string) (Side, bool) {
	switch playerID {
	case d.ChallengerID:
		return SideChallenger, true
	case d.ChallengedID:
		return SideChallenged, true
	default:
		return 0, false
	}
}

// ScoreOf returns the score submitted by playerID, nil when not submitted yet.
func (d Duel) ScoreOf(playerID string) *int64 {
	switch side, _ := d.Side(playerID); side {
	case SideChallenger:
		return d.ChallengerScore
	case SideChallenged:
		return d.ChallengedScore
	default:
		return nil
	}
}

// OpponentOf returns the other party of the duel.
func (d Duel) OpponentOf(playerID string) string {
	if playerID == d.ChallengerID {
		return d.ChallengedID
	}
	return d.ChallengerID
}

// AwaitingAction reports whether playerID can play the duel now: their own
// score is missing and the duel is active, or it is still pending and they
// are the challenger (who plays right after creating it).
func (d Duel) AwaitingAction(playerID string) bool {
	side, ok := d.Side(playerID)
	if !ok || d.ScoreOf(playerID) != nil {
		return false
	}

	switch d.Status {
	case DuelStatusActive:
		return true
	case DuelStatusPending:
		return side == SideChallenger
	default:
		return false
	}
}

// AwaitingResponse reports whether playerID still has to accept or decline.
func (d Duel) AwaitingResponse(playerID string) bool {
	return d.Status == DuelStatusPending && playerID == d.ChallengedID
}
