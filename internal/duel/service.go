package duel

import (
	"context"
	"crypto/rand"
	stderrors "errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/victornm/duelhub/internal/domain"
	"github.com/victornm/duelhub/internal/errors"
	"github.com/victornm/duelhub/internal/event"
	"github.com/victornm/duelhub/internal/storage"
	"github.com/victornm/duelhub/internal/telemetry"
)

// MaxSeed bounds the seeds handed to the game's deterministic content generator.
const MaxSeed = 2147483647

// Reconciler is notified of every submitted score.
type Reconciler interface {
	ReconcileHighScore(ctx context.Context, playerID string, score int64) (*domain.PlayerStats, error)
}

type Config struct {
	Store      storage.Store
	EventBus   *event.Bus
	Reconciler Reconciler
	// Seed returns a seed in [0, MaxSeed). Defaults to crypto/rand.
	Seed func() (int64, error)
	Now  func() time.Time
}

type Service struct {
	store storage.Store
	eb    *event.Bus
	rec   Reconciler
	seed  func() (int64, error)
	now   func() time.Time
}

func NewService(c Config) *Service {
	s := &Service{
		store: c.Store,
		eb:    c.EventBus,
		rec:   c.Reconciler,
		seed:  c.Seed,
		now:   c.Now,
	}

	if s.seed == nil {
		s.seed = randomSeed
	}
	if s.now == nil {
		s.now = time.Now
	}

	return s
}

func randomSeed() (int64, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(MaxSeed))
	if err != nil {
		return 0, err
	}
	return n.Int64(), nil
}

type CreateChallengeRequest struct {
	ChallengerID string
	ChallengedID string
}

// CreateChallenge inserts a pending duel between two existing players.
func (s *Service) CreateChallenge(ctx context.Context, req CreateChallengeRequest) (*domain.Duel, error) {
	for _, id := range []string{req.ChallengerID, req.ChallengedID} {
		if id == "" {
			continue
		}
		if _, err := s.store.GetPlayer(ctx, id); err != nil {
			if stderrors.Is(err, storage.ErrNotFound) {
				return nil, errors.Validation("player not found: %s", id)
			}
			return nil, fmt.Errorf("get player %s: %w", id, err)
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate duel ID: %w", err)
	}

	seed, err := s.seed()
	if err != nil {
		return nil, fmt.Errorf("generate seed: %w", err)
	}

	d, err := domain.NewDuel(id.String(), req.ChallengerID, req.ChallengedID, seed, s.now().UTC())
	if err != nil {
		return nil, err
	}

	if err := s.store.CreateDuel(ctx, &d); err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return nil, errors.Validation("player not found: challenger=%s challenged=%s", req.ChallengerID, req.ChallengedID)
		}
		return nil, fmt.Errorf("create duel: %w", err)
	}

	telemetry.DuelTransitions.WithLabelValues(string(d.Status)).Inc()
	s.eb.Publish(ctx, domain.EventDuelCreated{Duel: d})

	return &d, nil
}

// AcceptChallenge moves a pending duel to active.
func (s *Service) AcceptChallenge(ctx context.Context, duelID string) (*domain.Duel, error) {
	d, err := s.update(ctx, duelID, (*domain.Duel).Accept)
	if err != nil {
		return nil, err
	}

	s.eb.Publish(ctx, domain.EventDuelAccepted{Duel: *d})
	return d, nil
}

// DeclineChallenge moves a pending duel to declined. Declined duels are final.
func (s *Service) DeclineChallenge(ctx context.Context, duelID string) (*domain.Duel, error) {
	d, err := s.update(ctx, duelID, (*domain.Duel).Decline)
	if err != nil {
		return nil, err
	}

	s.eb.Publish(ctx, domain.EventDuelDeclined{Duel: *d})
	return d, nil
}

type SubmitScoreRequest struct {
	DuelID   string
	PlayerID string
	Score    int64
}

// SubmitScore records the score of one party and completes the duel when the
// other party has already played. Each party can submit once.
func (s *Service) SubmitScore(ctx context.Context, req SubmitScoreRequest) (*domain.Duel, error) {
	d, err := s.update(ctx, req.DuelID, func(d *domain.Duel) error {
		return d.SubmitScore(req.PlayerID, req.Score)
	})
	if err != nil {
		return nil, err
	}

	if s.rec != nil {
		if _, err := s.rec.ReconcileHighScore(ctx, req.PlayerID, req.Score); err != nil {
			slog.ErrorContext(ctx, "duel: reconcile high score failed",
				"duel", d.ID,
				"player", req.PlayerID,
				"error", err,
			)
		}
	}

	s.eb.Publish(ctx, domain.EventDuelScoreSubmitted{
		Duel:     *d,
		PlayerID: req.PlayerID,
		Score:    req.Score,
	})
	if d.Status == domain.DuelStatusCompleted {
		s.eb.Publish(ctx, domain.EventDuelCompleted{Duel: *d})
	}

	return d, nil
}

func (s *Service) update(ctx context.Context, duelID string, fn func(d *domain.Duel) error) (*domain.Duel, error) {
	var before domain.DuelStatus
	d, err := s.store.UpdateDuel(ctx, duelID, func(d *domain.Duel) error {
		before = d.Status
		return fn(d)
	})
	if stderrors.Is(err, storage.ErrNotFound) {
		return nil, errors.NotFound("duel not found: %s", duelID)
	}
	if err != nil {
		return nil, err
	}

	if d.Status != before {
		telemetry.DuelTransitions.WithLabelValues(string(d.Status)).Inc()
	}

	return d, nil
}

func (s *Service) GetDuel(ctx context.Context, duelID string) (*domain.Duel, error) {
	d, err := s.store.GetDuel(ctx, duelID)
	if stderrors.Is(err, storage.ErrNotFound) {
		return nil, errors.NotFound("duel not found: %s", duelID)
	}
	if err != nil {
		return nil, fmt.Errorf("get duel: %w", err)
	}
	return d, nil
}

// Opponent is the public profile of the other party of a duel.
type Opponent struct {
	ID       string
	Username string
	PhotoURL string
}

// PlayerDuel is an open duel seen from one of its parties.
type PlayerDuel struct {
	Duel          domain.Duel
	IsChallenger  bool
	Opponent      Opponent
	MyScore       *int64
	OpponentScore *int64
}

// PlayerDuels groups the open duels of a player by what the player can do next.
type PlayerDuels struct {
	// AwaitingResponse are duels the player was challenged to and has not answered yet.
	AwaitingResponse []PlayerDuel
	// Playable are duels the player can submit a score for right now.
	Playable []PlayerDuel
	// Opponents lists every other player that can be challenged.
	Opponents []Opponent
}

const unknownOpponent = "Unknown"

// ListPlayerDuels returns the open duels of a player, newest first.
func (s *Service) ListPlayerDuels(ctx context.Context, playerID string) (*PlayerDuels, error) {
	if _, err := s.store.GetPlayer(ctx, playerID); err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return nil, errors.NotFound("player not found: %s", playerID)
		}
		return nil, fmt.Errorf("get player: %w", err)
	}

	duels, err := s.store.ListOpenDuels(ctx, playerID)
	if err != nil {
		return nil, fmt.Errorf("list duels: %w", err)
	}

	players, err := s.store.ListPlayers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}

	res := &PlayerDuels{
		Opponents: make([]Opponent, 0, len(players)),
	}

	profiles := make(map[string]Opponent, len(players))
	for _, p := range players {
		o := Opponent{ID: p.ID, Username: p.Username, PhotoURL: p.PhotoURL}
		profiles[p.ID] = o
		if p.ID != playerID {
			res.Opponents = append(res.Opponents, o)
		}
	}

	for _, d := range duels {
		opponentID := d.OpponentOf(playerID)
		o, ok := profiles[opponentID]
		if !ok {
			o = Opponent{ID: opponentID, Username: unknownOpponent}
		}

		pd := PlayerDuel{
			Duel:          d,
			IsChallenger:  d.ChallengerID == playerID,
			Opponent:      o,
			MyScore:       d.ScoreOf(playerID),
			OpponentScore: d.ScoreOf(opponentID),
		}

		switch {
		case d.AwaitingResponse(playerID):
			res.AwaitingResponse = append(res.AwaitingResponse, pd)
		case d.AwaitingAction(playerID):
			res.Playable = append(res.Playable, pd)
		}
	}

	return res, nil
}
