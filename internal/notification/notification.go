// Package notification sends push notifications to players.
package notification

import (
	"context"

	"github.com/victornm/duelhub/internal/domain"
)

// Notification types understood by the game client.
const (
	TypeDuelChallenge = "duel_challenge"
	TypeDuelAccepted  = "duel_accepted"
	TypeDuelCompleted = "duel_completed"
	TypeAnnouncement  = "announcement"
)

type Message struct {
	TargetPlayerID string
	Title          string
	Body           string
	Type           string
	ImageURL       string
	Data           map[string]string
}

// Result tells whether a message left for the device. A message can be
// skipped without error, e.g. when the player has no push token.
type Result struct {
	Sent   bool
	ID     string
	Reason string
}

type Sender interface {
	// Name identifies the provider in config and metrics.
	Name() string
	Send(ctx context.Context, m Message) (*Result, error)
}

type PlayerGetter interface {
	GetPlayer(ctx context.Context, id string) (*domain.Player, error)
}
