package storage

import (
	"context"
	"errors"

	"github.com/victornm/duelhub/internal/domain"
)

var ErrNotFound = errors.New("storage: not found")

// Store persists players, their stats and duels.
//
// The Update* methods are atomic read-modify-write operations on one row: fn
// receives the current record and the store writes back whatever fn leaves in
// it, unless fn returns an error, in which case nothing is written.
type Store interface {
	CreatePlayer(ctx context.Context, p *domain.Player) error
	GetPlayer(ctx context.Context, id string) (*domain.Player, error)
	// ListPlayers returns all players joined with their stats, newest first.
	ListPlayers(ctx context.Context) ([]domain.PlayerWithStats, error)
	// DeletePlayer removes the player with its stats and every duel it is part of.
	DeletePlayer(ctx context.Context, id string) error

	GetStats(ctx context.Context, playerID string) (*domain.PlayerStats, error)
	// UpdateStats creates an empty stats row when the player has none yet.
	UpdateStats(ctx context.Context, playerID string, fn func(s *domain.PlayerStats) error) (*domain.PlayerStats, error)

	CreateDuel(ctx context.Context, d *domain.Duel) error
	GetDuel(ctx context.Context, id string) (*domain.Duel, error)
	UpdateDuel(ctx context.Context, id string, fn func(d *domain.Duel) error) (*domain.Duel, error)
	// ListOpenDuels returns the pending and active duels involving playerID, newest first.
	ListOpenDuels(ctx context.Context, playerID string) ([]domain.Duel, error)
}
