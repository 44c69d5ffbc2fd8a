package score

import (
	"cmp"
	"context"
	stderrors "errors"
	"fmt"
	"slices"

	"github.com/victornm/duelhub/internal/domain"
	"github.com/victornm/duelhub/internal/errors"
	"github.com/victornm/duelhub/internal/event"
	"github.com/victornm/duelhub/internal/storage"
	"github.com/victornm/duelhub/internal/telemetry"
)

type Config struct {
	EventBus *event.Bus
	Store    storage.Store
}

type Service struct {
	eb    *event.Bus
	store storage.Store
}

func NewService(c Config) *Service {
	return &Service{
		eb:    c.EventBus,
		store: c.Store,
	}
}

// ReconcileHighScore records one finished game of a player: the high score
// is replaced when score beats it, and the games played counter goes up by
// one on every call, whatever the score.
func (s *Service) ReconcileHighScore(ctx context.Context, playerID string, score int64) (*domain.PlayerStats, error) {
	if score < 0 {
		return nil, errors.Validation("score must not be negative: %d", score)
	}

	improved := false
	st, err := s.store.UpdateStats(ctx, playerID, func(st *domain.PlayerStats) error {
		if score > st.HighScore {
			st.HighScore = score
			improved = true
		}
		st.GamesPlayed++
		return nil
	})
	if stderrors.Is(err, storage.ErrNotFound) {
		return nil, errors.Validation("player not found: %s", playerID)
	}
	if err != nil {
		return nil, fmt.Errorf("update stats: %w", err)
	}

	result := "kept"
	if improved {
		result = "improved"
	}
	telemetry.ScoreReconciliations.WithLabelValues(result).Inc()

	s.eb.Publish(ctx, domain.EventScoreUpdated{Stats: *st})

	return st, nil
}

type OverrideHighScoreRequest struct {
	PlayerID string
	Score    int64
}

// OverrideHighScore replaces the high score of a player. This is the only way
// to lower a high score.
func (s *Service) OverrideHighScore(ctx context.Context, req OverrideHighScoreRequest) (*domain.PlayerStats, error) {
	if req.Score < 0 {
		return nil, errors.Validation("score must not be negative: %d", req.Score)
	}

	st, err := s.store.UpdateStats(ctx, req.PlayerID, func(st *domain.PlayerStats) error {
		st.HighScore = req.Score
		return nil
	})
	if stderrors.Is(err, storage.ErrNotFound) {
		return nil, errors.NotFound("player not found: %s", req.PlayerID)
	}
	if err != nil {
		return nil, fmt.Errorf("override high score: %w", err)
	}

	s.eb.Publish(ctx, domain.EventScoreUpdated{Stats: *st})

	return st, nil
}

type Filter string

const (
	FilterAll  Filter = "all"
	FilterReal Filter = "real"
	FilterBot  Filter = "bot"
)

type ListPlayersRequest struct {
	Filter Filter
}

// ListPlayers returns players with their stats, best high score first.
func (s *Service) ListPlayers(ctx context.Context, req ListPlayersRequest) ([]domain.PlayerWithStats, error) {
	keep := func(domain.PlayerWithStats) bool { return true }
	switch req.Filter {
	case FilterAll, "":
	case FilterReal:
		keep = func(p domain.PlayerWithStats) bool { return !p.IsBot() }
	case FilterBot:
		keep = func(p domain.PlayerWithStats) bool { return p.IsBot() }
	default:
		return nil, errors.Validation("unknown filter %q", req.Filter)
	}

	players, err := s.store.ListPlayers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}

	res := slices.DeleteFunc(players, func(p domain.PlayerWithStats) bool { return !keep(p) })
	slices.SortStableFunc(res, func(a, b domain.PlayerWithStats) int {
		return cmp.Compare(b.Stats.HighScore, a.Stats.HighScore)
	})

	return res, nil
}

// DeletePlayer removes a player and its stats.
func (s *Service) DeletePlayer(ctx context.Context, playerID string) error {
	err := s.store.DeletePlayer(ctx, playerID)
	if stderrors.Is(err, storage.ErrNotFound) {
		return errors.NotFound("player not found: %s", playerID)
	}
	if err != nil {
		return fmt.Errorf("delete player: %w", err)
	}
	return nil
}
