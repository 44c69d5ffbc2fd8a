package leaderboard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/duelhub/internal/domain"
	"github.com/victornm/duelhub/internal/errors"
	"github.com/victornm/duelhub/internal/event"
	"github.com/victornm/duelhub/internal/storage"
)

const (
	publishInterval = 200 * time.Millisecond

	// DefaultLimit is the number of entries returned when no limit is given.
	DefaultLimit = 100
	MaxLimit     = 1000
)

type Config struct {
	EventBus *event.Bus
	Store    storage.Store
	Redis    redis.UniversalClient
	Prefix   string
	Now      func() time.Time
}

// Service keeps a sorted set of every player's high score.
type Service struct {
	eb     *event.Bus
	store  storage.Store
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time

	// mu makes the stats read and the ZAdd one step, so the last write
	// always carries the freshest high score.
	mu sync.Mutex
}

func NewService(c Config) *Service {
	s := &Service{
		eb:     c.EventBus,
		store:  c.Store,
		redis:  c.Redis,
		prefix: c.Prefix,
		now:    c.Now,
	}

	if s.now == nil {
		s.now = time.Now
	}

	s.eb.Subscribe(domain.EventNameScoreUpdated, func(ctx context.Context, e event.Event) error {
		return s.UpdateLeaderboard(ctx, e.(domain.EventScoreUpdated))
	})

	return s
}

type GetLeaderboardRequest struct {
	Limit int
}

// GetLeaderboard returns the best high scores, highest first.
func (s *Service) GetLeaderboard(ctx context.Context, req GetLeaderboardRequest) (*domain.Leaderboard, error) {
	limit := req.Limit
	switch {
	case limit == 0:
		limit = DefaultLimit
	case limit < 0 || limit > MaxLimit:
		return nil, errors.Validation("limit must be between 1 and %d: %d", MaxLimit, limit)
	}

	res, err := s.redis.ZRevRangeWithScores(ctx, s.leaderboardKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("get leaderboard: %w", err)
	}

	entries := make([]domain.LeaderboardEntry, 0, len(res))
	for _, z := range res {
		entries = append(entries, domain.LeaderboardEntry{
			PlayerID:  z.Member.(string),
			HighScore: int64(z.Score),
		})
	}

	return &domain.Leaderboard{Entries: entries}, nil
}

// UpdateLeaderboard copies the player's stored high score into the
// leaderboard. The event only says which player changed: handlers finish in
// no fixed order, so its payload may already be stale.
func (s *Service) UpdateLeaderboard(ctx context.Context, e domain.EventScoreUpdated) error {
	if err := s.syncPlayer(ctx, e.Stats.PlayerID); err != nil {
		return err
	}

	return s.schedulePublishLeaderboard(ctx)
}

func (s *Service) syncPlayer(ctx context.Context, playerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.store.GetStats(ctx, playerID)
	if errors.Is(err, storage.ErrNotFound) {
		if err := s.redis.ZRem(ctx, s.leaderboardKey(), playerID).Err(); err != nil {
			return fmt.Errorf("remove player: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}

	if err := s.redis.ZAdd(ctx, s.leaderboardKey(), redis.Z{
		Score:  float64(st.HighScore),
		Member: st.PlayerID,
	}).Err(); err != nil {
		return fmt.Errorf("update leaderboard: %w", err)
	}
	return nil
}

// RemovePlayer drops a deleted player from the leaderboard.
func (s *Service) RemovePlayer(ctx context.Context, playerID string) error {
	s.mu.Lock()
	err := s.redis.ZRem(ctx, s.leaderboardKey(), playerID).Err()
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("remove player: %w", err)
	}

	return s.schedulePublishLeaderboard(ctx)
}

// Rebuild replaces the sorted set with the high scores found in the store.
func (s *Service) Rebuild(ctx context.Context) error {
	players, err := s.store.ListPlayers(ctx)
	if err != nil {
		return fmt.Errorf("list players: %w", err)
	}

	tmp := s.leaderboardKey() + ":rebuild"
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, tmp)
		for _, p := range players {
			pipe.ZAdd(ctx, tmp, redis.Z{
				Score:  float64(p.Stats.HighScore),
				Member: p.ID,
			})
		}
		if len(players) == 0 {
			pipe.Del(ctx, s.leaderboardKey())
			return nil
		}
		pipe.Rename(ctx, tmp, s.leaderboardKey())
		return nil
	})
	if err != nil {
		return fmt.Errorf("rebuild leaderboard: %w", err)
	}

	return nil
}

// schedulePublishLeaderboard throttles leaderboard.updated to one event per
// publishInterval across every instance sharing the redis.
func (s *Service) schedulePublishLeaderboard(ctx context.Context) error {
	ok, err := s.redis.SetNX(ctx, s.leaderboardTimeKey(), s.now().UnixMilli(), publishInterval).Result()
	if err != nil {
		return fmt.Errorf("setnx: %w", err)
	}

	if !ok {
		return nil
	}

	return s.publishLeaderboard(ctx)
}

func (s *Service) publishLeaderboard(ctx context.Context) error {
	l, err := s.GetLeaderboard(ctx, GetLeaderboardRequest{})
	if err != nil {
		return fmt.Errorf("get leaderboard failed: %w", err)
	}

	s.eb.Publish(ctx, domain.EventLeaderboardUpdated{
		Leaderboard: *l,
	})

	return nil
}

func (s *Service) leaderboardKey() string {
	return fmt.Sprintf("%s:leaderboard", s.prefix)
}

func (s *Service) leaderboardTimeKey() string {
	return fmt.Sprintf("%s:leaderboard:time", s.prefix)
}
