package score_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/duelhub/internal/domain"
	"github.com/victornm/duelhub/internal/errors"
	"github.com/victornm/duelhub/internal/event"
	"github.com/victornm/duelhub/internal/score"
	"github.com/victornm/duelhub/internal/storage/memory"
)

func TestService_ReconcileHighScore(t *testing.T) {
	type (
		inputs struct {
			initial *domain.PlayerStats
			scores  []int64
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, st *domain.PlayerStats)
	}{
		"a lower score keeps the high score but counts the game": {
			arrange: func() inputs {
				return inputs{scores: []int64{100, 50}}
			},

			assert: func(t *testing.T, st *domain.PlayerStats) {
				assert.Equal(t, int64(100), st.HighScore)
				assert.Equal(t, int64(2), st.GamesPlayed)
			},
		},

		"a higher score replaces the high score": {
			arrange: func() inputs {
				return inputs{
					initial: &domain.PlayerStats{HighScore: 5000, GamesPlayed: 40},
					scores:  []int64{7000},
				}
			},

			assert: func(t *testing.T, st *domain.PlayerStats) {
				assert.Equal(t, int64(7000), st.HighScore)
				assert.Equal(t, int64(41), st.GamesPlayed)
			},
		},

		"the same score twice counts two games": {
			arrange: func() inputs {
				return inputs{scores: []int64{300, 300}}
			},

			assert: func(t *testing.T, st *domain.PlayerStats) {
				assert.Equal(t, int64(300), st.HighScore)
				assert.Equal(t, int64(2), st.GamesPlayed)
			},
		},

		"other stats are left untouched": {
			arrange: func() inputs {
				return inputs{
					initial: &domain.PlayerStats{HighScore: 10, TotalScore: 99, BestCombo: 4},
					scores:  []int64{20},
				}
			},

			assert: func(t *testing.T, st *domain.PlayerStats) {
				assert.Equal(t, int64(99), st.TotalScore)
				assert.Equal(t, int64(4), st.BestCombo)
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			in := tt.arrange()

			store := memory.New()
			require.NoError(t, store.CreatePlayer(ctx, &domain.Player{ID: "p1"}))
			if in.initial != nil {
				_, err := store.UpdateStats(ctx, "p1", func(st *domain.PlayerStats) error {
					*st = *in.initial
					st.PlayerID = "p1"
					return nil
				})
				require.NoError(t, err)
			}

			s := score.NewService(score.Config{EventBus: event.NewBus(), Store: store})

			var (
				st  *domain.PlayerStats
				err error
			)
			for _, sc := range in.scores {
				st, err = s.ReconcileHighScore(ctx, "p1", sc)
				require.NoError(t, err)
			}

			stored, err := store.GetStats(ctx, "p1")
			require.NoError(t, err)
			assert.Equal(t, st, stored)

			tt.assert(t, stored)
		})
	}
}

func TestService_ReconcileHighScore_Concurrent(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.CreatePlayer(ctx, &domain.Player{ID: "p1"}))

	s := score.NewService(score.Config{EventBus: event.NewBus(), Store: store})

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ReconcileHighScore(ctx, "p1", int64(i*10))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	st, err := store.GetStats(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(20), st.GamesPlayed)
	assert.Equal(t, int64(190), st.HighScore)
}

func TestService_ReconcileHighScore_Errors(t *testing.T) {
	s := score.NewService(score.Config{EventBus: event.NewBus(), Store: memory.New()})

	_, err := s.ReconcileHighScore(context.Background(), "ghost", 10)
	assert.Equal(t, errors.ReasonValidation, errors.Convert(err).Reason)

	_, err = s.ReconcileHighScore(context.Background(), "ghost", -1)
	assert.Equal(t, errors.ReasonValidation, errors.Convert(err).Reason)
}

func TestService_PublishScoreUpdated(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.CreatePlayer(ctx, &domain.Player{ID: "p1"}))

	var (
		mu       sync.Mutex
		received []domain.EventScoreUpdated
	)
	eb := event.NewBus()
	eb.Subscribe(domain.EventNameScoreUpdated, func(_ context.Context, e event.Event) error {
		mu.Lock()
		received = append(received, e.(domain.EventScoreUpdated))
		mu.Unlock()
		return nil
	})

	s := score.NewService(score.Config{EventBus: eb, Store: store})

	_, err := s.ReconcileHighScore(ctx, "p1", 700)
	require.NoError(t, err)
	_, err = s.OverrideHighScore(ctx, score.OverrideHighScoreRequest{PlayerID: "p1", Score: 10})
	require.NoError(t, err)
	eb.Stop()

	require.Len(t, received, 2)
	highScores := []int64{received[0].Stats.HighScore, received[1].Stats.HighScore}
	assert.ElementsMatch(t, []int64{700, 10}, highScores)
}

func TestService_OverrideHighScore(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.CreatePlayer(ctx, &domain.Player{ID: "p1"}))

	s := score.NewService(score.Config{EventBus: event.NewBus(), Store: store})

	_, err := s.ReconcileHighScore(ctx, "p1", 9000)
	require.NoError(t, err)

	st, err := s.OverrideHighScore(ctx, score.OverrideHighScoreRequest{PlayerID: "p1", Score: 1200})
	require.NoError(t, err)
	assert.Equal(t, int64(1200), st.HighScore, "an admin override may lower the high score")
	assert.Equal(t, int64(1), st.GamesPlayed, "an override is not a game")

	_, err = s.OverrideHighScore(ctx, score.OverrideHighScoreRequest{PlayerID: "p1", Score: -5})
	assert.Equal(t, errors.CodeInvalidArgument, errors.Convert(err).Code)

	_, err = s.OverrideHighScore(ctx, score.OverrideHighScoreRequest{PlayerID: "ghost", Score: 5})
	assert.Equal(t, errors.CodeNotFound, errors.Convert(err).Code)
}

func TestService_ListPlayers(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	s := score.NewService(score.Config{EventBus: event.NewBus(), Store: store})

	now := time.Now()
	seed := []struct {
		player domain.Player
		high   int64
	}{
		{domain.Player{ID: "real-low", DeviceID: "device-1", CreateTime: now}, 100},
		{domain.Player{ID: "bot-high", DeviceID: "fake_1_abc", CreateTime: now.Add(time.Second)}, 9000},
		{domain.Player{ID: "real-high", DeviceID: "device-2", CreateTime: now.Add(2 * time.Second)}, 5000},
		{domain.Player{ID: "bot-none", DeviceID: "fake_2_def", CreateTime: now.Add(3 * time.Second)}, 0},
	}
	for _, p := range seed {
		require.NoError(t, store.CreatePlayer(ctx, &p.player))
		if p.high > 0 {
			_, err := s.ReconcileHighScore(ctx, p.player.ID, p.high)
			require.NoError(t, err)
		}
	}

	ids := func(ps []domain.PlayerWithStats) []string {
		var res []string
		for _, p := range ps {
			res = append(res, p.ID)
		}
		return res
	}

	all, err := s.ListPlayers(ctx, score.ListPlayersRequest{Filter: score.FilterAll})
	require.NoError(t, err)
	assert.Equal(t, []string{"bot-high", "real-high", "real-low", "bot-none"}, ids(all))

	humans, err := s.ListPlayers(ctx, score.ListPlayersRequest{Filter: score.FilterReal})
	require.NoError(t, err)
	assert.Equal(t, []string{"real-high", "real-low"}, ids(humans))

	bots, err := s.ListPlayers(ctx, score.ListPlayersRequest{Filter: score.FilterBot})
	require.NoError(t, err)
	assert.Equal(t, []string{"bot-high", "bot-none"}, ids(bots))

	_, err = s.ListPlayers(ctx, score.ListPlayersRequest{Filter: "robots"})
	assert.Equal(t, errors.CodeInvalidArgument, errors.Convert(err).Code)

	require.NoError(t, s.DeletePlayer(ctx, "bot-high"))
	assert.Equal(t, errors.CodeNotFound, errors.Convert(s.DeletePlayer(ctx, "bot-high")).Code)
}
