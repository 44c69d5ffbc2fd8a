package score_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/duelhub/internal/domain"
	"github.com/victornm/duelhub/internal/event"
	"github.com/victornm/duelhub/internal/score"
	"github.com/victornm/duelhub/internal/storage/memory"
)

func TestService_Dashboard(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	s := score.NewService(score.Config{EventBus: event.NewBus(), Store: store})

	d, err := s.Dashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0", d.AverageHighScore.String())

	for id, device := range map[string]string{"a": "dev-a", "b": "fake_b", "c": "fake_c"} {
		require.NoError(t, store.CreatePlayer(ctx, &domain.Player{ID: id, DeviceID: device}))
	}
	for _, r := range []struct {
		id    string
		score int64
	}{{"a", 1000}, {"a", 10}, {"b", 250}, {"c", 3}} {
		_, err := s.ReconcileHighScore(ctx, r.id, r.score)
		require.NoError(t, err)
	}

	d, err = s.Dashboard(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(3), d.TotalPlayers)
	assert.Equal(t, int64(1), d.RealPlayers)
	assert.Equal(t, int64(2), d.BotPlayers)
	assert.Equal(t, int64(4), d.TotalGames)
	assert.Equal(t, int64(1000), d.BestScore)
	assert.Equal(t, "417.67", d.AverageHighScore.StringFixed(2))
}

func TestFormatCompact(t *testing.T) {
	tests := map[int64]string{
		0:         "0",
		999:       "999",
		1000:      "1.0K",
		1250:      "1.3K",
		15000:     "15.0K",
		999_949:   "999.9K",
		1_000_000: "1.0M",
		3_450_000: "3.5M",
	}

	for n, want := range tests {
		assert.Equal(t, want, score.FormatCompact(n), "n=%d", n)
	}
}
