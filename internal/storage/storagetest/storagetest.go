// Package storagetest holds behaviour every storage.Store must share.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/duelhub/internal/domain"
	"github.com/victornm/duelhub/internal/storage"
)

// TestDeletePlayer checks that deleting a player takes its stats and every
// duel it is part of with it, and leaves other players' duels alone.
func TestDeletePlayer(t *testing.T, s storage.Store) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	now := time.Now().UTC().Truncate(time.Millisecond)
	player := func() string {
		p := domain.Player{ID: uuid.NewString(), DeviceID: uuid.NewString(), CreateTime: now}
		require.NoError(t, s.CreatePlayer(ctx, &p))
		return p.ID
	}
	duel := func(challenger, challenged string) string {
		d, err := domain.NewDuel(uuid.NewString(), challenger, challenged, 1, now)
		require.NoError(t, err)
		require.NoError(t, s.CreateDuel(ctx, &d))
		return d.ID
	}

	alice, bob, carol := player(), player(), player()

	_, err := s.UpdateStats(ctx, alice, func(st *domain.PlayerStats) error {
		st.HighScore = 10
		return nil
	})
	require.NoError(t, err)

	asChallenger := duel(alice, bob)
	asChallenged := duel(carol, alice)
	unrelated := duel(bob, carol)

	require.NoError(t, s.DeletePlayer(ctx, alice))

	_, err = s.GetPlayer(ctx, alice)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.GetStats(ctx, alice)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	for _, id := range []string{asChallenger, asChallenged} {
		_, err = s.GetDuel(ctx, id)
		assert.ErrorIs(t, err, storage.ErrNotFound, "duel %s should go with its player", id)
	}

	d, err := s.GetDuel(ctx, unrelated)
	require.NoError(t, err)
	assert.Equal(t, bob, d.ChallengerID)

	open, err := s.ListOpenDuels(ctx, bob)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, unrelated, open[0].ID)

	assert.ErrorIs(t, s.DeletePlayer(ctx, alice), storage.ErrNotFound)
}
