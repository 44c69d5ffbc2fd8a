package api

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/victornm/duelhub/internal/domain"
	"github.com/victornm/duelhub/internal/event"
)

const maxConcurrent = 100

// Notification is the envelope pushed on a player's pubsub channel.
type Notification struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// PublishLeaderboardUpdated pushes the new leaderboard to every ranked player.
func (a *API) PublishLeaderboardUpdated(ctx context.Context, e domain.EventLeaderboardUpdated) error {
	data := newLeaderboard(&e.Leaderboard)

	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	for _, entry := range data.Entries {
		eg.Go(func() error {
			return a.publishNotification(ctx, entry.PlayerID, e.Name(), data)
		})
	}

	return eg.Wait()
}

// PublishDuelEvent pushes a duel change to both of its players.
func (a *API) PublishDuelEvent(ctx context.Context, e event.Event) error {
	var d domain.Duel
	switch e := e.(type) {
	case domain.EventDuelCreated:
		d = e.Duel
	case domain.EventDuelAccepted:
		d = e.Duel
	case domain.EventDuelDeclined:
		d = e.Duel
	case domain.EventDuelScoreSubmitted:
		d = e.Duel
	case domain.EventDuelCompleted:
		d = e.Duel
	default:
		return fmt.Errorf("pubsub: unexpected event %s", e.Name())
	}

	data := newDuel(d)

	var eg errgroup.Group
	for _, player := range []string{d.ChallengerID, d.ChallengedID} {
		eg.Go(func() error {
			return a.publishNotification(ctx, player, e.Name(), data)
		})
	}

	return eg.Wait()
}

func (a *API) publishNotification(ctx context.Context, player, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	return a.redis.Publish(ctx, PlayerChannel(a.prefix, player), b).Err()
}

// PlayerChannel is the pubsub channel a player's client subscribes to.
func PlayerChannel(prefix, playerID string) string {
	return fmt.Sprintf("%s:player:%s", prefix, playerID)
}
