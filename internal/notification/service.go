package notification

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/victornm/duelhub/internal/domain"
	"github.com/victornm/duelhub/internal/errors"
	"github.com/victornm/duelhub/internal/event"
	"github.com/victornm/duelhub/internal/telemetry"
)

type Config struct {
	EventBus *event.Bus
	Players  PlayerGetter
	Senders  []Sender
	// Default is the name of the sender used for duel events and for manual
	// sends that don't pick one.
	Default string
}

type Service struct {
	players  PlayerGetter
	senders  map[string]Sender
	fallback string
}

func NewService(c Config) *Service {
	s := &Service{
		players:  c.Players,
		senders:  make(map[string]Sender, len(c.Senders)),
		fallback: c.Default,
	}

	for _, sn := range c.Senders {
		s.senders[sn.Name()] = sn
	}

	if _, ok := s.senders[s.fallback]; !ok {
		slog.Warn("notification: default sender not configured, duel notifications are off",
			"default", s.fallback,
			"senders", slices.Sorted(maps.Keys(s.senders)),
		)
	}

	c.EventBus.Subscribe(domain.EventNameDuelCreated, func(ctx context.Context, e event.Event) error {
		s.notifyDuelCreated(ctx, e.(domain.EventDuelCreated).Duel)
		return nil
	})
	c.EventBus.Subscribe(domain.EventNameDuelAccepted, func(ctx context.Context, e event.Event) error {
		s.notifyDuelAccepted(ctx, e.(domain.EventDuelAccepted).Duel)
		return nil
	})
	c.EventBus.Subscribe(domain.EventNameDuelCompleted, func(ctx context.Context, e event.Event) error {
		s.notifyDuelCompleted(ctx, e.(domain.EventDuelCompleted).Duel)
		return nil
	})

	return s
}

type SendRequest struct {
	// Provider selects the sender; empty uses the default one.
	Provider string
	Message  Message
}

// Send delivers one message right away, for the admin console.
func (s *Service) Send(ctx context.Context, req SendRequest) (*Result, error) {
	m := req.Message
	if m.TargetPlayerID == "" || strings.TrimSpace(m.Title) == "" || strings.TrimSpace(m.Body) == "" {
		return nil, errors.Validation("target player, title and body are required")
	}

	name := req.Provider
	if name == "" {
		name = s.fallback
	}

	sn, ok := s.senders[name]
	if !ok {
		return nil, errors.Validation("unknown notification provider %q", name)
	}

	res, err := s.send(ctx, sn, m)
	if err != nil {
		return nil, errors.Provider(err)
	}
	return res, nil
}

func (s *Service) send(ctx context.Context, sn Sender, m Message) (*Result, error) {
	res, err := sn.Send(ctx, m)

	result := "sent"
	switch {
	case err != nil:
		result = "error"
	case !res.Sent:
		result = "skipped"
	}
	telemetry.Notifications.WithLabelValues(sn.Name(), result).Inc()

	return res, err
}

// notify sends through the default sender. Failures are only logged: a
// notification never fails the duel operation that caused it.
func (s *Service) notify(ctx context.Context, m Message) {
	sn, ok := s.senders[s.fallback]
	if !ok {
		return
	}

	res, err := s.send(ctx, sn, m)
	if err != nil {
		slog.ErrorContext(ctx, "notification: send failed",
			"provider", sn.Name(),
			"player", m.TargetPlayerID,
			"type", m.Type,
			"error", err,
		)
		return
	}
	if !res.Sent {
		slog.InfoContext(ctx, "notification: skipped",
			"provider", sn.Name(),
			"player", m.TargetPlayerID,
			"reason", res.Reason,
		)
	}
}

func (s *Service) notifyDuelCreated(ctx context.Context, d domain.Duel) {
	s.notify(ctx, Message{
		TargetPlayerID: d.ChallengedID,
		Title:          "New challenge!",
		Body:           fmt.Sprintf("%s challenged you to a duel", s.username(ctx, d.ChallengerID)),
		Type:           TypeDuelChallenge,
		Data:           map[string]string{"duel_id": d.ID},
	})
}

func (s *Service) notifyDuelAccepted(ctx context.Context, d domain.Duel) {
	s.notify(ctx, Message{
		TargetPlayerID: d.ChallengerID,
		Title:          "Challenge accepted",
		Body:           fmt.Sprintf("%s accepted your challenge", s.username(ctx, d.ChallengedID)),
		Type:           TypeDuelAccepted,
		Data:           map[string]string{"duel_id": d.ID},
	})
}

func (s *Service) notifyDuelCompleted(ctx context.Context, d domain.Duel) {
	for _, id := range []string{d.ChallengerID, d.ChallengedID} {
		s.notify(ctx, Message{
			TargetPlayerID: id,
			Title:          "Duel finished",
			Body:           duelOutcome(d, id, s.username(ctx, d.OpponentOf(id))),
			Type:           TypeDuelCompleted,
			Data:           map[string]string{"duel_id": d.ID},
		})
	}
}

func duelOutcome(d domain.Duel, playerID, opponent string) string {
	switch {
	case d.WinnerID == nil:
		return fmt.Sprintf("It's a tie against %s!", opponent)
	case *d.WinnerID == playerID:
		return fmt.Sprintf("You beat %s!", opponent)
	default:
		return fmt.Sprintf("%s won this time. Ask for a rematch!", opponent)
	}
}

func (s *Service) username(ctx context.Context, playerID string) string {
	p, err := s.players.GetPlayer(ctx, playerID)
	if err != nil || p.Username == "" {
		return "A player"
	}
	return p.Username
}
