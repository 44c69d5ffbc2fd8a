package notification

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"maps"

	fcm "google.golang.org/api/fcm/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/victornm/duelhub/internal/storage"
)

const (
	ProviderFCM = "fcm"

	androidChannel = "duel_notifications"
	clickAction    = "FLUTTER_NOTIFICATION_CLICK"
)

type FCMConfig struct {
	ProjectID string
	Players   PlayerGetter
	// Options configure the API client, e.g. option.WithCredentialsFile.
	Options []option.ClientOption
}

// FCM sends through the Firebase Cloud Messaging v1 API to the device token
// stored on the player.
type FCM struct {
	svc       *fcm.Service
	projectID string
	players   PlayerGetter
}

var _ Sender = (*FCM)(nil)

func NewFCM(ctx context.Context, c FCMConfig) (*FCM, error) {
	opts := append([]option.ClientOption{option.WithScopes(fcm.FirebaseMessagingScope)}, c.Options...)

	svc, err := fcm.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("fcm: new service: %w", err)
	}

	return &FCM{
		svc:       svc,
		projectID: c.ProjectID,
		players:   c.Players,
	}, nil
}

func (*FCM) Name() string { return ProviderFCM }

func (f *FCM) Send(ctx context.Context, m Message) (*Result, error) {
	p, err := f.players.GetPlayer(ctx, m.TargetPlayerID)
	if stderrors.Is(err, storage.ErrNotFound) {
		return &Result{Reason: "player not found"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fcm: get player: %w", err)
	}
	if p.FCMToken == "" {
		return &Result{Reason: "no FCM token"}, nil
	}

	data := map[string]string{
		"type":         m.Type,
		"click_action": clickAction,
	}
	maps.Copy(data, m.Data)

	aps, err := json.Marshal(map[string]any{
		"aps": map[string]any{"sound": "default", "badge": 1},
	})
	if err != nil {
		return nil, fmt.Errorf("fcm: marshal apns payload: %w", err)
	}

	msg := &fcm.Message{
		Token: p.FCMToken,
		Notification: &fcm.Notification{
			Title: m.Title,
			Body:  m.Body,
			Image: m.ImageURL,
		},
		Data: data,
		Android: &fcm.AndroidConfig{
			Priority: "high",
			Notification: &fcm.AndroidNotification{
				Sound:     "default",
				ChannelId: androidChannel,
			},
		},
		Apns: &fcm.ApnsConfig{
			Payload: googleapi.RawMessage(aps),
		},
	}

	resp, err := f.svc.Projects.Messages.
		Send("projects/"+f.projectID, &fcm.SendMessageRequest{Message: msg}).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("fcm: send: %w", err)
	}

	return &Result{Sent: true, ID: resp.Name}, nil
}
