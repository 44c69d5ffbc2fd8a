package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"
	"strings"
	"time"
)

const (
	ProviderOneSignal = "onesignal"

	defaultOneSignalURL = "https://onesignal.com"
)

type OneSignalConfig struct {
	AppID  string
	APIKey string
	// URL defaults to the public OneSignal API.
	URL        string
	HTTPClient *http.Client
}

// OneSignal sends through the OneSignal REST API, addressing players by their
// external user id.
type OneSignal struct {
	appID  string
	apiKey string
	url    string
	http   *http.Client
}

var _ Sender = (*OneSignal)(nil)

func NewOneSignal(c OneSignalConfig) *OneSignal {
	o := &OneSignal{
		appID:  c.AppID,
		apiKey: c.APIKey,
		url:    strings.TrimRight(c.URL, "/"),
		http:   c.HTTPClient,
	}

	if o.url == "" {
		o.url = defaultOneSignalURL
	}
	if o.http == nil {
		o.http = &http.Client{Timeout: 10 * time.Second}
	}

	return o
}

func (*OneSignal) Name() string { return ProviderOneSignal }

type oneSignalRequest struct {
	AppID                 string            `json:"app_id"`
	IncludeExternalUserID []string          `json:"include_external_user_ids"`
	Headings              map[string]string `json:"headings"`
	Contents              map[string]string `json:"contents"`
	BigPicture            string            `json:"big_picture,omitempty"`
	IOSAttachments        map[string]string `json:"ios_attachments,omitempty"`
	Data                  map[string]string `json:"data,omitempty"`
}

type oneSignalResponse struct {
	ID     string `json:"id"`
	Errors any    `json:"errors"`
}

func (o *OneSignal) Send(ctx context.Context, m Message) (*Result, error) {
	body := oneSignalRequest{
		AppID:                 o.appID,
		IncludeExternalUserID: []string{m.TargetPlayerID},
		Headings:              map[string]string{"en": m.Title, "fr": m.Title},
		Contents:              map[string]string{"en": m.Body, "fr": m.Body},
		Data:                  maps.Clone(m.Data),
	}
	if m.ImageURL != "" {
		body.BigPicture = m.ImageURL
		body.IOSAttachments = map[string]string{"photo": m.ImageURL}
	}
	if m.Type != "" {
		if body.Data == nil {
			body.Data = map[string]string{}
		}
		body.Data["type"] = m.Type
	}

	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("onesignal: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url+"/api/v1/notifications", bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("onesignal: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Basic "+o.apiKey)

	resp, err := o.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("onesignal: send: %w", err)
	}
	defer resp.Body.Close()

	rb, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("onesignal: read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("onesignal: status %d: %s", resp.StatusCode, rb)
	}

	var r oneSignalResponse
	if err := json.Unmarshal(rb, &r); err != nil {
		return nil, fmt.Errorf("onesignal: decode response: %w", err)
	}

	// OneSignal answers 200 without an id when no device matches.
	if r.ID == "" {
		return &Result{Reason: "no subscribed device"}, nil
	}

	return &Result{Sent: true, ID: r.ID}, nil
}
