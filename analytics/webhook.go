package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/flow-hydraulics/credential-vault/users"
)

// WebhookSink posts every event as JSON to a URL.
type WebhookSink struct {
	url    *url.URL
	client *http.Client
}

func NewWebhookSink(rawURL string, timeout time.Duration) (*WebhookSink, error) {
	u, err := url.ParseRequestURI(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid analytics webhook url: %w", err)
	}
	return &WebhookSink{url: u, client: &http.Client{Timeout: timeout}}, nil
}

func (w *WebhookSink) TrackConnected(ctx context.Context, u *users.User, s users.Service) error {
	return w.send(ctx, newEvent(EventConnected, u, s))
}

func (w *WebhookSink) TrackDisconnected(ctx context.Context, u *users.User, s users.Service) error {
	return w.send(ctx, newEvent(EventDisconnected, u, s))
}

func (w *WebhookSink) send(ctx context.Context, e Event) error {
	content, err := json.Marshal(e)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url.String(), bytes.NewBuffer(content))
	if err != nil {
		return fmt.Errorf("error while creating webhook request: %w", err)
	}

	req.Header.Add("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("error while sending webhook request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("webhook endpoint responded with an unexpected status code: %d", resp.StatusCode)
	}

	return nil
}
