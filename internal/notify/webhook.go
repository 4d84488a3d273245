// Package notify reports refresh-token provenance anomalies to an external webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gofrs/uuid/v5"
)

// EventIPChanged is the event name carried in webhook payloads.
const EventIPChanged = "refresh_token_from_new_ip"

// IPChange describes a refresh token presented from a different address than the one it
// was issued to.
type IPChange struct {
	IdentityID uuid.UUID
	NewIP      string
	OldIP      string
	At         time.Time
}

// Notifier delivers IPChange notifications.
type Notifier interface {
	IPChanged(ctx context.Context, c IPChange) error
}

type payload struct {
	IdentityID string `json:"identity_id"`
	NewIP      string `json:"new_ip"`
	OldIP      string `json:"old_ip"`
	Event      string `json:"event"`
	Timestamp  string `json:"timestamp"`
}

// Webhook posts notifications as JSON to a fixed URL.
type Webhook struct {
	client *http.Client
	url    string
}

// NewWebhook constructs a webhook notifier. A nil client uses http.DefaultClient; callers
// bound each call with the context.
func NewWebhook(client *http.Client, url string) *Webhook {
	if client == nil {
		client = http.DefaultClient
	}
	return &Webhook{client: client, url: url}
}

// IPChanged posts c to the webhook URL. Non-2xx responses are errors.
func (w *Webhook) IPChanged(ctx context.Context, c IPChange) error {
	if c.At.IsZero() {
		c.At = time.Now()
	}
	body, err := json.Marshal(payload{
		IdentityID: c.IdentityID.String(),
		NewIP:      c.NewIP,
		OldIP:      c.OldIP,
		Event:      EventIPChanged,
		Timestamp:  c.At.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("encode webhook: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("send webhook: status %d", resp.StatusCode)
	}
	return nil
}
