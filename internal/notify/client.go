package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Event is a notification posted to the operations webhook.
type Event struct {
	Kind    string         `json:"kind"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
	At      time.Time      `json:"at"`
}

// Client posts notifications to an external webhook. With Skip set it logs
// nothing and drops events, which keeps dev environments quiet.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a webhook client.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Health checks the webhook endpoint is reachable.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("webhook unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("webhook unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// Send posts an event. Delivery is best-effort; callers decide whether a
// failure matters.
func (c *Client) Send(ctx context.Context, evt Event) error {
	if c.Skip {
		return nil
	}
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook post failed: status %d", resp.StatusCode)
	}
	return nil
}

// SweepCompleted reports an overdue-fee sweep result.
func (c *Client) SweepCompleted(ctx context.Context, moved int64) error {
	return c.Send(ctx, Event{
		Kind:    "fees.sweep.completed",
		Message: fmt.Sprintf("%d fees moved to overdue", moved),
		Data:    map[string]any{"moved": moved},
	})
}
