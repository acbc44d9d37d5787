// Package notify delivers attendance events to an external webhook, the
// boundary to the application's realtime/dashboard collaborator. Delivery is
// best-effort; attendance correctness never depends on it.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// EventRecorded names a redemption that produced a new attendance row.
const EventRecorded = "attendance.recorded"

// Event is the payload pushed to the webhook.
type Event struct {
	Type       string    `json:"type"`
	RecordID   string    `json:"recordId"`
	StudentID  string    `json:"studentId"`
	CourseID   string    `json:"courseId"`
	SessionID  string    `json:"sessionId"`
	Status     string    `json:"status"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Client posts events to a configured webhook URL. A client with no URL is
// disabled and drops events silently.
type Client struct {
	url        string
	httpClient *http.Client
}

// New creates a webhook client. Pass "" to disable delivery.
func New(url string) *Client {
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Enabled reports whether a webhook URL is configured.
func (c *Client) Enabled() bool {
	return c != nil && c.url != ""
}

// Deliver posts one event. Non-2xx responses are errors so the worker can
// log them.
func (c *Client) Deliver(ctx context.Context, evt Event) error {
	if !c.Enabled() {
		return nil
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}
