// Package notify delivers task status callbacks to external URLs.
// Deliveries are fire-and-forget from the orchestrator's view but
// retried with exponential backoff before being dropped.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/hashicorp/go-hclog"
)

const (
	requestTimeout = 10 * time.Second
	maxTries       = 4
)

// Payload is the JSON body posted to a callback URL.
type Payload struct {
	TaskID    string    `json:"task_id"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier posts status payloads with retries.
type Notifier struct {
	client *http.Client
	logger hclog.Logger
}

// New creates a notifier.
func New(logger hclog.Logger) *Notifier {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Notifier{
		client: &http.Client{Timeout: requestTimeout},
		logger: logger.Named("notify"),
	}
}

// Send posts the payload to url, retrying transient failures.
// 4xx responses other than 429 are permanent and not retried.
func (n *Notifier) Send(ctx context.Context, url string, p Payload) error {
	if url == "" {
		return nil
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now().UTC()
	}
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding callback payload: %w", err)
	}

	attempt := 0
	operation := func() (struct{}, error) {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return struct{}{}, backoff.Permanent(fmt.Errorf("building callback request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.client.Do(req)
		if err != nil {
			n.logger.Debug("callback attempt failed", "url", url, "attempt", attempt, "error", err)
			return struct{}{}, err
		}
		defer func() {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}()

		switch {
		case resp.StatusCode < 300:
			return struct{}{}, nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return struct{}{}, fmt.Errorf("callback returned %s", resp.Status)
		default:
			return struct{}{}, backoff.Permanent(fmt.Errorf("callback rejected: %s", resp.Status))
		}
	}

	_, err = backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(maxTries),
	)
	if err != nil {
		n.logger.Warn("callback delivery failed", "url", url, "task", p.TaskID, "status", p.Status, "error", err)
		return fmt.Errorf("delivering callback: %w", err)
	}
	n.logger.Debug("callback delivered", "url", url, "task", p.TaskID, "status", p.Status)
	return nil
}

// SendAsync fires Send on its own goroutine, logging failures.
func (n *Notifier) SendAsync(url string, p Payload) {
	if url == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		_ = n.Send(ctx, url, p)
	}()
}
