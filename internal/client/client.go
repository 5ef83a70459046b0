// Package client is the Go client for the overseer daemon API, used by
// the CLI commands and the watch TUI.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/overseer-cli/overseer/internal/broadcast"
	"github.com/overseer-cli/overseer/internal/session"
	"github.com/overseer-cli/overseer/internal/settings"
	"github.com/overseer-cli/overseer/internal/store"
	"github.com/overseer-cli/overseer/internal/task"
)

// APIError is a non-2xx response decoded into the server's error shape.
type APIError struct {
	Code   int
	Reason string `json:"reason"`
	Msg    string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s", e.Reason, e.Msg)
	}
	return fmt.Sprintf("http %d: %s", e.Code, e.Msg)
}

// Client talks to one daemon.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the daemon at baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Code: resp.StatusCode}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if err := json.Unmarshal(data, apiErr); err != nil || apiErr.Msg == "" {
			apiErr.Msg = strings.TrimSpace(string(data))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Health reports whether the daemon answers.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// CreateTaskRequest mirrors the create endpoint's body.
type CreateTaskRequest struct {
	Title       string `json:"title,omitempty"`
	ProjectDir  string `json:"project_dir"`
	DocPath     string `json:"doc_path"`
	CLIType     string `json:"cli_type,omitempty"`
	Review      string `json:"review,omitempty"`
	CallbackURL string `json:"callback_url,omitempty"`
}

func (c *Client) CreateTask(ctx context.Context, req CreateTaskRequest) (*task.Task, error) {
	var t task.Task
	if err := c.do(ctx, http.MethodPost, "/api/tasks", req, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) ListTasks(ctx context.Context) ([]*task.Task, error) {
	var body struct {
		Tasks []*task.Task `json:"tasks"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/tasks", nil, &body); err != nil {
		return nil, err
	}
	return body.Tasks, nil
}

func (c *Client) GetTask(ctx context.Context, id string) (*task.Task, error) {
	var t task.Task
	if err := c.do(ctx, http.MethodGet, "/api/tasks/"+url.PathEscape(id), nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/tasks/"+url.PathEscape(id), nil, nil)
}

func (c *Client) StartTask(ctx context.Context, id string) (session.StartResult, error) {
	var res session.StartResult
	err := c.do(ctx, http.MethodPost, "/api/tasks/"+url.PathEscape(id)+"/start", nil, &res)
	return res, err
}

func (c *Client) StopTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/tasks/"+url.PathEscape(id)+"/stop", nil, nil)
}

func (c *Client) PauseTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/tasks/"+url.PathEscape(id)+"/pause", nil, nil)
}

func (c *Client) RestartTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/tasks/"+url.PathEscape(id)+"/restart", nil, nil)
}

func (c *Client) StopAll(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/sessions/stop-all", nil, nil)
}

func (c *Client) Sessions(ctx context.Context) (session.Snapshot, error) {
	var snap session.Snapshot
	err := c.do(ctx, http.MethodGet, "/api/sessions", nil, &snap)
	return snap, err
}

func (c *Client) TaskLogs(ctx context.Context, id string, limit int) ([]store.LogEntry, error) {
	var body struct {
		Logs []store.LogEntry `json:"logs"`
	}
	path := fmt.Sprintf("/api/tasks/%s/logs?limit=%d", url.PathEscape(id), limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &body); err != nil {
		return nil, err
	}
	return body.Logs, nil
}

func (c *Client) Settings(ctx context.Context) (settings.Snapshot, error) {
	var snap settings.Snapshot
	err := c.do(ctx, http.MethodGet, "/api/settings", nil, &snap)
	return snap, err
}

func (c *Client) UpdateSettings(ctx context.Context, patch map[string]any) (settings.Snapshot, error) {
	var snap settings.Snapshot
	err := c.do(ctx, http.MethodPut, "/api/settings", patch, &snap)
	return snap, err
}

// WatchEvents opens the websocket feed and streams events until the
// context is cancelled or the daemon goes away, then closes the
// channel.
func (c *Client) WatchEvents(ctx context.Context) (<-chan broadcast.Event, error) {
	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting event feed: %w", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	ch := make(chan broadcast.Event, broadcast.DefaultQueueSize)
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go func() {
		defer close(ch)
		defer conn.Close()
		for {
			var ev broadcast.Event
			if err := conn.ReadJSON(&ev); err != nil {
				return
			}
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}
