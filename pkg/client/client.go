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
)

// Client talks to a running engine's internal/adminapi HTTP surface.
type Client struct {
	baseURL string
	opts    *options
	ws      *WebSocketClient
}

// New creates a Client pointed at baseURL (e.g. "http://localhost:8080").
func New(baseURL string, opts ...Option) (*Client, error) {
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	return &Client{baseURL: baseURL, opts: o}, nil
}

// Task is a registered controller's snapshot, mirroring the admin API's
// task response shape.
type Task struct {
	Name    string `json:"name"`
	Cid     int64  `json:"cid"`
	State   string `json:"state"`
	Enabled bool   `json:"enabled"`
}

// HealthStatus is the engine's health response.
type HealthStatus struct {
	Status string `json:"status"`
	Tasks  int    `json:"tasks"`
}

// Health checks GET /admin/health.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	var out HealthStatus
	if err := c.do(ctx, http.MethodGet, "/admin/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListTasks calls GET /admin/tasks.
func (c *Client) ListTasks(ctx context.Context) ([]Task, error) {
	var out struct {
		Tasks []Task `json:"tasks"`
		Count int    `json:"count"`
	}
	if err := c.do(ctx, http.MethodGet, "/admin/tasks", nil, &out); err != nil {
		return nil, err
	}
	return out.Tasks, nil
}

// GetTask calls GET /admin/tasks/{name}.
func (c *Client) GetTask(ctx context.Context, name string) (*Task, error) {
	var out Task
	if err := c.do(ctx, http.MethodGet, "/admin/tasks/"+url.PathEscape(name), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PauseTask calls POST /admin/tasks/{name}/pause.
func (c *Client) PauseTask(ctx context.Context, name string, interrupt bool) error {
	body := map[string]bool{"interrupt": interrupt}
	return c.do(ctx, http.MethodPost, "/admin/tasks/"+url.PathEscape(name)+"/pause", body, nil)
}

// ResumeTask calls POST /admin/tasks/{name}/resume.
func (c *Client) ResumeTask(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, "/admin/tasks/"+url.PathEscape(name)+"/resume", nil, nil)
}

// StopTask calls POST /admin/tasks/{name}/stop.
func (c *Client) StopTask(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, "/admin/tasks/"+url.PathEscape(name)+"/stop", nil, nil)
}

// RestartTask calls POST /admin/tasks/{name}/restart.
func (c *Client) RestartTask(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, "/admin/tasks/"+url.PathEscape(name)+"/restart", nil, nil)
}

// EnableTask calls POST /admin/tasks/{name}/enable.
func (c *Client) EnableTask(ctx context.Context, name string, enabled bool) error {
	body := map[string]bool{"enabled": enabled}
	return c.do(ctx, http.MethodPost, "/admin/tasks/"+url.PathEscape(name)+"/enable", body, nil)
}

// StartEngine calls POST /admin/engine/start.
func (c *Client) StartEngine(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/admin/engine/start", nil, nil)
}

// StopEngine calls POST /admin/engine/stop.
func (c *Client) StopEngine(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/admin/engine/stop", nil, nil)
}

// PauseEngine calls POST /admin/engine/pause.
func (c *Client) PauseEngine(ctx context.Context, interrupt bool) error {
	body := map[string]bool{"interrupt": interrupt}
	return c.do(ctx, http.MethodPost, "/admin/engine/pause", body, nil)
}

// ResumeEngine calls POST /admin/engine/resume.
func (c *Client) ResumeEngine(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/admin/engine/resume", nil, nil)
}

// ConnectWebSocket establishes a WebSocket connection for real-time events.
func (c *Client) ConnectWebSocket(ctx context.Context) error {
	if c.ws != nil && c.ws.IsConnected() {
		return nil
	}
	c.ws = newWebSocketClient(c.baseURL, c.opts.apiKey)
	return c.ws.Connect(ctx)
}

// Events returns a channel that receives WebSocket events. Requires a
// prior call to ConnectWebSocket.
func (c *Client) Events() <-chan *Event {
	if c.ws == nil {
		ch := make(chan *Event)
		close(ch)
		return ch
	}
	return c.ws.Events()
}

// CloseWebSocket closes the WebSocket connection.
func (c *Client) CloseWebSocket() error {
	if c.ws == nil {
		return nil
	}
	return c.ws.Close()
}

// SubscribeEvents subscribes to specific event types over an already
// connected WebSocket.
func (c *Client) SubscribeEvents(eventTypes ...EventType) error {
	if c.ws == nil {
		return fmt.Errorf("websocket not connected")
	}
	return c.ws.Subscribe(eventTypes...)
}

// do issues a JSON request against the admin API and decodes the
// response body into out, if non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.opts.applyHeaders(req)

	resp, err := c.opts.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var errBody struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		msg := errBody.Message
		if msg == "" {
			msg = errBody.Error
		}
		return fmt.Errorf("%s %s: %s (%d)", method, path, msg, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
