// Package client provides HTTP client functionality to communicate with a
// running driftwatch daemon's control API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/driftwatch/driftwatch/internal/backend"
	"github.com/driftwatch/driftwatch/internal/runtime"
	"github.com/driftwatch/driftwatch/internal/supervisor"
)

// Client talks to the driftwatch daemon control API.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger
}

// DefaultConfig returns the client configuration for a local daemon.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:7780",
		Timeout: 10 * time.Second,
	}
}

// New creates a control API client.
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultConfig().BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

// IsReachable checks if the daemon is running and reachable.
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/status", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Status combines the supervisor status and runtime stats.
type Status struct {
	Backend supervisor.Status `json:"backend"`
	Runtime runtime.Stats     `json:"runtime"`
}

// Status fetches the daemon's current state.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var out Status
	if err := c.get(ctx, "/api/status", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Logs fetches up to n trailing backend output lines; n <= 0 uses the
// daemon's default tail.
func (c *Client) Logs(ctx context.Context, n int) ([]string, error) {
	path := "/api/logs"
	if n > 0 {
		path += "?n=" + strconv.Itoa(n)
	}
	var out struct {
		Lines []string `json:"lines"`
	}
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Lines, nil
}

// Dashboard fetches the daemon's cached dashboard snapshot.
func (c *Client) Dashboard(ctx context.Context) (*backend.Snapshot, error) {
	var out backend.Snapshot
	if err := c.get(ctx, "/api/dashboard", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Start asks the daemon to start or adopt the backend.
func (c *Client) Start(ctx context.Context) (*supervisor.Status, error) {
	var out supervisor.Status
	if err := c.post(ctx, "/api/start", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Stop asks the daemon to stop or disconnect the backend.
func (c *Client) Stop(ctx context.Context) (*supervisor.Status, error) {
	var out supervisor.Status
	if err := c.post(ctx, "/api/stop", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Restart asks the daemon to restart the backend.
func (c *Client) Restart(ctx context.Context) (*supervisor.Status, error) {
	var out supervisor.Status
	if err := c.post(ctx, "/api/restart", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DetectResult reports whether an external backend was found.
type DetectResult struct {
	External bool              `json:"external"`
	Backend  supervisor.Status `json:"backend"`
}

// Detect asks the daemon to re-check for an externally managed backend.
func (c *Client) Detect(ctx context.Context) (*DetectResult, error) {
	var out DetectResult
	if err := c.post(ctx, "/api/detect", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Refresh forces a dashboard poll and returns the fresh snapshot.
func (c *Client) Refresh(ctx context.Context) (*backend.Snapshot, error) {
	var out backend.Snapshot
	if err := c.post(ctx, "/api/refresh", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// NotifyOpened reports an editor file activation to the daemon.
func (c *Client) NotifyOpened(ctx context.Context, filePath string) error {
	body := map[string]string{"file_path": filePath}
	return c.post(ctx, "/api/opened", body, nil)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return fmt.Errorf("daemon: %s (status %d)", e.Error, resp.StatusCode)
		}
		return fmt.Errorf("daemon: unexpected status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}
