// Package backend is the HTTP client for the drift engine. The engine's API
// is consumed as an opaque contract: a health endpoint, a workspace
// initialize call, a fire-and-forget event forward, and a dashboard fetch.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const (
	initializePath = "/api/workspace/initialize"
	eventPath      = "/api/events/file-change"
	dashboardPath  = "/api/dashboard/"
)

// Client talks to a drift engine at baseURL (e.g. http://127.0.0.1:7779).
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

// New creates a drift engine client. A zero Timeout defaults to 10s.
func New(config Config) *Client {
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

// BaseURL reports the engine address this client is bound to.
func (c *Client) BaseURL() string { return c.baseURL }

// InitializeRequest is the body of the workspace initialize call.
type InitializeRequest struct {
	WorkspacePath string `json:"workspace_path"`
}

// InitializeResponse describes the indexing steps the engine intends to run.
// Best-effort: callers log and continue on failure.
type InitializeResponse struct {
	Steps []string `json:"steps"`
}

// Initialize registers the workspace with the engine. Failure is expected
// while the engine is still starting; callers treat it as non-fatal.
func (c *Client) Initialize(ctx context.Context, workspacePath string) (*InitializeResponse, error) {
	var out InitializeResponse
	if err := c.postJSON(ctx, initializePath, InitializeRequest{WorkspacePath: workspacePath}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EventNotice is the fire-and-forget change notification body.
type EventNotice struct {
	FilePath      string `json:"file_path"`
	WorkspacePath string `json:"workspace_path"`
	ChangeType    string `json:"change_type"`
	GitBranch     string `json:"git_branch"`
}

// ForwardEvent pushes one change notice to the engine. The response body is
// ignored; only transport errors are returned so the caller can swallow them.
func (c *Client) ForwardEvent(ctx context.Context, n EventNotice) error {
	return c.postJSON(ctx, eventPath, n, nil)
}

// Dashboard fetches the aggregated snapshot for a workspace. Non-200 or a
// parse failure returns an error and no snapshot, so a stale-but-good cache
// is never overwritten by a partial read.
func (c *Client) Dashboard(ctx context.Context, workspacePath string) (*Snapshot, error) {
	u := c.baseURL + dashboardPath + url.PathEscape(workspacePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("dashboard fetch: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, fmt.Errorf("dashboard fetch: decode: %w", err)
	}
	return &snap, nil
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %d", path, resp.StatusCode)
	}
	if out == nil {
		// drain so the connection can be reused
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
