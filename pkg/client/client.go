// Package client provides a Go SDK for the agentorch HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/ankittk/agentorch/pkg/models"
)

// Client calls the agentorch HTTP API. It is safe for concurrent use.
type Client struct {
	BaseURL    string       // e.g. "http://localhost:3548"
	APIKey     string       // optional; sent as X-API-Key
	HTTPClient *http.Client // optional; nil uses http.DefaultClient
}

// New returns a client for the given base URL (e.g. "http://localhost:3548").
func New(baseURL, apiKey string) *Client {
	return &Client{BaseURL: baseURL, APIKey: apiKey}
}

// APIError is a non-2xx response.
type APIError struct {
	Method  string
	Path    string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api %s %s: %s", e.Method, e.Path, e.Message)
	}
	return fmt.Sprintf("api %s %s: status %d", e.Method, e.Path, e.Status)
}

func (c *Client) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}
	return c.client().Do(req)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return &APIError{Method: method, Path: path, Status: resp.StatusCode, Message: errBody.Error}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Health returns the /health response (ok: true).
func (c *Client) Health(ctx context.Context) (ok bool, err error) {
	var out struct {
		OK bool `json:"ok"`
	}
	err = c.doJSON(ctx, http.MethodGet, "/health", nil, &out)
	return out.OK, err
}

// Spawn runs one worker and waits for its result. A worker failure is a
// result with Success false, not an error.
func (c *Client) Spawn(ctx context.Context, req models.SpawnRequest) (*models.Result, error) {
	req.Async = false
	var out models.Result
	err := c.doJSON(ctx, http.MethodPost, "/runs", req, &out)
	return &out, err
}

// SpawnAsync starts a worker and returns once it is accepted.
func (c *Client) SpawnAsync(ctx context.Context, req models.SpawnRequest) (*models.SpawnAccepted, error) {
	req.Async = true
	var out models.SpawnAccepted
	err := c.doJSON(ctx, http.MethodPost, "/runs", req, &out)
	return &out, err
}

// SpawnBatch runs workers concurrently; results are in request order.
func (c *Client) SpawnBatch(ctx context.Context, reqs []models.SpawnRequest) ([]models.Result, error) {
	var out models.BatchSpawnResponse
	err := c.doJSON(ctx, http.MethodPost, "/runs/batch", models.BatchSpawnRequest{Runs: reqs}, &out)
	return out.Results, err
}

// GetRun returns one run by id.
func (c *Client) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	var out models.Run
	err := c.doJSON(ctx, http.MethodGet, "/runs/"+url.PathEscape(runID), nil, &out)
	return &out, err
}

// ListRuns returns recent runs, newest first. Empty filters are ignored.
func (c *Client) ListRuns(ctx context.Context, agentType, status string, limit int) ([]models.Run, error) {
	q := url.Values{}
	if agentType != "" {
		q.Set("agent_type", agentType)
	}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out []models.Run
	err := c.doJSON(ctx, http.MethodGet, withQuery("/runs", q), nil, &out)
	return out, err
}

// Stats returns per-type aggregates over the last days days.
func (c *Client) Stats(ctx context.Context, days int) ([]models.RunStats, error) {
	q := url.Values{"days": {strconv.Itoa(days)}}
	var out []models.RunStats
	err := c.doJSON(ctx, http.MethodGet, withQuery("/runs/stats", q), nil, &out)
	return out, err
}

// SearchCatalog returns worker types matching query at the given detail
// level ("name", "summary" or "full").
func (c *Client) SearchCatalog(ctx context.Context, query, detail string) ([]map[string]any, error) {
	q := url.Values{}
	if query != "" {
		q.Set("q", query)
	}
	if detail != "" {
		q.Set("detail", detail)
	}
	var out []map[string]any
	err := c.doJSON(ctx, http.MethodGet, withQuery("/catalog", q), nil, &out)
	return out, err
}

// ListTypes returns a summary of every worker type.
func (c *Client) ListTypes(ctx context.Context) ([]map[string]any, error) {
	var out []map[string]any
	err := c.doJSON(ctx, http.MethodGet, "/catalog/types", nil, &out)
	return out, err
}

// Recommend returns the best worker type for task.
func (c *Client) Recommend(ctx context.Context, task string) (map[string]any, error) {
	var out map[string]any
	err := c.doJSON(ctx, http.MethodGet, withQuery("/catalog/recommend", url.Values{"task": {task}}), nil, &out)
	return out, err
}

// ReloadCatalog asks the server to re-read its catalog file.
func (c *Client) ReloadCatalog(ctx context.Context) ([]string, error) {
	var out models.CatalogReloaded
	err := c.doJSON(ctx, http.MethodPost, "/catalog/reload", nil, &out)
	return out.Types, err
}

// SendMessage stores a message and returns its id.
func (c *Client) SendMessage(ctx context.Context, req models.SendMessageRequest) (string, error) {
	var out models.MessageAccepted
	err := c.doJSON(ctx, http.MethodPost, "/messages", req, &out)
	return out.MessageID, err
}

// GetMessage returns one message by id.
func (c *Client) GetMessage(ctx context.Context, messageID string) (*models.Message, error) {
	var out models.Message
	err := c.doJSON(ctx, http.MethodGet, "/messages/"+url.PathEscape(messageID), nil, &out)
	return &out, err
}

// MarkRead marks a message read.
func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	return c.doJSON(ctx, http.MethodPost, "/messages/"+url.PathEscape(messageID)+"/read", nil, nil)
}

// Acknowledge marks a message handled.
func (c *Client) Acknowledge(ctx context.Context, messageID string) error {
	return c.doJSON(ctx, http.MethodPost, "/messages/"+url.PathEscape(messageID)+"/ack", nil, nil)
}

// Reply answers a message; the reply goes to the original sender run.
func (c *Client) Reply(ctx context.Context, messageID, fromRunID, body string) (string, error) {
	var out models.MessageAccepted
	err := c.doJSON(ctx, http.MethodPost, "/messages/"+url.PathEscape(messageID)+"/reply",
		models.ReplyRequest{FromRunID: fromRunID, Body: body}, &out)
	return out.MessageID, err
}

// InboxOptions selects messages for CheckInbox.
type InboxOptions struct {
	RunID             string
	Group             string
	ExcludeBroadcasts bool
	IncludeRead       bool
	Limit             int
}

// CheckInbox returns matching messages oldest first without changing them.
func (c *Client) CheckInbox(ctx context.Context, opts InboxOptions) ([]models.Message, error) {
	q := url.Values{}
	if opts.RunID != "" {
		q.Set("run_id", opts.RunID)
	}
	if opts.Group != "" {
		q.Set("group", opts.Group)
	}
	if opts.ExcludeBroadcasts {
		q.Set("include_broadcasts", "false")
	}
	if opts.IncludeRead {
		q.Set("include_read", "true")
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	var out []models.Message
	err := c.doJSON(ctx, http.MethodGet, withQuery("/inbox", q), nil, &out)
	return out, err
}

func withQuery(path string, q url.Values) string {
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}
