package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bossm747/agentboyong/pkg/debug"
	"github.com/bossm747/agentboyong/pkg/observability"
)

// DefaultBaseURL is where the sandbox service listens unless configured.
const DefaultBaseURL = "http://localhost:5000"

// maxErrorBody caps how much of a failed response body ends up in errors.
const maxErrorBody = 512

// Client calls the sandbox service REST API. It holds no session state.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the overall HTTP timeout. Per-command deadlines come
// from the caller's context.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the service base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// CreateSession asks the service for a new active session owned by userID.
func (c *Client) CreateSession(ctx context.Context, userID int) (SessionID, error) {
	var resp createSessionResponse
	err := c.do(ctx, "session_create", http.MethodPost, "/api/sessions", nil,
		createSessionRequest{Status: StatusActive, UserID: userID}, &resp)
	if err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("sandbox session_create: response carried no session id")
	}
	return resp.ID, nil
}

// EndSession terminates a session.
func (c *Client) EndSession(ctx context.Context, id SessionID) error {
	return c.do(ctx, "session_end", http.MethodPost, "/api/sessions/"+url.PathEscape(id.String())+"/end", nil, nil, nil)
}

// Execute runs a command in the session and returns its raw result.
func (c *Client) Execute(ctx context.Context, id SessionID, command string) (*CommandResult, error) {
	var res CommandResult
	if err := c.do(ctx, "execute", http.MethodPost, "/api/execute/"+url.PathEscape(id.String()), nil,
		executeRequest{Command: command}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ReadFile returns the content of path inside the session.
func (c *Client) ReadFile(ctx context.Context, id SessionID, path string) (string, error) {
	var res fileContentResponse
	if err := c.do(ctx, "file_read", http.MethodGet, c.contentPath(id), url.Values{"path": {path}}, nil, &res); err != nil {
		return "", err
	}
	return res.Content, nil
}

// WriteFile creates or replaces path inside the session.
func (c *Client) WriteFile(ctx context.Context, id SessionID, path, content, mimeType string) error {
	return c.do(ctx, "file_write", http.MethodPost, c.contentPath(id), nil,
		writeFileRequest{Path: path, Content: content, MimeType: mimeType}, nil)
}

// DeleteFile removes path inside the session.
func (c *Client) DeleteFile(ctx context.Context, id SessionID, path string) error {
	return c.do(ctx, "file_delete", http.MethodDelete, c.contentPath(id), nil, deleteFileRequest{Path: path}, nil)
}

// ListFiles returns the session's file tree.
func (c *Client) ListFiles(ctx context.Context, id SessionID) (FileTree, error) {
	var raw json.RawMessage
	if err := c.do(ctx, "file_list", http.MethodGet, "/api/files", url.Values{"sessionId": {id.String()}}, nil, &raw); err != nil {
		return nil, err
	}
	return FileTree(raw), nil
}

func (c *Client) contentPath(id SessionID) string {
	return "/api/files/" + url.PathEscape(id.String()) + "/content"
}

// do performs one JSON round trip. in and out may be nil.
func (c *Client) do(ctx context.Context, endpoint, method, path string, query url.Values, in, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", endpoint, err)
		}
		body = bytes.NewReader(b)
		debug.Trace("sandbox", "request body", "endpoint", endpoint, "body", string(b))
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("create %s request: %w", endpoint, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	debug.Log("sandbox", "request", "method", method, "path", path, "endpoint", endpoint)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		te := &TransportError{Op: endpoint, URL: target, Err: err}
		status := "transport_error"
		if te.ConnectionRefused() {
			status = "refused"
		}
		observability.ObserveSandboxCall(endpoint, status, time.Since(start))
		return te
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	observability.ObserveSandboxCall(endpoint, observability.StatusClass(resp.StatusCode), time.Since(start))
	if err != nil {
		return &TransportError{Op: endpoint, URL: target, Err: fmt.Errorf("read response: %w", err)}
	}

	debug.Log("sandbox", "response", "endpoint", endpoint, "status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())
	debug.Raw("sandbox", string(respBody))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &RemoteStatusError{
			Op:         endpoint,
			StatusCode: resp.StatusCode,
			Body:       debug.Truncate(strings.TrimSpace(string(respBody)), maxErrorBody),
		}
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

// isContextError reports whether err stems from the caller's context.
func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
