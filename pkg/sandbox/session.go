package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/bossm747/agentboyong/pkg/debug"
	"github.com/bossm747/agentboyong/pkg/observability"
)

const (
	// DefaultOpenRetryInterval is the wait between session open attempts
	// while the service refuses connections.
	DefaultOpenRetryInterval = 5 * time.Second

	// DefaultCommandTimeout bounds a single command when the caller passes 0.
	DefaultCommandTimeout = 30 * time.Second
)

// Session owns a single remote session identifier.
type Session struct {
	client        *Client
	userID        int
	retryInterval time.Duration

	mu sync.Mutex
	id SessionID
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithUserID sets the owner identity sent on open.
func WithUserID(id int) SessionOption {
	return func(s *Session) { s.userID = id }
}

// WithOpenRetry sets the wait between open attempts on connection refusal.
// Zero disables the retry loop: Open fails on the first refusal.
func WithOpenRetry(d time.Duration) SessionOption {
	return func(s *Session) { s.retryInterval = d }
}

// NewSession returns an unopened session bound to client.
func NewSession(client *Client, opts ...SessionOption) *Session {
	s := &Session{
		client:        client,
		userID:        DefaultUserID,
		retryInterval: DefaultOpenRetryInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the held session identifier, or "" when none is held.
func (s *Session) ID() SessionID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Ready reports whether a session identifier is held.
func (s *Session) Ready() bool { return s.ID() != "" }

// Client returns the underlying REST client.
func (s *Session) Client() *Client { return s.client }

// Open creates the remote session. While the service refuses connections
// Open waits and retries until ctx is done; any other failure is returned
// immediately.
func (s *Session) Open(ctx context.Context) error {
	create := func() (SessionID, error) {
		id, err := s.client.CreateSession(ctx, s.userID)
		if err == nil {
			return id, nil
		}
		if s.retryInterval <= 0 || !IsConnectionRefused(err) || isContextError(err) {
			return "", backoff.Permanent(err)
		}
		return "", err
	}
	notify := func(err error, wait time.Duration) {
		slog.Warn("sandbox service refused the connection, make sure it is running",
			"url", s.client.BaseURL(), "retry_in", wait)
		slog.Error("sandbox session open failed", "error", err.Error())
	}

	interval := s.retryInterval
	if interval <= 0 {
		interval = time.Millisecond
	}
	b := backoff.WithContext(backoff.NewConstantBackOff(interval), ctx)

	id, err := backoff.RetryNotifyWithData(create, b, notify)
	if err != nil {
		return &ExecutionError{Op: "open session", Err: err}
	}

	s.mu.Lock()
	s.id = id
	s.mu.Unlock()
	observability.SandboxSessionsActive.Inc()
	slog.Info("sandbox session opened", "session_id", id.String(), "url", s.client.BaseURL())
	return nil
}

// Close ends the remote session if one is held. Failures are logged and
// never returned; the identifier is cleared either way.
func (s *Session) Close(ctx context.Context) {
	s.mu.Lock()
	id := s.id
	s.id = ""
	s.mu.Unlock()
	if id == "" {
		return
	}

	observability.SandboxSessionsActive.Dec()
	if err := s.client.EndSession(ctx, id); err != nil {
		slog.Warn("sandbox session end failed", "session_id", id.String(), "error", err.Error())
		return
	}
	debug.Log("sandbox", "session ended", "session_id", id.String())
}

// RunCommand executes text in the session. timeout <= 0 uses
// DefaultCommandTimeout.
func (s *Session) RunCommand(ctx context.Context, text string, timeout time.Duration) (*CommandResult, error) {
	id, err := s.require("execute")
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	debug.Log("sandbox", "run command", "session_id", id.String(), "command", debug.Truncate(text, 200))
	res, err := s.client.Execute(ctx, id, text)
	if err != nil {
		return nil, &ExecutionError{Op: "execute", SessionID: id, Err: err}
	}
	return res, nil
}

// ReadFile returns the content of path.
func (s *Session) ReadFile(ctx context.Context, path string) (string, error) {
	id, err := s.require("read file")
	if err != nil {
		return "", err
	}
	content, err := s.client.ReadFile(ctx, id, path)
	if err != nil {
		return "", &ExecutionError{Op: fmt.Sprintf("read file %s", path), SessionID: id, Err: err}
	}
	return content, nil
}

// WriteFile writes content to path with the given MIME type.
func (s *Session) WriteFile(ctx context.Context, path, content, mimeType string) error {
	id, err := s.require("write file")
	if err != nil {
		return err
	}
	if err := s.client.WriteFile(ctx, id, path, content, mimeType); err != nil {
		return &ExecutionError{Op: fmt.Sprintf("write file %s", path), SessionID: id, Err: err}
	}
	return nil
}

// DeleteFile removes path.
func (s *Session) DeleteFile(ctx context.Context, path string) error {
	id, err := s.require("delete file")
	if err != nil {
		return err
	}
	if err := s.client.DeleteFile(ctx, id, path); err != nil {
		return &ExecutionError{Op: fmt.Sprintf("delete file %s", path), SessionID: id, Err: err}
	}
	return nil
}

// ListFiles returns the session's file tree.
func (s *Session) ListFiles(ctx context.Context) (FileTree, error) {
	id, err := s.require("list files")
	if err != nil {
		return nil, err
	}
	tree, err := s.client.ListFiles(ctx, id)
	if err != nil {
		return nil, &ExecutionError{Op: "list files", SessionID: id, Err: err}
	}
	return tree, nil
}

func (s *Session) require(op string) (SessionID, error) {
	id := s.ID()
	if id == "" {
		return "", &ExecutionError{Op: op, Err: ErrNotConnected}
	}
	return id, nil
}
