// Package shell implements an interactive shell over a remote sandbox
// session: command execution with captured output, command history, file
// helpers, and running source code through temporary files.
package shell

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"mvdan.cc/sh/v3/syntax"

	"github.com/bossm747/agentboyong/pkg/debug"
	"github.com/bossm747/agentboyong/pkg/history"
	"github.com/bossm747/agentboyong/pkg/sandbox"
)

// DefaultWorkingDirectory is returned by WorkingDirectory when pwd fails.
const DefaultWorkingDirectory = "/tmp"

// HistoryEntry is one command sent through the shell.
type HistoryEntry struct {
	Command   string
	Timestamp time.Time
}

// Shell is one logical shell bound to its own remote session. Commands on
// one shell are strictly ordered; a Shell serializes its own calls.
type Shell struct {
	session  *sandbox.Session
	index    int
	agentID  string
	userID   int
	recorder history.Recorder
	timeout  time.Duration
	tempDir  string
	prefix   string
	seq      atomic.Uint64

	mu        sync.Mutex
	connected bool
	history   []HistoryEntry
	last      *sandbox.CommandResult
}

// Option configures a Shell.
type Option func(*Shell)

// WithIndex sets the registry index the shell is known by.
func WithIndex(i int) Option { return func(s *Shell) { s.index = i } }

// WithAgent tags recorded history with the owning agent.
func WithAgent(id string) Option { return func(s *Shell) { s.agentID = id } }

// WithUserID sets the owner identity the session is opened with.
func WithUserID(id int) Option { return func(s *Shell) { s.userID = id } }

// WithRecorder persists every sent command to r.
func WithRecorder(r history.Recorder) Option { return func(s *Shell) { s.recorder = r } }

// WithCommandTimeout bounds each command.
func WithCommandTimeout(d time.Duration) Option { return func(s *Shell) { s.timeout = d } }

// WithTempFiles sets where code files are written and their name prefix.
func WithTempFiles(dir, prefix string) Option {
	return func(s *Shell) {
		if dir != "" {
			s.tempDir = dir
		}
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// New returns a disconnected shell talking to client. Opening its session
// never retries; recovery is the caller's job.
func New(client *sandbox.Client, opts ...Option) *Shell {
	s := &Shell{
		userID:   sandbox.DefaultUserID,
		recorder: history.Discard,
		timeout:  sandbox.DefaultCommandTimeout,
		tempDir:  "/tmp",
		prefix:   "boyong_",
	}
	for _, opt := range opts {
		opt(s)
	}
	s.session = sandbox.NewSession(client, sandbox.WithUserID(s.userID), sandbox.WithOpenRetry(0))
	return s
}

// Index returns the registry index.
func (s *Shell) Index() int { return s.index }

// SessionID returns the remote session id, or "" when disconnected.
func (s *Shell) SessionID() sandbox.SessionID { return s.session.ID() }

// Connected reports whether Connect succeeded and Close has not run.
func (s *Shell) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Connect opens the shell's own remote session. On failure the shell stays
// disconnected.
func (s *Shell) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return nil
	}
	if err := s.session.Open(ctx); err != nil {
		return fmt.Errorf("connect shell %d: %w", s.index, err)
	}
	s.connected = true
	debug.Log("shell", "connected", "index", s.index, "session_id", s.session.ID().String())
	return nil
}

// Close ends the remote session. It never fails.
func (s *Shell) Close(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session.Close(ctx)
	s.connected = false
	debug.Log("shell", "closed", "index", s.index)
}

// SendCommand runs text and stores its raw result for ReadOutput. It fails
// with sandbox.ErrNotConnected, without touching the network, before
// Connect.
func (s *Shell) SendCommand(ctx context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.send(ctx, text)
}

func (s *Shell) send(ctx context.Context, text string) error {
	if !s.connected {
		return &sandbox.ExecutionError{Op: "send command", Err: sandbox.ErrNotConnected}
	}

	now := time.Now()
	s.history = append(s.history, HistoryEntry{Command: text, Timestamp: now})
	s.record(ctx, text, now)

	res, err := s.session.RunCommand(ctx, text, s.timeout)
	if err != nil {
		return err
	}
	s.last = res
	debug.Log("shell", "command done", "index", s.index,
		"stdout_bytes", len(res.Stdout), "stderr_bytes", len(res.Stderr))
	return nil
}

func (s *Shell) record(ctx context.Context, text string, at time.Time) {
	err := s.recorder.Append(ctx, history.Entry{
		AgentID:    s.agentID,
		ShellIndex: s.index,
		SessionID:  s.session.ID().String(),
		Command:    text,
		ExecutedAt: at,
	})
	if err != nil {
		slog.Warn("recording command history failed", "index", s.index, "error", err.Error())
	}
}

// ReadOutput returns the last result's stdout followed by its stderr. The
// two are joined by a newline only when stdout is non-empty. Before any
// command it returns "".
func (s *Shell) ReadOutput() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return combine(s.last)
}

// ReadAnyOutput is ReadOutput; results are never partial.
func (s *Shell) ReadAnyOutput() string { return s.ReadOutput() }

func combine(r *sandbox.CommandResult) string {
	if r == nil {
		return ""
	}
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// LastResult returns a copy of the last raw result, or nil.
func (s *Shell) LastResult() *sandbox.CommandResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil
	}
	cp := *s.last
	return &cp
}

// History returns a copy of the commands sent so far.
func (s *Shell) History() []HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]HistoryEntry(nil), s.history...)
}

// WorkingDirectory runs pwd. On failure it returns DefaultWorkingDirectory
// together with the error, so callers wanting a best-effort value can
// ignore the error.
func (s *Shell) WorkingDirectory(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.send(ctx, "pwd"); err != nil {
		return DefaultWorkingDirectory, err
	}
	dir := strings.TrimSpace(s.last.Stdout)
	if dir == "" {
		return DefaultWorkingDirectory, errors.New("pwd produced no output")
	}
	return dir, nil
}

// ChangeDirectory runs cd path.
func (s *Shell) ChangeDirectory(ctx context.Context, path string) error {
	q, err := quote(path)
	if err != nil {
		return err
	}
	return s.SendCommand(ctx, "cd "+q)
}

// ListFiles runs ls -la path and returns its output.
func (s *Shell) ListFiles(ctx context.Context, path string) (string, error) {
	q, err := quote(path)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.send(ctx, "ls -la "+q); err != nil {
		return "", err
	}
	return combine(s.last), nil
}

// ReadFileContent reads path through the session file API. On failure it
// returns "" and the error.
func (s *Shell) ReadFileContent(ctx context.Context, path string) (string, error) {
	if !s.Connected() {
		return "", &sandbox.ExecutionError{Op: "read file", Err: sandbox.ErrNotConnected}
	}
	return s.session.ReadFile(ctx, path)
}

// WriteFileContent writes content to path as text/plain.
func (s *Shell) WriteFileContent(ctx context.Context, path, content string) error {
	if !s.Connected() {
		return &sandbox.ExecutionError{Op: "write file", Err: sandbox.ErrNotConnected}
	}
	return s.session.WriteFile(ctx, path, content, "text/plain")
}

// Files returns the file tree of the shell's session.
func (s *Shell) Files(ctx context.Context) (sandbox.FileTree, error) {
	if !s.Connected() {
		return nil, &sandbox.ExecutionError{Op: "list files", Err: sandbox.ErrNotConnected}
	}
	return s.session.ListFiles(ctx)
}

func quote(s string) (string, error) {
	q, err := syntax.Quote(s, syntax.LangBash)
	if err != nil {
		return "", fmt.Errorf("quote %q: %w", s, err)
	}
	return q, nil
}
