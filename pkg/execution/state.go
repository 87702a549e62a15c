// Package execution owns the per-agent execution state: the sandbox manager
// session, the registry of indexed shells, and the retry policy for
// terminal commands. Tool exposes that state to agents as the code
// execution tool.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/bossm747/agentboyong/pkg/debug"
	"github.com/bossm747/agentboyong/pkg/history"
	"github.com/bossm747/agentboyong/pkg/observability"
	"github.com/bossm747/agentboyong/pkg/sandbox"
	"github.com/bossm747/agentboyong/pkg/shell"
)

// ErrNoShell is returned when an operation names an index with no shell.
var ErrNoShell = errors.New("no active shell session")

// ErrInvalidIndex is returned for negative shell indices. It is never retried.
var ErrInvalidIndex = errors.New("invalid session index")

// Config tunes a State.
type Config struct {
	// MaxAttempts is how many times RunTerminal tries a command, resetting
	// the state between attempts (default 2).
	MaxAttempts int

	// CommandTimeout bounds each terminal command (default 30s).
	CommandTimeout time.Duration

	// OpenRetryInterval is the wait between manager session open attempts
	// while the service refuses connections (default 5s).
	OpenRetryInterval time.Duration

	// UserID is the owner identity sessions are opened with (default 1).
	UserID int

	// TempDir and TempPrefix name the files code is written to.
	TempDir    string
	TempPrefix string
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 2
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = sandbox.DefaultCommandTimeout
	}
	if c.UserID <= 0 {
		c.UserID = sandbox.DefaultUserID
	}
	if c.OpenRetryInterval == 0 {
		c.OpenRetryInterval = sandbox.DefaultOpenRetryInterval
	}
	return c
}

// SessionInfo describes one shell. For a missing index only Connected
// (false) is set.
type SessionInfo struct {
	SessionID        string `json:"session_id,omitempty"`
	Connected        bool   `json:"connected"`
	WorkingDirectory string `json:"working_directory,omitempty"`
}

// State is the execution state of one agent. All operations are
// serialized by one mutex.
type State struct {
	client   *sandbox.Client
	agentID  string
	recorder history.Recorder
	cfg      Config

	mu      sync.Mutex
	manager *sandbox.Session
	shells  map[int]*shell.Shell
}

// StateOption configures a State.
type StateOption func(*State)

// WithAgentID tags shells and history with the owning agent.
func WithAgentID(id string) StateOption { return func(s *State) { s.agentID = id } }

// WithRecorder persists every command sent by the state's shells.
func WithRecorder(r history.Recorder) StateOption { return func(s *State) { s.recorder = r } }

// NewState returns an empty state. Nothing is opened until first use.
func NewState(client *sandbox.Client, cfg Config, opts ...StateOption) *State {
	st := &State{
		client:   client,
		recorder: history.Discard,
		cfg:      cfg.withDefaults(),
		shells:   make(map[int]*shell.Shell),
	}
	for _, opt := range opts {
		opt(st)
	}
	return st
}

// AgentID returns the owning agent.
func (st *State) AgentID() string { return st.agentID }

// EnsureState makes sure a manager session is open and shell 0 exists and
// is connected. With reset, the manager is replaced and every shell is
// closed and dropped first.
func (st *State) EnsureState(ctx context.Context, reset bool) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.ensureState(ctx, reset)
}

func (st *State) ensureState(ctx context.Context, reset bool) error {
	if st.manager == nil || reset {
		if st.manager != nil {
			st.manager.Close(ctx)
			st.manager = nil
		}
		if reset {
			st.closeShells(ctx)
		}
		m := sandbox.NewSession(st.client,
			sandbox.WithUserID(st.cfg.UserID),
			sandbox.WithOpenRetry(st.cfg.OpenRetryInterval))
		if err := m.Open(ctx); err != nil {
			return fmt.Errorf("open sandbox manager: %w", err)
		}
		st.manager = m
		debug.Log("execution", "manager ready", "agent", st.agentID, "session_id", m.ID().String(), "reset", reset)
	}
	_, err := st.shell(ctx, 0)
	return err
}

// Shell returns the shell at index, creating and connecting it if absent.
func (st *State) Shell(ctx context.Context, index int) (*shell.Shell, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.shell(ctx, index)
}

// shell registers a new shell only once it connected.
func (st *State) shell(ctx context.Context, index int) (*shell.Shell, error) {
	if index < 0 {
		return nil, fmt.Errorf("%w %d", ErrInvalidIndex, index)
	}
	if sh, ok := st.shells[index]; ok {
		return sh, nil
	}
	sh := shell.New(st.client,
		shell.WithIndex(index),
		shell.WithAgent(st.agentID),
		shell.WithUserID(st.cfg.UserID),
		shell.WithRecorder(st.recorder),
		shell.WithCommandTimeout(st.cfg.CommandTimeout),
		shell.WithTempFiles(st.cfg.TempDir, st.cfg.TempPrefix),
	)
	if err := sh.Connect(ctx); err != nil {
		return nil, err
	}
	st.shells[index] = sh
	debug.Log("execution", "shell created", "agent", st.agentID, "index", index)
	return sh, nil
}

// RunTerminal sends command to the shell at index and returns its output.
// A failed attempt resets the whole state before the next one; after
// MaxAttempts failures the last error is returned. Invalid indices,
// missing-session errors and context cancellation are not retried, and an
// invalid index is rejected before any state is touched.
func (st *State) RunTerminal(ctx context.Context, index int, command string, reset bool) (string, error) {
	if index < 0 {
		return "", fmt.Errorf("terminal command: %w %d", ErrInvalidIndex, index)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if reset {
		if err := st.resetAll(ctx); err != nil {
			return "", err
		}
	}

	var lastErr error
	for attempt := 1; attempt <= st.cfg.MaxAttempts; attempt++ {
		out, err := st.runOnce(ctx, index, command)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if attempt == st.cfg.MaxAttempts || !retryable(ctx, err) {
			break
		}

		slog.Warn("terminal command failed, resetting execution state",
			"agent", st.agentID, "index", index, "attempt", attempt, "error", err.Error())
		observability.TerminalRetriesTotal.Inc()
		if rerr := st.ensureState(ctx, true); rerr != nil {
			return "", fmt.Errorf("terminal command on shell %d: %w", index, errors.Join(err, rerr))
		}
	}
	return "", fmt.Errorf("terminal command on shell %d: %w", index, lastErr)
}

func (st *State) runOnce(ctx context.Context, index int, command string) (string, error) {
	sh, err := st.shell(ctx, index)
	if err != nil {
		return "", err
	}
	if err := sh.SendCommand(ctx, command); err != nil {
		return "", err
	}
	return sh.ReadOutput(), nil
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return !errors.Is(err, sandbox.ErrNotConnected) &&
		!errors.Is(err, ErrInvalidIndex) &&
		!errors.Is(err, context.Canceled)
}

// ExecuteCode runs source on the shell at index, creating it if absent.
func (st *State) ExecuteCode(ctx context.Context, index int, lang shell.Language, source string) (*shell.ExecResult, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	sh, err := st.shell(ctx, index)
	if err != nil {
		return nil, err
	}
	return sh.ExecuteCode(ctx, lang, source)
}

// Output returns the last output of the shell at index.
func (st *State) Output(index int) (string, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	sh, ok := st.shells[index]
	if !ok {
		return "", fmt.Errorf("shell %d: %w", index, ErrNoShell)
	}
	return sh.ReadOutput(), nil
}

// ResetAll closes every shell, ends the manager session and re-creates
// the default state. Close failures are ignored.
func (st *State) ResetAll(ctx context.Context) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.resetAll(ctx)
}

func (st *State) resetAll(ctx context.Context) error {
	st.closeShells(ctx)
	if st.manager != nil {
		st.manager.Close(ctx)
		st.manager = nil
	}
	return st.ensureState(ctx, true)
}

// DescribeSession reports on the shell at index without creating it.
// The working directory comes from running pwd on that shell, so the
// shell's last output afterwards is the pwd output.
func (st *State) DescribeSession(ctx context.Context, index int) SessionInfo {
	st.mu.Lock()
	defer st.mu.Unlock()
	sh, ok := st.shells[index]
	if !ok {
		return SessionInfo{Connected: false}
	}
	info := SessionInfo{
		SessionID: sh.SessionID().String(),
		Connected: sh.Connected(),
	}
	// Best effort; falls back to the default directory on failure.
	info.WorkingDirectory, _ = sh.WorkingDirectory(ctx)
	return info
}

// ListSessionIndices returns the registered indices in ascending order.
func (st *State) ListSessionIndices() []int {
	st.mu.Lock()
	defer st.mu.Unlock()
	keys := lo.Keys(st.shells)
	sort.Ints(keys)
	return keys
}

// Files returns the file tree of the manager session.
func (st *State) Files(ctx context.Context) (sandbox.FileTree, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.manager == nil {
		return nil, &sandbox.ExecutionError{Op: "list files", Err: sandbox.ErrNotConnected}
	}
	return st.manager.ListFiles(ctx)
}

// Close tears everything down without re-creating it.
func (st *State) Close(ctx context.Context) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.closeShells(ctx)
	if st.manager != nil {
		st.manager.Close(ctx)
		st.manager = nil
	}
}

func (st *State) closeShells(ctx context.Context) {
	for idx, sh := range st.shells {
		sh.Close(ctx)
		delete(st.shells, idx)
	}
}
