package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/samber/lo"

	"github.com/bossm747/agentboyong/pkg/history"
	"github.com/bossm747/agentboyong/pkg/sandbox"
)

// Agents owns one State per agent. Each agent gets its own sandbox
// instance from the acquirer, released when the agent is removed.
type Agents struct {
	acquirer   sandbox.Acquirer
	cfg        Config
	recorder   history.Recorder
	clientOpts []sandbox.ClientOption

	mu     sync.Mutex
	states map[string]*agentEntry
}

// agentEntry is registered before its sandbox is acquired; ready closes
// once state or err is set.
type agentEntry struct {
	ready   chan struct{}
	state   *State
	release func()
	err     error
}

// AgentsOption configures Agents.
type AgentsOption func(*Agents)

// WithHistory records every agent's commands to r.
func WithHistory(r history.Recorder) AgentsOption { return func(a *Agents) { a.recorder = r } }

// WithClientOptions applies opts to every sandbox client.
func WithClientOptions(opts ...sandbox.ClientOption) AgentsOption {
	return func(a *Agents) { a.clientOpts = append(a.clientOpts, opts...) }
}

// NewAgents returns an empty registry.
func NewAgents(acquirer sandbox.Acquirer, cfg Config, opts ...AgentsOption) *Agents {
	a := &Agents{
		acquirer: acquirer,
		cfg:      cfg,
		recorder: history.Discard,
		states:   make(map[string]*agentEntry),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Get returns the agent's State, creating it on first use. The registry
// is not locked while the sandbox is acquired; concurrent calls for the
// same agent wait for the first one.
func (a *Agents) Get(ctx context.Context, agentID string) (*State, error) {
	a.mu.Lock()
	if e, ok := a.states[agentID]; ok {
		a.mu.Unlock()
		select {
		case <-e.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if e.err != nil {
			return nil, e.err
		}
		return e.state, nil
	}
	e := &agentEntry{ready: make(chan struct{})}
	a.states[agentID] = e
	a.mu.Unlock()

	baseURL, release, err := a.acquirer.Acquire(ctx)

	a.mu.Lock()
	defer a.mu.Unlock()
	defer close(e.ready)

	if err != nil {
		e.err = fmt.Errorf("acquire sandbox for agent %q: %w", agentID, err)
		if a.states[agentID] == e {
			delete(a.states, agentID)
		}
		return nil, e.err
	}
	if a.states[agentID] != e {
		release()
		e.err = fmt.Errorf("agent %q removed while acquiring a sandbox", agentID)
		return nil, e.err
	}
	e.state = NewState(sandbox.NewClient(baseURL, a.clientOpts...), a.cfg,
		WithAgentID(agentID), WithRecorder(a.recorder))
	e.release = release
	slog.Info("execution state created", "agent", agentID, "sandbox", baseURL)
	return e.state, nil
}

// Lookup returns the agent's State without creating it. An agent whose
// sandbox is still being acquired is reported as absent.
func (a *Agents) Lookup(agentID string) (*State, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.states[agentID]
	if !ok || e.state == nil {
		return nil, false
	}
	return e.state, true
}

// Remove closes the agent's State and releases its sandbox. A pending
// acquisition is abandoned; its sandbox is released when it completes.
func (a *Agents) Remove(ctx context.Context, agentID string) {
	a.mu.Lock()
	e, ok := a.states[agentID]
	delete(a.states, agentID)
	ready := ok && e.state != nil
	a.mu.Unlock()
	if !ready {
		return
	}
	e.state.Close(ctx)
	e.release()
}

// IDs returns the known agent ids, sorted.
func (a *Agents) IDs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := lo.Keys(a.states)
	sort.Strings(ids)
	return ids
}

// CloseAll removes every agent.
func (a *Agents) CloseAll(ctx context.Context) {
	for _, id := range a.IDs() {
		a.Remove(ctx, id)
	}
}
