// Package history records the commands sent to sandbox shells. Backends
// (memory, postgres) implement Store; shells only need a Recorder.
package history

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidEntry is returned when an entry lacks a command.
var ErrInvalidEntry = errors.New("history entry has no command")

// Entry is one command sent to a shell.
type Entry struct {
	AgentID    string
	ShellIndex int
	SessionID  string
	Command    string
	ExecutedAt time.Time
}

// Validate checks the fields every backend requires.
func (e Entry) Validate() error {
	if e.Command == "" {
		return ErrInvalidEntry
	}
	return nil
}

// Query selects entries. An empty AgentID matches every agent, a negative
// ShellIndex every shell. Results are ordered oldest first.
type Query struct {
	AgentID    string
	ShellIndex int
	Limit      int
}

// AllShells is the ShellIndex that matches every shell.
const AllShells = -1

// DefaultLimit caps List results when Query.Limit is 0.
const DefaultLimit = 100

// Matches reports whether e satisfies the query filters.
func (q Query) Matches(e Entry) bool {
	if q.AgentID != "" && e.AgentID != q.AgentID {
		return false
	}
	if q.ShellIndex >= 0 && e.ShellIndex != q.ShellIndex {
		return false
	}
	return true
}

// EffectiveLimit returns Limit, or DefaultLimit when unset.
func (q Query) EffectiveLimit() int {
	if q.Limit <= 0 {
		return DefaultLimit
	}
	return q.Limit
}

// Recorder accepts command entries.
type Recorder interface {
	Append(ctx context.Context, e Entry) error
}

// Store is a queryable command history backend.
type Store interface {
	Recorder
	List(ctx context.Context, q Query) ([]Entry, error)
	HealthCheck(ctx context.Context) error
	Close() error
}

// Discard is a Store that drops every entry and lists nothing.
var Discard Store = discard{}

type discard struct{}

func (discard) Append(context.Context, Entry) error { return nil }
func (discard) List(context.Context, Query) ([]Entry, error) { return nil, nil }
func (discard) HealthCheck(context.Context) error { return nil }
func (discard) Close() error { return nil }
