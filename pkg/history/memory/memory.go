// Package memory provides an in-memory history.Store. Entries are lost when
// the process restarts; a maximum size bounds memory use by evicting the
// oldest entries.
package memory

import (
	"context"
	"sync"

	"github.com/bossm747/agentboyong/pkg/history"
)

var _ history.Store = (*Store)(nil)

// Store keeps entries in insertion order.
type Store struct {
	mu      sync.RWMutex
	entries []history.Entry
	maxSize int // 0 = unlimited
}

// New creates a store holding at most maxSize entries (0 = unlimited).
func New(maxSize int) *Store {
	return &Store{maxSize: maxSize}
}

// Append stores e, evicting the oldest entry when full.
func (s *Store) Append(_ context.Context, e history.Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxSize > 0 && len(s.entries) >= s.maxSize {
		n := len(s.entries) - s.maxSize + 1
		s.entries = append(s.entries[:0:0], s.entries[n:]...)
	}
	s.entries = append(s.entries, e)
	return nil
}

// List returns the most recent matching entries, oldest first.
func (s *Store) List(_ context.Context, q history.Query) ([]history.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := q.EffectiveLimit()
	var out []history.Entry
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if q.Matches(s.entries[i]) {
			out = append(out, s.entries[i])
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// HealthCheck always returns nil for the in-memory store.
func (s *Store) HealthCheck(_ context.Context) error { return nil }

// Close is a no-op for the in-memory store.
func (s *Store) Close() error { return nil }
