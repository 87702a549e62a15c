package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bossm747/agentboyong/pkg/history"
)

func TestStore_AppendList(t *testing.T) {
	s := New(0)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, e := range []history.Entry{
		{AgentID: "a", ShellIndex: 0, Command: "pwd"},
		{AgentID: "a", ShellIndex: 1, Command: "ls"},
		{AgentID: "b", ShellIndex: 0, Command: "echo hi"},
		{AgentID: "a", ShellIndex: 0, Command: "cd /tmp"},
	} {
		e.ExecutedAt = base.Add(time.Duration(i) * time.Second)
		if err := s.Append(ctx, e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := s.List(ctx, history.Query{AgentID: "a", ShellIndex: 0})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 || got[0].Command != "pwd" || got[1].Command != "cd /tmp" {
		t.Errorf("List = %+v", got)
	}

	all, _ := s.List(ctx, history.Query{ShellIndex: history.AllShells})
	if len(all) != 4 {
		t.Errorf("expected 4 entries, got %d", len(all))
	}

	last, _ := s.List(ctx, history.Query{ShellIndex: history.AllShells, Limit: 2})
	if len(last) != 2 || last[0].Command != "echo hi" || last[1].Command != "cd /tmp" {
		t.Errorf("limited List = %+v", last)
	}
}

func TestStore_Eviction(t *testing.T) {
	s := New(3)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		s.Append(ctx, history.Entry{Command: fmt.Sprintf("cmd-%d", i)})
	}
	if s.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", s.Len())
	}
	got, _ := s.List(ctx, history.Query{ShellIndex: history.AllShells})
	if got[0].Command != "cmd-2" || got[2].Command != "cmd-4" {
		t.Errorf("after eviction = %+v", got)
	}
}

func TestStore_RejectsEmptyCommand(t *testing.T) {
	s := New(0)
	if err := s.Append(context.Background(), history.Entry{AgentID: "a"}); !errors.Is(err, history.ErrInvalidEntry) {
		t.Errorf("expected ErrInvalidEntry, got %v", err)
	}
	if s.Len() != 0 {
		t.Error("invalid entry was stored")
	}
}

func TestStore_HealthAndClose(t *testing.T) {
	s := New(0)
	if err := s.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
