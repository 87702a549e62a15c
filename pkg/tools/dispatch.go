package tools

import (
	"context"
	"fmt"
	"strings"
)

// Dispatcher routes calls to the first executor that accepts them. An
// empty allow-list permits every tool.
type Dispatcher struct {
	executors []ToolExecutor
	allowed   map[string]bool
}

// NewDispatcher returns a dispatcher over execs limited to allowedTools.
func NewDispatcher(allowedTools []string, execs ...ToolExecutor) *Dispatcher {
	d := &Dispatcher{executors: execs}
	if len(allowedTools) > 0 {
		d.allowed = make(map[string]bool, len(allowedTools))
		for _, name := range allowedTools {
			if name = strings.TrimSpace(name); name != "" {
				d.allowed[name] = true
			}
		}
	}
	return d
}

// Allowed reports whether name passes the allow-list.
func (d *Dispatcher) Allowed(name string) bool {
	return d.allowed == nil || d.allowed[name]
}

// Dispatch executes call. Disallowed and unknown tools yield error results
// rather than Go errors so they can be shown to the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, call ToolCall) (*ToolResult, error) {
	if !d.Allowed(call.Name) {
		return &ToolResult{
			CallID:  call.ID,
			Output:  fmt.Sprintf("tool %q is not in the allowed tools list", call.Name),
			IsError: true,
		}, nil
	}
	for _, e := range d.executors {
		if e.CanExecute(call.Name) {
			return e.Execute(ctx, call)
		}
	}
	return &ToolResult{
		CallID:  call.ID,
		Output:  fmt.Sprintf("unknown tool %q", call.Name),
		IsError: true,
	}, nil
}
