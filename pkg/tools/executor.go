package tools

import (
	"context"
)

// ToolKind classifies how a tool is executed.
type ToolKind int

const (
	// ToolKindFunction tools run in-process.
	ToolKindFunction ToolKind = iota

	// ToolKindSandbox tools run commands or code in a remote sandbox
	// session.
	ToolKindSandbox
)

func (k ToolKind) String() string {
	switch k {
	case ToolKindFunction:
		return "function"
	case ToolKindSandbox:
		return "sandbox"
	default:
		return "unknown"
	}
}

// ToolExecutor executes tool calls.
type ToolExecutor interface {
	// Kind returns the type of tools this executor handles.
	Kind() ToolKind

	// CanExecute checks if this executor can handle the given tool name.
	CanExecute(toolName string) bool

	// Execute runs the tool. Tool-level failures are reported through
	// ToolResult.IsError; a returned error means the call could not be
	// attempted at all.
	Execute(ctx context.Context, call ToolCall) (*ToolResult, error)
}

// ToolCall is a request to invoke a tool.
type ToolCall struct {
	// ID is the caller's identifier for this call.
	ID string

	// Name is the tool name.
	Name string

	// Arguments is the JSON-encoded arguments object.
	Arguments string
}

// ToolResult is the output of a tool execution.
type ToolResult struct {
	// CallID matches the originating ToolCall.ID.
	CallID string

	// Output is the text handed back to the caller.
	Output string

	// IsError indicates that Output describes a failure.
	IsError bool
}
