package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bossm747/agentboyong/pkg/auth"
	"github.com/bossm747/agentboyong/pkg/debug"
	"github.com/bossm747/agentboyong/pkg/execution"
	"github.com/bossm747/agentboyong/pkg/history"
	"github.com/bossm747/agentboyong/pkg/tools"
)

// Tool names besides execution.ToolName.
const (
	ToolSessionInfo    = "session_info"
	ToolListSessions   = "list_sessions"
	ToolSandboxFiles   = "sandbox_files"
	ToolCommandHistory = "command_history"
)

// Scopes checked against identities that carry any.
const (
	ScopeExecute = "sandbox:execute"
	ScopeRead    = "sandbox:read"
)

type codeInput struct {
	Runtime string `json:"runtime" jsonschema:"one of python, nodejs, shell, terminal, output, reset"`
	Code    string `json:"code,omitempty" jsonschema:"source code, or the command for the terminal runtime"`
	Session int    `json:"session,omitempty" jsonschema:"shell session index, 0 when omitted"`
}

type sessionInput struct {
	Session int `json:"session,omitempty" jsonschema:"shell session index, 0 when omitted"`
}

type listOutput struct {
	Sessions []int `json:"sessions"`
}

type historyInput struct {
	Session *int `json:"session,omitempty" jsonschema:"only commands sent to this shell session"`
	Limit   int  `json:"limit,omitempty" jsonschema:"most recent entries to return, 100 when omitted"`
}

type historyEntry struct {
	Session    int    `json:"session"`
	SessionID  string `json:"session_id,omitempty"`
	Command    string `json:"command"`
	ExecutedAt string `json:"executed_at"`
}

type historyOutput struct {
	Commands []historyEntry `json:"commands"`
}

// NewMCPServer builds the MCP server for one caller. Tools are offered
// when the allow-list and the identity's scopes both permit them.
func (s *Server) NewMCPServer(id *auth.Identity) *mcp.Server {
	if id == nil {
		id = auth.Anonymous()
	}
	agentID := id.AgentID()

	srv := mcp.NewServer(&mcp.Implementation{Name: "boyong-exec", Version: s.config.Version}, nil)
	offer := func(name, scope string) bool {
		return s.allow.Allowed(name) && id.HasScope(scope)
	}

	if offer(execution.ToolName, ScopeExecute) {
		mcp.AddTool(srv, &mcp.Tool{
			Name:        execution.ToolName,
			Description: "Run Python, Node.js or shell code, terminal commands, read the last output, or reset the sandbox.",
		}, func(ctx context.Context, _ *mcp.CallToolRequest, in codeInput) (*mcp.CallToolResult, any, error) {
			return s.runCode(ctx, agentID, in)
		})
	}

	if offer(ToolSessionInfo, ScopeRead) {
		mcp.AddTool(srv, &mcp.Tool{
			Name:        ToolSessionInfo,
			Description: "Describe a shell session: remote session id, connection state and working directory.",
		}, func(ctx context.Context, _ *mcp.CallToolRequest, in sessionInput) (*mcp.CallToolResult, execution.SessionInfo, error) {
			info := execution.SessionInfo{}
			if st, ok := s.agents.Lookup(agentID); ok {
				info = st.DescribeSession(ctx, in.Session)
			}
			return jsonResult(info), info, nil
		})
	}

	if offer(ToolListSessions, ScopeRead) {
		mcp.AddTool(srv, &mcp.Tool{
			Name:        ToolListSessions,
			Description: "List the indices of open shell sessions.",
		}, func(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, listOutput, error) {
			out := listOutput{Sessions: []int{}}
			if st, ok := s.agents.Lookup(agentID); ok {
				out.Sessions = st.ListSessionIndices()
			}
			return jsonResult(out), out, nil
		})
	}

	if offer(ToolSandboxFiles, ScopeRead) {
		mcp.AddTool(srv, &mcp.Tool{
			Name:        ToolSandboxFiles,
			Description: "Return the sandbox file tree.",
		}, func(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
			return s.files(ctx, agentID), nil, nil
		})
	}

	if offer(ToolCommandHistory, ScopeRead) {
		mcp.AddTool(srv, &mcp.Tool{
			Name:        ToolCommandHistory,
			Description: "List recently sent commands, oldest first.",
		}, func(ctx context.Context, _ *mcp.CallToolRequest, in historyInput) (*mcp.CallToolResult, historyOutput, error) {
			return s.commandHistory(ctx, agentID, in)
		})
	}

	debug.Log("server", "mcp server created", "agent", agentID, "subject", id.Subject)
	return srv
}

// runCode sends the call through the dispatcher so the allow-list also
// guards execution.
func (s *Server) runCode(ctx context.Context, agentID string, in codeInput) (*mcp.CallToolResult, any, error) {
	st, err := s.agents.Get(ctx, agentID)
	if err != nil {
		return textResult(fmt.Sprintf("Sandbox unavailable: %v", err), true), nil, nil
	}

	var opts []execution.ToolOption
	if s.config.MaxOutput > 0 {
		opts = append(opts, execution.WithOutputLimit(s.config.MaxOutput, s.config.OutputTail))
	}
	d := tools.NewDispatcher(s.config.AllowedTools, execution.NewTool(st, opts...))

	args, err := json.Marshal(execution.Args{Runtime: in.Runtime, Code: in.Code, Session: in.Session})
	if err != nil {
		return nil, nil, err
	}
	res, err := d.Dispatch(ctx, tools.ToolCall{
		ID:        RequestIDFromContext(ctx),
		Name:      execution.ToolName,
		Arguments: string(args),
	})
	if err != nil {
		return nil, nil, err
	}
	return textResult(res.Output, res.IsError), nil, nil
}

func (s *Server) files(ctx context.Context, agentID string) *mcp.CallToolResult {
	st, err := s.agents.Get(ctx, agentID)
	if err != nil {
		return textResult(fmt.Sprintf("Sandbox unavailable: %v", err), true)
	}
	if err := st.EnsureState(ctx, false); err != nil {
		return textResult(fmt.Sprintf("Sandbox unavailable: %v", err), true)
	}
	tree, err := st.Files(ctx)
	if err != nil {
		return textResult(fmt.Sprintf("Listing files failed: %v", err), true)
	}
	return jsonResult(tree)
}

func (s *Server) commandHistory(ctx context.Context, agentID string, in historyInput) (*mcp.CallToolResult, historyOutput, error) {
	q := history.Query{AgentID: agentID, ShellIndex: history.AllShells, Limit: in.Limit}
	if in.Session != nil {
		q.ShellIndex = *in.Session
	}
	entries, err := s.history.List(ctx, q)
	if err != nil {
		return textResult(fmt.Sprintf("Reading history failed: %v", err), true), historyOutput{}, nil
	}
	out := historyOutput{Commands: make([]historyEntry, 0, len(entries))}
	for _, e := range entries {
		out.Commands = append(out.Commands, historyEntry{
			Session:    e.ShellIndex,
			SessionID:  e.SessionID,
			Command:    e.Command,
			ExecutedAt: e.ExecutedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	return jsonResult(out), out, nil
}

func textResult(text string, isError bool) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: isError,
	}
}

func jsonResult(v any) *mcp.CallToolResult {
	data, err := json.Marshal(v)
	if err != nil {
		return textResult(fmt.Sprintf("encoding result: %v", err), true)
	}
	return textResult(string(data), false)
}
