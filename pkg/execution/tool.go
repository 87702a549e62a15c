package execution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bossm747/agentboyong/pkg/observability"
	"github.com/bossm747/agentboyong/pkg/shell"
	"github.com/bossm747/agentboyong/pkg/tools"
)

// ToolName is the name agents call the tool by.
const ToolName = "code_execution_tool"

const (
	defaultMaxOutput  = 50000
	defaultOutputTail = 5000
)

var _ tools.ToolExecutor = (*Tool)(nil)

// Args are the tool arguments. Runtime is one of python, nodejs, shell,
// terminal, output or reset; Code is the source or command.
type Args struct {
	Runtime string `json:"runtime"`
	Code    string `json:"code"`
	Session int    `json:"session"`
}

// Tool runs agent requests against one State and turns every outcome,
// failures included, into a message for the agent.
type Tool struct {
	state      *State
	maxOutput  int
	outputTail int
}

// ToolOption configures a Tool.
type ToolOption func(*Tool)

// WithOutputLimit caps messages at max characters, keeping the last tail
// characters when cutting. A tail that does not fit under max is reduced
// to half of max.
func WithOutputLimit(max, tail int) ToolOption {
	return func(t *Tool) {
		if max > 0 {
			t.maxOutput = max
		}
		if tail >= 0 {
			t.outputTail = tail
		}
		if t.outputTail >= t.maxOutput {
			t.outputTail = t.maxOutput / 2
		}
	}
}

// NewTool returns a tool bound to st.
func NewTool(st *State, opts ...ToolOption) *Tool {
	t := &Tool{state: st, maxOutput: defaultMaxOutput, outputTail: defaultOutputTail}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Kind reports the sandbox tool kind.
func (t *Tool) Kind() tools.ToolKind { return tools.ToolKindSandbox }

// CanExecute reports whether name is this tool.
func (t *Tool) CanExecute(name string) bool { return name == ToolName }

// Execute decodes call arguments and runs them.
func (t *Tool) Execute(ctx context.Context, call tools.ToolCall) (*tools.ToolResult, error) {
	var args Args
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		return &tools.ToolResult{CallID: call.ID, Output: fmt.Sprintf("invalid arguments: %v", err), IsError: true}, nil
	}
	res := t.Run(ctx, args)
	res.CallID = call.ID
	return res, nil
}

// Run performs one tool invocation.
func (t *Tool) Run(ctx context.Context, args Args) *tools.ToolResult {
	runtime := strings.ToLower(strings.TrimSpace(args.Runtime))

	if err := t.state.EnsureState(ctx, false); err != nil {
		return t.fail(runtime, fmt.Sprintf("Sandbox unavailable: %v", err))
	}

	switch runtime {
	case "python", "nodejs", "shell":
		return t.runCode(ctx, runtime, args)
	case "terminal":
		out, err := t.state.RunTerminal(ctx, args.Session, args.Code, false)
		if err != nil {
			return t.fail(runtime, fmt.Sprintf("Terminal execution failed: %v", err))
		}
		return t.ok(runtime, orDefault(out, "(no output)"))
	case "output":
		out, err := t.state.Output(args.Session)
		if errors.Is(err, ErrNoShell) {
			return t.fail(runtime, "No active shell session")
		}
		return t.ok(runtime, orDefault(out, "(no output)"))
	case "reset":
		if err := t.state.ResetAll(ctx); err != nil {
			return t.fail(runtime, fmt.Sprintf("Reset failed: %v", err))
		}
		return t.ok(runtime, "Terminal/Python session was reset.")
	default:
		return t.fail("unknown", fmt.Sprintf("Unknown runtime: %s", args.Runtime))
	}
}

var codeLabels = map[string]string{"python": "Python", "nodejs": "Node.js", "shell": "Shell"}

func (t *Tool) runCode(ctx context.Context, runtime string, args Args) *tools.ToolResult {
	lang, err := shell.ParseLanguage(runtime)
	if err != nil {
		return t.fail(runtime, err.Error())
	}
	res, err := t.state.ExecuteCode(ctx, args.Session, lang, args.Code)
	if err != nil {
		slog.Warn("code execution failed", "agent", t.state.AgentID(), "runtime", runtime, "error", err.Error())
		return t.fail(runtime, fmt.Sprintf("%s execution failed: %v", codeLabels[runtime], err))
	}

	out := res.Stdout
	if res.Stderr != "" {
		if out != "" {
			out += "\n"
		}
		out += "STDERR: " + res.Stderr
	}
	return t.ok(runtime, orDefault(out, "Code executed successfully (no output)"))
}

func (t *Tool) ok(runtime, msg string) *tools.ToolResult {
	observability.ToolExecutionsTotal.WithLabelValues(runtime, "ok").Inc()
	return &tools.ToolResult{Output: truncateOutput(msg, t.maxOutput, t.outputTail)}
}

func (t *Tool) fail(runtime, msg string) *tools.ToolResult {
	observability.ToolExecutionsTotal.WithLabelValues(runtime, "error").Inc()
	return &tools.ToolResult{Output: truncateOutput(msg, t.maxOutput, t.outputTail), IsError: true}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// truncateOutput keeps the head and the last tail characters of s when it
// exceeds max, with a marker saying how much was dropped.
func truncateOutput(s string, max, tail int) string {
	r := []rune(s)
	if max <= 0 || len(r) <= max {
		return s
	}
	if tail < 0 || tail >= max {
		tail = max / 2
	}
	head := max - tail
	omitted := len(r) - head - tail
	return string(r[:head]) + fmt.Sprintf("\n\n... %d characters omitted ...\n\n", omitted) + string(r[len(r)-tail:])
}
