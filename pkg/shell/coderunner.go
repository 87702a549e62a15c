package shell

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/bossm747/agentboyong/pkg/debug"
	"github.com/bossm747/agentboyong/pkg/sandbox"
)

// Language selects the interpreter for ExecuteCode.
type Language string

const (
	Python Language = "python"
	NodeJS Language = "nodejs"
	Bash   Language = "shell"
)

type languageSpec struct {
	ext         string
	mimeType    string
	interpreter string
}

var languages = map[Language]languageSpec{
	Python: {ext: ".py", mimeType: "text/x-python", interpreter: "python"},
	NodeJS: {ext: ".js", mimeType: "text/javascript", interpreter: "node"},
	Bash:   {ext: ".sh", mimeType: "text/x-shellscript", interpreter: "bash"},
}

// ErrUnsupportedLanguage is returned for languages without an interpreter.
var ErrUnsupportedLanguage = errors.New("unsupported language")

// ParseLanguage maps common names (py, node, javascript, bash, sh) to a
// Language.
func ParseLanguage(s string) (Language, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "python", "python3", "py":
		return Python, nil
	case "nodejs", "node", "javascript", "js":
		return NodeJS, nil
	case "shell", "bash", "sh":
		return Bash, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedLanguage, s)
}

// ExecResult is the normalized outcome of ExecuteCode.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// WriteError means the source file could not be written; nothing was
// executed.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write code file %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// ExecuteCode writes source to a temporary file, runs the language's
// interpreter on it and deletes the file. The delete is issued whenever the
// write succeeded, even if execution failed; its own failure is only
// logged.
//
// ExitCode is the service-reported exit status when present. Otherwise it
// is 0 when the program printed to stdout and 1 when it did not.
func (s *Shell) ExecuteCode(ctx context.Context, lang Language, source string) (*ExecResult, error) {
	lc, ok := languages[lang]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, lang)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil, &sandbox.ExecutionError{Op: "execute code", Err: sandbox.ErrNotConnected}
	}

	file := s.tempPath(lang, lc.ext)
	q, err := quote(file)
	if err != nil {
		return nil, err
	}

	if err := s.session.WriteFile(ctx, file, source, lc.mimeType); err != nil {
		return nil, &WriteError{Path: file, Err: err}
	}
	debug.Log("shell", "code file written", "index", s.index, "path", file, "bytes", len(source))

	runErr := s.send(ctx, lc.interpreter+" "+q)

	if err := s.session.DeleteFile(context.WithoutCancel(ctx), file); err != nil {
		slog.Warn("code file cleanup failed", "path", file, "error", err.Error())
	}

	if runErr != nil {
		return nil, runErr
	}

	res := &ExecResult{Stdout: s.last.Stdout, Stderr: s.last.Stderr}
	switch {
	case s.last.ExitCode != nil:
		res.ExitCode = *s.last.ExitCode
	case res.Stdout != "":
		res.ExitCode = 0
	default:
		res.ExitCode = 1
	}
	return res, nil
}

// tempPath builds a name unique per session, shell and call.
func (s *Shell) tempPath(lang Language, ext string) string {
	name := fmt.Sprintf("%s%s_%s_%d_%d_%s%s",
		s.prefix, lang, s.session.ID(), s.index, s.seq.Add(1), uuid.NewString()[:8], ext)
	return path.Join(s.tempDir, name)
}
