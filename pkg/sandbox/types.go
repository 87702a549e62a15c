package sandbox

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DefaultUserID is the owner identity attached to sessions created by this
// client.
const DefaultUserID = 1

// SessionID is the opaque identifier the service assigns to a session. The
// service may encode it as a JSON number or string.
type SessionID string

// UnmarshalJSON accepts both numeric and string identifiers.
func (id *SessionID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = SessionID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("session id: %w", err)
	}
	*id = SessionID(n.String())
	return nil
}

// String returns the identifier as used in URL paths.
func (id SessionID) String() string { return string(id) }

// SessionStatus is the lifecycle status of a remote session.
type SessionStatus string

const (
	StatusActive SessionStatus = "active"
	StatusEnded  SessionStatus = "ended"
)

// CommandResult is the raw structured result of one executed command.
// ExitCode is set only when the service reports one.
type CommandResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode *int   `json:"exitCode,omitempty"`
}

// FileTree is the file listing returned by GET /api/files, kept as raw
// JSON since its layout belongs to the service.
type FileTree json.RawMessage

// MarshalJSON returns the raw listing.
func (t FileTree) MarshalJSON() ([]byte, error) {
	if len(t) == 0 {
		return []byte("null"), nil
	}
	return t, nil
}

// Contains reports whether any entry in the tree names path, either as a
// "path" field or as a bare string element.
func (t FileTree) Contains(path string) bool {
	var v any
	if err := json.Unmarshal(t, &v); err != nil {
		return false
	}
	return treeContains(v, path)
}

func treeContains(v any, path string) bool {
	switch n := v.(type) {
	case string:
		return n == path
	case []any:
		for _, e := range n {
			if treeContains(e, path) {
				return true
			}
		}
	case map[string]any:
		if p, ok := n["path"].(string); ok && p == path {
			return true
		}
		for k, e := range n {
			if k == "path" {
				continue
			}
			if _, isString := e.(string); isString {
				continue
			}
			if treeContains(e, path) {
				return true
			}
		}
	}
	return false
}

type createSessionRequest struct {
	Status SessionStatus `json:"status"`
	UserID int           `json:"userId"`
}

type createSessionResponse struct {
	ID SessionID `json:"id"`
}

type executeRequest struct {
	Command string `json:"command"`
}

type fileContentResponse struct {
	Content string `json:"content"`
}

type writeFileRequest struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	MimeType string `json:"mimeType"`
}

type deleteFileRequest struct {
	Path string `json:"path"`
}

// IntPtr returns a pointer to n, for filling CommandResult.ExitCode.
func IntPtr(n int) *int { return &n }
