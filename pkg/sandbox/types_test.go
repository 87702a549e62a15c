package sandbox

import (
	"encoding/json"
	"testing"
)

func TestSessionIDUnmarshal(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  SessionID
	}{
		{"number", `{"id": 42}`, "42"},
		{"string", `{"id": "abc-1"}`, "abc-1"},
		{"null", `{"id": null}`, ""},
		{"missing", `{}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp createSessionResponse
			if err := json.Unmarshal([]byte(tt.input), &resp); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if resp.ID != tt.want {
				t.Errorf("got %q, want %q", resp.ID, tt.want)
			}
		})
	}
}

func TestSessionIDUnmarshal_Invalid(t *testing.T) {
	var resp createSessionResponse
	if err := json.Unmarshal([]byte(`{"id": true}`), &resp); err == nil {
		t.Error("expected error for boolean id")
	}
}

func TestFileTreeContains(t *testing.T) {
	tests := []struct {
		name string
		tree string
		path string
		want bool
	}{
		{"flat entries", `[{"name":"x.py","path":"/tmp/x.py"}]`, "/tmp/x.py", true},
		{"absent", `[{"name":"y.py","path":"/tmp/y.py"}]`, "/tmp/x.py", false},
		{"nested children", `{"path":"/","children":[{"path":"/tmp","children":[{"path":"/tmp/x.py"}]}]}`, "/tmp/x.py", true},
		{"string list", `["/tmp/x.py","/tmp/z"]`, "/tmp/x.py", true},
		{"name is not path", `[{"name":"/tmp/x.py","path":"/tmp/other"}]`, "/tmp/x.py", false},
		{"invalid json", `{`, "/tmp/x.py", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FileTree(tt.tree).Contains(tt.path); got != tt.want {
				t.Errorf("Contains(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}
