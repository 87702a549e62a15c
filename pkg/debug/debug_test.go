package debug

import (
	"log/slog"
	"reflect"
	"testing"
)

func TestParseCategories(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  map[string]bool
	}{
		{"empty", "", map[string]bool{}},
		{"single", "sandbox", map[string]bool{"sandbox": true}},
		{"multiple", "sandbox,shell", map[string]bool{"sandbox": true, "shell": true}},
		{"all", "all", map[string]bool{"all": true}},
		{"with spaces", " sandbox , execution ", map[string]bool{"sandbox": true, "execution": true}},
		{"uppercase normalized", "SANDBOX,Shell", map[string]bool{"sandbox": true, "shell": true}},
		{"empty segments", "sandbox,,history", map[string]bool{"sandbox": true, "history": true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseCategories(tt.input)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parseCategories(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestEnabled(t *testing.T) {
	orig := categories
	defer func() { categories = orig }()

	categories = parseCategories("sandbox,shell")

	if !Enabled("sandbox") {
		t.Error("sandbox should be enabled")
	}
	if !Enabled("shell") {
		t.Error("shell should be enabled")
	}
	if Enabled("history") {
		t.Error("history should not be enabled")
	}

	categories = parseCategories("all")
	if !Enabled("anything") {
		t.Error("anything should be enabled via 'all'")
	}

	categories = parseCategories("")
	if Enabled("sandbox") {
		t.Error("nothing should be enabled when no categories set")
	}
}

func TestCategories_Sorted(t *testing.T) {
	orig := categories
	defer func() { categories = orig }()

	categories = parseCategories("shell,auth,sandbox")
	want := []string{"auth", "sandbox", "shell"}
	if got := Categories(); !reflect.DeepEqual(got, want) {
		t.Errorf("Categories() = %v, want %v", got, want)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"TRACE", LevelTrace},
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("Truncate short = %q", got)
	}
	if got := Truncate("python /tmp/boyong_python.py", 6); got != "python..." {
		t.Errorf("Truncate long = %q", got)
	}
}

func TestLog_DisabledCategory(t *testing.T) {
	orig := categories
	defer func() { categories = orig }()

	categories = parseCategories("")

	Log("sandbox", "test message", "key", "value")
	Trace("sandbox", "trace message", "key", "value")
	Raw("sandbox", "raw body")
}
