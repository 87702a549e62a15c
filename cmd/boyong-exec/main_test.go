package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bossm747/agentboyong/pkg/auth"
	"github.com/bossm747/agentboyong/pkg/config"
	"github.com/bossm747/agentboyong/pkg/history"
	"github.com/bossm747/agentboyong/pkg/history/memory"
	"github.com/bossm747/agentboyong/pkg/sandbox"
)

func TestParseFlags(t *testing.T) {
	f, err := parseFlags([]string{"--port", "9000", "--sandbox", "http://sb:5000", "--debug", "sandbox"})
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.Defaults()
	if err := f.apply(&cfg); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if cfg.Server.Port != 9000 || cfg.Sandbox.URL != "http://sb:5000" || cfg.Observability.Debug != "sandbox" {
		t.Errorf("flags not applied: %+v", cfg)
	}

	f, _ = parseFlags([]string{"--sandbox", "not-a-url"})
	cfg = config.Defaults()
	if err := f.apply(&cfg); err == nil {
		t.Error("expected validation error for relative sandbox URL")
	}

	if _, err := parseFlags([]string{"--bogus"}); err == nil {
		t.Error("expected error for unknown flag")
	}
}

func TestOpenRetry(t *testing.T) {
	if got := openRetry(0); got >= 0 {
		t.Errorf("openRetry(0) = %v, want negative (disabled)", got)
	}
	if got := openRetry(3 * time.Second); got != 3*time.Second {
		t.Errorf("openRetry(3s) = %v", got)
	}
}

func TestNewAcquirer_Static(t *testing.T) {
	acq, err := newAcquirer(config.SandboxConfig{Mode: "static", URL: "http://sb:5000"})
	if err != nil {
		t.Fatal(err)
	}
	url, release, err := acq.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	release()
	if url != "http://sb:5000" {
		t.Errorf("url = %q", url)
	}
	if _, ok := acq.(sandbox.StaticAcquirer); !ok {
		t.Errorf("acquirer = %T", acq)
	}

	if _, err := newAcquirer(config.SandboxConfig{Mode: "docker"}); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestNewHistoryStore(t *testing.T) {
	ctx := context.Background()

	s, err := newHistoryStore(ctx, config.HistoryConfig{Type: "memory", MaxSize: 5})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*memory.Store); !ok {
		t.Errorf("memory store = %T", s)
	}

	s, err = newHistoryStore(ctx, config.HistoryConfig{Type: "none"})
	if err != nil || s != history.Discard {
		t.Errorf("none store = %v, %v", s, err)
	}

	if _, err := newHistoryStore(ctx, config.HistoryConfig{Type: "redis"}); err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestNewAuth(t *testing.T) {
	tests := []struct {
		name   string
		cfg    config.AuthConfig
		header string
		want   int
	}{
		{
			name: "none accepts anonymous",
			cfg:  config.AuthConfig{Type: "none"},
			want: http.StatusOK,
		},
		{
			name:   "apikey valid",
			cfg:    config.AuthConfig{Type: "apikey", APIKeys: []config.APIKeyConfig{{Key: "sk-1", Subject: "ci", AgentID: "bot"}}},
			header: "Bearer sk-1",
			want:   http.StatusOK,
		},
		{
			name: "apikey missing",
			cfg:  config.AuthConfig{Type: "apikey", APIKeys: []config.APIKeyConfig{{Key: "sk-1", Subject: "ci"}}},
			want: http.StatusUnauthorized,
		},
		{
			name:   "rate limited",
			cfg:    config.AuthConfig{Type: "none", RateLimit: 1},
			header: "",
			want:   http.StatusTooManyRequests,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain, limiter, err := newAuth(tt.cfg)
			if err != nil {
				t.Fatal(err)
			}
			var agent string
			h := authMiddleware(chain, limiter, "/metrics")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				agent = auth.IdentityFromContext(r.Context()).AgentID()
			}))

			code := 0
			// The rate limited case needs a second request to exceed its budget.
			for i := 0; i < 2; i++ {
				req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
				if tt.header != "" {
					req.Header.Set("Authorization", tt.header)
				}
				rec := httptest.NewRecorder()
				h.ServeHTTP(rec, req)
				code = rec.Code
				if tt.cfg.RateLimit == 0 {
					break
				}
			}
			if code != tt.want {
				t.Errorf("status = %d, want %d", code, tt.want)
			}
			if tt.name == "apikey valid" && agent != "bot" {
				t.Errorf("agent = %q, want bot", agent)
			}
		})
	}

	if _, _, err := newAuth(config.AuthConfig{Type: "jwt"}); err == nil {
		t.Error("jwt without key material should fail")
	}

	// Metrics stays reachable without credentials.
	chain, _, _ := newAuth(config.AuthConfig{Type: "apikey", APIKeys: []config.APIKeyConfig{{Key: "k", Subject: "s"}}})
	rec := httptest.NewRecorder()
	authMiddleware(chain, nil, "/metrics")(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("/metrics status = %d", rec.Code)
	}
}
