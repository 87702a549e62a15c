// Package server exposes agents' execution state over MCP streamable HTTP.
//
// Every MCP session is bound to the authenticated caller's agent; its tool
// calls run against that agent's execution.State. Health and Prometheus
// endpoints are served next to the MCP endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bossm747/agentboyong/pkg/auth"
	"github.com/bossm747/agentboyong/pkg/execution"
	"github.com/bossm747/agentboyong/pkg/history"
	"github.com/bossm747/agentboyong/pkg/observability"
	"github.com/bossm747/agentboyong/pkg/tools"
)

// HealthChecker reports whether a dependency is usable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Config holds server settings.
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// AllowedTools limits the tools offered. Empty allows all.
	AllowedTools []string

	// MaxOutput and OutputTail bound code execution messages.
	MaxOutput  int
	OutputTail int

	// MetricsPath serves Prometheus metrics; empty disables it.
	MetricsPath string

	Version string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    10 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
		MetricsPath:     "/metrics",
		Version:         "dev",
	}
}

// Server serves the MCP endpoint for all agents.
type Server struct {
	agents  *execution.Agents
	config  Config
	allow   *tools.Dispatcher
	authMW  Middleware
	checks  map[string]HealthChecker
	history history.Store
	logger  *slog.Logger
	handler http.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithAuth protects every endpoint except the bypass list with mw.
func WithAuth(mw Middleware) Option { return func(s *Server) { s.authMW = mw } }

// WithHealthCheck adds a named readiness check to /readyz.
func WithHealthCheck(name string, c HealthChecker) Option {
	return func(s *Server) { s.checks[name] = c }
}

// WithHistory serves the command_history tool from store.
func WithHistory(store history.Store) Option { return func(s *Server) { s.history = store } }

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.logger = l } }

// New builds a server over agents.
func New(agents *execution.Agents, cfg Config, opts ...Option) *Server {
	s := &Server{
		agents:  agents,
		config:  cfg,
		allow:   tools.NewDispatcher(cfg.AllowedTools),
		checks:  make(map[string]HealthChecker),
		history: history.Discard,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.handler = s.buildHandler()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) buildHandler() http.Handler {
	mcpHandler := mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return s.NewMCPServer(auth.IdentityFromContext(r.Context()))
	}, nil)

	mux := http.NewServeMux()
	mux.Handle("/mcp", mcpHandler)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("GET /readyz", s.ready)
	if s.config.MetricsPath != "" {
		mux.Handle("GET "+s.config.MetricsPath, promhttp.Handler())
	}

	return Chain(
		Recovery(s.logger),
		RequestID(),
		Logging(s.logger),
		observability.MetricsMiddleware,
		s.authMW,
	)(mux)
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var errs []error
	for name, c := range s.checks {
		if err := c.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		s.logger.Warn("readiness check failed", "error", err)
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.Write([]byte("ok\n"))
}

// Run serves on the configured address until ctx is done, then shuts down
// gracefully and releases every agent's sandbox.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", ln.Addr().String(), "version", s.config.Version)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down gracefully")
	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	err := srv.Shutdown(shutdownCtx)
	s.agents.CloseAll(shutdownCtx)
	return err
}
