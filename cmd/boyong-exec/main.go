// Command boyong-exec serves remote sandbox code execution to agents over MCP.
//
// Configuration is read from a YAML file and BOYONG_* environment
// variables (see pkg/config). Flags override the file:
//
//	--config   path to the config file
//	--port     listen port
//	--sandbox  sandbox service URL (static mode)
//	--debug    debug categories, e.g. "sandbox,shell"
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bossm747/agentboyong/pkg/config"
	"github.com/bossm747/agentboyong/pkg/debug"
	"github.com/bossm747/agentboyong/pkg/execution"
	"github.com/bossm747/agentboyong/pkg/sandbox"
	"github.com/bossm747/agentboyong/pkg/server"
)

var version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		slog.Error("boyong-exec failed", "error", err)
		os.Exit(1)
	}
}

type flags struct {
	configPath string
	port       int
	sandboxURL string
	debug      string
}

func parseFlags(args []string) (flags, error) {
	var f flags
	fs := pflag.NewFlagSet("boyong-exec", pflag.ContinueOnError)
	fs.StringVar(&f.configPath, "config", "", "path to the YAML config file")
	fs.IntVar(&f.port, "port", 0, "listen port (overrides server.port)")
	fs.StringVar(&f.sandboxURL, "sandbox", "", "sandbox service URL (overrides sandbox.url)")
	fs.StringVar(&f.debug, "debug", "", "debug categories (overrides observability.debug)")
	return f, fs.Parse(args)
}

// apply lays flag values over the loaded config.
func (f flags) apply(cfg *config.Config) error {
	if f.port != 0 {
		cfg.Server.Port = f.port
	}
	if f.sandboxURL != "" {
		cfg.Sandbox.URL = f.sandboxURL
	}
	if f.debug != "" {
		cfg.Observability.Debug = f.debug
	}
	return cfg.Validate()
}

func run(args []string) error {
	f, err := parseFlags(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(f.configPath)
	if err != nil {
		return err
	}
	if err := f.apply(cfg); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	debug.Init(cfg.Observability.Debug, cfg.Observability.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	acquirer, err := newAcquirer(cfg.Sandbox)
	if err != nil {
		return fmt.Errorf("creating sandbox acquirer: %w", err)
	}

	store, err := newHistoryStore(ctx, cfg.History)
	if err != nil {
		return fmt.Errorf("creating history store: %w", err)
	}
	defer store.Close()

	chain, limiter, err := newAuth(cfg.Auth)
	if err != nil {
		return fmt.Errorf("creating authenticator: %w", err)
	}

	agents := execution.NewAgents(acquirer, execution.Config{
		MaxAttempts:       cfg.Execution.MaxAttempts,
		CommandTimeout:    cfg.Execution.CommandTimeout,
		OpenRetryInterval: openRetry(cfg.Sandbox.OpenRetryInterval),
		UserID:            cfg.Sandbox.UserID,
		TempDir:           cfg.Execution.TempDir,
		TempPrefix:        cfg.Execution.TempPrefix,
	},
		execution.WithHistory(store),
		execution.WithClientOptions(sandbox.WithTimeout(cfg.Sandbox.HTTPTimeout)),
	)

	metricsPath := ""
	if cfg.Observability.Metrics.Enabled {
		metricsPath = cfg.Observability.Metrics.Path
	}

	srv := server.New(agents, server.Config{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		AllowedTools: cfg.Server.AllowedTools,
		MaxOutput:    cfg.Execution.MaxOutput,
		OutputTail:   cfg.Execution.OutputTail,
		MetricsPath:  metricsPath,
		Version:      version,
	},
		server.WithAuth(authMiddleware(chain, limiter, metricsPath)),
		server.WithHistory(store),
		server.WithHealthCheck("history", store),
	)

	slog.Info("boyong-exec configured",
		"sandbox_mode", cfg.Sandbox.Mode,
		"history", cfg.History.Type,
		"auth", cfg.Auth.Type,
		"debug", debug.Categories(),
	)
	return srv.Run(ctx)
}

// openRetry maps the config's "0 disables" onto execution.Config, where
// zero selects the default.
func openRetry(d time.Duration) time.Duration {
	if d == 0 {
		return -1
	}
	return d
}
