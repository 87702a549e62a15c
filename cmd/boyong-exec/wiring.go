package main

import (
	"context"
	"fmt"
	"log/slog"

	"sigs.k8s.io/controller-runtime/pkg/client"
	ctrlconfig "sigs.k8s.io/controller-runtime/pkg/client/config"

	"github.com/bossm747/agentboyong/pkg/auth"
	"github.com/bossm747/agentboyong/pkg/auth/apikey"
	"github.com/bossm747/agentboyong/pkg/auth/jwt"
	"github.com/bossm747/agentboyong/pkg/auth/noop"
	"github.com/bossm747/agentboyong/pkg/config"
	"github.com/bossm747/agentboyong/pkg/history"
	"github.com/bossm747/agentboyong/pkg/history/memory"
	"github.com/bossm747/agentboyong/pkg/history/postgres"
	"github.com/bossm747/agentboyong/pkg/sandbox"
	"github.com/bossm747/agentboyong/pkg/sandbox/kubernetes"
	"github.com/bossm747/agentboyong/pkg/server"
)

// newAcquirer returns the source of sandbox base URLs for cfg.Mode.
func newAcquirer(cfg config.SandboxConfig) (sandbox.Acquirer, error) {
	switch cfg.Mode {
	case "static":
		slog.Info("sandbox", "mode", "static", "url", cfg.URL)
		return sandbox.StaticAcquirer{URL: cfg.URL}, nil
	case "kubernetes":
		restCfg, err := ctrlconfig.GetConfig()
		if err != nil {
			return nil, fmt.Errorf("loading kubeconfig: %w", err)
		}
		scheme, err := kubernetes.NewScheme()
		if err != nil {
			return nil, err
		}
		c, err := client.New(restCfg, client.Options{Scheme: scheme})
		if err != nil {
			return nil, fmt.Errorf("creating kubernetes client: %w", err)
		}
		slog.Info("sandbox", "mode", "kubernetes",
			"template", cfg.Kubernetes.Template, "namespace", cfg.Kubernetes.Namespace)
		return kubernetes.NewClaimAcquirer(c, kubernetes.Config{
			Template:     cfg.Kubernetes.Template,
			Namespace:    cfg.Kubernetes.Namespace,
			Port:         cfg.Kubernetes.Port,
			ReadyTimeout: cfg.Kubernetes.ReadyTimeout,
		}), nil
	default:
		return nil, fmt.Errorf("unknown sandbox mode %q", cfg.Mode)
	}
}

// newHistoryStore opens the command history backend.
func newHistoryStore(ctx context.Context, cfg config.HistoryConfig) (history.Store, error) {
	switch cfg.Type {
	case "none":
		slog.Info("command history disabled")
		return history.Discard, nil
	case "memory":
		slog.Info("command history", "type", "memory", "max_size", cfg.MaxSize)
		return memory.New(cfg.MaxSize), nil
	case "postgres":
		store, err := postgres.New(ctx, postgres.Config{
			DSN:            cfg.Postgres.DSN,
			MaxConns:       cfg.Postgres.MaxConns,
			MigrateOnStart: cfg.Postgres.MigrateOnStart,
		})
		if err != nil {
			return nil, err
		}
		slog.Info("command history", "type", "postgres", "migrate", cfg.Postgres.MigrateOnStart)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown history type %q", cfg.Type)
	}
}

// newAuth builds the authenticator chain and the optional rate limiter.
func newAuth(cfg config.AuthConfig) (*auth.AuthChain, auth.RateLimiter, error) {
	chain := &auth.AuthChain{DefaultDecision: auth.No}

	switch cfg.Type {
	case "none":
		chain.Authenticators = []auth.Authenticator{&noop.Authenticator{}}
	case "apikey":
		entries := make([]apikey.Entry, 0, len(cfg.APIKeys))
		for _, k := range cfg.APIKeys {
			entries = append(entries, apikey.Entry{
				Key:         k.Key,
				Subject:     k.Subject,
				AgentID:     k.AgentID,
				ServiceTier: k.ServiceTier,
			})
		}
		a, err := apikey.New(entries)
		if err != nil {
			return nil, nil, err
		}
		chain.Authenticators = []auth.Authenticator{a}
	case "jwt":
		a, err := jwt.New(jwt.Config{
			Issuer:       cfg.JWT.Issuer,
			Audience:     cfg.JWT.Audience,
			Secret:       cfg.JWT.Secret,
			PublicKeyPEM: cfg.JWT.PublicKeyPEM,
			JWKSURL:      cfg.JWT.JWKSURL,
			AgentClaim:   cfg.JWT.AgentClaim,
		})
		if err != nil {
			return nil, nil, err
		}
		chain.Authenticators = []auth.Authenticator{a}
	default:
		return nil, nil, fmt.Errorf("unknown auth type %q", cfg.Type)
	}

	var limiter auth.RateLimiter
	if cfg.RateLimit > 0 || len(cfg.TierLimits) > 0 {
		tiers := make(map[string]auth.TierConfig, len(cfg.TierLimits))
		for name, rpm := range cfg.TierLimits {
			tiers[name] = auth.TierConfig{RequestsPerMinute: rpm}
		}
		limiter = auth.NewInProcessLimiter(tiers, cfg.RateLimit)
	}
	return chain, limiter, nil
}

// authMiddleware protects everything but the health and metrics endpoints.
func authMiddleware(chain *auth.AuthChain, limiter auth.RateLimiter, metricsPath string) server.Middleware {
	bypass := append([]string{}, auth.DefaultBypassEndpoints...)
	if metricsPath != "" {
		bypass = append(bypass, metricsPath)
	}
	return auth.Middleware(chain, limiter, bypass)
}
