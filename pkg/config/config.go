// Package config provides unified configuration for the boyong-exec server.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (BOYONG_ prefix)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
package config

import "time"

// Config holds all configuration for the boyong-exec server.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Sandbox       SandboxConfig       `yaml:"sandbox"`
	Execution     ExecutionConfig     `yaml:"execution"`
	History       HistoryConfig       `yaml:"history"`
	Auth          AuthConfig          `yaml:"auth"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         int           `yaml:"port"`          // default: 8080
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // default: 30s
	WriteTimeout time.Duration `yaml:"write_timeout"` // default: 10m
	// AllowedTools restricts the MCP tools offered. Empty allows all.
	AllowedTools []string `yaml:"allowed_tools"`
}

// SandboxConfig selects and configures the remote sandbox service.
type SandboxConfig struct {
	Mode              string        `yaml:"mode"`                // "static" or "kubernetes", default: "static"
	URL               string        `yaml:"url"`                 // static mode, default: http://localhost:5000
	HTTPTimeout       time.Duration `yaml:"http_timeout"`        // default: 5m
	OpenRetryInterval time.Duration `yaml:"open_retry_interval"` // default: 5s, 0 disables retry
	UserID            int           `yaml:"user_id"`             // default: 1

	Kubernetes KubernetesConfig `yaml:"kubernetes"`
}

// KubernetesConfig configures sandbox acquisition through SandboxClaims.
type KubernetesConfig struct {
	Template     string        `yaml:"template"` // required in kubernetes mode
	Namespace    string        `yaml:"namespace"`
	Port         int           `yaml:"port"`
	ReadyTimeout time.Duration `yaml:"ready_timeout"`
}

// ExecutionConfig holds per-agent execution state settings.
type ExecutionConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`    // default: 2
	CommandTimeout time.Duration `yaml:"command_timeout"` // default: 30s
	TempDir        string        `yaml:"temp_dir"`        // default: /tmp
	TempPrefix     string        `yaml:"temp_prefix"`     // default: boyong_
	MaxOutput      int           `yaml:"max_output"`      // default: 50000
	OutputTail     int           `yaml:"output_tail"`     // default: 5000
}

// HistoryConfig selects the command history backend.
type HistoryConfig struct {
	Type     string         `yaml:"type"`     // "none", "memory" or "postgres", default: "memory"
	MaxSize  int            `yaml:"max_size"` // memory store, default: 10000
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	DSNFile        string `yaml:"dsn_file"`         // _file variant for dsn
	MaxConns       int32  `yaml:"max_conns"`        // default: 10
	MigrateOnStart bool   `yaml:"migrate_on_start"` // default: true
}

// AuthConfig holds authentication settings for the MCP endpoint.
type AuthConfig struct {
	Type       string         `yaml:"type"`     // "none", "apikey" or "jwt", default: "none"
	APIKeys    []APIKeyConfig `yaml:"api_keys"` // entries for type=apikey
	JWT        JWTConfig      `yaml:"jwt"`
	RateLimit  int            `yaml:"rate_limit"` // requests per minute per agent, 0 disables
	TierLimits map[string]int `yaml:"tier_limits"`
}

// APIKeyConfig describes a single API key entry.
type APIKeyConfig struct {
	Key         string `yaml:"key"`
	KeyFile     string `yaml:"key_file"` // _file variant for key
	Subject     string `yaml:"subject"`
	AgentID     string `yaml:"agent_id"`
	ServiceTier string `yaml:"service_tier"`
}

// JWTConfig configures the bearer token authenticator.
type JWTConfig struct {
	Issuer           string `yaml:"issuer"`
	Audience         string `yaml:"audience"`
	Secret           string `yaml:"secret"`
	SecretFile       string `yaml:"secret_file"`
	PublicKeyPEM     string `yaml:"public_key_pem"`
	PublicKeyPEMFile string `yaml:"public_key_pem_file"`
	JWKSURL          string `yaml:"jwks_url"`
	AgentClaim       string `yaml:"agent_claim"`
}

// ObservabilityConfig holds monitoring and logging settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	// Debug lists pkg/debug categories to enable, e.g. "sandbox,shell".
	Debug    string `yaml:"debug"`
	LogLevel string `yaml:"log_level"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 10 * time.Minute,
		},
		Sandbox: SandboxConfig{
			Mode:              "static",
			URL:               "http://localhost:5000",
			HTTPTimeout:       5 * time.Minute,
			OpenRetryInterval: 5 * time.Second,
			UserID:            1,
			Kubernetes: KubernetesConfig{
				Namespace:    "default",
				Port:         5000,
				ReadyTimeout: 2 * time.Minute,
			},
		},
		Execution: ExecutionConfig{
			MaxAttempts:    2,
			CommandTimeout: 30 * time.Second,
			TempDir:        "/tmp",
			TempPrefix:     "boyong_",
			MaxOutput:      50000,
			OutputTail:     5000,
		},
		History: HistoryConfig{
			Type:    "memory",
			MaxSize: 10000,
			Postgres: PostgresConfig{
				MaxConns:       10,
				MigrateOnStart: true,
			},
		},
		Auth: AuthConfig{
			Type: "none",
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}
