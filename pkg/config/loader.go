package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable the loader reads.
const EnvPrefix = "BOYONG_"

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, BOYONG_CONFIG env, ./config.yaml, /etc/boyong/config.yaml)
//  3. BOYONG_* environment variable overrides
//  4. File reference resolution (_file suffix)
//  5. Validation
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	if filePath := discoverConfigFile(configPath); filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}

	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile returns the first config file found in discovery
// order, or "" when there is none.
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}
	if envPath := os.Getenv(EnvPrefix + "CONFIG"); envPath != "" {
		return envPath
	}
	for _, path := range []string{"config.yaml", "/etc/boyong/config.yaml"} {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// loadYAMLFile parses path into cfg. Fields missing from the file keep
// their current values.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// envBinding maps one environment variable onto a config field.
type envBinding struct {
	name string
	set  func(cfg *Config, v string) error
}

func str(dst func(*Config) *string) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		*dst(cfg) = v
		return nil
	}
}

func integer(dst func(*Config) *int) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst(cfg) = n
		return nil
	}
}

func duration(dst func(*Config) *time.Duration) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst(cfg) = d
		return nil
	}
}

var envBindings = []envBinding{
	{"PORT", integer(func(c *Config) *int { return &c.Server.Port })},
	{"ALLOWED_TOOLS", func(c *Config, v string) error {
		c.Server.AllowedTools = splitList(v)
		return nil
	}},
	{"SANDBOX_MODE", str(func(c *Config) *string { return &c.Sandbox.Mode })},
	{"SANDBOX_URL", str(func(c *Config) *string { return &c.Sandbox.URL })},
	{"SANDBOX_HTTP_TIMEOUT", duration(func(c *Config) *time.Duration { return &c.Sandbox.HTTPTimeout })},
	{"SANDBOX_OPEN_RETRY_INTERVAL", duration(func(c *Config) *time.Duration { return &c.Sandbox.OpenRetryInterval })},
	{"SANDBOX_TEMPLATE", str(func(c *Config) *string { return &c.Sandbox.Kubernetes.Template })},
	{"SANDBOX_NAMESPACE", str(func(c *Config) *string { return &c.Sandbox.Kubernetes.Namespace })},
	{"MAX_ATTEMPTS", integer(func(c *Config) *int { return &c.Execution.MaxAttempts })},
	{"COMMAND_TIMEOUT", duration(func(c *Config) *time.Duration { return &c.Execution.CommandTimeout })},
	{"MAX_OUTPUT", integer(func(c *Config) *int { return &c.Execution.MaxOutput })},
	{"HISTORY", str(func(c *Config) *string { return &c.History.Type })},
	{"HISTORY_SIZE", integer(func(c *Config) *int { return &c.History.MaxSize })},
	{"POSTGRES_DSN", str(func(c *Config) *string { return &c.History.Postgres.DSN })},
	{"AUTH_TYPE", str(func(c *Config) *string { return &c.Auth.Type })},
	{"API_KEYS", func(c *Config, v string) error {
		var keys []APIKeyConfig
		if err := json.Unmarshal([]byte(v), &keys); err != nil {
			return err
		}
		c.Auth.APIKeys = keys
		return nil
	}},
	{"JWT_SECRET", str(func(c *Config) *string { return &c.Auth.JWT.Secret })},
	{"JWKS_URL", str(func(c *Config) *string { return &c.Auth.JWT.JWKSURL })},
	{"RATE_LIMIT", integer(func(c *Config) *int { return &c.Auth.RateLimit })},
	{"DEBUG", str(func(c *Config) *string { return &c.Observability.Debug })},
	{"LOG_LEVEL", str(func(c *Config) *string { return &c.Observability.LogLevel })},
}

// applyEnvOverrides applies every set BOYONG_* variable. Malformed
// values are reported rather than ignored.
func applyEnvOverrides(cfg *Config) error {
	for _, b := range envBindings {
		v, ok := os.LookupEnv(EnvPrefix + b.name)
		if !ok || v == "" {
			continue
		}
		if err := b.set(cfg, v); err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, b.name, err)
		}
		slog.Debug("config override from environment", "var", EnvPrefix+b.name)
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// resolveFileReferences fills empty secret fields from their _file
// counterparts.
func resolveFileReferences(cfg *Config) error {
	refs := []struct {
		name  string
		file  string
		value *string
	}{
		{"history.postgres.dsn_file", cfg.History.Postgres.DSNFile, &cfg.History.Postgres.DSN},
		{"auth.jwt.secret_file", cfg.Auth.JWT.SecretFile, &cfg.Auth.JWT.Secret},
		{"auth.jwt.public_key_pem_file", cfg.Auth.JWT.PublicKeyPEMFile, &cfg.Auth.JWT.PublicKeyPEM},
	}
	for i := range cfg.Auth.APIKeys {
		k := &cfg.Auth.APIKeys[i]
		refs = append(refs, struct {
			name  string
			file  string
			value *string
		}{fmt.Sprintf("auth.api_keys[%d].key_file", i), k.KeyFile, &k.Key})
	}

	for _, r := range refs {
		if r.file == "" || *r.value != "" {
			continue
		}
		val, err := readSecretFile(r.file)
		if err != nil {
			return fmt.Errorf("%s: %w", r.name, err)
		}
		*r.value = val
	}
	return nil
}

// readSecretFile reads a file and returns its content with surrounding whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
