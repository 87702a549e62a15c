package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate checks the configuration for required fields and valid values.
// Returns an error with a descriptive field path on failure.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 {
		errs = append(errs, fmt.Errorf("server.port must be > 0, got %d", c.Server.Port))
	}

	switch c.Sandbox.Mode {
	case "static":
		if u, err := url.Parse(c.Sandbox.URL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("sandbox.url must be an absolute URL, got %q", c.Sandbox.URL))
		}
	case "kubernetes":
		if c.Sandbox.Kubernetes.Template == "" {
			errs = append(errs, fmt.Errorf("sandbox.kubernetes.template is required when sandbox.mode is \"kubernetes\""))
		}
	default:
		errs = append(errs, fmt.Errorf("sandbox.mode must be \"static\" or \"kubernetes\", got %q", c.Sandbox.Mode))
	}

	if c.Sandbox.OpenRetryInterval < 0 {
		errs = append(errs, fmt.Errorf("sandbox.open_retry_interval must be >= 0, got %v", c.Sandbox.OpenRetryInterval))
	}
	if c.Sandbox.UserID <= 0 {
		errs = append(errs, fmt.Errorf("sandbox.user_id must be > 0, got %d", c.Sandbox.UserID))
	}

	if c.Execution.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("execution.max_attempts must be >= 1, got %d", c.Execution.MaxAttempts))
	}
	if c.Execution.CommandTimeout <= 0 {
		errs = append(errs, fmt.Errorf("execution.command_timeout must be > 0, got %v", c.Execution.CommandTimeout))
	}
	if c.Execution.OutputTail < 0 || (c.Execution.MaxOutput > 0 && c.Execution.OutputTail >= c.Execution.MaxOutput) {
		errs = append(errs, fmt.Errorf("execution.output_tail must be in [0, max_output), got %d", c.Execution.OutputTail))
	}

	switch c.History.Type {
	case "none", "memory":
	case "postgres":
		if c.History.Postgres.DSN == "" && c.History.Postgres.DSNFile == "" {
			errs = append(errs, fmt.Errorf("history.postgres.dsn or history.postgres.dsn_file is required when history.type is \"postgres\""))
		}
	default:
		errs = append(errs, fmt.Errorf("history.type must be \"none\", \"memory\" or \"postgres\", got %q", c.History.Type))
	}

	switch c.Auth.Type {
	case "none":
	case "apikey":
		if len(c.Auth.APIKeys) == 0 {
			errs = append(errs, fmt.Errorf("auth.api_keys must not be empty when auth.type is \"apikey\""))
		}
		for i, k := range c.Auth.APIKeys {
			if k.Key == "" {
				errs = append(errs, fmt.Errorf("auth.api_keys[%d].key or key_file is required", i))
			}
			if k.Subject == "" {
				errs = append(errs, fmt.Errorf("auth.api_keys[%d].subject is required", i))
			}
		}
	case "jwt":
		j := c.Auth.JWT
		n := 0
		for _, v := range []string{j.Secret + j.SecretFile, j.PublicKeyPEM + j.PublicKeyPEMFile, j.JWKSURL} {
			if v != "" {
				n++
			}
		}
		if n != 1 {
			errs = append(errs, fmt.Errorf("auth.jwt requires exactly one of secret, public_key_pem or jwks_url"))
		}
	default:
		errs = append(errs, fmt.Errorf("auth.type must be \"none\", \"apikey\", or \"jwt\", got %q", c.Auth.Type))
	}

	return errors.Join(errs...)
}
