package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// Validate checks Config for production-critical problems.
// It collects all errors into a single joined error.
func (c *Config) Validate() error {
	var errs []string

	// JWT secret shared with the auth backend
	if len(c.JWT.Secret) < 32 {
		errs = append(errs, "JWT_SECRET must be at least 32 characters")
	}

	// Generator
	if c.Generator.APIKey == "" {
		errs = append(errs, "GENERATOR_API_KEY is required")
	}
	if c.Generator.DailyLimit < 1 {
		errs = append(errs, fmt.Sprintf("GENERATOR_DAILY_LIMIT must be at least 1, got %d", c.Generator.DailyLimit))
	}
	if u, err := url.Parse(c.Generator.UpstreamURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, "GENERATOR_UPSTREAM_URL must be an http(s) URL")
	}
	if c.Generator.UpstreamRPS < 0 {
		errs = append(errs, "GENERATOR_UPSTREAM_RPS must not be negative")
	}
	if c.Generator.Timeout <= 0 {
		errs = append(errs, "GENERATOR_TIMEOUT must be positive")
	}

	// Ledger
	switch c.Ledger.Driver {
	case LedgerPostgres:
		if c.DB.Password == "" {
			errs = append(errs, "DB_PASSWORD is required when LEDGER_DRIVER=postgres")
		}
		if c.DB.Port < 1 || c.DB.Port > 65535 {
			errs = append(errs, fmt.Sprintf("DB_PORT must be 1-65535, got %d", c.DB.Port))
		}
	case LedgerSQLite:
		if c.Ledger.SQLitePath == "" {
			errs = append(errs, "LEDGER_SQLITE_PATH is required when LEDGER_DRIVER=sqlite")
		}
	default:
		errs = append(errs, fmt.Sprintf("LEDGER_DRIVER must be postgres or sqlite, got %q", c.Ledger.Driver))
	}

	// Quota backend
	switch c.Quota.Backend {
	case QuotaRedis:
		if c.Redis.Port < 1 || c.Redis.Port > 65535 {
			errs = append(errs, fmt.Sprintf("REDIS_PORT must be 1-65535, got %d", c.Redis.Port))
		}
	case QuotaMemory:
		slog.Warn("QUOTA_BACKEND=memory: daily limits are enforced per instance only")
	case QuotaLedger:
		slog.Warn("QUOTA_BACKEND=ledger: concurrent requests may exceed the daily limit")
	default:
		errs = append(errs, fmt.Sprintf("QUOTA_BACKEND must be redis, memory or ledger, got %q", c.Quota.Backend))
	}

	// Server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT must be 1-65535, got %d", c.Server.Port))
	}

	// CORS allow-list
	for _, origin := range c.CORS.AllowedOrigins {
		if origin == "*" {
			errs = append(errs, "CORS_ALLOWED_ORIGINS must list explicit origins, not *")
			continue
		}
		if u, err := url.Parse(origin); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Sprintf("CORS_ALLOWED_ORIGINS entry %q is not an origin URL", origin))
		}
	}

	if c.NATS.URL == "" {
		slog.Info("NATS_URL is empty, generation events are disabled")
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}
