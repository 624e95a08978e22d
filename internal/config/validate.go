package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Validate checks Config for production-critical problems.
// It collects all errors into a single joined error.
func (c *Config) Validate() error {
	var errs []string

	// JWT
	if len(c.JWT.Secret) < 32 {
		errs = append(errs, "JWT_SECRET must be at least 32 characters")
	}

	// DB password
	if c.DB.Password == "" {
		errs = append(errs, "DB_PASSWORD is required")
	}

	// Port ranges
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT must be 1–65535, got %d", c.Server.Port))
	}
	if c.DB.Port < 1 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Sprintf("DB_PORT must be 1–65535, got %d", c.DB.Port))
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Sprintf("REDIS_PORT must be 1–65535, got %d", c.Redis.Port))
	}

	// Quota
	switch c.Quota.Backend {
	case "postgres", "redis":
	default:
		errs = append(errs, fmt.Sprintf("QUOTA_BACKEND must be postgres or redis, got %q", c.Quota.Backend))
	}
	if _, err := time.LoadLocation(c.Quota.DefaultTimezone); err != nil {
		errs = append(errs, fmt.Sprintf("QUOTA_DEFAULT_TIMEZONE is not a known zone: %q", c.Quota.DefaultTimezone))
	}
	for _, tier := range []string{"free", "premium", "enterprise"} {
		limits, ok := c.Quota.Tiers[tier]
		if !ok {
			errs = append(errs, fmt.Sprintf("quota tier %q is missing", tier))
			continue
		}
		if limits.Generations < 0 || limits.Upscales < 0 {
			errs = append(errs, fmt.Sprintf("quota tier %q limits must not be negative", tier))
		}
	}

	// Storage
	switch c.Storage.Provider {
	case "local":
	case "s3":
		if c.Storage.Bucket == "" {
			errs = append(errs, "STORAGE_BUCKET is required for s3 storage")
		}
		if c.Storage.AccessKeyID == "" || c.Storage.SecretAccessKey == "" {
			errs = append(errs, "STORAGE_ACCESS_KEY_ID and STORAGE_SECRET_ACCESS_KEY are required for s3 storage")
		}
	default:
		errs = append(errs, fmt.Sprintf("STORAGE_PROVIDER must be local or s3, got %q", c.Storage.Provider))
	}

	// Provider
	if c.Provider.Timeout <= 0 {
		errs = append(errs, "REPLICATE_TIMEOUT must be positive")
	}
	if c.Provider.APIToken == "" {
		slog.Warn("REPLICATE_API_TOKEN is empty; provider calls will be rejected")
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}
