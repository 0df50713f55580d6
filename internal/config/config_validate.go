// Eventpipe - Analytics Event Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventpipe

package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks that required configuration is present and consistent.
func (c *Config) Validate() error {
	validators := []func() error{
		c.validateServer,
		c.validateDatabase,
		c.validateKV,
		c.validateRateLimit,
		c.validateIdempotency,
		c.validateSession,
		c.validateWebhook,
		c.validateBroadcast,
		c.validateNATS,
		c.validateSecurity,
		c.validateLogging,
	}
	for _, validate := range validators {
		if err := validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("HTTP_SHUTDOWN_TIMEOUT must be positive")
	}
	return nil
}

func (c *Config) validateDatabase() error {
	switch c.Database.Driver {
	case "memory":
		return nil
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required when DATABASE_DRIVER=postgres")
		}
		u, err := url.Parse(c.Database.URL)
		if err != nil {
			return fmt.Errorf("DATABASE_URL is invalid: %w", err)
		}
		if u.Scheme != "postgres" && u.Scheme != "postgresql" {
			return fmt.Errorf("DATABASE_URL scheme must be postgres or postgresql, got: %s", u.Scheme)
		}
		if c.Database.MaxConns < 1 {
			return fmt.Errorf("DATABASE_MAX_CONNS must be at least 1")
		}
		return nil
	default:
		return fmt.Errorf("DATABASE_DRIVER must be 'postgres' or 'memory', got: %s", c.Database.Driver)
	}
}

func (c *Config) validateKV() error {
	if !c.KV.InMemory && c.KV.Path == "" {
		return fmt.Errorf("KV_PATH is required unless KV_IN_MEMORY=true")
	}
	return nil
}

func (c *Config) validateRateLimit() error {
	if !c.RateLimit.Enabled {
		return nil
	}
	if c.RateLimit.IPLimit < 1 {
		return fmt.Errorf("RATE_LIMIT_IP must be at least 1")
	}
	if c.RateLimit.TenantLimit < 1 {
		return fmt.Errorf("RATE_LIMIT_TENANT must be at least 1")
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive")
	}
	return nil
}

func (c *Config) validateIdempotency() error {
	if c.Idempotency.TTL <= 0 {
		return fmt.Errorf("IDEMPOTENCY_TTL must be positive")
	}
	return nil
}

func (c *Config) validateSession() error {
	if c.Session.MaxAttempts < 1 {
		return fmt.Errorf("SESSION_MAX_ATTEMPTS must be at least 1")
	}
	if c.Session.InitialBackoff <= 0 {
		return fmt.Errorf("SESSION_INITIAL_BACKOFF must be positive")
	}
	if c.Session.MaxBackoff < c.Session.InitialBackoff {
		return fmt.Errorf("SESSION_MAX_BACKOFF (%v) must not be below SESSION_INITIAL_BACKOFF (%v)",
			c.Session.MaxBackoff, c.Session.InitialBackoff)
	}
	return nil
}

func (c *Config) validateWebhook() error {
	if c.Webhook.Timeout <= 0 {
		return fmt.Errorf("WEBHOOK_TIMEOUT must be positive")
	}
	if c.Webhook.LegacyURL != "" {
		if err := validateHTTPURL(c.Webhook.LegacyURL, "WEBHOOK_LEGACY_URL"); err != nil {
			return err
		}
	}
	if c.Webhook.MaxPerSecond < 0 {
		return fmt.Errorf("WEBHOOK_MAX_PER_SECOND must not be negative")
	}
	return nil
}

func (c *Config) validateBroadcast() error {
	if c.Broadcast.BufferSize < 1 {
		return fmt.Errorf("BROADCAST_BUFFER_SIZE must be at least 1")
	}
	if c.Fanout.Workers < 1 {
		return fmt.Errorf("FANOUT_WORKERS must be at least 1")
	}
	return nil
}

func (c *Config) validateNATS() error {
	if !c.NATS.Enabled {
		return nil
	}
	u, err := url.Parse(c.NATS.URL)
	if err != nil {
		return fmt.Errorf("NATS_URL is invalid: %w", err)
	}
	switch u.Scheme {
	case "nats", "tls", "ws", "wss":
	default:
		return fmt.Errorf("NATS_URL scheme must be nats, tls, ws or wss, got: %s", u.Scheme)
	}
	if c.NATS.SubscribersCount < 1 {
		return fmt.Errorf("NATS_SUBSCRIBERS must be at least 1")
	}
	return nil
}

func (c *Config) validateSecurity() error {
	if strings.TrimSpace(c.Security.TenantHeader) == "" {
		return fmt.Errorf("TENANT_HEADER must not be empty")
	}
	if c.Security.JWTSecret != "" && len(c.Security.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}
	for _, origin := range c.Security.CORSOrigins {
		if origin == "*" {
			continue
		}
		if err := validateHTTPURL(origin, "CORS_ORIGINS"); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic", "disabled":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of trace, debug, info, warn, error, got: %s", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("LOG_FORMAT must be 'json' or 'console', got: %s", c.Logging.Format)
	}
	return nil
}

// validateHTTPURL checks for an absolute http(s) URL with a host.
func validateHTTPURL(rawURL, fieldName string) error {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%s failed to parse URL: %w", fieldName, err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("%s scheme must be http or https, got: %s", fieldName, parsedURL.Scheme)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("%s host is required", fieldName)
	}
	return nil
}
