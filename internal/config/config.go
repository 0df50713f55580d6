// Eventpipe - Analytics Event Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventpipe

// Package config loads Eventpipe configuration with Koanf v2.
//
// Loading order (highest priority wins):
//  1. Built-in defaults (defaultConfig)
//  2. Optional YAML file (CONFIG_PATH, config.yaml, /etc/eventpipe/config.yaml)
//  3. Environment variables (see envTransformFunc for the accepted names)
//
// Example:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    logging.Fatal().Err(err).Msg("Failed to load configuration")
//	}
package config

import (
	"fmt"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Database    DatabaseConfig    `koanf:"database"`
	KV          KVConfig          `koanf:"kv"`
	RateLimit   RateLimitConfig   `koanf:"ratelimit"`
	Idempotency IdempotencyConfig `koanf:"idempotency"`
	Session     SessionConfig     `koanf:"session"`
	Webhook     WebhookConfig     `koanf:"webhook"`
	Broadcast   BroadcastConfig   `koanf:"broadcast"`
	Fanout      FanoutConfig      `koanf:"fanout"`
	NATS        NATSConfig        `koanf:"nats"`
	Security    SecurityConfig    `koanf:"security"`
	Logging     LoggingConfig     `koanf:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// Addr returns host:port for http.Server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig configures the relational store holding sessions, events
// and webhook subscriptions.
type DatabaseConfig struct {
	// Driver is "postgres" or "memory". The memory driver keeps everything
	// in process and is meant for local development.
	Driver         string        `koanf:"driver"`
	URL            string        `koanf:"url"`
	MaxConns       int32         `koanf:"max_conns"`
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
}

// KVConfig configures the BadgerDB instance shared by the rate limiter and
// the idempotency guard.
type KVConfig struct {
	Path     string `koanf:"path"`
	InMemory bool   `koanf:"in_memory"`
}

// RateLimitConfig configures fixed-window ingest limits.
type RateLimitConfig struct {
	Enabled     bool          `koanf:"enabled"`
	IPLimit     int           `koanf:"ip_limit"`
	TenantLimit int           `koanf:"tenant_limit"`
	Window      time.Duration `koanf:"window"`
}

// IdempotencyConfig configures Idempotency-Key retention.
type IdempotencyConfig struct {
	TTL time.Duration `koanf:"ttl"`
}

// SessionConfig configures conflict retries during session resolution.
type SessionConfig struct {
	MaxAttempts    int           `koanf:"max_attempts"`
	InitialBackoff time.Duration `koanf:"initial_backoff"`
	MaxBackoff     time.Duration `koanf:"max_backoff"`
}

// WebhookConfig configures outbound webhook delivery.
type WebhookConfig struct {
	Timeout time.Duration `koanf:"timeout"`

	// LegacyURL receives every event regardless of tenant. Empty disables it.
	LegacyURL    string `koanf:"legacy_url"`
	LegacySecret string `koanf:"legacy_secret"`

	// MaxPerSecond paces outbound requests across all endpoints. 0 = unlimited.
	MaxPerSecond float64 `koanf:"max_per_second"`
	Burst        int     `koanf:"burst"`

	// BreakerFailures consecutive failures open an endpoint's circuit for BreakerTimeout.
	BreakerFailures uint32        `koanf:"breaker_failures"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout"`
}

// BroadcastConfig configures live stream subscribers.
type BroadcastConfig struct {
	BufferSize        int           `koanf:"buffer_size"`
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`
}

// FanoutConfig configures the in-process event bus feeding webhook delivery.
type FanoutConfig struct {
	Topic      string `koanf:"topic"`
	BufferSize int64  `koanf:"buffer_size"`

	// Workers bounds how many events are delivered to webhooks at once.
	Workers int `koanf:"workers"`
}

// NATSConfig configures the optional JetStream-backed bus (built with -tags nats).
type NATSConfig struct {
	Enabled          bool          `koanf:"enabled"`
	URL              string        `koanf:"url"`
	QueueGroup       string        `koanf:"queue_group"`
	DurableName      string        `koanf:"durable_name"`
	SubscribersCount int           `koanf:"subscribers_count"`
	AckWaitTimeout   time.Duration `koanf:"ack_wait_timeout"`
	CloseTimeout     time.Duration `koanf:"close_timeout"`
	MaxReconnects    int           `koanf:"max_reconnects"`
	ReconnectWait    time.Duration `koanf:"reconnect_wait"`
}

// SecurityConfig configures tenant scoping and CORS.
type SecurityConfig struct {
	CORSOrigins []string `koanf:"cors_origins"`

	// TenantHeader carries the trusted tenant id set by an upstream gateway.
	TenantHeader string `koanf:"tenant_header"`

	// JWTSecret enables HS256 bearer tokens whose tenant_id claim is trusted.
	JWTSecret string `koanf:"jwt_secret"`

	// ManagementRateLimit caps requests per IP on non-ingest routes.
	ManagementRateLimit  int           `koanf:"management_rate_limit"`
	ManagementRateWindow time.Duration `koanf:"management_rate_window"`
}

// LoggingConfig configures zerolog.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Load reads configuration from defaults, an optional file and the environment.
func Load() (*Config, error) {
	return LoadWithKoanf()
}
