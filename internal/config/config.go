// Lightpost - Marketing Site Analytics and Experimentation Pipeline
// Copyright 2026 Lightpost Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/lightpost-io/lightpost

// Package config provides layered configuration loading via Koanf v2.
// Precedence (highest wins): environment variables > config file > defaults.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the collector and the embedded
// analytics pipeline.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Analytics   AnalyticsConfig   `koanf:"analytics"`
	Flags       FlagsConfig       `koanf:"flags"`
	Collector   CollectorConfig   `koanf:"collector"`
	Idempotency IdempotencyConfig `koanf:"idempotency"`
	Forward     ForwardConfig     `koanf:"forward"`
	Logging     LoggingConfig     `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`

	// Timeout applies to reads, writes and graceful shutdown.
	Timeout time.Duration `koanf:"timeout"`

	// Environment tags emitted events and gates dev-only behavior
	// ("development" or "production").
	Environment string `koanf:"environment"`

	// CORSOrigins lists origins allowed to POST events from the browser.
	CORSOrigins []string `koanf:"cors_origins"`
}

// AnalyticsConfig holds client-pipeline settings.
type AnalyticsConfig struct {
	// Enabled disables the whole pipeline when false; track calls become no-ops.
	Enabled bool `koanf:"enabled"`

	// Debug logs every accepted event without disabling destinations.
	Debug bool `koanf:"debug"`

	// SamplingRate is the per-call acceptance probability in [0,1].
	SamplingRate float64 `koanf:"sampling_rate"`

	// AppVersion tags every emitted event.
	AppVersion string `koanf:"app_version"`

	// AnonymousIDExpiryDays is the anonymous identifier TTL.
	AnonymousIDExpiryDays int `koanf:"anonymous_id_expiry_days"`

	// SessionTimeoutMinutes is the idle timeout before a new session starts.
	SessionTimeoutMinutes int `koanf:"session_timeout_minutes"`

	// DailySessionReset forces a new session when the UTC day changes.
	DailySessionReset bool `koanf:"daily_session_reset"`

	// StatePath is the Badger directory for persisted identity/consent state.
	// Empty means in-memory only.
	StatePath string `koanf:"state_path"`

	// EventsPerDay caps total outbound events per UTC day (0 = unlimited).
	EventsPerDay int64 `koanf:"events_per_day"`

	// BaseSamplingRate is the cost-control sampling floor in [0,1],
	// applied in addition to SamplingRate.
	BaseSamplingRate float64 `koanf:"base_sampling_rate"`
}

// FlagsConfig holds feature-flag and remote-config settings.
type FlagsConfig struct {
	// RemoteURL is an optional JSON endpoint serving the flag map.
	RemoteURL string `koanf:"remote_url"`

	// PollInterval is how often the flag map is refreshed (0 = fetch once).
	PollInterval time.Duration `koanf:"poll_interval"`

	// FetchTimeout bounds a single remote fetch.
	FetchTimeout time.Duration `koanf:"fetch_timeout"`
}

// CollectorConfig holds event-collection endpoint settings.
type CollectorConfig struct {
	// RateLimitRequests is the per-client request cap per window.
	RateLimitRequests int `koanf:"rate_limit_requests"`

	// RateLimitWindow is the sliding-window duration.
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`

	// SweepInterval is how often expired rate-limit buckets are removed.
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

// IdempotencyConfig selects the idempotency store backend.
type IdempotencyConfig struct {
	// Backend is one of: redis, badger, disabled.
	Backend string `koanf:"backend"`

	// RedisAddr is the host:port of the shared Redis instance.
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`

	// BadgerPath is the directory for the embedded store.
	BadgerPath string `koanf:"badger_path"`
}

// ForwardConfig holds downstream forwarding targets. All targets are
// optional and best-effort.
type ForwardConfig struct {
	// HTTPTargets are URLs receiving the accepted event as JSON POST.
	HTTPTargets []string `koanf:"http_targets"`

	// HTTPTimeout bounds a single forward request.
	HTTPTimeout time.Duration `koanf:"http_timeout"`

	// NATSURL enables the NATS forwarder when non-empty.
	NATSURL     string `koanf:"nats_url"`
	NATSSubject string `koanf:"nats_subject"`

	// KafkaBrokers enables the Kafka forwarder when non-empty.
	KafkaBrokers []string `koanf:"kafka_brokers"`
	KafkaTopic   string   `koanf:"kafka_topic"`

	// EventsPerSecond paces outbound forwards (0 = unpaced).
	EventsPerSecond float64 `koanf:"events_per_second"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Validate checks the configuration for values that cannot work at runtime.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port)
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("server.timeout must be positive, got %s", c.Server.Timeout)
	}
	if c.Analytics.SamplingRate < 0 || c.Analytics.SamplingRate > 1 {
		return fmt.Errorf("analytics.sampling_rate must be in [0,1], got %v", c.Analytics.SamplingRate)
	}
	if c.Analytics.BaseSamplingRate < 0 || c.Analytics.BaseSamplingRate > 1 {
		return fmt.Errorf("analytics.base_sampling_rate must be in [0,1], got %v", c.Analytics.BaseSamplingRate)
	}
	if c.Analytics.EventsPerDay < 0 {
		return fmt.Errorf("analytics.events_per_day must not be negative, got %d", c.Analytics.EventsPerDay)
	}
	if c.Analytics.AnonymousIDExpiryDays <= 0 {
		return fmt.Errorf("analytics.anonymous_id_expiry_days must be positive, got %d", c.Analytics.AnonymousIDExpiryDays)
	}
	if c.Analytics.SessionTimeoutMinutes <= 0 {
		return fmt.Errorf("analytics.session_timeout_minutes must be positive, got %d", c.Analytics.SessionTimeoutMinutes)
	}
	if c.Collector.RateLimitRequests <= 0 {
		return fmt.Errorf("collector.rate_limit_requests must be positive, got %d", c.Collector.RateLimitRequests)
	}
	if c.Collector.RateLimitWindow <= 0 {
		return fmt.Errorf("collector.rate_limit_window must be positive, got %s", c.Collector.RateLimitWindow)
	}
	switch c.Idempotency.Backend {
	case "redis", "badger", "disabled":
	default:
		return fmt.Errorf("idempotency.backend must be one of redis, badger, disabled; got %q", c.Idempotency.Backend)
	}
	if c.Idempotency.Backend == "redis" && c.Idempotency.RedisAddr == "" {
		return fmt.Errorf("idempotency.redis_addr is required when backend is redis")
	}
	if c.Idempotency.Backend == "badger" && c.Idempotency.BadgerPath == "" {
		return fmt.Errorf("idempotency.badger_path is required when backend is badger")
	}
	if len(c.Forward.KafkaBrokers) > 0 && c.Forward.KafkaTopic == "" {
		return fmt.Errorf("forward.kafka_topic is required when kafka brokers are configured")
	}
	if c.Forward.NATSURL != "" && c.Forward.NATSSubject == "" {
		return fmt.Errorf("forward.nats_subject is required when nats_url is configured")
	}
	if c.Flags.PollInterval < 0 {
		return fmt.Errorf("flags.poll_interval must not be negative, got %s", c.Flags.PollInterval)
	}
	return nil
}
