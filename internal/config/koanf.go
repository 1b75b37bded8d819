// Lightpost - Marketing Site Analytics and Experimentation Pipeline
// Copyright 2026 Lightpost Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/lightpost-io/lightpost

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order
// of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/lightpost/config.yaml",
	"/etc/lightpost/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config struct with all sensible default values.
// These defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8873,
			Timeout:     30 * time.Second,
			Environment: "development",
			CORSOrigins: []string{"*"},
		},
		Analytics: AnalyticsConfig{
			Enabled:               true,
			Debug:                 false,
			SamplingRate:          1.0,
			AppVersion:            "",
			AnonymousIDExpiryDays: 365,
			SessionTimeoutMinutes: 30,
			DailySessionReset:     false,
			StatePath:             "", // in-memory unless configured
			EventsPerDay:          50000,
			BaseSamplingRate:      1.0,
		},
		Flags: FlagsConfig{
			RemoteURL:    "",
			PollInterval: 0, // fetch once at init when a remote URL is set
			FetchTimeout: 10 * time.Second,
		},
		Collector: CollectorConfig{
			RateLimitRequests: 100,
			RateLimitWindow:   time.Minute,
			SweepInterval:     5 * time.Minute,
		},
		Idempotency: IdempotencyConfig{
			Backend:    "disabled",
			RedisAddr:  "",
			RedisDB:    0,
			BadgerPath: "",
		},
		Forward: ForwardConfig{
			HTTPTargets:     nil,
			HTTPTimeout:     10 * time.Second,
			NATSURL:         "",
			NATSSubject:     "lightpost.events",
			KafkaBrokers:    nil,
			KafkaTopic:      "",
			EventsPerSecond: 0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in sensible defaults
//  2. Config file: optional YAML config file (if exists)
//  3. Environment variables: override any setting
func Load() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: config file (optional)
	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: environment variables (highest priority)
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Comma-separated env values for slice fields
	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the path to the first file found, or empty string if none found.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths defines which config paths should be parsed as
// comma-separated slices when supplied through the environment.
var sliceConfigPaths = []string{
	"server.cors_origins",
	"forward.http_targets",
	"forward.kafka_brokers",
}

// processSliceFields converts comma-separated string values to slices for
// known slice fields. Env vars come in as strings but the config expects slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		// Already a slice (from the YAML file)
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}

		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc maps environment variable names to koanf config paths.
// Unmapped variables are dropped so random environment noise cannot pollute
// the configuration.
//
// Examples:
//   - HTTP_PORT -> server.port
//   - ANALYTICS_SAMPLING_RATE -> analytics.sampling_rate
//   - IDEMPOTENCY_BACKEND -> idempotency.backend
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Server mappings
		"http_host":    "server.host",
		"http_port":    "server.port",
		"http_timeout": "server.timeout",
		"environment":  "server.environment",
		"cors_origins": "server.cors_origins",

		// Analytics pipeline mappings
		"analytics_enabled":        "analytics.enabled",
		"analytics_debug":          "analytics.debug",
		"analytics_sampling_rate":  "analytics.sampling_rate",
		"analytics_app_version":    "analytics.app_version",
		"anonymous_id_expiry_days": "analytics.anonymous_id_expiry_days",
		"session_timeout_minutes":  "analytics.session_timeout_minutes",
		"daily_session_reset":      "analytics.daily_session_reset",
		"analytics_state_path":     "analytics.state_path",
		"events_per_day":           "analytics.events_per_day",
		"base_sampling_rate":       "analytics.base_sampling_rate",

		// Feature flag mappings
		"flags_remote_url":    "flags.remote_url",
		"flags_poll_interval": "flags.poll_interval",
		"flags_fetch_timeout": "flags.fetch_timeout",

		// Collector mappings
		"rate_limit_requests": "collector.rate_limit_requests",
		"rate_limit_window":   "collector.rate_limit_window",
		"rate_limit_sweep":    "collector.sweep_interval",

		// Idempotency mappings
		"idempotency_backend": "idempotency.backend",
		"redis_addr":          "idempotency.redis_addr",
		"redis_password":      "idempotency.redis_password",
		"redis_db":            "idempotency.redis_db",
		"badger_path":         "idempotency.badger_path",

		// Forwarding mappings
		"forward_http_targets":      "forward.http_targets",
		"forward_http_timeout":      "forward.http_timeout",
		"forward_nats_url":          "forward.nats_url",
		"forward_nats_subject":      "forward.nats_subject",
		"forward_kafka_brokers":     "forward.kafka_brokers",
		"forward_kafka_topic":       "forward.kafka_topic",
		"forward_events_per_second": "forward.events_per_second",

		// Logging mappings
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	// Skip unmapped keys.
	return ""
}
