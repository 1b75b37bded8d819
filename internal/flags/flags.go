// Lightpost - Marketing Site Analytics and Experimentation Pipeline
// Copyright 2026 Lightpost Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/lightpost-io/lightpost

// Package flags evaluates feature flags from a config source and
// deterministically assigns experiment variants per identity, emitting
// assignment and exposure events through the tracker.
package flags

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/lightpost-io/lightpost/internal/analytics"
	"github.com/lightpost-io/lightpost/internal/identity"
	"github.com/lightpost-io/lightpost/internal/logging"
	"github.com/lightpost-io/lightpost/internal/metrics"
)

// FeatureFlag is a single flag definition.
type FeatureFlag struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`

	// Variant carries an optional variant label for multi-variant flags.
	Variant string `json:"variant,omitempty"`

	// TargetingRules is an open rule map interpreted by callers.
	TargetingRules map[string]string `json:"targeting_rules,omitempty"`
}

// compiledDefaults are the flags every deployment starts with. Caller
// defaults override these; the remote source overrides both.
var compiledDefaults = map[string]FeatureFlag{
	"analytics_enabled": {Name: "analytics_enabled", Enabled: true},
	"consent_banner_v2": {Name: "consent_banner_v2", Enabled: false},
}

// Config controls flag seeding and remote refresh.
type Config struct {
	// Defaults are merged over the compiled-in defaults (caller wins).
	Defaults map[string]FeatureFlag

	// RemoteURL is an optional JSON endpoint serving `{"flags": {...}}` or a
	// bare flag map. Empty disables remote refresh.
	RemoteURL string

	// PollInterval re-fetches the flag map on an interval. Zero means a
	// single synchronous fetch at init.
	PollInterval time.Duration

	// FetchTimeout bounds a single fetch. Default: 10s.
	FetchTimeout time.Duration
}

// Manager holds the in-memory flag map and experiment assignments.
// It is safe for concurrent use.
type Manager struct {
	mu    sync.RWMutex
	flags map[string]FeatureFlag

	cfg     Config
	client  *http.Client
	ids     *identity.Manager
	tracker *analytics.Tracker

	assignments map[string]ExperimentAssignment
}

// New creates a Manager seeded from compiled-in defaults merged with
// cfg.Defaults (caller wins). When a remote URL is configured, one
// synchronous fetch runs during init; fetch failures are logged and leave
// the seeded flags intact.
func New(cfg Config, ids *identity.Manager, tracker *analytics.Tracker) *Manager {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}

	seeded := make(map[string]FeatureFlag, len(compiledDefaults)+len(cfg.Defaults))
	for name, f := range compiledDefaults {
		seeded[name] = f
	}
	for name, f := range cfg.Defaults {
		if f.Name == "" {
			f.Name = name
		}
		seeded[name] = f
	}

	m := &Manager{
		flags:       seeded,
		cfg:         cfg,
		client:      &http.Client{Timeout: cfg.FetchTimeout},
		ids:         ids,
		tracker:     tracker,
		assignments: make(map[string]ExperimentAssignment),
	}

	if cfg.RemoteURL != "" {
		if err := m.Refresh(context.Background()); err != nil {
			logging.Warn().Err(err).Msg("Initial flag fetch failed, keeping defaults")
		}
	}

	return m
}

// IsEnabled reports whether the named flag is enabled, or def when the flag
// is unknown.
func (m *Manager) IsEnabled(name string, def bool) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if f, ok := m.flags[name]; ok {
		return f.Enabled
	}
	return def
}

// Flag returns the named flag definition.
func (m *Manager) Flag(name string) (FeatureFlag, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.flags[name]
	return f, ok
}

// AllFlags returns a copy of the current flag map.
func (m *Manager) AllFlags() map[string]FeatureFlag {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]FeatureFlag, len(m.flags))
	for name, f := range m.flags {
		out[name] = f
	}
	return out
}

// remotePayload accepts both `{"flags": {...}}` and a bare flag map.
type remotePayload struct {
	Flags map[string]FeatureFlag `json:"flags"`
}

// Refresh fetches the remote flag map and replaces the whole in-memory map
// on success (last-fetch-wins, no partial merge). Overlapping refreshes are
// not prevented; whole-map replacement makes the race harmless.
func (m *Manager) Refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.RemoteURL, nil)
	if err != nil {
		metrics.RecordFlagRefresh("failure")
		return fmt.Errorf("build flag request: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		metrics.RecordFlagRefresh("failure")
		return fmt.Errorf("fetch flags: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.RecordFlagRefresh("failure")
		return fmt.Errorf("fetch flags: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		metrics.RecordFlagRefresh("failure")
		return fmt.Errorf("read flag response: %w", err)
	}

	var payload remotePayload
	if err := json.Unmarshal(body, &payload); err != nil || payload.Flags == nil {
		// Fall back to a bare flag map.
		var bare map[string]FeatureFlag
		if bareErr := json.Unmarshal(body, &bare); bareErr != nil || bare == nil {
			metrics.RecordFlagRefresh("failure")
			return fmt.Errorf("decode flag response: %w", err)
		}
		payload.Flags = bare
	}

	for name, f := range payload.Flags {
		if f.Name == "" {
			f.Name = name
			payload.Flags[name] = f
		}
	}

	m.mu.Lock()
	m.flags = payload.Flags
	m.mu.Unlock()

	metrics.RecordFlagRefresh("success")
	logging.Debug().Int("count", len(payload.Flags)).Msg("Flag map refreshed")
	return nil
}

// Poller returns a suture-compatible service that refreshes the flag map on
// the configured interval until its context is canceled. The returned
// service is nil when polling is not configured.
func (m *Manager) Poller() *Poller {
	if m.cfg.RemoteURL == "" || m.cfg.PollInterval <= 0 {
		return nil
	}
	return &Poller{manager: m, interval: m.cfg.PollInterval}
}

// Poller periodically refreshes the flag map. It implements suture.Service.
type Poller struct {
	manager  *Manager
	interval time.Duration
}

// Serve runs the refresh loop until ctx is canceled.
func (p *Poller) Serve(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.manager.Refresh(ctx); err != nil {
				logging.Warn().Err(err).Msg("Flag refresh failed, keeping previous flags")
			}
		}
	}
}

// String names the service in supervisor logs.
func (p *Poller) String() string { return "flag-poller" }
