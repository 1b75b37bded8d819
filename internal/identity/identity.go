// Lightpost - Marketing Site Analytics and Experimentation Pipeline
// Copyright 2026 Lightpost Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/lightpost-io/lightpost

// Package identity derives and persists the long-lived anonymous identifier
// and the rolling session identifier for the analytics pipeline.
//
// Identity is created lazily on first access and mutated by every call that
// reads it (session activity bookkeeping). Normal expiry silently regenerates
// identifiers; only an explicit ClearIdentity destroys persisted state.
package identity

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/lightpost-io/lightpost/internal/logging"
	"github.com/lightpost-io/lightpost/internal/state"
)

// Storage keys for persisted records.
const (
	anonymousKey = "identity:anonymous"
	sessionKey   = "identity:session"
)

// dayKeyFormat is the UTC calendar-day key used for daily session reset.
const dayKeyFormat = "2006-01-02"

// Config controls identifier lifetimes.
type Config struct {
	// AnonymousIDExpiryDays is the anonymous identifier TTL. Default: 365.
	AnonymousIDExpiryDays int

	// SessionTimeoutMinutes is the idle timeout before a session is
	// considered stale. Default: 30.
	SessionTimeoutMinutes int

	// DailySessionReset starts a new session when the UTC day changes,
	// regardless of activity.
	DailySessionReset bool
}

// Identity is the resolved identity snapshot returned to callers.
type Identity struct {
	AnonymousID      string
	SessionID        string
	SessionStartedAt time.Time
	LastActivityAt   time.Time
	DayKey           string
}

// anonymousRecord is the persisted anonymous-id record.
type anonymousRecord struct {
	ID        string    `json:"id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// sessionRecord is the persisted session record.
type sessionRecord struct {
	ID               string    `json:"id"`
	SessionStartedAt time.Time `json:"session_started_at"`
	LastActivityAt   time.Time `json:"last_activity_at"`
	DayKey           string    `json:"day_key"`
}

// Manager owns identity state. It is safe for concurrent use.
//
// When the backing store fails, the manager degrades to in-memory-only
// identity for the life of the process and never surfaces the failure to
// callers.
type Manager struct {
	mu    sync.Mutex
	store state.Store
	cfg   Config

	// degraded means the backing store failed; records live only in memory.
	degraded bool
	memAnon  *anonymousRecord
	memSess  *sessionRecord

	// now is a test hook for time.
	now func() time.Time
}

// New creates a Manager over the given store. Zero config values get
// defaults (365 days, 30 minutes).
func New(store state.Store, cfg Config) *Manager {
	if cfg.AnonymousIDExpiryDays <= 0 {
		cfg.AnonymousIDExpiryDays = 365
	}
	if cfg.SessionTimeoutMinutes <= 0 {
		cfg.SessionTimeoutMinutes = 30
	}
	return &Manager{
		store: store,
		cfg:   cfg,
		now:   time.Now,
	}
}

// Identity resolves the full identity, minting or rolling identifiers as
// needed, and bumps session activity.
func (m *Manager) Identity() Identity {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	anon := m.loadAnonymous(now)
	sess := m.loadSession(now)

	return Identity{
		AnonymousID:      anon.ID,
		SessionID:        sess.ID,
		SessionStartedAt: sess.SessionStartedAt,
		LastActivityAt:   sess.LastActivityAt,
		DayKey:           sess.DayKey,
	}
}

// AnonymousID returns the stable anonymous identifier.
func (m *Manager) AnonymousID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadAnonymous(m.now()).ID
}

// SessionID returns the current session identifier, rolling the session if
// it is stale, and bumps activity.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadSession(m.now()).ID
}

// RefreshSession bumps last-activity without changing the session id.
func (m *Manager) RefreshSession() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadSession(m.now())
}

// ResetSession forces a new session id while preserving the anonymous id.
func (m *Manager) ResetSession() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	sess := m.newSession(now)
	m.persistSession(sess)
}

// ClearIdentity deletes both persisted records. The next read mints both
// from scratch. This is the opt-out path.
func (m *Manager) ClearIdentity() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.memAnon = nil
	m.memSess = nil
	if m.degraded {
		return
	}
	if err := m.store.Delete(anonymousKey); err != nil {
		logging.Warn().Err(err).Msg("Failed to delete anonymous record")
	}
	if err := m.store.Delete(sessionKey); err != nil {
		logging.Warn().Err(err).Msg("Failed to delete session record")
	}
}

// loadAnonymous returns the current anonymous record, minting a fresh one if
// absent or expired. Must be called with mu held.
func (m *Manager) loadAnonymous(now time.Time) *anonymousRecord {
	rec := m.readAnonymous()
	if rec != nil && now.Before(rec.ExpiresAt) {
		return rec
	}

	rec = &anonymousRecord{
		ID:        uuid.New().String(),
		ExpiresAt: now.Add(time.Duration(m.cfg.AnonymousIDExpiryDays) * 24 * time.Hour),
	}
	m.persistAnonymous(rec)
	return rec
}

// loadSession returns the current session record, rolling it when stale and
// always bumping last-activity. Must be called with mu held.
func (m *Manager) loadSession(now time.Time) *sessionRecord {
	rec := m.readSession()
	if rec == nil || m.sessionStale(rec, now) {
		rec = m.newSession(now)
	} else {
		rec.LastActivityAt = now
	}
	m.persistSession(rec)
	return rec
}

// sessionStale reports whether the stored session should be replaced:
// idle past the timeout, or the UTC day rolled when daily reset is enabled.
func (m *Manager) sessionStale(rec *sessionRecord, now time.Time) bool {
	timeout := time.Duration(m.cfg.SessionTimeoutMinutes) * time.Minute
	if now.Sub(rec.LastActivityAt) > timeout {
		return true
	}
	if m.cfg.DailySessionReset && rec.DayKey != now.UTC().Format(dayKeyFormat) {
		return true
	}
	return false
}

// newSession mints a fresh session record.
func (m *Manager) newSession(now time.Time) *sessionRecord {
	return &sessionRecord{
		ID:               fmt.Sprintf("%d-%s", now.UnixMilli(), randomHex(8)),
		SessionStartedAt: now,
		LastActivityAt:   now,
		DayKey:           now.UTC().Format(dayKeyFormat),
	}
}

func (m *Manager) readAnonymous() *anonymousRecord {
	if m.degraded {
		return m.memAnon
	}
	raw, err := m.store.Get(anonymousKey)
	if err != nil {
		if !errors.Is(err, state.ErrNotFound) {
			m.degrade(err)
		}
		return m.memAnon
	}
	var rec anonymousRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		logging.Warn().Err(err).Msg("Corrupt anonymous record, regenerating")
		return nil
	}
	return &rec
}

func (m *Manager) readSession() *sessionRecord {
	if m.degraded {
		return m.memSess
	}
	raw, err := m.store.Get(sessionKey)
	if err != nil {
		if !errors.Is(err, state.ErrNotFound) {
			m.degrade(err)
		}
		return m.memSess
	}
	var rec sessionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		logging.Warn().Err(err).Msg("Corrupt session record, regenerating")
		return nil
	}
	return &rec
}

func (m *Manager) persistAnonymous(rec *anonymousRecord) {
	m.memAnon = rec
	if m.degraded {
		return
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := m.store.Set(anonymousKey, raw); err != nil {
		m.degrade(err)
	}
}

func (m *Manager) persistSession(rec *sessionRecord) {
	m.memSess = rec
	if m.degraded {
		return
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := m.store.Set(sessionKey, raw); err != nil {
		m.degrade(err)
	}
}

// degrade switches to in-memory-only identity for the rest of the process.
func (m *Manager) degrade(err error) {
	if m.degraded {
		return
	}
	m.degraded = true
	logging.Warn().Err(err).Msg("Identity store unavailable, falling back to in-memory identity")
}

// randomHex returns n random bytes hex-encoded.
func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failure is effectively unreachable; fall back to uuid.
		return uuid.New().String()[:2*n]
	}
	return hex.EncodeToString(buf)
}
