// Lightpost - Marketing Site Analytics and Experimentation Pipeline
// Copyright 2026 Lightpost Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/lightpost-io/lightpost

package identity

import (
	"errors"
	"testing"
	"time"

	"github.com/lightpost-io/lightpost/internal/state"
)

// failStore errors on every operation, simulating a broken backing store.
type failStore struct{}

func (failStore) Get(string) ([]byte, error)  { return nil, errors.New("store broken") }
func (failStore) Set(string, []byte) error    { return errors.New("store broken") }
func (failStore) Delete(string) error         { return errors.New("store broken") }
func (failStore) Close() error                { return nil }

func newTestManager(cfg Config) (*Manager, *time.Time) {
	m := New(state.NewMemoryStore(), cfg)
	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	return m, &now
}

func TestAnonymousIDStable(t *testing.T) {
	m, _ := newTestManager(Config{})

	first := m.AnonymousID()
	if first == "" {
		t.Fatal("expected non-empty anonymous id")
	}
	for i := 0; i < 5; i++ {
		if got := m.AnonymousID(); got != first {
			t.Fatalf("anonymous id changed: %q != %q", got, first)
		}
	}
}

func TestAnonymousIDSurvivesRestart(t *testing.T) {
	store := state.NewMemoryStore()

	m1 := New(store, Config{})
	first := m1.AnonymousID()

	m2 := New(store, Config{})
	if got := m2.AnonymousID(); got != first {
		t.Fatalf("anonymous id not persisted: %q != %q", got, first)
	}
}

func TestAnonymousIDExpiry(t *testing.T) {
	m, now := newTestManager(Config{AnonymousIDExpiryDays: 1})

	first := m.AnonymousID()
	*now = now.Add(25 * time.Hour)

	second := m.AnonymousID()
	if second == first {
		t.Fatal("expected a fresh anonymous id after expiry")
	}
	// regeneration is silent; the new id must be stable again
	if got := m.AnonymousID(); got != second {
		t.Fatalf("regenerated id not stable: %q != %q", got, second)
	}
}

func TestSessionIdleTimeout(t *testing.T) {
	m, now := newTestManager(Config{SessionTimeoutMinutes: 30})

	first := m.SessionID()

	*now = now.Add(29 * time.Minute)
	if got := m.SessionID(); got != first {
		t.Fatalf("session rolled before timeout: %q != %q", got, first)
	}

	// activity above bumped last-activity, so the clock restarts from there
	*now = now.Add(31 * time.Minute)
	if got := m.SessionID(); got == first {
		t.Fatal("expected a new session after idle timeout")
	}
}

func TestSessionActivityExtends(t *testing.T) {
	m, now := newTestManager(Config{SessionTimeoutMinutes: 30})

	first := m.SessionID()
	for i := 0; i < 4; i++ {
		*now = now.Add(20 * time.Minute)
		if got := m.SessionID(); got != first {
			t.Fatalf("session rolled despite continuous activity at step %d", i)
		}
	}
}

func TestDailySessionReset(t *testing.T) {
	m, now := newTestManager(Config{SessionTimeoutMinutes: 600, DailySessionReset: true})

	first := m.SessionID()
	*now = now.Add(15 * time.Hour) // next UTC day, still inside idle timeout

	if got := m.SessionID(); got == first {
		t.Fatal("expected a new session after UTC day change")
	}
}

func TestResetSessionKeepsAnonymousID(t *testing.T) {
	m, _ := newTestManager(Config{})

	anon := m.AnonymousID()
	sess := m.SessionID()

	m.ResetSession()

	if got := m.SessionID(); got == sess {
		t.Fatal("expected a new session id after reset")
	}
	if got := m.AnonymousID(); got != anon {
		t.Fatalf("anonymous id changed on session reset: %q != %q", got, anon)
	}
}

func TestClearIdentity(t *testing.T) {
	m, _ := newTestManager(Config{})

	anon := m.AnonymousID()
	sess := m.SessionID()

	m.ClearIdentity()

	if got := m.AnonymousID(); got == anon {
		t.Fatal("expected a fresh anonymous id after clear")
	}
	if got := m.SessionID(); got == sess {
		t.Fatal("expected a fresh session id after clear")
	}
}

func TestFailingStoreFallsBackToMemory(t *testing.T) {
	m := New(failStore{}, Config{})

	first := m.AnonymousID()
	if first == "" {
		t.Fatal("expected an anonymous id despite store failure")
	}
	if got := m.AnonymousID(); got != first {
		t.Fatalf("in-memory fallback id not stable: %q != %q", got, first)
	}

	sess := m.SessionID()
	if sess == "" {
		t.Fatal("expected a session id despite store failure")
	}
	if got := m.SessionID(); got != sess {
		t.Fatalf("in-memory fallback session not stable: %q != %q", got, sess)
	}
}

func TestIdentitySnapshot(t *testing.T) {
	m, now := newTestManager(Config{})

	id := m.Identity()
	if id.AnonymousID == "" || id.SessionID == "" {
		t.Fatal("expected fully populated identity")
	}
	if id.DayKey != now.UTC().Format("2006-01-02") {
		t.Fatalf("unexpected day key %q", id.DayKey)
	}
	if !id.LastActivityAt.Equal(*now) {
		t.Fatalf("last activity not bumped: %v", id.LastActivityAt)
	}
}
