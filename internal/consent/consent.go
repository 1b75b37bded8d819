// Lightpost - Marketing Site Analytics and Experimentation Pipeline
// Copyright 2026 Lightpost Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/lightpost-io/lightpost

// Package consent holds the three-tier consent decision and answers
// "may I track category X". Tracking is default-deny for analytics and
// marketing until the visitor makes an explicit choice.
package consent

import (
	"sync"

	"github.com/goccy/go-json"

	"github.com/lightpost-io/lightpost/internal/logging"
	"github.com/lightpost-io/lightpost/internal/state"
)

// Category is a consent category.
type Category string

const (
	// Necessary covers strictly required functionality. Always granted.
	Necessary Category = "necessary"

	// Analytics covers usage measurement.
	Analytics Category = "analytics"

	// Marketing covers advertising and remarketing pixels.
	Marketing Category = "marketing"
)

// choicesKey is the storage key for the persisted consent record.
const choicesKey = "consent:choices"

// record is the persisted consent state.
type record struct {
	Choices       map[Category]bool `json:"choices"`
	HasInteracted bool              `json:"has_interacted"`
}

func defaultRecord() record {
	return record{
		Choices: map[Category]bool{
			Necessary: true,
			Analytics: false,
			Marketing: false,
		},
		HasInteracted: false,
	}
}

// Gate is the consent gate. It is safe for concurrent use.
type Gate struct {
	mu        sync.Mutex
	store     state.Store
	rec       record
	prefsOpen bool
}

// New creates a Gate, loading any persisted choices. Load failures fall
// back to default-deny.
func New(store state.Store) *Gate {
	g := &Gate{
		store: store,
		rec:   defaultRecord(),
	}

	raw, err := store.Get(choicesKey)
	if err == nil {
		var rec record
		if jsonErr := json.Unmarshal(raw, &rec); jsonErr == nil && rec.Choices != nil {
			// necessary is never settable to false, whatever was stored
			rec.Choices[Necessary] = true
			g.rec = rec
		}
	}

	return g
}

// AcceptAll grants every category.
func (g *Gate) AcceptAll() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rec.Choices[Analytics] = true
	g.rec.Choices[Marketing] = true
	g.rec.HasInteracted = true
	g.persist()
}

// AcceptNecessary grants only the necessary category.
func (g *Gate) AcceptNecessary() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rec.Choices[Analytics] = false
	g.rec.Choices[Marketing] = false
	g.rec.HasInteracted = true
	g.persist()
}

// UpdateCategories applies a granular save. The necessary category cannot
// be revoked and attempts to do so are ignored.
func (g *Gate) UpdateCategories(choices map[Category]bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for cat, allowed := range choices {
		if cat == Necessary {
			continue
		}
		if cat != Analytics && cat != Marketing {
			continue
		}
		g.rec.Choices[cat] = allowed
	}
	g.rec.HasInteracted = true
	g.persist()
}

// Withdraw revokes analytics and marketing consent. The decision itself is
// remembered, so the banner does not reappear.
func (g *Gate) Withdraw() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rec.Choices[Analytics] = false
	g.rec.Choices[Marketing] = false
	g.rec.HasInteracted = true
	g.persist()
}

// CanTrack reports whether the category may be tracked. Necessary is always
// true; unknown categories are never trackable.
func (g *Gate) CanTrack(cat Category) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if cat == Necessary {
		return true
	}
	return g.rec.Choices[cat]
}

// HasInteracted reports whether the visitor has made an explicit choice.
func (g *Gate) HasInteracted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rec.HasInteracted
}

// ShouldShowBanner reports whether the consent banner should be shown.
func (g *Gate) ShouldShowBanner() bool {
	return !g.HasInteracted()
}

// OpenPreferences marks the preferences dialog as open.
func (g *Gate) OpenPreferences() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prefsOpen = true
}

// ClosePreferences marks the preferences dialog as closed.
func (g *Gate) ClosePreferences() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prefsOpen = false
}

// PreferencesOpen reports whether the preferences dialog is open.
func (g *Gate) PreferencesOpen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.prefsOpen
}

// persist writes the record through the store. Failures are logged and
// swallowed; the in-memory decision still applies. Must be called with mu held.
func (g *Gate) persist() {
	raw, err := json.Marshal(g.rec)
	if err != nil {
		return
	}
	if err := g.store.Set(choicesKey, raw); err != nil {
		logging.Warn().Err(err).Msg("Failed to persist consent choices")
	}
}
