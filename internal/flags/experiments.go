// Lightpost - Marketing Site Analytics and Experimentation Pipeline
// Copyright 2026 Lightpost Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/lightpost-io/lightpost

package flags

import (
	"hash/fnv"
	"math"
	"time"

	"github.com/lightpost-io/lightpost/internal/logging"
)

// ExperimentAssignment records a variant decision for one identity.
type ExperimentAssignment struct {
	ExperimentID string    `json:"experiment_id"`
	Variant      string    `json:"variant"`
	AssignedAt   time.Time `json:"assigned_at"`
	SessionID    string    `json:"session_id"`
}

// AssignVariant deterministically assigns a variant for the experiment.
//
// The draw hashes "experimentID:anonymousID" to a [0,1) threshold and walks
// the variants accumulating normalized weights (uniform when weights are
// nil or mismatched) until the cumulative weight exceeds the threshold.
// The same identity therefore always receives the same variant without any
// server-side assignment storage. When accumulated float weights never
// clear the threshold, the last variant wins.
//
// The first assignment per experiment emits an experiment_assigned event
// and is cached for the process lifetime; repeated calls return the cached
// variant without re-rolling.
func (m *Manager) AssignVariant(experimentID string, variants []string, weights []float64) string {
	if len(variants) == 0 {
		return ""
	}

	m.mu.RLock()
	existing, ok := m.assignments[experimentID]
	m.mu.RUnlock()
	if ok {
		return existing.Variant
	}

	anonymousID := m.ids.AnonymousID()
	variant := pickVariant(experimentID, anonymousID, variants, weights)

	m.mu.Lock()
	// A concurrent caller may have assigned in the meantime; the hash is
	// deterministic so both computed the same variant, keep the first record.
	if existing, ok := m.assignments[experimentID]; ok {
		m.mu.Unlock()
		return existing.Variant
	}
	assignment := ExperimentAssignment{
		ExperimentID: experimentID,
		Variant:      variant,
		AssignedAt:   time.Now().UTC(),
		SessionID:    m.ids.SessionID(),
	}
	m.assignments[experimentID] = assignment
	m.mu.Unlock()

	if m.tracker != nil {
		m.tracker.Track("experiment_assigned", map[string]interface{}{
			"experiment_id": experimentID,
			"variant":       variant,
		})
	}

	return variant
}

// TrackExposure emits an experiment_exposed event for a previously assigned
// experiment. Calling it for an unassigned experiment is a non-fatal
// warning, not an error.
func (m *Manager) TrackExposure(experimentID string) bool {
	m.mu.RLock()
	assignment, ok := m.assignments[experimentID]
	m.mu.RUnlock()

	if !ok {
		logging.Warn().
			Str("experiment_id", experimentID).
			Msg("Exposure tracked for unassigned experiment")
		return false
	}

	if m.tracker != nil {
		m.tracker.Track("experiment_exposed", map[string]interface{}{
			"experiment_id": experimentID,
			"variant":       assignment.Variant,
		})
	}
	return true
}

// Assignment returns the cached assignment for an experiment.
func (m *Manager) Assignment(experimentID string) (ExperimentAssignment, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assignments[experimentID]
	return a, ok
}

// pickVariant maps (experimentID, anonymousID) to a variant via a
// normalized cumulative-weight walk over a deterministic [0,1) threshold.
func pickVariant(experimentID, anonymousID string, variants []string, weights []float64) string {
	threshold := hashUnit(experimentID + ":" + anonymousID)

	if len(weights) != len(variants) {
		weights = nil
	}

	var total float64
	if weights != nil {
		for _, w := range weights {
			if w < 0 {
				weights = nil
				break
			}
			total += w
		}
		if weights != nil && (total <= 0 || math.IsNaN(total) || math.IsInf(total, 0)) {
			weights = nil
		}
	}

	var cumulative float64
	for i, v := range variants {
		if weights == nil {
			cumulative += 1.0 / float64(len(variants))
		} else {
			cumulative += weights[i] / total
		}
		if threshold < cumulative {
			return v
		}
	}

	// Float accumulation can land just short of 1.0; last variant wins.
	return variants[len(variants)-1]
}

// hashUnit reduces a string to a deterministic value in [0,1) via FNV-1a.
func hashUnit(s string) float64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return float64(h.Sum32()) / float64(math.MaxUint32+1.0)
}
