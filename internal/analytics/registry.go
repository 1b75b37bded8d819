// Lightpost - Marketing Site Analytics and Experimentation Pipeline
// Copyright 2026 Lightpost Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/lightpost-io/lightpost

package analytics

import (
	"context"
	"sync"

	"github.com/lightpost-io/lightpost/internal/consent"
	"github.com/lightpost-io/lightpost/internal/logging"
)

// Status is a destination's lifecycle state. Destinations are modeled as a
// tagged state rather than nullable handles: consent-gated SDKs start as
// StatusPending and flip to StatusReady once initialized, or
// StatusDisabled when configured off.
type Status int

const (
	StatusPending Status = iota
	StatusReady
	StatusDisabled
)

// String returns the status name for logging.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusReady:
		return "ready"
	case StatusDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// Destination consumes canonical events and forwards them in its own wire
// format. Send is fire-and-forget: it runs on its own goroutine and its
// failures must never reach the tracker's caller. Each destination declares
// the consent category matching its data sensitivity.
type Destination interface {
	Name() string
	Category() consent.Category
	Status() Status
	Send(ctx context.Context, ev Event)
}

// Registry fans canonical events out to registered destinations with
// per-sink error isolation.
type Registry struct {
	mu    sync.RWMutex
	gate  *consent.Gate
	sinks []Destination
}

// NewRegistry creates a registry gated by the given consent gate.
func NewRegistry(gate *consent.Gate) *Registry {
	return &Registry{gate: gate}
}

// Register adds a destination.
func (r *Registry) Register(d Destination) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks = append(r.sinks, d)
}

// Len returns the number of registered destinations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sinks)
}

// Dispatch delivers ev to every ready destination whose consent category is
// granted. Each sink runs on its own goroutine; a panicking or slow sink
// cannot affect the others or the caller.
func (r *Registry) Dispatch(ctx context.Context, ev Event) {
	r.mu.RLock()
	sinks := make([]Destination, len(r.sinks))
	copy(sinks, r.sinks)
	r.mu.RUnlock()

	for _, sink := range sinks {
		if sink.Status() != StatusReady {
			continue
		}
		if !r.gate.CanTrack(sink.Category()) {
			continue
		}

		go func(d Destination) {
			defer func() {
				if rec := recover(); rec != nil {
					logging.Error().
						Str("destination", d.Name()).
						Interface("panic", rec).
						Msg("Destination panicked")
				}
			}()
			d.Send(ctx, ev)
		}(sink)
	}
}
