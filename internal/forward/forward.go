// Lightpost - Marketing Site Analytics and Experimentation Pipeline
// Copyright 2026 Lightpost Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/lightpost-io/lightpost

// Package forward ships accepted collector events to downstream systems:
// HTTP webhooks, NATS subjects, and Kafka topics. Forwarding is best effort;
// a failing target never fails the collect request.
package forward

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/lightpost-io/lightpost/internal/logging"
	"github.com/lightpost-io/lightpost/internal/metrics"
)

// Forwarder delivers one encoded event payload to a downstream target.
type Forwarder interface {
	// Name identifies the target in logs and metrics.
	Name() string

	// Forward delivers the payload. The payload is the canonical collector
	// event as JSON.
	Forward(ctx context.Context, payload []byte) error
}

// Dispatcher fans an event out to all configured forwarders, pacing the
// overall outbound rate with a token bucket.
type Dispatcher struct {
	forwarders []Forwarder
	limiter    *rate.Limiter
}

// NewDispatcher creates a dispatcher. eventsPerSecond <= 0 disables pacing.
func NewDispatcher(forwarders []Forwarder, eventsPerSecond float64) *Dispatcher {
	var limiter *rate.Limiter
	if eventsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(eventsPerSecond), int(eventsPerSecond)+1)
	}
	return &Dispatcher{forwarders: forwarders, limiter: limiter}
}

// Len returns the number of configured forwarders.
func (d *Dispatcher) Len() int { return len(d.forwarders) }

// ForwardAll delivers payload to every forwarder concurrently and waits for
// all of them. Failures are logged and counted but do not propagate; the
// collector's acceptance of an event does not depend on downstream health.
func (d *Dispatcher) ForwardAll(ctx context.Context, payload []byte) {
	if len(d.forwarders) == 0 {
		return
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			logging.Warn().Err(err).Msg("Forward pacing interrupted, dropping event")
			return
		}
	}

	var wg sync.WaitGroup
	for _, f := range d.forwarders {
		wg.Add(1)
		go func(f Forwarder) {
			defer wg.Done()
			if err := f.Forward(ctx, payload); err != nil {
				metrics.RecordForwardFailure(f.Name())
				logging.Warn().Err(err).Str("target", f.Name()).Msg("Forward failed")
			}
		}(f)
	}
	wg.Wait()
}
