// Lightpost - Marketing Site Analytics and Experimentation Pipeline
// Copyright 2026 Lightpost Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/lightpost-io/lightpost

// Package ratelimit implements the per-client request limiter for the event
// collector: a windowed counter per client key with a periodic sweep that
// bounds memory. The counter map is process-local; under horizontal scaling
// the cap applies per instance.
package ratelimit

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lightpost-io/lightpost/internal/logging"
)

// Limiter caps requests per client key within a rolling window. The counter
// for a key resets when its window expires.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   int
	window  time.Duration

	// now is a test hook for time.
	now func() time.Time
}

type bucket struct {
	count       int
	windowStart time.Time
}

// New creates a limiter allowing limit requests per window per key.
func New(limit int, window time.Duration) *Limiter {
	if limit <= 0 {
		limit = 100
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		buckets: make(map[string]*bucket),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

// Allow records a request for key and reports whether it is within the cap.
// When rejected, retryAfter is the time until the key's window expires.
func (l *Limiter) Allow(key string) (allowed bool, retryAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok || now.Sub(b.windowStart) >= l.window {
		l.buckets[key] = &bucket{count: 1, windowStart: now}
		return true, 0
	}

	if b.count >= l.limit {
		return false, l.window - now.Sub(b.windowStart)
	}

	b.count++
	return true, 0
}

// Window returns the configured window duration.
func (l *Limiter) Window() time.Duration {
	return l.window
}

// Len returns the number of tracked client keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Sweep removes buckets whose window has already expired and returns the
// number removed.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, b := range l.buckets {
		if now.Sub(b.windowStart) >= l.window {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// ClientKey derives the rate-limit key for a request: the first
// X-Forwarded-For hop, then X-Real-IP, then the connection's remote host.
// Un-attributable clients share the literal "unknown" bucket.
func ClientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if first != "" {
			return first
		}
	}

	if real := strings.TrimSpace(r.Header.Get("X-Real-IP")); real != "" {
		return real
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}

	return "unknown"
}

// Sweeper periodically removes expired buckets. It implements suture.Service.
type Sweeper struct {
	limiter  *Limiter
	interval time.Duration
}

// NewSweeper creates a sweeper for the limiter. A non-positive interval
// defaults to 5 minutes.
func NewSweeper(limiter *Limiter, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sweeper{limiter: limiter, interval: interval}
}

// Serve runs the sweep loop until ctx is canceled.
func (s *Sweeper) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if removed := s.limiter.Sweep(); removed > 0 {
				logging.Debug().Int("removed", removed).Msg("Swept expired rate-limit buckets")
			}
		}
	}
}

// String names the service in supervisor logs.
func (s *Sweeper) String() string { return "ratelimit-sweeper" }
