// Lightpost - Marketing Site Analytics and Experimentation Pipeline
// Copyright 2026 Lightpost Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/lightpost-io/lightpost

// Package idempotency deduplicates collector events by (UTC day, event ID).
// Backends: Redis for multi-instance deployments, Badger for single-node,
// and a disabled no-op. Retention is 48 hours, enough to cover retries
// across the day boundary.
package idempotency

import (
	"context"
	"time"
)

// RetentionTTL bounds how long a processed event ID is remembered.
const RetentionTTL = 48 * time.Hour

// Record is the value stored per processed event.
type Record struct {
	EventName   string    `json:"event_name"`
	ProcessedAt time.Time `json:"processed_at"`
}

// Store checks and records processed event IDs.
type Store interface {
	// Seen reports whether eventID was already processed on day.
	Seen(ctx context.Context, day, eventID string) (bool, error)

	// Mark records eventID as processed on day.
	Mark(ctx context.Context, day, eventID string, rec Record) error

	// Close releases backend resources.
	Close() error
}

// DayKey formats t as the UTC calendar-day component of the dedup key.
// Deduplication is scoped per day: the same event ID on different days is
// treated as distinct.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Disabled is a Store that never reports duplicates. Used when
// deduplication is turned off or a backend is unavailable.
type Disabled struct{}

// NewDisabled returns the no-op store.
func NewDisabled() Disabled { return Disabled{} }

// Seen always reports false.
func (Disabled) Seen(context.Context, string, string) (bool, error) { return false, nil }

// Mark is a no-op.
func (Disabled) Mark(context.Context, string, string, Record) error { return nil }

// Close is a no-op.
func (Disabled) Close() error { return nil }
