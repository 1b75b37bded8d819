// Lightpost - Marketing Site Analytics and Experimentation Pipeline
// Copyright 2026 Lightpost Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/lightpost-io/lightpost

// Package collector implements the server-side event collection endpoint:
// validated, rate-limited, idempotent intake of conversion and track events
// with best-effort forwarding to downstream targets.
package collector

import "time"

// CollectEventRequest is the POST /events/collect payload. All fields are
// required; validation failures reject the whole request before any
// idempotency state is written.
type CollectEventRequest struct {
	// EventID is the client-generated UUID used for deduplication.
	EventID string `json:"event_id" validate:"required,uuid"`

	// EventName is the canonical lowercase event name.
	EventName string `json:"event_name" validate:"required,min=1,max=100"`

	// EventType is the event category. Page views are not accepted
	// server-side.
	EventType string `json:"event_type" validate:"required,oneof=conversion track"`

	// Properties carries the event's context payload.
	Properties map[string]interface{} `json:"properties" validate:"required"`

	// Timestamp is the client-side RFC3339 emission time.
	Timestamp string `json:"timestamp" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
}

// CollectEventResponse is the success body for a newly processed event.
type CollectEventResponse struct {
	Status      string    `json:"status"`
	EventID     string    `json:"event_id"`
	ProcessedAt time.Time `json:"processed_at"`
}

// DuplicateEventResponse acknowledges an already-processed event without
// reprocessing it.
type DuplicateEventResponse struct {
	Status  string `json:"status"`
	EventID string `json:"event_id"`
}

// ErrorResponse is the generic error body.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

// RateLimitResponse is the 429 body. RetryAfter is in seconds.
type RateLimitResponse struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retry_after"`
}

// HealthResponse is the GET /health body.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}
