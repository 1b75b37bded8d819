// Lightpost - Marketing Site Analytics and Experimentation Pipeline
// Copyright 2026 Lightpost Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/lightpost-io/lightpost

package collector

import (
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/lightpost-io/lightpost/internal/forward"
	"github.com/lightpost-io/lightpost/internal/idempotency"
	"github.com/lightpost-io/lightpost/internal/logging"
	"github.com/lightpost-io/lightpost/internal/metrics"
	"github.com/lightpost-io/lightpost/internal/ratelimit"
)

// maxBodyBytes bounds the collect request body.
const maxBodyBytes = 1 << 20

// Handler serves the collector endpoints.
type Handler struct {
	limiter    *ratelimit.Limiter
	dedup      idempotency.Store
	dispatcher *forward.Dispatcher

	// now is a test hook for time.
	now func() time.Time
}

// NewHandler wires the collector handler. A nil dedup store disables
// deduplication.
func NewHandler(limiter *ratelimit.Limiter, dedup idempotency.Store, dispatcher *forward.Dispatcher) *Handler {
	if dedup == nil {
		dedup = idempotency.NewDisabled()
	}
	return &Handler{
		limiter:    limiter,
		dedup:      dedup,
		dispatcher: dispatcher,
		now:        time.Now,
	}
}

// CollectEvent handles POST /events/collect.
//
// Order matters: the rate limit is checked before the body is read, so
// rejected requests consume no parsing work and write no idempotency state.
// Validation failures likewise leave the dedup store untouched, letting the
// client retry a corrected payload under the same event_id.
func (h *Handler) CollectEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if allowed, retryAfter := h.limiter.Allow(ratelimit.ClientKey(r)); !allowed {
		metrics.RecordRateLimited()
		seconds := int(retryAfter.Round(time.Second).Seconds())
		if seconds <= 0 {
			seconds = 1
		}
		writeJSON(w, http.StatusTooManyRequests, RateLimitResponse{
			Error:      "Too many requests",
			RetryAfter: seconds,
		})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request payload",
			Details: []string{"body: could not be read"},
		})
		return
	}

	var req CollectEventRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request payload",
			Details: []string{"body: must be valid JSON"},
		})
		return
	}

	if details := validateRequest(&req); details != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request payload",
			Details: details,
		})
		return
	}

	day := idempotency.DayKey(h.now())
	seen, err := h.dedup.Seen(ctx, day, req.EventID)
	if err != nil {
		// Dedup backend trouble degrades to at-least-once, never to an
		// outage of the collect endpoint.
		logging.Warn().Err(err).Msg("Idempotency check failed, processing without dedup")
		seen = false
	}
	if seen {
		metrics.RecordDuplicateEvent()
		logging.Debug().
			Str("event_id", req.EventID).
			Str("event_name", req.EventName).
			Msg("Duplicate event acknowledged")
		writeJSON(w, http.StatusOK, DuplicateEventResponse{
			Status:  "duplicate",
			EventID: req.EventID,
		})
		return
	}

	processedAt := h.now().UTC()

	payload, err := json.Marshal(req)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to re-encode collect payload")
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error: "Failed to process event",
		})
		return
	}
	h.dispatcher.ForwardAll(ctx, payload)

	if err := h.dedup.Mark(ctx, day, req.EventID, idempotency.Record{
		EventName:   req.EventName,
		ProcessedAt: processedAt,
	}); err != nil {
		logging.Warn().Err(err).Str("event_id", req.EventID).Msg("Failed to record event for dedup")
	}

	metrics.RecordEventAccepted(req.EventType)
	logging.Info().
		Str("event_id", req.EventID).
		Str("event_name", req.EventName).
		Str("event_type", req.EventType).
		Msg("Event collected")

	writeJSON(w, http.StatusOK, CollectEventResponse{
		Status:      "success",
		EventID:     req.EventID,
		ProcessedAt: processedAt,
	})
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: h.now().UTC(),
	})
}

// writeJSON writes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn().Err(err).Msg("Failed to encode response")
	}
}
