// Lightpost - Marketing Site Analytics and Experimentation Pipeline
// Copyright 2026 Lightpost Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/lightpost-io/lightpost

// Package metrics provides Prometheus instrumentation for the analytics
// pipeline and the event collector. All metrics are registered on the
// default registry and exposed via /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// eventsAccepted counts canonical events dispatched to destinations.
	eventsAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lightpost",
		Subsystem: "tracker",
		Name:      "events_accepted_total",
		Help:      "Canonical events accepted and dispatched to destinations",
	}, []string{"type"})

	// eventsRejected counts policy rejections by reason. These are silent
	// no-ops for callers, so the counter is the only observable trace.
	eventsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lightpost",
		Subsystem: "tracker",
		Name:      "events_rejected_total",
		Help:      "Events rejected by the acceptance pipeline, by reason",
	}, []string{"reason"})

	// collectorRequests counts ingestion requests by method, path and status.
	collectorRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lightpost",
		Subsystem: "collector",
		Name:      "requests_total",
		Help:      "HTTP requests handled by the collector",
	}, []string{"method", "path", "status"})

	// requestDuration observes request latency by path.
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "lightpost",
		Subsystem: "collector",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	// activeRequests tracks in-flight collector requests.
	activeRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "lightpost",
		Subsystem: "collector",
		Name:      "active_requests",
		Help:      "In-flight HTTP requests",
	})

	// duplicateEvents counts idempotency-store hits.
	duplicateEvents = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lightpost",
		Subsystem: "collector",
		Name:      "duplicate_events_total",
		Help:      "Events short-circuited by the idempotency store",
	})

	// rateLimited counts requests rejected with 429.
	rateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lightpost",
		Subsystem: "collector",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the sliding-window rate limiter",
	})

	// forwardFailures counts best-effort forward errors per target.
	forwardFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lightpost",
		Subsystem: "forward",
		Name:      "failures_total",
		Help:      "Downstream forward failures, by target",
	}, []string{"target"})

	// flagRefreshes counts remote flag map refresh outcomes.
	flagRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lightpost",
		Subsystem: "flags",
		Name:      "refreshes_total",
		Help:      "Remote flag refresh attempts, by outcome",
	}, []string{"outcome"})
)

// RecordEventAccepted records a dispatched canonical event.
func RecordEventAccepted(eventType string) {
	eventsAccepted.WithLabelValues(eventType).Inc()
}

// RecordEventRejected records a policy rejection (consent, sampling, budget, disabled).
func RecordEventRejected(reason string) {
	eventsRejected.WithLabelValues(reason).Inc()
}

// RecordCollectorRequest records a handled ingestion request.
func RecordCollectorRequest(method, path, status string, duration time.Duration) {
	collectorRequests.WithLabelValues(method, path, status).Inc()
	requestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// TrackActiveRequest adjusts the in-flight request gauge.
func TrackActiveRequest(start bool) {
	if start {
		activeRequests.Inc()
	} else {
		activeRequests.Dec()
	}
}

// RecordDuplicateEvent records an idempotency-store hit.
func RecordDuplicateEvent() {
	duplicateEvents.Inc()
}

// RecordRateLimited records a 429 rejection.
func RecordRateLimited() {
	rateLimited.Inc()
}

// RecordForwardFailure records a best-effort forward error.
func RecordForwardFailure(target string) {
	forwardFailures.WithLabelValues(target).Inc()
}

// RecordFlagRefresh records a remote flag refresh outcome ("success" or "failure").
func RecordFlagRefresh(outcome string) {
	flagRefreshes.WithLabelValues(outcome).Inc()
}
