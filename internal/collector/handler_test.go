// Lightpost - Marketing Site Analytics and Experimentation Pipeline
// Copyright 2026 Lightpost Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/lightpost-io/lightpost

package collector

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/lightpost-io/lightpost/internal/forward"
	"github.com/lightpost-io/lightpost/internal/idempotency"
	"github.com/lightpost-io/lightpost/internal/ratelimit"
)

// memDedup is an in-memory idempotency store for tests.
type memDedup struct {
	mu   sync.Mutex
	seen map[string]idempotency.Record
}

func newMemDedup() *memDedup {
	return &memDedup{seen: make(map[string]idempotency.Record)}
}

func (s *memDedup) Seen(_ context.Context, day, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[day+":"+eventID]
	return ok, nil
}

func (s *memDedup) Mark(_ context.Context, day, eventID string, rec idempotency.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[day+":"+eventID] = rec
	return nil
}

func (s *memDedup) Close() error { return nil }

func (s *memDedup) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// countingForwarder counts payload deliveries.
type countingForwarder struct {
	calls atomic.Int64
}

func (f *countingForwarder) Name() string { return "counting" }

func (f *countingForwarder) Forward(context.Context, []byte) error {
	f.calls.Add(1)
	return nil
}

type handlerFixture struct {
	handler   *Handler
	dedup     *memDedup
	forwarder *countingForwarder
}

func newHandlerFixture(rateLimit int) *handlerFixture {
	dedup := newMemDedup()
	fwd := &countingForwarder{}
	h := NewHandler(
		ratelimit.New(rateLimit, time.Minute),
		dedup,
		forward.NewDispatcher([]forward.Forwarder{fwd}, 0),
	)
	return &handlerFixture{handler: h, dedup: dedup, forwarder: fwd}
}

func validPayload() map[string]interface{} {
	return map[string]interface{}{
		"event_id":   "2b7e1f60-8a52-4b5e-9f1d-3a9c6d2e8b41",
		"event_name": "purchase_completed",
		"event_type": "conversion",
		"properties": map[string]interface{}{"value": 99.0},
		"timestamp":  "2026-08-30T12:00:00Z",
	}
}

func postEvent(t *testing.T, h *Handler, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var body []byte
	switch p := payload.(type) {
	case []byte:
		body = p
	default:
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
	}

	r := httptest.NewRequest(http.MethodPost, "/events/collect", bytes.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.CollectEvent(w, r)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}

func TestCollectEventSuccess(t *testing.T) {
	f := newHandlerFixture(100)

	w := postEvent(t, f.handler, validPayload())
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp CollectEventResponse
	decodeBody(t, w, &resp)
	if resp.Status != "success" {
		t.Errorf("status = %q, want success", resp.Status)
	}
	if resp.EventID != "2b7e1f60-8a52-4b5e-9f1d-3a9c6d2e8b41" {
		t.Errorf("event_id = %q", resp.EventID)
	}
	if resp.ProcessedAt.IsZero() {
		t.Error("processed_at must be set")
	}
	if f.forwarder.calls.Load() != 1 {
		t.Errorf("forward calls = %d, want 1", f.forwarder.calls.Load())
	}
}

func TestCollectEventDuplicate(t *testing.T) {
	f := newHandlerFixture(100)

	first := postEvent(t, f.handler, validPayload())
	if first.Code != http.StatusOK {
		t.Fatalf("first status = %d", first.Code)
	}

	second := postEvent(t, f.handler, validPayload())
	if second.Code != http.StatusOK {
		t.Fatalf("duplicate status = %d, want 200", second.Code)
	}

	var resp DuplicateEventResponse
	decodeBody(t, second, &resp)
	if resp.Status != "duplicate" {
		t.Errorf("status = %q, want duplicate", resp.Status)
	}

	// the duplicate must not be forwarded again
	if f.forwarder.calls.Load() != 1 {
		t.Errorf("forward calls = %d, want 1", f.forwarder.calls.Load())
	}
}

func TestCollectEventValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(map[string]interface{})
		detail string
	}{
		{"missing event_id", func(p map[string]interface{}) { delete(p, "event_id") }, "event_id"},
		{"malformed event_id", func(p map[string]interface{}) { p["event_id"] = "not-a-uuid" }, "event_id"},
		{"missing event_name", func(p map[string]interface{}) { delete(p, "event_name") }, "event_name"},
		{"overlong event_name", func(p map[string]interface{}) { p["event_name"] = strings.Repeat("x", 101) }, "event_name"},
		{"page_view rejected", func(p map[string]interface{}) { p["event_type"] = "page_view" }, "event_type"},
		{"missing properties", func(p map[string]interface{}) { delete(p, "properties") }, "properties"},
		{"bad timestamp", func(p map[string]interface{}) { p["timestamp"] = "yesterday" }, "timestamp"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newHandlerFixture(100)

			payload := validPayload()
			tt.mutate(payload)

			w := postEvent(t, f.handler, payload)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}

			var resp ErrorResponse
			decodeBody(t, w, &resp)
			if resp.Error != "Invalid request payload" {
				t.Errorf("error = %q", resp.Error)
			}
			found := false
			for _, d := range resp.Details {
				if strings.Contains(d, tt.detail) {
					found = true
				}
			}
			if !found {
				t.Errorf("details %v missing field %q", resp.Details, tt.detail)
			}

			// rejected requests must not write idempotency state or forward
			if f.dedup.len() != 0 {
				t.Error("validation failure wrote idempotency state")
			}
			if f.forwarder.calls.Load() != 0 {
				t.Error("validation failure was forwarded")
			}
		})
	}
}

func TestCollectEventRetryAfterValidationFailure(t *testing.T) {
	f := newHandlerFixture(100)

	broken := validPayload()
	delete(broken, "properties")
	if w := postEvent(t, f.handler, broken); w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}

	// the same event_id must still be processable once corrected
	w := postEvent(t, f.handler, validPayload())
	if w.Code != http.StatusOK {
		t.Fatalf("corrected retry status = %d, want 200", w.Code)
	}
	var resp CollectEventResponse
	decodeBody(t, w, &resp)
	if resp.Status != "success" {
		t.Errorf("status = %q, want success", resp.Status)
	}
}

func TestCollectEventMalformedJSON(t *testing.T) {
	f := newHandlerFixture(100)

	w := postEvent(t, f.handler, []byte(`{not json`))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestCollectEventRateLimited(t *testing.T) {
	f := newHandlerFixture(1)

	if w := postEvent(t, f.handler, validPayload()); w.Code != http.StatusOK {
		t.Fatalf("first status = %d", w.Code)
	}

	payload := validPayload()
	payload["event_id"] = "9f8c1d22-0a3b-4c5d-8e7f-6a5b4c3d2e1f"
	w := postEvent(t, f.handler, payload)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}

	var resp RateLimitResponse
	decodeBody(t, w, &resp)
	if resp.Error != "Too many requests" {
		t.Errorf("error = %q", resp.Error)
	}
	if resp.RetryAfter != 60 {
		t.Errorf("retry_after = %d, want 60", resp.RetryAfter)
	}
	if f.forwarder.calls.Load() != 1 {
		t.Error("rate-limited request must not be forwarded")
	}
}

func TestCollectEventDedupDisabled(t *testing.T) {
	fwd := &countingForwarder{}
	h := NewHandler(
		ratelimit.New(100, time.Minute),
		idempotency.NewDisabled(),
		forward.NewDispatcher([]forward.Forwarder{fwd}, 0),
	)

	for i := 0; i < 2; i++ {
		w := postEvent(t, h, validPayload())
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
		var resp CollectEventResponse
		decodeBody(t, w, &resp)
		if resp.Status != "success" {
			t.Errorf("status = %q, disabled dedup never reports duplicates", resp.Status)
		}
	}
	if fwd.calls.Load() != 2 {
		t.Errorf("forward calls = %d, want 2", fwd.calls.Load())
	}
}

func TestHealth(t *testing.T) {
	f := newHandlerFixture(100)

	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	f.handler.Health(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp HealthResponse
	decodeBody(t, w, &resp)
	if resp.Status != "healthy" {
		t.Errorf("status = %q, want healthy", resp.Status)
	}
	if resp.Timestamp.IsZero() {
		t.Error("timestamp must be set")
	}
}

func TestRouterRoutes(t *testing.T) {
	f := newHandlerFixture(100)
	router := NewRouter(f.handler, RouterConfig{})

	srv := httptest.NewServer(router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/health status = %d", resp.StatusCode)
	}

	body, _ := json.Marshal(validPayload())
	resp, err = http.Post(srv.URL+"/events/collect", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /events/collect: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/events/collect status = %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/metrics status = %d", resp.StatusCode)
	}
}
