// Lightpost - Marketing Site Analytics and Experimentation Pipeline
// Copyright 2026 Lightpost Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/lightpost-io/lightpost

package analytics

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lightpost-io/lightpost/internal/consent"
	"github.com/lightpost-io/lightpost/internal/identity"
	"github.com/lightpost-io/lightpost/internal/logging"
	"github.com/lightpost-io/lightpost/internal/metrics"
)

// Config controls the tracker's acceptance pipeline.
type Config struct {
	// Enabled disables the pipeline entirely when false.
	Enabled bool

	// Debug logs every accepted event without disabling destinations.
	Debug bool

	// SamplingRate is the per-call acceptance probability in [0,1].
	// Debug mode forces 1.0.
	SamplingRate float64

	// Environment and AppVersion tag every emitted event when set.
	Environment string
	AppVersion  string
}

// queuedCall is a track/page/conversion call raised before Init.
type queuedCall struct {
	typ     EventType
	name    string
	eventID string
	props   map[string]interface{}
}

// Tracker builds canonical events, enforces consent, budget and sampling,
// and fans accepted events out to the destination registry.
//
// Calls made before Init are buffered in order and drained through the same
// acceptance pipeline when Init runs. Public methods never return errors:
// policy rejections are a false return, internal faults are logged and
// swallowed.
type Tracker struct {
	mu          sync.Mutex
	cfg         Config
	initialized bool

	ids      *identity.Manager
	gate     *consent.Gate
	cost     *CostControl
	registry *Registry

	queue []queuedCall
	fired map[string]struct{}

	// lastPage enables previous_page stamping for funnel reconstruction.
	lastPage string

	// pageURL and viewportWidth describe the page context of subsequent calls.
	pageURL       string
	viewportWidth int

	// randFloat is a test hook for the sampling draw.
	randFloat func() float64
}

// New creates an uninitialized tracker. Calls are buffered until Init.
func New(ids *identity.Manager, gate *consent.Gate, cost *CostControl, registry *Registry) *Tracker {
	return &Tracker{
		ids:       ids,
		gate:      gate,
		cost:      cost,
		registry:  registry,
		fired:     make(map[string]struct{}),
		randFloat: rand.Float64,
	}
}

// Init applies configuration and drains the pre-init queue in original
// order through the acceptance pipeline.
func (t *Tracker) Init(cfg Config) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cfg.SamplingRate < 0 {
		cfg.SamplingRate = 0
	}
	if cfg.SamplingRate > 1 {
		cfg.SamplingRate = 1
	}

	t.cfg = cfg
	t.initialized = true

	queued := t.queue
	t.queue = nil
	for _, call := range queued {
		t.process(call)
	}

	if len(queued) > 0 {
		logging.Debug().Int("count", len(queued)).Msg("Drained pre-init event queue")
	}
}

// SetPageContext records the page URL and viewport width stamped onto
// subsequent events.
func (t *Tracker) SetPageContext(pageURL string, viewportWidth int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pageURL = pageURL
	t.viewportWidth = viewportWidth
}

// Track submits a custom event. Returns false on policy rejection.
func (t *Tracker) Track(name string, props map[string]interface{}) bool {
	return t.submit(queuedCall{typ: EventTypeTrack, name: name, props: props})
}

// Page submits a page view. The event carries previous_page from the last
// Page call, enabling single-page-app funnel reconstruction.
func (t *Tracker) Page(pageName string, props map[string]interface{}) bool {
	return t.submit(queuedCall{typ: EventTypePageView, name: pageName, props: props})
}

// Conversion submits a conversion event. eventID is the caller-supplied
// idempotency key and must be unique per logical business event; a missing
// id is tolerated with a generated one, at the cost of downstream
// at-most-once semantics.
func (t *Tracker) Conversion(eventName, eventID string, props map[string]interface{}) bool {
	if eventID == "" {
		logging.Warn().Str("event", eventName).Msg("Conversion without event_id, generating one")
		eventID = uuid.New().String()
	}
	return t.submit(queuedCall{typ: EventTypeConversion, name: eventName, eventID: eventID, props: props})
}

// TrackOnce fires the named event at most once per process lifetime.
func (t *Tracker) TrackOnce(name string) bool {
	return t.TrackOnceWithKey(name, "", nil)
}

// TrackOnceWithKey generalizes TrackOnce so the same event name can fire
// independently per sub-key (e.g. once per video id). The fired-key check
// and insert happen under the tracker lock, so concurrent callers cannot
// double-fire.
func (t *Tracker) TrackOnceWithKey(name, key string, props map[string]interface{}) bool {
	fireKey := name
	if key != "" {
		fireKey = name + ":" + key
	}

	t.mu.Lock()
	if _, ok := t.fired[fireKey]; ok {
		t.mu.Unlock()
		return false
	}
	t.fired[fireKey] = struct{}{}
	t.mu.Unlock()

	return t.Track(name, props)
}

// HasFired reports whether TrackOnce already fired for name.
func (t *Tracker) HasFired(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.fired[name]
	return ok
}

// RegisterDestination adds a destination to the registry.
func (t *Tracker) RegisterDestination(d Destination) {
	t.registry.Register(d)
}

// submit enqueues pre-init calls and runs the pipeline otherwise.
func (t *Tracker) submit(call queuedCall) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.initialized {
		t.queue = append(t.queue, call)
		return true
	}
	return t.process(call)
}

// process runs the acceptance pipeline for one call. Must be called with
// mu held.
//
// Pipeline: enabled -> consent (analytics blanket gate) -> daily budget ->
// sampling -> build canonical event -> dispatch.
func (t *Tracker) process(call queuedCall) bool {
	if !t.cfg.Enabled {
		metrics.RecordEventRejected("disabled")
		return false
	}

	if !t.gate.CanTrack(consent.Analytics) {
		metrics.RecordEventRejected("consent")
		return false
	}

	if t.cost != nil && !t.cost.Allow() {
		metrics.RecordEventRejected("budget")
		return false
	}

	rate := t.cfg.SamplingRate
	if t.cfg.Debug {
		rate = 1
	}
	if rate <= 0 || (rate < 1 && t.randFloat() >= rate) {
		metrics.RecordEventRejected("sampling")
		return false
	}

	ev := t.buildEvent(call)
	t.registry.Dispatch(context.Background(), ev)
	metrics.RecordEventAccepted(string(ev.Type))

	if t.cfg.Debug {
		logging.Info().
			Str("type", string(ev.Type)).
			Str("event", ev.EventName).
			Str("event_id", ev.EventID).
			Interface("properties", ev.Properties).
			Msg("Analytics event")
	}

	return true
}

// buildEvent assembles the canonical event with augmentation fields.
// Must be called with mu held.
func (t *Tracker) buildEvent(call queuedCall) Event {
	id := t.ids.Identity()

	props := cloneProperties(call.props)
	props["anonymous_id"] = id.AnonymousID
	props["session_id"] = id.SessionID
	props["page_url"] = t.pageURL
	props["timestamp"] = timestamp(time.Now())
	props["device_class"] = DeviceClass(t.viewportWidth)

	if t.cfg.Environment != "" {
		props["environment"] = t.cfg.Environment
	}
	if t.cfg.AppVersion != "" {
		props["app_version"] = t.cfg.AppVersion
	}

	eventID := call.eventID
	if eventID == "" && call.typ == EventTypeTrack {
		eventID = uuid.New().String()
	}

	name := SanitizeEventName(call.name)

	if call.typ == EventTypePageView {
		if t.lastPage != "" {
			props["previous_page"] = t.lastPage
		}
		t.lastPage = name
	}

	return Event{
		Type:       call.typ,
		EventName:  name,
		EventID:    eventID,
		Properties: props,
	}
}
