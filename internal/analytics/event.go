// Lightpost - Marketing Site Analytics and Experimentation Pipeline
// Copyright 2026 Lightpost Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/lightpost-io/lightpost

// Package analytics implements the client-side event pipeline: canonical
// events, the tracker with its acceptance pipeline, the destination
// registry, and cost controls.
package analytics

import (
	"strings"
	"time"
)

// EventType is the canonical event type.
type EventType string

const (
	EventTypeTrack      EventType = "track"
	EventTypePageView   EventType = "page_view"
	EventTypeConversion EventType = "conversion"
)

// maxEventNameLength caps sanitized event names.
const maxEventNameLength = 40

// Viewport width thresholds for device classification.
const (
	mobileMaxWidth = 768
	tabletMaxWidth = 1024
)

// Event is the tracker's normalized representation before
// destination-specific translation. Properties always carry anonymous_id,
// session_id, page_url, timestamp and device_class.
type Event struct {
	Type       EventType              `json:"type"`
	EventName  string                 `json:"event_name"`
	EventID    string                 `json:"event_id,omitempty"`
	Properties map[string]interface{} `json:"properties"`
}

// SanitizeEventName normalizes a caller-supplied event name: lower-cased,
// non-alphanumeric runs replaced with underscores, capped at 40 characters.
func SanitizeEventName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))

	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	out := b.String()
	if len(out) > maxEventNameLength {
		out = out[:maxEventNameLength]
	}
	return out
}

// DeviceClass classifies a viewport width as mobile, tablet or desktop.
// A non-positive width (viewport unknown, e.g. server-rendered call sites)
// is reported as desktop.
func DeviceClass(viewportWidth int) string {
	switch {
	case viewportWidth <= 0:
		return "desktop"
	case viewportWidth < mobileMaxWidth:
		return "mobile"
	case viewportWidth < tabletMaxWidth:
		return "tablet"
	default:
		return "desktop"
	}
}

// cloneProperties copies a caller-supplied property map so augmentation
// never mutates caller state.
func cloneProperties(props map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(props)+6)
	for k, v := range props {
		out[k] = v
	}
	return out
}

// timestamp formats an event timestamp.
func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
