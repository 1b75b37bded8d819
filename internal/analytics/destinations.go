// Lightpost - Marketing Site Analytics and Experimentation Pipeline
// Copyright 2026 Lightpost Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/lightpost-io/lightpost

package analytics

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"

	"github.com/lightpost-io/lightpost/internal/consent"
	"github.com/lightpost-io/lightpost/internal/logging"
)

// CollectorDestination POSTs conversion and track events to the server
// event collector for server-authoritative recording. Page views stay
// client-side; the collector only accepts conversion and track types.
type CollectorDestination struct {
	url    string
	client *http.Client
	status Status
}

// NewCollectorDestination creates a collector sink. An empty URL leaves the
// destination disabled.
func NewCollectorDestination(url string, timeout time.Duration) *CollectorDestination {
	status := StatusReady
	if url == "" {
		status = StatusDisabled
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &CollectorDestination{
		url:    url,
		client: &http.Client{Timeout: timeout},
		status: status,
	}
}

// Name identifies the sink in logs.
func (d *CollectorDestination) Name() string { return "collector" }

// Category gates this sink on analytics consent.
func (d *CollectorDestination) Category() consent.Category { return consent.Analytics }

// Status reports the sink's lifecycle state.
func (d *CollectorDestination) Status() Status { return d.status }

// Send forwards the event. Failures are logged and swallowed; the tracker
// never waits on this call.
func (d *CollectorDestination) Send(ctx context.Context, ev Event) {
	if ev.Type != EventTypeConversion && ev.Type != EventTypeTrack {
		return
	}

	ts, _ := ev.Properties["timestamp"].(string)
	payload := map[string]interface{}{
		"event_id":   ev.EventID,
		"event_name": ev.EventName,
		"event_type": string(ev.Type),
		"properties": ev.Properties,
		"timestamp":  ts,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		logging.Warn().Err(err).Msg("Failed to encode collector payload")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		logging.Warn().Err(err).Msg("Failed to build collector request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		logging.Warn().Err(err).Str("event", ev.EventName).Msg("Collector send failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		logging.Warn().
			Int("status", resp.StatusCode).
			Str("event", ev.EventName).
			Msg("Collector rejected event")
	}
}

// NATSDestination publishes canonical events to a NATS subject, for
// deployments where the site server and the collector communicate over the
// message bus instead of HTTP.
type NATSDestination struct {
	conn    *nats.Conn
	subject string
	status  Status
}

// NewNATSDestination connects to NATS and returns a ready destination.
func NewNATSDestination(url, subject string) (*NATSDestination, error) {
	conn, err := nats.Connect(url,
		nats.Name("lightpost-tracker"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return &NATSDestination{conn: conn, subject: subject, status: StatusReady}, nil
}

// Name identifies the sink in logs.
func (d *NATSDestination) Name() string { return "nats" }

// Category gates this sink on analytics consent.
func (d *NATSDestination) Category() consent.Category { return consent.Analytics }

// Status reports the sink's lifecycle state.
func (d *NATSDestination) Status() Status { return d.status }

// Send publishes the canonical event. Failures are logged and swallowed.
func (d *NATSDestination) Send(_ context.Context, ev Event) {
	body, err := json.Marshal(ev)
	if err != nil {
		logging.Warn().Err(err).Msg("Failed to encode event for NATS")
		return
	}
	if err := d.conn.Publish(d.subject, body); err != nil {
		logging.Warn().Err(err).Str("event", ev.EventName).Msg("NATS publish failed")
	}
}

// Close drains and closes the connection.
func (d *NATSDestination) Close() {
	if err := d.conn.Drain(); err != nil {
		d.conn.Close()
	}
}

// LogDestination mirrors canonical events into the structured log. It is
// the telemetry sink used in debug and development setups.
type LogDestination struct {
	status Status
}

// NewLogDestination creates a log sink.
func NewLogDestination(enabled bool) *LogDestination {
	status := StatusReady
	if !enabled {
		status = StatusDisabled
	}
	return &LogDestination{status: status}
}

// Name identifies the sink in logs.
func (d *LogDestination) Name() string { return "log" }

// Category gates this sink on analytics consent.
func (d *LogDestination) Category() consent.Category { return consent.Analytics }

// Status reports the sink's lifecycle state.
func (d *LogDestination) Status() Status { return d.status }

// Send writes the event to the structured log.
func (d *LogDestination) Send(_ context.Context, ev Event) {
	logging.Debug().
		Str("type", string(ev.Type)).
		Str("event", ev.EventName).
		Str("event_id", ev.EventID).
		Interface("properties", ev.Properties).
		Msg("Event")
}
