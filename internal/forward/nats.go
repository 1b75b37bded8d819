// Lightpost - Marketing Site Analytics and Experimentation Pipeline
// Copyright 2026 Lightpost Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/lightpost-io/lightpost

package forward

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/lightpost-io/lightpost/internal/logging"
)

// NATSForwarder publishes event payloads to a NATS subject.
type NATSForwarder struct {
	conn    *nats.Conn
	subject string
}

// NewNATSForwarder connects to the NATS server at url.
func NewNATSForwarder(url, subject string) (*NATSForwarder, error) {
	conn, err := nats.Connect(url,
		nats.Name("lightpost-collector"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logging.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return &NATSForwarder{conn: conn, subject: subject}, nil
}

// Name identifies the target in logs and metrics.
func (f *NATSForwarder) Name() string { return "nats" }

// Forward publishes the payload to the configured subject.
func (f *NATSForwarder) Forward(_ context.Context, payload []byte) error {
	if err := f.conn.Publish(f.subject, payload); err != nil {
		return fmt.Errorf("publish %s: %w", f.subject, err)
	}
	return nil
}

// Close drains and closes the connection.
func (f *NATSForwarder) Close() {
	if err := f.conn.Drain(); err != nil {
		f.conn.Close()
	}
}
