// Lightpost - Marketing Site Analytics and Experimentation Pipeline
// Copyright 2026 Lightpost Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/lightpost-io/lightpost

package forward

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/lightpost-io/lightpost/internal/logging"
)

// HTTPForwarder POSTs event payloads to a webhook URL behind a circuit
// breaker, so a dead target stops consuming request-path time quickly.
type HTTPForwarder struct {
	name    string
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[struct{}]
}

// NewHTTPForwarder creates a webhook forwarder for url.
func NewHTTPForwarder(name, url string, timeout time.Duration) *HTTPForwarder {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        "forward-" + name,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(cbName string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", cbName).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Forward circuit breaker state changed")
		},
	}

	return &HTTPForwarder{
		name:    name,
		url:     url,
		client:  &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker[struct{}](settings),
	}
}

// Name identifies the target in logs and metrics.
func (f *HTTPForwarder) Name() string { return f.name }

// Forward POSTs the payload. Non-2xx responses count as failures.
func (f *HTTPForwarder) Forward(ctx context.Context, payload []byte) error {
	_, err := f.breaker.Execute(func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(payload))
		if err != nil {
			return struct{}{}, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := f.client.Do(req)
		if err != nil {
			return struct{}{}, fmt.Errorf("post %s: %w", f.url, err)
		}
		defer func() {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			_ = resp.Body.Close()
		}()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return struct{}{}, fmt.Errorf("post %s: status %d", f.url, resp.StatusCode)
		}
		return struct{}{}, nil
	})
	return err
}
