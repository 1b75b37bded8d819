// Lightpost - Marketing Site Analytics and Experimentation Pipeline
// Copyright 2026 Lightpost Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/lightpost-io/lightpost

// Command collector runs the Lightpost event collector: the HTTP intake for
// conversion and track events, plus the embedded analytics pipeline used for
// server-emitted events.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/lightpost-io/lightpost/internal/analytics"
	"github.com/lightpost-io/lightpost/internal/collector"
	"github.com/lightpost-io/lightpost/internal/config"
	"github.com/lightpost-io/lightpost/internal/consent"
	"github.com/lightpost-io/lightpost/internal/flags"
	"github.com/lightpost-io/lightpost/internal/forward"
	"github.com/lightpost-io/lightpost/internal/identity"
	"github.com/lightpost-io/lightpost/internal/idempotency"
	"github.com/lightpost-io/lightpost/internal/logging"
	"github.com/lightpost-io/lightpost/internal/ratelimit"
	"github.com/lightpost-io/lightpost/internal/state"
	"github.com/lightpost-io/lightpost/internal/supervisor"
)

func main() {
	if err := run(); err != nil {
		logging.Error().Err(err).Msg("Collector exited with error")
		os.Exit(1)
	}
}

func run() error {
	// Local .env files are a dev convenience; absence is fine.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("environment", cfg.Server.Environment).
		Int("port", cfg.Server.Port).
		Msg("Starting Lightpost collector")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// State store for identity and consent. Durable when a path is
	// configured, in-memory otherwise.
	var store state.Store
	if cfg.Analytics.StatePath != "" {
		bs, err := state.OpenBadger(cfg.Analytics.StatePath)
		if err != nil {
			return fmt.Errorf("open state store: %w", err)
		}
		store = bs
	} else {
		store = state.NewMemoryStore()
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Warn().Err(err).Msg("State store close failed")
		}
	}()

	// Client pipeline: identity, consent, cost control, destinations, tracker.
	ids := identity.New(store, identity.Config{
		AnonymousIDExpiryDays: cfg.Analytics.AnonymousIDExpiryDays,
		SessionTimeoutMinutes: cfg.Analytics.SessionTimeoutMinutes,
		DailySessionReset:     cfg.Analytics.DailySessionReset,
	})
	gate := consent.New(store)
	cost := analytics.NewCostControl(cfg.Analytics.EventsPerDay, cfg.Analytics.BaseSamplingRate)
	registry := analytics.NewRegistry(gate)
	tracker := analytics.New(ids, gate, cost, registry)

	tracker.RegisterDestination(analytics.NewLogDestination(cfg.Analytics.Debug))

	tracker.Init(analytics.Config{
		Enabled:      cfg.Analytics.Enabled,
		Debug:        cfg.Analytics.Debug,
		SamplingRate: cfg.Analytics.SamplingRate,
		Environment:  cfg.Server.Environment,
		AppVersion:   cfg.Analytics.AppVersion,
	})

	flagMgr := flags.New(flags.Config{
		RemoteURL:    cfg.Flags.RemoteURL,
		PollInterval: cfg.Flags.PollInterval,
		FetchTimeout: cfg.Flags.FetchTimeout,
	}, ids, tracker)

	// Idempotency backend.
	dedup, err := buildDedupStore(ctx, cfg.Idempotency)
	if err != nil {
		return err
	}
	defer func() {
		if err := dedup.Close(); err != nil {
			logging.Warn().Err(err).Msg("Idempotency store close failed")
		}
	}()

	// Downstream forwarders.
	forwarders, cleanup, err := buildForwarders(cfg.Forward)
	if err != nil {
		return err
	}
	defer cleanup()
	dispatcher := forward.NewDispatcher(forwarders, cfg.Forward.EventsPerSecond)

	// Collector HTTP surface.
	limiter := ratelimit.New(cfg.Collector.RateLimitRequests, cfg.Collector.RateLimitWindow)
	handler := collector.NewHandler(limiter, dedup, dispatcher)
	router := collector.NewRouter(handler, collector.RouterConfig{
		CORSOrigins: cfg.Server.CORSOrigins,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  2 * cfg.Server.Timeout,
	}

	// Supervision tree: background services plus the HTTP server.
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())

	tree.AddBackgroundService(ratelimit.NewSweeper(limiter, cfg.Collector.SweepInterval))
	if poller := flagMgr.Poller(); poller != nil {
		tree.AddBackgroundService(poller)
	}
	tree.AddAPIService(supervisor.NewHTTPService(server, cfg.Server.Timeout))

	err = tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor: %w", err)
	}

	logging.Info().Msg("Collector stopped")
	return nil
}

// buildDedupStore selects the idempotency backend from configuration.
func buildDedupStore(ctx context.Context, cfg config.IdempotencyConfig) (idempotency.Store, error) {
	switch cfg.Backend {
	case "redis":
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		store, err := idempotency.NewRedisStore(connectCtx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, fmt.Errorf("idempotency redis: %w", err)
		}
		logging.Info().Str("addr", cfg.RedisAddr).Msg("Idempotency backed by Redis")
		return store, nil
	case "badger":
		store, err := idempotency.NewBadgerStore(cfg.BadgerPath)
		if err != nil {
			return nil, fmt.Errorf("idempotency badger: %w", err)
		}
		logging.Info().Str("path", cfg.BadgerPath).Msg("Idempotency backed by Badger")
		return store, nil
	default:
		logging.Warn().Msg("Event deduplication disabled")
		return idempotency.NewDisabled(), nil
	}
}

// buildForwarders creates the configured downstream forwarders and a cleanup
// closing the connected ones.
func buildForwarders(cfg config.ForwardConfig) ([]forward.Forwarder, func(), error) {
	var (
		forwarders []forward.Forwarder
		closers    []func()
	)
	cleanup := func() {
		for _, c := range closers {
			c()
		}
	}

	for i, target := range cfg.HTTPTargets {
		name := fmt.Sprintf("http-%d", i)
		forwarders = append(forwarders, forward.NewHTTPForwarder(name, target, cfg.HTTPTimeout))
	}

	if cfg.NATSURL != "" {
		nf, err := forward.NewNATSForwarder(cfg.NATSURL, cfg.NATSSubject)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("forward nats: %w", err)
		}
		forwarders = append(forwarders, nf)
		closers = append(closers, nf.Close)
	}

	if len(cfg.KafkaBrokers) > 0 {
		kf, err := forward.NewKafkaForwarder(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("forward kafka: %w", err)
		}
		forwarders = append(forwarders, kf)
		closers = append(closers, kf.Close)
	}

	if len(forwarders) > 0 {
		logging.Info().Int("targets", len(forwarders)).Msg("Event forwarding enabled")
	}

	return forwarders, cleanup, nil
}
