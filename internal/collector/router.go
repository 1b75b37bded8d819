// Lightpost - Marketing Site Analytics and Experimentation Pipeline
// Copyright 2026 Lightpost Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/lightpost-io/lightpost

package collector

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lightpost-io/lightpost/internal/middleware"
)

// RouterConfig carries the router's deployment knobs.
type RouterConfig struct {
	// CORSOrigins lists the browser origins allowed to POST events.
	// Empty allows any origin.
	CORSOrigins []string
}

// NewRouter assembles the collector's HTTP routes.
//
// The collect endpoint carries its own per-client limiter inside the
// handler; health and metrics get a permissive httprate cap so probes
// cannot be weaponized.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Group(func(r chi.Router) {
		r.Use(middleware.Prometheus)
		r.Post("/events/collect", h.CollectEvent)
	})

	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(600, time.Minute))
		r.Get("/health", h.Health)
		r.Handle("/metrics", promhttp.Handler())
	})

	return r
}
