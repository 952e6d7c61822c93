// Feedengine - Personalization & Discovery Feed Engine
// Copyright 2026 Civicstream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civicstream/feedengine

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig controls routing and rate limits.
type RouterConfig struct {
	// FeedRateLimit is requests per minute per client IP on the feed
	// endpoint.
	FeedRateLimit int `koanf:"feed_rate_limit" validate:"gt=0"`

	// TrackRateLimit is requests per minute per client IP on the
	// interaction tracking endpoint. Tracking is higher-volume than
	// feed reads, so it gets its own budget.
	TrackRateLimit int `koanf:"track_rate_limit" validate:"gt=0"`

	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`
}

// DefaultRouterConfig returns production defaults.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		FeedRateLimit:      300,
		TrackRateLimit:     1200,
		CORSAllowedOrigins: []string{"*"},
	}
}

// NewRouter assembles the HTTP routing tree.
func NewRouter(handler *Handler, config RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: config.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	// Health and metrics bypass rate limiting so monitoring never
	// competes with user traffic.
	r.Get("/healthz", handler.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(httprate.LimitByIP(config.FeedRateLimit, time.Minute))
			r.Post("/feed", handler.Feed)
			r.Get("/profile/{userID}", handler.Profile)
		})

		r.Group(func(r chi.Router) {
			r.Use(httprate.LimitByIP(config.TrackRateLimit, time.Minute))
			r.Post("/interactions/track", handler.Track)
		})
	})

	return r
}
