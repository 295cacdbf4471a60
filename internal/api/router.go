// Waypost - Personal Location Tracking and History
// Copyright 2026 Waypost Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waypost/waypost

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/waypost/waypost/internal/auth"
	"github.com/waypost/waypost/internal/config"
)

// Router wires handlers, middleware, and config into one http.Handler.
type Router struct {
	handler       *Handler
	authenticator *auth.Authenticator
	oidc          *auth.OIDCProvider
	security      *config.SecurityConfig
}

// NewRouter creates the router. oidc may be nil when sign-in is not
// configured; the sign-in routes then answer 404.
func NewRouter(handler *Handler, authenticator *auth.Authenticator, oidc *auth.OIDCProvider, security *config.SecurityConfig) *Router {
	return &Router{
		handler:       handler,
		authenticator: authenticator,
		oidc:          oidc,
		security:      security,
	}
}

// Setup builds the route tree.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   router.security.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints: permissive limit, no auth.
	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(httprate.LimitByIP(1000, time.Minute))
		r.Use(Instrument)
		r.Get("/live", router.handler.HealthLive)
		r.Get("/ready", router.handler.HealthReady)
	})

	// Sign-in endpoints: strict limit against brute forcing.
	r.Route("/auth", func(r chi.Router) {
		r.Use(httprate.LimitByIP(10, time.Minute))
		r.Use(Instrument)
		if router.oidc != nil {
			r.Get("/login", router.oidc.LoginHandler)
			r.Get("/callback", router.oidc.CallbackHandler)
			r.Post("/logout", router.oidc.LogoutHandler)
		}
	})

	// Data endpoints: authenticated, standard limit.
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(router.rateLimit())
		r.Use(router.authenticator.Middleware)

		// The live stream hijacks the connection, so it skips the
		// instrumented response writer.
		r.Get("/track/live", router.handler.TrackLive)

		r.Group(func(r chi.Router) {
			r.Use(Instrument)
			r.Post("/track", router.handler.TrackCreate)
			r.Get("/track/history", router.handler.TrackHistory)
			r.Get("/me", router.handler.Me)
			r.Post("/tokens", router.handler.TokenCreate)
			r.Get("/tokens", router.handler.TokenList)
			r.Delete("/tokens/{id}", router.handler.TokenDelete)
		})
	})

	// Prometheus scrape endpoint.
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// rateLimit builds the standard per-IP limiter, or a no-op when
// disabled.
func (router *Router) rateLimit() func(http.Handler) http.Handler {
	if router.security.RateLimitDisabled {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.LimitByIP(router.security.RateLimitReqs, router.security.RateLimitWindow)
}
