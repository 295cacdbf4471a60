// Waypost - Personal Location Tracking and History
// Copyright 2026 Waypost Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waypost/waypost

// Package main is the entry point for the Waypost server.
//
// The server ingests location samples pushed by tracking agents,
// stores them in DuckDB, and serves the history and live-position
// APIs. Browser sign-in uses OIDC when configured; agents authenticate
// with personal access tokens.
//
// Startup order:
//
//  1. Configuration: layered koanf sources (defaults, YAML file, env)
//  2. Logging: zerolog per the logging section
//  3. Database: DuckDB with lazy schema creation
//  4. Auth: session manager, token manager, optional OIDC relying party
//  5. WebSocket hub for live position streaming
//  6. HTTP server under a suture supervision tree
//
// The server shuts down gracefully on SIGINT and SIGTERM: it stops
// accepting connections, drains in-flight requests, then checkpoints
// and closes the database.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/waypost/waypost/internal/api"
	"github.com/waypost/waypost/internal/auth"
	"github.com/waypost/waypost/internal/config"
	"github.com/waypost/waypost/internal/database"
	"github.com/waypost/waypost/internal/logging"
	"github.com/waypost/waypost/internal/supervisor"
	ws "github.com/waypost/waypost/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if err := cfg.ValidateServer(); err != nil {
		logging.Fatal().Err(err).Msg("Invalid configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("db_path", cfg.Database.Path).
		Bool("oidc", cfg.Security.OIDC.Enabled()).
		Str("environment", cfg.Server.Environment).
		Msg("Starting Waypost server")

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()

	// Sessions need a secret; without one only token auth is available.
	var sessions *auth.SessionManager
	if cfg.Security.SessionSecret != "" {
		sessions, err = auth.NewSessionManager(&cfg.Security)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to initialize session manager")
		}
	} else {
		logging.Warn().Msg("No session secret configured; browser sessions disabled, token auth only")
	}

	tokens := auth.NewTokenManager(db)
	authenticator := auth.NewAuthenticator(sessions, tokens, db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var oidc *auth.OIDCProvider
	if cfg.Security.OIDC.Enabled() {
		if sessions == nil {
			logging.Fatal().Msg("OIDC sign-in requires security.session_secret")
		}
		oidc, err = auth.NewOIDCProvider(ctx, &cfg.Security.OIDC, db, sessions)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to initialize OIDC provider")
		}
		logging.Info().Str("issuer", cfg.Security.OIDC.IssuerURL).Msg("OIDC sign-in enabled")
	}

	if cfg.Security.RateLimitDisabled {
		logging.Warn().Msg("Rate limiting is DISABLED; use only in test environments")
	}

	hub := ws.NewHub()
	handler := api.NewHandler(db, hub, tokens)
	router := api.NewRouter(handler, authenticator, oidc, &cfg.Security)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	tree := supervisor.NewTree("waypost-server", logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddMessagingService(hub)
	tree.AddAPIService(supervisor.NewHTTPService(server, 10*time.Second))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server added to supervisor tree")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	errCh := tree.ServeBackground(ctx)
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Waypost server stopped")
}
