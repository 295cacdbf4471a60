// Waypost - Personal Location Tracking and History
// Copyright 2026 Waypost Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waypost/waypost

// Package main is the entry point for the Waypost tracking agent.
//
// The agent runs on the device being tracked. It reads position fixes
// from a local gpsd, falls back to IP geolocation when the sensor
// cannot produce a fix, and pushes accepted samples to the server's
// ingestion endpoint with a personal access token. Samples that cannot
// be delivered are spooled locally and replayed when connectivity
// returns.
//
// The tracker, the uplink pusher, and the spool all run under a suture
// supervision tree; a crash in one restarts that component without
// losing the others.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/waypost/waypost/internal/config"
	"github.com/waypost/waypost/internal/locator"
	"github.com/waypost/waypost/internal/logging"
	"github.com/waypost/waypost/internal/supervisor"
	"github.com/waypost/waypost/internal/tracker"
	"github.com/waypost/waypost/internal/uplink"
)

// startRetryInterval is how long the agent waits before retrying a
// failed tracking start (sensor offline, gpsd not yet up).
const startRetryInterval = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if err := cfg.ValidateAgent(); err != nil {
		logging.Fatal().Err(err).Msg("Invalid configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("gpsd", cfg.GPSD.Address).
		Str("uplink", cfg.Uplink.URL).
		Bool("coarse_fallback", cfg.Coarse.Enabled).
		Msg("Starting Waypost agent")

	var spool *uplink.Spool
	if cfg.Uplink.SpoolPath != "" {
		spool, err = uplink.OpenSpool(cfg.Uplink.SpoolPath, cfg.Uplink.SpoolRetention)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to open uplink spool")
		}
		defer func() {
			if err := spool.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing spool")
			}
		}()
	} else {
		logging.Warn().Msg("No spool path configured; undeliverable samples will be dropped")
	}

	client := uplink.NewClient(cfg.Uplink.URL, cfg.Uplink.Token)
	pusher := uplink.NewPusher(client, spool, cfg.Uplink.Interval, cfg.Uplink.Burst)

	sensor := locator.NewGPSDSensor(locator.GPSDConfig{
		Address:     cfg.GPSD.Address,
		TLS:         cfg.GPSD.TLS,
		DialTimeout: cfg.GPSD.DialTimeout,
	})
	precise := locator.NewPrecise(sensor)

	var coarse tracker.CoarseLocator
	if cfg.Coarse.Enabled {
		coarse = locator.NewCoarse(locator.CoarseConfig{
			URL:     cfg.Coarse.URL,
			Timeout: cfg.Coarse.Timeout,
		})
	}

	trk := tracker.New(tracker.Config{
		Precise: precise,
		Coarse:  coarse,
		Sink:    pusher,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tree := supervisor.NewTree("waypost-agent", logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddMessagingService(pusher)
	tree.AddMessagingService(trk)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	errCh := tree.ServeBackground(ctx)

	// Kick off tracking once the tree is serving. A failed start (gpsd
	// not up yet, secure-context refusal after a config change) retries
	// until it sticks or the agent shuts down.
	go func() {
		for {
			err := trk.Start(ctx)
			if err == nil {
				logging.Info().Msg("Tracking started")
				return
			}
			if ctx.Err() != nil {
				return
			}
			logging.Warn().Err(err).Dur("retry_in", startRetryInterval).Msg("Failed to start tracking")
			select {
			case <-time.After(startRetryInterval):
			case <-ctx.Done():
				return
			}
		}
	}()

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Waypost agent stopped")
}
