// Waypost - Personal Location Tracking and History
// Copyright 2026 Waypost Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waypost/waypost

package uplink

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/waypost/waypost/internal/geo"
	"github.com/waypost/waypost/internal/logging"
	"github.com/waypost/waypost/internal/metrics"
)

const (
	queueDepth         = 256
	spoolDrainInterval = 30 * time.Second
)

// Pusher delivers samples to the server at a paced rate. It implements
// tracker.Sink on the enqueue side and suture.Service on the delivery
// side.
type Pusher struct {
	client  *Client
	spool   *Spool
	limiter *rate.Limiter
	queue   chan geo.Sample
}

// NewPusher creates a pusher sending at most one sample per interval
// with the given burst allowance. spool may be nil, in which case
// undeliverable samples are dropped.
func NewPusher(client *Client, spool *Spool, interval time.Duration, burst int) *Pusher {
	if burst < 1 {
		burst = 1
	}
	return &Pusher{
		client:  client,
		spool:   spool,
		limiter: rate.NewLimiter(rate.Every(interval), burst),
		queue:   make(chan geo.Sample, queueDepth),
	}
}

// Push enqueues a sample without blocking. The tracker's event loop
// calls this, so a full queue diverts straight to the spool rather
// than stalling the caller.
func (p *Pusher) Push(sample geo.Sample) {
	select {
	case p.queue <- sample:
	default:
		if p.spool != nil {
			if err := p.spool.Put(sample); err != nil {
				logging.Error().Err(err).Msg("Uplink queue full and spool write failed, sample lost")
				return
			}
			metrics.UplinkPushes.WithLabelValues("spooled").Inc()
			return
		}
		logging.Warn().Msg("Uplink queue full, sample dropped")
	}
}

// String names the pusher in supervisor logs.
func (p *Pusher) String() string {
	return "uplink-pusher"
}

// Serve runs the delivery loop until ctx is cancelled.
func (p *Pusher) Serve(ctx context.Context) error {
	logging.Info().Msg("Uplink pusher started")

	ticker := time.NewTicker(spoolDrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.flushQueue()
			logging.Info().Msg("Uplink pusher stopped")
			return ctx.Err()

		case sample := <-p.queue:
			p.send(ctx, sample)

		case <-ticker.C:
			p.drainSpool(ctx)
		}
	}
}

// send delivers one sample, spooling it on transient failure.
func (p *Pusher) send(ctx context.Context, sample geo.Sample) {
	if err := p.limiter.Wait(ctx); err != nil {
		if p.spool != nil {
			if spoolErr := p.spool.Put(sample); spoolErr == nil {
				metrics.UplinkPushes.WithLabelValues("spooled").Inc()
			}
		}
		return
	}

	err := p.client.Push(ctx, sample)
	switch {
	case err == nil:
		metrics.UplinkPushes.WithLabelValues("success").Inc()

	case IsRejected(err):
		metrics.UplinkPushes.WithLabelValues("failure").Inc()
		logging.Warn().Err(err).
			Float64("lat", sample.Latitude).
			Float64("lng", sample.Longitude).
			Msg("Server rejected sample, dropping")

	default:
		metrics.UplinkPushes.WithLabelValues("failure").Inc()
		if p.spool == nil {
			logging.Warn().Err(err).Msg("Push failed and no spool configured, sample lost")
			return
		}
		if spoolErr := p.spool.Put(sample); spoolErr != nil {
			logging.Error().Err(spoolErr).Msg("Push failed and spool write failed, sample lost")
			return
		}
		metrics.UplinkPushes.WithLabelValues("spooled").Inc()
		logging.Debug().Err(err).Msg("Push failed, sample spooled for retry")
	}
}

// drainSpool replays spooled samples while the server keeps accepting.
func (p *Pusher) drainSpool(ctx context.Context) {
	if p.spool == nil {
		return
	}

	delivered, err := p.spool.Drain(ctx, func(sample geo.Sample) error {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
		return p.client.Push(ctx, sample)
	})

	if delivered > 0 {
		metrics.UplinkPushes.WithLabelValues("success").Add(float64(delivered))
		logging.Info().Int("count", delivered).Msg("Replayed spooled samples")
	}
	if err != nil && ctx.Err() == nil {
		logging.Debug().Err(err).Msg("Spool drain stopped, will retry")
	}
}

// flushQueue moves queued samples to the spool during shutdown.
func (p *Pusher) flushQueue() {
	if p.spool == nil {
		return
	}
	for {
		select {
		case sample := <-p.queue:
			if err := p.spool.Put(sample); err != nil {
				logging.Error().Err(err).Msg("Failed to spool sample during shutdown")
				return
			}
		default:
			return
		}
	}
}
