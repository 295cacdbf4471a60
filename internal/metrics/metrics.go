// Waypost - Personal Location Tracking and History
// Copyright 2026 Waypost Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waypost/waypost

// Package metrics provides Prometheus instrumentation for Waypost:
// API endpoint latency and throughput, ingestion volume, locator
// behavior, and live stream connections.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	// Ingestion Metrics
	SamplesIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracking_samples_ingested_total",
			Help: "Total number of location samples accepted by the ingestion endpoint",
		},
		[]string{"source"},
	)

	IngestRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracking_samples_rejected_total",
			Help: "Total number of ingestion requests rejected",
		},
		[]string{"reason"}, // "invalid", "unauthenticated", "storage"
	)

	// Locator Metrics
	SensorReads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locator_sensor_reads_total",
			Help: "Total number of single-shot sensor reads by outcome",
		},
		[]string{"outcome"}, // "success" or the failure kind
	)

	CoarseLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locator_coarse_lookups_total",
			Help: "Total number of IP-geolocation lookups",
		},
		[]string{"outcome"},
	)

	CoarseBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "locator_coarse_breaker_state",
			Help: "Coarse lookup circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)

	WatchUpdates = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "locator_watch_updates_total",
			Help: "Total number of position fixes delivered by watch subscriptions",
		},
	)

	WatchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locator_watch_errors_total",
			Help: "Total number of watch subscription errors by kind",
		},
		[]string{"kind"},
	)

	// Tracker Metrics
	TrackerActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tracker_active",
			Help: "Whether tracking is active (1) or idle (0)",
		},
	)

	// Uplink Metrics
	UplinkPushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uplink_pushes_total",
			Help: "Total number of sample pushes to the ingestion endpoint",
		},
		[]string{"outcome"}, // "success", "failure", "spooled"
	)

	UplinkSpoolDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "uplink_spool_depth",
			Help: "Number of samples waiting in the offline spool",
		},
	)

	// Live Stream Metrics
	LiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "live_stream_connections",
			Help: "Current number of live position stream WebSocket connections",
		},
	)
)

// ObserveAPIRequest records one completed API request.
func ObserveAPIRequest(method, endpoint string, status int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
