// Waypost - Personal Location Tracking and History
// Copyright 2026 Waypost Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waypost/waypost

package locator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/waypost/waypost/internal/geo"
	"github.com/waypost/waypost/internal/logging"
	"github.com/waypost/waypost/internal/metrics"
)

// DefaultCoarseURL is the default IP-geolocation lookup endpoint.
const DefaultCoarseURL = "https://ipapi.co/json/"

// coarseResponseLimit caps the lookup response body size.
const coarseResponseLimit = 64 << 10

// CoarseConfig configures the coarse locator.
type CoarseConfig struct {
	// URL is the lookup endpoint. Defaults to DefaultCoarseURL.
	URL string

	// Timeout bounds a single lookup. Defaults to 10s.
	Timeout time.Duration

	// Client overrides the HTTP client, mainly for tests.
	Client *http.Client
}

// Coarse obtains a single low-precision location estimate from an
// IP-geolocation service. It never retries internally; retry policy lives
// in the caller. The outbound call is wrapped in a circuit breaker so a
// dead lookup service fails fast instead of eating the 10s timeout on
// every acquisition attempt.
type Coarse struct {
	url    string
	client *http.Client
	cb     *gobreaker.CircuitBreaker[geo.Sample]
}

// coarseResponse is the subset of the lookup service's JSON we consume.
type coarseResponse struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	City      string   `json:"city"`
	Country   string   `json:"country_name"`
}

// NewCoarse creates a coarse locator.
func NewCoarse(cfg CoarseConfig) *Coarse {
	if cfg.URL == "" {
		cfg.URL = DefaultCoarseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	cb := gobreaker.NewCircuitBreaker[geo.Sample](gobreaker.Settings{
		Name:        "coarse-locator",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
			metrics.CoarseBreakerState.Set(breakerStateValue(to))
		},
	})

	return &Coarse{url: cfg.URL, client: client, cb: cb}
}

// Acquire issues one outbound lookup and returns a coarse sample.
// Any network or malformed-response failure is returned as a
// KindNetworkFailure locator error.
func (c *Coarse) Acquire(ctx context.Context) (geo.Sample, error) {
	sample, err := c.cb.Execute(func() (geo.Sample, error) {
		return c.lookup(ctx)
	})
	if err != nil {
		metrics.CoarseLookups.WithLabelValues("failure").Inc()
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return geo.Sample{}, WrapError(KindNetworkFailure, "coarse lookup circuit open", err)
		}
		var le *Error
		if errors.As(err, &le) {
			return geo.Sample{}, err
		}
		return geo.Sample{}, WrapError(KindNetworkFailure, "coarse lookup failed", err)
	}

	metrics.CoarseLookups.WithLabelValues("success").Inc()
	return sample, nil
}

// lookup performs the raw HTTP request and decodes the response.
func (c *Coarse) lookup(ctx context.Context) (geo.Sample, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return geo.Sample{}, WrapError(KindNetworkFailure, "build lookup request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return geo.Sample{}, WrapError(KindNetworkFailure, "lookup request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return geo.Sample{}, NewError(KindNetworkFailure, fmt.Sprintf("lookup returned status %d", resp.StatusCode))
	}

	var body coarseResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, coarseResponseLimit)).Decode(&body); err != nil {
		return geo.Sample{}, WrapError(KindNetworkFailure, "malformed lookup response", err)
	}
	if body.Latitude == nil || body.Longitude == nil {
		return geo.Sample{}, NewError(KindNetworkFailure, "lookup response missing coordinates")
	}

	sample := geo.Sample{
		Latitude:   *body.Latitude,
		Longitude:  *body.Longitude,
		Accuracy:   geo.Float64Ptr(geo.CoarseAccuracyMeters),
		CapturedAt: time.Now(),
		Source:     geo.SourceCoarse,
		Label:      coarseLabel(body.City, body.Country),
	}
	if err := sample.Validate(); err != nil {
		return geo.Sample{}, WrapError(KindNetworkFailure, "lookup returned invalid coordinates", err)
	}

	return sample, nil
}

// coarseLabel formats a human-readable locality string from the lookup
// response, tolerating missing parts.
func coarseLabel(city, country string) string {
	parts := make([]string, 0, 2)
	if city != "" {
		parts = append(parts, city)
	}
	if country != "" {
		parts = append(parts, country)
	}
	return strings.Join(parts, ", ")
}

// breakerStateValue maps gobreaker states onto the metric gauge.
func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}
