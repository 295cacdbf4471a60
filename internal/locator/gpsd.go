// Waypost - Personal Location Tracking and History
// Copyright 2026 Waypost Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waypost/waypost

package locator

import (
	"bufio"
	"context"
	"crypto/tls"
	"math"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"github.com/waypost/waypost/internal/geo"
	"github.com/waypost/waypost/internal/logging"
)

// gpsdWatchCommand enables JSON streaming on a gpsd connection.
const gpsdWatchCommand = `?WATCH={"enable":true,"json":true};` + "\n"

// gpsdRedialDelay is the pause before re-dialing a dropped watch
// connection. The subscription itself stays open across redials.
const gpsdRedialDelay = 2 * time.Second

// GPSDConfig configures the gpsd sensor.
type GPSDConfig struct {
	// Address is the gpsd endpoint, host:port. Defaults to localhost:2947.
	Address string

	// TLS dials the endpoint over TLS. Required for non-loopback
	// addresses to satisfy the secure-context precondition.
	TLS bool

	// DialTimeout bounds connection establishment. Defaults to 5s.
	DialTimeout time.Duration
}

// GPSDSensor implements Sensor over the gpsd JSON protocol (WATCH/TPV).
type GPSDSensor struct {
	cfg GPSDConfig
}

// NewGPSDSensor creates a gpsd-backed sensor.
func NewGPSDSensor(cfg GPSDConfig) *GPSDSensor {
	if cfg.Address == "" {
		cfg.Address = "localhost:2947"
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	return &GPSDSensor{cfg: cfg}
}

// Secure reports whether the endpoint is loopback or TLS-protected.
func (s *GPSDSensor) Secure() bool {
	if s.cfg.TLS {
		return true
	}
	host, _, err := net.SplitHostPort(s.cfg.Address)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// dial opens a gpsd connection and enables the JSON stream.
func (s *GPSDSensor) dial(ctx context.Context) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: s.cfg.DialTimeout}

	var conn net.Conn
	var err error
	if s.cfg.TLS {
		conn, err = tls.DialWithDialer(dialer, "tcp", s.cfg.Address, nil)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", s.cfg.Address)
	}
	if err != nil {
		return nil, WrapError(KindPositionUnavailable, "gpsd unreachable", err)
	}

	if _, err := conn.Write([]byte(gpsdWatchCommand)); err != nil {
		conn.Close()
		return nil, WrapError(KindPositionUnavailable, "gpsd watch command failed", err)
	}

	return conn, nil
}

// gpsdMessage is the subset of gpsd JSON messages we consume.
type gpsdMessage struct {
	Class   string   `json:"class"`
	Mode    int      `json:"mode"`
	Time    string   `json:"time"`
	Lat     *float64 `json:"lat"`
	Lon     *float64 `json:"lon"`
	Eph     *float64 `json:"eph"`
	Epx     *float64 `json:"epx"`
	Epy     *float64 `json:"epy"`
	Message string   `json:"message"`
}

// ReadOnce reads TPV messages until one carries a 2D or better fix.
// Context cancellation (the caller's timeout) unblocks the read.
func (s *GPSDSensor) ReadOnce(ctx context.Context, _ Options) (geo.Sample, error) {
	conn, err := s.dial(ctx)
	if err != nil {
		return geo.Sample{}, err
	}
	defer conn.Close()

	// Unblock the blocking read when the context expires.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		sample, ok, err := parseTPV(scanner.Bytes())
		if err != nil {
			return geo.Sample{}, err
		}
		if ok {
			return sample, nil
		}
	}

	if ctx.Err() != nil {
		return geo.Sample{}, WrapError(KindTimeout, "no fix before deadline", ctx.Err())
	}
	return geo.Sample{}, NewError(KindPositionUnavailable, "gpsd stream ended without a fix")
}

// Watch streams TPV fixes until the returned cancel function is called.
// Dropped connections are re-dialed after a short delay; each failure is
// reported through onError without terminating the subscription.
func (s *GPSDSensor) Watch(_ Options, onUpdate func(geo.Sample), onError func(error)) (func(), error) {
	ctx, cancel := context.WithCancel(context.Background())

	var conn atomic.Pointer[net.Conn]

	first, err := s.dial(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	conn.Store(&first)

	go func() {
		current := first
		for {
			s.consume(ctx, current, onUpdate, onError)
			if ctx.Err() != nil {
				return
			}

			onError(NewError(KindPositionUnavailable, "gpsd connection lost, re-dialing"))

			select {
			case <-ctx.Done():
				return
			case <-time.After(gpsdRedialDelay):
			}

			next, err := s.dial(ctx)
			if err != nil {
				if ctx.Err() == nil {
					onError(err)
				}
				continue
			}
			conn.Store(&next)
			current = next
		}
	}()

	return func() {
		cancel()
		if c := conn.Load(); c != nil {
			(*c).Close()
		}
	}, nil
}

// consume reads one connection until it drops or the context ends.
func (s *GPSDSensor) consume(ctx context.Context, conn net.Conn, onUpdate func(geo.Sample), onError func(error)) {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		sample, ok, err := parseTPV(scanner.Bytes())
		if err != nil {
			onError(err)
			continue
		}
		if ok {
			onUpdate(sample)
		}
	}
}

// parseTPV decodes one gpsd JSON line. Returns ok=false for messages
// that are not usable fixes (other classes, mode < 2). gpsd ERROR
// messages mentioning permissions map to KindPermissionDenied.
func parseTPV(line []byte) (geo.Sample, bool, error) {
	var msg gpsdMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		// gpsd occasionally emits non-JSON banners; skip them.
		logging.Debug().Str("line", string(line)).Msg("skipping unparseable gpsd line")
		return geo.Sample{}, false, nil
	}

	switch msg.Class {
	case "ERROR":
		if strings.Contains(strings.ToLower(msg.Message), "permission") {
			return geo.Sample{}, false, NewError(KindPermissionDenied, msg.Message)
		}
		return geo.Sample{}, false, NewError(KindPositionUnavailable, msg.Message)
	case "TPV":
	default:
		return geo.Sample{}, false, nil
	}

	if msg.Mode < 2 || msg.Lat == nil || msg.Lon == nil {
		return geo.Sample{}, false, nil
	}

	sample := geo.Sample{
		Latitude:  *msg.Lat,
		Longitude: *msg.Lon,
		Source:    geo.SourcePrecise,
	}

	if acc := horizontalAccuracy(&msg); acc != nil {
		sample.Accuracy = acc
	}
	if msg.Time != "" {
		if t, err := time.Parse(time.RFC3339, msg.Time); err == nil {
			sample.CapturedAt = t
		}
	}
	if sample.CapturedAt.IsZero() {
		sample.CapturedAt = time.Now()
	}

	return sample, true, nil
}

// horizontalAccuracy derives a single radius from whatever error
// estimates the receiver reports: eph directly, otherwise the larger of
// the per-axis estimates.
func horizontalAccuracy(msg *gpsdMessage) *float64 {
	if msg.Eph != nil {
		return msg.Eph
	}
	if msg.Epx != nil && msg.Epy != nil {
		return geo.Float64Ptr(math.Max(*msg.Epx, *msg.Epy))
	}
	return nil
}
