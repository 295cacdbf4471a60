// Waypost - Personal Location Tracking and History
// Copyright 2026 Waypost Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waypost/waypost

// Package locator provides the two location sources consumed by the
// tracking state machine: the precise on-device sensor wrapper and the
// coarse IP-geolocation fallback.
package locator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/waypost/waypost/internal/geo"
)

// Options control a sensor read or watch subscription.
type Options struct {
	// HighAccuracy requests the best fix the sensor can produce.
	HighAccuracy bool

	// Timeout bounds how long a single fix may take.
	Timeout time.Duration

	// MaxCachedAge is the oldest cached fix the sensor may legitimately
	// return instead of a live one.
	MaxCachedAge time.Duration
}

// ReadOnceOptions returns the options used for single-shot reads.
func ReadOnceOptions() Options {
	return Options{
		HighAccuracy: true,
		Timeout:      30 * time.Second,
		MaxCachedAge: 5 * time.Minute,
	}
}

// WatchOptions returns the options used for continuous watch reads.
// The cached-age window is tighter than for single-shot reads because a
// live watch should track actual movement.
func WatchOptions() Options {
	return Options{
		HighAccuracy: true,
		Timeout:      30 * time.Second,
		MaxCachedAge: time.Minute,
	}
}

// Permission is the platform-level authorization state for sensor access.
type Permission string

const (
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
	PermissionPrompt  Permission = "prompt"
	PermissionUnknown Permission = "unknown"
)

// Sensor is the platform position capability behind the precise locator.
// Implementations wrap a concrete device feed (see GPSDSensor).
type Sensor interface {
	// ReadOnce requests a single fix. The returned sample need not have
	// Source set; the locator normalizes it.
	ReadOnce(ctx context.Context, opts Options) (geo.Sample, error)

	// Watch begins a continuous subscription. Each fix calls onUpdate,
	// each failure calls onError; the subscription survives transient
	// errors and is released via the returned cancel function. Callbacks
	// may fire on any cadence and in any order relative to wall-clock
	// capture time.
	Watch(opts Options, onUpdate func(geo.Sample), onError func(error)) (cancel func(), err error)

	// Secure reports whether the sensor endpoint satisfies the
	// secure-context precondition (loopback or TLS-protected).
	Secure() bool
}

// PermissionMonitor observes platform permission state. Observation is
// advisory: it updates asynchronously and never triggers acquisition.
type PermissionMonitor interface {
	// Current returns the present permission state.
	Current(ctx context.Context) Permission

	// Subscribe delivers permission changes until ctx is done.
	Subscribe(ctx context.Context) <-chan Permission
}

// Subscription is a handle on a live watch. Cancel is idempotent and safe
// on an already-released handle.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// NewSubscription wraps a cancel function in an idempotent handle.
func NewSubscription(cancel func()) *Subscription {
	return &Subscription{cancel: cancel}
}

// Cancel releases the subscription. Fire-and-forget: the underlying
// platform call is treated as always succeeding.
func (s *Subscription) Cancel() {
	if s == nil || s.cancel == nil {
		return
	}
	s.once.Do(s.cancel)
}

// Precise wraps a Sensor with precondition checks and sample
// normalization. A nil sensor means the platform has no position
// capability at all.
type Precise struct {
	sensor Sensor
}

// NewPrecise creates a precise locator over the given sensor.
func NewPrecise(sensor Sensor) *Precise {
	return &Precise{sensor: sensor}
}

// Supported reports whether a sensor is present.
func (p *Precise) Supported() bool {
	return p.sensor != nil
}

// Preflight checks the fatal preconditions (sensor presence, secure
// context) without touching the sensor. Returns nil when acquisition may
// be attempted.
func (p *Precise) Preflight() error {
	if err := p.checkPreconditions(); err != nil {
		return err
	}
	return nil
}

// checkPreconditions validates support and secure context before any
// sensor call.
func (p *Precise) checkPreconditions() *Error {
	if p.sensor == nil {
		return NewError(KindUnsupported, "no position sensor available")
	}
	if !p.sensor.Secure() {
		return NewError(KindInsecureContext, "sensor endpoint requires a secure transport or loopback")
	}
	return nil
}

// ReadOnce requests a single high-accuracy fix.
func (p *Precise) ReadOnce(ctx context.Context, opts Options) (geo.Sample, error) {
	if err := p.checkPreconditions(); err != nil {
		return geo.Sample{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	sample, err := p.sensor.ReadOnce(ctx, opts)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return geo.Sample{}, WrapError(KindTimeout, "sensor read timed out", err)
		}
		return geo.Sample{}, classifySensorErr(err)
	}

	return normalize(sample), nil
}

// Watch begins a continuous subscription. Transient sensor failures keep
// the subscription alive; only the caller decides when to cancel.
func (p *Precise) Watch(opts Options, onUpdate func(geo.Sample), onError func(error)) (*Subscription, error) {
	if err := p.checkPreconditions(); err != nil {
		return nil, err
	}

	cancel, err := p.sensor.Watch(opts,
		func(sample geo.Sample) {
			onUpdate(normalize(sample))
		},
		func(err error) {
			onError(classifySensorErr(err))
		},
	)
	if err != nil {
		return nil, classifySensorErr(err)
	}

	return NewSubscription(cancel), nil
}

// normalize stamps provenance and capture time on a raw sensor sample.
func normalize(sample geo.Sample) geo.Sample {
	sample.Source = geo.SourcePrecise
	if sample.CapturedAt.IsZero() {
		sample.CapturedAt = time.Now()
	}
	return sample
}

// classifySensorErr passes through already-classified errors and tags
// everything else as unknown.
func classifySensorErr(err error) error {
	var le *Error
	if errors.As(err, &le) {
		return err
	}
	return WrapError(KindUnknown, "sensor failure", err)
}
