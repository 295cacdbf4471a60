// Waypost - Personal Location Tracking and History
// Copyright 2026 Waypost Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waypost/waypost

// Package tracker implements the location-tracking state machine.
//
// The tracker owns the lifecycle of "is tracking active": it reconciles
// the precise sensor with the coarse IP fallback, manages the watch
// subscription, classifies signal quality, and exposes a read-only
// snapshot plus a small command interface (Start, Stop).
//
// All state mutation happens on a single event-loop goroutine. Commands,
// sensor callbacks, acquisition results, and permission notifications are
// delivered as events and applied in arrival order, so no two mutations
// race. The watch subscription handle is owned exclusively by the loop.
package tracker

import (
	"context"
	"errors"
	"sync"

	"github.com/waypost/waypost/internal/geo"
	"github.com/waypost/waypost/internal/locator"
	"github.com/waypost/waypost/internal/logging"
	"github.com/waypost/waypost/internal/metrics"
)

// State is the tracker lifecycle state.
type State string

const (
	// StateIdle: not tracking, no subscription.
	StateIdle State = "idle"

	// StateAcquiring: start requested, awaiting the first fix.
	StateAcquiring State = "acquiring"

	// StateTracking: subscription live with at least one fix or a
	// fallback sample set.
	StateTracking State = "tracking"

	// StateDegraded: subscription live but the most recent attempt
	// errored; the last sample is retained.
	StateDegraded State = "degraded"
)

// Snapshot is the read-only view of tracking session state exposed to
// the presentation layer.
type Snapshot struct {
	State      State              `json:"state"`
	Active     bool               `json:"active"`
	Permission locator.Permission `json:"permission"`
	LastSample *geo.Sample        `json:"last_sample,omitempty"`
	LastError  string             `json:"last_error,omitempty"`
	SignalTier geo.SignalTier     `json:"signal_tier"`
}

// PreciseLocator is the sensor-backed location source.
type PreciseLocator interface {
	Supported() bool
	Preflight() error
	ReadOnce(ctx context.Context, opts locator.Options) (geo.Sample, error)
	Watch(opts locator.Options, onUpdate func(geo.Sample), onError func(error)) (*locator.Subscription, error)
}

// CoarseLocator is the IP-geolocation fallback source.
type CoarseLocator interface {
	Acquire(ctx context.Context) (geo.Sample, error)
}

// Sink receives every sample the tracker accepts. Implementations must
// not block; the uplink queues internally.
type Sink interface {
	Push(sample geo.Sample)
}

// Tracker is the location-tracking state machine.
type Tracker struct {
	precise PreciseLocator
	coarse  CoarseLocator
	perm    locator.PermissionMonitor
	sink    Sink

	events chan event

	// snap is mutated only by the event loop; mu guards reads from
	// other goroutines.
	mu   sync.RWMutex
	snap Snapshot

	// Loop-owned; never touched outside the event loop.
	sub        *locator.Subscription
	watchGen   uint64
	acquireGen uint64
}

// Config wires a tracker's collaborators. Perm and Sink are optional.
type Config struct {
	Precise PreciseLocator
	Coarse  CoarseLocator
	Perm    locator.PermissionMonitor
	Sink    Sink
}

// New creates a tracker. Call Serve to run its event loop.
func New(cfg Config) *Tracker {
	return &Tracker{
		precise: cfg.Precise,
		coarse:  cfg.Coarse,
		perm:    cfg.Perm,
		sink:    cfg.Sink,
		events:  make(chan event, 64),
		snap: Snapshot{
			State:      StateIdle,
			Permission: locator.PermissionUnknown,
			SignalTier: geo.SignalNone,
		},
	}
}

// event is a single unit of work for the event loop.
type event struct {
	apply func(t *Tracker)
}

// post delivers an event to the loop, dropping it if the loop is gone.
func (t *Tracker) post(ctx context.Context, e event) {
	select {
	case t.events <- e:
	case <-ctx.Done():
	}
}

// Serve runs the event loop until ctx is done. On entry it performs the
// mount-time best-effort acquisition (which never flips Active) and
// subscribes to advisory permission notifications. On exit it performs
// the same cleanup as Stop. Serve implements suture.Service.
func (t *Tracker) Serve(ctx context.Context) error {
	if t.perm != nil {
		t.watchPermission(ctx)
	}

	// Mount: best-effort initial acquisition, does not change Active.
	go t.acquireBestEffort(ctx, t.acquireGen, nil)

	for {
		select {
		case <-ctx.Done():
			t.cleanup()
			return ctx.Err()
		case e := <-t.events:
			e.apply(t)
		}
	}
}

// Snapshot returns a copy of the current tracking session state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap
}

// setSnap applies a mutation to the snapshot under the write lock.
// Called only from the event loop.
func (t *Tracker) setSnap(mutate func(s *Snapshot)) {
	t.mu.Lock()
	mutate(&t.snap)
	t.mu.Unlock()
}

// Start requests tracking. It blocks until the initial acquisition
// completes (sensor first, coarse fallback second) and the watch
// subscription is open, returning the surfaced error on total failure.
//
// Guards are evaluated before any sensor call: a denied permission, a
// missing sensor, or an insecure context refuse the start immediately
// and leave the state machine idle.
func (t *Tracker) Start(ctx context.Context) error {
	reply := make(chan error, 1)
	t.post(ctx, event{apply: func(t *Tracker) { t.handleStart(ctx, reply) }})

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop ends tracking: the watch subscription is released, any pending
// acquisition is abandoned, Active flips false, and the last error is
// cleared. The last known sample remains visible.
func (t *Tracker) Stop(ctx context.Context) {
	done := make(chan struct{})
	t.post(ctx, event{apply: func(t *Tracker) {
		t.cleanup()
		close(done)
	}})

	select {
	case <-done:
	case <-ctx.Done():
	}
}

// handleStart runs on the event loop.
func (t *Tracker) handleStart(ctx context.Context, reply chan<- error) {
	if t.snap.Active {
		reply <- nil
		return
	}

	if t.snap.Permission == locator.PermissionDenied {
		err := locator.NewError(locator.KindPermissionDenied, "location permission denied")
		reply <- err
		return
	}

	if err := t.precise.Preflight(); err != nil {
		t.setSnap(func(s *Snapshot) { s.LastError = err.Error() })
		reply <- err
		return
	}

	t.setSnap(func(s *Snapshot) {
		s.Active = true
		s.State = StateAcquiring
		s.LastError = ""
	})
	metrics.TrackerActive.Set(1)

	t.acquireGen++
	gen := t.acquireGen
	go t.acquireBestEffort(ctx, gen, reply)
}

// acquireBestEffort performs the sensor-then-coarse acquisition and
// posts the outcome back to the loop. A non-nil reply marks a start()
// acquisition; the reply carries the surfaced error, which is the
// sensor's failure with any coarse failure swallowed.
func (t *Tracker) acquireBestEffort(ctx context.Context, gen uint64, reply chan<- error) {
	sample, sensorErr := t.precise.ReadOnce(ctx, locator.ReadOnceOptions())
	if sensorErr == nil {
		metrics.SensorReads.WithLabelValues("success").Inc()
		t.post(ctx, event{apply: func(t *Tracker) { t.handleAcquired(gen, sample, reply) }})
		return
	}
	metrics.SensorReads.WithLabelValues(string(locator.KindOf(sensorErr))).Inc()

	// Coarse is attempted strictly after sensor failure, never raced.
	if t.coarse != nil {
		if coarseSample, coarseErr := t.coarse.Acquire(ctx); coarseErr == nil {
			t.post(ctx, event{apply: func(t *Tracker) { t.handleAcquired(gen, coarseSample, reply) }})
			return
		}
		// Coarse failure reason is swallowed; only the sensor error
		// surfaces.
	}

	t.post(ctx, event{apply: func(t *Tracker) { t.handleAcquireFailed(gen, sensorErr, reply) }})
}

// handleAcquired runs on the event loop when either source produced a
// sample. A nil reply marks the mount-time acquisition, which never
// changes Active and never opens a watch.
func (t *Tracker) handleAcquired(gen uint64, sample geo.Sample, reply chan<- error) {
	forStart := reply != nil

	if gen != t.acquireGen {
		if forStart {
			reply <- nil
		}
		return // superseded by a newer start or a stop
	}
	if forStart && !t.snap.Active {
		reply <- nil
		return // stopped while acquiring
	}
	if !forStart && t.snap.Active {
		return // mount result arriving after an explicit start
	}

	t.applySample(sample)

	if !forStart {
		return
	}

	t.setSnap(func(s *Snapshot) { s.State = StateTracking })
	t.openWatch()
	reply <- nil
}

// handleAcquireFailed runs on the event loop when both sources failed.
func (t *Tracker) handleAcquireFailed(gen uint64, sensorErr error, reply chan<- error) {
	forStart := reply != nil

	if gen != t.acquireGen {
		if forStart {
			reply <- sensorErr
		}
		return
	}

	t.setSnap(func(s *Snapshot) {
		s.LastError = sensorErr.Error()
		if forStart {
			s.Active = false
			s.State = StateIdle
		}
	})
	if forStart {
		metrics.TrackerActive.Set(0)
		reply <- sensorErr
	}
	logging.Warn().Err(sensorErr).Bool("start", forStart).Msg("location acquisition failed")
}

// applySample installs a new sample: provenance-aware tier, granted
// permission, cleared error.
func (t *Tracker) applySample(sample geo.Sample) {
	tier := geo.SignalNone
	if sample.Source == geo.SourcePrecise {
		tier = geo.ClassifySignal(sample.Accuracy)
	}

	t.setSnap(func(s *Snapshot) {
		s.LastSample = &sample
		s.LastError = ""
		s.SignalTier = tier
		s.Permission = locator.PermissionGranted
	})

	// Only an active session uplinks. The mount-time acquisition fills
	// the snapshot for display but publishes nothing.
	if t.sink != nil && t.snap.Active {
		t.sink.Push(sample)
	}
}

// openWatch opens the continuous subscription. Callbacks carry the
// current watch generation so callbacks from a cancelled subscription
// can never mutate state.
func (t *Tracker) openWatch() {
	t.watchGen++
	gen := t.watchGen

	ctx := context.Background()
	sub, err := t.precise.Watch(locator.WatchOptions(),
		func(sample geo.Sample) {
			t.post(ctx, event{apply: func(t *Tracker) { t.handleWatchUpdate(gen, sample) }})
		},
		func(err error) {
			t.post(ctx, event{apply: func(t *Tracker) { t.handleWatchError(gen, err) }})
		},
	)
	if err != nil {
		kind := locator.KindOf(err)
		t.setSnap(func(s *Snapshot) { s.LastError = err.Error() })
		if isFatal(err) {
			t.setSnap(func(s *Snapshot) {
				s.Active = false
				s.State = StateIdle
				if kind == locator.KindPermissionDenied {
					s.Permission = locator.PermissionDenied
				}
			})
			metrics.TrackerActive.Set(0)
		} else {
			t.setSnap(func(s *Snapshot) { s.State = StateDegraded })
		}
		return
	}

	t.sub = sub
}

// handleWatchUpdate runs on the event loop for each successful fix.
// Each callback is the new latest; timestamps are not assumed monotonic.
func (t *Tracker) handleWatchUpdate(gen uint64, sample geo.Sample) {
	if gen != t.watchGen || !t.snap.Active {
		return
	}

	metrics.WatchUpdates.Inc()
	t.applySample(sample)
	t.setSnap(func(s *Snapshot) { s.State = StateTracking })
}

// handleWatchError runs on the event loop for each watch failure.
// Permission denial is terminal for the session; position-unavailable
// and timeout degrade it without cancelling the subscription.
func (t *Tracker) handleWatchError(gen uint64, err error) {
	if gen != t.watchGen || !t.snap.Active {
		return
	}

	kind := locator.KindOf(err)
	metrics.WatchErrors.WithLabelValues(string(kind)).Inc()

	if kind == locator.KindPermissionDenied {
		t.releaseWatch()
		t.setSnap(func(s *Snapshot) {
			s.Permission = locator.PermissionDenied
			s.Active = false
			s.State = StateIdle
			s.LastError = err.Error()
		})
		metrics.TrackerActive.Set(0)
		logging.Warn().Err(err).Msg("location permission revoked, tracking stopped")
		return
	}

	t.setSnap(func(s *Snapshot) {
		s.LastError = err.Error()
		s.State = StateDegraded
	})
}

// handlePermissionChange runs on the event loop for advisory
// platform-level permission notifications. It only updates the status
// field; it never triggers or cancels acquisition.
func (t *Tracker) handlePermissionChange(p locator.Permission) {
	t.setSnap(func(s *Snapshot) { s.Permission = p })
}

// watchPermission forwards advisory permission notifications as events.
func (t *Tracker) watchPermission(ctx context.Context) {
	t.setSnap(func(s *Snapshot) { s.Permission = t.perm.Current(ctx) })

	ch := t.perm.Subscribe(ctx)
	if ch == nil {
		return
	}
	go func() {
		for p := range ch {
			p := p
			t.post(ctx, event{apply: func(t *Tracker) { t.handlePermissionChange(p) }})
		}
	}()
}

// releaseWatch cancels the live subscription and bumps the generation so
// stale callbacks are ignored. Cancellation is fire-and-forget.
func (t *Tracker) releaseWatch() {
	t.sub.Cancel()
	t.sub = nil
	t.watchGen++
}

// cleanup is the shared Stop/unmount path: release the subscription,
// abandon any in-flight acquisition, clear the error, keep the sample.
func (t *Tracker) cleanup() {
	t.releaseWatch()
	t.acquireGen++

	t.setSnap(func(s *Snapshot) {
		s.Active = false
		s.State = StateIdle
		s.LastError = ""
	})
	metrics.TrackerActive.Set(0)
}

// isFatal reports whether a locator error terminates the session.
func isFatal(err error) bool {
	var le *locator.Error
	if errors.As(err, &le) {
		return le.Fatal()
	}
	return false
}
