// Waypost - Personal Location Tracking and History
// Copyright 2026 Waypost Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waypost/waypost

// Package locator provides the two location sources consumed by the
// tracking state machine.
//
// The precise locator wraps a platform Sensor (gpsd in production) for
// single-shot reads and continuous watch subscriptions, enforcing the
// secure-context precondition and classifying failures into the
// taxonomy the tracker keys transitions off: permission denial is fatal
// to a session, position-unavailable and timeout are transient warnings.
//
// The coarse locator obtains a single low-precision estimate from an
// IP-geolocation service with no permission requirement. It is used
// strictly as a fallback after a sensor failure, never raced against
// the sensor, and never retried internally.
package locator
