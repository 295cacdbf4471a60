// Waypost - Personal Location Tracking and History
// Copyright 2026 Waypost Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waypost/waypost

// Package geo defines the location sample model and signal quality
// classification shared by the tracking core and the server.
package geo

import (
	"fmt"
	"math"
	"time"
)

// Source identifies the provenance of a location sample.
type Source string

const (
	// SourcePrecise marks samples originating from the on-device sensor.
	SourcePrecise Source = "precise"

	// SourceCoarse marks samples derived from IP geolocation.
	SourceCoarse Source = "coarse"
)

// CoarseAccuracyMeters is the nominal uncertainty radius assigned to
// IP-derived samples.
const CoarseAccuracyMeters = 5000

// Sample is a single location observation.
//
// Accuracy is the horizontal uncertainty radius in meters. It is nil when
// the source did not report one; coarse samples carry the nominal
// CoarseAccuracyMeters radius.
type Sample struct {
	Latitude   float64   `json:"lat"`
	Longitude  float64   `json:"lng"`
	Accuracy   *float64  `json:"accuracy,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
	Source     Source    `json:"source"`
	Label      string    `json:"label,omitempty"`
}

// Validate checks that coordinates are finite and within range.
func (s *Sample) Validate() error {
	if math.IsNaN(s.Latitude) || math.IsInf(s.Latitude, 0) ||
		math.IsNaN(s.Longitude) || math.IsInf(s.Longitude, 0) {
		return fmt.Errorf("coordinates must be finite")
	}
	if s.Latitude < -90 || s.Latitude > 90 {
		return fmt.Errorf("latitude %v out of range [-90, 90]", s.Latitude)
	}
	if s.Longitude < -180 || s.Longitude > 180 {
		return fmt.Errorf("longitude %v out of range [-180, 180]", s.Longitude)
	}
	return nil
}

// AccuracyMeters returns the accuracy radius and whether one is present.
func (s *Sample) AccuracyMeters() (float64, bool) {
	if s.Accuracy == nil {
		return 0, false
	}
	return *s.Accuracy, true
}

// Float64Ptr is a convenience helper for building samples with an
// accuracy radius.
func Float64Ptr(v float64) *float64 {
	return &v
}
