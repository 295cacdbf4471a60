// Waypost - Personal Location Tracking and History
// Copyright 2026 Waypost Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waypost/waypost

package geo

// SignalTier is a discrete bucket summarizing fix precision for
// user-facing display.
type SignalTier string

const (
	SignalExcellent SignalTier = "excellent"
	SignalGood      SignalTier = "good"
	SignalFair      SignalTier = "fair"
	SignalPoor      SignalTier = "poor"
	SignalNone      SignalTier = "none"
)

// ClassifySignal maps a horizontal accuracy radius in meters to a signal
// tier. Boundaries are inclusive on the lower tier: 5m is still excellent,
// 20m is still good, 100m is still fair.
func ClassifySignal(accuracy *float64) SignalTier {
	if accuracy == nil {
		return SignalNone
	}

	switch a := *accuracy; {
	case a <= 5:
		return SignalExcellent
	case a <= 20:
		return SignalGood
	case a <= 100:
		return SignalFair
	default:
		return SignalPoor
	}
}
