// Waypost - Personal Location Tracking and History
// Copyright 2026 Waypost Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waypost/waypost

// Package api is the HTTP surface of the Waypost server: ingestion of
// location samples, history queries, live streaming over WebSocket,
// access token management, sign-in, and health probes. Routing is chi
// with per-group rate limits; all payloads are JSON.
package api
