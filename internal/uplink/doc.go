// Waypost - Personal Location Tracking and History
// Copyright 2026 Waypost Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waypost/waypost

// Package uplink pushes accepted location samples from the tracking
// agent to the server's ingestion endpoint.
//
// The Pusher implements tracker.Sink: the tracker hands it every
// accepted sample and the pusher delivers them at a paced rate over
// HTTP with a personal access token. Samples that cannot be delivered
// because the server is unreachable are spooled to a local BadgerDB
// store and replayed once connectivity returns. Samples the server
// rejects outright (4xx) are dropped; retrying them would fail again.
package uplink
