// Waypost - Personal Location Tracking and History
// Copyright 2026 Waypost Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waypost/waypost

// Package supervisor builds the suture supervision tree both Waypost
// binaries run under.
//
// The tree has two layers under the root:
//
//   - messaging: long-lived pumps (WebSocket hub, tracker, uplink)
//   - api: the HTTP server
//
// A crash in a messaging service restarts that service without taking
// the API layer down, and vice versa. Supervisor events are logged
// through sutureslog, bridged to zerolog by the logging package.
package supervisor
