// Waypost - Personal Location Tracking and History
// Copyright 2026 Waypost Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waypost/waypost

// Package auth provides the two authentication paths Waypost supports:
//
//   - Browser sessions: OIDC sign-in through a certified relying party,
//     exchanged for a signed session JWT carried in an HTTP-only cookie.
//   - Personal access tokens: long-lived bearer tokens in the form
//     wp_pat_<id>_<secret>, intended for headless tracking agents. Only
//     a bcrypt hash of the secret half is stored.
//
// The middleware accepts either path and resolves both to a database
// user attached to the request context.
package auth
