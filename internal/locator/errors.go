// Waypost - Personal Location Tracking and History
// Copyright 2026 Waypost Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waypost/waypost

package locator

import (
	"errors"
	"fmt"
)

// Kind classifies locator failures. The tracking state machine keys its
// transitions off this taxonomy: permission denials and precondition
// failures are fatal to the session, position-unavailable and timeout are
// transient, network failures belong to the coarse path only.
type Kind string

const (
	KindPermissionDenied    Kind = "permission_denied"
	KindPositionUnavailable Kind = "position_unavailable"
	KindTimeout             Kind = "timeout"
	KindInsecureContext     Kind = "insecure_context"
	KindUnsupported         Kind = "unsupported"
	KindNetworkFailure      Kind = "network_failure"
	KindUnknown             Kind = "unknown"
)

// Error is a classified locator failure.
type Error struct {
	Kind    Kind
	Message string
	Code    int // raw sensor error code for KindUnknown, 0 otherwise
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	if e.Code != 0 {
		return fmt.Sprintf("%s (%d): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped error, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// Fatal reports whether the failure terminates a tracking session.
// Transient failures (position unavailable, timeout) keep a live watch open.
func (e *Error) Fatal() bool {
	switch e.Kind {
	case KindPermissionDenied, KindInsecureContext, KindUnsupported:
		return true
	default:
		return false
	}
}

// NewError creates a classified locator error.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WrapError creates a classified locator error wrapping a cause.
func WrapError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the failure kind from an error chain.
// Returns KindUnknown for errors that are not locator errors.
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return KindUnknown
}
