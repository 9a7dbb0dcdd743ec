// Package syncerr defines the error taxonomy shared by the store, queue,
// engine and capture layers.
//
// Errors are values of *Error carrying a Code. Callers test for a category
// with the Is* helpers, which unwrap with errors.As so codes survive
// fmt.Errorf("...: %w") wrapping.
package syncerr

import (
	"errors"
	"fmt"
)

// Code categorizes a sync error.
type Code string

const (
	// CodeStorageUnavailable means local persistence cannot be opened or
	// written. Work is not saved and the caller must say so.
	CodeStorageUnavailable Code = "STORAGE_UNAVAILABLE"

	// CodeGeofenceRejected means a capture was attempted too far from its
	// target. Capture reports this as a result, not an error; the code exists
	// for callers that need to surface it as one (the CLI exit status).
	CodeGeofenceRejected Code = "GEOFENCE_REJECTED"

	// CodeTransportFailure means the remote could not be reached or failed
	// transiently. The item stays queued and is retried next cycle.
	CodeTransportFailure Code = "TRANSPORT_FAILURE"

	// CodeServerRejected means the remote refused the payload as invalid.
	CodeServerRejected Code = "SERVER_REJECTED"

	// CodeCycleAlreadyRunning signals a no-op: another cycle holds the guard.
	CodeCycleAlreadyRunning Code = "CYCLE_ALREADY_RUNNING"

	// CodeInvalidPayload means a stored snapshot failed its schema check.
	CodeInvalidPayload Code = "INVALID_PAYLOAD"

	// CodeOffline means a cycle was requested while the monitor reports no
	// connectivity.
	CodeOffline Code = "OFFLINE"
)

// Error is a categorized sync error.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message is a human-readable description.
	Message string

	// ItemID identifies the affected queue item, when there is one.
	ItemID int64

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.ItemID != 0 {
		msg = fmt.Sprintf("%s (item=%d)", msg, e.ItemID)
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// IsStorageUnavailable reports whether err is a StorageUnavailable error.
func IsStorageUnavailable(err error) bool { return Is(err, CodeStorageUnavailable) }

// IsTransportFailure reports whether err is a TransportFailure error.
func IsTransportFailure(err error) bool { return Is(err, CodeTransportFailure) }

// IsServerRejected reports whether err is a ServerRejected error.
func IsServerRejected(err error) bool { return Is(err, CodeServerRejected) }

// IsCycleAlreadyRunning reports whether err is the CycleAlreadyRunning signal.
func IsCycleAlreadyRunning(err error) bool { return Is(err, CodeCycleAlreadyRunning) }

// IsInvalidPayload reports whether err is an InvalidPayload error.
func IsInvalidPayload(err error) bool { return Is(err, CodeInvalidPayload) }

// IsOffline reports whether err is an Offline error.
func IsOffline(err error) bool { return Is(err, CodeOffline) }

// StorageUnavailable wraps a storage failure.
func StorageUnavailable(op string, err error) *Error {
	return &Error{Code: CodeStorageUnavailable, Message: op, Err: err}
}

// TransportFailure wraps a transient delivery failure.
func TransportFailure(msg string, err error) *Error {
	return &Error{Code: CodeTransportFailure, Message: msg, Err: err}
}

// ServerRejected wraps an explicit rejection by the remote.
func ServerRejected(msg string, err error) *Error {
	return &Error{Code: CodeServerRejected, Message: msg, Err: err}
}

// InvalidPayload reports a snapshot that failed validation.
func InvalidPayload(msg string, err error) *Error {
	return &Error{Code: CodeInvalidPayload, Message: msg, Err: err}
}

// CycleAlreadyRunning is returned by a cycle start that found the guard held.
var CycleAlreadyRunning = &Error{Code: CodeCycleAlreadyRunning, Message: "a reconciliation cycle is already running"}

// Offline is returned when a cycle is requested without connectivity.
var Offline = &Error{Code: CodeOffline, Message: "no network connectivity"}
