package domain

import (
	"errors"
	"fmt"
)

// Kind classifies every failure surfaced by the walk engine into a small,
// store-agnostic taxonomy. Callers branch on Kind, never on provider errors.
type Kind string

const (
	// KindUnauthenticated means no identity is available at all.
	KindUnauthenticated Kind = "unauthenticated"
	// KindUnauthorized means the identity does not own the resource.
	KindUnauthorized Kind = "unauthorized"
	// KindInvalidState means an operation was attempted from a state that
	// does not permit it. Always a usage error, never retried.
	KindInvalidState Kind = "invalid_state"
	// KindNotFound means the walk is absent from both cache and remote store.
	KindNotFound Kind = "not_found"
	// KindInvalidData means a record failed to parse or validate. Retrying
	// will not fix malformed data.
	KindInvalidData Kind = "invalid_data"
	// KindNetwork covers transport and timeout failures. Safe to retry with
	// backoff at the caller's discretion.
	KindNetwork Kind = "network"
	// KindSensorUnavailable means the device has no usable motion/position
	// hardware. The session stays completable.
	KindSensorUnavailable Kind = "sensor_unavailable"
	// KindSensorUnauthorized means a sensor permission was denied.
	KindSensorUnauthorized Kind = "sensor_unauthorized"
	// KindSensorTransient is a retryable sensor hiccup; the session keeps its
	// last known value and does not block on recovery.
	KindSensorTransient Kind = "sensor_transient"
	// KindUnknown is the fallback for errors that carry no Kind.
	KindUnknown Kind = "unknown"
)

// Error is the typed error carried across package boundaries.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a typed error.
func E(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap attaches a taxonomy kind to an underlying error.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the taxonomy kind from any error chain.
func KindOf(err error) Kind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return KindUnknown
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Sentinel errors for the conditions callers branch on most often.
var (
	// ErrAlreadyActive is returned by start when a walk is already recording
	// for the owner. The existing walk is left untouched.
	ErrAlreadyActive = E(KindInvalidState, "a walk is already active")
	// ErrNoActiveWalk is returned when an operation needs a live walk and
	// none exists.
	ErrNoActiveWalk = E(KindInvalidState, "no active walk")
	// ErrNotRecording is returned by pause outside InProgress.
	ErrNotRecording = E(KindInvalidState, "walk is not recording")
	// ErrNotPaused is returned by resume outside Paused.
	ErrNotPaused = E(KindInvalidState, "walk is not paused")
	// ErrWalkNotFound is returned when a walk exists in neither store.
	ErrWalkNotFound = E(KindNotFound, "walk not found")
	// ErrUnauthenticated is returned when no identity is available.
	ErrUnauthenticated = E(KindUnauthenticated, "no authenticated identity")
	// ErrNotOwner is returned when the record's owner does not match the
	// authenticated identity.
	ErrNotOwner = E(KindUnauthorized, "walk belongs to another user")
)
