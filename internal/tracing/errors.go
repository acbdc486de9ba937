package tracing

import "errors"

// Sentinel errors for capture operations.
var (
	// ErrAlreadyRecording is returned by Start while a capture is active.
	// Nothing is sent to the session.
	ErrAlreadyRecording = errors.New("trace capture already in progress")

	// ErrNotRecording is returned by Stop when no capture is active,
	// including a second Stop after a completed one.
	ErrNotRecording = errors.New("no trace capture in progress")

	// ErrDraining is returned by Start while the previous capture's
	// stream is still being read.
	ErrDraining = errors.New("previous trace is still being drained")

	// ErrMissingStream is returned when the completion event carries no
	// stream handle.
	ErrMissingStream = errors.New("tracing complete event has no stream handle")

	// ErrTimeout wraps the context error when Stop gives up waiting for the
	// completion event.
	ErrTimeout = errors.New("timed out waiting for tracing to complete")

	// ErrSessionClosed is returned by Stop when the session goes away
	// before the completion event arrives.
	ErrSessionClosed = errors.New("session closed before tracing completed")

	// ErrPersist wraps failures writing the trace to its destination.
	ErrPersist = errors.New("writing trace file")

	// ErrInvalidCategories is returned in strict mode when a category value
	// is not a list of strings.
	ErrInvalidCategories = errors.New("categories must be a list of strings")
)
