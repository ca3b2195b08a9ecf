package domain

import "errors"

// Validation errors returned synchronously to callers. They never cause an
// event to be published. Match with errors.Is.
var (
	// ErrNotFound means an unknown session or mail id was referenced.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition means the requested status change is not an
	// allowed edge, or the session is already terminal.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrInvalidScope means a broadcast without a scope, or a scope that
	// requires a parent (my-workers, team) on a session that has none.
	ErrInvalidScope = errors.New("invalid scope")
)
