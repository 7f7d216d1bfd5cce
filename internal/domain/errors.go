package domain

import "errors"

// -----------------------------------------------------------------------------
// Domain Errors
// These errors represent domain-level failures and are used by stores, the
// exercise runtime and the daemon to communicate failure conditions.
// -----------------------------------------------------------------------------

// Lesson errors
var (
	ErrLessonNotFound   = errors.New("lesson not found")
	ErrExerciseNotFound = errors.New("exercise not found")
)

// View errors
var (
	ErrViewNotFound     = errors.New("lesson view not found")
	ErrInstanceNotFound = errors.New("exercise instance not found")
)

// Submission errors
var (
	// ErrBlankAnswer is a validation error raised before any gateway call
	ErrBlankAnswer = errors.New("answer is blank")
	// ErrGateway wraps transport and service failures of the grading service
	ErrGateway = errors.New("grading service unavailable")
	// ErrInvalidTransition is returned when an action is not valid in the current phase
	ErrInvalidTransition = errors.New("action not allowed in current phase")
	// ErrStaleResponse marks a grading response that arrived for a superseded submission
	ErrStaleResponse = errors.New("stale grading response discarded")
)

// General errors
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)
