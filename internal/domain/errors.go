package domain

import "errors"

// Fault classes shared across packages. Callers classify with errors.Is.
var (
	ErrValidation  = errors.New("validation failed")
	ErrNotFound    = errors.New("not found")
	ErrPersistence = errors.New("persistence failure")
	ErrUpstream    = errors.New("upstream runtime unavailable")
	ErrTurnTimeout = errors.New("turn timed out")
	ErrCanceled    = errors.New("turn canceled")
	ErrConflict    = errors.New("state conflict")
)
