package shared

import "errors"

var (
	// ErrNotFound indicates a referenced merchant, obligation or settlement does not exist.
	ErrNotFound = errors.New("not found")
	// ErrPreconditionNotFound indicates a required scope (e.g. the current financial year) could not be resolved.
	ErrPreconditionNotFound = errors.New("precondition not found")
	// ErrValidation indicates rejected input. No state is mutated when it is returned.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates a stale version or a duplicate idempotency reference.
	ErrConflict = errors.New("conflict")
	// ErrLocked indicates the resource is held by another worker.
	ErrLocked = errors.New("resource locked")
)
