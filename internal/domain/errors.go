package domain

import "errors"

var (
	// ErrNotFound indicates that a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates that a record with the same identity
	// already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidArgument indicates that a caller-provided value violates
	// a precondition.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotConfigured indicates that no deployment target is configured
	// for the requested environment. Structural; never retried.
	ErrNotConfigured = errors.New("not configured")

	// ErrBusy indicates that a live lock holder exists for the requested
	// key. Transient; callers retry with backoff.
	ErrBusy = errors.New("busy")

	// ErrLockLost indicates that a renewal or release was contradicted by
	// another holder having reclaimed the key. The attempt must abort
	// rather than assume its work is safe to continue.
	ErrLockLost = errors.New("lock lost")

	// ErrConflict indicates that a conditional write found the record in
	// a state other than the expected one.
	ErrConflict = errors.New("conflict")
)
