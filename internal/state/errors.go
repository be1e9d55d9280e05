package state

import "errors"

var (
	// ErrCorruptState is returned when a saved state cannot be rebuilt.
	ErrCorruptState = errors.New("state: saved state is corrupted")

	// ErrModuleMismatch is returned when a saved state was written for a
	// different module set.
	ErrModuleMismatch = errors.New("state: module set differs from saved state")

	// ErrUnknownJob is returned for a job id the store does not hold.
	ErrUnknownJob = errors.New("state: unknown job")

	// ErrDuplicateModule is returned when two steps share a name.
	ErrDuplicateModule = errors.New("state: duplicate module name")

	// ErrInvalidGrouping is returned when a module groups an input by an
	// item that no chain of modules connects it to.
	ErrInvalidGrouping = errors.New("state: invalid grouping")
)
