package port

import "errors"

var (
	// ErrVersionConflict means a conditional write matched zero rows: the
	// stored version moved underneath the caller.
	ErrVersionConflict = errors.New("version conflict")

	// ErrUnavailable marks transient store/network failure. Callers may
	// queue the mutation for replay instead of failing the user flow.
	ErrUnavailable = errors.New("store unavailable")
)
