package catalog

import "errors"

var (
	// ErrConflict means the record's current stage did not match the
	// expected stage of a Transition; another run already acted on the
	// episode. Callers skip the episode silently.
	ErrConflict = errors.New("stage conflict")
	// ErrInvariant means a write would violate the catalog's invariants
	// (illegal stage edge, or a terminal value rewritten with different
	// data). Records that trip this are dead-lettered, not retried.
	ErrInvariant = errors.New("invariant violation")
	// ErrNotFound means no record exists for the episode key.
	ErrNotFound = errors.New("episode not found")
)
