package ledger

import "errors"

// Error kinds returned by replica mutators. Callers classify with errors.Is; the
// wrapped message carries the specific violated condition.
var (
	// ErrPrecondition means the operation is not valid in the current state
	// (wrong epoch, capacity exhausted, malformed input). Nothing was applied.
	ErrPrecondition = errors.New("precondition violated")

	// ErrDuplicateNullifier means a nullifier was already recorded or repeats inside a batch.
	ErrDuplicateNullifier = errors.New("duplicate nullifier")

	// ErrRootMismatch means a claimed root or leaf disagrees with the replica.
	ErrRootMismatch = errors.New("root mismatch")

	// ErrStaleEvent means the event's origin is not newer than the last applied one.
	// It is not fatal: re-delivered events are skipped.
	ErrStaleEvent = errors.New("stale event")
)
