package queue

import "errors"

var (
	// ErrNotFound reports an operation against an unknown item id.
	// Surfaced to the caller, never retried automatically.
	ErrNotFound = errors.New("queue: item not found")

	// ErrStaleTransition reports complete/fail against an item that is no
	// longer in_progress (already completed, failed, or reclaimed by a
	// racing path). Callers log it and move on; the store guarantees no
	// side effects were applied.
	ErrStaleTransition = errors.New("queue: item not in progress")
)
