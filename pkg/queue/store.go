package queue

import (
	"context"
	"time"
)

// Store is the durable queue table: it owns the item state machine and all
// mutations. Implementations must make every mutation a narrow, single-row,
// conditional update (or a single-row transaction where the backend lacks
// conditional updates), so that correctness never depends on an in-process
// lock shared between workers.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Enqueue inserts a pending item, or skips it if the key already
	// exists. Returns whether a row was added.
	Enqueue(ctx context.Context, item NewItem) (bool, error)

	// EnqueueBatch applies Enqueue to each item. Duplicates are counted,
	// never errors.
	EnqueueBatch(ctx context.Context, items []NewItem) (BatchResult, error)

	// Claim atomically picks the pending item with the highest
	// priority_score (ties broken by earliest created_at) and transitions
	// it to in_progress for workerID. Returns (nil, nil) when nothing is
	// pending. A lost race against a concurrent claimer is retried
	// internally against the next-best candidate.
	Claim(ctx context.Context, workerID string) (*Item, error)

	// Complete transitions an in_progress item to completed, storing
	// resultRef and clearing the claim fields. Returns ErrStaleTransition
	// if the item is not in_progress, ErrNotFound if it does not exist.
	Complete(ctx context.Context, id, resultRef string) error

	// Fail increments retry_count and either returns the item to pending
	// (retries remain) or moves it to terminal failed (retries exhausted),
	// recording message and clearing the claim fields. The increment and
	// the branch are a single atomic operation, and the in_progress guard
	// makes duplicate reports for the same claim apply exactly once: each
	// claim/fail cycle raises retry_count by exactly one, never more.
	// Returns the resulting status so callers can tell "will retry" from
	// "needs attention".
	Fail(ctx context.Context, id, message string) (Status, error)

	// Reclaim returns items stuck in_progress for longer than staleAfter
	// to pending, clearing claim fields and leaving retry_count untouched.
	// Returns the number of items reclaimed.
	Reclaim(ctx context.Context, staleAfter time.Duration) (int, error)

	// Get returns an item by id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Item, error)

	// GetByKey returns an item by its (company, role) key, or ErrNotFound.
	GetByKey(ctx context.Context, key Key) (*Item, error)

	// CountsByStatus returns item counts per status, including zero rows.
	CountsByStatus(ctx context.Context) (StatusCounts, error)

	// List returns items filtered by status (empty status means all),
	// newest first, paginated.
	List(ctx context.Context, status Status, limit, offset int) ([]Item, error)

	// ClearCompleted deletes completed items, returning how many were
	// removed. The only delete path in the contract.
	ClearCompleted(ctx context.Context) (int, error)

	// RecordRun appends one generation attempt to the run audit log.
	RecordRun(ctx context.Context, run Run) error

	// RecentRuns returns the most recently recorded runs, newest first.
	RecentRuns(ctx context.Context, limit int) ([]Run, error)

	Close() error
}
