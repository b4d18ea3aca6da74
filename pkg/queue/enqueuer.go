package queue

import (
	"context"
	"log/slog"

	"github.com/dave/jobwiz/pkg/priority"
)

// Enqueuer builds work items from the priority source (or explicit
// requests) and inserts them idempotently.
type Enqueuer struct {
	store  Store
	source priority.Source
	logger *slog.Logger
}

func NewEnqueuer(store Store, source priority.Source, logger *slog.Logger) *Enqueuer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enqueuer{store: store, source: source, logger: logger}
}

// Enqueue inserts one item for key. When override is non-nil it wins over
// the priority source and is never recomputed later; otherwise the score is
// looked up from the source (0 if the source has no entry). Returns whether
// a row was added; false means the key already existed and was skipped.
func (e *Enqueuer) Enqueue(ctx context.Context, key Key, override *int) (bool, error) {
	score := 0
	if override != nil {
		score = *override
	} else if e.source != nil {
		if s, ok := e.source.Score(key.CompanySlug, key.RoleSlug); ok {
			score = s
		}
	}
	added, err := e.store.Enqueue(ctx, NewItem{Key: key, PriorityScore: score})
	if err != nil {
		return false, err
	}
	if added {
		e.logger.Info("enqueued item", "key", key.String(), "priority_score", score)
	} else {
		e.logger.Info("skipped duplicate item", "key", key.String())
	}
	return added, nil
}

// SyncFromSource enqueues every entry the priority source knows about,
// skipping pairs that already have a row.
func (e *Enqueuer) SyncFromSource(ctx context.Context) (BatchResult, error) {
	if e.source == nil {
		return BatchResult{}, nil
	}
	entries := e.source.AllEntries()
	items := make([]NewItem, 0, len(entries))
	for _, en := range entries {
		items = append(items, NewItem{
			Key:           Key{CompanySlug: en.CompanySlug, RoleSlug: en.RoleSlug},
			PriorityScore: en.Score,
		})
	}
	res, err := e.store.EnqueueBatch(ctx, items)
	if err != nil {
		return res, err
	}
	e.logger.Info("synced queue from priority source", "added", res.Added, "skipped", res.Skipped)
	return res, nil
}
