package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/dave/jobwiz/pkg/observability"
	"github.com/dave/jobwiz/pkg/queue"
)

// Reclaimer periodically returns items stuck in_progress past the
// staleness threshold to pending. A stale lease is not a failure of the
// work itself, only of the worker, so retry_count is left untouched by the
// store. Safe to run beside any number of claimers: a reclaimed item
// simply becomes claimable again.
type Reclaimer struct {
	store      queue.Store
	interval   time.Duration
	staleAfter time.Duration
	logger     *slog.Logger
}

func NewReclaimer(store queue.Store, interval, staleAfter time.Duration, logger *slog.Logger) *Reclaimer {
	if interval <= 0 {
		interval = time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 30 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reclaimer{store: store, interval: interval, staleAfter: staleAfter, logger: logger}
}

// Run sweeps on a ticker until ctx is cancelled.
func (r *Reclaimer) Run(ctx context.Context) {
	r.logger.Info("reclaimer started", "interval", r.interval, "stale_after", r.staleAfter)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reclaimer stopped")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep runs one reclaim pass.
func (r *Reclaimer) Sweep(ctx context.Context) {
	n, err := r.store.Reclaim(ctx, r.staleAfter)
	if err != nil {
		r.logger.Error("reclaim sweep failed", "error", err)
		return
	}
	if n > 0 {
		observability.ItemsReclaimed.Add(float64(n))
		r.logger.Info("reclaimed stale leases", "count", n)
	}
}
