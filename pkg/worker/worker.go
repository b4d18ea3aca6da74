// Package worker drives the claim/generate/report loop and the stale-lease
// reclaimer. The queue store is the only coordination point between
// workers: this package never talks to other workers, it only polls.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dave/jobwiz/pkg/observability"
	"github.com/dave/jobwiz/pkg/queue"
)

// Generator produces the content for a claimed (company, role) pair. It is
// an external collaborator: the queue only consumes its succeeded/failed
// signal. A successful call returns an opaque reference to the produced
// artifact.
type Generator interface {
	Generate(ctx context.Context, key queue.Key) (resultRef string, err error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, key queue.Key) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, key queue.Key) (string, error) {
	return f(ctx, key)
}

type Config struct {
	// WorkerID identifies this worker in claimed_by. Defaults to a
	// random UUID per process.
	WorkerID string

	// PollInterval is how long to sleep after an idle claim.
	PollInterval time.Duration

	Logger *slog.Logger
}

type Worker struct {
	store  queue.Store
	gen    Generator
	id     string
	poll   time.Duration
	logger *slog.Logger
}

func New(store queue.Store, gen Generator, cfg Config) *Worker {
	id := cfg.WorkerID
	if id == "" {
		id = uuid.NewString()
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		store:  store,
		gen:    gen,
		id:     id,
		poll:   poll,
		logger: logger.With("worker_id", id),
	}
}

// ID returns the worker identifier used in claims.
func (w *Worker) ID() string { return w.id }

// Run polls the store for work until ctx is cancelled. Transient store
// errors are logged and retried with backoff; they never kill the loop.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker started", "poll_interval", w.poll)
	bo := newBackoff(w.poll, 2*time.Minute)
	for {
		if ctx.Err() != nil {
			w.logger.Info("worker stopped")
			return
		}

		item, err := w.store.Claim(ctx, w.id)
		if err != nil {
			observability.ClaimAttempts.WithLabelValues("error").Inc()
			delay := bo.next()
			w.logger.Error("failed to claim item", "error", err, "retry_in", delay)
			if !sleep(ctx, delay) {
				return
			}
			continue
		}
		bo.reset()
		if item == nil {
			// Idle, nothing to do. Poll again later.
			observability.ClaimAttempts.WithLabelValues("idle").Inc()
			if !sleep(ctx, w.poll) {
				return
			}
			continue
		}
		observability.ClaimAttempts.WithLabelValues("claimed").Inc()
		w.process(ctx, item)
	}
}

func (w *Worker) process(ctx context.Context, item *queue.Item) {
	l := w.logger.With("item_id", item.ID, "key", item.Key.String())
	l.Info("item claimed, generating", "priority_score", item.PriorityScore)

	start := time.Now()
	resultRef, genErr := w.gen.Generate(ctx, item.Key)
	duration := time.Since(start)
	observability.GenerationDuration.Observe(duration.Seconds())

	if genErr == nil {
		w.reportSuccess(ctx, l, item, resultRef, duration)
		return
	}
	w.reportFailure(ctx, l, item, genErr, duration)
}

func (w *Worker) reportSuccess(ctx context.Context, l *slog.Logger, item *queue.Item, resultRef string, duration time.Duration) {
	if err := w.store.Complete(ctx, item.ID, resultRef); err != nil {
		if errors.Is(err, queue.ErrStaleTransition) {
			// A racing path (reclaim, double report) already moved the
			// item; the store guarantees nothing was double-applied.
			l.Warn("stale completion ignored", "error", err)
			return
		}
		l.Error("failed to mark item completed", "error", err)
		return
	}
	observability.ItemsProcessed.WithLabelValues("completed").Inc()
	l.Info("item completed", "result_ref", resultRef, "duration", duration)
	w.recordRun(ctx, l, item, queue.RunCompleted, duration, "")
}

func (w *Worker) reportFailure(ctx context.Context, l *slog.Logger, item *queue.Item, genErr error, duration time.Duration) {
	status, err := w.store.Fail(ctx, item.ID, genErr.Error())
	if err != nil {
		if errors.Is(err, queue.ErrStaleTransition) {
			l.Warn("stale failure report ignored", "error", err)
			return
		}
		l.Error("failed to mark item failed", "error", err)
		return
	}
	outcome := queue.RunRetrying
	if status == queue.StatusFailed {
		outcome = queue.RunFailed
		observability.ItemsProcessed.WithLabelValues("failed").Inc()
		l.Warn("item failed permanently, needs manual attention", "error", genErr)
	} else {
		observability.ItemsProcessed.WithLabelValues("retried").Inc()
		l.Info("item failed, will retry", "error", genErr, "retry_count", item.RetryCount+1)
	}
	w.recordRun(ctx, l, item, outcome, duration, genErr.Error())
}

// recordRun appends to the audit trail. Best effort: a failed insert never
// disturbs the queue state machine.
func (w *Worker) recordRun(ctx context.Context, l *slog.Logger, item *queue.Item, outcome queue.RunOutcome, duration time.Duration, errMsg string) {
	run := queue.Run{
		ItemID:   item.ID,
		Key:      item.Key,
		WorkerID: w.id,
		Outcome:  outcome,
		Duration: duration,
		Error:    errMsg,
	}
	if err := w.store.RecordRun(ctx, run); err != nil {
		l.Error("failed to record generation run", "error", err)
	}
}

// sleep waits for d or until ctx is cancelled, reporting whether the
// caller should keep running.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
