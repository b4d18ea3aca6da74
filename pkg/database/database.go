// Package database implements the queue store on Postgres. Every mutation
// is a single-row conditional UPDATE, so exclusivity holds across any
// number of worker processes sharing the database.
package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dave/jobwiz/pkg/queue"
)

type Client struct {
	pool *pgxpool.Pool
}

// New connects using the DATABASE_URL environment variable.
func New(ctx context.Context) (*Client, error) {
	return NewWithURL(ctx, os.Getenv("DATABASE_URL"))
}

// NewWithURL connects to the given Postgres URL. DB_MAX_CONNS tunes the
// pool size to avoid exhausting Postgres under many workers.
func NewWithURL(ctx context.Context, url string) (*Client, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database URL: %w", err)
	}
	if v := os.Getenv("DB_MAX_CONNS"); v != "" {
		if n, errConv := strconv.Atoi(v); errConv == nil && n > 0 {
			cfg.MaxConns = int32(n)
		}
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	return &Client{pool: pool}, nil
}

func (c *Client) Close() error {
	c.pool.Close()
	return nil
}

// InitSchema creates the queue tables. Idempotent.
func (c *Client) InitSchema(ctx context.Context) error {
	schema := `
    CREATE TABLE IF NOT EXISTS generation_queue (
        id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
        company_slug TEXT NOT NULL,
        role_slug TEXT,
        priority_score INTEGER NOT NULL DEFAULT 0,
        status TEXT NOT NULL DEFAULT 'pending'
            CHECK (status IN ('pending', 'in_progress', 'completed', 'failed')),
        claimed_by TEXT,
        claimed_at TIMESTAMPTZ,
        completed_at TIMESTAMPTZ,
        result_ref TEXT,
        error_message TEXT,
        retry_count INTEGER NOT NULL DEFAULT 0,
        max_retries INTEGER NOT NULL DEFAULT 3,
        created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
    );
    -- Role-less rows must collide too, so the unique index folds NULL to ''.
    CREATE UNIQUE INDEX IF NOT EXISTS idx_generation_queue_pair
        ON generation_queue (company_slug, COALESCE(role_slug, ''));
    CREATE INDEX IF NOT EXISTS idx_generation_queue_claim
        ON generation_queue (status, priority_score DESC, created_at);

    CREATE TABLE IF NOT EXISTS generation_runs (
        id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
        item_id UUID NOT NULL,
        company_slug TEXT NOT NULL,
        role_slug TEXT,
        worker_id TEXT NOT NULL,
        outcome TEXT NOT NULL,
        duration_ms BIGINT NOT NULL DEFAULT 0,
        error_message TEXT,
        recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
    );
    CREATE INDEX IF NOT EXISTS idx_generation_runs_recorded
        ON generation_runs (recorded_at DESC);
    `
	_, err := c.pool.Exec(ctx, schema)
	return err
}

const itemColumns = `id, company_slug, role_slug, priority_score, status,
    claimed_by, claimed_at, completed_at, result_ref, error_message,
    retry_count, max_retries, created_at, updated_at`

func (c *Client) Enqueue(ctx context.Context, item queue.NewItem) (bool, error) {
	maxRetries := item.MaxRetries
	if maxRetries <= 0 {
		maxRetries = queue.DefaultMaxRetries
	}
	tag, err := c.pool.Exec(ctx, `
        INSERT INTO generation_queue (company_slug, role_slug, priority_score, max_retries)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (company_slug, COALESCE(role_slug, '')) DO NOTHING`,
		item.Key.CompanySlug, nullable(item.Key.RoleSlug), item.PriorityScore, maxRetries)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (c *Client) EnqueueBatch(ctx context.Context, items []queue.NewItem) (queue.BatchResult, error) {
	var res queue.BatchResult
	for _, item := range items {
		added, err := c.Enqueue(ctx, item)
		if err != nil {
			return res, err
		}
		if added {
			res.Added++
		} else {
			res.Skipped++
		}
	}
	return res, nil
}

// claimAttempts bounds the read-then-CAS loop. A lost race means another
// worker took the candidate, so the re-read naturally lands on the
// next-best pending item.
const claimAttempts = 10

func (c *Client) Claim(ctx context.Context, workerID string) (*queue.Item, error) {
	for attempt := 0; attempt < claimAttempts; attempt++ {
		var id string
		err := c.pool.QueryRow(ctx, `
            SELECT id FROM generation_queue
            WHERE status = 'pending'
            ORDER BY priority_score DESC, created_at ASC
            LIMIT 1`).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // empty pending set, not an error
		}
		if err != nil {
			return nil, err
		}

		row := c.pool.QueryRow(ctx, `
            UPDATE generation_queue
            SET status = 'in_progress', claimed_by = $2, claimed_at = NOW(), updated_at = NOW()
            WHERE id = $1 AND status = 'pending'
            RETURNING `+itemColumns, id, workerID)
		item, err := scanItem(row)
		if errors.Is(err, pgx.ErrNoRows) {
			continue // lost the race, try the next candidate
		}
		if err != nil {
			return nil, err
		}
		return item, nil
	}
	return nil, nil
}

func (c *Client) Complete(ctx context.Context, id, resultRef string) error {
	tag, err := c.pool.Exec(ctx, `
        UPDATE generation_queue
        SET status = 'completed', result_ref = $2, completed_at = NOW(),
            claimed_by = NULL, claimed_at = NULL, updated_at = NOW()
        WHERE id = $1 AND status = 'in_progress'`, id, resultRef)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return c.staleOrMissing(ctx, id)
	}
	return nil
}

func (c *Client) Fail(ctx context.Context, id, message string) (queue.Status, error) {
	// Increment and branch in one statement so concurrent failures can
	// never race the retry bound.
	var status string
	err := c.pool.QueryRow(ctx, `
        UPDATE generation_queue
        SET retry_count = retry_count + 1,
            error_message = $2,
            status = CASE WHEN retry_count + 1 >= max_retries THEN 'failed' ELSE 'pending' END,
            claimed_by = NULL, claimed_at = NULL, updated_at = NOW()
        WHERE id = $1 AND status = 'in_progress'
        RETURNING status`, id, message).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", c.staleOrMissing(ctx, id)
	}
	if err != nil {
		return "", err
	}
	return queue.Status(status), nil
}

func (c *Client) Reclaim(ctx context.Context, staleAfter time.Duration) (int, error) {
	tag, err := c.pool.Exec(ctx, `
        UPDATE generation_queue
        SET status = 'pending', claimed_by = NULL, claimed_at = NULL, updated_at = NOW()
        WHERE status = 'in_progress' AND claimed_at <= $1`,
		time.Now().UTC().Add(-staleAfter))
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (c *Client) Get(ctx context.Context, id string) (*queue.Item, error) {
	row := c.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM generation_queue WHERE id = $1`, id)
	item, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, queue.ErrNotFound
	}
	return item, err
}

func (c *Client) GetByKey(ctx context.Context, key queue.Key) (*queue.Item, error) {
	row := c.pool.QueryRow(ctx, `
        SELECT `+itemColumns+` FROM generation_queue
        WHERE company_slug = $1 AND COALESCE(role_slug, '') = $2`,
		key.CompanySlug, key.RoleSlug)
	item, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, queue.ErrNotFound
	}
	return item, err
}

func (c *Client) CountsByStatus(ctx context.Context) (queue.StatusCounts, error) {
	rows, err := c.pool.Query(ctx, `SELECT status, COUNT(*) FROM generation_queue GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := queue.StatusCounts{}
	for _, st := range queue.Statuses {
		counts[st] = 0
	}
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		counts[queue.Status(st)] = n
	}
	return counts, rows.Err()
}

func (c *Client) List(ctx context.Context, status queue.Status, limit, offset int) ([]queue.Item, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := c.pool.Query(ctx, `
        SELECT `+itemColumns+` FROM generation_queue
        WHERE ($1 = '' OR status = $1)
        ORDER BY created_at DESC
        LIMIT $2 OFFSET $3`, string(status), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []queue.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *item)
	}
	return out, rows.Err()
}

func (c *Client) ClearCompleted(ctx context.Context) (int, error) {
	tag, err := c.pool.Exec(ctx, `DELETE FROM generation_queue WHERE status = 'completed'`)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (c *Client) RecordRun(ctx context.Context, run queue.Run) error {
	_, err := c.pool.Exec(ctx, `
        INSERT INTO generation_runs (item_id, company_slug, role_slug, worker_id, outcome, duration_ms, error_message)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ItemID, run.Key.CompanySlug, nullable(run.Key.RoleSlug),
		run.WorkerID, string(run.Outcome), run.Duration.Milliseconds(), nullable(run.Error))
	return err
}

func (c *Client) RecentRuns(ctx context.Context, limit int) ([]queue.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := c.pool.Query(ctx, `
        SELECT id, item_id, company_slug, role_slug, worker_id, outcome, duration_ms, error_message, recorded_at
        FROM generation_runs
        ORDER BY recorded_at DESC
        LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []queue.Run
	for rows.Next() {
		var r queue.Run
		var roleSlug, errorMessage *string
		var durationMs int64
		if err := rows.Scan(&r.ID, &r.ItemID, &r.Key.CompanySlug, &roleSlug,
			&r.WorkerID, &r.Outcome, &durationMs, &errorMessage, &r.RecordedAt); err != nil {
			return nil, err
		}
		if roleSlug != nil {
			r.Key.RoleSlug = *roleSlug
		}
		if errorMessage != nil {
			r.Error = *errorMessage
		}
		r.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}

// staleOrMissing resolves a zero-row conditional update into the right
// sentinel: the item either does not exist or is no longer in_progress.
func (c *Client) staleOrMissing(ctx context.Context, id string) error {
	var status string
	err := c.pool.QueryRow(ctx, `SELECT status FROM generation_queue WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return queue.ErrNotFound
	}
	if err != nil {
		return err
	}
	return queue.ErrStaleTransition
}

func scanItem(row pgx.Row) (*queue.Item, error) {
	var it queue.Item
	var roleSlug, claimedBy, resultRef, errorMessage *string
	err := row.Scan(&it.ID, &it.Key.CompanySlug, &roleSlug, &it.PriorityScore, &it.Status,
		&claimedBy, &it.ClaimedAt, &it.CompletedAt, &resultRef, &errorMessage,
		&it.RetryCount, &it.MaxRetries, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if roleSlug != nil {
		it.Key.RoleSlug = *roleSlug
	}
	if claimedBy != nil {
		it.ClaimedBy = *claimedBy
	}
	if resultRef != nil {
		it.ResultRef = *resultRef
	}
	if errorMessage != nil {
		it.ErrorMessage = *errorMessage
	}
	return &it, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
