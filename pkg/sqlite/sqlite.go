// Package sqlite implements the queue store on an embedded SQLite
// database (CGO-free via modernc.org/sqlite), for single-node deployments
// and tests. The claim protocol is the same read-then-conditional-update
// loop the Postgres store uses.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/dave/jobwiz/pkg/queue"
)

type Store struct {
	db *sql.DB
}

// Open creates (if needed) and migrates a queue database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS generation_queue (
  id             TEXT PRIMARY KEY,
  company_slug   TEXT NOT NULL,
  role_slug      TEXT,
  priority_score INTEGER NOT NULL DEFAULT 0,
  status         TEXT NOT NULL DEFAULT 'pending',
  claimed_by     TEXT,
  claimed_at     TIMESTAMP,
  completed_at   TIMESTAMP,
  result_ref     TEXT,
  error_message  TEXT,
  retry_count    INTEGER NOT NULL DEFAULT 0,
  max_retries    INTEGER NOT NULL DEFAULT 3,
  created_at     TIMESTAMP NOT NULL,
  updated_at     TIMESTAMP NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_generation_queue_pair
  ON generation_queue(company_slug, COALESCE(role_slug, ''));
CREATE INDEX IF NOT EXISTS idx_generation_queue_claim
  ON generation_queue(status, priority_score, created_at);

CREATE TABLE IF NOT EXISTS generation_runs (
  id            TEXT PRIMARY KEY,
  item_id       TEXT NOT NULL,
  company_slug  TEXT NOT NULL,
  role_slug     TEXT,
  worker_id     TEXT NOT NULL,
  outcome       TEXT NOT NULL,
  duration_ms   INTEGER NOT NULL DEFAULT 0,
  error_message TEXT,
  recorded_at   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_generation_runs_recorded
  ON generation_runs(recorded_at);
`
	_, err := s.db.Exec(schema)
	return err
}

const itemColumns = `id, company_slug, role_slug, priority_score, status,
  claimed_by, claimed_at, completed_at, result_ref, error_message,
  retry_count, max_retries, created_at, updated_at`

func (s *Store) Enqueue(ctx context.Context, item queue.NewItem) (bool, error) {
	maxRetries := item.MaxRetries
	if maxRetries <= 0 {
		maxRetries = queue.DefaultMaxRetries
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
INSERT OR IGNORE INTO generation_queue
  (id, company_slug, role_slug, priority_score, status, retry_count, max_retries, created_at, updated_at)
VALUES (?, ?, ?, ?, 'pending', 0, ?, ?, ?)`,
		uuid.NewString(), item.Key.CompanySlug, nullable(item.Key.RoleSlug),
		item.PriorityScore, maxRetries, now, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) EnqueueBatch(ctx context.Context, items []queue.NewItem) (queue.BatchResult, error) {
	var out queue.BatchResult
	for _, item := range items {
		added, err := s.Enqueue(ctx, item)
		if err != nil {
			return out, err
		}
		if added {
			out.Added++
		} else {
			out.Skipped++
		}
	}
	return out, nil
}

const claimAttempts = 10

func (s *Store) Claim(ctx context.Context, workerID string) (*queue.Item, error) {
	for attempt := 0; attempt < claimAttempts; attempt++ {
		var id string
		err := s.db.QueryRowContext(ctx, `
SELECT id FROM generation_queue
WHERE status = 'pending'
ORDER BY priority_score DESC, created_at ASC
LIMIT 1`).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // nothing pending
		}
		if err != nil {
			return nil, err
		}

		now := time.Now().UTC()
		row := s.db.QueryRowContext(ctx, `
UPDATE generation_queue
SET status = 'in_progress', claimed_by = ?, claimed_at = ?, updated_at = ?
WHERE id = ? AND status = 'pending'
RETURNING `+itemColumns, workerID, now, now, id)
		item, err := scanItem(row)
		if errors.Is(err, sql.ErrNoRows) {
			continue // lost the race, re-read for the next candidate
		}
		if err != nil {
			return nil, err
		}
		return item, nil
	}
	return nil, nil
}

func (s *Store) Complete(ctx context.Context, id, resultRef string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
UPDATE generation_queue
SET status = 'completed', result_ref = ?, completed_at = ?,
    claimed_by = NULL, claimed_at = NULL, updated_at = ?
WHERE id = ? AND status = 'in_progress'`, resultRef, now, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.staleOrMissing(ctx, id)
	}
	return nil
}

func (s *Store) Fail(ctx context.Context, id, message string) (queue.Status, error) {
	// Single increment-and-branch statement, same as the Postgres store.
	var status string
	err := s.db.QueryRowContext(ctx, `
UPDATE generation_queue
SET retry_count = retry_count + 1,
    error_message = ?,
    status = CASE WHEN retry_count + 1 >= max_retries THEN 'failed' ELSE 'pending' END,
    claimed_by = NULL, claimed_at = NULL, updated_at = ?
WHERE id = ? AND status = 'in_progress'
RETURNING status`, message, time.Now().UTC(), id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", s.staleOrMissing(ctx, id)
	}
	if err != nil {
		return "", err
	}
	return queue.Status(status), nil
}

func (s *Store) Reclaim(ctx context.Context, staleAfter time.Duration) (int, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
UPDATE generation_queue
SET status = 'pending', claimed_by = NULL, claimed_at = NULL, updated_at = ?
WHERE status = 'in_progress' AND claimed_at <= ?`, now, now.Add(-staleAfter))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Store) Get(ctx context.Context, id string) (*queue.Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM generation_queue WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, queue.ErrNotFound
	}
	return item, err
}

func (s *Store) GetByKey(ctx context.Context, key queue.Key) (*queue.Item, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+itemColumns+` FROM generation_queue
WHERE company_slug = ? AND COALESCE(role_slug, '') = ?`,
		key.CompanySlug, key.RoleSlug)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, queue.ErrNotFound
	}
	return item, err
}

func (s *Store) CountsByStatus(ctx context.Context) (queue.StatusCounts, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM generation_queue GROUP BY status`)
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

func (s *Store) List(ctx context.Context, status queue.Status, limit, offset int) ([]queue.Item, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT `+itemColumns+` FROM generation_queue
WHERE (? = '' OR status = ?)
ORDER BY created_at DESC
LIMIT ? OFFSET ?`, string(status), string(status), limit, offset)
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

func (s *Store) ClearCompleted(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM generation_queue WHERE status = 'completed'`)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Store) RecordRun(ctx context.Context, run queue.Run) error {
	id := run.ID
	if id == "" {
		id = uuid.NewString()
	}
	recordedAt := run.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO generation_runs (id, item_id, company_slug, role_slug, worker_id, outcome, duration_ms, error_message, recorded_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, run.ItemID, run.Key.CompanySlug, nullable(run.Key.RoleSlug),
		run.WorkerID, string(run.Outcome), run.Duration.Milliseconds(), nullable(run.Error), recordedAt)
	return err
}

func (s *Store) RecentRuns(ctx context.Context, limit int) ([]queue.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, item_id, company_slug, role_slug, worker_id, outcome, duration_ms, error_message, recorded_at
FROM generation_runs
ORDER BY recorded_at DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []queue.Run
	for rows.Next() {
		var r queue.Run
		var roleSlug, errorMessage sql.NullString
		var durationMs int64
		if err := rows.Scan(&r.ID, &r.ItemID, &r.Key.CompanySlug, &roleSlug,
			&r.WorkerID, &r.Outcome, &durationMs, &errorMessage, &r.RecordedAt); err != nil {
			return nil, err
		}
		r.Key.RoleSlug = roleSlug.String
		r.Error = errorMessage.String
		r.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) staleOrMissing(ctx context.Context, id string) error {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM generation_queue WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return queue.ErrNotFound
	}
	if err != nil {
		return err
	}
	return queue.ErrStaleTransition
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (*queue.Item, error) {
	var it queue.Item
	var roleSlug, claimedBy, resultRef, errorMessage sql.NullString
	var claimedAt, completedAt sql.NullTime
	err := row.Scan(&it.ID, &it.Key.CompanySlug, &roleSlug, &it.PriorityScore, &it.Status,
		&claimedBy, &claimedAt, &completedAt, &resultRef, &errorMessage,
		&it.RetryCount, &it.MaxRetries, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		return nil, err
	}
	it.Key.RoleSlug = roleSlug.String
	it.ClaimedBy = claimedBy.String
	it.ResultRef = resultRef.String
	it.ErrorMessage = errorMessage.String
	if claimedAt.Valid {
		t := claimedAt.Time
		it.ClaimedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		it.CompletedAt = &t
	}
	return &it, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
