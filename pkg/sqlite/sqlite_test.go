package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dave/jobwiz/pkg/queue"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustEnqueue(t *testing.T, s *Store, item queue.NewItem) {
	t.Helper()
	added, err := s.Enqueue(context.Background(), item)
	if err != nil {
		t.Fatalf("Enqueue %s: %v", item.Key, err)
	}
	if !added {
		t.Fatalf("Enqueue %s: unexpectedly skipped", item.Key)
	}
}

func TestStore_EnqueueIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	key := queue.Key{CompanySlug: "google", RoleSlug: "swe"}
	mustEnqueue(t, s, queue.NewItem{Key: key, PriorityScore: 50})

	added, err := s.Enqueue(ctx, queue.NewItem{Key: key, PriorityScore: 99})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if added {
		t.Fatal("duplicate pair must be skipped")
	}

	it, err := s.GetByKey(ctx, key)
	if err != nil {
		t.Fatalf("GetByKey: %v", err)
	}
	if it.PriorityScore != 50 {
		t.Fatalf("skipped enqueue must not change score, got %d", it.PriorityScore)
	}
	if it.MaxRetries != queue.DefaultMaxRetries {
		t.Fatalf("default max_retries, got %d", it.MaxRetries)
	}
}

func TestStore_NullRoleUniqueness(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// role_slug is stored as NULL for company-level work; the unique
	// index must still treat two NULLs as the same pair.
	mustEnqueue(t, s, queue.NewItem{Key: queue.Key{CompanySlug: "google"}})
	added, err := s.Enqueue(ctx, queue.NewItem{Key: queue.Key{CompanySlug: "google"}})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if added {
		t.Fatal("second company-level enqueue must be skipped")
	}

	it, err := s.GetByKey(ctx, queue.Key{CompanySlug: "google"})
	if err != nil {
		t.Fatalf("GetByKey: %v", err)
	}
	if it.Key.RoleSlug != "" {
		t.Fatalf("company-level item should have empty role, got %q", it.Key.RoleSlug)
	}
}

func TestStore_ClaimPriorityOrdering(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	mustEnqueue(t, s, queue.NewItem{Key: queue.Key{CompanySlug: "a"}, PriorityScore: 10})
	mustEnqueue(t, s, queue.NewItem{Key: queue.Key{CompanySlug: "b"}, PriorityScore: 50})
	mustEnqueue(t, s, queue.NewItem{Key: queue.Key{CompanySlug: "c"}, PriorityScore: 30})

	var got []int
	for i := 0; i < 3; i++ {
		it, err := s.Claim(ctx, "w1")
		if err != nil {
			t.Fatalf("Claim: %v", err)
		}
		if it == nil {
			t.Fatalf("claim %d returned nothing", i)
		}
		if it.Status != queue.StatusInProgress || it.ClaimedBy != "w1" || it.ClaimedAt == nil {
			t.Fatalf("claimed item fields wrong: %+v", it)
		}
		got = append(got, it.PriorityScore)
	}
	want := []int{50, 30, 10}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("claim order %v, want %v", got, want)
		}
	}

	it, err := s.Claim(ctx, "w1")
	if err != nil {
		t.Fatalf("Claim on empty set: %v", err)
	}
	if it != nil {
		t.Fatalf("empty pending set should return nil, got %s", it.Key)
	}
}

func TestStore_ClaimExclusivity(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	const pending = 5
	const claimers = 20
	for i := 0; i < pending; i++ {
		mustEnqueue(t, s, queue.NewItem{
			Key:           queue.Key{CompanySlug: fmt.Sprintf("company-%d", i)},
			PriorityScore: i,
		})
	}

	var mu sync.Mutex
	seen := make(map[string]string)
	misses := 0

	var wg sync.WaitGroup
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(worker string) {
			defer wg.Done()
			it, err := s.Claim(ctx, worker)
			if err != nil {
				t.Errorf("Claim: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if it == nil {
				misses++
				return
			}
			if prev, dup := seen[it.ID]; dup {
				t.Errorf("item %s claimed by both %s and %s", it.ID, prev, worker)
			}
			seen[it.ID] = worker
		}(fmt.Sprintf("worker-%d", i))
	}
	wg.Wait()

	if len(seen) != pending {
		t.Fatalf("want %d distinct claims, got %d", pending, len(seen))
	}
	if misses != claimers-pending {
		t.Fatalf("want %d empty claims, got %d", claimers-pending, misses)
	}
}

func TestStore_CompleteAndStaleTransition(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	mustEnqueue(t, s, queue.NewItem{Key: queue.Key{CompanySlug: "google"}})
	it, _ := s.Claim(ctx, "w1")

	if err := s.Complete(ctx, it.ID, "modules/google.json"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	got, _ := s.Get(ctx, it.ID)
	if got.Status != queue.StatusCompleted || got.ResultRef != "modules/google.json" {
		t.Fatalf("unexpected item after complete: %+v", got)
	}
	if got.ClaimedBy != "" || got.ClaimedAt != nil || got.CompletedAt == nil {
		t.Fatalf("claim/completion bookkeeping wrong: %+v", got)
	}

	if err := s.Complete(ctx, it.ID, "other-ref"); !errors.Is(err, queue.ErrStaleTransition) {
		t.Fatalf("want ErrStaleTransition, got %v", err)
	}
	if _, err := s.Fail(ctx, it.ID, "late failure"); !errors.Is(err, queue.ErrStaleTransition) {
		t.Fatalf("want ErrStaleTransition, got %v", err)
	}
	got, _ = s.Get(ctx, it.ID)
	if got.ResultRef != "modules/google.json" || got.RetryCount != 0 {
		t.Fatalf("stale transitions must not apply side effects: %+v", got)
	}
}

func TestStore_FailRetryBound(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	mustEnqueue(t, s, queue.NewItem{Key: queue.Key{CompanySlug: "google"}, MaxRetries: 3})

	for i := 1; i <= 2; i++ {
		it, _ := s.Claim(ctx, "w1")
		status, err := s.Fail(ctx, it.ID, fmt.Sprintf("boom %d", i))
		if err != nil {
			t.Fatalf("Fail %d: %v", i, err)
		}
		if status != queue.StatusPending {
			t.Fatalf("fail %d should return to pending, got %s", i, status)
		}
		got, _ := s.Get(ctx, it.ID)
		if got.RetryCount != i || got.ClaimedBy != "" || got.ClaimedAt != nil {
			t.Fatalf("fail %d bookkeeping wrong: %+v", i, got)
		}
	}

	it, _ := s.Claim(ctx, "w1")
	status, err := s.Fail(ctx, it.ID, "boom 3")
	if err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if status != queue.StatusFailed {
		t.Fatalf("retries exhausted should be terminal, got %s", status)
	}
	got, _ := s.Get(ctx, it.ID)
	if got.RetryCount != 3 || got.ErrorMessage != "boom 3" {
		t.Fatalf("terminal bookkeeping wrong: %+v", got)
	}

	if _, err := s.Fail(ctx, it.ID, "boom 4"); !errors.Is(err, queue.ErrStaleTransition) {
		t.Fatalf("fail on terminal item should be stale, got %v", err)
	}
	got, _ = s.Get(ctx, it.ID)
	if got.RetryCount != 3 {
		t.Fatalf("terminal fail must not bump retry_count, got %d", got.RetryCount)
	}
}

func TestStore_ReclaimRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	mustEnqueue(t, s, queue.NewItem{Key: queue.Key{CompanySlug: "google"}})
	it, _ := s.Claim(ctx, "w1")

	// Fresh lease is not touched.
	n, err := s.Reclaim(ctx, 30*time.Minute)
	if err != nil {
		t.Fatalf("Reclaim: %v", err)
	}
	if n != 0 {
		t.Fatalf("fresh lease reclaimed: %d", n)
	}

	// Backdate the lease past the threshold.
	if _, err := s.db.ExecContext(ctx,
		`UPDATE generation_queue SET claimed_at = ? WHERE id = ?`,
		time.Now().UTC().Add(-31*time.Minute), it.ID); err != nil {
		t.Fatalf("backdate lease: %v", err)
	}

	n, err = s.Reclaim(ctx, 30*time.Minute)
	if err != nil {
		t.Fatalf("Reclaim: %v", err)
	}
	if n != 1 {
		t.Fatalf("want 1 reclaimed, got %d", n)
	}

	got, _ := s.Get(ctx, it.ID)
	if got.Status != queue.StatusPending || got.ClaimedBy != "" || got.ClaimedAt != nil {
		t.Fatalf("reclaim must clear claim and return to pending: %+v", got)
	}
	if got.RetryCount != 0 {
		t.Fatalf("reclaim must not count as failure, got %d", got.RetryCount)
	}

	// And the item is claimable again.
	again, err := s.Claim(ctx, "w2")
	if err != nil {
		t.Fatalf("Claim after reclaim: %v", err)
	}
	if again == nil || again.ID != it.ID {
		t.Fatalf("reclaimed item should be claimable, got %+v", again)
	}
}

func TestStore_NotFound(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if _, err := s.GetByKey(ctx, queue.Key{CompanySlug: "missing"}); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if err := s.Complete(ctx, "missing", "ref"); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if _, err := s.Fail(ctx, "missing", "msg"); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestStore_CountsListClear(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	mustEnqueue(t, s, queue.NewItem{Key: queue.Key{CompanySlug: "a"}, PriorityScore: 3})
	mustEnqueue(t, s, queue.NewItem{Key: queue.Key{CompanySlug: "b"}, PriorityScore: 2})
	mustEnqueue(t, s, queue.NewItem{Key: queue.Key{CompanySlug: "c"}, PriorityScore: 1})

	it, _ := s.Claim(ctx, "w1")
	if err := s.Complete(ctx, it.ID, "ref"); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	counts, err := s.CountsByStatus(ctx)
	if err != nil {
		t.Fatalf("CountsByStatus: %v", err)
	}
	if counts[queue.StatusPending] != 2 || counts[queue.StatusCompleted] != 1 {
		t.Fatalf("unexpected counts: %v", counts)
	}
	if counts[queue.StatusInProgress] != 0 || counts[queue.StatusFailed] != 0 {
		t.Fatalf("zero statuses must still be present: %v", counts)
	}

	pending, err := s.List(ctx, queue.StatusPending, 10, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("want 2 pending, got %d", len(pending))
	}
	page, err := s.List(ctx, "", 2, 2)
	if err != nil {
		t.Fatalf("List paged: %v", err)
	}
	if len(page) != 1 {
		t.Fatalf("want 1 item on second page, got %d", len(page))
	}

	removed, err := s.ClearCompleted(ctx)
	if err != nil {
		t.Fatalf("ClearCompleted: %v", err)
	}
	if removed != 1 {
		t.Fatalf("want 1 removed, got %d", removed)
	}
	added, _ := s.Enqueue(ctx, queue.NewItem{Key: it.Key})
	if !added {
		t.Fatal("cleared pair should be insertable again")
	}
}

func TestStore_Runs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Minute)
	for i := 0; i < 3; i++ {
		err := s.RecordRun(ctx, queue.Run{
			ItemID:     "item",
			Key:        queue.Key{CompanySlug: "google", RoleSlug: "swe"},
			WorkerID:   "w1",
			Outcome:    queue.RunRetrying,
			Duration:   time.Duration(i+1) * time.Second,
			Error:      "timeout",
			RecordedAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("RecordRun: %v", err)
		}
	}

	runs, err := s.RecentRuns(ctx, 2)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("want 2 runs, got %d", len(runs))
	}
	if runs[0].Duration != 3*time.Second {
		t.Fatalf("runs should be newest first, got %v", runs[0].Duration)
	}
	if runs[0].Key.RoleSlug != "swe" || runs[0].Error != "timeout" {
		t.Fatalf("run fields wrong: %+v", runs[0])
	}
}

func TestStore_WorkerScenario(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	mustEnqueue(t, s, queue.NewItem{Key: queue.Key{CompanySlug: "google"}, PriorityScore: 85})
	mustEnqueue(t, s, queue.NewItem{Key: queue.Key{CompanySlug: "google", RoleSlug: "swe"}, PriorityScore: 72})
	mustEnqueue(t, s, queue.NewItem{Key: queue.Key{CompanySlug: "apple"}, PriorityScore: 78})

	w1Item, _ := s.Claim(ctx, "w1")
	if w1Item.Key.CompanySlug != "google" || w1Item.Key.RoleSlug != "" {
		t.Fatalf("w1 should claim google company-level, got %s", w1Item.Key)
	}
	w2Item, _ := s.Claim(ctx, "w2")
	if w2Item.Key.CompanySlug != "apple" {
		t.Fatalf("w2 should claim apple, got %s", w2Item.Key)
	}

	if err := s.Complete(ctx, w1Item.ID, "ref-1"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	status, err := s.Fail(ctx, w2Item.ID, "timeout")
	if err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if status != queue.StatusPending {
		t.Fatalf("first failure should retry, got %s", status)
	}

	w3Item, _ := s.Claim(ctx, "w3")
	if w3Item.Key.CompanySlug != "apple" {
		t.Fatalf("w3 should re-claim apple, got %s", w3Item.Key)
	}
	if w3Item.RetryCount != 1 || w3Item.ErrorMessage != "timeout" {
		t.Fatalf("retry bookkeeping wrong: %+v", w3Item)
	}
}
