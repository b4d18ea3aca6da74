package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a mutex-guarded in-process Store for single-node
// deployments and tests. The mutex gives the same single-row atomicity the
// SQL stores get from conditional updates.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]*Item
	byKey map[Key]string
	runs  []Run
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]*Item),
		byKey: make(map[Key]string),
		now:   time.Now,
	}
}

func (s *MemoryStore) Enqueue(_ context.Context, item NewItem) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byKey[item.Key]; exists {
		return false, nil
	}
	maxRetries := item.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	now := s.now().UTC()
	it := &Item{
		ID:            uuid.NewString(),
		Key:           item.Key,
		PriorityScore: item.PriorityScore,
		Status:        StatusPending,
		MaxRetries:    maxRetries,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.items[it.ID] = it
	s.byKey[it.Key] = it.ID
	return true, nil
}

func (s *MemoryStore) EnqueueBatch(ctx context.Context, items []NewItem) (BatchResult, error) {
	var res BatchResult
	for _, item := range items {
		added, err := s.Enqueue(ctx, item)
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

func (s *MemoryStore) Claim(_ context.Context, workerID string) (*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *Item
	for _, it := range s.items {
		if it.Status != StatusPending {
			continue
		}
		if best == nil ||
			it.PriorityScore > best.PriorityScore ||
			(it.PriorityScore == best.PriorityScore && it.CreatedAt.Before(best.CreatedAt)) {
			best = it
		}
	}
	if best == nil {
		return nil, nil
	}
	now := s.now().UTC()
	best.Status = StatusInProgress
	best.ClaimedBy = workerID
	best.ClaimedAt = &now
	best.UpdatedAt = now
	return copyItem(best), nil
}

func (s *MemoryStore) Complete(_ context.Context, id, resultRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	if it.Status != StatusInProgress {
		return ErrStaleTransition
	}
	now := s.now().UTC()
	it.Status = StatusCompleted
	it.ResultRef = resultRef
	it.CompletedAt = &now
	it.ClaimedBy = ""
	it.ClaimedAt = nil
	it.UpdatedAt = now
	return nil
}

func (s *MemoryStore) Fail(_ context.Context, id, message string) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return "", ErrNotFound
	}
	if it.Status != StatusInProgress {
		return it.Status, ErrStaleTransition
	}
	it.RetryCount++
	it.ErrorMessage = message
	if it.RetryCount >= it.MaxRetries {
		it.Status = StatusFailed
	} else {
		it.Status = StatusPending
	}
	it.ClaimedBy = ""
	it.ClaimedAt = nil
	it.UpdatedAt = s.now().UTC()
	return it.Status, nil
}

func (s *MemoryStore) Reclaim(_ context.Context, staleAfter time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().UTC().Add(-staleAfter)
	reclaimed := 0
	for _, it := range s.items {
		if it.Status != StatusInProgress || it.ClaimedAt == nil || it.ClaimedAt.After(cutoff) {
			continue
		}
		it.Status = StatusPending
		it.ClaimedBy = ""
		it.ClaimedAt = nil
		it.UpdatedAt = s.now().UTC()
		reclaimed++
	}
	return reclaimed, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyItem(it), nil
}

func (s *MemoryStore) GetByKey(_ context.Context, key Key) (*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byKey[key]
	if !ok {
		return nil, ErrNotFound
	}
	return copyItem(s.items[id]), nil
}

func (s *MemoryStore) CountsByStatus(_ context.Context) (StatusCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := StatusCounts{}
	for _, st := range Statuses {
		counts[st] = 0
	}
	for _, it := range s.items {
		counts[it.Status]++
	}
	return counts, nil
}

func (s *MemoryStore) List(_ context.Context, status Status, limit, offset int) ([]Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []*Item
	for _, it := range s.items {
		if status != "" && it.Status != status {
			continue
		}
		all = append(all, it)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	if limit <= 0 {
		limit = 50
	}
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	out := make([]Item, 0, len(all))
	for _, it := range all {
		out = append(out, *copyItem(it))
	}
	return out, nil
}

func (s *MemoryStore) ClearCompleted(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, it := range s.items {
		if it.Status != StatusCompleted {
			continue
		}
		delete(s.items, id)
		delete(s.byKey, it.Key)
		removed++
	}
	return removed, nil
}

func (s *MemoryStore) RecordRun(_ context.Context, run Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.RecordedAt.IsZero() {
		run.RecordedAt = s.now().UTC()
	}
	s.runs = append(s.runs, run)
	return nil
}

func (s *MemoryStore) RecentRuns(_ context.Context, limit int) ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	n := len(s.runs)
	if limit > n {
		limit = n
	}
	out := make([]Run, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.runs[i])
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

func copyItem(it *Item) *Item {
	cp := *it
	if it.ClaimedAt != nil {
		t := *it.ClaimedAt
		cp.ClaimedAt = &t
	}
	if it.CompletedAt != nil {
		t := *it.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
