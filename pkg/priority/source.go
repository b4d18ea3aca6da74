// Package priority exposes the ranked (company, role) scoring data that
// determines an item's default priority at enqueue time. The queue treats
// it as read-only input; how scores are computed is out of scope.
package priority

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Entry is one ranked (company, role-or-none) pair. An empty RoleSlug
// scores company-level work.
type Entry struct {
	CompanySlug string `json:"company_slug"`
	RoleSlug    string `json:"role_slug,omitempty"`
	Score       int    `json:"score"`
}

// Source is the read-only ranked list consumed by the enqueuer.
type Source interface {
	// Score returns the score for a pair and whether the source knows it.
	Score(companySlug, roleSlug string) (int, bool)

	// AllEntries returns every known pair, highest score first.
	AllEntries() []Entry
}

type pairKey struct {
	company string
	role    string
}

// StaticSource serves a fixed set of entries from memory.
type StaticSource struct {
	entries []Entry
	byPair  map[pairKey]int
}

func NewStaticSource(entries []Entry) *StaticSource {
	s := &StaticSource{byPair: make(map[pairKey]int, len(entries))}
	for _, e := range entries {
		k := pairKey{e.CompanySlug, e.RoleSlug}
		if _, dup := s.byPair[k]; dup {
			continue
		}
		s.byPair[k] = e.Score
		s.entries = append(s.entries, e)
	}
	sort.SliceStable(s.entries, func(i, j int) bool {
		return s.entries[i].Score > s.entries[j].Score
	})
	return s
}

func (s *StaticSource) Score(companySlug, roleSlug string) (int, bool) {
	score, ok := s.byPair[pairKey{companySlug, roleSlug}]
	return score, ok
}

func (s *StaticSource) AllEntries() []Entry {
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// LoadFile reads a ranked JSON priority file (an array of entries) into a
// StaticSource.
func LoadFile(path string) (*StaticSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read priority file: %w", err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse priority file %s: %w", path, err)
	}
	return NewStaticSource(entries), nil
}
