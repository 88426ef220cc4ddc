// Package seen implements the URL seen-set: a bloom filter in front of an
// authoritative store that arbitrates concurrent inserts.
package seen

import (
	"context"
	"fmt"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/JakeFAU/crawl-frontier/internal/crawler"
)

// Set combines a bloom filter with an authoritative crawler.SeenStore. The
// filter answers "definitely absent" without touching the store.
type Set struct {
	store crawler.SeenStore

	mu     sync.Mutex
	filter *bloom.BloomFilter
}

// New builds a Set sized for expected items at the given false-positive rate.
func New(store crawler.SeenStore, expected uint, fpRate float64) *Set {
	if expected == 0 {
		expected = 1_000_000
	}
	if fpRate <= 0 || fpRate >= 1 {
		fpRate = 0.001
	}
	return &Set{
		store:  store,
		filter: bloom.NewWithEstimates(expected, fpRate),
	}
}

// InsertIfAbsent reports true when id was not seen before. The authoritative
// store decides; concurrent callers with the same id get exactly one true.
func (s *Set) InsertIfAbsent(ctx context.Context, id string) (bool, error) {
	inserted, err := s.store.InsertIfAbsent(ctx, id)
	if err != nil {
		return false, fmt.Errorf("seen insert %s: %w", id, err)
	}
	s.mu.Lock()
	s.filter.AddString(id)
	s.mu.Unlock()
	return inserted, nil
}

// Contains reports whether id has been seen.
func (s *Set) Contains(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	maybe := s.filter.TestString(id)
	s.mu.Unlock()
	if !maybe {
		return false, nil
	}
	ok, err := s.store.Contains(ctx, id)
	if err != nil {
		return false, fmt.Errorf("seen lookup %s: %w", id, err)
	}
	return ok, nil
}

// Warm adds ids to the filter without touching the store. Used after a
// checkpoint restore.
func (s *Set) Warm(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.filter.AddString(id)
	}
}
