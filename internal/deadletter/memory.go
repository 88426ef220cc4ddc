// Package deadletter provides sinks for URLs that reached a terminal failure.
package deadletter

import (
	"context"
	"sync"

	"github.com/JakeFAU/crawl-frontier/internal/crawler"
)

// Memory is an in-process dead-letter sink. When capacity is positive the
// oldest records are evicted first.
type Memory struct {
	mu       sync.RWMutex
	records  []crawler.DeadLetterRecord
	capacity int
}

// NewMemory returns a Memory sink holding at most capacity records (0 = unbounded).
func NewMemory(capacity int) *Memory {
	return &Memory{capacity: capacity}
}

// Record implements crawler.DeadLetterRecorder.
func (m *Memory) Record(_ context.Context, rec crawler.DeadLetterRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	if m.capacity > 0 && len(m.records) > m.capacity {
		m.records = append([]crawler.DeadLetterRecord(nil), m.records[len(m.records)-m.capacity:]...)
	}
	return nil
}

// List returns up to limit records, newest first.
func (m *Memory) List(_ context.Context, limit int) ([]crawler.DeadLetterRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := len(m.records)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]crawler.DeadLetterRecord, 0, limit)
	for i := n - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.records[i])
	}
	return out, nil
}

// Len returns the number of stored records.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
