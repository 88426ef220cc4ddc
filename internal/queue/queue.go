// Package queue holds one ordered queue per domain. Each domain queue is an
// independently locked unit so operations on different domains never contend;
// the domain index itself is only read-locked for lookups.
package queue

import (
	"container/heap"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JakeFAU/crawl-frontier/internal/crawler"
)

// Manager owns queue storage and ordering for every domain.
type Manager struct {
	mu      sync.RWMutex
	domains map[string]*domainQueue
	order   []string
	seq     atomic.Uint64
	size    atomic.Int64
}

// NewManager constructs an empty Manager.
func NewManager() *Manager {
	return &Manager{domains: make(map[string]*domainQueue)}
}

// Enqueue inserts an entry into its domain queue, ordered by priority with
// FIFO ties. Entries with a zero Seq are stamped with the next sequence.
func (m *Manager) Enqueue(entry crawler.URLEntry) error {
	if entry.Domain == "" {
		return fmt.Errorf("%w: entry domain is empty", crawler.ErrInvalidEntry)
	}
	if entry.ID == "" {
		return fmt.Errorf("%w: entry id is empty", crawler.ErrInvalidEntry)
	}
	if entry.Seq == 0 {
		entry.Seq = m.seq.Add(1)
	} else {
		m.bumpSeq(entry.Seq)
	}
	dq := m.domain(entry.Domain, true)
	dq.mu.Lock()
	defer dq.mu.Unlock()
	if _, exists := dq.index[entry.ID]; exists {
		return fmt.Errorf("%w: %s already queued for %s", crawler.ErrInvalidEntry, entry.ID, entry.Domain)
	}
	dq.push(entry)
	m.size.Add(1)
	return nil
}

// PeekEligible returns the head entry of a domain if it is eligible at now.
func (m *Manager) PeekEligible(domain string, now time.Time) (crawler.URLEntry, bool) {
	dq := m.domain(domain, false)
	if dq == nil {
		return crawler.URLEntry{}, false
	}
	dq.mu.Lock()
	defer dq.mu.Unlock()
	it := dq.head(now)
	if it == nil {
		return crawler.URLEntry{}, false
	}
	return it.entry.Clone(), true
}

// Remove pulls a specific entry out of its domain queue.
func (m *Manager) Remove(domain, urlID string) (crawler.URLEntry, bool) {
	dq := m.domain(domain, false)
	if dq == nil {
		return crawler.URLEntry{}, false
	}
	dq.mu.Lock()
	defer dq.mu.Unlock()
	entry, ok := dq.remove(urlID)
	if ok {
		m.size.Add(-1)
	}
	return entry, ok
}

// TakeEligible atomically peeks the eligible head, asks admit whether it may
// be dispatched and removes it when admitted. admit runs under the domain lock
// and must not call back into the Manager.
func (m *Manager) TakeEligible(domain string, now time.Time, admit func(crawler.URLEntry) bool) (crawler.URLEntry, bool) {
	dq := m.domain(domain, false)
	if dq == nil {
		return crawler.URLEntry{}, false
	}
	dq.mu.Lock()
	defer dq.mu.Unlock()
	it := dq.head(now)
	if it == nil {
		return crawler.URLEntry{}, false
	}
	if admit != nil && !admit(it.entry.Clone()) {
		return crawler.URLEntry{}, false
	}
	entry, _ := dq.remove(it.entry.ID)
	m.size.Add(-1)
	return entry, true
}

// NextEligibleAt reports when the domain's earliest entry becomes eligible.
func (m *Manager) NextEligibleAt(domain string, now time.Time) (time.Time, bool) {
	dq := m.domain(domain, false)
	if dq == nil {
		return time.Time{}, false
	}
	dq.mu.Lock()
	defer dq.mu.Unlock()
	dq.promote(now)
	if dq.ready.Len() > 0 {
		return now, true
	}
	if dq.delayed.Len() > 0 {
		return dq.delayed.items[0].entry.NextEligibleAt, true
	}
	return time.Time{}, false
}

// DomainAt returns the domain at position i (mod the number of known domains)
// along with that count. Domains keep their first-seen order.
func (m *Manager) DomainAt(i int) (string, int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := len(m.order)
	if n == 0 {
		return "", 0
	}
	if i < 0 {
		i = -i
	}
	return m.order[i%n], n
}

// Len returns the number of queued entries for a domain.
func (m *Manager) Len(domain string) int {
	dq := m.domain(domain, false)
	if dq == nil {
		return 0
	}
	dq.mu.Lock()
	defer dq.mu.Unlock()
	return len(dq.index)
}

// Total returns the number of queued entries across all domains.
func (m *Manager) Total() int {
	return int(m.size.Load())
}

// Snapshot copies every queued entry. Domains are locked one at a time, so the
// result is consistent per domain, not globally.
func (m *Manager) Snapshot() []crawler.URLEntry {
	m.mu.RLock()
	queues := make([]*domainQueue, 0, len(m.order))
	for _, d := range m.order {
		queues = append(queues, m.domains[d])
	}
	m.mu.RUnlock()

	var out []crawler.URLEntry
	for _, dq := range queues {
		dq.mu.Lock()
		for _, it := range dq.index {
			out = append(out, it.entry.Clone())
		}
		dq.mu.Unlock()
	}
	return out
}

func (m *Manager) domain(name string, create bool) *domainQueue {
	m.mu.RLock()
	dq, ok := m.domains[name]
	m.mu.RUnlock()
	if ok || !create {
		return dq
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if dq, ok = m.domains[name]; ok {
		return dq
	}
	dq = newDomainQueue()
	m.domains[name] = dq
	m.order = append(m.order, name)
	return dq
}

func (m *Manager) bumpSeq(seq uint64) {
	for {
		cur := m.seq.Load()
		if cur >= seq || m.seq.CompareAndSwap(cur, seq) {
			return
		}
	}
}

// domainQueue keeps eligible entries in a priority heap and entries waiting
// on a next-eligible time in a time heap, so a delayed retry never blocks the
// entries behind it.
type domainQueue struct {
	mu      sync.Mutex
	ready   *entryHeap
	delayed *entryHeap
	index   map[string]*item
}

type item struct {
	entry   crawler.URLEntry
	heapIdx int
	delayed bool
}

func newDomainQueue() *domainQueue {
	return &domainQueue{
		ready:   &entryHeap{less: byPriority},
		delayed: &entryHeap{less: byEligibility},
		index:   make(map[string]*item),
	}
}

func (q *domainQueue) push(entry crawler.URLEntry) {
	it := &item{entry: entry}
	q.index[entry.ID] = it
	if entry.NextEligibleAt.IsZero() {
		heap.Push(q.ready, it)
		return
	}
	it.delayed = true
	heap.Push(q.delayed, it)
}

// promote moves delayed entries whose time has come into the ready heap.
func (q *domainQueue) promote(now time.Time) {
	for q.delayed.Len() > 0 {
		next := q.delayed.items[0]
		if next.entry.NextEligibleAt.After(now) {
			return
		}
		heap.Pop(q.delayed)
		next.delayed = false
		heap.Push(q.ready, next)
	}
}

func (q *domainQueue) head(now time.Time) *item {
	q.promote(now)
	if q.ready.Len() == 0 {
		return nil
	}
	return q.ready.items[0]
}

func (q *domainQueue) remove(urlID string) (crawler.URLEntry, bool) {
	it, ok := q.index[urlID]
	if !ok {
		return crawler.URLEntry{}, false
	}
	delete(q.index, urlID)
	if it.delayed {
		heap.Remove(q.delayed, it.heapIdx)
	} else {
		heap.Remove(q.ready, it.heapIdx)
	}
	return it.entry, true
}

func byPriority(a, b *item) bool {
	if a.entry.Priority != b.entry.Priority {
		return a.entry.Priority < b.entry.Priority
	}
	return a.entry.Seq < b.entry.Seq
}

func byEligibility(a, b *item) bool {
	if !a.entry.NextEligibleAt.Equal(b.entry.NextEligibleAt) {
		return a.entry.NextEligibleAt.Before(b.entry.NextEligibleAt)
	}
	return byPriority(a, b)
}

type entryHeap struct {
	items []*item
	less  func(a, b *item) bool
}

func (h *entryHeap) Len() int           { return len(h.items) }
func (h *entryHeap) Less(i, j int) bool { return h.less(h.items[i], h.items[j]) }

func (h *entryHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].heapIdx = i
	h.items[j].heapIdx = j
}

func (h *entryHeap) Push(x any) {
	it, ok := x.(*item)
	if !ok {
		return
	}
	it.heapIdx = len(h.items)
	h.items = append(h.items, it)
}

func (h *entryHeap) Pop() any {
	old := h.items
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	h.items = old[:n-1]
	it.heapIdx = -1
	return it
}
