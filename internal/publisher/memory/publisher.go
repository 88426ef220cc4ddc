// Package memory keeps recently published messages in process. The service
// uses it to serve the latest lifecycle events over HTTP; tests use it to
// inspect what was published.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	Seq     uint64    `json:"seq"`
	Topic   string    `json:"topic"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload"`
}

// Publisher stores published payloads, keeping at most capacity of them.
type Publisher struct {
	mu       sync.RWMutex
	capacity int
	seq      uint64
	messages []PublishedMessage
}

// New returns an unbounded Publisher.
func New() *Publisher {
	return &Publisher{}
}

// NewBounded returns a Publisher that drops the oldest message once capacity
// is reached.
func NewBounded(capacity int) *Publisher {
	return &Publisher{capacity: capacity}
}

// Publish records the message and returns its sequence as the ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	p.messages = append(p.messages, PublishedMessage{Seq: p.seq, Topic: topic, At: time.Now().UTC(), Payload: payload})
	if p.capacity > 0 && len(p.messages) > p.capacity {
		drop := len(p.messages) - p.capacity
		p.messages = append(p.messages[:0], p.messages[drop:]...)
	}
	return fmt.Sprintf("memory-%d", p.seq), nil
}

// Messages returns every retained message, oldest first.
func (p *Publisher) Messages() []PublishedMessage {
	return p.Recent(0)
}

// Recent returns up to limit of the newest messages, oldest first. A limit of
// zero or less returns all of them.
func (p *Publisher) Recent(limit int) []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	start := 0
	if limit > 0 && len(p.messages) > limit {
		start = len(p.messages) - limit
	}
	out := make([]PublishedMessage, len(p.messages)-start)
	copy(out, p.messages[start:])
	return out
}
