package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/crawl-frontier/internal/crawler"
)

// Kind names a URL lifecycle transition.
type Kind string

// Lifecycle event kinds.
const (
	KindSubmitted    Kind = "submitted"
	KindRejected     Kind = "rejected"
	KindDispatched   Kind = "dispatched"
	KindCompleted    Kind = "completed"
	KindRetried      Kind = "retried"
	KindEscalated    Kind = "escalated"
	KindDeadLettered Kind = "dead_lettered"
	KindLeaseExpired Kind = "lease_expired"
)

// Event captures a single frontier lifecycle transition.
type Event struct {
	Kind       Kind                `json:"kind"`
	TS         time.Time           `json:"ts"`
	URLID      string              `json:"url_id"`
	URL        string              `json:"url,omitempty"`
	Domain     string              `json:"domain,omitempty"`
	WorkerID   string              `json:"worker_id,omitempty"`
	LeaseID    string              `json:"lease_id,omitempty"`
	Method     crawler.FetchMethod `json:"method,omitempty"`
	StatusCode int                 `json:"status_code,omitempty"`
	ErrorClass crawler.ErrorClass  `json:"error_class,omitempty"`
	Attempt    int                 `json:"attempt,omitempty"`
	// Delay is the wait before the entry becomes eligible again.
	Delay  time.Duration `json:"delay,omitempty"`
	Reason string        `json:"reason,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Kind {
	case KindSubmitted, KindDispatched, KindCompleted, KindRetried, KindEscalated, KindLeaseExpired:
		if e.URLID == "" {
			return fmt.Errorf("%s event requires url id", e.Kind)
		}
	case KindDeadLettered, KindRejected:
		if e.Reason == "" {
			return fmt.Errorf("%s event requires reason", e.Kind)
		}
	default:
		return fmt.Errorf("unknown kind %q", e.Kind)
	}
	if e.Delay < 0 {
		return errors.New("delay must be >= 0")
	}
	return nil
}
