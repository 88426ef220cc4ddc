package api

import (
	"time"

	"github.com/JakeFAU/crawl-frontier/internal/crawler"
)

// RetryAfterHeader carries the NoWork wait hint in milliseconds.
const RetryAfterHeader = "Retry-After-Ms"

// Rejection reasons returned with 409/422 submit responses.
const (
	reasonDuplicate = "duplicate"
	reasonInvalid   = "invalid-entry"
)

type submitRequest struct {
	URL      string `json:"url"`
	Priority int    `json:"priority"`
	// Base resolves relative discovered links.
	Base string `json:"base,omitempty"`
}

type submitResponse struct {
	URLID  string `json:"url_id,omitempty"`
	URL    string `json:"url,omitempty"`
	Domain string `json:"domain,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type workRequest struct {
	WorkerID string `json:"worker_id"`
}

type workResponse struct {
	URLID          string              `json:"url_id"`
	URL            string              `json:"url"`
	Domain         string              `json:"domain"`
	Method         crawler.FetchMethod `json:"method"`
	LeaseID        string              `json:"lease_id"`
	LeaseExpiresAt time.Time           `json:"lease_expires_at"`
	Attempts       int                 `json:"attempts"`
	Priority       int                 `json:"priority"`
}

// outcomePayload is the JSON form of crawler.FetchOutcome.
type outcomePayload struct {
	LeaseID            string                 `json:"lease_id"`
	Method             crawler.FetchMethod    `json:"method,omitempty"`
	StatusCode         int                    `json:"status_code,omitempty"`
	Transport          crawler.TransportError `json:"transport,omitempty"`
	RetryAfterMS       int64                  `json:"retry_after_ms,omitempty"`
	ElapsedMS          int64                  `json:"elapsed_ms,omitempty"`
	Bytes              int64                  `json:"bytes,omitempty"`
	Challenge          bool                   `json:"challenge,omitempty"`
	ThinBody           bool                   `json:"thin_body,omitempty"`
	RedirectsExhausted bool                   `json:"redirects_exhausted,omitempty"`
	Malformed          bool                   `json:"malformed,omitempty"`
}

func toPayload(o crawler.FetchOutcome) outcomePayload {
	return outcomePayload{
		LeaseID:            o.LeaseID,
		Method:             o.Method,
		StatusCode:         o.StatusCode,
		Transport:          o.Transport,
		RetryAfterMS:       o.RetryAfter.Milliseconds(),
		ElapsedMS:          o.Elapsed.Milliseconds(),
		Bytes:              o.Bytes,
		Challenge:          o.Challenge,
		ThinBody:           o.ThinBody,
		RedirectsExhausted: o.RedirectsExhausted,
		Malformed:          o.Malformed,
	}
}

func (p outcomePayload) outcome(urlID string) crawler.FetchOutcome {
	return crawler.FetchOutcome{
		URLID:              urlID,
		LeaseID:            p.LeaseID,
		Method:             p.Method,
		StatusCode:         p.StatusCode,
		Transport:          p.Transport,
		RetryAfter:         time.Duration(p.RetryAfterMS) * time.Millisecond,
		Elapsed:            time.Duration(p.ElapsedMS) * time.Millisecond,
		Bytes:              p.Bytes,
		Challenge:          p.Challenge,
		ThinBody:           p.ThinBody,
		RedirectsExhausted: p.RedirectsExhausted,
		Malformed:          p.Malformed,
	}
}
