// Package retry maps fetch outcomes to success, a delayed retry, or a
// terminal dead-letter verdict.
package retry

import (
	"crypto/rand"
	"math"
	"math/big"
	"net/http"
	"time"

	"github.com/JakeFAU/crawl-frontier/internal/crawler"
)

// Kind is the verdict family.
type Kind int

// Verdict kinds.
const (
	KindSuccess Kind = iota
	KindRetryAfter
	KindDeadLetter
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindRetryAfter:
		return "retry"
	case KindDeadLetter:
		return "dead_letter"
	default:
		return "unknown"
	}
}

// Verdict is the classifier's decision for one outcome.
type Verdict struct {
	Kind   Kind
	Delay  time.Duration
	Reason string
	Class  crawler.ErrorClass
	// Throttle marks outcomes that should widen the domain's backoff.
	Throttle bool
	// Escalate hints that the next attempt should move up the ladder.
	Escalate bool
}

// Classifier applies the retry table using caps from a settings snapshot.
type Classifier struct {
	jitter func(limit time.Duration) time.Duration
}

// New returns a Classifier using crypto/rand for jitter.
func New() *Classifier {
	return &Classifier{jitter: randomJitter}
}

// NewWithJitter returns a Classifier with a custom jitter source.
func NewWithJitter(jitter func(limit time.Duration) time.Duration) *Classifier {
	if jitter == nil {
		jitter = randomJitter
	}
	return &Classifier{jitter: jitter}
}

// ClassOf returns the error class of an outcome, or ErrorClassNone on success.
func ClassOf(o crawler.FetchOutcome) crawler.ErrorClass {
	switch {
	case o.Failed():
		return crawler.ErrorClassTransport
	case o.Malformed:
		return crawler.ErrorClassMalformed
	case o.RedirectsExhausted || (o.StatusCode >= 300 && o.StatusCode < 400):
		return crawler.ErrorClassRedirects
	case o.StatusCode == http.StatusTooManyRequests || o.StatusCode == http.StatusServiceUnavailable:
		return crawler.ErrorClassThrottled
	case o.StatusCode == http.StatusForbidden || o.Challenge:
		return crawler.ErrorClassChallenge
	case o.StatusCode >= 200 && o.StatusCode < 300:
		return crawler.ErrorClassNone
	case o.StatusCode >= 400 && o.StatusCode < 500:
		return crawler.ErrorClassClient
	case o.StatusCode >= 500 && o.StatusCode < 600:
		return crawler.ErrorClassServer
	default:
		return crawler.ErrorClassMalformed
	}
}

// Classify decides what happens to entry after outcome. entry carries the
// attempt counters from before this outcome.
func (c *Classifier) Classify(entry crawler.URLEntry, o crawler.FetchOutcome, s *crawler.Settings) Verdict {
	class := ClassOf(o)
	v := Verdict{Class: class}

	switch class {
	case crawler.ErrorClassNone:
		v.Kind = KindSuccess
		return v
	case crawler.ErrorClassRedirects:
		return deadLetter(v, crawler.ReasonRedirectsExhausted)
	case crawler.ErrorClassClient:
		return deadLetter(v, crawler.ReasonClientError)
	}

	var limit int
	var exhausted string
	switch class {
	case crawler.ErrorClassThrottled:
		v.Throttle = true
		limit, exhausted = s.ThrottleMaxAttempts, crawler.ReasonThrottleExhausted
	case crawler.ErrorClassChallenge:
		v.Throttle = true
		v.Escalate = true
		limit, exhausted = s.ChallengeMaxAttempts, crawler.ReasonChallengeExhausted
	case crawler.ErrorClassTransport:
		limit, exhausted = s.TransportMaxAttempts, crawler.ReasonTransportExhausted
	case crawler.ErrorClassServer:
		limit, exhausted = s.ServerMaxAttempts, crawler.ReasonTransportExhausted
	case crawler.ErrorClassMalformed:
		limit, exhausted = s.MalformedMaxAttempts, crawler.ReasonMalformed
	}

	if limit > 0 && entry.CategoryAttempts[class]+1 >= limit {
		return deadLetter(v, exhausted)
	}
	if s.MaxAttempts > 0 && entry.Attempts+1 > s.MaxAttempts {
		return deadLetter(v, crawler.ReasonMaxAttempts)
	}

	v.Kind = KindRetryAfter
	v.Delay = c.Backoff(entry.Attempts, s)
	if class == crawler.ErrorClassThrottled && o.RetryAfter > 0 {
		retryAfter := o.RetryAfter
		if s.MaxRetryAfter > 0 && retryAfter > s.MaxRetryAfter {
			retryAfter = s.MaxRetryAfter
		}
		if retryAfter > v.Delay {
			v.Delay = retryAfter
		}
	}
	return v
}

// Backoff returns base*2^attempt capped at the retry max delay. With jitter
// enabled the result lies in [delay/2, delay).
func (c *Classifier) Backoff(attempt int, s *crawler.Settings) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(s.RetryBaseDelay) * math.Pow(2, float64(attempt))
	if s.RetryMaxDelay > 0 && delay > float64(s.RetryMaxDelay) {
		delay = float64(s.RetryMaxDelay)
	}
	if !s.RetryJitter {
		return time.Duration(delay)
	}
	half := time.Duration(delay / 2)
	return half + c.jitter(half)
}

func deadLetter(v Verdict, reason string) Verdict {
	v.Kind = KindDeadLetter
	v.Reason = reason
	return v
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
