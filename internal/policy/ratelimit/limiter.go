// Package ratelimit implements an adaptive per-domain token bucket. Each
// domain is an independently locked unit; the bucket refills at one token per
// effective crawl-delay and the effective delay widens on throttle signals and
// narrows slowly after sustained success.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/crawl-frontier/internal/crawler"
	"github.com/JakeFAU/crawl-frontier/internal/metrics"
)

// Signal is the coarse response signal fed back into the limiter.
type Signal int

// Outcome signals understood by ReportOutcome.
const (
	// SignalSuccess is a clean response.
	SignalSuccess Signal = iota
	// SignalThrottle covers 429, 503 and detected challenges.
	SignalThrottle
	// SignalFailure is any other failure; it breaks the success streak only.
	SignalFailure
)

// DomainState is the persisted view of one domain's limiter state.
type DomainState struct {
	Domain               string        `json:"domain"`
	CrawlDelay           time.Duration `json:"crawl_delay"`
	EffectiveDelay       time.Duration `json:"effective_delay"`
	Capacity             int           `json:"capacity"`
	RefillPerSecond      float64       `json:"refill_per_second"`
	Tokens               float64       `json:"tokens"`
	BackoffMultiplier    float64       `json:"backoff_multiplier"`
	ConsecutiveFailures  int           `json:"consecutive_failures"`
	ConsecutiveSuccesses int           `json:"consecutive_successes"`
	PausedUntil          time.Time     `json:"paused_until"`
	LastGrant            time.Time     `json:"last_grant"`
}

// Limiter manages per-domain rate limits.
type Limiter struct {
	settings *crawler.SettingsHolder
	mu       sync.RWMutex
	domains  map[string]*domainState
}

type domainState struct {
	mu           sync.Mutex
	bucket       *rate.Limiter
	robotsDelay  time.Duration
	multiplier   float64
	failures     int
	successes    int
	pausedUntil  time.Time
	lastGrant    time.Time
	appliedDelay time.Duration
	appliedBurst int
}

// New creates a Limiter that reads its constants from settings on every call.
func New(settings *crawler.SettingsHolder) *Limiter {
	return &Limiter{
		settings: settings,
		domains:  make(map[string]*domainState),
	}
}

// TryAcquire asks for one dispatch token for domain at now. When denied it
// returns the time until a token could next be granted.
func (l *Limiter) TryAcquire(domain string, now time.Time) (bool, time.Duration) {
	s := l.settings.Load()
	st := l.state(domain)
	st.mu.Lock()
	defer st.mu.Unlock()

	delay, burst, gated := st.params(s, domain)
	if wait := st.blockedFor(now, delay, gated); wait > 0 {
		metrics.ObserveRateLimitDelay(domain, wait)
		return false, wait
	}
	st.configure(now, delay, burst)
	r := st.bucket.ReserveN(now, 1)
	if !r.OK() {
		return false, delay
	}
	if wait := r.DelayFrom(now); wait > 0 {
		r.CancelAt(now)
		metrics.ObserveRateLimitDelay(domain, wait)
		return false, wait
	}
	st.lastGrant = now
	return true, 0
}

// NextGrantAt reports the earliest time a token could be granted, without
// consuming anything.
func (l *Limiter) NextGrantAt(domain string, now time.Time) time.Time {
	s := l.settings.Load()
	st := l.state(domain)
	st.mu.Lock()
	defer st.mu.Unlock()

	delay, burst, gated := st.params(s, domain)
	if wait := st.blockedFor(now, delay, gated); wait > 0 {
		return now.Add(wait)
	}
	st.configure(now, delay, burst)
	tokens := st.bucket.TokensAt(now)
	if tokens >= 1 {
		return now
	}
	return now.Add(time.Duration((1 - tokens) * float64(delay)))
}

// ReportOutcome adapts the domain's backoff. Throttle signals multiply the
// effective delay by the backoff factor up to the max delay; every DecayAfter
// consecutive successes shrink it by the decay factor, floored at 1.0. A
// positive retryAfter pauses the domain until now+retryAfter.
func (l *Limiter) ReportOutcome(domain string, sig Signal, retryAfter time.Duration, now time.Time) {
	s := l.settings.Load()
	st := l.state(domain)
	st.mu.Lock()
	defer st.mu.Unlock()

	switch sig {
	case SignalThrottle:
		st.failures++
		st.successes = 0
		factor := s.BackoffFactor
		if factor < 1 {
			factor = 1
		}
		st.multiplier = math.Min(st.multiplier*factor, st.maxMultiplier(s, domain))
	case SignalFailure:
		st.failures++
		st.successes = 0
	default:
		st.failures = 0
		st.successes++
		if s.DecayAfter > 0 && st.successes >= s.DecayAfter {
			st.successes = 0
			st.multiplier = math.Max(1, st.multiplier*s.DecayFactor)
		}
	}
	if retryAfter > 0 {
		if s.MaxRetryAfter > 0 && retryAfter > s.MaxRetryAfter {
			retryAfter = s.MaxRetryAfter
		}
		if until := now.Add(retryAfter); until.After(st.pausedUntil) {
			st.pausedUntil = until
		}
	}
	metrics.ObserveBackoffMultiplier(domain, st.multiplier)
}

// SetCrawlDelay records the robots.txt crawl-delay directive for a domain.
func (l *Limiter) SetCrawlDelay(domain string, d time.Duration) {
	st := l.state(domain)
	st.mu.Lock()
	defer st.mu.Unlock()
	if d < 0 {
		d = 0
	}
	st.robotsDelay = d
}

// EffectiveDelay returns the delay currently enforced between grants.
func (l *Limiter) EffectiveDelay(domain string) time.Duration {
	s := l.settings.Load()
	st := l.state(domain)
	st.mu.Lock()
	defer st.mu.Unlock()
	d, _, _ := st.params(s, domain)
	return d
}

// State returns a snapshot of one domain.
func (l *Limiter) State(domain string, now time.Time) (DomainState, bool) {
	l.mu.RLock()
	st, ok := l.domains[domain]
	l.mu.RUnlock()
	if !ok {
		return DomainState{}, false
	}
	return st.snapshot(l.settings.Load(), domain, now), true
}

// States returns a snapshot of every known domain.
func (l *Limiter) States(now time.Time) []DomainState {
	l.mu.RLock()
	names := make([]string, 0, len(l.domains))
	states := make([]*domainState, 0, len(l.domains))
	for name, st := range l.domains {
		names = append(names, name)
		states = append(states, st)
	}
	l.mu.RUnlock()

	s := l.settings.Load()
	out := make([]DomainState, 0, len(states))
	for i, st := range states {
		out = append(out, st.snapshot(s, names[i], now))
	}
	return out
}

// Restore rehydrates domain states from a snapshot. Buckets start full; the
// restored last grant keeps the spacing gate intact across restarts.
func (l *Limiter) Restore(states []DomainState) {
	for _, ds := range states {
		st := l.state(ds.Domain)
		st.mu.Lock()
		st.robotsDelay = ds.CrawlDelay
		st.multiplier = math.Max(1, ds.BackoffMultiplier)
		st.failures = ds.ConsecutiveFailures
		st.successes = ds.ConsecutiveSuccesses
		st.pausedUntil = ds.PausedUntil
		st.lastGrant = ds.LastGrant
		st.mu.Unlock()
	}
}

func (l *Limiter) state(domain string) *domainState {
	l.mu.RLock()
	st, ok := l.domains[domain]
	l.mu.RUnlock()
	if ok {
		return st
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if st, ok = l.domains[domain]; ok {
		return st
	}
	st = &domainState{multiplier: 1}
	l.domains[domain] = st
	return st
}

// params resolves the effective delay and burst. Domains with an explicit
// crawl-delay (robots.txt or override) always run with burst 1 and the hard
// spacing gate.
func (st *domainState) params(s *crawler.Settings, domain string) (time.Duration, int, bool) {
	base := s.CrawlDelayFor(domain, st.robotsDelay)
	if base <= 0 {
		base = time.Millisecond
	}
	delay := time.Duration(float64(base) * st.multiplier)
	if s.MaxDelay > 0 && delay > s.MaxDelay {
		delay = s.MaxDelay
	}
	if delay < base {
		delay = base
	}

	burst := s.Burst
	override, hasOverride := s.Override(domain)
	if hasOverride && override.Burst > 0 {
		burst = override.Burst
	}
	explicit := st.robotsDelay > 0 || (hasOverride && override.CrawlDelay > 0)
	if burst <= 1 || explicit {
		return delay, 1, true
	}
	return delay, burst, false
}

func (st *domainState) maxMultiplier(s *crawler.Settings, domain string) float64 {
	base := s.CrawlDelayFor(domain, st.robotsDelay)
	if base <= 0 || s.MaxDelay <= 0 {
		return math.MaxFloat64
	}
	return math.Max(1, float64(s.MaxDelay)/float64(base))
}

func (st *domainState) blockedFor(now time.Time, delay time.Duration, gated bool) time.Duration {
	var wait time.Duration
	if now.Before(st.pausedUntil) {
		wait = st.pausedUntil.Sub(now)
	}
	if gated && !st.lastGrant.IsZero() {
		if next := st.lastGrant.Add(delay); now.Before(next) && next.Sub(now) > wait {
			wait = next.Sub(now)
		}
	}
	return wait
}

func (st *domainState) configure(now time.Time, delay time.Duration, burst int) {
	if st.bucket == nil {
		st.bucket = rate.NewLimiter(rate.Every(delay), burst)
		st.appliedDelay = delay
		st.appliedBurst = burst
		return
	}
	if st.appliedDelay != delay {
		st.bucket.SetLimitAt(now, rate.Every(delay))
		st.appliedDelay = delay
	}
	if st.appliedBurst != burst {
		st.bucket.SetBurstAt(now, burst)
		st.appliedBurst = burst
	}
}

func (st *domainState) snapshot(s *crawler.Settings, domain string, now time.Time) DomainState {
	st.mu.Lock()
	defer st.mu.Unlock()
	delay, burst, _ := st.params(s, domain)
	tokens := float64(burst)
	if st.bucket != nil {
		tokens = st.bucket.TokensAt(now)
	}
	return DomainState{
		Domain:               domain,
		CrawlDelay:           st.robotsDelay,
		EffectiveDelay:       delay,
		Capacity:             burst,
		RefillPerSecond:      1 / delay.Seconds(),
		Tokens:               tokens,
		BackoffMultiplier:    st.multiplier,
		ConsecutiveFailures:  st.failures,
		ConsecutiveSuccesses: st.successes,
		PausedUntil:          st.pausedUntil,
		LastGrant:            st.lastGrant,
	}
}
