// Package frontier coordinates the crawl: it admits URLs, hands leased work to
// pulling workers under per-domain rate limits and folds fetch outcomes back
// into retries, escalations and dead-letters.
package frontier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-frontier/internal/crawler"
	"github.com/JakeFAU/crawl-frontier/internal/escalation"
	"github.com/JakeFAU/crawl-frontier/internal/events"
	"github.com/JakeFAU/crawl-frontier/internal/metrics"
	"github.com/JakeFAU/crawl-frontier/internal/policy/ratelimit"
	"github.com/JakeFAU/crawl-frontier/internal/politeness"
	"github.com/JakeFAU/crawl-frontier/internal/queue"
	"github.com/JakeFAU/crawl-frontier/internal/retry"
)

// idLength is the number of hex characters of the URL digest used as the ID.
const idLength = 32

// RulesProvider resolves robots.txt rules for an origin.
type RulesProvider interface {
	GetRules(ctx context.Context, origin string) (*politeness.Rules, error)
}

// Deps are the collaborators a Frontier is built from. Settings, Seen and
// Robots are required; the rest fall back to in-process defaults.
type Deps struct {
	Settings    *crawler.SettingsHolder
	Queue       *queue.Manager
	Limiter     *ratelimit.Limiter
	Robots      RulesProvider
	Classifier  *retry.Classifier
	Escalation  *escalation.Machine
	Seen        crawler.SeenStore
	DeadLetters crawler.DeadLetterRecorder
	Events      events.Emitter
	Clock       crawler.Clock
	IDs         crawler.IDGenerator
	Hasher      crawler.Hasher
	Logger      *zap.Logger
}

// Work is the answer to RequestWork. When Found is false the worker should
// come back after RetryAfter.
type Work struct {
	Found      bool
	Assignment crawler.Assignment
	RetryAfter time.Duration
}

// Stats is a point-in-time view of frontier counters.
type Stats struct {
	Pending         int    `json:"pending"`
	InFlight        int    `json:"in_flight"`
	Domains         int    `json:"domains"`
	Submitted       uint64 `json:"submitted"`
	Duplicates      uint64 `json:"duplicates"`
	Rejected        uint64 `json:"rejected"`
	Dispatched      uint64 `json:"dispatched"`
	Completed       uint64 `json:"completed"`
	Retried         uint64 `json:"retried"`
	DeadLettered    uint64 `json:"dead_lettered"`
	LeaseExpired    uint64 `json:"lease_expired"`
	SettingsVersion uint64 `json:"settings_version"`
}

type lease struct {
	assignment crawler.Assignment
}

type counters struct {
	submitted    atomic.Uint64
	duplicates   atomic.Uint64
	rejected     atomic.Uint64
	dispatched   atomic.Uint64
	completed    atomic.Uint64
	retried      atomic.Uint64
	deadLettered atomic.Uint64
	leaseExpired atomic.Uint64
}

// Frontier is the crawl coordinator. It is safe for concurrent use.
type Frontier struct {
	settings    *crawler.SettingsHolder
	queue       *queue.Manager
	limiter     *ratelimit.Limiter
	robots      RulesProvider
	classifier  *retry.Classifier
	escalation  *escalation.Machine
	seen        crawler.SeenStore
	deadLetters crawler.DeadLetterRecorder
	events      events.Emitter
	clock       crawler.Clock
	ids         crawler.IDGenerator
	hasher      crawler.Hasher
	logger      *zap.Logger

	cursor   atomic.Uint64
	leases   sync.Map // url id -> *lease
	inFlight atomic.Int64
	stats    counters

	readyMu sync.Mutex
	readyCh chan struct{}
}

// New validates deps and builds a Frontier.
func New(deps Deps) (*Frontier, error) {
	if deps.Settings == nil {
		return nil, errors.New("frontier: settings holder is required")
	}
	if deps.Seen == nil {
		return nil, errors.New("frontier: seen store is required")
	}
	if deps.Robots == nil {
		return nil, errors.New("frontier: robots rules provider is required")
	}
	if deps.Clock == nil {
		return nil, errors.New("frontier: clock is required")
	}
	if deps.IDs == nil {
		return nil, errors.New("frontier: id generator is required")
	}
	if deps.Hasher == nil {
		return nil, errors.New("frontier: hasher is required")
	}
	f := &Frontier{
		settings:    deps.Settings,
		queue:       deps.Queue,
		limiter:     deps.Limiter,
		robots:      deps.Robots,
		classifier:  deps.Classifier,
		escalation:  deps.Escalation,
		seen:        deps.Seen,
		deadLetters: deps.DeadLetters,
		events:      deps.Events,
		clock:       deps.Clock,
		ids:         deps.IDs,
		hasher:      deps.Hasher,
		logger:      deps.Logger,
		readyCh:     make(chan struct{}),
	}
	if f.queue == nil {
		f.queue = queue.NewManager()
	}
	if f.limiter == nil {
		f.limiter = ratelimit.New(deps.Settings)
	}
	if f.classifier == nil {
		f.classifier = retry.New()
	}
	if f.escalation == nil {
		f.escalation = escalation.New(deps.Settings)
	}
	if f.events == nil {
		f.events = events.Nop{}
	}
	if f.logger == nil {
		f.logger = zap.NewNop()
	}
	f.logger = f.logger.Named("frontier")
	return f, nil
}

// Submit admits a URL at the given priority (lower is more urgent).
func (f *Frontier) Submit(ctx context.Context, rawURL string, priority int) (crawler.URLEntry, error) {
	return f.SubmitFrom(ctx, rawURL, "", priority)
}

// SubmitFrom admits rawURL, resolving it against base when it is relative.
// Discovered links re-enter the frontier this way.
func (f *Frontier) SubmitFrom(ctx context.Context, rawURL, base string, priority int) (crawler.URLEntry, error) {
	s := f.settings.Load()
	u, err := crawler.NormalizeURL(rawURL, base)
	if err != nil {
		f.reject("", rawURL, "", "invalid-url")
		metrics.ObserveSubmission("invalid")
		return crawler.URLEntry{}, err
	}
	canonical := u.String()
	id, err := f.urlID(canonical)
	if err != nil {
		return crawler.URLEntry{}, fmt.Errorf("%w: %v", crawler.ErrFrontierUnavailable, err)
	}
	now := f.clock.Now()
	entry := crawler.URLEntry{
		ID:        id,
		URL:       canonical,
		Domain:    crawler.DomainKey(u.Hostname(), s.GroupByRegistrableDomain),
		Host:      u.Host,
		Priority:  priority,
		State:     crawler.StatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	// A bloom miss falls through without touching the store; a confirmed
	// duplicate skips the robots lookup.
	known, err := f.seen.Contains(ctx, id)
	if err != nil {
		metrics.ObserveSubmission("unavailable")
		return entry, fmt.Errorf("%w: %v", crawler.ErrFrontierUnavailable, err)
	}
	if known {
		f.stats.duplicates.Add(1)
		metrics.ObserveSubmission("duplicate")
		return entry, crawler.ErrDuplicate
	}

	rules, err := f.robots.GetRules(ctx, politeness.Origin(u.Scheme, u.Host))
	if err != nil {
		return entry, fmt.Errorf("%w: robots lookup: %v", crawler.ErrFrontierUnavailable, err)
	}
	allowed := rules.Allowed(u.RequestURI(), s.UserAgent)

	inserted, err := f.seen.InsertIfAbsent(ctx, id)
	if err != nil {
		metrics.ObserveSubmission("unavailable")
		return entry, fmt.Errorf("%w: %v", crawler.ErrFrontierUnavailable, err)
	}
	if !inserted {
		f.stats.duplicates.Add(1)
		metrics.ObserveSubmission("duplicate")
		return entry, crawler.ErrDuplicate
	}

	if !allowed {
		entry.State = crawler.StateDeadLettered
		entry.LastError = crawler.ErrorClassRobots
		f.stats.rejected.Add(1)
		metrics.ObserveSubmission("robots_disallowed")
		f.reject(entry.ID, entry.URL, entry.Domain, crawler.ReasonRobotsDisallowed)
		f.recordDeadLetter(ctx, entry, crawler.ReasonRobotsDisallowed, crawler.ErrorClassRobots, crawler.FetchOutcome{}, now)
		return entry, crawler.ErrRobotsDisallowed
	}

	if d := rules.CrawlDelay(s.UserAgent); d > 0 {
		f.limiter.SetCrawlDelay(entry.Domain, d)
	}
	entry.Rung = f.escalation.InitialRung(entry.Domain, u.Host, u.Path)
	entry.MethodHint = entry.Rung.Method()
	entry.NextEligibleAt = now

	if err := f.queue.Enqueue(entry); err != nil {
		metrics.ObserveSubmission("unavailable")
		return entry, fmt.Errorf("%w: enqueue: %v", crawler.ErrFrontierUnavailable, err)
	}
	f.stats.submitted.Add(1)
	metrics.ObserveSubmission("accepted")
	metrics.SetQueueDepth(f.queue.Total())
	f.events.Emit(events.Event{
		Kind:   events.KindSubmitted,
		TS:     now,
		URLID:  entry.ID,
		URL:    entry.URL,
		Domain: entry.Domain,
		Method: entry.MethodHint,
	})
	f.signalReady()
	return entry, nil
}

// RequestWork leases the next dispatchable entry to workerID. Domains are
// visited round-robin from a rotating cursor; within a domain the head entry
// is claimed only if the rate limiter grants a token.
func (f *Frontier) RequestWork(ctx context.Context, workerID string) (Work, error) {
	if err := ctx.Err(); err != nil {
		return Work{}, err
	}
	s := f.settings.Load()
	now := f.clock.Now()

	_, n := f.queue.DomainAt(0)
	start := int(f.cursor.Add(1) - 1)
	wait := time.Duration(-1)
	note := func(d time.Duration) {
		if d < 0 {
			d = 0
		}
		if wait < 0 || d < wait {
			wait = d
		}
	}

	for i := 0; i < n; i++ {
		domain, _ := f.queue.DomainAt(start + i)
		if domain == "" {
			continue
		}
		var limiterWait time.Duration
		entry, ok := f.queue.TakeEligible(domain, now, func(crawler.URLEntry) bool {
			granted, w := f.limiter.TryAcquire(domain, now)
			limiterWait = w
			return granted
		})
		if ok {
			f.cursor.Store(uint64(start + i + 1))
			return f.lease(entry, workerID, now, s)
		}
		if limiterWait > 0 {
			note(limiterWait)
			continue
		}
		if at, pending := f.queue.NextEligibleAt(domain, now); pending {
			grant := f.limiter.NextGrantAt(domain, now)
			if grant.After(at) {
				at = grant
			}
			note(at.Sub(now))
		}
	}

	if wait < 0 {
		wait = s.MaxWaitHint
	}
	return Work{RetryAfter: s.ClampWait(wait)}, nil
}

func (f *Frontier) lease(entry crawler.URLEntry, workerID string, now time.Time, s *crawler.Settings) (Work, error) {
	leaseID, err := f.ids.NewID()
	if err != nil {
		if qerr := f.queue.Enqueue(entry); qerr != nil {
			f.logger.Error("requeue after lease id failure", zap.String("url_id", entry.ID), zap.Error(qerr))
		}
		return Work{}, fmt.Errorf("%w: lease id: %v", crawler.ErrFrontierUnavailable, err)
	}
	entry.State = crawler.StateInFlight
	entry.UpdatedAt = now
	a := crawler.Assignment{
		Entry:     entry,
		Method:    entry.Rung.Method(),
		LeaseID:   leaseID,
		WorkerID:  workerID,
		ExpiresAt: now.Add(s.LeaseTimeout),
	}
	f.leases.Store(entry.ID, &lease{assignment: a})
	f.stats.dispatched.Add(1)
	metrics.ObserveDispatch(string(a.Method))
	metrics.SetInFlight(int(f.inFlight.Add(1)))
	metrics.SetQueueDepth(f.queue.Total())
	f.events.Emit(events.Event{
		Kind:     events.KindDispatched,
		TS:       now,
		URLID:    entry.ID,
		URL:      entry.URL,
		Domain:   entry.Domain,
		WorkerID: workerID,
		LeaseID:  leaseID,
		Method:   a.Method,
		Attempt:  entry.Attempts,
	})
	f.logger.Debug("dispatched",
		zap.String("url_id", entry.ID),
		zap.String("domain", entry.Domain),
		zap.String("worker_id", workerID),
		zap.String("method", string(a.Method)),
	)
	out := a
	out.Entry = a.Entry.Clone()
	return Work{Found: true, Assignment: out}, nil
}

// ReportResult folds a worker's outcome into the entry's lifecycle. Reports
// for unknown URLs or superseded leases are acknowledged and ignored; per-URL
// failures never surface as errors.
func (f *Frontier) ReportResult(ctx context.Context, urlID string, outcome crawler.FetchOutcome) error {
	l, ok := f.claimLease(urlID, outcome.LeaseID)
	if !ok {
		f.logger.Debug("ignoring stale report", zap.String("url_id", urlID), zap.String("lease_id", outcome.LeaseID))
		return nil
	}
	s := f.settings.Load()
	now := f.clock.Now()
	entry := l.assignment.Entry.Clone()
	if outcome.Method == "" {
		outcome.Method = l.assignment.Method
	}

	class := retry.ClassOf(outcome)
	verdict := f.classifier.Classify(entry, outcome, s)
	decision := f.escalation.Advance(entry, outcome, class)
	f.limiter.ReportOutcome(entry.Domain, limiterSignal(class, verdict), limiterRetryAfter(class, outcome), now)
	metrics.ObserveOutcome(verdict.Kind.String(), string(class))

	escalated := decision.Escalated && decision.Rung != entry.Rung
	entry.Rung = decision.Rung
	entry.RenderAttempts = decision.RenderAttempts
	entry.MethodHint = decision.Rung.Method()
	entry.UpdatedAt = now
	if escalated {
		f.events.Emit(events.Event{
			Kind:       events.KindEscalated,
			TS:         now,
			URLID:      entry.ID,
			URL:        entry.URL,
			Domain:     entry.Domain,
			Method:     entry.MethodHint,
			ErrorClass: class,
			Attempt:    entry.Attempts,
		})
	}

	switch {
	case decision.Exhausted:
		return f.finishDeadLetter(ctx, entry, crawler.ReasonAntiBotExhausted, class, outcome, now)
	case verdict.Kind == retry.KindDeadLetter:
		return f.finishDeadLetter(ctx, entry, verdict.Reason, class, outcome, now)
	case verdict.Kind == retry.KindSuccess && escalated:
		// Thin body on the direct rung: fetch again rendered right away.
		return f.requeue(entry, crawler.ErrorClassThinBody, 0, outcome, now)
	case verdict.Kind == retry.KindRetryAfter:
		return f.requeue(entry, class, verdict.Delay, outcome, now)
	default:
		return f.complete(entry, outcome, now)
	}
}

// claimLease removes the lease for urlID exactly once. An empty leaseID
// matches whatever lease is current.
func (f *Frontier) claimLease(urlID, leaseID string) (*lease, bool) {
	v, ok := f.leases.Load(urlID)
	if !ok {
		return nil, false
	}
	l := v.(*lease)
	if leaseID != "" && leaseID != l.assignment.LeaseID {
		return nil, false
	}
	if !f.leases.CompareAndDelete(urlID, l) {
		return nil, false
	}
	metrics.SetInFlight(int(f.inFlight.Add(-1)))
	return l, true
}

func (f *Frontier) requeue(entry crawler.URLEntry, class crawler.ErrorClass, delay time.Duration, outcome crawler.FetchOutcome, now time.Time) error {
	entry.Attempts++
	if entry.CategoryAttempts == nil {
		entry.CategoryAttempts = make(map[crawler.ErrorClass]int)
	}
	entry.CategoryAttempts[class]++
	entry.LastError = class
	entry.State = crawler.StatePending
	entry.NextEligibleAt = now.Add(delay)
	if err := f.queue.Enqueue(entry); err != nil {
		f.logger.Error("requeue failed", zap.String("url_id", entry.ID), zap.Error(err))
		return fmt.Errorf("%w: requeue: %v", crawler.ErrFrontierUnavailable, err)
	}
	f.stats.retried.Add(1)
	metrics.SetQueueDepth(f.queue.Total())
	f.events.Emit(events.Event{
		Kind:       events.KindRetried,
		TS:         now,
		URLID:      entry.ID,
		URL:        entry.URL,
		Domain:     entry.Domain,
		Method:     entry.MethodHint,
		StatusCode: outcome.StatusCode,
		ErrorClass: class,
		Attempt:    entry.Attempts,
		Delay:      delay,
	})
	f.logger.Debug("requeued",
		zap.String("url_id", entry.ID),
		zap.String("domain", entry.Domain),
		zap.String("error_class", string(class)),
		zap.Int("attempt", entry.Attempts),
		zap.Duration("delay", delay),
	)
	f.signalReady()
	return nil
}

func (f *Frontier) complete(entry crawler.URLEntry, outcome crawler.FetchOutcome, now time.Time) error {
	entry.State = crawler.StateCompleted
	entry.LastError = crawler.ErrorClassNone
	f.stats.completed.Add(1)
	f.events.Emit(events.Event{
		Kind:       events.KindCompleted,
		TS:         now,
		URLID:      entry.ID,
		URL:        entry.URL,
		Domain:     entry.Domain,
		Method:     outcome.Method,
		StatusCode: outcome.StatusCode,
		Attempt:    entry.Attempts,
	})
	return nil
}

func (f *Frontier) finishDeadLetter(ctx context.Context, entry crawler.URLEntry, reason string, class crawler.ErrorClass, outcome crawler.FetchOutcome, now time.Time) error {
	entry.State = crawler.StateDeadLettered
	entry.LastError = class
	f.recordDeadLetter(ctx, entry, reason, class, outcome, now)
	return nil
}

func (f *Frontier) recordDeadLetter(ctx context.Context, entry crawler.URLEntry, reason string, class crawler.ErrorClass, outcome crawler.FetchOutcome, now time.Time) {
	f.stats.deadLettered.Add(1)
	metrics.ObserveDeadLetter(reason)
	method := outcome.Method
	if method == "" {
		method = entry.MethodHint
	}
	rec := crawler.DeadLetterRecord{
		URLID:      entry.ID,
		URL:        entry.URL,
		Domain:     entry.Domain,
		Reason:     reason,
		ErrorClass: class,
		StatusCode: outcome.StatusCode,
		Attempts:   entry.Attempts,
		Method:     method,
		RecordedAt: now,
	}
	if f.deadLetters != nil {
		if err := f.deadLetters.Record(context.WithoutCancel(ctx), rec); err != nil {
			f.logger.Error("dead-letter record failed", zap.String("url_id", entry.ID), zap.String("reason", reason), zap.Error(err))
		}
	}
	f.events.Emit(events.Event{
		Kind:       events.KindDeadLettered,
		TS:         now,
		URLID:      entry.ID,
		URL:        entry.URL,
		Domain:     entry.Domain,
		Method:     method,
		StatusCode: outcome.StatusCode,
		ErrorClass: class,
		Attempt:    entry.Attempts,
		Reason:     reason,
	})
	f.logger.Info("dead-lettered",
		zap.String("url", entry.URL),
		zap.String("domain", entry.Domain),
		zap.String("reason", reason),
		zap.Int("attempts", entry.Attempts),
	)
}

func (f *Frontier) reject(urlID, rawURL, domain, reason string) {
	f.events.Emit(events.Event{
		Kind:   events.KindRejected,
		TS:     f.clock.Now(),
		URLID:  urlID,
		URL:    rawURL,
		Domain: domain,
		Reason: reason,
	})
}

// SweepLeases returns every lease that expired at or before now to Pending.
// Each lease is released exactly once even when a late report races the sweep.
func (f *Frontier) SweepLeases(ctx context.Context, now time.Time) int {
	s := f.settings.Load()
	var expired []*lease
	f.leases.Range(func(key, value any) bool {
		l := value.(*lease)
		if now.Before(l.assignment.ExpiresAt) {
			return true
		}
		if f.leases.CompareAndDelete(key, l) {
			metrics.SetInFlight(int(f.inFlight.Add(-1)))
			expired = append(expired, l)
		}
		return true
	})

	for _, l := range expired {
		entry := l.assignment.Entry.Clone()
		f.stats.leaseExpired.Add(1)
		metrics.ObserveLeaseExpired()
		f.events.Emit(events.Event{
			Kind:     events.KindLeaseExpired,
			TS:       now,
			URLID:    entry.ID,
			URL:      entry.URL,
			Domain:   entry.Domain,
			WorkerID: l.assignment.WorkerID,
			LeaseID:  l.assignment.LeaseID,
			Attempt:  entry.Attempts,
		})
		f.logger.Warn("lease expired",
			zap.String("url_id", entry.ID),
			zap.String("worker_id", l.assignment.WorkerID),
			zap.String("lease_id", l.assignment.LeaseID),
		)
		if s.MaxAttempts > 0 && entry.Attempts+1 > s.MaxAttempts {
			entry.State = crawler.StateDeadLettered
			f.recordDeadLetter(ctx, entry, crawler.ReasonMaxAttempts, crawler.ErrorClassLease, crawler.FetchOutcome{}, now)
			continue
		}
		if err := f.requeue(entry, crawler.ErrorClassLease, 0, crawler.FetchOutcome{}, now); err != nil {
			f.logger.Error("lease requeue failed", zap.String("url_id", entry.ID), zap.Error(err))
		}
	}
	return len(expired)
}

// RunSweeper calls SweepLeases every interval until ctx is done.
func (f *Frontier) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := f.SweepLeases(ctx, f.clock.Now()); n > 0 {
				f.logger.Info("swept expired leases", zap.Int("count", n))
			}
		}
	}
}

// Ready returns a channel closed the next time work may have become
// available (a submit, a requeue or a released lease).
func (f *Frontier) Ready() <-chan struct{} {
	f.readyMu.Lock()
	defer f.readyMu.Unlock()
	return f.readyCh
}

func (f *Frontier) signalReady() {
	f.readyMu.Lock()
	close(f.readyCh)
	f.readyCh = make(chan struct{})
	f.readyMu.Unlock()
}

// Stats reports current counters.
func (f *Frontier) Stats() Stats {
	_, domains := f.queue.DomainAt(0)
	return Stats{
		Pending:         f.queue.Total(),
		InFlight:        int(f.inFlight.Load()),
		Domains:         domains,
		Submitted:       f.stats.submitted.Load(),
		Duplicates:      f.stats.duplicates.Load(),
		Rejected:        f.stats.rejected.Load(),
		Dispatched:      f.stats.dispatched.Load(),
		Completed:       f.stats.completed.Load(),
		Retried:         f.stats.retried.Load(),
		DeadLettered:    f.stats.deadLettered.Load(),
		LeaseExpired:    f.stats.leaseExpired.Load(),
		SettingsVersion: f.settings.Load().Version,
	}
}

// Limiter exposes the rate limiter, mainly for state inspection.
func (f *Frontier) Limiter() *ratelimit.Limiter {
	return f.limiter
}

func (f *Frontier) urlID(canonical string) (string, error) {
	sum, err := f.hasher.Hash([]byte(canonical))
	if err != nil {
		return "", fmt.Errorf("hash url: %w", err)
	}
	if len(sum) > idLength {
		sum = sum[:idLength]
	}
	return sum, nil
}

func limiterSignal(class crawler.ErrorClass, v retry.Verdict) ratelimit.Signal {
	switch {
	case v.Throttle:
		return ratelimit.SignalThrottle
	case class == crawler.ErrorClassNone:
		return ratelimit.SignalSuccess
	default:
		return ratelimit.SignalFailure
	}
}

func limiterRetryAfter(class crawler.ErrorClass, o crawler.FetchOutcome) time.Duration {
	if class == crawler.ErrorClassThrottled {
		return o.RetryAfter
	}
	return 0
}
