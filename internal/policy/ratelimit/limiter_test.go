package ratelimit

import (
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-frontier/internal/crawler"
)

var t0 = time.Unix(1700000000, 0).UTC()

func newLimiter(mutate func(*crawler.Settings)) (*Limiter, *crawler.SettingsHolder) {
	s := crawler.DefaultSettings()
	s.DefaultCrawlDelay = time.Second
	s.MaxDelay = 16 * time.Second
	s.DecayAfter = 3
	if mutate != nil {
		mutate(&s)
	}
	holder := crawler.NewSettingsHolder(s)
	return New(holder), holder
}

func TestTryAcquireSpacesGrantsByCrawlDelay(t *testing.T) {
	t.Parallel()

	l, _ := newLimiter(nil)
	ok, _ := l.TryAcquire("a.example", t0)
	require.True(t, ok)

	ok, wait := l.TryAcquire("a.example", t0.Add(400*time.Millisecond))
	require.False(t, ok)
	require.Equal(t, 600*time.Millisecond, wait)

	ok, _ = l.TryAcquire("a.example", t0.Add(time.Second))
	require.True(t, ok)
}

func TestDomainsAreIndependent(t *testing.T) {
	t.Parallel()

	l, _ := newLimiter(nil)
	ok, _ := l.TryAcquire("a.example", t0)
	require.True(t, ok)
	ok, _ = l.TryAcquire("b.example", t0)
	require.True(t, ok)
}

func TestPolitenessUnderConcurrentRequesters(t *testing.T) {
	t.Parallel()

	const delay = 20 * time.Millisecond
	l, _ := newLimiter(func(s *crawler.Settings) { s.DefaultCrawlDelay = delay })

	var (
		mu     sync.Mutex
		grants []time.Time
		wg     sync.WaitGroup
	)
	deadline := time.Now().Add(300 * time.Millisecond)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(deadline) {
				now := time.Now()
				if ok, _ := l.TryAcquire("busy.example", now); ok {
					mu.Lock()
					grants = append(grants, now)
					mu.Unlock()
				}
				time.Sleep(time.Millisecond)
			}
		}()
	}
	wg.Wait()

	require.NotEmpty(t, grants)
	sort.Slice(grants, func(i, j int) bool { return grants[i].Before(grants[j]) })
	for i := 1; i < len(grants); i++ {
		gap := grants[i].Sub(grants[i-1])
		require.GreaterOrEqual(t, gap, delay, "grants %d and %d only %v apart", i-1, i, gap)
	}
}

func TestThrottleBackoffIsMonotonicAndCapped(t *testing.T) {
	t.Parallel()

	l, _ := newLimiter(nil)
	prev := l.EffectiveDelay("a.example")
	require.Equal(t, time.Second, prev)
	for k := 1; k <= 8; k++ {
		l.ReportOutcome("a.example", SignalThrottle, 0, t0)
		cur := l.EffectiveDelay("a.example")
		require.GreaterOrEqual(t, cur, prev, "delay shrank after throttle %d", k)
		require.LessOrEqual(t, cur, 16*time.Second)
		prev = cur
	}
	require.Equal(t, 16*time.Second, prev)
}

func TestSuccessDecaysSlowlyToFloor(t *testing.T) {
	t.Parallel()

	l, _ := newLimiter(nil)
	l.ReportOutcome("a.example", SignalThrottle, 0, t0)
	require.Equal(t, 2*time.Second, l.EffectiveDelay("a.example"))

	l.ReportOutcome("a.example", SignalSuccess, 0, t0)
	l.ReportOutcome("a.example", SignalSuccess, 0, t0)
	require.Equal(t, 2*time.Second, l.EffectiveDelay("a.example"), "no decay before the streak completes")
	l.ReportOutcome("a.example", SignalSuccess, 0, t0)
	require.Equal(t, 1800*time.Millisecond, l.EffectiveDelay("a.example"))

	for i := 0; i < 300; i++ {
		l.ReportOutcome("a.example", SignalSuccess, 0, t0)
	}
	require.Equal(t, time.Second, l.EffectiveDelay("a.example"))
	st, ok := l.State("a.example", t0)
	require.True(t, ok)
	require.InDelta(t, 1.0, st.BackoffMultiplier, 1e-9)
}

func TestFailureBreaksSuccessStreak(t *testing.T) {
	t.Parallel()

	l, _ := newLimiter(nil)
	l.ReportOutcome("a.example", SignalThrottle, 0, t0)
	l.ReportOutcome("a.example", SignalSuccess, 0, t0)
	l.ReportOutcome("a.example", SignalSuccess, 0, t0)
	l.ReportOutcome("a.example", SignalFailure, 0, t0)
	l.ReportOutcome("a.example", SignalSuccess, 0, t0)
	require.Equal(t, 2*time.Second, l.EffectiveDelay("a.example"))

	st, _ := l.State("a.example", t0)
	require.Equal(t, 0, st.ConsecutiveFailures)
	require.Equal(t, 1, st.ConsecutiveSuccesses)
}

func TestRetryAfterPausesDomain(t *testing.T) {
	t.Parallel()

	l, _ := newLimiter(nil)
	l.ReportOutcome("d.example", SignalThrottle, 30*time.Second, t0)

	ok, wait := l.TryAcquire("d.example", t0.Add(29*time.Second))
	require.False(t, ok)
	require.Equal(t, time.Second, wait)
	require.False(t, l.NextGrantAt("d.example", t0).Before(t0.Add(30*time.Second)))

	ok, _ = l.TryAcquire("d.example", t0.Add(30*time.Second))
	require.True(t, ok)
}

func TestRobotsCrawlDelayForcesSingleBurst(t *testing.T) {
	t.Parallel()

	l, _ := newLimiter(func(s *crawler.Settings) { s.Burst = 3 })

	granted := 0
	for i := 0; i < 3; i++ {
		if ok, _ := l.TryAcquire("bursty.example", t0); ok {
			granted++
		}
	}
	require.Equal(t, 3, granted)

	l.SetCrawlDelay("polite.example", 5*time.Second)
	ok, _ := l.TryAcquire("polite.example", t0)
	require.True(t, ok)
	ok, wait := l.TryAcquire("polite.example", t0)
	require.False(t, ok)
	require.Equal(t, 5*time.Second, wait)
}

func TestSettingsReloadTakesEffectOnNextCall(t *testing.T) {
	t.Parallel()

	l, holder := newLimiter(nil)
	ok, _ := l.TryAcquire("a.example", t0)
	require.True(t, ok)

	next := *holder.Load()
	next.DefaultCrawlDelay = 4 * time.Second
	holder.Store(next)

	ok, wait := l.TryAcquire("a.example", t0.Add(time.Second))
	require.False(t, ok)
	require.Equal(t, 3*time.Second, wait)
}

func TestOverrideDelayWins(t *testing.T) {
	t.Parallel()

	l, _ := newLimiter(func(s *crawler.Settings) {
		s.Overrides = map[string]crawler.DomainOverride{"slow.example": {CrawlDelay: 10 * time.Second}}
	})
	l.SetCrawlDelay("slow.example", 2*time.Second)
	require.Equal(t, 10*time.Second, l.EffectiveDelay("slow.example"))
}

func TestRestoreKeepsBackoffAndSpacing(t *testing.T) {
	t.Parallel()

	src, _ := newLimiter(nil)
	ok, _ := src.TryAcquire("a.example", t0)
	require.True(t, ok)
	src.ReportOutcome("a.example", SignalThrottle, 0, t0)
	src.SetCrawlDelay("a.example", 2*time.Second)

	dst, _ := newLimiter(nil)
	dst.Restore(src.States(t0))

	require.Equal(t, 4*time.Second, dst.EffectiveDelay("a.example"))
	ok, _ = dst.TryAcquire("a.example", t0.Add(time.Second))
	require.False(t, ok)
	ok, _ = dst.TryAcquire("a.example", t0.Add(4*time.Second))
	require.True(t, ok)
}
