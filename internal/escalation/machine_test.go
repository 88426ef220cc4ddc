package escalation

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-frontier/internal/crawler"
	"github.com/JakeFAU/crawl-frontier/internal/retry"
)

func newMachine(mutate func(*crawler.Settings)) *Machine {
	s := crawler.DefaultSettings()
	if mutate != nil {
		mutate(&s)
	}
	return New(crawler.NewSettingsHolder(s))
}

func entry(rawURL string, rung crawler.Rung, renderAttempts int) crawler.URLEntry {
	return crawler.URLEntry{ID: "u", URL: rawURL, Host: "shop.example", Domain: "shop.example", Rung: rung, RenderAttempts: renderAttempts}
}

func advance(m *Machine, e crawler.URLEntry, o crawler.FetchOutcome) Decision {
	return m.Advance(e, o, retry.ClassOf(o))
}

func TestChallengeEscalatesToRendered(t *testing.T) {
	t.Parallel()

	m := newMachine(nil)
	d := advance(m, entry("https://shop.example/p/1", crawler.RungDirect, 0), crawler.FetchOutcome{StatusCode: 403})
	require.True(t, d.Escalated)
	require.Equal(t, crawler.RungRendered, d.Rung)
	require.False(t, d.Exhausted)
}

func TestThinBodyEscalates(t *testing.T) {
	t.Parallel()

	m := newMachine(nil)
	d := advance(m, entry("https://shop.example/p/1", crawler.RungDirect, 0), crawler.FetchOutcome{StatusCode: 200, Bytes: 100})
	require.True(t, d.Escalated)

	d = advance(m, entry("https://shop.example/q/1", crawler.RungDirect, 0), crawler.FetchOutcome{StatusCode: 200, Bytes: 4096, ThinBody: true})
	require.True(t, d.Escalated)

	d = advance(m, entry("https://shop.example/r/1", crawler.RungDirect, 0), crawler.FetchOutcome{StatusCode: 200, Bytes: 4096})
	require.False(t, d.Escalated)
	require.Equal(t, crawler.RungDirect, d.Rung)
}

func TestTransportFailureDoesNotEscalate(t *testing.T) {
	t.Parallel()

	m := newMachine(nil)
	d := advance(m, entry("https://shop.example/p/1", crawler.RungDirect, 0), crawler.FetchOutcome{Transport: crawler.TransportTimeout})
	require.False(t, d.Escalated)
	require.Equal(t, crawler.RungDirect, d.Rung)
}

func TestRenderedFailuresExhaustLadder(t *testing.T) {
	t.Parallel()

	m := newMachine(nil)
	e := entry("https://shop.example/p/1", crawler.RungRendered, 0)

	d := advance(m, e, crawler.FetchOutcome{StatusCode: 429})
	require.Equal(t, 0, d.RenderAttempts, "throttling does not consume render attempts")

	d = advance(m, e, crawler.FetchOutcome{StatusCode: 200, Challenge: true})
	require.Equal(t, 1, d.RenderAttempts)
	require.False(t, d.Exhausted)

	e.RenderAttempts = d.RenderAttempts
	d = advance(m, e, crawler.FetchOutcome{StatusCode: 403})
	require.True(t, d.Exhausted)
	require.Equal(t, crawler.RungExhausted, d.Rung)

	e.Rung = crawler.RungExhausted
	d = advance(m, e, crawler.FetchOutcome{StatusCode: 200, Bytes: 10000})
	require.True(t, d.Exhausted, "exhausted is terminal")
}

func TestRenderedNonBlockFailuresKeepRenderAttempts(t *testing.T) {
	t.Parallel()

	m := newMachine(func(s *crawler.Settings) { s.RenderRetryCap = 1 })
	e := entry("https://shop.example/p/1", crawler.RungRendered, 0)
	for _, o := range []crawler.FetchOutcome{
		{Transport: crawler.TransportTimeout},
		{StatusCode: 502},
		{StatusCode: 404},
		{StatusCode: 301, RedirectsExhausted: true},
	} {
		d := advance(m, e, o)
		require.Zero(t, d.RenderAttempts, "outcome %+v", o)
		require.False(t, d.Exhausted, "outcome %+v", o)
		require.Equal(t, crawler.RungRendered, d.Rung)
	}

	d := advance(m, e, crawler.FetchOutcome{StatusCode: 200, Malformed: true})
	require.True(t, d.Exhausted, "malformed render counts toward the cap")
}

func TestLadderIsBounded(t *testing.T) {
	t.Parallel()

	m := newMachine(nil)
	e := entry("https://shop.example/p/1", crawler.RungDirect, 0)
	challenge := crawler.FetchOutcome{StatusCode: 403}
	for step := 0; step < 10; step++ {
		d := advance(m, e, challenge)
		if d.Exhausted {
			require.LessOrEqual(t, step, 3)
			return
		}
		e.Rung, e.RenderAttempts = d.Rung, d.RenderAttempts
	}
	t.Fatal("ladder never exhausted")
}

func TestStickyProfileAndReprobe(t *testing.T) {
	t.Parallel()

	m := newMachine(func(s *crawler.Settings) { s.ReprobeEvery = 2 })
	require.Equal(t, crawler.RungDirect, m.InitialRung("shop.example", "shop.example", "/p/1"))

	advance(m, entry("https://shop.example/p/1", crawler.RungDirect, 0), crawler.FetchOutcome{StatusCode: 403})
	require.Equal(t, crawler.RungRendered, m.InitialRung("shop.example", "shop.example", "/p/2"))
	require.Equal(t, crawler.RungDirect, m.InitialRung("shop.example", "shop.example", "/blog/1"), "other patterns are unaffected")

	ok := crawler.FetchOutcome{StatusCode: 200, Bytes: 20000}
	advance(m, entry("https://shop.example/p/1", crawler.RungRendered, 0), ok)
	require.Equal(t, crawler.RungRendered, m.InitialRung("shop.example", "shop.example", "/p/3"))
	advance(m, entry("https://shop.example/p/2", crawler.RungRendered, 0), ok)

	require.Equal(t, crawler.RungDirect, m.InitialRung("shop.example", "shop.example", "/p/4"), "re-probe after enough rendered successes")
	require.Equal(t, crawler.RungRendered, m.InitialRung("shop.example", "shop.example", "/p/5"))

	advance(m, entry("https://shop.example/p/4", crawler.RungDirect, 0), ok)
	require.Equal(t, crawler.RungDirect, m.InitialRung("shop.example", "shop.example", "/p/6"), "successful probe clears the profile")
}

func TestStartRenderedOverride(t *testing.T) {
	t.Parallel()

	m := newMachine(func(s *crawler.Settings) {
		s.Overrides = map[string]crawler.DomainOverride{"spa.example": {StartRendered: true}}
	})
	require.Equal(t, crawler.RungRendered, m.InitialRung("spa.example", "www.spa.example", "/"))
}

func TestProfilesRoundTrip(t *testing.T) {
	t.Parallel()

	m := newMachine(nil)
	advance(m, entry("https://shop.example/p/1", crawler.RungDirect, 0), crawler.FetchOutcome{StatusCode: 403})
	profiles := m.Profiles()
	require.Equal(t, []Profile{{Key: "shop.example/p", NeedsRender: true}}, profiles)

	restored := newMachine(nil)
	restored.Restore(profiles)
	require.Equal(t, crawler.RungRendered, restored.InitialRung("shop.example", "shop.example", "/p/9"))
}
