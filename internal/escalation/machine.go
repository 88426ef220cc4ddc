// Package escalation tracks the per-URL fetch-method ladder and the sticky
// per-pattern profiles that let new URLs start on the rendered rung.
package escalation

import (
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/JakeFAU/crawl-frontier/internal/crawler"
	"github.com/JakeFAU/crawl-frontier/internal/metrics"
)

// Decision is the ladder position after an outcome.
type Decision struct {
	Rung           crawler.Rung
	RenderAttempts int
	// Escalated is set when this outcome moved the entry up a rung.
	Escalated bool
	// Exhausted is set once the ladder is spent; the entry must be dead-lettered.
	Exhausted bool
}

// Profile is the persisted escalation memory for one host and path pattern.
type Profile struct {
	Key               string `json:"key"`
	NeedsRender       bool   `json:"needs_render"`
	RenderedSuccesses int    `json:"rendered_successes"`
}

// Machine owns escalation profiles. Ladder state for an individual URL lives
// on its entry.
type Machine struct {
	settings *crawler.SettingsHolder

	mu       sync.Mutex
	profiles map[string]*Profile
}

// New builds a Machine.
func New(settings *crawler.SettingsHolder) *Machine {
	return &Machine{
		settings: settings,
		profiles: make(map[string]*Profile),
	}
}

// InitialRung picks the starting rung for a newly submitted URL.
func (m *Machine) InitialRung(domain, host, path string) crawler.Rung {
	s := m.settings.Load()
	if o, ok := s.Override(domain); ok && o.StartRendered {
		return crawler.RungRendered
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[profileKey(host, path)]
	if !ok || !p.NeedsRender {
		return crawler.RungDirect
	}
	if s.ReprobeEvery > 0 && p.RenderedSuccesses >= s.ReprobeEvery {
		p.RenderedSuccesses = 0
		return crawler.RungDirect
	}
	return crawler.RungRendered
}

// Advance applies an outcome to entry's ladder position. class is the
// classifier's error class for the outcome.
func (m *Machine) Advance(entry crawler.URLEntry, o crawler.FetchOutcome, class crawler.ErrorClass) Decision {
	s := m.settings.Load()
	rung := entry.Rung
	if rung == "" {
		rung = crawler.RungDirect
	}
	d := Decision{Rung: rung, RenderAttempts: entry.RenderAttempts}
	key := profileKey(entry.Host, pathOf(entry.URL))

	switch rung {
	case crawler.RungDirect:
		if class == crawler.ErrorClassChallenge || thinSuccess(o, class, s.SmallBodyBytes) {
			d.Rung = crawler.RungRendered
			d.RenderAttempts = 0
			d.Escalated = true
			m.markNeedsRender(key)
			metrics.ObserveEscalation(string(crawler.RungRendered))
			return d
		}
		if class == crawler.ErrorClassNone {
			m.clearNeedsRender(key)
		}
	case crawler.RungRendered:
		switch class {
		case crawler.ErrorClassNone:
			m.recordRenderedSuccess(key)
		case crawler.ErrorClassChallenge, crawler.ErrorClassMalformed:
			// Only a render that still could not get past the block counts
			// toward the cap; other classes follow the retry table.
			d.RenderAttempts++
			if s.RenderRetryCap > 0 && d.RenderAttempts >= s.RenderRetryCap {
				d.Rung = crawler.RungExhausted
				d.Exhausted = true
				metrics.ObserveEscalation(string(crawler.RungExhausted))
			}
		}
	case crawler.RungExhausted:
		d.Exhausted = true
	}
	return d
}

// Profiles returns every profile sorted by key.
func (m *Machine) Profiles() []Profile {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Profile, 0, len(m.profiles))
	for _, p := range m.profiles {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Restore replaces the profile set.
func (m *Machine) Restore(profiles []Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles = make(map[string]*Profile, len(profiles))
	for _, p := range profiles {
		cp := p
		m.profiles[p.Key] = &cp
	}
}

func (m *Machine) markNeedsRender(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.profile(key)
	p.NeedsRender = true
	p.RenderedSuccesses = 0
}

func (m *Machine) clearNeedsRender(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.profiles[key]; ok {
		p.NeedsRender = false
		p.RenderedSuccesses = 0
	}
}

func (m *Machine) recordRenderedSuccess(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.profile(key)
	p.NeedsRender = true
	p.RenderedSuccesses++
}

func (m *Machine) profile(key string) *Profile {
	p, ok := m.profiles[key]
	if !ok {
		p = &Profile{Key: key}
		m.profiles[key] = p
	}
	return p
}

func thinSuccess(o crawler.FetchOutcome, class crawler.ErrorClass, smallBody int) bool {
	if class != crawler.ErrorClassNone || o.StatusCode == http.StatusNoContent {
		return false
	}
	return o.ThinBody || (smallBody > 0 && o.Bytes < int64(smallBody))
}

func profileKey(host, path string) string {
	return strings.ToLower(host) + crawler.PathPattern(path)
}

func pathOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "/"
	}
	return u.Path
}
