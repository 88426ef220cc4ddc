package crawler

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DomainOverride is per-domain special handling keyed by domain.
type DomainOverride struct {
	CrawlDelay    time.Duration `json:"crawl_delay" mapstructure:"crawl_delay"`
	Burst         int           `json:"burst" mapstructure:"burst"`
	StartRendered bool          `json:"start_rendered" mapstructure:"start_rendered"`
}

// Settings is an immutable configuration snapshot read by every frontier
// operation. Callers must not mutate a snapshot obtained from a SettingsHolder.
type Settings struct {
	Version uint64

	UserAgent         string
	DefaultCrawlDelay time.Duration
	MaxDelay          time.Duration
	Burst             int
	BackoffFactor     float64
	DecayFactor       float64
	DecayAfter        int

	MaxAttempts          int
	ThrottleMaxAttempts  int
	ChallengeMaxAttempts int
	TransportMaxAttempts int
	ServerMaxAttempts    int
	MalformedMaxAttempts int
	RetryBaseDelay       time.Duration
	RetryMaxDelay        time.Duration
	RetryJitter          bool
	MaxRetryAfter        time.Duration

	LeaseTimeout   time.Duration
	RenderRetryCap int
	SmallBodyBytes int
	ReprobeEvery   int

	RobotsTTL          time.Duration
	RobotsFailureRetry time.Duration

	MinWaitHint time.Duration
	MaxWaitHint time.Duration

	GroupByRegistrableDomain bool
	Overrides                map[string]DomainOverride
}

// DefaultSettings returns the settings used when no configuration is supplied.
func DefaultSettings() Settings {
	return Settings{
		UserAgent:            "crawl-frontier-bot/1.0",
		DefaultCrawlDelay:    time.Second,
		MaxDelay:             5 * time.Minute,
		Burst:                1,
		BackoffFactor:        2.0,
		DecayFactor:          0.9,
		DecayAfter:           10,
		MaxAttempts:          8,
		ThrottleMaxAttempts:  6,
		ChallengeMaxAttempts: 3,
		TransportMaxAttempts: 5,
		ServerMaxAttempts:    5,
		MalformedMaxAttempts: 2,
		RetryBaseDelay:       time.Second,
		RetryMaxDelay:        5 * time.Minute,
		RetryJitter:          true,
		MaxRetryAfter:        time.Hour,
		LeaseTimeout:         2 * time.Minute,
		RenderRetryCap:       2,
		SmallBodyBytes:       512,
		ReprobeEvery:         20,
		RobotsTTL:            24 * time.Hour,
		RobotsFailureRetry:   time.Hour,
		MinWaitHint:          50 * time.Millisecond,
		MaxWaitHint:          30 * time.Second,
	}
}

// Override implements DomainOverrides.
func (s *Settings) Override(domain string) (DomainOverride, bool) {
	if s == nil || len(s.Overrides) == 0 {
		return DomainOverride{}, false
	}
	o, ok := s.Overrides[strings.ToLower(domain)]
	return o, ok
}

// CrawlDelayFor resolves the base crawl-delay for a domain: an override wins,
// then the robots.txt directive, then the default.
func (s *Settings) CrawlDelayFor(domain string, robotsDelay time.Duration) time.Duration {
	if o, ok := s.Override(domain); ok && o.CrawlDelay > 0 {
		return o.CrawlDelay
	}
	if robotsDelay > 0 {
		return robotsDelay
	}
	return s.DefaultCrawlDelay
}

// ClampWait bounds a retry hint to the configured window.
func (s *Settings) ClampWait(d time.Duration) time.Duration {
	if d < s.MinWaitHint {
		return s.MinWaitHint
	}
	if s.MaxWaitHint > 0 && d > s.MaxWaitHint {
		return s.MaxWaitHint
	}
	return d
}

// SettingsHolder publishes versioned settings snapshots. Store swaps the
// snapshot atomically; operations already holding the old one finish with it.
type SettingsHolder struct {
	mu      sync.Mutex
	current atomic.Pointer[Settings]
	version uint64
}

// NewSettingsHolder seeds the holder with an initial snapshot.
func NewSettingsHolder(initial Settings) *SettingsHolder {
	h := &SettingsHolder{}
	h.Store(initial)
	return h
}

// Load returns the current snapshot.
func (h *SettingsHolder) Load() *Settings {
	return h.current.Load()
}

// Store installs a new snapshot and returns its version.
func (h *SettingsHolder) Store(s Settings) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.version++
	s.Version = h.version
	if s.Overrides != nil {
		overrides := make(map[string]DomainOverride, len(s.Overrides))
		for k, v := range s.Overrides {
			overrides[strings.ToLower(k)] = v
		}
		s.Overrides = overrides
	}
	h.current.Store(&s)
	return s.Version
}
