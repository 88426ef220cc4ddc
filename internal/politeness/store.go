// Package politeness caches robots.txt rules per origin and answers allow
// checks for the frontier.
package politeness

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/crawl-frontier/internal/crawler"
	"github.com/JakeFAU/crawl-frontier/internal/metrics"
)

// Rules is the parsed robots.txt for one origin.
type Rules struct {
	Origin     string
	StatusCode int
	FetchedAt  time.Time
	ExpiresAt  time.Time
	// Stale is set when a refresh failed and previously cached rules were kept.
	Stale bool
	// AllowAll is set when no usable robots.txt exists.
	AllowAll bool

	data *robotstxt.RobotsData
}

// Allowed reports whether userAgent may fetch path. The most specific
// matching rule wins.
func (r *Rules) Allowed(path, userAgent string) bool {
	if r == nil || r.AllowAll || r.data == nil {
		return true
	}
	if path == "" {
		path = "/"
	}
	return r.data.TestAgent(path, userAgent)
}

// CrawlDelay returns the Crawl-delay directive for userAgent, or zero.
func (r *Rules) CrawlDelay(userAgent string) time.Duration {
	if r == nil || r.data == nil {
		return 0
	}
	group := r.data.FindGroup(userAgent)
	if group == nil {
		return 0
	}
	return group.CrawlDelay
}

// Store caches robots.txt rules and refreshes them through a RobotsFetcher.
type Store struct {
	fetcher  crawler.RobotsFetcher
	settings *crawler.SettingsHolder
	clock    crawler.Clock
	logger   *zap.Logger

	mu    sync.RWMutex
	rules map[string]*Rules
	group singleflight.Group
}

// NewStore constructs a Store.
func NewStore(fetcher crawler.RobotsFetcher, settings *crawler.SettingsHolder, clock crawler.Clock, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		fetcher:  fetcher,
		settings: settings,
		clock:    clock,
		logger:   logger.Named("politeness"),
		rules:    make(map[string]*Rules),
	}
}

// GetRules returns cached rules for origin ("scheme://host"), refreshing them
// when absent or expired. Concurrent refreshes of one origin share a single
// fetch. Fetch failures never surface: the store falls back to stale rules or
// allow-all. The only error is a cancelled context.
func (s *Store) GetRules(ctx context.Context, origin string) (*Rules, error) {
	key := strings.ToLower(origin)
	now := s.clock.Now()

	s.mu.RLock()
	cached, ok := s.rules[key]
	s.mu.RUnlock()
	if ok && now.Before(cached.ExpiresAt) {
		return cached, nil
	}

	ch := s.group.DoChan(key, func() (any, error) {
		return s.refresh(context.WithoutCancel(ctx), key), nil
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("robots rules for %s: %w", key, ctx.Err())
	case res := <-ch:
		rules, _ := res.Val.(*Rules)
		return rules, nil
	}
}

// IsAllowed reports whether path on origin may be fetched by userAgent.
func (s *Store) IsAllowed(ctx context.Context, origin, path, userAgent string) (bool, error) {
	rules, err := s.GetRules(ctx, origin)
	if err != nil {
		return false, err
	}
	return rules.Allowed(path, userAgent), nil
}

// Invalidate drops cached rules for origin.
func (s *Store) Invalidate(origin string) {
	s.mu.Lock()
	delete(s.rules, strings.ToLower(origin))
	s.mu.Unlock()
}

func (s *Store) refresh(ctx context.Context, key string) *Rules {
	cfg := s.settings.Load()
	now := s.clock.Now()

	s.mu.RLock()
	previous := s.rules[key]
	s.mu.RUnlock()
	if previous != nil && now.Before(previous.ExpiresAt) {
		return previous
	}

	resp, err := s.fetcher.FetchRobots(ctx, key)
	var data *robotstxt.RobotsData
	if err == nil {
		switch {
		case resp.StatusCode >= http.StatusInternalServerError:
			err = fmt.Errorf("robots status %d", resp.StatusCode)
		default:
			data, err = robotstxt.FromStatusAndBytes(resp.StatusCode, resp.Body)
			if err != nil {
				err = fmt.Errorf("parse robots: %w", err)
			}
		}
	}

	var rules *Rules
	switch {
	case err == nil:
		metrics.ObserveRobotsFetch("ok")
		rules = &Rules{
			Origin:     key,
			StatusCode: resp.StatusCode,
			FetchedAt:  now,
			ExpiresAt:  now.Add(cfg.RobotsTTL),
			AllowAll:   resp.StatusCode >= http.StatusBadRequest,
			data:       data,
		}
	case previous != nil:
		metrics.ObserveRobotsFetch("stale")
		s.logger.Warn("robots refresh failed; keeping stale rules", zap.String("origin", key), zap.Error(err))
		kept := *previous
		kept.Stale = true
		kept.ExpiresAt = now.Add(cfg.RobotsFailureRetry)
		rules = &kept
	default:
		metrics.ObserveRobotsFetch("error")
		s.logger.Warn("robots fetch failed; allowing access", zap.String("origin", key), zap.Error(err))
		rules = &Rules{
			Origin:    key,
			FetchedAt: now,
			ExpiresAt: now.Add(cfg.RobotsFailureRetry),
			AllowAll:  true,
		}
	}

	s.mu.Lock()
	s.rules[key] = rules
	s.mu.Unlock()
	return rules
}

// Origin builds the robots cache key for a URL scheme and host.
func Origin(scheme, host string) string {
	if scheme == "" {
		scheme = "https"
	}
	return strings.ToLower(scheme + "://" + host)
}
