package politeness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-frontier/internal/crawler"
	"github.com/JakeFAU/crawl-frontier/internal/metrics"
)

const maxRobotsBody = 1 << 20

var robotsRetryBackoff = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

// HTTPFetcher retrieves robots.txt over HTTP.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
	backoff   []time.Duration
	logger    *zap.Logger
}

// NewHTTPFetcher builds an HTTPFetcher. A nil client gets a 10s timeout client.
func NewHTTPFetcher(client *http.Client, userAgent string, logger *zap.Logger) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPFetcher{
		client:    client,
		userAgent: userAgent,
		backoff:   robotsRetryBackoff,
		logger:    logger,
	}
}

// FetchRobots implements crawler.RobotsFetcher. origin is "scheme://host"; a
// bare host is fetched over https. Transient TLS handshake failures are
// retried with a fixed backoff before giving up.
func (f *HTTPFetcher) FetchRobots(ctx context.Context, origin string) (crawler.RobotsResponse, error) {
	if !strings.Contains(origin, "://") {
		origin = "https://" + origin
	}
	robotsURL := strings.TrimRight(origin, "/") + "/robots.txt"

	maxAttempts := len(f.backoff) + 1
	for attempt := 0; attempt < maxAttempts; attempt++ {
		resp, err := f.fetchOnce(ctx, robotsURL)
		if err == nil {
			return resp, nil
		}
		if !isTransientTLSError(err) || attempt == maxAttempts-1 {
			if isTransientTLSError(err) {
				metrics.ObserveProbeTLSHandshakeTimeout()
			}
			return crawler.RobotsResponse{}, err
		}
		f.logger.Debug("robots fetch transient failure; retrying",
			zap.String("url", robotsURL), zap.Int("attempt", attempt+1), zap.Error(err))
		if err := sleepWithContext(ctx, f.backoff[attempt]); err != nil {
			return crawler.RobotsResponse{}, err
		}
	}
	return crawler.RobotsResponse{}, fmt.Errorf("robots fetch %s exhausted retries", robotsURL)
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context, robotsURL string) (crawler.RobotsResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return crawler.RobotsResponse{}, fmt.Errorf("new robots request: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return crawler.RobotsResponse{}, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			f.logger.Debug("Failed to close robots response body", zap.Error(cerr))
		}
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBody))
	if err != nil {
		return crawler.RobotsResponse{}, fmt.Errorf("read robots body: %w", err)
	}
	return crawler.RobotsResponse{StatusCode: resp.StatusCode, Body: body}, nil
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("robots backoff sleep context: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func isTransientTLSError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}
