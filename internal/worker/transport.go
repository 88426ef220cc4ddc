package worker

import (
	"context"
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/JakeFAU/crawl-frontier/internal/crawler"
)

// ClassifyTransport maps a fetch error to the transport class reported to
// the frontier.
func ClassifyTransport(err error) crawler.TransportError {
	if err == nil {
		return crawler.TransportNone
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return crawler.TransportDNS
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return crawler.TransportTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return crawler.TransportTimeout
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		strings.Contains(err.Error(), "connection reset") {
		return crawler.TransportReset
	}
	return crawler.TransportOther
}

// maxRetryAfterSeconds keeps delta-seconds within time.Duration.
const maxRetryAfterSeconds = int64(math.MaxInt64 / time.Second)

// ParseRetryAfter reads a Retry-After header given as delta-seconds or as an
// HTTP date. Unparseable or past values yield zero.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil || errors.Is(err, strconv.ErrRange) {
		if secs <= 0 {
			return 0
		}
		return time.Duration(min(secs, maxRetryAfterSeconds)) * time.Second
	}
	at, err := http.ParseTime(value)
	if err != nil {
		return 0
	}
	if d := at.Sub(now); d > 0 {
		return d
	}
	return 0
}
