// Package metrics exposes Prometheus collectors for the frontier service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	frontierSubmissionsTotal          *prometheus.CounterVec
	frontierDispatchTotal             *prometheus.CounterVec
	frontierOutcomesTotal             *prometheus.CounterVec
	frontierDeadLettersTotal          *prometheus.CounterVec
	frontierEscalationsTotal          *prometheus.CounterVec
	frontierLeaseExpirationsTotal     prometheus.Counter
	frontierQueueDepth                prometheus.Gauge
	frontierInFlight                  prometheus.Gauge
	frontierRateLimitDelaysSeconds    *prometheus.HistogramVec
	frontierBackoffMultiplier         *prometheus.GaugeVec
	frontierRobotsFetchTotal          *prometheus.CounterVec
	frontierCheckpointsTotal          *prometheus.CounterVec
	crawlerPagesTotal                 *prometheus.CounterVec
	crawlerBytesTotal                 *prometheus.CounterVec
	crawlerActiveWorkers              prometheus.Gauge
	httpRequestsTotal                 *prometheus.CounterVec
	httpRequestDurationSeconds        *prometheus.HistogramVec
	robotsProbeTLSHandshakeTimeoutTot prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		frontierSubmissionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "frontier_submissions_total",
				Help: "URL submissions, labeled by result.",
			},
			[]string{"result"},
		)

		frontierDispatchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "frontier_dispatch_total",
				Help: "Work assignments handed to workers, labeled by fetch method.",
			},
			[]string{"method"},
		)

		frontierOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "frontier_outcomes_total",
				Help: "Reported fetch outcomes, labeled by verdict and error class.",
			},
			[]string{"verdict", "error_class"},
		)

		frontierDeadLettersTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "frontier_dead_letters_total",
				Help: "Entries dead-lettered, labeled by reason.",
			},
			[]string{"reason"},
		)

		frontierEscalationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "frontier_escalations_total",
				Help: "Escalation ladder transitions, labeled by target rung.",
			},
			[]string{"to"},
		)

		frontierLeaseExpirationsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "frontier_lease_expirations_total",
				Help: "In-flight entries returned to pending by the liveness sweep.",
			},
		)

		frontierQueueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "frontier_queue_depth",
				Help: "Pending entries across all domain queues.",
			},
		)

		frontierInFlight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "frontier_in_flight",
				Help: "Entries currently leased to workers.",
			},
		)

		frontierRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "frontier_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit waits returned on denial.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
			},
			[]string{"domain"},
		)

		frontierBackoffMultiplier = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "frontier_backoff_multiplier",
				Help: "Current adaptive backoff multiplier per domain.",
			},
			[]string{"domain"},
		)

		frontierRobotsFetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "frontier_robots_fetch_total",
				Help: "robots.txt refreshes, labeled by result.",
			},
			[]string{"result"},
		)

		frontierCheckpointsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "frontier_checkpoints_total",
				Help: "Frontier checkpoints written or restored, labeled by operation and result.",
			},
			[]string{"op", "result"},
		)

		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pages_total",
				Help: "Total number of pages fetched by reference workers, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		crawlerBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		crawlerActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_workers",
				Help: "Number of workers currently processing an assignment.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		robotsProbeTLSHandshakeTimeoutTot = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "frontier_robots_tls_handshake_timeout_total",
				Help: "Total TLS handshake timeouts encountered while fetching robots.txt.",
			},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSubmission counts a Submit call by result.
func ObserveSubmission(result string) {
	Init()
	frontierSubmissionsTotal.WithLabelValues(result).Inc()
}

// ObserveDispatch counts an assignment handed to a worker.
func ObserveDispatch(method string) {
	Init()
	frontierDispatchTotal.WithLabelValues(method).Inc()
}

// ObserveOutcome counts a reported outcome by verdict and error class.
func ObserveOutcome(verdict, errorClass string) {
	Init()
	if errorClass == "" {
		errorClass = "none"
	}
	frontierOutcomesTotal.WithLabelValues(verdict, errorClass).Inc()
}

// ObserveDeadLetter counts a dead-lettered entry.
func ObserveDeadLetter(reason string) {
	Init()
	frontierDeadLettersTotal.WithLabelValues(reason).Inc()
}

// ObserveEscalation counts a ladder transition.
func ObserveEscalation(to string) {
	Init()
	frontierEscalationsTotal.WithLabelValues(to).Inc()
}

// ObserveLeaseExpired counts a lease reclaimed by the sweeper.
func ObserveLeaseExpired() {
	Init()
	frontierLeaseExpirationsTotal.Inc()
}

// SetQueueDepth records the number of pending entries.
func SetQueueDepth(n int) {
	Init()
	frontierQueueDepth.Set(float64(n))
}

// SetInFlight records the number of leased entries.
func SetInFlight(n int) {
	Init()
	frontierInFlight.Set(float64(n))
}

// ObserveRateLimitDelay records the wait returned by a denied acquire.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	frontierRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveBackoffMultiplier records the current backoff multiplier for a domain.
func ObserveBackoffMultiplier(domain string, multiplier float64) {
	Init()
	frontierBackoffMultiplier.WithLabelValues(domain).Set(multiplier)
}

// ObserveRobotsFetch counts a robots.txt refresh by result.
func ObserveRobotsFetch(result string) {
	Init()
	frontierRobotsFetchTotal.WithLabelValues(result).Inc()
}

// ObserveCheckpoint counts a checkpoint save or restore.
func ObserveCheckpoint(op string, err error) {
	Init()
	result := "success"
	if err != nil {
		result = "error"
	}
	frontierCheckpointsTotal.WithLabelValues(op, result).Inc()
}

// ObserveCrawl increments the worker page metrics.
func ObserveCrawl(site string, status string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	crawlerPagesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		crawlerBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	crawlerActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	crawlerActiveWorkers.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveProbeTLSHandshakeTimeout increments the robots handshake timeout counter.
func ObserveProbeTLSHandshakeTimeout() {
	Init()
	robotsProbeTLSHandshakeTimeoutTot.Inc()
}
