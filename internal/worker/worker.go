// Package worker implements the reference pull agent: it leases work from the
// frontier, fetches with the assigned method, inspects the page and reports
// the outcome.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-frontier/internal/crawler"
	"github.com/JakeFAU/crawl-frontier/internal/frontier"
	"github.com/JakeFAU/crawl-frontier/internal/metrics"
)

// Source hands out leases and accepts outcomes. *frontier.Frontier and the
// api.Client both satisfy it.
type Source interface {
	RequestWork(ctx context.Context, workerID string) (frontier.Work, error)
	ReportResult(ctx context.Context, urlID string, outcome crawler.FetchOutcome) error
}

// LinkSink accepts discovered links.
type LinkSink interface {
	Submit(ctx context.Context, rawURL string, priority int) (crawler.URLEntry, error)
}

type waker interface {
	Ready() <-chan struct{}
}

// Config controls Worker behavior.
type Config struct {
	ID          string
	ContentType string
	BlobPrefix  string
	Topic       string
	// FollowLinks submits same-site links found on successful pages.
	FollowLinks  bool
	MaxLinks     int
	LinkPriority int
	// ErrorBackoff is the pause after the source itself fails.
	ErrorBackoff time.Duration
}

// Deps are the collaborators of a Worker. Source and Direct are required.
type Deps struct {
	Source    Source
	Direct    crawler.Fetcher
	Rendered  crawler.Fetcher
	Detector  crawler.ChallengeDetector
	BlobStore crawler.BlobStore
	Publisher crawler.Publisher
	Links     LinkSink
	Hasher    crawler.Hasher
	Clock     crawler.Clock
}

// Worker pulls leases and executes fetches.
type Worker struct {
	source    Source
	direct    crawler.Fetcher
	rendered  crawler.Fetcher
	detector  crawler.ChallengeDetector
	blobStore crawler.BlobStore
	publisher crawler.Publisher
	links     LinkSink
	hasher    crawler.Hasher
	clock     crawler.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Worker, error) {
	if deps.Source == nil {
		return nil, errors.New("worker: source is required")
	}
	if deps.Direct == nil {
		return nil, errors.New("worker: direct fetcher is required")
	}
	if deps.Clock == nil {
		return nil, errors.New("worker: clock is required")
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = time.Second
	}
	if cfg.MaxLinks <= 0 {
		cfg.MaxLinks = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		source:    deps.Source,
		direct:    deps.Direct,
		rendered:  deps.Rendered,
		detector:  deps.Detector,
		blobStore: deps.BlobStore,
		publisher: deps.Publisher,
		links:     deps.Links,
		hasher:    deps.Hasher,
		clock:     deps.Clock,
		cfg:       cfg,
		logger:    logger.Named("worker").With(zap.String("worker_id", cfg.ID)),
	}, nil
}

// Run blocks, pulling and processing work until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for ctx.Err() == nil {
		work, err := w.source.RequestWork(ctx, w.cfg.ID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Warn("request work failed", zap.Error(err))
			w.wait(ctx, w.cfg.ErrorBackoff)
			continue
		}
		if !work.Found {
			w.wait(ctx, work.RetryAfter)
			continue
		}
		w.Process(ctx, work.Assignment)
	}
}

// wait sleeps for d, waking early when the source signals new work.
func (w *Worker) wait(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	var ready <-chan struct{}
	if wk, ok := w.source.(waker); ok {
		ready = wk.Ready()
	}
	select {
	case <-ctx.Done():
	case <-timer.C:
	case <-ready:
	}
}

// Process fetches one assignment and reports its outcome. If ctx ends before
// the fetch completes nothing is reported and the lease is left to expire.
func (w *Worker) Process(ctx context.Context, a crawler.Assignment) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	fetchCtx := ctx
	if !a.ExpiresAt.IsZero() {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithDeadline(ctx, a.ExpiresAt)
		defer cancel()
	}

	outcome, resp := w.fetch(fetchCtx, a)
	if ctx.Err() != nil {
		w.logger.Debug("abandoning lease on shutdown", zap.String("url_id", a.Entry.ID))
		return
	}

	status := "error"
	if resp != nil {
		status = strconv.Itoa(resp.StatusCode)
	}
	metrics.ObserveCrawl(a.Entry.URL, status, int(outcome.Bytes))

	if resp != nil && healthy(outcome) {
		if err := w.persistAndPublish(ctx, a, *resp); err != nil {
			w.logger.Warn("persist page failed", zap.String("url", a.Entry.URL), zap.Error(err))
		}
		w.followLinks(ctx, *resp)
	}

	if err := w.source.ReportResult(ctx, a.Entry.ID, outcome); err != nil {
		w.logger.Error("report result failed",
			zap.String("url_id", a.Entry.ID),
			zap.String("lease_id", a.LeaseID),
			zap.Error(err),
		)
		return
	}
	w.logger.Debug("reported",
		zap.String("url", a.Entry.URL),
		zap.String("method", string(outcome.Method)),
		zap.Int("status", outcome.StatusCode),
		zap.String("transport", string(outcome.Transport)),
		zap.Bool("challenge", outcome.Challenge),
		zap.Bool("thin_body", outcome.ThinBody),
	)
}

func (w *Worker) fetch(ctx context.Context, a crawler.Assignment) (crawler.FetchOutcome, *crawler.FetchResponse) {
	method := a.Method
	if method == "" || method == crawler.MethodUnknown {
		method = crawler.MethodDirect
	}
	fetcher := w.direct
	if method == crawler.MethodRendered {
		if w.rendered == nil {
			w.logger.Warn("no rendered fetcher; falling back to direct", zap.String("url", a.Entry.URL))
		} else {
			fetcher = w.rendered
		}
	}

	outcome := crawler.FetchOutcome{URLID: a.Entry.ID, LeaseID: a.LeaseID, Method: method}
	start := w.clock.Now()
	resp, err := fetcher.Fetch(ctx, crawler.FetchRequest{URL: a.Entry.URL, Method: method})
	outcome.Elapsed = w.clock.Now().Sub(start)
	if err != nil {
		if errors.Is(err, crawler.ErrRedirectsExhausted) {
			outcome.RedirectsExhausted = true
			return outcome, nil
		}
		outcome.Transport = ClassifyTransport(err)
		w.logger.Debug("fetch failed", zap.String("url", a.Entry.URL), zap.Error(err))
		return outcome, nil
	}
	if resp.Duration > 0 {
		outcome.Elapsed = resp.Duration
	}
	outcome.StatusCode = resp.StatusCode
	outcome.Bytes = int64(len(resp.Body))
	if resp.StatusCode == 0 {
		outcome.Malformed = true
		return outcome, &resp
	}
	if resp.Headers != nil {
		outcome.RetryAfter = ParseRetryAfter(resp.Headers.Get("Retry-After"), w.clock.Now())
	}
	if w.detector != nil {
		sig := w.detector.Inspect(resp)
		outcome.Challenge = sig.Challenge
		outcome.ThinBody = sig.ThinBody
	}
	return outcome, &resp
}

func healthy(o crawler.FetchOutcome) bool {
	return o.StatusCode >= 200 && o.StatusCode < 300 && !o.Challenge && !o.ThinBody
}

func (w *Worker) buildBlobPath(domain, hash string) string {
	prefix := strings.Trim(w.cfg.BlobPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.html", domain, hash)
	}
	return fmt.Sprintf("%s/%s/%s.html", prefix, domain, hash)
}

func (w *Worker) persistAndPublish(ctx context.Context, a crawler.Assignment, resp crawler.FetchResponse) error {
	if w.blobStore == nil || w.hasher == nil {
		return nil
	}
	hash, err := w.hasher.Hash(resp.Body)
	if err != nil {
		return fmt.Errorf("hash body: %w", err)
	}
	uri, err := w.blobStore.PutObject(ctx, w.buildBlobPath(a.Entry.Domain, hash), w.cfg.ContentType, bytes.NewReader(resp.Body))
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	if w.cfg.Topic == "" || w.publisher == nil {
		return nil
	}
	payload := map[string]any{
		"url_id":    a.Entry.ID,
		"url":       a.Entry.URL,
		"final_url": resp.URL,
		"blob_uri":  uri,
		"hash":      hash,
		"timestamp": w.clock.Now().Format(time.RFC3339),
		"status":    resp.StatusCode,
		"headless":  resp.UsedHeadless,
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, payload); err != nil {
		return fmt.Errorf("publish payload: %w", err)
	}
	return nil
}

func (w *Worker) followLinks(ctx context.Context, resp crawler.FetchResponse) {
	if !w.cfg.FollowLinks || w.links == nil {
		return
	}
	for _, link := range ExtractLinks(resp.URL, resp.Body, w.cfg.MaxLinks) {
		if _, err := w.links.Submit(ctx, link, w.cfg.LinkPriority); err != nil &&
			!errors.Is(err, crawler.ErrDuplicate) && !errors.Is(err, crawler.ErrRobotsDisallowed) {
			w.logger.Debug("link submit failed", zap.String("link", link), zap.Error(err))
		}
	}
}

// ExtractLinks returns up to limit absolute same-host links from an HTML body.
func ExtractLinks(pageURL string, body []byte, limit int) []string {
	base, err := url.Parse(pageURL)
	if err != nil || len(body) == 0 {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return true
		}
		abs := base.ResolveReference(ref)
		abs.Fragment = ""
		if (abs.Scheme != "http" && abs.Scheme != "https") || !strings.EqualFold(abs.Host, base.Host) {
			return true
		}
		s := abs.String()
		if _, dup := seen[s]; dup {
			return true
		}
		seen[s] = struct{}{}
		out = append(out, s)
		return limit <= 0 || len(out) < limit
	})
	return out
}
