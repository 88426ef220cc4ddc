package headless

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"

	"github.com/JakeFAU/crawl-frontier/internal/crawler"
)

func TestNewChromedpDefaults(t *testing.T) {
	t.Parallel()

	if _, err := NewChromedp(Config{MaxParallel: -1}); err == nil {
		t.Fatal("expected error for negative max parallel")
	}
	fetcher, err := NewChromedp(Config{MaxParallel: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer fetcher.Close()
	if cap(fetcher.slots) != 2 {
		t.Fatalf("expected 2 slots, got %d", cap(fetcher.slots))
	}
	if fetcher.cfg.WaitSelector != "body" || fetcher.cfg.Settle != 500*time.Millisecond || fetcher.cfg.MaxRedirects != 10 {
		t.Fatalf("unexpected defaults: %+v", fetcher.cfg)
	}

	noSettle, err := NewChromedp(Config{Settle: -1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer noSettle.Close()
	if noSettle.cfg.Settle != 0 || noSettle.slots != nil {
		t.Fatalf("expected settle disabled and no slot limit, got %+v", noSettle.cfg)
	}
}

func TestNavTimeoutHonorsLeaseDeadline(t *testing.T) {
	t.Parallel()

	fetcher := &Fetcher{}
	if got := fetcher.navTimeout(context.Background()); got != defaultNavTimeout {
		t.Fatalf("expected default nav timeout, got %v", got)
	}
	fetcher.cfg.NavigationTimeout = time.Minute
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if got := fetcher.navTimeout(ctx); got > 5*time.Second {
		t.Fatalf("expected timeout clipped to the deadline, got %v", got)
	}
}

func TestAcquireRespectsContext(t *testing.T) {
	t.Parallel()

	fetcher := &Fetcher{slots: make(chan struct{}, 1)}
	if err := fetcher.acquire(context.Background()); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := fetcher.acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled wait, got %v", err)
	}
	fetcher.release()
	if err := fetcher.acquire(context.Background()); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestToNetworkHeaders(t *testing.T) {
	t.Parallel()

	netHeaders := toNetworkHeaders(http.Header{"X-Test": {"a", "b"}, "Accept": {"text/html"}, "Empty": nil})
	if v, ok := netHeaders["X-Test"].([]string); !ok || len(v) != 2 {
		t.Fatalf("expected two values, got %#v", netHeaders["X-Test"])
	}
	if netHeaders["Accept"] != "text/html" {
		t.Fatalf("expected single value, got %#v", netHeaders["Accept"])
	}
	if _, ok := netHeaders["Empty"]; ok {
		t.Fatal("expected empty header to be dropped")
	}
}

func TestDocumentTrackerKeepsMainFrame(t *testing.T) {
	t.Parallel()

	doc := newDocumentTracker(10, nil)
	doc.handle(&network.EventRequestWillBeSent{Type: network.ResourceTypeDocument, FrameID: "main"})
	doc.handle(&network.EventResponseReceived{
		Type:    network.ResourceTypeDocument,
		FrameID: "main",
		Response: &network.Response{
			Status:  403,
			URL:     "https://example.com/",
			Headers: network.Headers{"Retry-After": "30"},
		},
	})
	doc.handle(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		FrameID:  "ad-frame",
		Response: &network.Response{Status: 200, URL: "https://ads.example.net/frame"},
	})
	doc.handle(&network.EventResponseReceived{
		Type:     network.ResourceTypeScript,
		FrameID:  "main",
		Response: &network.Response{Status: 200, URL: "https://example.com/app.js"},
	})

	status, headers, url := doc.result("https://req", "")
	if status != 403 || url != "https://example.com/" || headers.Get("Retry-After") != "30" {
		t.Fatalf("expected main document to win, got status=%d url=%s headers=%v", status, url, headers)
	}
}

func TestDocumentTrackerFallbacks(t *testing.T) {
	t.Parallel()

	doc := newDocumentTracker(10, nil)
	status, _, url := doc.result("https://req", "https://final")
	if status != 0 || url != "https://final" {
		t.Fatalf("expected status 0 and browser location, got status=%d url=%s", status, url)
	}
	_, _, url = doc.result("https://req", "")
	if url != "https://req" {
		t.Fatalf("expected request url fallback, got %s", url)
	}
}

func TestDocumentTrackerRedirectCap(t *testing.T) {
	t.Parallel()

	tripped := 0
	doc := newDocumentTracker(2, func() { tripped++ })
	doc.handle(&network.EventRequestWillBeSent{Type: network.ResourceTypeDocument, FrameID: "main"})
	for i := 0; i < 4; i++ {
		doc.handle(&network.EventRequestWillBeSent{
			Type:             network.ResourceTypeDocument,
			FrameID:          "main",
			RedirectResponse: &network.Response{Status: 302},
		})
	}
	// Subframe redirects do not count.
	doc.handle(&network.EventRequestWillBeSent{
		Type:             network.ResourceTypeDocument,
		FrameID:          "child",
		RedirectResponse: &network.Response{Status: 302},
	})
	if !doc.redirectsExceeded() {
		t.Fatal("expected redirect cap to trip")
	}
	if tripped != 1 {
		t.Fatalf("expected a single cancel, got %d", tripped)
	}
}

func TestNoopFetcherError(t *testing.T) {
	t.Parallel()

	_, err := NewNoop().Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.com/"})
	if !errors.Is(err, crawler.ErrTransientFetch) {
		t.Fatalf("expected transient error from noop fetcher, got %v", err)
	}
}
