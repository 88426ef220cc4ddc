// Package headless implements the rendered fetch method with headless Chrome.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/crawl-frontier/internal/crawler"
)

const defaultNavTimeout = 45 * time.Second

// Config controls the behavior of the headless fetcher.
type Config struct {
	// MaxParallel bounds concurrent browser tabs; zero means unbounded.
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// WaitSelector is awaited before the DOM is captured (default "body").
	WaitSelector string
	// Settle is an extra pause for late client-side rendering; negative disables it.
	Settle time.Duration
	// ExecPath overrides the Chrome binary location.
	ExecPath string
	// MaxRedirects caps main-document redirects; zero means 10.
	MaxRedirects int
	// MaxBodyBytes truncates the captured DOM; zero means no limit.
	MaxBodyBytes int
}

// Fetcher implements crawler.Fetcher using chromedp and headless Chrome.
// Each Fetch runs in its own tab under a shared browser process.
type Fetcher struct {
	cfg         Config
	slots       chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp creates a headless fetcher backed by chromedp. The browser is
// started lazily on the first Fetch.
func NewChromedp(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavTimeout
	}
	if cfg.WaitSelector == "" {
		cfg.WaitSelector = "body"
	}
	switch {
	case cfg.Settle == 0:
		cfg.Settle = 500 * time.Millisecond
	case cfg.Settle < 0:
		cfg.Settle = 0
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = 10
	}
	var slots chan struct{}
	if cfg.MaxParallel > 0 {
		slots = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Fetcher{
		cfg:         cfg,
		slots:       slots,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close shuts down the browser.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Fetch renders request.URL and returns the DOM along with the status and
// headers of the main document response. The tab is torn down when ctx ends,
// so a worker's lease deadline bounds the render. A page that never produced
// a main document response is returned with status 0.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	if err := f.acquire(ctx); err != nil {
		return crawler.FetchResponse{}, err
	}
	defer f.release()

	taskCtx, taskCancel := chromedp.NewContext(f.allocator)
	defer taskCancel()
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	taskCtx, cancel := context.WithTimeout(taskCtx, f.navTimeout(ctx))
	defer cancel()

	doc := newDocumentTracker(f.cfg.MaxRedirects, cancel)
	chromedp.ListenTarget(taskCtx, doc.handle)

	start := time.Now()
	html, finalURL, err := f.render(taskCtx, request)
	if doc.redirectsExceeded() {
		return crawler.FetchResponse{}, fmt.Errorf("%w: more than %d redirects from %s",
			crawler.ErrRedirectsExhausted, f.cfg.MaxRedirects, request.URL)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return crawler.FetchResponse{}, fmt.Errorf("render %s: %w", request.URL, ctxErr)
		}
		if errors.Is(taskCtx.Err(), context.DeadlineExceeded) {
			return crawler.FetchResponse{}, fmt.Errorf("render %s: %w", request.URL, context.DeadlineExceeded)
		}
		return crawler.FetchResponse{}, err
	}

	status, headers, responseURL := doc.result(request.URL, finalURL)
	body := []byte(html)
	if f.cfg.MaxBodyBytes > 0 && len(body) > f.cfg.MaxBodyBytes {
		body = body[:f.cfg.MaxBodyBytes]
	}

	return crawler.FetchResponse{
		URL:          responseURL,
		StatusCode:   status,
		Headers:      headers,
		Body:         body,
		Duration:     time.Since(start),
		UsedHeadless: true,
	}, nil
}

func (f *Fetcher) render(ctx context.Context, request crawler.FetchRequest) (string, string, error) {
	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		f.networkSetupAction(request.Headers),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady(f.cfg.WaitSelector, chromedp.ByQuery),
		chromedp.Sleep(f.cfg.Settle),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

func (f *Fetcher) networkSetupAction(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.slots == nil {
		return nil
	}
	select {
	case f.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	if f.slots == nil {
		return
	}
	select {
	case <-f.slots:
	default:
	}
}

// navTimeout is the configured navigation timeout, shortened to the caller's
// deadline when that comes first.
func (f *Fetcher) navTimeout(ctx context.Context) time.Duration {
	timeout := f.cfg.NavigationTimeout
	if timeout <= 0 {
		timeout = defaultNavTimeout
	}
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	return timeout
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		switch len(values) {
		case 0:
		case 1:
			headers[key] = values[0]
		default:
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}
