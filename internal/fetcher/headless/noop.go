package headless

import (
	"context"
	"fmt"

	"github.com/JakeFAU/crawl-frontier/internal/crawler"
)

// Noop stands in for the rendered fetcher when no browser is configured.
// Every fetch fails as a transient error so the frontier's retry caps apply.
type Noop struct{}

// NewNoop creates a Noop fetcher.
func NewNoop() *Noop {
	return &Noop{}
}

// Fetch always fails with crawler.ErrTransientFetch.
func (Noop) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	return crawler.FetchResponse{}, fmt.Errorf("render %s: no headless browser configured: %w", req.URL, crawler.ErrTransientFetch)
}
