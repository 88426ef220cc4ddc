// Package dispatcher runs a pool of pull workers against the frontier and
// seeds it with start URLs.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/crawl-frontier/internal/crawler"
)

// Runner is a long-lived worker loop.
type Runner interface {
	Run(ctx context.Context)
}

// Submitter admits URLs into the frontier.
type Submitter interface {
	Submit(ctx context.Context, rawURL string, priority int) (crawler.URLEntry, error)
}

// Dispatcher fans out frontier work to a pool of workers.
type Dispatcher struct {
	submitter Submitter
	workers   []Runner
}

// New creates a Dispatcher.
func New(submitter Submitter, workers []Runner) *Dispatcher {
	return &Dispatcher{
		submitter: submitter,
		workers:   workers,
	}
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk Runner) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Seed submits start URLs. Duplicates and robots-disallowed URLs are counted
// as skipped; any other failure aborts seeding.
func (d *Dispatcher) Seed(ctx context.Context, urls []string, priority int) (accepted, skipped int, err error) {
	for _, raw := range urls {
		_, err := d.submitter.Submit(ctx, raw, priority)
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, crawler.ErrDuplicate), errors.Is(err, crawler.ErrRobotsDisallowed):
			skipped++
		default:
			return accepted, skipped, fmt.Errorf("seed %s: %w", raw, err)
		}
	}
	return accepted, skipped, nil
}
