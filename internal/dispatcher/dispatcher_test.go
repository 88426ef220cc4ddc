// Package dispatcher contains tests for worker coordination.
package dispatcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/JakeFAU/crawl-frontier/internal/crawler"
)

// TestDispatcherRunStartsWorkers ensures workers begin processing and stop on cancel.
func TestDispatcherRunStartsWorkers(t *testing.T) {
	t.Parallel()

	w := &blockingRunner{started: make(chan struct{}, 1)}
	dispatch := New(nil, []Runner{w, w})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()

	select {
	case <-w.started:
	case <-time.After(time.Second):
		t.Fatal("worker did not start")
	}

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

// TestDispatcherSeedCountsSkips verifies duplicates are skipped and hard errors wrapped.
func TestDispatcherSeedCountsSkips(t *testing.T) {
	t.Parallel()

	sub := &scriptedSubmitter{errs: map[string]error{
		"https://b.test/": crawler.ErrDuplicate,
		"https://c.test/": crawler.ErrRobotsDisallowed,
	}}
	accepted, skipped, err := New(sub, nil).Seed(context.Background(),
		[]string{"https://a.test/", "https://b.test/", "https://c.test/"}, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if accepted != 1 || skipped != 2 {
		t.Fatalf("expected 1 accepted and 2 skipped, got %d/%d", accepted, skipped)
	}

	sub.errs["https://a.test/"] = crawler.ErrFrontierUnavailable
	_, _, err = New(sub, nil).Seed(context.Background(), []string{"https://a.test/"}, 1)
	if !errors.Is(err, crawler.ErrFrontierUnavailable) {
		t.Fatalf("expected wrapped unavailable error, got %v", err)
	}
}

type blockingRunner struct {
	started chan struct{}
}

func (r *blockingRunner) Run(ctx context.Context) {
	select {
	case r.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
}

type scriptedSubmitter struct {
	errs map[string]error
}

func (s *scriptedSubmitter) Submit(_ context.Context, rawURL string, _ int) (crawler.URLEntry, error) {
	return crawler.URLEntry{URL: rawURL}, s.errs[rawURL]
}
