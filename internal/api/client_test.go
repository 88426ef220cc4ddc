package api

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-frontier/internal/crawler"
	"github.com/JakeFAU/crawl-frontier/internal/frontier"
)

func newClientPair(t *testing.T, f *fakeFrontier, apiKey string) *Client {
	t.Helper()
	srv := httptest.NewServer(NewServer(f, nil, Options{APIKey: apiKey}, zap.NewNop()).Handler())
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL, apiKey, srv.Client())
	require.NoError(t, err)
	return c
}

func TestClientRoundTrip(t *testing.T) {
	t.Parallel()

	expires := time.Date(2025, 1, 1, 0, 1, 0, 0, time.UTC)
	f := &fakeFrontier{work: frontier.Work{Found: true, Assignment: crawler.Assignment{
		Entry:     crawler.URLEntry{ID: "u1", URL: "https://example.com/a", Domain: "example.com", Attempts: 2},
		Method:    crawler.MethodDirect,
		LeaseID:   "lease-9",
		ExpiresAt: expires,
	}}}
	c := newClientPair(t, f, "k")
	ctx := context.Background()

	entry, err := c.Submit(ctx, "https://example.com/a", 1)
	require.NoError(t, err)
	require.Equal(t, "id-https://example.com/a", entry.ID)

	work, err := c.RequestWork(ctx, "w1")
	require.NoError(t, err)
	require.True(t, work.Found)
	require.Equal(t, "lease-9", work.Assignment.LeaseID)
	require.Equal(t, 2, work.Assignment.Entry.Attempts)
	require.True(t, expires.Equal(work.Assignment.ExpiresAt))

	outcome := crawler.FetchOutcome{
		LeaseID:    "lease-9",
		Method:     crawler.MethodDirect,
		StatusCode: 503,
		RetryAfter: 5 * time.Second,
		Elapsed:    120 * time.Millisecond,
		Challenge:  true,
	}
	require.NoError(t, c.ReportResult(ctx, "u1", outcome))
	outcome.URLID = "u1"
	require.Equal(t, outcome, f.lastOutcome)
}

func TestClientNoWork(t *testing.T) {
	t.Parallel()

	c := newClientPair(t, &fakeFrontier{work: frontier.Work{RetryAfter: 250 * time.Millisecond}}, "")
	work, err := c.RequestWork(context.Background(), "w1")
	require.NoError(t, err)
	require.False(t, work.Found)
	require.Equal(t, 250*time.Millisecond, work.RetryAfter)
}

func TestClientMapsRejections(t *testing.T) {
	t.Parallel()

	for _, want := range []error{crawler.ErrDuplicate, crawler.ErrRobotsDisallowed, crawler.ErrInvalidEntry, crawler.ErrFrontierUnavailable} {
		c := newClientPair(t, &fakeFrontier{submitErr: want}, "")
		_, err := c.Submit(context.Background(), "https://example.com/", 0)
		require.True(t, errors.Is(err, want), "want %v got %v", want, err)
	}
}

func TestClientUnreachable(t *testing.T) {
	t.Parallel()

	_, err := NewClient("not a url", "", nil)
	require.Error(t, err)

	srv := httptest.NewServer(nil)
	url := srv.URL
	srv.Close()
	c, err := NewClient(url, "", nil)
	require.NoError(t, err)
	_, err = c.RequestWork(context.Background(), "w1")
	require.ErrorIs(t, err, crawler.ErrFrontierUnavailable)
}
