package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-frontier/internal/config"
	"github.com/JakeFAU/crawl-frontier/internal/crawler"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Events.Log = false
	cfg.Worker.Enabled = false
	cfg.Checkpoint.Restore = false
	return cfg
}

func robotsSite(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			_, _ = w.Write([]byte("User-agent: *\nDisallow: /private\n"))
			return
		}
		_, _ = w.Write([]byte("<html><body>ok</body></html>"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestBuildWiresInMemoryBackends(t *testing.T) {
	ctx := context.Background()
	app, err := Build(ctx, testConfig(t), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	require.NotNil(t, app.Frontier())
	require.Nil(t, app.dispatch)
	require.Nil(t, app.pgPool)
	require.Nil(t, app.redisClient)
	require.NotNil(t, app.hub)
	require.NotNil(t, app.recent)

	site := robotsSite(t)
	entry, err := app.Frontier().Submit(ctx, site.URL+"/page", 0)
	require.NoError(t, err)
	require.NotEmpty(t, entry.ID)

	_, err = app.Frontier().Submit(ctx, site.URL+"/page", 0)
	require.ErrorIs(t, err, crawler.ErrDuplicate)

	_, err = app.Frontier().Submit(ctx, site.URL+"/private/x", 0)
	require.ErrorIs(t, err, crawler.ErrRobotsDisallowed)
	require.Equal(t, 1, app.Frontier().Stats().Pending)
}

func TestBuildServesAPI(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.APIKey = "secret"
	app, err := Build(context.Background(), cfg, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	srv := httptest.NewServer(app.apiServer.Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/v1/work", "application/json", bytes.NewBufferString(`{"worker_id":"w"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/work", bytes.NewBufferString(`{"worker_id":"w"}`))
	require.NoError(t, err)
	req.Header.Set("X-API-Key", "secret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestBuildWithWorkers(t *testing.T) {
	cfg := testConfig(t)
	cfg.Worker.Enabled = true
	cfg.Worker.Concurrency = 2
	app, err := Build(context.Background(), cfg, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })
	require.NotNil(t, app.dispatch)
	require.Nil(t, app.headless)
}

func TestBuildRejectsUnreachablePostgres(t *testing.T) {
	cfg := testConfig(t)
	cfg.Seen.Backend = "postgres"
	cfg.Database.DSN = "::not a dsn::"
	_, err := Build(context.Background(), cfg, "")
	require.Error(t, err)
}

func TestBuildWorkerRequiresFrontierURL(t *testing.T) {
	_, err := BuildWorker(context.Background(), testConfig(t), "not-a-url")
	require.Error(t, err)

	cfg := testConfig(t)
	cfg.Worker.Concurrency = 1
	app, err := BuildWorker(context.Background(), cfg, "http://127.0.0.1:1")
	require.NoError(t, err)
	require.NotNil(t, app.dispatch)
	require.NoError(t, app.Close(context.Background()))
}
