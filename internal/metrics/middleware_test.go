package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddlewareRecordsFrontierRoutes(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Post("/v1/work", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Post("/v1/results/{url_id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	noContentBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("POST", "204"))
	conflictBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("POST", "409"))

	for _, path := range []string{"/v1/work", "/v1/results/abc", "/v1/results/def"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
	}

	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("POST", "204")) - noContentBefore; got != 1 {
		t.Errorf("expected one 204, got %f", got)
	}
	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("POST", "409")) - conflictBefore; got != 2 {
		t.Errorf("expected two 409s, got %f", got)
	}
	// Path parameters collapse into the route pattern rather than one series per URL ID.
	if n := testutil.CollectAndCount(httpRequestDurationSeconds, "http_request_duration_seconds"); n < 2 {
		t.Errorf("expected duration series for both routes, got %d", n)
	}
}

func TestMiddlewareDefaultsToOK(t *testing.T) {
	Init()
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200")) - before; got != 1 {
		t.Errorf("expected implicit 200 to be counted, got %f", got)
	}
}
