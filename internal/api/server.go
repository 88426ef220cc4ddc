// Package api exposes the HTTP interface for the frontier service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-frontier/internal/crawler"
	"github.com/JakeFAU/crawl-frontier/internal/frontier"
	"github.com/JakeFAU/crawl-frontier/internal/metrics"
	"github.com/JakeFAU/crawl-frontier/internal/publisher/memory"
)

const (
	defaultDeadLetterLimit = 100
	maxDeadLetterLimit     = 1000
)

// Frontier is the subset of *frontier.Frontier served over HTTP.
type Frontier interface {
	SubmitFrom(ctx context.Context, rawURL, base string, priority int) (crawler.URLEntry, error)
	RequestWork(ctx context.Context, workerID string) (frontier.Work, error)
	ReportResult(ctx context.Context, urlID string, outcome crawler.FetchOutcome) error
	Stats() frontier.Stats
}

// DeadLetterLister reads recent dead letters.
type DeadLetterLister interface {
	List(ctx context.Context, limit int) ([]crawler.DeadLetterRecord, error)
}

// RecentEvents reads the newest lifecycle events.
type RecentEvents interface {
	Recent(limit int) []memory.PublishedMessage
}

// ReadinessCheck reports whether a downstream is usable.
type ReadinessCheck func(ctx context.Context) error

// Options tunes the HTTP surface.
type Options struct {
	APIKey         string
	RequestTimeout time.Duration
	Readiness      map[string]ReadinessCheck
	RecentEvents   RecentEvents
}

// Server wires HTTP handlers to the frontier.
type Server struct {
	router      chi.Router
	frontier    Frontier
	deadLetters DeadLetterLister
	recent      RecentEvents
	readiness   map[string]ReadinessCheck
	logger      *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(f Frontier, deadLetters DeadLetterLister, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	s := &Server{
		frontier:    f,
		deadLetters: deadLetters,
		recent:      opts.RecentEvents,
		readiness:   opts.Readiness,
		logger:      logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(opts.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if opts.APIKey != "" {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		r.Post("/urls", s.submit)
		r.Post("/work", s.requestWork)
		r.Post("/results/{url_id}", s.reportResult)
		r.Get("/deadletters", s.listDeadLetters)
		r.Get("/events/recent", s.recentEvents)
		r.Get("/stats", s.stats)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	failures := map[string]string{}
	for name, check := range s.readiness {
		if err := check(r.Context()); err != nil {
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "checks": failures})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	entry, err := s.frontier.SubmitFrom(r.Context(), req.URL, req.Base, req.Priority)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, submitResponse{URLID: entry.ID, URL: entry.URL, Domain: entry.Domain})
	case errors.Is(err, crawler.ErrDuplicate):
		writeJSON(w, http.StatusConflict, submitResponse{URLID: entry.ID, Reason: reasonDuplicate})
	case errors.Is(err, crawler.ErrRobotsDisallowed):
		writeJSON(w, http.StatusUnprocessableEntity, submitResponse{URLID: entry.ID, Reason: crawler.ReasonRobotsDisallowed})
	case errors.Is(err, crawler.ErrInvalidEntry):
		writeJSON(w, http.StatusUnprocessableEntity, submitResponse{Reason: reasonInvalid})
	default:
		s.logger.Warn("submit failed", zap.String("url", req.URL), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "frontier unavailable")
	}
}

func (s *Server) requestWork(w http.ResponseWriter, r *http.Request) {
	var req workRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.WorkerID == "" {
		writeError(w, http.StatusBadRequest, "worker_id required")
		return
	}
	work, err := s.frontier.RequestWork(r.Context(), req.WorkerID)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "frontier unavailable")
		return
	}
	if !work.Found {
		w.Header().Set(RetryAfterHeader, strconv.FormatInt(work.RetryAfter.Milliseconds(), 10))
		w.WriteHeader(http.StatusNoContent)
		return
	}
	a := work.Assignment
	writeJSON(w, http.StatusOK, workResponse{
		URLID:          a.Entry.ID,
		URL:            a.Entry.URL,
		Domain:         a.Entry.Domain,
		Method:         a.Method,
		LeaseID:        a.LeaseID,
		LeaseExpiresAt: a.ExpiresAt,
		Attempts:       a.Entry.Attempts,
		Priority:       a.Entry.Priority,
	})
}

func (s *Server) reportResult(w http.ResponseWriter, r *http.Request) {
	urlID := chi.URLParam(r, "url_id")
	var payload outcomePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if payload.LeaseID == "" {
		writeError(w, http.StatusBadRequest, "lease_id required")
		return
	}
	if err := s.frontier.ReportResult(r.Context(), urlID, payload.outcome(urlID)); err != nil {
		s.logger.Warn("report failed", zap.String("url_id", urlID), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "frontier unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listDeadLetters(w http.ResponseWriter, r *http.Request) {
	if s.deadLetters == nil {
		writeError(w, http.StatusServiceUnavailable, "dead-letter store unavailable")
		return
	}
	limit, err := parseLimit(r, defaultDeadLetterLimit, maxDeadLetterLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	records, err := s.deadLetters.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("list dead letters failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list dead letters")
		return
	}
	if records == nil {
		records = []crawler.DeadLetterRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"dead_letters": records})
}

func (s *Server) recentEvents(w http.ResponseWriter, r *http.Request) {
	if s.recent == nil {
		writeError(w, http.StatusNotFound, "recent events disabled")
		return
	}
	limit, err := parseLimit(r, defaultDeadLetterLimit, maxDeadLetterLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": s.recent.Recent(limit)})
}

func (s *Server) stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.frontier.Stats())
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	if n > maxLimit {
		n = maxLimit
	}
	return n, nil
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Debug("request completed",
				zap.String("request_id", reqID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
