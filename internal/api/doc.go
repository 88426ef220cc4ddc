// Package api hosts the HTTP server, middleware, and JSON protocol for the
// frontier. Notable routes:
//   - POST /v1/urls to submit a URL.
//   - POST /v1/work for a worker to lease its next assignment; 204 with a
//     Retry-After-Ms header when nothing is dispatchable.
//   - POST /v1/results/{url_id} to report a fetch outcome.
//   - GET /v1/deadletters and /v1/stats for operators.
//   - GET /healthz / readyz for Kubernetes probes and /metrics for Prometheus.
//
// Client speaks the same protocol so remote workers can pull from a shared
// frontier.
package api
