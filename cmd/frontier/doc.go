// Package main hosts the frontier service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, readiness, metrics, and the /v1 frontier protocol
//     (submit, request work, report result, dead letters, stats). Remote workers speak the same protocol
//     through api.Client.
//   - Frontier: internal/frontier owns per-domain priority queues, the seen-set, leases, and the dispatch
//     gate. A URL is leased to exactly one worker at a time; expired leases are requeued by the sweeper.
//   - Politeness: robots.txt rules are cached per origin (internal/politeness) and every dispatch is gated
//     by a per-domain token bucket whose spacing grows on throttling and decays on success.
//   - Outcomes: workers report status, transport errors, and challenge/thin-body signals. The classifier
//     decides retry, escalate to the rendered (headless) method, or dead-letter.
//   - Persistence: the seen-set can live in memory, Redis, or Postgres; dead letters in memory or Postgres
//     with an optional Kafka mirror; periodic snapshots go to memory, local disk, or GCS.
//   - Configuration & plumbing: Viper populates config from env/files and hot-reloads tunables; zap
//     provides structured logging; Prometheus metrics are exported at /metrics.
//
// Quick checklist:
//   - Run the service: go run ./cmd/frontier serve --config frontier.yaml
//   - Run remote workers: go run ./cmd/frontier worker --frontier http://frontier:8080
//   - Seed URLs: go run ./cmd/frontier seed https://example.com/ -f seeds.txt
//   - Env overrides use the CRAWLER_ prefix, e.g. CRAWLER_SERVER_PORT, CRAWLER_SEEN_BACKEND=redis,
//     CRAWLER_REDIS_ADDR, CRAWLER_DATABASE_DSN, CRAWLER_WORKER_HEADLESS_ENABLED.
package main
