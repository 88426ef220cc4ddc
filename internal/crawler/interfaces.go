package crawler

import (
	"context"
	"io"
	"time"
)

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// RobotsFetcher retrieves the raw robots.txt for an origin ("scheme://host").
type RobotsFetcher interface {
	FetchRobots(ctx context.Context, origin string) (RobotsResponse, error)
}

// ChallengeDetector inspects a response for bot-block and render-needed signals.
type ChallengeDetector interface {
	Inspect(resp FetchResponse) Signals
}

// DeadLetterRecorder appends terminal failures.
type DeadLetterRecorder interface {
	Record(ctx context.Context, rec DeadLetterRecord) error
}

// DeadLetterSink is an append-only, queryable dead-letter store.
type DeadLetterSink interface {
	DeadLetterRecorder
	List(ctx context.Context, limit int) ([]DeadLetterRecord, error)
}

// SeenStore is the authoritative seen-set for canonical URLs.
type SeenStore interface {
	// InsertIfAbsent reports true when the id was newly inserted.
	InsertIfAbsent(ctx context.Context, id string) (bool, error)
	Contains(ctx context.Context, id string) (bool, error)
}

// BlobStore writes and reads raw artifacts by path.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
	GetObject(ctx context.Context, path string) ([]byte, error)
}

// Publisher pushes events to Pub/Sub, NATS or similar.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// DomainOverrides resolves per-domain special handling.
type DomainOverrides interface {
	Override(domain string) (DomainOverride, bool)
}

// Hasher computes digests for deduplication/integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces lease and worker IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
