package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/crawl-frontier/internal/crawler"
)

// DeadLetterStore appends dead-letter records to a Postgres table.
type DeadLetterStore struct {
	pool  Pool
	table string
}

// NewDeadLetterStore builds a DeadLetterStore on an existing pool.
func NewDeadLetterStore(pool Pool, table string) (*DeadLetterStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table, "frontier_dead_letters")
	if err != nil {
		return nil, err
	}
	return &DeadLetterStore{pool: pool, table: name}, nil
}

// EnsureSchema creates the table when missing.
func (s *DeadLetterStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	url_id TEXT NOT NULL,
	url TEXT NOT NULL,
	domain TEXT NOT NULL,
	reason TEXT NOT NULL,
	error_class TEXT NOT NULL DEFAULT '',
	status_code INT NOT NULL DEFAULT 0,
	attempts INT NOT NULL DEFAULT 0,
	method TEXT NOT NULL DEFAULT '',
	recorded_at TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create dead letter table: %w", err)
	}
	return nil
}

// Record implements crawler.DeadLetterRecorder.
func (s *DeadLetterStore) Record(ctx context.Context, rec crawler.DeadLetterRecord) error {
	if rec.URLID == "" {
		return fmt.Errorf("record url id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	url_id,
	url,
	domain,
	reason,
	error_class,
	status_code,
	attempts,
	method,
	recorded_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
)`, s.table)
	args := []any{
		rec.URLID,
		rec.URL,
		rec.Domain,
		rec.Reason,
		string(rec.ErrorClass),
		rec.StatusCode,
		rec.Attempts,
		string(rec.Method),
		rec.RecordedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}
	return nil
}

// List returns the most recent records, newest first.
func (s *DeadLetterStore) List(ctx context.Context, limit int) ([]crawler.DeadLetterRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`
SELECT url_id, url, domain, reason, error_class, status_code, attempts, method, recorded_at
FROM %s
ORDER BY recorded_at DESC, id DESC
LIMIT $1`, s.table)
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query dead letters: %w", err)
	}
	defer rows.Close()

	var out []crawler.DeadLetterRecord
	for rows.Next() {
		var (
			rec        crawler.DeadLetterRecord
			errorClass string
			method     string
			recordedAt time.Time
		)
		if err := rows.Scan(&rec.URLID, &rec.URL, &rec.Domain, &rec.Reason, &errorClass,
			&rec.StatusCode, &rec.Attempts, &method, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		rec.ErrorClass = crawler.ErrorClass(errorClass)
		rec.Method = crawler.FetchMethod(method)
		rec.RecordedAt = recordedAt
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dead letters: %w", err)
	}
	return out, nil
}
