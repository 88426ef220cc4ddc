package postgres

import (
	"context"
	"fmt"
)

// SeenStore is an authoritative seen-set backed by a Postgres table with a
// primary key on url_id.
type SeenStore struct {
	pool  Pool
	table string
}

// NewSeenStore builds a SeenStore on an existing pool.
func NewSeenStore(pool Pool, table string) (*SeenStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table, "frontier_seen")
	if err != nil {
		return nil, err
	}
	return &SeenStore{pool: pool, table: name}, nil
}

// EnsureSchema creates the table when missing.
func (s *SeenStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	url_id TEXT PRIMARY KEY,
	first_seen_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create seen table: %w", err)
	}
	return nil
}

// InsertIfAbsent implements crawler.SeenStore.
func (s *SeenStore) InsertIfAbsent(ctx context.Context, id string) (bool, error) {
	query := fmt.Sprintf(`INSERT INTO %s (url_id) VALUES ($1) ON CONFLICT (url_id) DO NOTHING`, s.table)
	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("insert seen: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Contains implements crawler.SeenStore.
func (s *SeenStore) Contains(ctx context.Context, id string) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE url_id = $1)`, s.table)
	var exists bool
	if err := s.pool.QueryRow(ctx, query, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("query seen: %w", err)
	}
	return exists, nil
}
