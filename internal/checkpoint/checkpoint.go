// Package checkpoint persists frontier snapshots to a blob store and restores
// them on startup.
package checkpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-frontier/internal/crawler"
	"github.com/JakeFAU/crawl-frontier/internal/frontier"
	"github.com/JakeFAU/crawl-frontier/internal/metrics"
)

// DefaultPath is the object path used when none is configured.
const DefaultPath = "frontier/checkpoint.json"

// Source produces snapshots. *frontier.Frontier satisfies it.
type Source interface {
	Snapshot(now time.Time) frontier.Snapshot
}

// Target accepts a restored snapshot. *frontier.Frontier satisfies it.
type Target interface {
	Restore(ctx context.Context, snap frontier.Snapshot) error
}

// Checkpointer saves and loads snapshots at a fixed path.
type Checkpointer struct {
	blobs  crawler.BlobStore
	path   string
	clock  crawler.Clock
	logger *zap.Logger
}

// New builds a Checkpointer.
func New(blobs crawler.BlobStore, path string, clock crawler.Clock, logger *zap.Logger) (*Checkpointer, error) {
	if blobs == nil {
		return nil, errors.New("checkpoint: blob store is required")
	}
	if clock == nil {
		return nil, errors.New("checkpoint: clock is required")
	}
	if path == "" {
		path = DefaultPath
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checkpointer{blobs: blobs, path: path, clock: clock, logger: logger.Named("checkpoint")}, nil
}

// Save writes snap as JSON.
func (c *Checkpointer) Save(ctx context.Context, snap frontier.Snapshot) (err error) {
	defer func() { metrics.ObserveCheckpoint("save", err) }()
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	uri, err := c.blobs.PutObject(ctx, c.path, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	c.logger.Debug("checkpoint saved",
		zap.String("uri", uri),
		zap.Int("entries", len(snap.Entries)),
		zap.Int("bytes", len(payload)),
	)
	return nil
}

// Load reads the stored snapshot. found is false when no checkpoint exists.
func (c *Checkpointer) Load(ctx context.Context) (snap frontier.Snapshot, found bool, err error) {
	data, err := c.blobs.GetObject(ctx, c.path)
	if errors.Is(err, crawler.ErrNotFound) {
		return frontier.Snapshot{}, false, nil
	}
	if err != nil {
		return frontier.Snapshot{}, false, fmt.Errorf("read checkpoint: %w", err)
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return frontier.Snapshot{}, false, fmt.Errorf("decode checkpoint: %w", err)
	}
	return snap, true, nil
}

// RestoreInto loads the stored snapshot, if any, into target.
func (c *Checkpointer) RestoreInto(ctx context.Context, target Target) (restored bool, err error) {
	defer func() { metrics.ObserveCheckpoint("restore", err) }()
	snap, found, err := c.Load(ctx)
	if err != nil || !found {
		return false, err
	}
	if err := target.Restore(ctx, snap); err != nil {
		return false, fmt.Errorf("restore checkpoint: %w", err)
	}
	return true, nil
}

// Run saves a snapshot from src every interval until ctx is done, then
// writes one final snapshot.
func (c *Checkpointer) Run(ctx context.Context, src Source, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			if err := c.Save(final, src.Snapshot(c.clock.Now())); err != nil {
				c.logger.Error("final checkpoint failed", zap.Error(err))
			}
			cancel()
			return
		case <-ticker.C:
			if err := c.Save(ctx, src.Snapshot(c.clock.Now())); err != nil {
				c.logger.Warn("checkpoint failed", zap.Error(err))
			}
		}
	}
}
