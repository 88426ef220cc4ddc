package frontier

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-frontier/internal/crawler"
	"github.com/JakeFAU/crawl-frontier/internal/escalation"
	"github.com/JakeFAU/crawl-frontier/internal/policy/ratelimit"
)

// SnapshotVersion is the current checkpoint document version.
const SnapshotVersion = 1

// Snapshot is the persisted frontier state. In-flight entries are stored as
// pending; their leases do not survive a restart.
type Snapshot struct {
	Version         int                     `json:"version"`
	TakenAt         time.Time               `json:"taken_at"`
	SettingsVersion uint64                  `json:"settings_version"`
	Entries         []crawler.URLEntry      `json:"entries"`
	Domains         []ratelimit.DomainState `json:"domains"`
	Profiles        []escalation.Profile    `json:"profiles"`
}

type warmer interface {
	Warm(ids ...string)
}

// Snapshot captures queued and leased entries, limiter state and escalation
// profiles. Leases are read before the queue so an entry requeued in between
// is captured at least once; the queued copy wins when it appears in both.
// An entry completed in between survives as pending and is fetched again
// after a restore.
func (f *Frontier) Snapshot(now time.Time) Snapshot {
	var leased []crawler.URLEntry
	f.leases.Range(func(_, value any) bool {
		e := value.(*lease).assignment.Entry.Clone()
		e.State = crawler.StatePending
		leased = append(leased, e)
		return true
	})
	entries := f.queue.Snapshot()
	queued := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		queued[e.ID] = struct{}{}
	}
	for _, e := range leased {
		if _, ok := queued[e.ID]; !ok {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })
	return Snapshot{
		Version:         SnapshotVersion,
		TakenAt:         now,
		SettingsVersion: f.settings.Load().Version,
		Entries:         entries,
		Domains:         f.limiter.States(now),
		Profiles:        f.escalation.Profiles(),
	}
}

// Restore loads snap into an empty frontier. Every restored entry is marked
// seen so resubmissions are rejected as duplicates.
func (f *Frontier) Restore(ctx context.Context, snap Snapshot) error {
	if snap.Version != SnapshotVersion {
		return fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	f.limiter.Restore(snap.Domains)
	f.escalation.Restore(snap.Profiles)

	ids := make([]string, 0, len(snap.Entries))
	restored := 0
	for _, e := range snap.Entries {
		if _, err := f.seen.InsertIfAbsent(ctx, e.ID); err != nil {
			return fmt.Errorf("%w: restore seen %s: %v", crawler.ErrFrontierUnavailable, e.ID, err)
		}
		ids = append(ids, e.ID)
		e.State = crawler.StatePending
		if err := f.queue.Enqueue(e); err != nil {
			f.logger.Warn("skipping snapshot entry", zap.String("url_id", e.ID), zap.Error(err))
			continue
		}
		restored++
	}
	if w, ok := f.seen.(warmer); ok {
		w.Warm(ids...)
	}
	f.logger.Info("frontier restored",
		zap.Int("entries", restored),
		zap.Int("domains", len(snap.Domains)),
		zap.Int("profiles", len(snap.Profiles)),
		zap.Time("taken_at", snap.TakenAt),
	)
	if restored > 0 {
		f.signalReady()
	}
	return nil
}
