package crawler

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSettingsHolderVersionsSnapshots(t *testing.T) {
	t.Parallel()

	holder := NewSettingsHolder(DefaultSettings())
	first := holder.Load()
	require.Equal(t, uint64(1), first.Version)

	next := DefaultSettings()
	next.DefaultCrawlDelay = 3 * time.Second
	require.Equal(t, uint64(2), holder.Store(next))

	require.Equal(t, time.Second, first.DefaultCrawlDelay, "old snapshot must stay intact")
	require.Equal(t, 3*time.Second, holder.Load().DefaultCrawlDelay)
}

func TestSettingsHolderConcurrentStores(t *testing.T) {
	t.Parallel()

	holder := NewSettingsHolder(DefaultSettings())
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			holder.Store(DefaultSettings())
			_ = holder.Load().DefaultCrawlDelay
		}()
	}
	wg.Wait()
	require.Equal(t, uint64(17), holder.Load().Version)
}

func TestCrawlDelayResolution(t *testing.T) {
	t.Parallel()

	s := DefaultSettings()
	s.Overrides = map[string]DomainOverride{"Slow.Example": {CrawlDelay: 10 * time.Second}}
	holder := NewSettingsHolder(s)
	snap := holder.Load()

	require.Equal(t, 10*time.Second, snap.CrawlDelayFor("slow.example", 2*time.Second))
	require.Equal(t, 2*time.Second, snap.CrawlDelayFor("other.example", 2*time.Second))
	require.Equal(t, time.Second, snap.CrawlDelayFor("other.example", 0))
}

func TestClampWait(t *testing.T) {
	t.Parallel()

	s := DefaultSettings()
	require.Equal(t, s.MinWaitHint, s.ClampWait(0))
	require.Equal(t, s.MaxWaitHint, s.ClampWait(time.Hour))
	require.Equal(t, 2*time.Second, s.ClampWait(2*time.Second))
}
