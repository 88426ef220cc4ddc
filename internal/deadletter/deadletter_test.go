package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-frontier/internal/crawler"
)

func record(id string) crawler.DeadLetterRecord {
	return crawler.DeadLetterRecord{
		URLID:      id,
		URL:        "https://example.com/" + id,
		Domain:     "example.com",
		Reason:     crawler.ReasonClientError,
		StatusCode: 404,
		RecordedAt: time.Unix(1700000000, 0).UTC(),
	}
}

func TestMemoryListsNewestFirst(t *testing.T) {
	t.Parallel()

	m := NewMemory(0)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, m.Record(ctx, record(id)))
	}
	got, err := m.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "c", got[0].URLID)
	require.Equal(t, "b", got[1].URLID)

	all, err := m.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestMemoryCapacityEvictsOldest(t *testing.T) {
	t.Parallel()

	m := NewMemory(2)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, m.Record(ctx, record(id)))
	}
	require.Equal(t, 2, m.Len())
	got, err := m.List(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, "c", got[0].URLID)
	require.Equal(t, "b", got[1].URLID)
}

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaRecordWritesKeyedMessage(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{}
	sink := NewKafkaWithWriter(w)
	rec := record("a")
	require.NoError(t, sink.Record(context.Background(), rec))

	require.Len(t, w.msgs, 1)
	require.Equal(t, "example.com", string(w.msgs[0].Key))
	var got crawler.DeadLetterRecord
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	require.Equal(t, rec, got)
	require.NoError(t, sink.Close())
}

func TestKafkaRecordError(t *testing.T) {
	t.Parallel()

	boom := errors.New("broker unavailable")
	sink := NewKafkaWithWriter(&fakeWriter{err: boom})
	require.ErrorIs(t, sink.Record(context.Background(), record("a")), boom)
}

func TestNewKafkaValidates(t *testing.T) {
	t.Parallel()

	_, err := NewKafka(nil, "dead-letters")
	require.Error(t, err)
	k, err := NewKafka([]string{"localhost:9092"}, "dead-letters")
	require.NoError(t, err)
	require.NotNil(t, k)
}

func TestTeeMirrorsAndToleratesMirrorFailure(t *testing.T) {
	t.Parallel()

	primary := NewMemory(0)
	ok := &fakeWriter{}
	bad := NewKafkaWithWriter(&fakeWriter{err: errors.New("down")})
	tee := NewTee(primary, nil, NewKafkaWithWriter(ok), bad)

	require.NoError(t, tee.Record(context.Background(), record("a")))
	require.Equal(t, 1, primary.Len())
	require.Len(t, ok.msgs, 1)

	got, err := tee.List(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
}
