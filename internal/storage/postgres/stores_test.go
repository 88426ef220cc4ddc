package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-frontier/internal/crawler"
)

func TestSeenStoreInsertIfAbsent(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewSeenStore(mock, "")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO frontier_seen").
		WithArgs("abc").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO frontier_seen").
		WithArgs("abc").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	ok, err := store.InsertIfAbsent(context.Background(), "abc")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = store.InsertIfAbsent(context.Background(), "abc")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSeenStoreContains(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewSeenStore(mock, "seen")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("abc").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := store.Contains(context.Background(), "abc")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSeenStoreWrapsErrors(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewSeenStore(mock, "")
	require.NoError(t, err)
	boom := errors.New("conn closed")
	mock.ExpectExec("INSERT INTO frontier_seen").WithArgs("abc").WillReturnError(boom)

	_, err = store.InsertIfAbsent(context.Background(), "abc")
	require.ErrorIs(t, err, boom)
}

func TestInvalidTableName(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewSeenStore(mock, "seen; DROP TABLE x")
	require.Error(t, err)
	_, err = NewDeadLetterStore(mock, "1bad")
	require.Error(t, err)
	_, err = NewDeadLetterStore(nil, "")
	require.Error(t, err)
}

func TestDeadLetterStoreRecord(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewDeadLetterStore(mock, "")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	rec := crawler.DeadLetterRecord{
		URLID:      "u1",
		URL:        "https://example.com/private",
		Domain:     "example.com",
		Reason:     crawler.ReasonRobotsDisallowed,
		ErrorClass: crawler.ErrorClassRobots,
		Attempts:   0,
		RecordedAt: now,
	}
	mock.ExpectExec("INSERT INTO frontier_dead_letters").
		WithArgs("u1", rec.URL, rec.Domain, rec.Reason, "robots", 0, 0, "", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Record(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())

	require.Error(t, store.Record(context.Background(), crawler.DeadLetterRecord{}))
}

func TestDeadLetterStoreList(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewDeadLetterStore(mock, "")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	rows := pgxmock.NewRows([]string{
		"url_id", "url", "domain", "reason", "error_class", "status_code", "attempts", "method", "recorded_at",
	}).
		AddRow("u2", "https://b.example/", "b.example", crawler.ReasonAntiBotExhausted, "challenge", 403, 3, "rendered", now).
		AddRow("u1", "https://a.example/", "a.example", crawler.ReasonClientError, "client", 404, 0, "direct", now.Add(-time.Minute))
	mock.ExpectQuery("SELECT url_id, url, domain").WithArgs(10).WillReturnRows(rows)

	got, err := store.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "u2", got[0].URLID)
	require.Equal(t, crawler.ErrorClassChallenge, got[0].ErrorClass)
	require.Equal(t, crawler.MethodRendered, got[0].Method)
	require.Equal(t, 404, got[1].StatusCode)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	seen, err := NewSeenStore(mock, "")
	require.NoError(t, err)
	dl, err := NewDeadLetterStore(mock, "")
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS frontier_seen").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS frontier_dead_letters").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, seen.EnsureSchema(context.Background()))
	require.NoError(t, dl.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConnectRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := Connect(context.Background(), Config{})
	require.Error(t, err)
}
