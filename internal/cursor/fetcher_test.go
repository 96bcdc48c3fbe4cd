package cursor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"erpsync/internal/domain"
)

// memReader serves a fixed in-memory dataset the way the remote system would:
// filtered by window, id > cursor, ascending, bounded by limit.
type memReader struct {
	records []domain.RawRecord
	reads   int
}

func (r *memReader) Read(_ context.Context, _ *domain.Connection, _ string, start, end time.Time, afterID int64, limit int) ([]domain.RawRecord, error) {
	r.reads++
	var page []domain.RawRecord
	for _, rec := range r.records {
		if rec.ID <= afterID {
			continue
		}
		if rec.ModifiedAt.Before(start) || !rec.ModifiedAt.Before(end) {
			continue
		}
		page = append(page, rec)
		if len(page) == limit {
			break
		}
	}
	return page, nil
}

type errReader struct{ err error }

func (r *errReader) Read(context.Context, *domain.Connection, string, time.Time, time.Time, int64, int) ([]domain.RawRecord, error) {
	return nil, r.err
}

// scriptedReader returns canned pages in order, ignoring the query.
type scriptedReader struct {
	pages [][]domain.RawRecord
	next  int
}

func (r *scriptedReader) Read(context.Context, *domain.Connection, string, time.Time, time.Time, int64, int) ([]domain.RawRecord, error) {
	if r.next >= len(r.pages) {
		return nil, nil
	}
	page := r.pages[r.next]
	r.next++
	return page, nil
}

var windowStart = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func dataset(ids ...int64) []domain.RawRecord {
	records := make([]domain.RawRecord, 0, len(ids))
	for i, id := range ids {
		records = append(records, domain.RawRecord{
			ID:         id,
			ModifiedAt: windowStart.Add(time.Duration(i) * time.Minute),
			Fields:     map[string]any{"id": float64(id)},
		})
	}
	return records
}

func seqIDs(from, to int64) []int64 {
	ids := make([]int64, 0, to-from+1)
	for id := from; id <= to; id++ {
		ids = append(ids, id)
	}
	return ids
}

func newFetcher(r Reader, pageSize int) *Fetcher {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	return New(r, pageSize, logger)
}

func testWindow() domain.TimeWindow {
	return domain.TimeWindow{Start: windowStart, End: windowStart.Add(24 * time.Hour)}
}

func TestFetchAll_ThirtyRecordsInPagesOfTen(t *testing.T) {
	reader := &memReader{records: dataset(seqIDs(101, 130)...)}
	fetcher := newFetcher(reader, 10)

	records, err := fetcher.FetchAll(context.Background(), nil, "res.partner", testWindow(), 0)
	require.NoError(t, err)
	require.Len(t, records, 30)

	// Three full pages and a fourth empty one.
	assert.Equal(t, 4, reader.reads)

	seen := map[int64]bool{}
	prev := int64(0)
	for _, rec := range records {
		assert.Greater(t, rec.ID, prev)
		assert.False(t, seen[rec.ID])
		seen[rec.ID] = true
		prev = rec.ID
	}
	assert.Equal(t, int64(101), records[0].ID)
	assert.Equal(t, int64(130), records[29].ID)
}

func TestFetchAll_ShortPageTerminates(t *testing.T) {
	reader := &memReader{records: dataset(seqIDs(1, 25)...)}
	fetcher := newFetcher(reader, 10)

	records, err := fetcher.FetchAll(context.Background(), nil, "res.partner", testWindow(), 0)
	require.NoError(t, err)
	assert.Len(t, records, 25)
	assert.Equal(t, 3, reader.reads, "short third page signals exhaustion")
}

func TestFetchAll_IdempotentUnderFixedData(t *testing.T) {
	reader := &memReader{records: dataset(5, 9, 14, 15, 16, 30, 31, 57)}
	fetcher := newFetcher(reader, 3)

	first, err := fetcher.FetchAll(context.Background(), nil, "res.partner", testWindow(), 0)
	require.NoError(t, err)
	second, err := fetcher.FetchAll(context.Background(), nil, "res.partner", testWindow(), 0)
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
	}
}

func TestFetchAll_ResumptionMatchesFilteredFullFetch(t *testing.T) {
	reader := &memReader{records: dataset(seqIDs(200, 240)...)}
	fetcher := newFetcher(reader, 7)

	full, err := fetcher.FetchAll(context.Background(), nil, "res.partner", testWindow(), 0)
	require.NoError(t, err)

	resumed, err := fetcher.FetchAll(context.Background(), nil, "res.partner", testWindow(), 217)
	require.NoError(t, err)

	var want []int64
	for _, rec := range full {
		if rec.ID > 217 {
			want = append(want, rec.ID)
		}
	}
	got := make([]int64, 0, len(resumed))
	for _, rec := range resumed {
		got = append(got, rec.ID)
	}
	assert.Equal(t, want, got)
}

func TestFetchPages_CallbackPerPageWithAdvancingCursor(t *testing.T) {
	reader := &memReader{records: dataset(seqIDs(1, 12)...)}
	fetcher := newFetcher(reader, 5)

	var pageSizes []int
	err := fetcher.FetchPages(context.Background(), nil, "res.partner", testWindow(), 0, func(page []domain.RawRecord) error {
		pageSizes = append(pageSizes, len(page))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{5, 5, 2}, pageSizes)
}

func TestFetchPages_CallbackErrorAborts(t *testing.T) {
	reader := &memReader{records: dataset(seqIDs(1, 20)...)}
	fetcher := newFetcher(reader, 5)

	boom := errors.New("upsert failed")
	calls := 0
	err := fetcher.FetchPages(context.Background(), nil, "res.partner", testWindow(), 0, func([]domain.RawRecord) error {
		calls++
		if calls == 2 {
			return boom
		}
		return nil
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 2, calls)
}

func TestFetchPages_IntegrityViolationOnNonAscendingPage(t *testing.T) {
	reader := &scriptedReader{pages: [][]domain.RawRecord{
		{{ID: 10, ModifiedAt: windowStart}, {ID: 12, ModifiedAt: windowStart}, {ID: 11, ModifiedAt: windowStart}},
	}}
	fetcher := newFetcher(reader, 3)

	_, err := fetcher.FetchAll(context.Background(), nil, "res.partner", testWindow(), 0)
	var integrityErr *domain.IntegrityError
	require.ErrorAs(t, err, &integrityErr)
}

func TestFetchPages_IntegrityViolationOnStaleCursor(t *testing.T) {
	// A page whose first id is not beyond the cursor would re-deliver records.
	reader := &scriptedReader{pages: [][]domain.RawRecord{
		{{ID: 50, ModifiedAt: windowStart}},
	}}
	fetcher := newFetcher(reader, 3)

	_, err := fetcher.FetchAll(context.Background(), nil, "res.partner", testWindow(), 50)
	var integrityErr *domain.IntegrityError
	require.ErrorAs(t, err, &integrityErr)
}

func TestFetchPages_TransportErrorPropagates(t *testing.T) {
	fetcher := newFetcher(&errReader{err: &domain.TransportError{Op: "search_read", Err: errors.New("timeout")}}, 10)

	err := fetcher.FetchPages(context.Background(), nil, "res.partner", testWindow(), 0, func([]domain.RawRecord) error {
		t.Fatal("callback must not run")
		return nil
	})
	var transportErr *domain.TransportError
	require.ErrorAs(t, err, &transportErr)
}

func TestFetchPages_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fetcher := newFetcher(&memReader{records: dataset(1, 2, 3)}, 10)
	err := fetcher.FetchPages(ctx, nil, "res.partner", testWindow(), 0, func([]domain.RawRecord) error {
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
}
