// Package cursor pages through a sized time window using the remote record
// identifier as a forward-only pagination boundary. Ids are append-only and
// never reassigned, so the predicate (modifiedAt in window) AND (id > cursor)
// is immune to concurrent inserts and updates: returned records can never
// reappear and unseen records cannot be skipped.
package cursor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"erpsync/internal/domain"
)

// Reader is the single remote capability the fetcher needs.
type Reader interface {
	Read(ctx context.Context, conn *domain.Connection, module string, start, end time.Time, afterID int64, limit int) ([]domain.RawRecord, error)
}

// Fetcher retrieves the complete, duplicate-free, gap-free record set of a
// window. It performs no retries; any page error aborts the whole fetch.
type Fetcher struct {
	reader   Reader
	pageSize int
	logger   *slog.Logger
}

func New(reader Reader, pageSize int, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		reader:   reader,
		pageSize: pageSize,
		logger:   logger.With("component", "cursor_fetcher"),
	}
}

// FetchPages walks the window page by page, invoking fn once per non-empty
// page. resumeAfterID seeds the cursor when resuming a partially committed
// batch; pass 0 to start from the window's beginning. An error from fn aborts
// the fetch and propagates unchanged.
func (f *Fetcher) FetchPages(ctx context.Context, conn *domain.Connection, module string, w domain.TimeWindow, resumeAfterID int64, fn func(page []domain.RawRecord) error) error {
	after := resumeAfterID
	pages := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		page, err := f.reader.Read(ctx, conn, module, w.Start, w.End, after, f.pageSize)
		if err != nil {
			return fmt.Errorf("fetch page after id %d: %w", after, err)
		}

		if err := verifyPage(module, page, after); err != nil {
			return err
		}

		if len(page) == 0 {
			break
		}

		if err := fn(page); err != nil {
			return err
		}

		after = page[len(page)-1].ID
		pages++

		if len(page) < f.pageSize {
			break
		}
	}

	f.logger.Debug("window exhausted",
		"module", module,
		"pages", pages,
		"last_id", after,
	)

	return nil
}

// FetchAll accumulates every page of the window and returns the full ordered
// set: ascending ids, no duplicates, complete with respect to the window
// predicate as evaluated at each page's query time.
func (f *Fetcher) FetchAll(ctx context.Context, conn *domain.Connection, module string, w domain.TimeWindow, resumeAfterID int64) ([]domain.RawRecord, error) {
	var all []domain.RawRecord
	err := f.FetchPages(ctx, conn, module, w, resumeAfterID, func(page []domain.RawRecord) error {
		all = append(all, page...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return all, nil
}

// verifyPage enforces the monotonic-id contract: every id strictly greater
// than the cursor and strictly ascending within the page. A violation means
// the remote ordering guarantee broke and the batch must not be retried
// blindly.
func verifyPage(module string, page []domain.RawRecord, after int64) error {
	prev := after
	for _, rec := range page {
		if rec.ID <= prev {
			return &domain.IntegrityError{
				Module: module,
				Detail: fmt.Sprintf("id %d not greater than cursor %d", rec.ID, prev),
			}
		}
		prev = rec.ID
	}
	return nil
}
