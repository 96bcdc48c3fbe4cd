package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"erpsync/internal/domain"
)

type StatusStore struct {
	db *sqlx.DB
}

func NewStatusStore(db *sqlx.DB) *StatusStore {
	return &StatusStore{db: db}
}

func (s *StatusStore) Get(ctx context.Context, userID int64) (*domain.SyncStatus, error) {
	var status domain.SyncStatus
	query := `
		SELECT user_id, initial_sync_done, last_completed_window_end, updated_at
		FROM sync_status
		WHERE user_id = $1`

	err := s.db.GetContext(ctx, &status, query, userID)
	if err == sql.ErrNoRows {
		// Fresh tenant, no sync history yet.
		return &domain.SyncStatus{UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &status, nil
}

// MarkInitialDone records that the historical backfill completed through end.
func (s *StatusStore) MarkInitialDone(ctx context.Context, userID int64, end time.Time) error {
	query := `
		INSERT INTO sync_status (user_id, initial_sync_done, last_completed_window_end)
		VALUES ($1, true, $2)
		ON CONFLICT (user_id) DO UPDATE SET
			initial_sync_done = true,
			last_completed_window_end = GREATEST(sync_status.last_completed_window_end, EXCLUDED.last_completed_window_end),
			updated_at = now()`

	_, err := s.db.ExecContext(ctx, query, userID, end)
	return err
}

// AdvanceWindow moves the incremental cursor forward. GREATEST keeps the
// invariant that the cursor never moves backwards, whatever the caller passes.
func (s *StatusStore) AdvanceWindow(ctx context.Context, userID int64, newEnd time.Time) error {
	query := `
		UPDATE sync_status
		SET last_completed_window_end = GREATEST(last_completed_window_end, $2),
			updated_at = now()
		WHERE user_id = $1`

	_, err := s.db.ExecContext(ctx, query, userID, newEnd)
	return err
}
