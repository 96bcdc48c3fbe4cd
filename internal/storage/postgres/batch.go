package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"erpsync/internal/domain"
)

type BatchStore struct {
	db *sqlx.DB
}

func NewBatchStore(db *sqlx.DB) *BatchStore {
	return &BatchStore{db: db}
}

const batchColumns = `id, user_id, session_id, module, window_start, window_end, status,
	attempts, last_error, last_processed_id, record_count_expected, created_at, updated_at`

func (s *BatchStore) Create(ctx context.Context, batch *domain.SyncBatch) error {
	query := `
		INSERT INTO sync_batches (
			user_id, session_id, module, window_start, window_end, status,
			attempts, last_processed_id, record_count_expected
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`

	return s.db.QueryRowContext(ctx, query,
		batch.UserID,
		batch.SessionID,
		batch.Module,
		batch.WindowStart,
		batch.WindowEnd,
		batch.Status,
		batch.Attempts,
		batch.LastProcessedID,
		batch.RecordCountExpected,
	).Scan(&batch.ID, &batch.CreatedAt, &batch.UpdatedAt)
}

func (s *BatchStore) Get(ctx context.Context, id int64) (*domain.SyncBatch, error) {
	var batch domain.SyncBatch
	query := `SELECT ` + batchColumns + ` FROM sync_batches WHERE id = $1`
	if err := s.db.GetContext(ctx, &batch, query, id); err != nil {
		return nil, err
	}
	return &batch, nil
}

// Claim atomically transitions not_started -> in_progress. The conditional
// UPDATE is the exclusivity guarantee: of two concurrent drivers exactly one
// sees a row affected.
func (s *BatchStore) Claim(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_batches
		SET status = $2, updated_at = now()
		WHERE id = $1 AND status = $3`,
		id, domain.BatchInProgress, domain.BatchNotStarted,
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// Release reverts a claimed batch to not_started, used on cancellation so a
// shut-down driver never leaves a batch stuck.
func (s *BatchStore) Release(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_batches
		SET status = $2, updated_at = now()
		WHERE id = $1 AND status = $3`,
		id, domain.BatchNotStarted, domain.BatchInProgress,
	)
	return err
}

func (s *BatchStore) Update(ctx context.Context, batch *domain.SyncBatch) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_batches
		SET status = $2,
			attempts = $3,
			last_error = $4,
			last_processed_id = $5,
			record_count_expected = $6,
			window_end = $7,
			updated_at = now()
		WHERE id = $1`,
		batch.ID,
		batch.Status,
		batch.Attempts,
		batch.LastError,
		batch.LastProcessedID,
		batch.RecordCountExpected,
		batch.WindowEnd,
	)
	return err
}

// UpdateCheckpoint persists the resumption cursor. It is transaction-aware so
// the checkpoint commits atomically with the page of records it covers.
func (s *BatchStore) UpdateCheckpoint(ctx context.Context, id, lastProcessedID int64) error {
	exec := GetExecutor(ctx, s.db)
	_, err := exec.ExecContext(ctx, `
		UPDATE sync_batches
		SET last_processed_id = $2, updated_at = now()
		WHERE id = $1`,
		id, lastProcessedID,
	)
	return err
}

// ReclaimStale resets batches stuck in_progress past their lease, making them
// eligible for retry after a crashed or hung driver.
func (s *BatchStore) ReclaimStale(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_batches
		SET status = $1, updated_at = now()
		WHERE status = $2 AND updated_at < $3`,
		domain.BatchNotStarted, domain.BatchInProgress, olderThan,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// LastWindowEnd reports how far carving has progressed for a tenant's module:
// the latest window end any batch covers, zero when none exist.
func (s *BatchStore) LastWindowEnd(ctx context.Context, userID int64, module string) (time.Time, error) {
	var end sql.NullTime
	err := s.db.GetContext(ctx, &end, `
		SELECT MAX(window_end) FROM sync_batches
		WHERE user_id = $1 AND module = $2`,
		userID, module,
	)
	if err != nil {
		return time.Time{}, err
	}
	if !end.Valid {
		return time.Time{}, nil
	}
	return end.Time, nil
}

func (s *BatchStore) ListRunnable(ctx context.Context, userID int64) ([]domain.SyncBatch, error) {
	var batches []domain.SyncBatch
	query := `SELECT ` + batchColumns + `
		FROM sync_batches
		WHERE user_id = $1 AND status = $2
		ORDER BY window_start, module, id`
	err := s.db.SelectContext(ctx, &batches, query, userID, domain.BatchNotStarted)
	return batches, err
}

// ListByUser filters the audit trail; an empty status returns every batch.
func (s *BatchStore) ListByUser(ctx context.Context, userID int64, status string) ([]domain.SyncBatch, error) {
	var batches []domain.SyncBatch
	if status == "" {
		query := `SELECT ` + batchColumns + ` FROM sync_batches WHERE user_id = $1 ORDER BY id`
		err := s.db.SelectContext(ctx, &batches, query, userID)
		return batches, err
	}
	query := `SELECT ` + batchColumns + ` FROM sync_batches WHERE user_id = $1 AND status = $2 ORDER BY id`
	err := s.db.SelectContext(ctx, &batches, query, userID, status)
	return batches, err
}

// CountIncomplete counts batches that have not reached terminal success; the
// window advance gate requires this to be zero.
func (s *BatchStore) CountIncomplete(ctx context.Context, userID int64) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM sync_batches
		WHERE user_id = $1 AND status <> $2`,
		userID, domain.BatchCompleted,
	)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return count, err
}
