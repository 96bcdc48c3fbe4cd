package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"erpsync/internal/domain"
)

type RecordStore struct {
	db *sqlx.DB
}

func NewRecordStore(db *sqlx.DB) *RecordStore {
	return &RecordStore{db: db}
}

// Upsert mirrors one remote record, keyed by (user_id, module, remote_id).
// Insert-or-update semantics make retried batches safe: replaying a page is a
// no-op apart from refreshed payloads. Transaction-aware so a whole page
// commits atomically with its checkpoint.
func (s *RecordStore) Upsert(ctx context.Context, record *domain.Record) error {
	payload, err := json.Marshal(record.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	query := `
		INSERT INTO erp_records (user_id, module, remote_id, name, modified_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, module, remote_id) DO UPDATE SET
			name = EXCLUDED.name,
			modified_at = EXCLUDED.modified_at,
			payload = EXCLUDED.payload,
			updated_at = now()`

	exec := GetExecutor(ctx, s.db)
	_, err = exec.ExecContext(ctx, query,
		record.UserID,
		record.Module,
		record.RemoteID,
		record.Name,
		record.ModifiedAt,
		payload,
	)
	return err
}

// Count reports how many records are mirrored for a tenant's module.
func (s *RecordStore) Count(ctx context.Context, userID int64, module string) (int64, error) {
	var count int64
	err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM erp_records WHERE user_id = $1 AND module = $2`,
		userID, module,
	)
	return count, err
}
