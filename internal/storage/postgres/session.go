package postgres

import (
	"context"

	"github.com/jmoiron/sqlx"

	"erpsync/internal/domain"
)

type SessionStore struct {
	db *sqlx.DB
}

func NewSessionStore(db *sqlx.DB) *SessionStore {
	return &SessionStore{db: db}
}

const sessionColumns = `id, user_id, type, status, start_at, end_at,
	total_batches, successful_batches, failed_batches`

func (s *SessionStore) Open(ctx context.Context, session *domain.SyncSession) error {
	query := `
		INSERT INTO sync_sessions (id, user_id, type, status)
		VALUES ($1, $2, $3, $4)
		RETURNING start_at`

	session.Status = domain.SessionRunning
	return s.db.QueryRowContext(ctx, query,
		session.ID,
		session.UserID,
		session.Type,
		session.Status,
	).Scan(&session.StartAt)
}

func (s *SessionStore) RecordOutcome(ctx context.Context, sessionID string, success bool) error {
	query := `
		UPDATE sync_sessions
		SET total_batches = total_batches + 1,
			successful_batches = successful_batches + CASE WHEN $2 THEN 1 ELSE 0 END,
			failed_batches = failed_batches + CASE WHEN $2 THEN 0 ELSE 1 END
		WHERE id = $1`

	_, err := s.db.ExecContext(ctx, query, sessionID, success)
	return err
}

// Close stamps the end time and derives the terminal status from the
// recorded outcomes.
func (s *SessionStore) Close(ctx context.Context, sessionID string) (*domain.SyncSession, error) {
	var session domain.SyncSession
	query := `SELECT ` + sessionColumns + ` FROM sync_sessions WHERE id = $1`
	if err := s.db.GetContext(ctx, &session, query, sessionID); err != nil {
		return nil, err
	}

	session.Status = session.CloseStatus()

	err := s.db.QueryRowContext(ctx, `
		UPDATE sync_sessions
		SET status = $2, end_at = now()
		WHERE id = $1
		RETURNING end_at`,
		sessionID, session.Status,
	).Scan(&session.EndAt)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *SessionStore) ListByUser(ctx context.Context, userID int64, limit int) ([]domain.SyncSession, error) {
	var sessions []domain.SyncSession
	query := `SELECT ` + sessionColumns + `
		FROM sync_sessions
		WHERE user_id = $1
		ORDER BY start_at DESC
		LIMIT $2`
	err := s.db.SelectContext(ctx, &sessions, query, userID, limit)
	return sessions, err
}
