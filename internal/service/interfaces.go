package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"time"

	"erpsync/internal/domain"
)

// Remote opens authenticated per-tenant sessions against the ERP system.
type Remote interface {
	Authenticate(ctx context.Context, tenant domain.Tenant) (*domain.Connection, error)
}

// WindowSizer bounds query result sizes by shrinking time windows.
type WindowSizer interface {
	Shrink(ctx context.Context, conn *domain.Connection, module string, start, end time.Time) (domain.TimeWindow, error)
	Validate(ctx context.Context, conn *domain.Connection, module string, start, end time.Time) (domain.WindowCheck, error)
}

// CursorFetcher pages through a sized window by remote id.
type CursorFetcher interface {
	FetchPages(ctx context.Context, conn *domain.Connection, module string, w domain.TimeWindow, resumeAfterID int64, fn func(page []domain.RawRecord) error) error
}

type BatchStore interface {
	Create(ctx context.Context, batch *domain.SyncBatch) error
	Get(ctx context.Context, id int64) (*domain.SyncBatch, error)
	Claim(ctx context.Context, id int64) (bool, error)
	Release(ctx context.Context, id int64) error
	Update(ctx context.Context, batch *domain.SyncBatch) error
	UpdateCheckpoint(ctx context.Context, id, lastProcessedID int64) error
	ReclaimStale(ctx context.Context, olderThan time.Time) (int64, error)
	LastWindowEnd(ctx context.Context, userID int64, module string) (time.Time, error)
	ListRunnable(ctx context.Context, userID int64) ([]domain.SyncBatch, error)
	ListByUser(ctx context.Context, userID int64, status string) ([]domain.SyncBatch, error)
	CountIncomplete(ctx context.Context, userID int64) (int, error)
}

type StatusStore interface {
	Get(ctx context.Context, userID int64) (*domain.SyncStatus, error)
	MarkInitialDone(ctx context.Context, userID int64, end time.Time) error
	AdvanceWindow(ctx context.Context, userID int64, newEnd time.Time) error
}

type SessionStore interface {
	Open(ctx context.Context, session *domain.SyncSession) error
	RecordOutcome(ctx context.Context, sessionID string, success bool) error
	Close(ctx context.Context, sessionID string) (*domain.SyncSession, error)
	ListByUser(ctx context.Context, userID int64, limit int) ([]domain.SyncSession, error)
}

type RecordStore interface {
	Upsert(ctx context.Context, record *domain.Record) error
}

type TenantStore interface {
	Get(ctx context.Context, userID int64) (*domain.Tenant, error)
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type Publisher interface {
	Publish(ctx context.Context, record *domain.Record) error
	Close() error
}
