package domain

import "time"

// TimeWindow is a half-open time range [Start, End) over the remote
// modification timestamp. RecordCount is the count the remote system reported
// at sizing time; the dataset may mutate afterwards, so it is advisory only.
type TimeWindow struct {
	Start       time.Time
	End         time.Time
	RecordCount int
}

// WindowCheck is the result of a single count check without shrinking.
type WindowCheck struct {
	Count      int
	Acceptable bool
}

// Batch statuses.
const (
	BatchNotStarted        = "not_started"
	BatchInProgress        = "in_progress"
	BatchCompleted         = "completed"
	BatchPermanentlyFailed = "permanently_failed"
)

// Session types and statuses.
const (
	SessionInitial     = "initial"
	SessionIncremental = "incremental"

	SessionRunning = "running"
	SessionSuccess = "success"
	SessionFailed  = "failed"
	SessionPartial = "partial"
)

// SyncBatch is the durable unit of work binding a tenant, module and time
// window to a retryable state machine. Rows are never deleted; they double as
// an audit trail.
type SyncBatch struct {
	ID                  int64     `db:"id"`
	UserID              int64     `db:"user_id"`
	SessionID           string    `db:"session_id"`
	Module              string    `db:"module"`
	WindowStart         time.Time `db:"window_start"`
	WindowEnd           time.Time `db:"window_end"`
	Status              string    `db:"status"`
	Attempts            int       `db:"attempts"`
	LastError           *string   `db:"last_error"`
	LastProcessedID     int64     `db:"last_processed_id"`
	RecordCountExpected int       `db:"record_count_expected"`
	CreatedAt           time.Time `db:"created_at"`
	UpdatedAt           time.Time `db:"updated_at"`
}

// RegisterSuccess marks the batch completed. lastID is the highest remote
// identifier committed for the window.
func (b *SyncBatch) RegisterSuccess(lastID int64) {
	b.Status = BatchCompleted
	b.LastProcessedID = lastID
	b.LastError = nil
}

// RegisterFailure records one failed attempt. Retryable failures go back to
// not_started until the attempt cap is met; terminal failures (auth,
// integrity) and capped retryable ones park the batch as permanently_failed.
func (b *SyncBatch) RegisterFailure(cause string, maxAttempts int, terminal bool) {
	b.Attempts++
	b.LastError = &cause
	if terminal || b.Attempts >= maxAttempts {
		b.Status = BatchPermanentlyFailed
		return
	}
	b.Status = BatchNotStarted
}

// ResetForRetry is the operator escape hatch: it unconditionally re-arms the
// batch regardless of its current state.
func (b *SyncBatch) ResetForRetry() {
	b.Status = BatchNotStarted
	b.Attempts = 0
	b.LastError = nil
}

// Terminal reports whether the batch is done as far as automatic processing
// is concerned.
func (b *SyncBatch) Terminal() bool {
	return b.Status == BatchCompleted || b.Status == BatchPermanentlyFailed
}

// SyncStatus is the per-tenant cursor-of-cursors. LastCompletedWindowEnd only
// ever moves forward, and only after every batch of the preceding window has
// completed.
type SyncStatus struct {
	UserID                 int64     `db:"user_id"`
	InitialSyncDone        bool      `db:"initial_sync_done"`
	LastCompletedWindowEnd time.Time `db:"last_completed_window_end"`
	UpdatedAt              time.Time `db:"updated_at"`
}

// SyncSession is the audit record of one sync run.
type SyncSession struct {
	ID                string     `db:"id"`
	UserID            int64      `db:"user_id"`
	Type              string     `db:"type"`
	Status            string     `db:"status"`
	StartAt           time.Time  `db:"start_at"`
	EndAt             *time.Time `db:"end_at"`
	TotalBatches      int        `db:"total_batches"`
	SuccessfulBatches int        `db:"successful_batches"`
	FailedBatches     int        `db:"failed_batches"`
}

// CloseStatus derives the terminal session status from the recorded outcomes.
func (s *SyncSession) CloseStatus() string {
	switch {
	case s.FailedBatches == 0:
		return SessionSuccess
	case s.SuccessfulBatches == 0:
		return SessionFailed
	default:
		return SessionPartial
	}
}

// RunStats summarizes one orchestrator run for logging.
type RunStats struct {
	UserID    int64
	Type      string
	Total     int
	Succeeded int
	Failed    int
	Records   int
	Duration  time.Duration
}
