package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"erpsync/internal/config"
	"erpsync/internal/domain"
)

// SyncService drives the sync engine for one tenant at a time: it decides
// between initial backfill and incremental advance, carves windows into
// batches, and pushes batches through their state machine. Batches of one
// tenant are always processed sequentially; callers may run different tenants
// concurrently.
type SyncService struct {
	remote    Remote
	sizer     WindowSizer
	fetcher   CursorFetcher
	batches   BatchStore
	statuses  StatusStore
	sessions  SessionStore
	records   RecordStore
	tenants   TenantStore
	txManager TransactionManager
	publisher Publisher
	mapper    MapFunc
	logger    *slog.Logger
	config    config.SyncConfig
}

func NewSyncService(
	remote Remote,
	sizer WindowSizer,
	fetcher CursorFetcher,
	batches BatchStore,
	statuses StatusStore,
	sessions SessionStore,
	records RecordStore,
	tenants TenantStore,
	txManager TransactionManager,
	publisher Publisher,
	mapper MapFunc,
	logger *slog.Logger,
	cfg config.SyncConfig,
) *SyncService {
	if mapper == nil {
		mapper = DefaultMapper
	}
	return &SyncService{
		remote:    remote,
		sizer:     sizer,
		fetcher:   fetcher,
		batches:   batches,
		statuses:  statuses,
		sessions:  sessions,
		records:   records,
		tenants:   tenants,
		txManager: txManager,
		publisher: publisher,
		mapper:    mapper,
		logger:    logger,
		config:    cfg,
	}
}

// SyncTenant is the scheduler entry point: it runs either the initial
// backfill or an incremental pass depending on the tenant's status.
func (s *SyncService) SyncTenant(ctx context.Context, userID int64) (*domain.RunStats, error) {
	startTime := time.Now()
	logger := s.logger.With("user_id", userID)

	if reclaimed, err := s.batches.ReclaimStale(ctx, time.Now().Add(-s.config.LeaseTimeout)); err != nil {
		return nil, fmt.Errorf("reclaim stale batches: %w", err)
	} else if reclaimed > 0 {
		logger.Warn("reclaimed stale batches", "count", reclaimed)
	}

	tenant, err := s.tenants.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load tenant: %w", err)
	}

	conn, err := s.remote.Authenticate(ctx, *tenant)
	if err != nil {
		return nil, fmt.Errorf("authenticate tenant %d: %w", userID, err)
	}

	status, err := s.statuses.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load sync status: %w", err)
	}

	horizon := time.Now().Add(-s.config.SafetyLag).Truncate(time.Second)

	var stats *domain.RunStats
	if !status.InitialSyncDone {
		stats, err = s.runInitial(ctx, conn, userID, horizon, logger)
	} else {
		stats, err = s.runIncremental(ctx, conn, userID, status, horizon, logger)
	}
	if err != nil {
		return nil, err
	}

	stats.Duration = time.Since(startTime)
	logger.Info("sync run finished",
		"type", stats.Type,
		"batches", stats.Total,
		"succeeded", stats.Succeeded,
		"failed", stats.Failed,
		"records", stats.Records,
		"duration", stats.Duration,
	)
	return stats, nil
}

// runInitial carves the full historical range per module into a chain of
// sized windows, one batch each, under a single initial session.
func (s *SyncService) runInitial(ctx context.Context, conn *domain.Connection, userID int64, horizon time.Time, logger *slog.Logger) (*domain.RunStats, error) {
	start := horizon.AddDate(0, 0, -s.config.HistoricalDays)
	logger.Info("starting initial sync", "from", start, "to", horizon)

	sess := &domain.SyncSession{ID: uuid.NewString(), UserID: userID, Type: domain.SessionInitial}
	if err := s.sessions.Open(ctx, sess); err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	defer s.closeSession(ctx, sess.ID, logger)

	stats := &domain.RunStats{UserID: userID, Type: domain.SessionInitial}

	carveFailed := false
	for _, module := range s.config.Modules {
		// Resume an interrupted backfill where carving left off: ranges
		// already backed by batches are never carved twice, so a rerun picks
		// up the existing batches at their checkpoints instead of duplicating
		// them.
		from := start
		covered, err := s.batches.LastWindowEnd(ctx, userID, module)
		if err != nil {
			logger.Error("load carve progress", "module", module, "error", err)
			carveFailed = true
			stats.Failed++
			if err := s.sessions.RecordOutcome(ctx, sess.ID, false); err != nil {
				logger.Error("record carve failure", "module", module, "error", err)
			}
			continue
		}
		if covered.After(from) {
			logger.Info("resuming carve", "module", module, "from", covered)
			from = covered
		}
		if !from.Before(horizon) {
			continue
		}

		if err := s.carve(ctx, conn, sess, module, from, horizon); err != nil {
			logger.Error("carving failed", "module", module, "error", err)
			carveFailed = true
			stats.Failed++
			if err := s.sessions.RecordOutcome(ctx, sess.ID, false); err != nil {
				logger.Error("record carve failure", "module", module, "error", err)
			}
		}
	}

	s.processRunnable(ctx, conn, sess, userID, stats, logger)

	incomplete, err := s.batches.CountIncomplete(ctx, userID)
	if err != nil {
		return stats, fmt.Errorf("count incomplete batches: %w", err)
	}
	if !carveFailed && stats.Failed == 0 && incomplete == 0 {
		if err := s.statuses.MarkInitialDone(ctx, userID, horizon); err != nil {
			return stats, fmt.Errorf("mark initial done: %w", err)
		}
		logger.Info("initial sync complete", "through", horizon)
	}

	return stats, nil
}

// closeSession stamps the session terminal. It runs deferred and outside the
// run's cancellation scope so a session never stays running after an aborted
// or errored run.
func (s *SyncService) closeSession(ctx context.Context, sessionID string, logger *slog.Logger) {
	if _, err := s.sessions.Close(context.WithoutCancel(ctx), sessionID); err != nil {
		logger.Error("close session", "session_id", sessionID, "error", err)
	}
}

// carve chains sized windows over [start, horizon): each window's end becomes
// the next window's start, so the batches tile the range without gaps.
// Windows the remote reports empty are skipped, not persisted.
func (s *SyncService) carve(ctx context.Context, conn *domain.Connection, sess *domain.SyncSession, module string, start, horizon time.Time) error {
	cursor := start
	for cursor.Before(horizon) {
		w, err := s.sizer.Shrink(ctx, conn, module, cursor, horizon)
		if err != nil {
			return err
		}
		if !w.End.After(cursor) {
			return fmt.Errorf("window sizer did not advance past %s", cursor)
		}

		if w.RecordCount > 0 {
			batch := &domain.SyncBatch{
				UserID:              sess.UserID,
				SessionID:           sess.ID,
				Module:              module,
				WindowStart:         w.Start,
				WindowEnd:           w.End,
				Status:              domain.BatchNotStarted,
				RecordCountExpected: w.RecordCount,
			}
			if err := s.batches.Create(ctx, batch); err != nil {
				return fmt.Errorf("create batch: %w", err)
			}
		}
		cursor = w.End
	}
	return nil
}

// runIncremental opens [lastCompletedWindowEnd, horizon) per module and
// advances the status cursor only when every batch for the tenant has reached
// terminal success.
func (s *SyncService) runIncremental(ctx context.Context, conn *domain.Connection, userID int64, status *domain.SyncStatus, horizon time.Time, logger *slog.Logger) (*domain.RunStats, error) {
	from := status.LastCompletedWindowEnd
	stats := &domain.RunStats{UserID: userID, Type: domain.SessionIncremental}

	sess := &domain.SyncSession{ID: uuid.NewString(), UserID: userID, Type: domain.SessionIncremental}
	if err := s.sessions.Open(ctx, sess); err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	defer s.closeSession(ctx, sess.ID, logger)

	advanceTo := horizon
	carveFailed := false
	if horizon.After(from) {
		for _, module := range s.config.Modules {
			w, err := s.sizer.Shrink(ctx, conn, module, from, horizon)
			if err != nil {
				logger.Error("incremental window sizing failed", "module", module, "error", err)
				carveFailed = true
				stats.Failed++
				if err := s.sessions.RecordOutcome(ctx, sess.ID, false); err != nil {
					logger.Error("record sizing failure", "module", module, "error", err)
				}
				continue
			}
			if w.RecordCount > 0 {
				batch := &domain.SyncBatch{
					UserID:              userID,
					SessionID:           sess.ID,
					Module:              module,
					WindowStart:         w.Start,
					WindowEnd:           w.End,
					Status:              domain.BatchNotStarted,
					RecordCountExpected: w.RecordCount,
				}
				if err := s.batches.Create(ctx, batch); err != nil {
					return stats, fmt.Errorf("create batch: %w", err)
				}
			}
			// A module that had to shrink holds the whole tenant back: the
			// cursor advances to the smallest window end across modules, and
			// the overlap is re-covered by idempotent upserts next pass.
			if w.End.Before(advanceTo) {
				advanceTo = w.End
			}
		}
	}

	s.processRunnable(ctx, conn, sess, userID, stats, logger)

	incomplete, err := s.batches.CountIncomplete(ctx, userID)
	if err != nil {
		return stats, fmt.Errorf("count incomplete batches: %w", err)
	}
	if !carveFailed && stats.Failed == 0 && incomplete == 0 && advanceTo.After(from) {
		if err := s.statuses.AdvanceWindow(ctx, userID, advanceTo); err != nil {
			return stats, fmt.Errorf("advance window: %w", err)
		}
		logger.Info("window advanced", "from", from, "to", advanceTo)
	}

	return stats, nil
}

// processRunnable claims and drives every currently runnable batch of the
// tenant, one at a time. A batch that fails mid-run is re-armed (or parked)
// by its state machine but not re-attempted within the same run.
func (s *SyncService) processRunnable(ctx context.Context, conn *domain.Connection, sess *domain.SyncSession, userID int64, stats *domain.RunStats, logger *slog.Logger) {
	runnable, err := s.batches.ListRunnable(ctx, userID)
	if err != nil {
		logger.Error("list runnable batches", "error", err)
		return
	}

	for i := range runnable {
		if ctx.Err() != nil {
			logger.Info("run cancelled", "remaining", len(runnable)-i)
			return
		}

		batch := &runnable[i]
		claimed, err := s.batches.Claim(ctx, batch.ID)
		if err != nil {
			logger.Error("claim batch", "batch_id", batch.ID, "error", err)
			return
		}
		if !claimed {
			// Another driver got there first.
			continue
		}
		batch.Status = domain.BatchInProgress

		stats.Total++
		ok, persisted := s.driveBatch(ctx, conn, sess, batch, logger)
		stats.Records += persisted
		if ok {
			stats.Succeeded++
		} else {
			stats.Failed++
		}
	}
}

// driveBatch runs one claimed batch to a terminal-or-rearmed state and
// records the outcome on the session. Returns success and the number of
// records committed, which can be non-zero even on failure since pages commit
// one at a time.
func (s *SyncService) driveBatch(ctx context.Context, conn *domain.Connection, sess *domain.SyncSession, batch *domain.SyncBatch, logger *slog.Logger) (bool, int) {
	persisted, err := s.processBatch(ctx, conn, batch)
	if err == nil {
		if err := s.batches.Update(ctx, batch); err != nil {
			logger.Error("persist batch success", "batch_id", batch.ID, "error", err)
		}
		if err := s.sessions.RecordOutcome(ctx, sess.ID, true); err != nil {
			logger.Error("record batch outcome", "batch_id", batch.ID, "error", err)
		}
		return true, persisted
	}

	// Shutdown is not a failure: the batch goes back untouched without
	// consuming an attempt. Gated on the driver's own context, not the error
	// chain — a remote call timing out under a healthy context surfaces as a
	// TransportError wrapping context.DeadlineExceeded and must still count
	// against the retry cap below.
	if ctx.Err() != nil {
		if relErr := s.batches.Release(context.WithoutCancel(ctx), batch.ID); relErr != nil {
			logger.Error("release cancelled batch", "batch_id", batch.ID, "error", relErr)
		}
		return false, persisted
	}

	batch.RegisterFailure(err.Error(), s.config.MaxBatchAttempts, domain.TerminalFailure(err))
	logger.Error("batch failed",
		"batch_id", batch.ID,
		"module", batch.Module,
		"attempts", batch.Attempts,
		"status", batch.Status,
		"error", err,
	)
	if err := s.batches.Update(ctx, batch); err != nil {
		logger.Error("persist batch failure", "batch_id", batch.ID, "error", err)
	}
	if err := s.sessions.RecordOutcome(ctx, sess.ID, false); err != nil {
		logger.Error("record batch outcome", "batch_id", batch.ID, "error", err)
	}
	return false, persisted
}

// processBatch executes one claimed batch: re-validate the window (the data
// may have grown denser since the batch was carved), then fetch pages from
// the checkpoint onward, persisting each page and its new checkpoint in one
// transaction so a crash resumes near where it stopped.
func (s *SyncService) processBatch(ctx context.Context, conn *domain.Connection, batch *domain.SyncBatch) (int, error) {
	w := domain.TimeWindow{Start: batch.WindowStart, End: batch.WindowEnd, RecordCount: batch.RecordCountExpected}

	chk, err := s.sizer.Validate(ctx, conn, batch.Module, w.Start, w.End)
	if err != nil {
		return 0, err
	}
	if chk.Acceptable {
		w.RecordCount = chk.Count
		batch.RecordCountExpected = chk.Count
	} else {
		shrunk, err := s.sizer.Shrink(ctx, conn, batch.Module, w.Start, w.End)
		if err != nil {
			return 0, err
		}
		// Narrow this batch to the shrunk window and spin the remainder off
		// into a fresh batch so no part of the original range is lost.
		remainder := &domain.SyncBatch{
			UserID:      batch.UserID,
			SessionID:   batch.SessionID,
			Module:      batch.Module,
			WindowStart: shrunk.End,
			WindowEnd:   batch.WindowEnd,
			Status:      domain.BatchNotStarted,
		}
		if err := s.batches.Create(ctx, remainder); err != nil {
			return 0, &domain.PersistenceError{Op: "create remainder batch", Err: err}
		}
		batch.WindowEnd = shrunk.End
		batch.RecordCountExpected = shrunk.RecordCount
		w = shrunk
	}

	persisted := 0
	err = s.fetcher.FetchPages(ctx, conn, batch.Module, w, batch.LastProcessedID, func(page []domain.RawRecord) error {
		records := make([]domain.Record, 0, len(page))
		for _, raw := range page {
			rec, err := s.mapper(batch.Module, raw)
			if err != nil {
				return &domain.IntegrityError{Module: batch.Module, Detail: err.Error()}
			}
			rec.UserID = batch.UserID
			records = append(records, rec)
		}
		pageLast := page[len(page)-1].ID

		txErr := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
			for i := range records {
				if err := s.records.Upsert(txCtx, &records[i]); err != nil {
					return err
				}
			}
			return s.batches.UpdateCheckpoint(txCtx, batch.ID, pageLast)
		})
		if txErr != nil {
			return &domain.PersistenceError{Op: "persist page", Err: txErr}
		}
		batch.LastProcessedID = pageLast
		persisted += len(records)

		if s.publisher != nil {
			for i := range records {
				if err := s.publisher.Publish(ctx, &records[i]); err != nil {
					s.logger.Warn("publish record",
						"module", batch.Module,
						"remote_id", records[i].RemoteID,
						"error", err,
					)
				}
			}
		}
		return nil
	})
	if err != nil {
		return persisted, err
	}

	batch.RegisterSuccess(batch.LastProcessedID)
	return persisted, nil
}

// RetryBatch is the operator action: unconditionally re-arm a batch and,
// when immediate is set, drive it right away under a fresh session instead of
// waiting for the next scheduled pass.
func (s *SyncService) RetryBatch(ctx context.Context, batchID int64, immediate bool) error {
	batch, err := s.batches.Get(ctx, batchID)
	if err != nil {
		return fmt.Errorf("load batch: %w", err)
	}

	batch.ResetForRetry()
	if err := s.batches.Update(ctx, batch); err != nil {
		return fmt.Errorf("reset batch: %w", err)
	}
	s.logger.Info("batch reset for retry", "batch_id", batchID, "immediate", immediate)

	if !immediate {
		return nil
	}

	tenant, err := s.tenants.Get(ctx, batch.UserID)
	if err != nil {
		return fmt.Errorf("load tenant: %w", err)
	}
	conn, err := s.remote.Authenticate(ctx, *tenant)
	if err != nil {
		return fmt.Errorf("authenticate tenant %d: %w", batch.UserID, err)
	}

	sess := &domain.SyncSession{ID: uuid.NewString(), UserID: batch.UserID, Type: domain.SessionIncremental}
	if err := s.sessions.Open(ctx, sess); err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	defer s.closeSession(ctx, sess.ID, s.logger)

	claimed, err := s.batches.Claim(ctx, batch.ID)
	if err != nil {
		return fmt.Errorf("claim batch: %w", err)
	}
	if !claimed {
		return fmt.Errorf("batch %d already claimed by another driver", batch.ID)
	}
	batch.Status = domain.BatchInProgress

	ok, _ := s.driveBatch(ctx, conn, sess, batch, s.logger.With("user_id", batch.UserID))
	if !ok {
		return fmt.Errorf("batch %d retry failed: %s", batch.ID, derefOr(batch.LastError, "cancelled"))
	}
	return nil
}

// ListBatches exposes the audit trail to the operator surface.
func (s *SyncService) ListBatches(ctx context.Context, userID int64, status string) ([]domain.SyncBatch, error) {
	return s.batches.ListByUser(ctx, userID, status)
}

// Sessions exposes run history to the operator surface.
func (s *SyncService) Sessions(ctx context.Context, userID int64, limit int) ([]domain.SyncSession, error) {
	return s.sessions.ListByUser(ctx, userID, limit)
}

func derefOr(s *string, fallback string) string {
	if s != nil {
		return *s
	}
	return fallback
}
