package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"erpsync/internal/domain"
)

// Syncer runs one full sync pass for a single tenant.
type Syncer interface {
	SyncTenant(ctx context.Context, userID int64) (*domain.RunStats, error)
}

// TenantSource lists the tenants currently enabled for syncing.
type TenantSource interface {
	ListActive(ctx context.Context) ([]domain.Tenant, error)
}

type Scheduler struct {
	syncer     Syncer
	tenants    TenantSource
	interval   time.Duration
	runTimeout time.Duration
	logger     *slog.Logger
}

func NewScheduler(syncer Syncer, tenants TenantSource, interval, runTimeout time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		syncer:     syncer,
		tenants:    tenants,
		interval:   interval,
		runTimeout: runTimeout,
		logger:     logger,
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval)

	s.runAll(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

// runAll fans one pass out across all active tenants. Tenants sync
// concurrently; batches within a tenant stay sequential inside the syncer.
func (s *Scheduler) runAll(ctx context.Context) {
	tenants, err := s.tenants.ListActive(ctx)
	if err != nil {
		s.logger.Error("list active tenants", "error", err)
		return
	}
	if len(tenants) == 0 {
		s.logger.Debug("no active tenants")
		return
	}

	var wg sync.WaitGroup
	for _, tenant := range tenants {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			s.runTenant(ctx, userID)
		}(tenant.UserID)
	}
	wg.Wait()
}

func (s *Scheduler) runTenant(ctx context.Context, userID int64) {
	syncCtx, cancel := context.WithTimeout(ctx, s.runTimeout)
	defer cancel()

	if _, err := s.syncer.SyncTenant(syncCtx, userID); err != nil {
		s.logger.Error("tenant sync failed", "user_id", userID, "error", err)
	}
}
