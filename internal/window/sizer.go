// Package window sizes time windows so a single bulk query against the
// remote system never exceeds the per-call row ceiling.
package window

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"erpsync/internal/domain"
)

// Counter is the single remote capability the sizer needs.
type Counter interface {
	Count(ctx context.Context, conn *domain.Connection, module string, start, end time.Time) (int, error)
}

// Config bounds the shrinking search.
type Config struct {
	LimitPerCall  int
	MinWindow     time.Duration
	MaxIterations int
}

// Sizer shrinks candidate windows by binary halving until the remote row
// count fits under the ceiling. It performs no retries.
type Sizer struct {
	counter Counter
	cfg     Config
	logger  *slog.Logger
}

func New(counter Counter, cfg Config, logger *slog.Logger) *Sizer {
	return &Sizer{
		counter: counter,
		cfg:     cfg,
		logger:  logger.With("component", "window_sizer"),
	}
}

// Shrink narrows [start, end) from the end until the remote count fits under
// the ceiling. The floor start never moves; it is a durable checkpoint for
// incremental sync. Returns a DensityError when the window would have to fall
// below the minimum width, and a plain error when the iteration budget runs
// out (which should never happen under correct configuration).
func (s *Sizer) Shrink(ctx context.Context, conn *domain.Connection, module string, start, end time.Time) (domain.TimeWindow, error) {
	if !end.After(start) {
		return domain.TimeWindow{}, fmt.Errorf("invalid window: start %s not before end %s", start, end)
	}

	for i := 0; i < s.cfg.MaxIterations; i++ {
		count, err := s.counter.Count(ctx, conn, module, start, end)
		if err != nil {
			return domain.TimeWindow{}, err
		}

		if count <= s.cfg.LimitPerCall {
			s.logger.Debug("window sized",
				"module", module,
				"start", start,
				"end", end,
				"count", count,
				"iterations", i+1,
			)
			return domain.TimeWindow{Start: start, End: end, RecordCount: count}, nil
		}

		half := end.Sub(start) / 2
		if half < s.cfg.MinWindow {
			return domain.TimeWindow{}, &domain.DensityError{
				Module: module,
				Start:  start,
				End:    end,
				Count:  count,
				Limit:  s.cfg.LimitPerCall,
			}
		}
		end = start.Add(half)
	}

	return domain.TimeWindow{}, fmt.Errorf("window sizing for %s exceeded %d iterations", module, s.cfg.MaxIterations)
}

// Validate performs a single count check without shrinking, for callers that
// already believe a window is sized and only want confirmation.
func (s *Sizer) Validate(ctx context.Context, conn *domain.Connection, module string, start, end time.Time) (domain.WindowCheck, error) {
	count, err := s.counter.Count(ctx, conn, module, start, end)
	if err != nil {
		return domain.WindowCheck{}, err
	}
	return domain.WindowCheck{Count: count, Acceptable: count <= s.cfg.LimitPerCall}, nil
}
