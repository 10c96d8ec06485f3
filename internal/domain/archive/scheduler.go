package archive

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Archiver runs a single archival pass.
type Archiver interface {
	ArchiveOrdersOlderThan(ctx context.Context, retention time.Duration) (*Result, error)
}

// SchedulerConfig controls periodic archival.
type SchedulerConfig struct {
	Interval  time.Duration
	Retention time.Duration
	// Timeout bounds a single run. Zero means no per-run timeout.
	Timeout time.Duration
	// OnSuccess, if set, is called after every run that did not fail. res is
	// nil when the run was skipped because another one held the lock.
	OnSuccess func(res *Result)
}

// Scheduler triggers archival runs on a fixed interval.
type Scheduler struct {
	archiver Archiver
	cfg      SchedulerConfig
}

// NewScheduler creates a Scheduler.
func NewScheduler(archiver Archiver, cfg SchedulerConfig) *Scheduler {
	return &Scheduler{archiver: archiver, cfg: cfg}
}

// Run blocks, archiving once per interval, until ctx is cancelled. Failed
// runs are logged and retried on the next tick.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.cfg.Interval <= 0 {
		return errors.Errorf("invalid archival interval %s", s.cfg.Interval)
	}
	lg := zctx.From(ctx).Named("archive")
	lg.Info("Archival scheduler started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Duration("retention", s.cfg.Retention),
	)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			lg.Info("Archival scheduler stopped")
			return nil
		case <-ticker.C:
			s.runOnce(ctx, lg)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, lg *zap.Logger) {
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	res, err := s.archiver.ArchiveOrdersOlderThan(ctx, s.cfg.Retention)
	switch {
	case errors.Is(err, ErrArchivalInProgress):
		lg.Info("Archival skipped, another run in progress")
	case err != nil:
		lg.Error("Archival failed", zap.Error(err))
		return
	case res.ArchivedOrders == 0:
		lg.Debug("No orders to archive", zap.Time("cutoff", res.Cutoff))
	default:
		lg.Info("Archived orders",
			zap.String("run_id", res.RunID),
			zap.Int("orders", res.ArchivedOrders),
			zap.Int("items", res.ArchivedItems),
			zap.Int("buckets", len(res.Totals)),
			zap.Stringer("total", res.Total),
		)
	}
	if s.cfg.OnSuccess != nil {
		s.cfg.OnSuccess(res)
	}
}
