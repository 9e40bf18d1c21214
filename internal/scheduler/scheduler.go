package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paydesk/internal/clock"
	ingestdomain "github.com/smallbiznis/paydesk/internal/ingest/domain"
	obsmetrics "github.com/smallbiznis/paydesk/internal/observability/metrics"
	processordomain "github.com/smallbiznis/paydesk/internal/processor/domain"
	reconciledomain "github.com/smallbiznis/paydesk/internal/reconcile/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobSnapshotSweep = "snapshot.sweep"
	JobReportWarmup  = "report.warmup"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Snapshots ingestdomain.SnapshotStore
	Engine    reconciledomain.Engine
	Gateway   processordomain.Gateway
	Config    Config `optional:"true"`
}

type Scheduler struct {
	log       *zap.Logger
	cfg       Config
	genID     *snowflake.Node
	clock     clock.Clock
	snapshots ingestdomain.SnapshotStore
	engine    reconciledomain.Engine
	gateway   processordomain.Gateway
	metrics   *obsmetrics.SchedulerMetrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Snapshots == nil || p.Engine == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:       p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:       p.Config.withDefaults(),
		genID:     p.GenID,
		clock:     p.Clock,
		snapshots: p.Snapshots,
		engine:    p.Engine,
		gateway:   p.Gateway,
		metrics:   obsmetrics.Scheduler(),
	}, nil
}

func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context) error) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name)
	if owner {
		s.logJobStart(ctx, run)
	}

	err := fn(ctx)
	s.metrics.ObserveJob(name, s.clock.Now().Sub(start), err)
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// A deadline is a soft timeout; the next tick retries.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.logger(ctx).Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", s.cfg.JobTimeout),
			zap.Error(err),
		)
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce runs every enabled job once, in order.
func (s *Scheduler) RunOnce(parent context.Context) error {
	err := s.runJob(parent, JobSnapshotSweep, s.SweepJob)
	if s.cfg.WarmupEnabled && s.gateway != nil {
		err = errors.Join(err, s.runJob(parent, JobReportWarmup, s.WarmupJob))
	}
	return err
}

// SweepJob evicts expired snapshots and high-water marks.
func (s *Scheduler) SweepJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobSnapshotSweep)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	now := s.clock.Now()

	snapshots, err := s.snapshots.Sweep(ctx, now)
	if err != nil {
		s.logJobError(ctx, run, "scheduler.snapshot.sweep.failed", err)
	}
	s.metrics.AddEvicted("snapshot", snapshots)
	run.AddProcessed(snapshots)

	watermarks := s.engine.Sweep(now)
	s.metrics.AddEvicted("watermark", watermarks)
	run.AddProcessed(watermarks)

	if snapshots+watermarks > 0 {
		s.logger(ctx).Info("scheduler.sweep.evicted",
			zap.Int("snapshots", snapshots),
			zap.Int("watermarks", watermarks),
		)
	}
	return err
}

// WarmupJob reads the first page of the reporting feed and logs how far it
// lags behind: the age of its newest row.
func (s *Scheduler) WarmupJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobReportWarmup)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	now := s.clock.Now()

	page, err := s.gateway.ListTransactions(ctx, processordomain.TransactionQuery{
		Start:    now.Add(-s.cfg.WarmupWindow),
		End:      now,
		PageSize: 100,
		Page:     1,
	})
	if err != nil {
		s.logJobError(ctx, run, "scheduler.report.warmup.failed", err,
			zap.String("debug_id", processordomain.DebugIDOf(err)),
		)
		return err
	}
	run.AddProcessed(len(page.Rows))

	var newest time.Time
	for _, row := range page.Rows {
		if row.CreatedAt.After(newest) {
			newest = row.CreatedAt
		}
	}
	if newest.IsZero() {
		s.logger(ctx).Info("scheduler.report.lag", zap.Int("rows", 0))
		return nil
	}
	s.logger(ctx).Info("scheduler.report.lag",
		zap.Int("rows", len(page.Rows)),
		zap.Time("newest", newest),
		zap.Duration("lag", now.Sub(newest)),
	)
	return nil
}
