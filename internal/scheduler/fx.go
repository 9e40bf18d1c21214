package scheduler

import (
	"context"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("scheduler",
	fx.Provide(ProvideConfig),
	fx.Provide(New),
	fx.Invoke(Register),
)

// Register schedules the jobs on a gocron scheduler bound to the fx lifecycle.
func Register(lc fx.Lifecycle, sched *Scheduler) error {
	cron, err := gocron.NewScheduler()
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	jobs := []struct {
		name     string
		enabled  bool
		interval func() gocron.JobDefinition
		run      func(context.Context) error
	}{
		{JobSnapshotSweep, true, func() gocron.JobDefinition { return gocron.DurationJob(sched.cfg.SweepInterval) }, sched.SweepJob},
		{JobReportWarmup, sched.cfg.WarmupEnabled && sched.gateway != nil, func() gocron.JobDefinition { return gocron.DurationJob(sched.cfg.WarmupInterval) }, sched.WarmupJob},
	}
	for _, job := range jobs {
		if !job.enabled {
			continue
		}
		task := func() {
			if err := sched.runJob(runCtx, job.name, job.run); err != nil {
				sched.log.Warn("scheduler job failed", zap.String("job", job.name), zap.Error(err))
			}
		}
		if _, err := cron.NewJob(
			job.interval(),
			gocron.NewTask(task),
			gocron.WithName(job.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		); err != nil {
			cancel()
			return err
		}
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			cron.Start()
			sched.log.Info("scheduler started",
				zap.Duration("sweep_interval", sched.cfg.SweepInterval),
				zap.Bool("warmup", sched.cfg.WarmupEnabled),
			)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return cron.Shutdown()
		},
	})
	return nil
}
