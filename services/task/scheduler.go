package task

import (
	"context"
	"time"

	"ppv-trustcore/pkg/config"
	"ppv-trustcore/pkg/taskname"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	defaultSweepInterval     = 5 * time.Minute
	defaultRetentionInterval = 24 * time.Hour
)

type enqueueFunc func(ctx context.Context, name string) (*JobRun, error)

// Scheduler periodically enqueues the sweep tasks. Workers do the actual
// processing, so several schedulers only produce duplicate no-op runs.
type Scheduler struct {
	enqueue           enqueueFunc
	sweepInterval     time.Duration
	retentionInterval time.Duration
}

func NewScheduler(cfg *config.Config, svc *Service) *Scheduler {
	s := &Scheduler{
		enqueue:           svc.Enqueue,
		sweepInterval:     cfg.Sweep.Interval,
		retentionInterval: cfg.Retention.Interval,
	}
	if s.sweepInterval <= 0 {
		s.sweepInterval = defaultSweepInterval
	}
	if s.retentionInterval <= 0 {
		s.retentionInterval = defaultRetentionInterval
	}
	return s
}

// StartScheduler ties the scheduler loop to the fx lifecycle.
func StartScheduler(lc fx.Lifecycle, s *Scheduler) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				s.run(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}

func (s *Scheduler) run(ctx context.Context) {
	zap.L().Info("[Scheduler] started",
		zap.Duration("sweep_interval", s.sweepInterval),
		zap.Duration("retention_interval", s.retentionInterval),
	)

	sweeps := time.NewTicker(s.sweepInterval)
	defer sweeps.Stop()
	retention := time.NewTicker(s.retentionInterval)
	defer retention.Stop()

	for {
		select {
		case <-sweeps.C:
			s.fire(ctx, taskname.ValidationSweep, taskname.CampaignCompletionSweep)
		case <-retention.C:
			s.fire(ctx, taskname.RetentionSweep)
		case <-ctx.Done():
			zap.L().Warn("[Scheduler] stopped")
			return
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, names ...string) {
	for _, name := range names {
		if _, err := s.enqueue(ctx, name); err != nil {
			zap.L().Error("[Scheduler] failed to enqueue", zap.String("task", name), zap.Error(err))
		}
	}
}
