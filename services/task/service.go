package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ppv-trustcore/pkg/config"
	"ppv-trustcore/pkg/metrics"
	pkgtask "ppv-trustcore/pkg/task"
	"ppv-trustcore/pkg/taskname"
	"ppv-trustcore/services/signal"
	"ppv-trustcore/services/trust"
	"ppv-trustcore/services/validation"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultMaxRetry  = 3
	defaultLogMaxAge = 90 * 24 * time.Hour
)

type ValidationSweeper interface {
	RunDeferredValidationSweep(ctx context.Context) (validation.SweepResult, error)
}

type CompletionSweeper interface {
	SweepCompleted(ctx context.Context) (int, error)
}

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	cfg      *config.Config
	enqueuer pkgtask.Enqueuer

	validation ValidationSweeper
	completion CompletionSweeper
	now        func() time.Time
}

type Params struct {
	fx.In

	DB         *gorm.DB
	Node       *snowflake.Node
	Config     *config.Config
	Enqueuer   pkgtask.Enqueuer `optional:"true"`
	Validation ValidationSweeper
	Completion CompletionSweeper
}

func NewService(p Params) *Service {
	return &Service{
		db:         p.DB,
		node:       p.Node,
		cfg:        p.Config,
		enqueuer:   p.Enqueuer,
		validation: p.Validation,
		completion: p.Completion,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue records a pending JobRun and hands the task to the queue.
func (s *Service) Enqueue(ctx context.Context, name string) (*JobRun, error) {
	if s.enqueuer == nil {
		return nil, fmt.Errorf("no task enqueuer configured")
	}

	job := JobRun{
		ID:     s.node.Generate().String(),
		Task:   name,
		Status: JobStatusPending,
	}
	if err := s.db.WithContext(ctx).Create(&job).Error; err != nil {
		return nil, err
	}

	body, _ := json.Marshal(payload{JobID: job.ID})
	info, err := s.enqueuer.Enqueue(ctx, asynq.NewTask(name, body),
		asynq.Queue(pkgtask.QueueDefault),
		asynq.MaxRetry(defaultMaxRetry),
	)
	if err != nil {
		s.finish(ctx, &job, JobStatusFailed, nil, err)
		return nil, err
	}

	zap.L().Info("enqueued job",
		zap.String("task", name),
		zap.String("job_id", job.ID),
		zap.String("queue", info.Queue),
	)
	return &job, nil
}

func (s *Service) HandleValidationSweep(ctx context.Context, t *asynq.Task) error {
	return s.handle(ctx, t, func(ctx context.Context) (any, error) {
		return s.validation.RunDeferredValidationSweep(ctx)
	})
}

func (s *Service) HandleCampaignCompletionSweep(ctx context.Context, t *asynq.Task) error {
	return s.handle(ctx, t, func(ctx context.Context) (any, error) {
		completed, err := s.completion.SweepCompleted(ctx)
		return map[string]int{"completed": completed}, err
	})
}

func (s *Service) HandleRetentionSweep(ctx context.Context, t *asynq.Task) error {
	return s.handle(ctx, t, func(ctx context.Context) (any, error) {
		return s.RunRetention(ctx)
	})
}

// handle decodes the payload, tracks the JobRun through its lifecycle and
// returns the run error so asynq can retry.
func (s *Service) handle(ctx context.Context, t *asynq.Task, run func(ctx context.Context) (any, error)) error {
	var p payload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			zap.L().Error("invalid job payload", zap.String("task", t.Type()), zap.Error(err))
			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
	}

	job, err := s.start(ctx, t.Type(), p.JobID)
	if err != nil {
		return err
	}

	zap.L().Info("processing job", zap.String("task", t.Type()), zap.String("job_id", job.ID))

	result, runErr := run(ctx)
	if runErr != nil {
		zap.L().Error("job failed",
			zap.String("task", t.Type()),
			zap.String("job_id", job.ID),
			zap.Error(runErr),
		)
		s.finish(ctx, job, JobStatusFailed, result, runErr)
		return runErr
	}

	s.finish(ctx, job, JobStatusSuccess, result, nil)
	zap.L().Info("finished job", zap.String("task", t.Type()), zap.String("job_id", job.ID))
	return nil
}

func (s *Service) start(ctx context.Context, name, jobID string) (*JobRun, error) {
	now := s.now()

	if jobID != "" {
		var job JobRun
		err := s.db.WithContext(ctx).Where("id = ?", jobID).Take(&job).Error
		if err == nil {
			job.Status = JobStatusRunning
			job.StartedAt = &now
			if err := s.db.WithContext(ctx).Model(&JobRun{}).Where("id = ?", job.ID).Updates(map[string]any{
				"status":     JobStatusRunning,
				"started_at": now,
			}).Error; err != nil {
				return nil, err
			}
			return &job, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	// Tasks enqueued outside Enqueue get their own record.
	job := JobRun{
		ID:        s.node.Generate().String(),
		Task:      name,
		Status:    JobStatusRunning,
		StartedAt: &now,
	}
	if err := s.db.WithContext(ctx).Create(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *Service) finish(ctx context.Context, job *JobRun, status JobStatus, result any, runErr error) {
	now := s.now()
	updates := map[string]any{
		"status":       status,
		"completed_at": now,
	}
	if runErr != nil {
		updates["error_msg"] = runErr.Error()
	}
	if result != nil {
		if raw, err := json.Marshal(result); err == nil {
			updates["metadata"] = datatypes.JSON(raw)
		}
	}

	if err := s.db.WithContext(ctx).Model(&JobRun{}).Where("id = ?", job.ID).Updates(updates).Error; err != nil {
		zap.L().Warn("failed to update job run", zap.String("job_id", job.ID), zap.Error(err))
	}
	job.Status = status
	job.CompletedAt = &now
	metrics.JobRuns.WithLabelValues(job.Task, string(status)).Inc()
}

// RunRetention deletes request and fraud logs older than the configured age.
// Ledger entries are never pruned.
func (s *Service) RunRetention(ctx context.Context) (RetentionResult, error) {
	maxAge := s.cfg.Retention.LogMaxAge
	if maxAge <= 0 {
		maxAge = defaultLogMaxAge
	}
	cutoff := s.now().Add(-maxAge)

	pageSize := s.cfg.Sweep.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}

	var (
		result RetentionResult
		err    error
	)
	result.RequestLogs, err = s.purge(ctx, &signal.RequestLog{}, cutoff, pageSize)
	if err != nil {
		return result, fmt.Errorf("purge request logs: %w", err)
	}
	result.FraudLogs, err = s.purge(ctx, &trust.FraudLog{}, cutoff, pageSize)
	if err != nil {
		return result, fmt.Errorf("purge fraud logs: %w", err)
	}

	zap.L().Info("retention sweep finished",
		zap.Time("cutoff", cutoff),
		zap.Int64("request_logs", result.RequestLogs),
		zap.Int64("fraud_logs", result.FraudLogs),
	)
	return result, nil
}

// purge deletes rows of model created before cutoff, at most pageSize rows per
// statement, until none are left.
func (s *Service) purge(ctx context.Context, model any, cutoff time.Time, pageSize int) (int64, error) {
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		var ids []string
		err := s.db.WithContext(ctx).Model(model).
			Where("created_at < ?", cutoff).
			Order("id").
			Limit(pageSize).
			Pluck("id", &ids).Error
		if err != nil {
			return total, err
		}
		if len(ids) == 0 {
			return total, nil
		}

		res := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(model)
		if res.Error != nil {
			return total, res.Error
		}
		total += res.RowsAffected
		if res.RowsAffected == 0 {
			return total, nil
		}
	}
}

// Register binds every sweep handler on the worker mux.
func Register(mux *asynq.ServeMux, s *Service) {
	mux.HandleFunc(taskname.ValidationSweep, s.HandleValidationSweep)
	mux.HandleFunc(taskname.CampaignCompletionSweep, s.HandleCampaignCompletionSweep)
	mux.HandleFunc(taskname.RetentionSweep, s.HandleRetentionSweep)
}
