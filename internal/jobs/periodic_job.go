package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"authjobs/internal/core/ports"

	"github.com/robfig/cron/v3"
)

// DefaultLockTTL bounds a single tick when no TTL is configured.
const DefaultLockTTL = 5 * time.Minute

// Task is the body of one tick.
type Task func(ctx context.Context) error

// PeriodicJob runs a Task on a cron schedule. Ticks never overlap inside one
// process; with a Locker they also skip while another instance holds the lock.
type PeriodicJob struct {
	name     string
	schedule string
	task     Task
	locker   ports.Locker
	lockTTL  time.Duration
	cron     *cron.Cron
	logger   *slog.Logger
}

// NewPeriodicJob builds a job; locker may be nil.
func NewPeriodicJob(name, schedule string, task Task, locker ports.Locker, lockTTL time.Duration, logger *slog.Logger) *PeriodicJob {
	if lockTTL <= 0 {
		lockTTL = DefaultLockTTL
	}
	return &PeriodicJob{
		name:     name,
		schedule: schedule,
		task:     task,
		locker:   locker,
		lockTTL:  lockTTL,
		cron:     cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger:   logger.With("component", name+"_job"),
	}
}

func (j *PeriodicJob) Name() string { return j.name }

// Start registers the schedule and starts the cron runner.
func (j *PeriodicJob) Start() error {
	if _, err := j.cron.AddFunc(j.schedule, func() { j.RunOnce(context.Background()) }); err != nil {
		return fmt.Errorf("schedule %q: %w", j.schedule, err)
	}

	j.cron.Start()
	j.logger.Info("job started", "schedule", j.schedule)
	return nil
}

// Stop halts the schedule and waits for a running tick to finish.
func (j *PeriodicJob) Stop() {
	<-j.cron.Stop().Done()
	j.logger.Info("job stopped")
}

// RunOnce executes a single tick. It reports whether the task ran.
func (j *PeriodicJob) RunOnce(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, j.lockTTL)
	defer cancel()

	if j.locker != nil {
		unlock, acquired, err := j.locker.TryLock(ctx, j.name, j.lockTTL)
		if err != nil {
			j.logger.ErrorContext(ctx, "failed to take trigger lock", "error", err)
			return false
		}
		if !acquired {
			j.logger.InfoContext(ctx, "tick skipped, lock held elsewhere")
			return false
		}
		defer func() {
			if err := unlock(context.Background()); err != nil {
				j.logger.WarnContext(ctx, "failed to release trigger lock", "error", err)
			}
		}()
	}

	started := time.Now()
	if err := j.task(ctx); err != nil {
		j.logger.ErrorContext(ctx, "job failed", "error", err, "duration_ms", time.Since(started).Milliseconds())
		return true
	}
	j.logger.DebugContext(ctx, "job finished", "duration_ms", time.Since(started).Milliseconds())
	return true
}
