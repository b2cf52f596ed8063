package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"authjobs/internal/core/application/executors"
	"authjobs/internal/core/application/scheduler"
	"authjobs/internal/core/ports"
	"authjobs/internal/telemetry"
)

// Scheduler is what the periodic jobs trigger.
type Scheduler interface {
	ProcessAllJobs(ctx context.Context) scheduler.ProcessReport
	RetryFailedJobs(ctx context.Context) (scheduler.RetryReport, error)
	ValidateAllJobs(ctx context.Context) (executors.ValidationReport, error)
	CleanupAllOldJobs(ctx context.Context, daysToKeep int) (scheduler.CleanupReport, error)
	GetQueueStatus(ctx context.Context) (scheduler.QueueStatus, error)
}

// Schedules holds one cron expression per job, seconds field first.
type Schedules struct {
	Process  string
	Retry    string
	Validate string
	Cleanup  string
}

func DefaultSchedules() Schedules {
	return Schedules{
		Process:  "0 * * * * *",
		Retry:    "0 */5 * * * *",
		Validate: "0 */15 * * * *",
		Cleanup:  "0 30 3 * * *",
	}
}

// NewProcessJob runs every due job, then refreshes the queue gauges.
func NewProcessJob(s Scheduler, metrics *telemetry.Metrics, schedule string, locker ports.Locker, ttl time.Duration, logger *slog.Logger) *PeriodicJob {
	return NewPeriodicJob("process", schedule, func(ctx context.Context) error {
		report := s.ProcessAllJobs(ctx)
		metrics.ObserveProcess(report)

		queue, err := s.GetQueueStatus(ctx)
		if err != nil {
			return fmt.Errorf("queue status: %w", err)
		}
		metrics.ObserveQueue(queue)

		if len(report.Errors) > 0 {
			return fmt.Errorf("%d batch(es) failed: %v", len(report.Errors), report.Errors)
		}
		return nil
	}, locker, ttl, logger)
}

func NewRetryJob(s Scheduler, metrics *telemetry.Metrics, schedule string, locker ports.Locker, ttl time.Duration, logger *slog.Logger) *PeriodicJob {
	return NewPeriodicJob("retry", schedule, func(ctx context.Context) error {
		report, err := s.RetryFailedJobs(ctx)
		if err != nil {
			return err
		}
		metrics.ObserveRetried(report.Retried)
		return nil
	}, locker, ttl, logger)
}

func NewValidationJob(s Scheduler, metrics *telemetry.Metrics, schedule string, locker ports.Locker, ttl time.Duration, logger *slog.Logger) *PeriodicJob {
	return NewPeriodicJob("validate", schedule, func(ctx context.Context) error {
		report, err := s.ValidateAllJobs(ctx)
		if err != nil {
			return err
		}
		metrics.ObserveValidationIssues(report.IssuesFound())
		return nil
	}, locker, ttl, logger)
}

func NewCleanupJob(s Scheduler, daysToKeep int, schedule string, locker ports.Locker, ttl time.Duration, logger *slog.Logger) *PeriodicJob {
	return NewPeriodicJob("cleanup", schedule, func(ctx context.Context) error {
		_, err := s.CleanupAllOldJobs(ctx, daysToKeep)
		return err
	}, locker, ttl, logger)
}
