// Package scheduler orchestrates the capture, expiry and reminder executors.
// It is what the periodic triggers and the authorization lifecycle hooks call.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"authjobs/internal/core/application/executors"
	"authjobs/internal/core/domain/model/authorization"
	"authjobs/internal/core/domain/model/job"
	"authjobs/internal/core/domain/model/kernel"
	"authjobs/internal/core/ports"
	"authjobs/internal/pkg/errs"
)

const (
	StuckJobTimeout     = 30 * time.Minute
	StuckJobMessage     = "Job stuck in running state"
	QueueOverdueAfter   = 5 * time.Minute
	UpcomingJobsShown   = 5
	StatisticsWindow    = 24 * time.Hour
	retrySweepBatchSize = 500
)

type CaptureRunner interface {
	ProcessAllPendingCaptures(ctx context.Context) (executors.BatchResult, error)
	ScheduleAutomaticCapture(ctx context.Context, auth *authorization.Authorization) (*job.ScheduledJob, error)
	ValidateScheduledJobs(ctx context.Context) (executors.ValidationReport, error)
	GetStatistics(ctx context.Context, since time.Time) (ports.StatusCounts, error)
	CleanupOldJobs(ctx context.Context, daysToKeep int) (int64, error)
}

type ExpiryRunner interface {
	ProcessAllPendingExpiries(ctx context.Context) (executors.BatchResult, error)
	ProcessExpiredAuthorizations(ctx context.Context) (executors.SweepResult, error)
	ScheduleExpiry(ctx context.Context, auth *authorization.Authorization) ([]*job.ScheduledJob, error)
	ValidateExpiryJobs(ctx context.Context) (executors.ValidationReport, error)
	GetStatistics(ctx context.Context, since time.Time) (ports.StatusCounts, error)
	CleanupOldJobs(ctx context.Context, daysToKeep int) (int64, error)
}

type ReminderRunner interface {
	ProcessAllPendingReminders(ctx context.Context) (executors.BatchResult, error)
	ScheduleReminders(ctx context.Context, auth *authorization.Authorization) ([]*job.ScheduledJob, error)
	SendManualReminder(ctx context.Context, auth *authorization.Authorization, rt job.ReminderType) (job.Result, error)
	ValidateReminderJobs(ctx context.Context) (executors.ValidationReport, error)
	GetStatistics(ctx context.Context, since time.Time) (ports.StatusCounts, error)
	CleanupOldJobs(ctx context.Context, daysToKeep int) (int64, error)
}

// JobScheduler is the single entry point to the payment job system.
type JobScheduler struct {
	capture  CaptureRunner
	expiry   ExpiryRunner
	reminder ReminderRunner
	jobs     ports.JobRepository
	auths    ports.AuthorizationRepository
	clock    kernel.Clock
	logger   *slog.Logger
}

func NewJobScheduler(
	capture CaptureRunner,
	expiry ExpiryRunner,
	reminder ReminderRunner,
	jobs ports.JobRepository,
	auths ports.AuthorizationRepository,
	clock kernel.Clock,
	logger *slog.Logger,
) *JobScheduler {
	if clock == nil {
		clock = kernel.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &JobScheduler{
		capture:  capture,
		expiry:   expiry,
		reminder: reminder,
		jobs:     jobs,
		auths:    auths,
		clock:    clock,
		logger:   logger.With("component", "job_scheduler"),
	}
}

// ProcessReport is the outcome of one ProcessAllJobs run.
type ProcessReport struct {
	Capture        executors.BatchResult `json:"capture"`
	Expiry         executors.BatchResult `json:"expiry"`
	Reminder       executors.BatchResult `json:"reminder"`
	ExpirySweep    executors.SweepResult `json:"expiry_sweep"`
	TotalProcessed int                   `json:"total_processed"`
	DurationMs     int64                 `json:"duration_ms"`
	Errors         []string              `json:"errors"`
}

// ProcessAllJobs runs the capture, expiry and reminder batches, then sweeps
// authorizations past their deadline. A step that fails or panics is reported
// in Errors and does not stop the others.
func (s *JobScheduler) ProcessAllJobs(ctx context.Context) ProcessReport {
	started := time.Now()
	report := ProcessReport{Errors: []string{}}

	batches := []struct {
		name   string
		target *executors.BatchResult
		run    func(context.Context) (executors.BatchResult, error)
	}{
		{"capture", &report.Capture, s.capture.ProcessAllPendingCaptures},
		{"expiry", &report.Expiry, s.expiry.ProcessAllPendingExpiries},
		{"reminder", &report.Reminder, s.reminder.ProcessAllPendingReminders},
	}
	for _, b := range batches {
		result, err := isolate(ctx, s.logger, b.name, b.run)
		*b.target = result
		report.TotalProcessed += result.Processed
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s batch: %v", b.name, err))
		}
	}

	// Catches authorizations past a deadline that the queue did not expire.
	sweep, err := isolate(ctx, s.logger, "expiry sweep", s.expiry.ProcessExpiredAuthorizations)
	report.ExpirySweep = sweep
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("expiry sweep: %v", err))
	}

	report.DurationMs = time.Since(started).Milliseconds()
	s.logger.InfoContext(ctx, "job processing finished",
		"total_processed", report.TotalProcessed,
		"duration_ms", report.DurationMs,
		"errors", len(report.Errors))
	return report
}

func isolate[R any](
	ctx context.Context,
	logger *slog.Logger,
	name string,
	run func(context.Context) (R, error),
) (result R, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "batch panicked", "batch", name, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	result, err = run(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "batch failed", "batch", name, "error", err)
	}
	return result, err
}

// ScheduleAllJobsForAuthorization plans expiry, capture and reminder jobs.
// Planning is best effort: a failing step is logged and the rest still run.
// The returned jobs include Pending jobs that already existed.
func (s *JobScheduler) ScheduleAllJobsForAuthorization(ctx context.Context, auth *authorization.Authorization) []*job.ScheduledJob {
	var planned []*job.ScheduledJob
	logger := s.logger.With("authorization_id", auth.ID().String())

	expiryJobs, err := s.expiry.ScheduleExpiry(ctx, auth)
	planned = append(planned, expiryJobs...)
	if err != nil {
		logger.ErrorContext(ctx, "failed to schedule expiry", "error", err)
	}

	if auth.Status() == authorization.Confirmed && auth.AutoCaptureAt() != nil {
		captureJob, err := s.capture.ScheduleAutomaticCapture(ctx, auth)
		if err != nil {
			logger.ErrorContext(ctx, "failed to schedule capture", "error", err)
		} else if captureJob != nil {
			planned = append(planned, captureJob)
		}
	}

	reminderJobs, err := s.reminder.ScheduleReminders(ctx, auth)
	planned = append(planned, reminderJobs...)
	if err != nil {
		logger.ErrorContext(ctx, "failed to schedule reminders", "error", err)
	}

	logger.InfoContext(ctx, "authorization jobs planned", "jobs", len(planned))
	return planned
}

// CancelAllJobsForAuthorization cancels the authorization's Pending jobs.
func (s *JobScheduler) CancelAllJobsForAuthorization(ctx context.Context, authorizationID kernel.UUID, reason string) (int64, error) {
	cancelled, err := s.jobs.CancelPendingForAuthorization(ctx, authorizationID, reason, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("cancel jobs for authorization %s: %w", authorizationID, err)
	}
	s.logger.InfoContext(ctx, "authorization jobs cancelled",
		"authorization_id", authorizationID.String(), "cancelled", cancelled, "reason", reason)
	return cancelled, nil
}

// SendManualReminder delivers a reminder for the authorization right away.
func (s *JobScheduler) SendManualReminder(ctx context.Context, authorizationID kernel.UUID, rt job.ReminderType) (job.Result, error) {
	auth, err := s.auths.Get(ctx, authorizationID)
	if err != nil {
		return job.Result{}, err
	}
	return s.reminder.SendManualReminder(ctx, auth, rt)
}

// ScheduleAuthorization loads an authorization and plans its jobs.
func (s *JobScheduler) ScheduleAuthorization(ctx context.Context, authorizationID kernel.UUID) ([]*job.ScheduledJob, error) {
	auth, err := s.auths.Get(ctx, authorizationID)
	if err != nil {
		return nil, err
	}
	return s.ScheduleAllJobsForAuthorization(ctx, auth), nil
}

// UpcomingJob is a Pending job about to run.
type UpcomingJob struct {
	ID              string    `json:"id"`
	Type            string    `json:"type"`
	AuthorizationID string    `json:"authorization_id"`
	ScheduledAt     time.Time `json:"scheduled_at"`
	MinutesUntil    int       `json:"minutes_until_execution"`
}

// QueueStatus describes the Pending queue.
type QueueStatus struct {
	PendingByType map[string]int `json:"pending_by_type"`
	TotalPending  int            `json:"total_pending"`
	Overdue       int            `json:"overdue"`
	Upcoming      []UpcomingJob  `json:"upcoming"`
}

// GetQueueStatus reports pending counts per type, jobs more than five
// minutes overdue and the next five jobs.
func (s *JobScheduler) GetQueueStatus(ctx context.Context) (QueueStatus, error) {
	now := s.clock.Now()
	stats, err := s.jobs.QueueStats(ctx, now.Add(-QueueOverdueAfter), UpcomingJobsShown)
	if err != nil {
		return QueueStatus{}, fmt.Errorf("queue stats: %w", err)
	}

	status := QueueStatus{
		PendingByType: make(map[string]int, len(job.AllTypes())),
		Overdue:       stats.Overdue,
		Upcoming:      make([]UpcomingJob, 0, len(stats.Upcoming)),
	}
	for _, t := range job.AllTypes() {
		status.PendingByType[t.Code()] = stats.PendingByType[t]
		status.TotalPending += stats.PendingByType[t]
	}
	for _, j := range stats.Upcoming {
		status.Upcoming = append(status.Upcoming, UpcomingJob{
			ID:              j.ID().String(),
			Type:            j.Type().Code(),
			AuthorizationID: j.AuthorizationID().String(),
			ScheduledAt:     j.ScheduledAt(),
			MinutesUntil:    int(j.ScheduledAt().Sub(now).Minutes()),
		})
	}
	return status, nil
}

// RetryReport counts the outcome of a retry sweep.
type RetryReport struct {
	Retried int `json:"retried"`
	Skipped int `json:"skipped"`
}

// RetryFailedJobs returns retry-eligible Failed jobs to Pending with
// exponential backoff. Exhausted jobs, lost races and jobs whose dedup slot
// is already taken by another Pending job count as skipped.
func (s *JobScheduler) RetryFailedJobs(ctx context.Context) (RetryReport, error) {
	var report RetryReport

	failed, err := s.jobs.ListRetryable(ctx, retrySweepBatchSize)
	if err != nil {
		return report, fmt.Errorf("list failed jobs: %w", err)
	}

	for _, j := range failed {
		if !j.CanRetry() {
			report.Skipped++
			continue
		}

		_, err := s.jobs.FindPending(ctx, j.AuthorizationID(), j.Type(), j.Subtype())
		if err == nil {
			report.Skipped++
			continue
		}
		if !errors.Is(err, errs.ErrObjectNotFound) {
			return report, err
		}

		now := s.clock.Now()
		if err := j.Retry(now, now.Add(job.RetryBackoff(j.Attempts()))); err != nil {
			report.Skipped++
			continue
		}
		ok, err := s.jobs.Transition(ctx, j, job.Failed)
		if err != nil {
			return report, fmt.Errorf("retry job %s: %w", j.ID(), err)
		}
		if !ok {
			report.Skipped++
			continue
		}
		report.Retried++
		s.logger.InfoContext(ctx, "job queued for retry",
			"job_id", j.ID().String(),
			"job_type", j.Type().String(),
			"attempts", j.Attempts(),
			"scheduled_at", j.ScheduledAt())
	}
	return report, nil
}

// ValidateAllJobs fails stuck jobs, replans authorizations missing their
// jobs and runs each executor's own validation.
func (s *JobScheduler) ValidateAllJobs(ctx context.Context) (executors.ValidationReport, error) {
	var report executors.ValidationReport
	now := s.clock.Now()

	stuck, err := s.jobs.ListStuckRunning(ctx, now.Add(-StuckJobTimeout))
	if err != nil {
		return report, fmt.Errorf("list stuck jobs: %w", err)
	}
	for _, j := range stuck {
		if err := j.Fail(now, job.NewFailure(job.KindStuck, StuckJobMessage)); err != nil {
			continue
		}
		ok, err := s.jobs.Transition(ctx, j, job.Running)
		if err != nil {
			return report, fmt.Errorf("fail stuck job %s: %w", j.ID(), err)
		}
		if ok {
			report.Issues = append(report.Issues, fmt.Sprintf("failed job %s stuck in running state", j.ID()))
		}
	}

	active, err := s.auths.ListByStatuses(ctx, authorization.Pending, authorization.Confirmed)
	if err != nil {
		return report, fmt.Errorf("list active authorizations: %w", err)
	}
	for _, auth := range active {
		missing, err := s.missingJobType(ctx, auth, now)
		if err != nil {
			return report, err
		}
		if missing == job.UnknownType {
			continue
		}
		s.ScheduleAllJobsForAuthorization(ctx, auth)
		report.Issues = append(report.Issues,
			fmt.Sprintf("authorization %s had no active %s job, replanned", auth.ID(), missing))
	}

	for _, validate := range []func(context.Context) (executors.ValidationReport, error){
		s.capture.ValidateScheduledJobs,
		s.expiry.ValidateExpiryJobs,
		s.reminder.ValidateReminderJobs,
	} {
		sub, err := validate(ctx)
		report.Merge(sub)
		if err != nil {
			return report, err
		}
	}

	s.logger.InfoContext(ctx, "job validation finished", "issues_found", report.IssuesFound())
	return report, nil
}

// missingJobType returns the job type an active authorization should have
// Pending or Running but does not, or UnknownType when nothing is missing.
func (s *JobScheduler) missingJobType(ctx context.Context, auth *authorization.Authorization, now time.Time) (job.Type, error) {
	var expected []job.Type
	switch auth.Status() {
	case authorization.Pending:
		if d := auth.ConfirmationDeadline(); d != nil && d.After(now) {
			expected = append(expected, job.PaymentExpiry)
		}
	case authorization.Confirmed:
		if auth.HasFutureAutoCapture(now) {
			expected = append(expected, job.AutoCapture)
		}
	}

	for _, t := range expected {
		active, err := s.jobs.HasJobInStatuses(ctx, auth.ID(), t, job.Pending, job.Running)
		if err != nil {
			return job.UnknownType, err
		}
		if !active {
			return t, nil
		}
	}
	return job.UnknownType, nil
}

// PerformanceMetrics summarizes the last day of processing.
type PerformanceMetrics struct {
	JobsProcessed24h        int     `json:"jobs_processed_24h"`
	AverageQueueTimeSeconds float64 `json:"average_queue_time_seconds"`
	SuccessRatePercent      float64 `json:"success_rate_percent"`
	PeakQueueSize           int     `json:"peak_queue_size"`
}

// SystemStatistics is the full status picture.
type SystemStatistics struct {
	Queue       QueueStatus        `json:"queue"`
	Capture     ports.StatusCounts `json:"capture"`
	Expiry      ports.StatusCounts `json:"expiry"`
	Reminder    ports.StatusCounts `json:"reminder"`
	Performance PerformanceMetrics `json:"performance"`
	GeneratedAt time.Time          `json:"generated_at"`
}

// GetSystemStatistics combines queue status, per-executor counts and
// performance over the last 24 hours.
func (s *JobScheduler) GetSystemStatistics(ctx context.Context) (SystemStatistics, error) {
	now := s.clock.Now()
	since := now.Add(-StatisticsWindow)
	stats := SystemStatistics{GeneratedAt: now}

	var err error
	if stats.Queue, err = s.GetQueueStatus(ctx); err != nil {
		return stats, err
	}
	if stats.Capture, err = s.capture.GetStatistics(ctx, since); err != nil {
		return stats, fmt.Errorf("capture statistics: %w", err)
	}
	if stats.Expiry, err = s.expiry.GetStatistics(ctx, since); err != nil {
		return stats, fmt.Errorf("expiry statistics: %w", err)
	}
	if stats.Reminder, err = s.reminder.GetStatistics(ctx, since); err != nil {
		return stats, fmt.Errorf("reminder statistics: %w", err)
	}

	all, err := s.jobs.StatusCounts(ctx, job.AllTypes(), since)
	if err != nil {
		return stats, fmt.Errorf("status counts: %w", err)
	}
	avg, err := s.jobs.AverageQueueTime(ctx, since)
	if err != nil {
		return stats, fmt.Errorf("average queue time: %w", err)
	}

	finished := all.Completed + all.Failed
	stats.Performance = PerformanceMetrics{
		JobsProcessed24h:        finished,
		AverageQueueTimeSeconds: avg.Seconds(),
		PeakQueueSize:           stats.Queue.TotalPending,
	}
	if finished > 0 {
		stats.Performance.SuccessRatePercent = float64(all.Completed) / float64(finished) * 100
	}
	return stats, nil
}

// CleanupReport counts deleted jobs per executor.
type CleanupReport struct {
	Capture  int64 `json:"capture"`
	Expiry   int64 `json:"expiry"`
	Reminder int64 `json:"reminder"`
	Total    int64 `json:"total"`
}

// CleanupAllOldJobs deletes finished jobs older than daysToKeep days.
func (s *JobScheduler) CleanupAllOldJobs(ctx context.Context, daysToKeep int) (CleanupReport, error) {
	var report CleanupReport
	var err error

	if report.Capture, err = s.capture.CleanupOldJobs(ctx, daysToKeep); err != nil {
		return report, err
	}
	if report.Expiry, err = s.expiry.CleanupOldJobs(ctx, daysToKeep); err != nil {
		return report, err
	}
	if report.Reminder, err = s.reminder.CleanupOldJobs(ctx, daysToKeep); err != nil {
		return report, err
	}
	report.Total = report.Capture + report.Expiry + report.Reminder

	s.logger.InfoContext(ctx, "old jobs cleaned up", "total", report.Total, "days_to_keep", daysToKeep)
	return report, nil
}
