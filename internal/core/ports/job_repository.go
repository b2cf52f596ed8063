// Package ports defines the contracts between the job scheduling core and
// its infrastructure: storage, the payment gateway, notification delivery,
// auditing and trigger locking.
package ports

import (
	"context"
	"time"

	"authjobs/internal/core/domain/model/job"
	"authjobs/internal/core/domain/model/kernel"
)

// QueueStats is a snapshot of the Pending queue.
type QueueStats struct {
	PendingByType map[job.Type]int
	Overdue       int
	Upcoming      []*job.ScheduledJob
}

// StatusCounts counts jobs per status. Skipped is the subset of Completed
// that finished as a skip.
type StatusCounts struct {
	Pending   int
	Running   int
	Completed int
	Failed    int
	Cancelled int
	Skipped   int
}

// JobRepository persists scheduled jobs.
//
// Every status change goes through Transition, a compare-and-swap on the
// stored status, so two overlapping callers can never both move the same job.
type JobRepository interface {
	// Create inserts a Pending job. If a Pending job with the same
	// (authorization, type, subtype) already exists, nothing is written and
	// the existing job is returned with created=false.
	Create(ctx context.Context, j *job.ScheduledJob) (stored *job.ScheduledJob, created bool, err error)

	// Transition persists j only if the stored status still equals from.
	// It returns false when another caller moved the job first.
	Transition(ctx context.Context, j *job.ScheduledJob, from job.Status) (bool, error)

	// Get returns errs.ObjectNotFoundError for unknown ids.
	Get(ctx context.Context, id kernel.UUID) (*job.ScheduledJob, error)

	// FindPending returns the Pending job for the dedup key or errs.ObjectNotFoundError.
	FindPending(ctx context.Context, authorizationID kernel.UUID, t job.Type, subtype string) (*job.ScheduledJob, error)

	// ClaimReady atomically moves up to limit due Pending jobs of the given
	// types to Running, ordered by scheduled_at then priority, and returns
	// them. Concurrent callers receive disjoint sets.
	ClaimReady(ctx context.Context, types []job.Type, limit int, now time.Time) ([]*job.ScheduledJob, error)

	// ListRetryable returns Failed jobs with attempts left whose dedup slot is
	// not held by a Pending job, oldest update first.
	ListRetryable(ctx context.Context, limit int) ([]*job.ScheduledJob, error)

	// ListStuckRunning returns Running jobs last updated before the cutoff.
	ListStuckRunning(ctx context.Context, updatedBefore time.Time) ([]*job.ScheduledJob, error)

	// ListPending returns every Pending job of the given types.
	ListPending(ctx context.Context, types []job.Type) ([]*job.ScheduledJob, error)

	// ListOverduePending returns Pending jobs of the given types scheduled before the cutoff.
	ListOverduePending(ctx context.Context, types []job.Type, scheduledBefore time.Time) ([]*job.ScheduledJob, error)

	// HasJobInStatuses reports whether the authorization has a job of type t
	// in any of the statuses.
	HasJobInStatuses(ctx context.Context, authorizationID kernel.UUID, t job.Type, statuses ...job.Status) (bool, error)

	// HasTrackingJob is HasJobInStatuses narrowed to the given subtypes.
	// Skip-completed jobs never count.
	HasTrackingJob(ctx context.Context, authorizationID kernel.UUID, t job.Type, subtypes []string, statuses ...job.Status) (bool, error)

	// CancelPendingForAuthorization cancels every Pending job of the
	// authorization and returns how many rows changed. Other statuses are
	// never touched.
	CancelPendingForAuthorization(ctx context.Context, authorizationID kernel.UUID, reason string, now time.Time) (int64, error)

	// DeleteFinishedBefore removes Completed, Cancelled and exhausted Failed
	// jobs of the given types last updated before the cutoff.
	DeleteFinishedBefore(ctx context.Context, types []job.Type, updatedBefore time.Time) (int64, error)

	// QueueStats counts Pending jobs per type, those scheduled before
	// overdueBefore, and returns the next upcoming Pending jobs.
	QueueStats(ctx context.Context, overdueBefore time.Time, upcoming int) (QueueStats, error)

	// StatusCounts counts jobs of the given types updated at or after since.
	StatusCounts(ctx context.Context, types []job.Type, since time.Time) (StatusCounts, error)

	// AverageQueueTime averages executed_at - scheduled_at over Completed and
	// Failed jobs executed at or after since. Zero when there are none.
	AverageQueueTime(ctx context.Context, since time.Time) (time.Duration, error)
}
