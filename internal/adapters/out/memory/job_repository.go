package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"authjobs/internal/core/domain/model/job"
	"authjobs/internal/core/domain/model/kernel"
	"authjobs/internal/core/ports"
	"authjobs/internal/pkg/errs"
)

var _ ports.JobRepository = (*JobRepository)(nil)

type dedupKey struct {
	authorizationID kernel.UUID
	jobType         job.Type
	subtype         string
}

// JobRepository stores job snapshots keyed by id.
type JobRepository struct {
	mu   sync.Mutex
	rows map[kernel.UUID]job.Snapshot
}

func NewJobRepository() *JobRepository {
	return &JobRepository{rows: make(map[kernel.UUID]job.Snapshot)}
}

func (r *JobRepository) Create(_ context.Context, j *job.ScheduledJob) (*job.ScheduledJob, bool, error) {
	if err := j.Validate(); err != nil {
		return nil, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s := j.Snapshot()
	if existing, ok := r.findPendingLocked(dedupKey{s.AuthorizationID, s.Type, s.Payload.Subtype()}); ok {
		stored, err := job.RestoreScheduledJob(existing)
		return stored, false, err
	}
	r.rows[s.ID] = s
	return j, true, nil
}

func (r *JobRepository) Transition(_ context.Context, j *job.ScheduledJob, from job.Status) (bool, error) {
	if err := j.Validate(); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.rows[j.ID()]
	if !ok || current.Status != from {
		return false, nil
	}
	r.rows[j.ID()] = j.Snapshot()
	return true, nil
}

func (r *JobRepository) Get(_ context.Context, id kernel.UUID) (*job.ScheduledJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.rows[id]
	if !ok {
		return nil, errs.NewObjectNotFoundError("scheduled job", id.String())
	}
	return job.RestoreScheduledJob(s)
}

func (r *JobRepository) FindPending(_ context.Context, authorizationID kernel.UUID, t job.Type, subtype string) (*job.ScheduledJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.findPendingLocked(dedupKey{authorizationID, t, subtype})
	if !ok {
		return nil, errs.NewObjectNotFoundError("pending job", authorizationID.String())
	}
	return job.RestoreScheduledJob(s)
}

func (r *JobRepository) ClaimReady(_ context.Context, types []job.Type, limit int, now time.Time) ([]*job.ScheduledJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	due := r.selectLocked(func(s job.Snapshot) bool {
		return s.Status == job.Pending && slices.Contains(types, s.Type) && !s.ScheduledAt.After(now)
	})
	slices.SortFunc(due, func(a, b job.Snapshot) int {
		if c := a.ScheduledAt.Compare(b.ScheduledAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Priority, b.Priority)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]*job.ScheduledJob, 0, len(due))
	for _, s := range due {
		j, err := job.RestoreScheduledJob(s)
		if err != nil {
			return nil, err
		}
		if err := j.Start(now); err != nil {
			return nil, err
		}
		r.rows[j.ID()] = j.Snapshot()
		claimed = append(claimed, j)
	}
	return claimed, nil
}

func (r *JobRepository) ListRetryable(_ context.Context, limit int) ([]*job.ScheduledJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	failed := r.selectLocked(func(s job.Snapshot) bool {
		if s.Status != job.Failed || s.Attempts >= s.MaxAttempts {
			return false
		}
		_, taken := r.findPendingLocked(dedupKey{s.AuthorizationID, s.Type, s.Payload.Subtype()})
		return !taken
	})
	slices.SortFunc(failed, func(a, b job.Snapshot) int { return a.UpdatedAt.Compare(b.UpdatedAt) })
	if limit > 0 && len(failed) > limit {
		failed = failed[:limit]
	}
	return restoreAll(failed)
}

func (r *JobRepository) ListStuckRunning(_ context.Context, updatedBefore time.Time) ([]*job.ScheduledJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return restoreAll(r.selectLocked(func(s job.Snapshot) bool {
		return s.Status == job.Running && s.UpdatedAt.Before(updatedBefore)
	}))
}

func (r *JobRepository) ListPending(_ context.Context, types []job.Type) ([]*job.ScheduledJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return restoreAll(r.sortedByScheduleLocked(func(s job.Snapshot) bool {
		return s.Status == job.Pending && slices.Contains(types, s.Type)
	}))
}

func (r *JobRepository) ListOverduePending(_ context.Context, types []job.Type, scheduledBefore time.Time) ([]*job.ScheduledJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return restoreAll(r.sortedByScheduleLocked(func(s job.Snapshot) bool {
		return s.Status == job.Pending && slices.Contains(types, s.Type) && s.ScheduledAt.Before(scheduledBefore)
	}))
}

func (r *JobRepository) HasJobInStatuses(_ context.Context, authorizationID kernel.UUID, t job.Type, statuses ...job.Status) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.rows {
		if s.AuthorizationID.IsEqual(authorizationID) && s.Type == t && slices.Contains(statuses, s.Status) {
			return true, nil
		}
	}
	return false, nil
}

func (r *JobRepository) HasTrackingJob(_ context.Context, authorizationID kernel.UUID, t job.Type, subtypes []string, statuses ...job.Status) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.rows {
		if !s.AuthorizationID.IsEqual(authorizationID) || s.Type != t || !slices.Contains(statuses, s.Status) {
			continue
		}
		if !slices.Contains(subtypes, s.Payload.Subtype()) {
			continue
		}
		if s.Status == job.Completed && s.Result != nil && s.Result.Skipped {
			continue
		}
		return true, nil
	}
	return false, nil
}

func (r *JobRepository) CancelPendingForAuthorization(_ context.Context, authorizationID kernel.UUID, reason string, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var affected int64
	for id, s := range r.rows {
		if s.Status != job.Pending || !s.AuthorizationID.IsEqual(authorizationID) {
			continue
		}
		j, err := job.RestoreScheduledJob(s)
		if err != nil {
			return affected, err
		}
		if err := j.Cancel(now, reason); err != nil {
			return affected, err
		}
		r.rows[id] = j.Snapshot()
		affected++
	}
	return affected, nil
}

func (r *JobRepository) DeleteFinishedBefore(_ context.Context, types []job.Type, updatedBefore time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var deleted int64
	for id, s := range r.rows {
		if !slices.Contains(types, s.Type) || !s.UpdatedAt.Before(updatedBefore) {
			continue
		}
		exhausted := s.Status == job.Failed && s.Attempts >= s.MaxAttempts
		if s.Status.IsTerminal() || exhausted {
			delete(r.rows, id)
			deleted++
		}
	}
	return deleted, nil
}

func (r *JobRepository) QueueStats(_ context.Context, overdueBefore time.Time, upcoming int) (ports.QueueStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := ports.QueueStats{PendingByType: make(map[job.Type]int)}
	pending := r.sortedByScheduleLocked(func(s job.Snapshot) bool { return s.Status == job.Pending })
	for _, s := range pending {
		stats.PendingByType[s.Type]++
		if s.ScheduledAt.Before(overdueBefore) {
			stats.Overdue++
		}
	}
	if len(pending) > upcoming {
		pending = pending[:upcoming]
	}
	next, err := restoreAll(pending)
	if err != nil {
		return ports.QueueStats{}, err
	}
	stats.Upcoming = next
	return stats, nil
}

func (r *JobRepository) StatusCounts(_ context.Context, types []job.Type, since time.Time) (ports.StatusCounts, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var counts ports.StatusCounts
	for _, s := range r.rows {
		if !slices.Contains(types, s.Type) || s.UpdatedAt.Before(since) {
			continue
		}
		switch s.Status {
		case job.Pending:
			counts.Pending++
		case job.Running:
			counts.Running++
		case job.Completed:
			counts.Completed++
			if s.Result != nil && s.Result.Skipped {
				counts.Skipped++
			}
		case job.Failed:
			counts.Failed++
		case job.Cancelled:
			counts.Cancelled++
		}
	}
	return counts, nil
}

func (r *JobRepository) AverageQueueTime(_ context.Context, since time.Time) (time.Duration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var total time.Duration
	var n int64
	for _, s := range r.rows {
		if s.Status != job.Completed && s.Status != job.Failed {
			continue
		}
		if s.ExecutedAt == nil || s.ExecutedAt.Before(since) {
			continue
		}
		total += s.ExecutedAt.Sub(s.ScheduledAt)
		n++
	}
	if n == 0 {
		return 0, nil
	}
	return total / time.Duration(n), nil
}

func (r *JobRepository) findPendingLocked(key dedupKey) (job.Snapshot, bool) {
	for _, s := range r.rows {
		if s.Status == job.Pending && s.Type == key.jobType &&
			s.AuthorizationID.IsEqual(key.authorizationID) && s.Payload.Subtype() == key.subtype {
			return s, true
		}
	}
	return job.Snapshot{}, false
}

func (r *JobRepository) selectLocked(keep func(job.Snapshot) bool) []job.Snapshot {
	var out []job.Snapshot
	for _, s := range r.rows {
		if keep(s) {
			out = append(out, s)
		}
	}
	return out
}

func (r *JobRepository) sortedByScheduleLocked(keep func(job.Snapshot) bool) []job.Snapshot {
	out := r.selectLocked(keep)
	slices.SortFunc(out, func(a, b job.Snapshot) int { return a.ScheduledAt.Compare(b.ScheduledAt) })
	return out
}

func restoreAll(snapshots []job.Snapshot) ([]*job.ScheduledJob, error) {
	out := make([]*job.ScheduledJob, 0, len(snapshots))
	for _, s := range snapshots {
		j, err := job.RestoreScheduledJob(s)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, nil
}
