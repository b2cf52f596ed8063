package executors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"authjobs/internal/core/domain/model/audit"
	"authjobs/internal/core/domain/model/authorization"
	"authjobs/internal/core/domain/model/job"
	"authjobs/internal/core/domain/model/kernel"
	"authjobs/internal/core/ports"
	"authjobs/internal/pkg/errs"
)

const (
	DefaultCallTimeout = 10 * time.Second
	maxCleanupDays     = 3650

	// saveTimeout bounds persisting an outcome after the caller's context is done.
	saveTimeout = 5 * time.Second
)

// BatchDeadlineMessage is stored on claimed jobs a batch had no time left to run.
const BatchDeadlineMessage = "batch deadline exceeded before the job ran"

var (
	ErrUnsupportedReminderType = errors.New("unsupported reminder type")
	ErrReminderNotApplicable   = errors.New("reminder not applicable to authorization")
)

// Deps are the collaborators shared by all executors.
type Deps struct {
	Jobs           ports.JobRepository
	Authorizations ports.AuthorizationRepository
	Audit          ports.AuditSink
	Clock          kernel.Clock
	Logger         *slog.Logger

	// CallTimeout bounds every gateway and notifier call. Zero means DefaultCallTimeout.
	CallTimeout time.Duration
	// MaxAttempts is stamped on new jobs. Zero means job.DefaultMaxAttempts.
	MaxAttempts int
}

// BatchResult counts the outcomes of one batch run.
type BatchResult struct {
	Processed  int `json:"processed"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
}

func (r *BatchResult) add(j *job.ScheduledJob) {
	r.Processed++
	switch {
	case j.IsSkipped():
		r.Skipped++
	case j.Status() == job.Completed:
		r.Successful++
	default:
		r.Failed++
	}
}

// ValidationReport lists the problems a validation pass found and repaired.
type ValidationReport struct {
	Issues []string `json:"issues"`
}

func (r *ValidationReport) addf(format string, args ...any) {
	r.Issues = append(r.Issues, fmt.Sprintf(format, args...))
}

// Merge appends other's issues.
func (r *ValidationReport) Merge(other ValidationReport) {
	r.Issues = append(r.Issues, other.Issues...)
}

// IssuesFound is the number of issues.
func (r ValidationReport) IssuesFound() int { return len(r.Issues) }

// perform runs a claimed job and leaves it Completed or Failed in memory.
type perform func(ctx context.Context, j *job.ScheduledJob) error

type base struct {
	jobs        ports.JobRepository
	auths       ports.AuthorizationRepository
	audit       ports.AuditSink
	clock       kernel.Clock
	logger      *slog.Logger
	callTimeout time.Duration
	maxAttempts int
	types       []job.Type
}

func newBase(d Deps, component string, types ...job.Type) base {
	b := base{
		jobs:        d.Jobs,
		auths:       d.Authorizations,
		audit:       d.Audit,
		clock:       d.Clock,
		logger:      d.Logger,
		callTimeout: d.CallTimeout,
		maxAttempts: d.MaxAttempts,
		types:       types,
	}
	if b.clock == nil {
		b.clock = kernel.SystemClock{}
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	b.logger = b.logger.With("component", component)
	if b.callTimeout <= 0 {
		b.callTimeout = DefaultCallTimeout
	}
	if b.maxAttempts <= 0 {
		b.maxAttempts = job.DefaultMaxAttempts
	}
	return b
}

// execute claims a single Pending job and runs it. It returns false without
// side effects when the job is not Pending or another caller claimed it first.
// The claim starts from the stored row, so a stale j never overwrites newer
// attempts or run times.
func (b *base) execute(ctx context.Context, j *job.ScheduledJob, run perform) (bool, error) {
	if err := j.Validate(); err != nil {
		return false, err
	}
	if j.Status() != job.Pending {
		return false, nil
	}

	claimed, err := b.jobs.Get(ctx, j.ID())
	if errors.Is(err, errs.ErrObjectNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load job %s: %w", j.ID(), err)
	}
	if claimed.Status() != job.Pending {
		b.logger.InfoContext(ctx, "job already claimed elsewhere", "job_id", j.ID().String())
		return false, nil
	}
	if err := claimed.Start(b.clock.Now()); err != nil {
		return false, nil
	}
	ok, err := b.jobs.Transition(ctx, claimed, job.Pending)
	if err != nil {
		return false, fmt.Errorf("claim job %s: %w", j.ID(), err)
	}
	if !ok {
		b.logger.InfoContext(ctx, "job already claimed elsewhere", "job_id", j.ID().String())
		return false, nil
	}

	if err := b.finish(ctx, claimed, run); err != nil {
		return false, err
	}
	*j = *claimed
	return j.Status() == job.Completed, nil
}

// runBatch claims up to limit due jobs and runs each in isolation.
func (b *base) runBatch(ctx context.Context, limit int, run perform) (BatchResult, error) {
	var result BatchResult

	claimed, err := b.jobs.ClaimReady(ctx, b.types, limit, b.clock.Now())
	if err != nil {
		return result, fmt.Errorf("claim ready jobs: %w", err)
	}

	for i, j := range claimed {
		if ctx.Err() != nil {
			err := b.abandon(ctx, claimed[i:])
			for _, left := range claimed[i:] {
				result.add(left)
			}
			if err != nil {
				return result, err
			}
			break
		}
		if err := b.finish(ctx, j, run); err != nil {
			_ = b.abandon(ctx, claimed[i+1:])
			return result, err
		}
		result.add(j)
	}

	if result.Processed > 0 {
		b.logger.InfoContext(ctx, "batch processed",
			"processed", result.Processed,
			"successful", result.Successful,
			"failed", result.Failed,
			"skipped", result.Skipped)
	}
	return result, nil
}

// finish runs a Running job inside a failure boundary and persists the outcome.
func (b *base) finish(ctx context.Context, j *job.ScheduledJob, run perform) error {
	if err := b.quarantine(ctx, j, run); err != nil {
		now := b.clock.Now()
		if j.Status() == job.Running {
			_ = j.Fail(now, job.NewFailure(job.KindInternal, err.Error()))
		}
		b.logger.ErrorContext(ctx, "job execution failed",
			"job_id", j.ID().String(),
			"job_type", j.Type().String(),
			"authorization_id", j.AuthorizationID().String(),
			"error", err)
	}

	return b.save(ctx, j)
}

// save persists a Running job's outcome even when ctx is already done, so a
// gateway call that succeeded is never left recorded as Running.
func (b *base) save(ctx context.Context, j *job.ScheduledJob) error {
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()

	ok, err := b.jobs.Transition(saveCtx, j, job.Running)
	if err != nil {
		return fmt.Errorf("save job %s: %w", j.ID(), err)
	}
	if !ok {
		b.logger.WarnContext(ctx, "job was moved while running, outcome dropped",
			"job_id", j.ID().String(), "status", j.Status().String())
	}
	return nil
}

// abandon fails claimed jobs the batch will not run. The retry sweep picks
// them up again while attempts remain.
func (b *base) abandon(ctx context.Context, jobs []*job.ScheduledJob) error {
	if len(jobs) == 0 {
		return nil
	}
	var errList []error
	for _, j := range jobs {
		if err := j.Fail(b.clock.Now(), job.NewFailure(job.KindInternal, BatchDeadlineMessage)); err != nil {
			errList = append(errList, err)
			continue
		}
		if err := b.save(ctx, j); err != nil {
			errList = append(errList, err)
		}
	}
	b.logger.WarnContext(ctx, "claimed jobs released unrun", "released", len(jobs), "cause", context.Cause(ctx))
	return errors.Join(errList...)
}

func (b *base) quarantine(ctx context.Context, j *job.ScheduledJob, run perform) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.ErrorContext(ctx, "job panicked", "job_id", j.ID().String(), "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return run(ctx, j)
}

// loadAuthorization fails the job with KindNotFound when the authorization is gone.
func (b *base) loadAuthorization(ctx context.Context, j *job.ScheduledJob) (*authorization.Authorization, error) {
	auth, err := b.auths.Get(ctx, j.AuthorizationID())
	if errors.Is(err, errs.ErrObjectNotFound) {
		return nil, j.Fail(b.clock.Now(), job.NewFailure(job.KindNotFound, "authorization not found"))
	}
	if err != nil {
		return nil, fmt.Errorf("load authorization: %w", err)
	}
	return auth, nil
}

// ensure returns the Pending job for the payload's dedup key, creating it when absent.
func (b *base) ensure(ctx context.Context, auth *authorization.Authorization, payload job.Payload, runAt time.Time) (*job.ScheduledJob, error) {
	existing, err := b.jobs.FindPending(ctx, auth.ID(), payload.Type(), payload.Subtype())
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, errs.ErrObjectNotFound) {
		return nil, fmt.Errorf("find pending %s job: %w", payload.Type(), err)
	}

	bookingID := auth.BookingID()
	j, err := job.NewScheduledJob(auth.ID(), &bookingID, payload, runAt, b.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := j.SetMaxAttempts(b.maxAttempts); err != nil {
		return nil, err
	}

	stored, created, err := b.jobs.Create(ctx, j)
	if err != nil {
		return nil, fmt.Errorf("create %s job: %w", payload.Type(), err)
	}
	if created {
		b.logger.InfoContext(ctx, "job scheduled",
			"job_id", stored.ID().String(),
			"job_type", stored.Type().String(),
			"authorization_id", auth.ID().String(),
			"scheduled_at", stored.ScheduledAt())
	}
	return stored, nil
}

// cancel withdraws a Pending job, tolerating a lost race.
func (b *base) cancel(ctx context.Context, j *job.ScheduledJob, reason string) (bool, error) {
	if err := j.Cancel(b.clock.Now(), reason); err != nil {
		return false, nil
	}
	ok, err := b.jobs.Transition(ctx, j, job.Pending)
	if err != nil {
		return false, fmt.Errorf("cancel job %s: %w", j.ID(), err)
	}
	return ok, nil
}

func (b *base) record(ctx context.Context, t audit.EventType, auth *authorization.Authorization, j *job.ScheduledJob, message string, details map[string]string) {
	if b.audit == nil {
		return
	}
	event := audit.Event{
		Type:            t,
		AuthorizationID: auth.ID(),
		AmountCents:     auth.AmountCents(),
		Message:         message,
		Details:         details,
		OccurredAt:      b.clock.Now(),
	}
	if j != nil {
		id := j.ID()
		event.JobID = &id
	}
	b.audit.Record(ctx, event)
}

func (b *base) call(ctx context.Context, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, b.callTimeout)
	defer cancel()
	return fn(callCtx)
}

// statistics counts this executor's jobs updated since the given instant.
func (b *base) statistics(ctx context.Context, since time.Time) (ports.StatusCounts, error) {
	return b.jobs.StatusCounts(ctx, b.types, since)
}

// cleanup deletes this executor's finished jobs older than daysToKeep days.
func (b *base) cleanup(ctx context.Context, daysToKeep int) (int64, error) {
	if daysToKeep < 1 || daysToKeep > maxCleanupDays {
		return 0, errs.NewValueIsOutOfRangeError("days to keep", daysToKeep, 1, maxCleanupDays)
	}
	cutoff := b.clock.Now().Add(-time.Duration(daysToKeep) * 24 * time.Hour)
	deleted, err := b.jobs.DeleteFinishedBefore(ctx, b.types, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete finished jobs: %w", err)
	}
	if deleted > 0 {
		b.logger.InfoContext(ctx, "old jobs cleaned up", "deleted", deleted, "days_to_keep", daysToKeep)
	}
	return deleted, nil
}
