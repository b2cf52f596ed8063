package executors

import (
	"context"
	"errors"
	"fmt"
	"time"

	"authjobs/internal/core/domain/model/audit"
	"authjobs/internal/core/domain/model/authorization"
	"authjobs/internal/core/domain/model/job"
	"authjobs/internal/core/ports"
	"authjobs/internal/pkg/errs"
)

const (
	CaptureBatchSize = 50

	// captureOverdueAfter is how late a Pending capture may run before validation repairs it.
	captureOverdueAfter = time.Hour
)

// CaptureExecutor charges confirmed authorizations at their auto-capture instant.
type CaptureExecutor struct {
	base
	gateway ports.PaymentGateway
}

func NewCaptureExecutor(d Deps, gateway ports.PaymentGateway) *CaptureExecutor {
	return &CaptureExecutor{
		base:    newBase(d, "capture_executor", job.AutoCapture),
		gateway: gateway,
	}
}

// Execute runs one AutoCapture job. It returns false without side effects
// unless the job is Pending and this call wins the claim.
func (e *CaptureExecutor) Execute(ctx context.Context, j *job.ScheduledJob) (bool, error) {
	return e.execute(ctx, j, e.perform)
}

// ProcessAllPendingCaptures runs up to CaptureBatchSize due capture jobs.
func (e *CaptureExecutor) ProcessAllPendingCaptures(ctx context.Context) (BatchResult, error) {
	return e.runBatch(ctx, CaptureBatchSize, e.perform)
}

func (e *CaptureExecutor) perform(ctx context.Context, j *job.ScheduledJob) error {
	auth, err := e.loadAuthorization(ctx, j)
	if err != nil || auth == nil {
		return err
	}

	now := e.clock.Now()
	if !auth.IsCapturable(now) {
		return j.Skip(now, fmt.Sprintf("authorization is %s and no longer capturable", auth.Status()))
	}

	reason := job.DefaultCaptureReason
	if data, ok := j.Payload().(job.CaptureData); ok {
		reason = data.Reason()
	}

	err = e.call(ctx, func(ctx context.Context) error {
		return e.gateway.Capture(ctx, auth, reason)
	})
	now = e.clock.Now()
	if err != nil {
		e.record(ctx, audit.CaptureFailed, auth, j, err.Error(), map[string]string{"reason": reason})
		return j.Fail(now, job.NewFailure(job.KindGatewayFailure, err.Error()))
	}

	e.record(ctx, audit.CaptureSucceeded, auth, j, reason, nil)
	return j.Complete(now, job.Result{AmountCents: auth.AmountCents(), CaptureReason: reason})
}

// ScheduleAutomaticCapture plans the capture of a confirmed authorization at
// its auto-capture instant. It returns nil when there is nothing to plan and
// the existing Pending job when one is already planned.
func (e *CaptureExecutor) ScheduleAutomaticCapture(ctx context.Context, auth *authorization.Authorization) (*job.ScheduledJob, error) {
	if !auth.HasFutureAutoCapture(e.clock.Now()) {
		return nil, nil
	}
	return e.ensure(ctx, auth, job.CaptureData{}, *auth.AutoCaptureAt())
}

// RescheduleCapture returns a Failed capture job to Pending after delay.
func (e *CaptureExecutor) RescheduleCapture(ctx context.Context, j *job.ScheduledJob, delay time.Duration) error {
	if j.Type() != job.AutoCapture {
		return errs.NewValueIsInvalidErrorWithCause("job type", fmt.Errorf("%s is not a capture job", j.Type()))
	}
	now := e.clock.Now()
	if err := j.Retry(now, now.Add(delay)); err != nil {
		return err
	}
	ok, err := e.jobs.Transition(ctx, j, job.Failed)
	if err != nil {
		return fmt.Errorf("reschedule capture %s: %w", j.ID(), err)
	}
	if !ok {
		return fmt.Errorf("%w: job %s changed concurrently", job.ErrCannotRetry, j.ID())
	}
	return nil
}

// ValidateScheduledJobs cancels orphaned capture jobs, repairs overdue ones
// and plans captures missing for confirmed authorizations.
func (e *CaptureExecutor) ValidateScheduledJobs(ctx context.Context) (ValidationReport, error) {
	var report ValidationReport
	now := e.clock.Now()

	pending, err := e.jobs.ListPending(ctx, e.types)
	if err != nil {
		return report, fmt.Errorf("list pending captures: %w", err)
	}
	for _, j := range pending {
		auth, err := e.auths.Get(ctx, j.AuthorizationID())
		if errors.Is(err, errs.ErrObjectNotFound) {
			if ok, err := e.cancel(ctx, j, "authorization not found"); err != nil {
				return report, err
			} else if ok {
				report.addf("cancelled orphaned capture job %s", j.ID())
			}
			continue
		}
		if err != nil {
			return report, fmt.Errorf("load authorization: %w", err)
		}

		if !j.IsOverdue(now, captureOverdueAfter) {
			continue
		}
		if !auth.IsCapturable(now) {
			if ok, err := e.cancel(ctx, j, "authorization no longer capturable"); err != nil {
				return report, err
			} else if ok {
				report.addf("cancelled overdue capture job %s for %s authorization", j.ID(), auth.Status())
			}
			continue
		}
		if err := j.Reschedule(now, now); err != nil {
			continue
		}
		ok, err := e.jobs.Transition(ctx, j, job.Pending)
		if err != nil {
			return report, fmt.Errorf("reschedule capture %s: %w", j.ID(), err)
		}
		if ok {
			report.addf("brought overdue capture job %s forward", j.ID())
		}
	}

	confirmed, err := e.auths.ListConfirmedWithFutureAutoCapture(ctx, now)
	if err != nil {
		return report, fmt.Errorf("list confirmed authorizations: %w", err)
	}
	for _, auth := range confirmed {
		active, err := e.jobs.HasJobInStatuses(ctx, auth.ID(), job.AutoCapture, job.Pending, job.Running)
		if err != nil {
			return report, err
		}
		if active {
			continue
		}
		j, err := e.ScheduleAutomaticCapture(ctx, auth)
		if err != nil {
			return report, err
		}
		if j != nil {
			report.addf("created missing capture job %s for authorization %s", j.ID(), auth.ID())
		}
	}

	return report, nil
}

// GetStatistics counts capture jobs updated since the given instant.
func (e *CaptureExecutor) GetStatistics(ctx context.Context, since time.Time) (ports.StatusCounts, error) {
	return e.statistics(ctx, since)
}

// CleanupOldJobs deletes finished capture jobs older than daysToKeep days.
func (e *CaptureExecutor) CleanupOldJobs(ctx context.Context, daysToKeep int) (int64, error) {
	return e.cleanup(ctx, daysToKeep)
}
