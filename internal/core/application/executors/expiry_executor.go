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
	ExpiryBatchSize = 100

	expiryOverdueAfter = 10 * time.Minute
)

// SweepResult counts authorizations expired outside the job queue.
type SweepResult struct {
	Expired int `json:"expired"`
	Failed  int `json:"failed"`
}

// ExpiryExecutor terminates authorizations whose confirmation or capture
// deadline passed.
type ExpiryExecutor struct {
	base
	gateway ports.PaymentGateway
}

func NewExpiryExecutor(d Deps, gateway ports.PaymentGateway) *ExpiryExecutor {
	return &ExpiryExecutor{
		base:    newBase(d, "expiry_executor", job.PaymentExpiry),
		gateway: gateway,
	}
}

// Execute runs one PaymentExpiry job.
func (e *ExpiryExecutor) Execute(ctx context.Context, j *job.ScheduledJob) (bool, error) {
	return e.execute(ctx, j, e.perform)
}

// ProcessAllPendingExpiries runs up to ExpiryBatchSize due expiry jobs.
func (e *ExpiryExecutor) ProcessAllPendingExpiries(ctx context.Context) (BatchResult, error) {
	return e.runBatch(ctx, ExpiryBatchSize, e.perform)
}

func (e *ExpiryExecutor) perform(ctx context.Context, j *job.ScheduledJob) error {
	auth, err := e.loadAuthorization(ctx, j)
	if err != nil || auth == nil {
		return err
	}

	now := e.clock.Now()
	if auth.Status().IsTerminal() {
		return j.Skip(now, fmt.Sprintf("authorization already %s", auth.Status()))
	}

	var expiryType job.ExpiryType
	if data, ok := j.Payload().(job.ExpiryData); ok {
		expiryType = data.ExpiryType
	}
	due, resolved := expiryDue(auth, expiryType, now)
	if !due {
		return j.Skip(now, "expiry deadline has not passed")
	}

	err = e.call(ctx, func(ctx context.Context) error {
		return e.gateway.Expire(ctx, auth)
	})
	now = e.clock.Now()
	details := map[string]string{"expiry_type": string(resolved)}
	if err != nil {
		e.record(ctx, audit.ExpiryFailed, auth, j, err.Error(), details)
		return j.Fail(now, job.NewFailure(job.KindGatewayFailure, err.Error()))
	}

	e.record(ctx, audit.ExpirySucceeded, auth, j, fmt.Sprintf("%s deadline passed", resolved), details)
	return j.Complete(now, job.Result{AmountCents: auth.AmountCents(), ExpiryType: resolved})
}

// expiryDue checks the deadline selected by t. An unset type checks both and
// reports which one applied.
func expiryDue(auth *authorization.Authorization, t job.ExpiryType, now time.Time) (bool, job.ExpiryType) {
	switch t {
	case job.ExpiryConfirmation:
		return auth.IsConfirmationExpired(now), t
	case job.ExpiryCapture:
		return auth.IsCaptureExpired(now), t
	default:
		if auth.IsConfirmationExpired(now) {
			return true, job.ExpiryConfirmation
		}
		if auth.IsCaptureExpired(now) {
			return true, job.ExpiryCapture
		}
		return false, t
	}
}

// ProcessExpiredAuthorizations expires authorizations past either deadline
// straight from the authorization store, independent of the job queue.
func (e *ExpiryExecutor) ProcessExpiredAuthorizations(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	now := e.clock.Now()

	for _, t := range []job.ExpiryType{job.ExpiryConfirmation, job.ExpiryCapture} {
		auths, err := e.listExpired(ctx, t, now)
		if err != nil {
			return result, err
		}
		for _, auth := range auths {
			if e.expireDirectly(ctx, auth, t) {
				result.Expired++
			} else {
				result.Failed++
			}
		}
	}

	if result.Expired+result.Failed > 0 {
		e.logger.InfoContext(ctx, "expired authorizations swept", "expired", result.Expired, "failed", result.Failed)
	}
	return result, nil
}

func (e *ExpiryExecutor) listExpired(ctx context.Context, t job.ExpiryType, now time.Time) ([]*authorization.Authorization, error) {
	var (
		auths []*authorization.Authorization
		err   error
	)
	if t == job.ExpiryConfirmation {
		auths, err = e.auths.ListConfirmationExpired(ctx, now)
	} else {
		auths, err = e.auths.ListCaptureExpired(ctx, now)
	}
	if err != nil {
		return nil, fmt.Errorf("list %s-expired authorizations: %w", t, err)
	}
	return auths, nil
}

func (e *ExpiryExecutor) expireDirectly(ctx context.Context, auth *authorization.Authorization, t job.ExpiryType) bool {
	details := map[string]string{"expiry_type": string(t), "source": "sweep"}
	err := e.call(ctx, func(ctx context.Context) error {
		return e.gateway.Expire(ctx, auth)
	})
	if err != nil {
		e.logger.ErrorContext(ctx, "direct expiry failed", "authorization_id", auth.ID().String(), "error", err)
		e.record(ctx, audit.ExpiryFailed, auth, nil, err.Error(), details)
		return false
	}
	e.record(ctx, audit.ExpirySucceeded, auth, nil, fmt.Sprintf("%s deadline passed", t), details)
	return true
}

// ScheduleExpiry plans the confirmation-deadline expiry of a Pending
// authorization or the capture-deadline expiry of a Confirmed one.
func (e *ExpiryExecutor) ScheduleExpiry(ctx context.Context, auth *authorization.Authorization) ([]*job.ScheduledJob, error) {
	var planned []*job.ScheduledJob
	now := e.clock.Now()

	if deadline := auth.ConfirmationDeadline(); auth.Status() == authorization.Pending && deadline != nil {
		j, err := e.ensure(ctx, auth, job.ExpiryData{ExpiryType: job.ExpiryConfirmation}, *deadline)
		if err != nil {
			return planned, err
		}
		planned = append(planned, j)
	}

	if expiresAt := auth.ExpiresAt(); auth.Status() == authorization.Confirmed && expiresAt != nil && expiresAt.After(now) {
		j, err := e.ensure(ctx, auth, job.ExpiryData{ExpiryType: job.ExpiryCapture}, *expiresAt)
		if err != nil {
			return planned, err
		}
		planned = append(planned, j)
	}

	return planned, nil
}

// ValidateExpiryJobs runs overdue expiry jobs inline, cancels orphans and
// expires authorizations whose deadline passed without a tracking job.
func (e *ExpiryExecutor) ValidateExpiryJobs(ctx context.Context) (ValidationReport, error) {
	var report ValidationReport
	now := e.clock.Now()

	overdue, err := e.jobs.ListOverduePending(ctx, e.types, now.Add(-expiryOverdueAfter))
	if err != nil {
		return report, fmt.Errorf("list overdue expiries: %w", err)
	}
	for _, j := range overdue {
		_, err := e.auths.Get(ctx, j.AuthorizationID())
		if errors.Is(err, errs.ErrObjectNotFound) {
			if ok, err := e.cancel(ctx, j, "authorization not found"); err != nil {
				return report, err
			} else if ok {
				report.addf("cancelled orphaned expiry job %s", j.ID())
			}
			continue
		}
		if err != nil {
			return report, fmt.Errorf("load authorization: %w", err)
		}

		lateBy := now.Sub(j.ScheduledAt()).Round(time.Minute)
		if _, err := e.Execute(ctx, j); err != nil {
			return report, err
		}
		report.addf("executed expiry job %s inline, %s overdue, now %s", j.ID(), lateBy, j.Status())
	}

	for _, t := range []job.ExpiryType{job.ExpiryConfirmation, job.ExpiryCapture} {
		auths, err := e.listExpired(ctx, t, now)
		if err != nil {
			return report, err
		}
		for _, auth := range auths {
			// A job for the other deadline, or one that skip-completed, does not cover this one.
			subtypes := []string{string(t), string(job.ExpiryUnset)}
			tracked, err := e.jobs.HasTrackingJob(ctx, auth.ID(), job.PaymentExpiry, subtypes, job.Completed, job.Running)
			if err != nil {
				return report, err
			}
			if tracked {
				continue
			}
			if e.expireDirectly(ctx, auth, t) {
				report.addf("expired untracked authorization %s past its %s deadline", auth.ID(), t)
			} else {
				report.addf("failed to expire untracked authorization %s", auth.ID())
			}
		}
	}

	return report, nil
}

// GetStatistics counts expiry jobs updated since the given instant.
func (e *ExpiryExecutor) GetStatistics(ctx context.Context, since time.Time) (ports.StatusCounts, error) {
	return e.statistics(ctx, since)
}

// CleanupOldJobs deletes finished expiry jobs older than daysToKeep days.
func (e *ExpiryExecutor) CleanupOldJobs(ctx context.Context, daysToKeep int) (int64, error) {
	return e.cleanup(ctx, daysToKeep)
}
