package executors

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"authjobs/internal/core/domain/model/audit"
	"authjobs/internal/core/domain/model/authorization"
	"authjobs/internal/core/domain/model/job"
	"authjobs/internal/core/domain/model/kernel"
	"authjobs/internal/core/ports"
	"authjobs/internal/pkg/errs"
)

const (
	ReminderBatchSize = 50

	confirmationReminderLead = 2 * time.Hour
	paymentReminderLead      = 24 * time.Hour
)

type recipient struct {
	role   job.Role
	userID kernel.UUID
}

// ReminderExecutor notifies users ahead of confirmation and capture deadlines.
//
// Payment reminders go to both the sender and the transporter. Delivered
// recipients are stored on the job, so a retry after a partial failure only
// contacts the ones still missing.
type ReminderExecutor struct {
	base
	notifier ports.Notifier
}

func NewReminderExecutor(d Deps, notifier ports.Notifier) *ReminderExecutor {
	return &ReminderExecutor{
		base:     newBase(d, "reminder_executor", job.ReminderTypes()...),
		notifier: notifier,
	}
}

// Execute runs one reminder job.
func (e *ReminderExecutor) Execute(ctx context.Context, j *job.ScheduledJob) (bool, error) {
	return e.execute(ctx, j, e.perform)
}

// ProcessAllPendingReminders runs up to ReminderBatchSize due reminders of both types.
func (e *ReminderExecutor) ProcessAllPendingReminders(ctx context.Context) (BatchResult, error) {
	return e.runBatch(ctx, ReminderBatchSize, e.perform)
}

// IsReminderRelevant reports whether a reminder of type rt still makes sense
// for the authorization at now.
func IsReminderRelevant(auth *authorization.Authorization, rt job.ReminderType, now time.Time) bool {
	switch rt {
	case job.ReminderConfirmation:
		deadline := auth.ConfirmationDeadline()
		return auth.Status() == authorization.Pending && deadline != nil && now.Before(*deadline)
	case job.ReminderPayment:
		return auth.IsCapturable(now)
	default:
		return false
	}
}

func (e *ReminderExecutor) perform(ctx context.Context, j *job.ScheduledJob) error {
	rt, err := reminderTypeOf(j.Payload())
	if err != nil {
		return j.Fail(e.clock.Now(), job.NewFailure(job.KindValidationError, err.Error()))
	}

	auth, err := e.loadAuthorization(ctx, j)
	if err != nil || auth == nil {
		return err
	}

	now := e.clock.Now()
	if !IsReminderRelevant(auth, rt, now) {
		return j.Skip(now, fmt.Sprintf("%s reminder no longer relevant for %s authorization", rt, auth.Status()))
	}

	result := job.Result{ReminderType: rt}
	if previous := j.Result(); previous != nil {
		result.Delivered = previous.Delivered
	}

	sendErr := e.deliver(ctx, auth, j, rt, &result)
	now = e.clock.Now()
	if sendErr != nil {
		if err := j.RecordProgress(result); err != nil {
			return err
		}
		return j.Fail(now, job.NewFailure(job.KindNotificationFailure, sendErr.Error()))
	}
	return j.Complete(now, result)
}

// deliver notifies every recipient not yet in result.Delivered and appends
// the ones that succeed.
func (e *ReminderExecutor) deliver(ctx context.Context, auth *authorization.Authorization, j *job.ScheduledJob, rt job.ReminderType, result *job.Result) error {
	rc := e.reminderContext(auth, rt)

	var failures []error
	for _, r := range recipientsFor(auth, rt) {
		if result.HasDelivered(r.role) {
			continue
		}
		err := e.call(ctx, func(ctx context.Context) error {
			if rt == job.ReminderConfirmation {
				return e.notifier.SendConfirmationReminder(ctx, r.userID, rc)
			}
			return e.notifier.SendCaptureReminder(ctx, r.userID, rc, r.role)
		})

		details := map[string]string{"reminder_type": string(rt), "role": string(r.role), "user_id": r.userID.String()}
		if err != nil {
			e.record(ctx, audit.NotificationFailed, auth, j, err.Error(), details)
			failures = append(failures, fmt.Errorf("%s: %w", r.role, err))
			continue
		}
		e.record(ctx, audit.NotificationSent, auth, j, fmt.Sprintf("%s reminder sent to %s", rt, r.role), details)
		result.Delivered = append(result.Delivered, job.Recipient{Role: r.role, UserID: r.userID.String()})
	}
	return errors.Join(failures...)
}

func recipientsFor(auth *authorization.Authorization, rt job.ReminderType) []recipient {
	sender := recipient{role: job.RoleSender, userID: auth.SenderID()}
	if rt == job.ReminderConfirmation {
		return []recipient{sender}
	}
	return []recipient{sender, {role: job.RoleTransporter, userID: auth.TransporterID()}}
}

func (e *ReminderExecutor) reminderContext(auth *authorization.Authorization, rt job.ReminderType) ports.ReminderContext {
	rc := ports.ReminderContext{
		AuthorizationID: auth.ID(),
		BookingID:       auth.BookingID(),
		AmountCents:     auth.AmountCents(),
	}
	deadline := auth.AutoCaptureAt()
	if rt == job.ReminderConfirmation {
		deadline = auth.ConfirmationDeadline()
	}
	if deadline != nil {
		rc.Deadline = *deadline
		rc.HoursRemaining = int(math.Max(0, math.Ceil(deadline.Sub(e.clock.Now()).Hours())))
	}
	return rc
}

func reminderTypeOf(p job.Payload) (job.ReminderType, error) {
	typed, ok := p.(interface{ ReminderType() job.ReminderType })
	if !ok {
		return "", fmt.Errorf("%w: %s payload", ErrUnsupportedReminderType, p.Type())
	}
	return typed.ReminderType(), nil
}

// ScheduleReminders plans the confirmation reminder two hours before the
// confirmation deadline of a Pending authorization and the payment reminder
// a day before the auto-capture of a Confirmed one. Reminders whose send
// instant already passed are not planned.
func (e *ReminderExecutor) ScheduleReminders(ctx context.Context, auth *authorization.Authorization) ([]*job.ScheduledJob, error) {
	var planned []*job.ScheduledJob
	now := e.clock.Now()

	if deadline := auth.ConfirmationDeadline(); auth.Status() == authorization.Pending && deadline != nil {
		if sendAt := deadline.Add(-confirmationReminderLead); sendAt.After(now) {
			payload := job.ConfirmationReminderData{HoursBeforeDeadline: int(confirmationReminderLead.Hours())}
			j, err := e.ensure(ctx, auth, payload, sendAt)
			if err != nil {
				return planned, err
			}
			planned = append(planned, j)
		}
	}

	if captureAt := auth.AutoCaptureAt(); auth.Status() == authorization.Confirmed && captureAt != nil {
		if sendAt := captureAt.Add(-paymentReminderLead); sendAt.After(now) {
			payload := job.PaymentReminderData{HoursBeforeCapture: int(paymentReminderLead.Hours())}
			j, err := e.ensure(ctx, auth, payload, sendAt)
			if err != nil {
				return planned, err
			}
			planned = append(planned, j)
		}
	}

	return planned, nil
}

// SendManualReminder delivers a reminder immediately, bypassing the queue.
func (e *ReminderExecutor) SendManualReminder(ctx context.Context, auth *authorization.Authorization, rt job.ReminderType) (job.Result, error) {
	var required authorization.Status
	switch rt {
	case job.ReminderConfirmation:
		required = authorization.Pending
	case job.ReminderPayment:
		required = authorization.Confirmed
	default:
		return job.Result{}, fmt.Errorf("%w: %q", ErrUnsupportedReminderType, rt)
	}
	if auth.Status() != required {
		return job.Result{}, fmt.Errorf("%w: %s reminder needs a %s authorization, got %s",
			ErrReminderNotApplicable, rt, required, auth.Status())
	}

	result := job.Result{ReminderType: rt}
	if err := e.deliver(ctx, auth, nil, rt, &result); err != nil {
		return result, err
	}
	e.logger.InfoContext(ctx, "manual reminder sent", "authorization_id", auth.ID().String(), "reminder_type", string(rt))
	return result, nil
}

// ValidateReminderJobs cancels Pending reminders whose authorization is gone
// or for which the reminder is no longer relevant.
func (e *ReminderExecutor) ValidateReminderJobs(ctx context.Context) (ValidationReport, error) {
	var report ValidationReport
	now := e.clock.Now()

	pending, err := e.jobs.ListPending(ctx, e.types)
	if err != nil {
		return report, fmt.Errorf("list pending reminders: %w", err)
	}
	for _, j := range pending {
		reason := ""
		auth, err := e.auths.Get(ctx, j.AuthorizationID())
		switch {
		case errors.Is(err, errs.ErrObjectNotFound):
			reason = "authorization not found"
		case err != nil:
			return report, fmt.Errorf("load authorization: %w", err)
		default:
			rt, rtErr := reminderTypeOf(j.Payload())
			if rtErr != nil || !IsReminderRelevant(auth, rt, now) {
				reason = fmt.Sprintf("reminder no longer relevant for %s authorization", auth.Status())
			}
		}
		if reason == "" {
			continue
		}
		ok, err := e.cancel(ctx, j, reason)
		if err != nil {
			return report, err
		}
		if ok {
			report.addf("cancelled reminder job %s: %s", j.ID(), reason)
		}
	}
	return report, nil
}

// GetStatistics counts reminder jobs updated since the given instant.
func (e *ReminderExecutor) GetStatistics(ctx context.Context, since time.Time) (ports.StatusCounts, error) {
	return e.statistics(ctx, since)
}

// CleanupOldJobs deletes finished reminder jobs older than daysToKeep days.
func (e *ReminderExecutor) CleanupOldJobs(ctx context.Context, daysToKeep int) (int64, error) {
	return e.cleanup(ctx, daysToKeep)
}
