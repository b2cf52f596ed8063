package executors_test

import (
	"errors"
	"testing"
	"time"

	"authjobs/internal/core/application/executors"
	"authjobs/internal/core/domain/model/audit"
	"authjobs/internal/core/domain/model/authorization"
	"authjobs/internal/core/domain/model/job"
	"authjobs/internal/core/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestReminderExecutor_ConfirmationReminderNotifiesSenderOnly(t *testing.T) {
	f := newFixture(t)
	auth := f.pendingAuth(t, now.Add(2*time.Hour))
	j := f.seedJob(t, auth, job.ConfirmationReminderData{HoursBeforeDeadline: 2}, now)
	f.notifier.On("SendConfirmationReminder", mock.Anything, auth.SenderID(), mock.MatchedBy(func(rc ports.ReminderContext) bool {
		return rc.HoursRemaining == 2 && rc.AmountCents == auth.AmountCents()
	})).Return(nil).Once()

	e := executors.NewReminderExecutor(f.deps(), f.notifier)
	ok, err := e.Execute(t.Context(), j)

	require.NoError(t, err)
	assert.True(t, ok)
	stored := f.reload(t, j)
	assert.Equal(t, job.Completed, stored.Status())
	assert.Equal(t, job.ReminderConfirmation, stored.Result().ReminderType)
	assert.True(t, stored.Result().HasDelivered(job.RoleSender))
	assert.False(t, stored.Result().HasDelivered(job.RoleTransporter))
	assert.Equal(t, 1, f.audit.CountOf(audit.NotificationSent))
	f.notifier.AssertExpectations(t)
	f.notifier.AssertNotCalled(t, "SendCaptureReminder", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestReminderExecutor_PaymentReminderRetriesOnlyMissingRecipient(t *testing.T) {
	f := newFixture(t)
	auth := f.confirmedAuth(t, now.Add(24*time.Hour), now.Add(7*24*time.Hour))
	j := f.seedJob(t, auth, job.PaymentReminderData{HoursBeforeCapture: 24}, now)

	f.notifier.On("SendCaptureReminder", mock.Anything, auth.SenderID(), mock.Anything, job.RoleSender).Return(nil).Once()
	f.notifier.On("SendCaptureReminder", mock.Anything, auth.TransporterID(), mock.Anything, job.RoleTransporter).
		Return(errors.New("push service down")).Once()

	e := executors.NewReminderExecutor(f.deps(), f.notifier)
	ok, err := e.Execute(t.Context(), j)
	require.NoError(t, err)
	assert.False(t, ok)

	failed := f.reload(t, j)
	assert.Equal(t, job.Failed, failed.Status())
	assert.Equal(t, job.KindNotificationFailure, failed.ErrorKind())
	assert.True(t, failed.Result().HasDelivered(job.RoleSender))
	assert.Equal(t, 1, f.audit.CountOf(audit.NotificationFailed))

	require.NoError(t, failed.Retry(now, now))
	ok, err = f.jobs.Transition(t.Context(), failed, job.Failed)
	require.NoError(t, err)
	require.True(t, ok)

	f.notifier.On("SendCaptureReminder", mock.Anything, auth.TransporterID(), mock.Anything, job.RoleTransporter).Return(nil).Once()
	result, err := e.ProcessAllPendingReminders(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Successful)

	done := f.reload(t, j)
	assert.Equal(t, job.Completed, done.Status())
	assert.Len(t, done.Result().Delivered, 2)
	assert.Equal(t, 2, done.Attempts())
	f.notifier.AssertNumberOfCalls(t, "SendCaptureReminder", 3)
}

func TestReminderExecutor_IrrelevantReminderSkips(t *testing.T) {
	f := newFixture(t)
	auth := f.confirmedAuth(t, now.Add(time.Hour), now.Add(2*time.Hour))
	j := f.seedJob(t, auth, job.ConfirmationReminderData{HoursBeforeDeadline: 2}, now)

	e := executors.NewReminderExecutor(f.deps(), f.notifier)
	ok, err := e.Execute(t.Context(), j)

	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, f.reload(t, j).IsSkipped())
	f.notifier.AssertNotCalled(t, "SendConfirmationReminder", mock.Anything, mock.Anything, mock.Anything)
}

func TestIsReminderRelevant(t *testing.T) {
	f := newFixture(t)
	pending := f.pendingAuth(t, now.Add(time.Hour))
	lapsed := f.pendingAuth(t, now.Add(-time.Hour))
	confirmed := f.confirmedAuth(t, now.Add(time.Hour), now.Add(2*time.Hour))
	overdue := f.confirmedAuth(t, now.Add(-2*time.Hour), now.Add(-time.Hour))

	assert.True(t, executors.IsReminderRelevant(pending, job.ReminderConfirmation, now))
	assert.False(t, executors.IsReminderRelevant(lapsed, job.ReminderConfirmation, now))
	assert.False(t, executors.IsReminderRelevant(pending, job.ReminderPayment, now))
	assert.True(t, executors.IsReminderRelevant(confirmed, job.ReminderPayment, now))
	assert.False(t, executors.IsReminderRelevant(overdue, job.ReminderPayment, now))
	assert.False(t, executors.IsReminderRelevant(confirmed, job.ReminderType("sms"), now))
}

func TestReminderExecutor_ScheduleReminders(t *testing.T) {
	t.Run("confirmed authorization", func(t *testing.T) {
		f := newFixture(t)
		auth := f.confirmedAuth(t, now.Add(72*time.Hour), now.Add(7*24*time.Hour))
		e := executors.NewReminderExecutor(f.deps(), f.notifier)

		planned, err := e.ScheduleReminders(t.Context(), auth)
		require.NoError(t, err)
		require.Len(t, planned, 1)
		assert.Equal(t, job.PaymentReminder, planned[0].Type())
		assert.Equal(t, now.Add(48*time.Hour), planned[0].ScheduledAt())

		again, err := e.ScheduleReminders(t.Context(), auth)
		require.NoError(t, err)
		assert.True(t, planned[0].ID().IsEqual(again[0].ID()))
	})

	t.Run("pending authorization", func(t *testing.T) {
		f := newFixture(t)
		auth := f.pendingAuth(t, now.Add(24*time.Hour))
		e := executors.NewReminderExecutor(f.deps(), f.notifier)

		planned, err := e.ScheduleReminders(t.Context(), auth)
		require.NoError(t, err)
		require.Len(t, planned, 1)
		assert.Equal(t, job.ConfirmationReminder, planned[0].Type())
		assert.Equal(t, now.Add(22*time.Hour), planned[0].ScheduledAt())
	})

	t.Run("send instant already passed", func(t *testing.T) {
		f := newFixture(t)
		auth := f.pendingAuth(t, now.Add(90*time.Minute))
		e := executors.NewReminderExecutor(f.deps(), f.notifier)

		planned, err := e.ScheduleReminders(t.Context(), auth)
		require.NoError(t, err)
		assert.Empty(t, planned)
	})
}

func TestReminderExecutor_SendManualReminder(t *testing.T) {
	f := newFixture(t)
	e := executors.NewReminderExecutor(f.deps(), f.notifier)

	pending := f.pendingAuth(t, now.Add(time.Hour))
	_, err := e.SendManualReminder(t.Context(), pending, job.ReminderPayment)
	require.ErrorIs(t, err, executors.ErrReminderNotApplicable)

	_, err = e.SendManualReminder(t.Context(), pending, job.ReminderType("fax"))
	require.ErrorIs(t, err, executors.ErrUnsupportedReminderType)

	f.notifier.On("SendConfirmationReminder", mock.Anything, pending.SenderID(), mock.Anything).Return(nil).Once()
	result, err := e.SendManualReminder(t.Context(), pending, job.ReminderConfirmation)
	require.NoError(t, err)
	assert.Len(t, result.Delivered, 1)

	jobs, err := f.jobs.ListPending(t.Context(), job.ReminderTypes())
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestReminderExecutor_ValidateReminderJobs(t *testing.T) {
	f := newFixture(t)
	e := executors.NewReminderExecutor(f.deps(), f.notifier)

	keep := f.pendingAuth(t, now.Add(10*time.Hour))
	keepJob := f.seedJob(t, keep, job.ConfirmationReminderData{HoursBeforeDeadline: 2}, now.Add(8*time.Hour))

	cancelled := f.save(t, authorization.Params{Status: authorization.Cancelled})
	cancelledJob := f.seedJob(t, cancelled, job.PaymentReminderData{HoursBeforeCapture: 24}, now.Add(time.Hour))

	report, err := e.ValidateReminderJobs(t.Context())
	require.NoError(t, err)

	assert.Equal(t, 1, report.IssuesFound())
	assert.Equal(t, job.Pending, f.reload(t, keepJob).Status())
	assert.Equal(t, job.Cancelled, f.reload(t, cancelledJob).Status())
}
