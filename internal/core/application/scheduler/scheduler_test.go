package scheduler_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"authjobs/internal/adapters/out/memory"
	"authjobs/internal/core/application/executors"
	"authjobs/internal/core/application/scheduler"
	"authjobs/internal/core/domain/model/authorization"
	"authjobs/internal/core/domain/model/job"
	"authjobs/internal/core/domain/model/kernel"
	"authjobs/internal/core/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type MockGateway struct{ mock.Mock }

func (m *MockGateway) Capture(ctx context.Context, auth *authorization.Authorization, reason string) error {
	return m.Called(ctx, auth, reason).Error(0)
}

func (m *MockGateway) Expire(ctx context.Context, auth *authorization.Authorization) error {
	return m.Called(ctx, auth).Error(0)
}

type MockNotifier struct{ mock.Mock }

func (m *MockNotifier) SendConfirmationReminder(ctx context.Context, userID kernel.UUID, rc ports.ReminderContext) error {
	return m.Called(ctx, userID, rc).Error(0)
}

func (m *MockNotifier) SendCaptureReminder(ctx context.Context, userID kernel.UUID, rc ports.ReminderContext, role job.Role) error {
	return m.Called(ctx, userID, rc, role).Error(0)
}

// explodingCapture panics in the middle of its batch.
type explodingCapture struct {
	*executors.CaptureExecutor
}

func (explodingCapture) ProcessAllPendingCaptures(context.Context) (executors.BatchResult, error) {
	panic("capture store corrupted")
}

var now = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

type SchedulerSuite struct {
	suite.Suite
	clock     *kernel.FixedClock
	jobs      *memory.JobRepository
	auths     *memory.AuthorizationRepository
	gateway   *MockGateway
	notifier  *MockNotifier
	capture   *executors.CaptureExecutor
	expiry    *executors.ExpiryExecutor
	reminder  *executors.ReminderExecutor
	scheduler *scheduler.JobScheduler
	logger    *slog.Logger
}

func TestSchedulerSuite(t *testing.T) {
	suite.Run(t, new(SchedulerSuite))
}

func (s *SchedulerSuite) SetupTest() {
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	s.clock = kernel.NewFixedClock(now)
	s.jobs = memory.NewJobRepository()
	s.auths = memory.NewAuthorizationRepository()
	s.gateway = new(MockGateway)
	s.notifier = new(MockNotifier)

	deps := executors.Deps{
		Jobs:           s.jobs,
		Authorizations: s.auths,
		Audit:          memory.NewAuditSink(s.logger),
		Clock:          s.clock,
		Logger:         s.logger,
	}
	s.capture = executors.NewCaptureExecutor(deps, s.gateway)
	s.expiry = executors.NewExpiryExecutor(deps, s.gateway)
	s.reminder = executors.NewReminderExecutor(deps, s.notifier)
	s.scheduler = scheduler.NewJobScheduler(s.capture, s.expiry, s.reminder, s.jobs, s.auths, s.clock, s.logger)
}

func (s *SchedulerSuite) saveAuth(p authorization.Params) *authorization.Authorization {
	p.ID = kernel.NewUUID()
	p.BookingID = kernel.NewUUID()
	p.SenderID = kernel.NewUUID()
	p.TransporterID = kernel.NewUUID()
	p.AmountCents = 9_900
	auth, err := authorization.RestoreAuthorization(p)
	s.Require().NoError(err)
	s.Require().NoError(s.auths.Save(s.T().Context(), auth))
	return auth
}

func (s *SchedulerSuite) confirmedAuth(autoCaptureAt time.Time) *authorization.Authorization {
	return s.saveAuth(authorization.Params{Status: authorization.Confirmed, AutoCaptureAt: &autoCaptureAt})
}

func (s *SchedulerSuite) pendingAuth(deadline time.Time) *authorization.Authorization {
	return s.saveAuth(authorization.Params{Status: authorization.Pending, ConfirmationDeadline: &deadline})
}

func (s *SchedulerSuite) storeJob(auth *authorization.Authorization, payload job.Payload, status job.Status, attempts int, updatedAt time.Time) *job.ScheduledJob {
	j, err := job.RestoreScheduledJob(job.Snapshot{
		ID:              kernel.NewUUID(),
		Type:            payload.Type(),
		Status:          status,
		AuthorizationID: auth.ID(),
		Payload:         payload,
		ScheduledAt:     updatedAt,
		Priority:        payload.Type().Priority(),
		Attempts:        attempts,
		MaxAttempts:     job.DefaultMaxAttempts,
		CreatedAt:       updatedAt,
		UpdatedAt:       updatedAt,
	})
	s.Require().NoError(err)
	_, created, err := s.jobs.Create(s.T().Context(), j)
	s.Require().NoError(err)
	s.Require().True(created)
	return j
}

func (s *SchedulerSuite) reload(j *job.ScheduledJob) *job.ScheduledJob {
	stored, err := s.jobs.Get(s.T().Context(), j.ID())
	s.Require().NoError(err)
	return stored
}

func (s *SchedulerSuite) TestScheduleAllJobsForAuthorization_ConfirmedIsIdempotent() {
	ctx := s.T().Context()
	auth := s.confirmedAuth(now.Add(72 * time.Hour))

	planned := s.scheduler.ScheduleAllJobsForAuthorization(ctx, auth)

	s.Require().Len(planned, 2)
	byType := map[job.Type]*job.ScheduledJob{}
	for _, j := range planned {
		byType[j.Type()] = j
	}
	s.Equal(now.Add(72*time.Hour), byType[job.AutoCapture].ScheduledAt())
	s.Equal(now.Add(48*time.Hour), byType[job.PaymentReminder].ScheduledAt())

	again := s.scheduler.ScheduleAllJobsForAuthorization(ctx, auth)
	s.Len(again, 2)

	pending, err := s.jobs.ListPending(ctx, job.AllTypes())
	s.Require().NoError(err)
	s.Len(pending, 2)
}

func (s *SchedulerSuite) TestScheduleAllJobsForAuthorization_Pending() {
	auth := s.pendingAuth(now.Add(48 * time.Hour))

	planned := s.scheduler.ScheduleAllJobsForAuthorization(s.T().Context(), auth)

	s.Require().Len(planned, 2)
	s.Equal(job.PaymentExpiry, planned[0].Type())
	s.Equal(job.ConfirmationReminder, planned[1].Type())
	s.Equal(now.Add(46*time.Hour), planned[1].ScheduledAt())
}

func (s *SchedulerSuite) TestProcessAllJobs_BatchFailureIsIsolated() {
	ctx := s.T().Context()
	expiring := s.pendingAuth(now.Add(-time.Minute))
	s.storeJob(expiring, job.ExpiryData{ExpiryType: job.ExpiryConfirmation}, job.Pending, 0, now.Add(-time.Minute))
	reminded := s.pendingAuth(now.Add(time.Hour))
	s.storeJob(reminded, job.ConfirmationReminderData{HoursBeforeDeadline: 2}, job.Pending, 0, now.Add(-time.Minute))

	s.gateway.On("Expire", mock.Anything, mock.Anything).Return(nil)
	s.notifier.On("SendConfirmationReminder", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	sched := scheduler.NewJobScheduler(explodingCapture{s.capture}, s.expiry, s.reminder, s.jobs, s.auths, s.clock, s.logger)
	report := sched.ProcessAllJobs(ctx)

	s.Require().Len(report.Errors, 1)
	s.Contains(report.Errors[0], "capture batch")
	s.Contains(report.Errors[0], "capture store corrupted")
	s.Equal(executors.BatchResult{Processed: 1, Successful: 1}, report.Expiry)
	s.Equal(executors.BatchResult{Processed: 1, Successful: 1}, report.Reminder)
	s.Equal(executors.BatchResult{}, report.Capture)
	s.Equal(2, report.TotalProcessed)
	// The gateway double leaves the authorization Pending, so the sweep sees it too.
	s.Equal(executors.SweepResult{Expired: 1}, report.ExpirySweep)
}

func (s *SchedulerSuite) TestProcessAllJobs_SweepsExpiredAuthorizationsWithoutJobs() {
	expiresAt := now.Add(-time.Hour)
	auth := s.saveAuth(authorization.Params{Status: authorization.Confirmed, ExpiresAt: &expiresAt})
	s.gateway.On("Expire", mock.Anything, mock.MatchedBy(func(a *authorization.Authorization) bool {
		return a.ID().IsEqual(auth.ID())
	})).Return(nil).Once()

	report := s.scheduler.ProcessAllJobs(s.T().Context())

	s.Empty(report.Errors)
	s.Zero(report.TotalProcessed)
	s.Equal(executors.SweepResult{Expired: 1}, report.ExpirySweep)
	s.gateway.AssertExpectations(s.T())
}

func (s *SchedulerSuite) TestProcessAllJobs_SweepFailureIsReported() {
	expiresAt := now.Add(-time.Hour)
	s.saveAuth(authorization.Params{Status: authorization.Confirmed, ExpiresAt: &expiresAt})
	s.gateway.On("Expire", mock.Anything, mock.Anything).Return(assert.AnError)

	report := s.scheduler.ProcessAllJobs(s.T().Context())

	s.Empty(report.Errors)
	s.Equal(executors.SweepResult{Failed: 1}, report.ExpirySweep)
}

func (s *SchedulerSuite) TestCancelAllJobsForAuthorization_OnlyPending() {
	ctx := s.T().Context()
	auth := s.confirmedAuth(now.Add(time.Hour))
	other := s.confirmedAuth(now.Add(time.Hour))

	pending := s.storeJob(auth, job.CaptureData{}, job.Pending, 0, now)
	completed := s.storeJob(auth, job.ExpiryData{ExpiryType: job.ExpiryCapture}, job.Completed, 1, now)
	failed := s.storeJob(auth, job.PaymentReminderData{HoursBeforeCapture: 24}, job.Failed, 1, now)
	cancelled := s.storeJob(auth, job.ExpiryData{}, job.Cancelled, 0, now)
	otherPending := s.storeJob(other, job.CaptureData{}, job.Pending, 0, now)

	s.clock.Advance(time.Minute)
	count, err := s.scheduler.CancelAllJobsForAuthorization(ctx, auth.ID(), "authorization cancelled by sender")

	s.Require().NoError(err)
	s.EqualValues(1, count)

	cancelledNow := s.reload(pending)
	s.Equal(job.Cancelled, cancelledNow.Status())
	s.Equal("authorization cancelled by sender", cancelledNow.ErrorMessage())
	s.Require().NotNil(cancelledNow.ExecutedAt())
	s.Equal(now.Add(time.Minute), *cancelledNow.ExecutedAt())

	s.Equal(completed.Snapshot(), s.reload(completed).Snapshot())
	s.Equal(failed.Snapshot(), s.reload(failed).Snapshot())
	s.Equal(cancelled.Snapshot(), s.reload(cancelled).Snapshot())
	s.Equal(job.Pending, s.reload(otherPending).Status())
}

func (s *SchedulerSuite) TestRetryFailedJobs_Backoff() {
	ctx := s.T().Context()
	twice := s.storeJob(s.confirmedAuth(now), job.CaptureData{}, job.Failed, 2, now.Add(-time.Hour))
	fiveTimes := s.storeJob(s.confirmedAuth(now), job.CaptureData{}, job.Failed, 5, now.Add(-time.Hour))
	exhausted := s.storeJob(s.confirmedAuth(now), job.CaptureData{}, job.Failed, job.DefaultMaxAttempts, now.Add(-time.Hour))

	report, err := s.scheduler.RetryFailedJobs(ctx)

	s.Require().NoError(err)
	s.Equal(scheduler.RetryReport{Retried: 2}, report)
	s.Equal(job.Pending, s.reload(twice).Status())
	s.Equal(now.Add(20*time.Minute), s.reload(twice).ScheduledAt())
	s.Equal(now.Add(60*time.Minute), s.reload(fiveTimes).ScheduledAt())
	s.Equal(job.Failed, s.reload(exhausted).Status())
}

func (s *SchedulerSuite) TestRetryFailedJobs_DedupSlotTaken() {
	auth := s.confirmedAuth(now.Add(time.Hour))
	failed := s.storeJob(auth, job.CaptureData{}, job.Failed, 1, now.Add(-time.Hour))
	s.storeJob(auth, job.CaptureData{}, job.Pending, 0, now)

	report, err := s.scheduler.RetryFailedJobs(s.T().Context())

	s.Require().NoError(err)
	s.Zero(report)
	s.Equal(job.Failed, s.reload(failed).Status())
}

func (s *SchedulerSuite) TestRetryFailedJobs_ExhaustedJobsDoNotCrowdOutEligible() {
	auth := s.confirmedAuth(now.Add(time.Hour))
	for range 500 {
		s.storeJob(auth, job.PaymentReminderData{HoursBeforeCapture: 24}, job.Failed, job.DefaultMaxAttempts, now.Add(-2*time.Hour))
	}
	eligible := s.storeJob(s.confirmedAuth(now.Add(time.Hour)), job.CaptureData{}, job.Failed, 1, now.Add(-time.Hour))

	report, err := s.scheduler.RetryFailedJobs(s.T().Context())

	s.Require().NoError(err)
	s.Equal(scheduler.RetryReport{Retried: 1}, report)
	s.Equal(job.Pending, s.reload(eligible).Status())
}

func (s *SchedulerSuite) TestValidateAllJobs_FailsStuckJobs() {
	auth := s.confirmedAuth(now.Add(time.Hour))
	stuck := s.storeJob(auth, job.CaptureData{}, job.Running, 1, now.Add(-31*time.Minute))
	fresh := s.storeJob(s.confirmedAuth(now.Add(time.Hour)), job.CaptureData{}, job.Running, 1, now.Add(-5*time.Minute))

	report, err := s.scheduler.ValidateAllJobs(s.T().Context())

	s.Require().NoError(err)
	failed := s.reload(stuck)
	s.Equal(job.Failed, failed.Status())
	s.Equal(scheduler.StuckJobMessage, failed.ErrorMessage())
	s.Equal(job.KindStuck, failed.ErrorKind())
	s.Equal(job.Running, s.reload(fresh).Status())
	s.Positive(report.IssuesFound())
}

func (s *SchedulerSuite) TestValidateAllJobs_ReplansMissingJobs() {
	ctx := s.T().Context()
	auth := s.pendingAuth(now.Add(24 * time.Hour))

	report, err := s.scheduler.ValidateAllJobs(ctx)

	s.Require().NoError(err)
	s.Contains(report.Issues[0], auth.ID().String())
	_, err = s.jobs.FindPending(ctx, auth.ID(), job.PaymentExpiry, string(job.ExpiryConfirmation))
	s.NoError(err)
	_, err = s.jobs.FindPending(ctx, auth.ID(), job.ConfirmationReminder, "")
	s.NoError(err)

	second, err := s.scheduler.ValidateAllJobs(ctx)
	s.Require().NoError(err)
	s.Zero(second.IssuesFound())
}

func (s *SchedulerSuite) TestGetQueueStatus() {
	auth := s.confirmedAuth(now.Add(time.Hour))
	s.storeJob(auth, job.CaptureData{}, job.Pending, 0, now.Add(-10*time.Minute))
	s.storeJob(s.pendingAuth(now.Add(time.Hour)), job.ExpiryData{ExpiryType: job.ExpiryConfirmation}, job.Pending, 0, now.Add(30*time.Minute))
	s.storeJob(auth, job.PaymentReminderData{HoursBeforeCapture: 24}, job.Completed, 1, now)

	status, err := s.scheduler.GetQueueStatus(s.T().Context())

	s.Require().NoError(err)
	s.Equal(2, status.TotalPending)
	s.Equal(1, status.PendingByType["auto_capture"])
	s.Equal(1, status.PendingByType["payment_expiry"])
	s.Equal(0, status.PendingByType["payment_reminder"])
	s.Equal(1, status.Overdue)
	s.Require().Len(status.Upcoming, 2)
	s.Equal(-10, status.Upcoming[0].MinutesUntil)
	s.Equal(30, status.Upcoming[1].MinutesUntil)
}

func (s *SchedulerSuite) TestGetSystemStatistics() {
	ctx := s.T().Context()
	good := s.confirmedAuth(now.Add(-time.Minute))
	bad := s.confirmedAuth(now.Add(-time.Minute))
	s.storeJob(good, job.CaptureData{}, job.Pending, 0, now.Add(-2*time.Minute))
	s.storeJob(bad, job.CaptureData{}, job.Pending, 0, now.Add(-2*time.Minute))
	s.gateway.On("Capture", mock.Anything, mock.MatchedBy(func(a *authorization.Authorization) bool {
		return a.ID().IsEqual(bad.ID())
	}), mock.Anything).Return(assert.AnError)
	s.gateway.On("Capture", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	s.scheduler.ProcessAllJobs(ctx)
	stats, err := s.scheduler.GetSystemStatistics(ctx)

	s.Require().NoError(err)
	s.Equal(1, stats.Capture.Completed)
	s.Equal(1, stats.Capture.Failed)
	s.Equal(2, stats.Performance.JobsProcessed24h)
	s.InDelta(50.0, stats.Performance.SuccessRatePercent, 0.001)
	s.InDelta(120.0, stats.Performance.AverageQueueTimeSeconds, 0.001)
}

func (s *SchedulerSuite) TestCleanupAllOldJobs() {
	ctx := s.T().Context()
	auth := s.confirmedAuth(now)
	s.storeJob(auth, job.CaptureData{}, job.Completed, 1, now.Add(-40*24*time.Hour))
	s.storeJob(auth, job.ExpiryData{}, job.Cancelled, 0, now.Add(-40*24*time.Hour))
	s.storeJob(auth, job.PaymentReminderData{}, job.Failed, 1, now.Add(-40*24*time.Hour))
	s.storeJob(auth, job.ConfirmationReminderData{}, job.Completed, 1, now.Add(-time.Hour))

	report, err := s.scheduler.CleanupAllOldJobs(ctx, 30)

	s.Require().NoError(err)
	s.Equal(scheduler.CleanupReport{Capture: 1, Expiry: 1, Total: 2}, report)
}

func TestNewJobScheduler_Defaults(t *testing.T) {
	jobs := memory.NewJobRepository()

	var sched *scheduler.JobScheduler
	require.NotPanics(t, func() {
		sched = scheduler.NewJobScheduler(nil, nil, nil, jobs, memory.NewAuthorizationRepository(), nil, nil)
	})

	status, err := sched.GetQueueStatus(t.Context())
	require.NoError(t, err)
	assert.Zero(t, status.TotalPending)

	report, err := sched.RetryFailedJobs(t.Context())
	require.NoError(t, err)
	assert.Zero(t, report)
}
