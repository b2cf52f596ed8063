package job_test

import (
	"testing"
	"time"

	"authjobs/internal/core/domain/model/job"
	"authjobs/internal/core/domain/model/kernel"
	"authjobs/internal/pkg/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newCaptureJob(t *testing.T) *job.ScheduledJob {
	t.Helper()
	bookingID := kernel.NewUUID()
	j, err := job.NewScheduledJob(kernel.NewUUID(), &bookingID, job.CaptureData{}, t0.Add(time.Hour), t0)
	require.NoError(t, err)
	return j
}

func TestNewScheduledJob(t *testing.T) {
	j := newCaptureJob(t)

	require.NoError(t, j.Validate())
	assert.Equal(t, job.AutoCapture, j.Type())
	assert.Equal(t, job.Pending, j.Status())
	assert.Equal(t, 1, j.Priority())
	assert.Equal(t, 0, j.Attempts())
	assert.Equal(t, job.DefaultMaxAttempts, j.MaxAttempts())
	assert.Nil(t, j.ExecutedAt())
	assert.Nil(t, j.Result())
}

func TestNewScheduledJob_RequiresPayload(t *testing.T) {
	_, err := job.NewScheduledJob(kernel.NewUUID(), nil, nil, t0, t0)
	require.ErrorIs(t, err, errs.ErrValueIsRequired)
}

func TestRestoreScheduledJob_PayloadMustMatchType(t *testing.T) {
	_, err := job.RestoreScheduledJob(job.Snapshot{
		ID:              kernel.NewUUID(),
		Type:            job.PaymentExpiry,
		Status:          job.Pending,
		AuthorizationID: kernel.NewUUID(),
		Payload:         job.CaptureData{},
		MaxAttempts:     job.DefaultMaxAttempts,
	})
	require.ErrorIs(t, err, errs.ErrValueIsInvalid)
}

func TestScheduledJob_ZeroValueIsNotConstructed(t *testing.T) {
	var j job.ScheduledJob
	require.ErrorIs(t, j.Validate(), job.ErrScheduledJobIsNotConstructed)
}

func TestScheduledJob_Lifecycle(t *testing.T) {
	t.Run("complete stamps executed_at once", func(t *testing.T) {
		j := newCaptureJob(t)
		require.NoError(t, j.Start(t0.Add(time.Hour)))
		assert.Equal(t, 1, j.Attempts())
		assert.Nil(t, j.ExecutedAt())

		done := t0.Add(time.Hour + time.Second)
		require.NoError(t, j.Complete(done, job.Result{AmountCents: 100}))
		assert.Equal(t, job.Completed, j.Status())
		require.NotNil(t, j.ExecutedAt())
		assert.Equal(t, done, *j.ExecutedAt())
		assert.False(t, j.IsSkipped())
		assert.Equal(t, time.Second, *j.QueueTime())

		require.Error(t, j.Fail(done, job.NewFailure(job.KindInternal, "late")))
		require.Error(t, j.Cancel(done, "late"))
	})

	t.Run("skip is a completion", func(t *testing.T) {
		j := newCaptureJob(t)
		require.NoError(t, j.Start(t0))
		require.NoError(t, j.Skip(t0, "authorization no longer capturable"))
		assert.Equal(t, job.Completed, j.Status())
		assert.True(t, j.IsSkipped())
		assert.Equal(t, "authorization no longer capturable", j.Result().Reason)
	})

	t.Run("fail records kind and message", func(t *testing.T) {
		j := newCaptureJob(t)
		require.NoError(t, j.Start(t0))
		require.NoError(t, j.Fail(t0, job.NewFailure(job.KindGatewayFailure, "declined")))
		assert.Equal(t, job.Failed, j.Status())
		assert.Equal(t, job.KindGatewayFailure, j.ErrorKind())
		assert.Equal(t, "declined", j.ErrorMessage())
		assert.True(t, j.CanRetry())
	})

	t.Run("cancel only from pending", func(t *testing.T) {
		j := newCaptureJob(t)
		require.NoError(t, j.Cancel(t0, "authorization cancelled"))
		assert.Equal(t, job.Cancelled, j.Status())
		assert.Equal(t, "authorization cancelled", j.ErrorMessage())
		require.NotNil(t, j.ExecutedAt())

		running := newCaptureJob(t)
		require.NoError(t, running.Start(t0))
		require.ErrorIs(t, running.Cancel(t0, "x"), errs.ErrValueIsInvalid)
	})

	t.Run("execute only from pending", func(t *testing.T) {
		j := newCaptureJob(t)
		require.NoError(t, j.Start(t0))
		require.ErrorIs(t, j.Start(t0), errs.ErrValueIsInvalid)
		assert.Equal(t, 1, j.Attempts())
	})
}

func TestScheduledJob_Retry(t *testing.T) {
	t.Run("keeps partial result", func(t *testing.T) {
		j := newCaptureJob(t)
		require.NoError(t, j.Start(t0))
		require.NoError(t, j.RecordProgress(job.Result{Delivered: []job.Recipient{{Role: job.RoleSender, UserID: "u"}}}))
		require.NoError(t, j.Fail(t0, job.NewFailure(job.KindNotificationFailure, "smtp down")))

		runAt := t0.Add(10 * time.Minute)
		require.NoError(t, j.Retry(t0, runAt))
		assert.Equal(t, job.Pending, j.Status())
		assert.Equal(t, runAt, j.ScheduledAt())
		assert.Nil(t, j.ExecutedAt())
		assert.True(t, j.Result().HasDelivered(job.RoleSender))
	})

	t.Run("exhausted attempts", func(t *testing.T) {
		j := newCaptureJob(t)
		require.NoError(t, j.SetMaxAttempts(1))
		require.NoError(t, j.Start(t0))
		require.NoError(t, j.Fail(t0, job.NewFailure(job.KindGatewayFailure, "x")))
		assert.False(t, j.CanRetry())
		require.ErrorIs(t, j.Retry(t0, t0), job.ErrCannotRetry)
	})

	t.Run("not failed", func(t *testing.T) {
		j := newCaptureJob(t)
		require.ErrorIs(t, j.Retry(t0, t0), job.ErrCannotRetry)
	})
}

func TestScheduledJob_Reschedule(t *testing.T) {
	j := newCaptureJob(t)
	require.NoError(t, j.Reschedule(t0, t0))
	assert.Equal(t, t0, j.ScheduledAt())

	require.NoError(t, j.Start(t0))
	require.Error(t, j.Reschedule(t0, t0))
}

func TestScheduledJob_OverdueAndStuck(t *testing.T) {
	j := newCaptureJob(t)
	assert.False(t, j.IsOverdue(t0.Add(90*time.Minute), time.Hour))
	assert.True(t, j.IsOverdue(t0.Add(2*time.Hour+time.Second), time.Hour))

	require.NoError(t, j.Start(t0))
	assert.False(t, j.IsStuck(t0.Add(29*time.Minute), 30*time.Minute))
	assert.True(t, j.IsStuck(t0.Add(31*time.Minute), 30*time.Minute))
}

func TestRetryBackoff(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 5 * time.Minute},
		{1, 10 * time.Minute},
		{2, 20 * time.Minute},
		{3, 40 * time.Minute},
		{4, 60 * time.Minute},
		{5, 60 * time.Minute},
		{30, 60 * time.Minute},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, job.RetryBackoff(tt.attempts), "attempts=%d", tt.attempts)
	}
}

func TestScheduledJob_SnapshotRoundTrip(t *testing.T) {
	j := newCaptureJob(t)
	require.NoError(t, j.Start(t0))

	restored, err := job.RestoreScheduledJob(j.Snapshot())
	require.NoError(t, err)
	assert.Equal(t, j.Snapshot(), restored.Snapshot())
	assert.True(t, j.ID().IsEqual(restored.ID()))
}
