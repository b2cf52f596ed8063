package jobs_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"authjobs/internal/core/application/executors"
	"authjobs/internal/core/application/scheduler"
	"authjobs/internal/jobs"
	"authjobs/internal/telemetry"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockScheduler struct{ mock.Mock }

func (m *MockScheduler) ProcessAllJobs(ctx context.Context) scheduler.ProcessReport {
	return m.Called(ctx).Get(0).(scheduler.ProcessReport)
}

func (m *MockScheduler) RetryFailedJobs(ctx context.Context) (scheduler.RetryReport, error) {
	args := m.Called(ctx)
	return args.Get(0).(scheduler.RetryReport), args.Error(1)
}

func (m *MockScheduler) ValidateAllJobs(ctx context.Context) (executors.ValidationReport, error) {
	args := m.Called(ctx)
	return args.Get(0).(executors.ValidationReport), args.Error(1)
}

func (m *MockScheduler) CleanupAllOldJobs(ctx context.Context, daysToKeep int) (scheduler.CleanupReport, error) {
	args := m.Called(ctx, daysToKeep)
	return args.Get(0).(scheduler.CleanupReport), args.Error(1)
}

func (m *MockScheduler) GetQueueStatus(ctx context.Context) (scheduler.QueueStatus, error) {
	args := m.Called(ctx)
	return args.Get(0).(scheduler.QueueStatus), args.Error(1)
}

// stubLocker grants each key once until it is released.
type stubLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	err      error
	released int
}

func newStubLocker() *stubLocker {
	return &stubLocker{held: map[string]bool{}}
}

func (l *stubLocker) TryLock(_ context.Context, key string, _ time.Duration) (func(context.Context) error, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, false, l.err
	}
	if l.held[key] {
		return nil, false, nil
	}
	l.held[key] = true
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
		l.released++
		return nil
	}, true, nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPeriodicJob_RunOnce(t *testing.T) {
	t.Run("runs task and releases lock", func(t *testing.T) {
		locker := newStubLocker()
		calls := 0
		j := jobs.NewPeriodicJob("process", "* * * * * *", func(context.Context) error {
			calls++
			return nil
		}, locker, time.Minute, discard())

		assert.True(t, j.RunOnce(context.Background()))
		assert.Equal(t, 1, calls)
		assert.Equal(t, 1, locker.released)
	})

	t.Run("skips while lock is held elsewhere", func(t *testing.T) {
		locker := newStubLocker()
		locker.held["process"] = true
		j := jobs.NewPeriodicJob("process", "* * * * * *", func(context.Context) error {
			t.Fatal("task must not run")
			return nil
		}, locker, time.Minute, discard())

		assert.False(t, j.RunOnce(context.Background()))
	})

	t.Run("skips when lock backend fails", func(t *testing.T) {
		locker := newStubLocker()
		locker.err = errors.New("redis down")
		j := jobs.NewPeriodicJob("retry", "* * * * * *", func(context.Context) error {
			t.Fatal("task must not run")
			return nil
		}, locker, time.Minute, discard())

		assert.False(t, j.RunOnce(context.Background()))
	})

	t.Run("runs without locker and survives task error", func(t *testing.T) {
		j := jobs.NewPeriodicJob("cleanup", "* * * * * *", func(context.Context) error {
			return errors.New("boom")
		}, nil, 0, discard())

		assert.True(t, j.RunOnce(context.Background()))
	})

	t.Run("task context carries the lock deadline", func(t *testing.T) {
		j := jobs.NewPeriodicJob("validate", "* * * * * *", func(ctx context.Context) error {
			deadline, ok := ctx.Deadline()
			require.True(t, ok)
			assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, 5*time.Second)
			return nil
		}, nil, time.Minute, discard())

		j.RunOnce(context.Background())
	})
}

func TestPeriodicJob_StartRejectsBadSchedule(t *testing.T) {
	j := jobs.NewPeriodicJob("process", "not a schedule", func(context.Context) error { return nil }, nil, 0, discard())

	assert.Error(t, j.Start())
}

func TestProcessJob_FeedsMetrics(t *testing.T) {
	sched := new(MockScheduler)
	metrics := telemetry.New()
	sched.On("ProcessAllJobs", mock.Anything).Return(scheduler.ProcessReport{
		Capture: executors.BatchResult{Processed: 2, Successful: 1, Failed: 1},
		Errors:  []string{},
	})
	sched.On("GetQueueStatus", mock.Anything).Return(scheduler.QueueStatus{
		PendingByType: map[string]int{"payment_reminder": 4},
		Overdue:       2,
	}, nil)

	j := jobs.NewProcessJob(sched, metrics, "0 * * * * *", nil, time.Minute, discard())
	j.RunOnce(context.Background())

	sched.AssertExpectations(t)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.JobsProcessed.WithLabelValues("capture", telemetry.OutcomeFailed)), 0)
	assert.InDelta(t, 4, testutil.ToFloat64(metrics.JobsPending.WithLabelValues("payment_reminder")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.JobsOverdue), 0)
}

func TestRetryAndValidationJobs_FeedMetrics(t *testing.T) {
	sched := new(MockScheduler)
	metrics := telemetry.New()
	sched.On("RetryFailedJobs", mock.Anything).Return(scheduler.RetryReport{Retried: 3, Skipped: 1}, nil)
	sched.On("ValidateAllJobs", mock.Anything).Return(executors.ValidationReport{Issues: []string{"a", "b"}}, nil)

	jobs.NewRetryJob(sched, metrics, "0 */5 * * * *", nil, time.Minute, discard()).RunOnce(context.Background())
	jobs.NewValidationJob(sched, metrics, "0 */15 * * * *", nil, time.Minute, discard()).RunOnce(context.Background())

	sched.AssertExpectations(t)
	assert.InDelta(t, 3, testutil.ToFloat64(metrics.JobsRetried), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.ValidationIssues), 0)
}

func TestCleanupJob_PassesRetention(t *testing.T) {
	sched := new(MockScheduler)
	sched.On("CleanupAllOldJobs", mock.Anything, 14).Return(scheduler.CleanupReport{Total: 9}, nil)

	jobs.NewCleanupJob(sched, 14, "0 30 3 * * *", nil, time.Minute, discard()).RunOnce(context.Background())

	sched.AssertExpectations(t)
}

func TestJobManager(t *testing.T) {
	t.Run("starts and stops all jobs", func(t *testing.T) {
		manager := jobs.NewJobManager(new(MockScheduler), telemetry.New(), nil, jobs.ManagerConfig{
			Schedules:  jobs.DefaultSchedules(),
			DaysToKeep: 30,
		}, discard())

		require.Len(t, manager.Jobs(), 4)
		require.NoError(t, manager.StartAll())
		manager.StopAll()
	})

	t.Run("bad schedule fails start", func(t *testing.T) {
		schedules := jobs.DefaultSchedules()
		schedules.Cleanup = "every day"
		manager := jobs.NewJobManager(new(MockScheduler), telemetry.New(), nil, jobs.ManagerConfig{
			Schedules: schedules,
		}, discard())

		err := manager.StartAll()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cleanup")
	})
}
