package executors_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"authjobs/internal/adapters/out/memory"
	"authjobs/internal/core/application/executors"
	"authjobs/internal/core/domain/model/authorization"
	"authjobs/internal/core/domain/model/job"
	"authjobs/internal/core/domain/model/kernel"
	"authjobs/internal/core/ports"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

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

type fixture struct {
	clock    *kernel.FixedClock
	jobs     *memory.JobRepository
	auths    *memory.AuthorizationRepository
	audit    *memory.AuditSink
	gateway  *MockGateway
	notifier *MockNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &fixture{
		clock:    kernel.NewFixedClock(now),
		jobs:     memory.NewJobRepository(),
		auths:    memory.NewAuthorizationRepository(),
		audit:    memory.NewAuditSink(logger),
		gateway:  new(MockGateway),
		notifier: new(MockNotifier),
	}
}

func (f *fixture) deps() executors.Deps {
	return executors.Deps{
		Jobs:           f.jobs,
		Authorizations: f.auths,
		Audit:          f.audit,
		Clock:          f.clock,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		CallTimeout:    time.Second,
	}
}

func (f *fixture) save(t *testing.T, p authorization.Params) *authorization.Authorization {
	t.Helper()
	p.ID = kernel.NewUUID()
	p.BookingID = kernel.NewUUID()
	p.SenderID = kernel.NewUUID()
	p.TransporterID = kernel.NewUUID()
	if p.AmountCents == 0 {
		p.AmountCents = 12_500
	}
	auth, err := authorization.RestoreAuthorization(p)
	require.NoError(t, err)
	require.NoError(t, f.auths.Save(t.Context(), auth))
	return auth
}

func (f *fixture) pendingAuth(t *testing.T, deadline time.Time) *authorization.Authorization {
	return f.save(t, authorization.Params{Status: authorization.Pending, ConfirmationDeadline: &deadline})
}

func (f *fixture) confirmedAuth(t *testing.T, autoCaptureAt, expiresAt time.Time) *authorization.Authorization {
	return f.save(t, authorization.Params{Status: authorization.Confirmed, AutoCaptureAt: &autoCaptureAt, ExpiresAt: &expiresAt})
}

// seedJob stores a Pending job directly, bypassing executor scheduling rules.
func (f *fixture) seedJob(t *testing.T, auth *authorization.Authorization, payload job.Payload, runAt time.Time) *job.ScheduledJob {
	t.Helper()
	bookingID := auth.BookingID()
	j, err := job.NewScheduledJob(auth.ID(), &bookingID, payload, runAt, f.clock.Now())
	require.NoError(t, err)
	stored, created, err := f.jobs.Create(t.Context(), j)
	require.NoError(t, err)
	require.True(t, created)
	return stored
}

func (f *fixture) reload(t *testing.T, j *job.ScheduledJob) *job.ScheduledJob {
	t.Helper()
	stored, err := f.jobs.Get(t.Context(), j.ID())
	require.NoError(t, err)
	return stored
}
