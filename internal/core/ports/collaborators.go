package ports

import (
	"context"
	"time"

	"authjobs/internal/core/domain/model/audit"
	"authjobs/internal/core/domain/model/authorization"
	"authjobs/internal/core/domain/model/job"
	"authjobs/internal/core/domain/model/kernel"
)

// PaymentGateway performs the money movements. A nil error means the
// gateway accepted the operation.
type PaymentGateway interface {
	Capture(ctx context.Context, auth *authorization.Authorization, reason string) error
	Expire(ctx context.Context, auth *authorization.Authorization) error
}

// ReminderContext is what a reminder tells its recipient.
type ReminderContext struct {
	AuthorizationID kernel.UUID
	BookingID       kernel.UUID
	AmountCents     int64
	Deadline        time.Time
	HoursRemaining  int
}

// Notifier delivers reminders to users.
type Notifier interface {
	SendConfirmationReminder(ctx context.Context, userID kernel.UUID, rc ReminderContext) error
	SendCaptureReminder(ctx context.Context, userID kernel.UUID, rc ReminderContext, role job.Role) error
}

// AuditSink records outcomes. It is fire-and-forget: implementations log
// their own failures and never block the caller on them.
type AuditSink interface {
	Record(ctx context.Context, event audit.Event)
}

// Locker guards a periodic trigger against overlapping runs.
type Locker interface {
	// TryLock returns acquired=false without error when someone else holds key.
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(context.Context) error, acquired bool, err error)
}
