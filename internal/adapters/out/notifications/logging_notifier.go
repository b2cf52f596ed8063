package notifications

import (
	"context"
	"log/slog"

	"authjobs/internal/core/domain/model/job"
	"authjobs/internal/core/domain/model/kernel"
	"authjobs/internal/core/ports"
)

var _ ports.Notifier = (*LoggingNotifier)(nil)

// LoggingNotifier writes reminders to the log instead of a stream. It is used
// when Redis is not configured.
type LoggingNotifier struct {
	logger *slog.Logger
}

func NewLoggingNotifier(logger *slog.Logger) *LoggingNotifier {
	return &LoggingNotifier{logger: logger.With("component", "reminder_notifier")}
}

func (n *LoggingNotifier) SendConfirmationReminder(ctx context.Context, userID kernel.UUID, rc ports.ReminderContext) error {
	n.logger.InfoContext(ctx, "confirmation reminder",
		"user_id", userID.String(),
		"authorization_id", rc.AuthorizationID.String(),
		"hours_remaining", rc.HoursRemaining)
	return nil
}

func (n *LoggingNotifier) SendCaptureReminder(ctx context.Context, userID kernel.UUID, rc ports.ReminderContext, role job.Role) error {
	n.logger.InfoContext(ctx, "capture reminder",
		"user_id", userID.String(),
		"role", string(role),
		"authorization_id", rc.AuthorizationID.String(),
		"hours_remaining", rc.HoursRemaining)
	return nil
}
