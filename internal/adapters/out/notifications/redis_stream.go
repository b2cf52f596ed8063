// Package notifications publishes reminder messages onto a Redis stream that
// the notification service consumes.
package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"authjobs/internal/core/domain/model/job"
	"authjobs/internal/core/domain/model/kernel"
	"authjobs/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

var _ ports.Notifier = (*StreamNotifier)(nil)

const (
	DefaultStream = "notifications:reminders"

	// Approximate trim bound for the stream.
	streamMaxLen = 100_000
)

const (
	KindConfirmationReminder = "confirmation_reminder"
	KindCaptureReminder      = "capture_reminder"
)

type StreamNotifier struct {
	client *redis.Client
	stream string
	logger *slog.Logger
}

func NewStreamNotifier(client *redis.Client, stream string, logger *slog.Logger) *StreamNotifier {
	if stream == "" {
		stream = DefaultStream
	}
	return &StreamNotifier{
		client: client,
		stream: stream,
		logger: logger.With("component", "reminder_notifier"),
	}
}

func (n *StreamNotifier) SendConfirmationReminder(ctx context.Context, userID kernel.UUID, rc ports.ReminderContext) error {
	return n.publish(ctx, KindConfirmationReminder, userID, rc, "")
}

func (n *StreamNotifier) SendCaptureReminder(ctx context.Context, userID kernel.UUID, rc ports.ReminderContext, role job.Role) error {
	return n.publish(ctx, KindCaptureReminder, userID, rc, role)
}

func (n *StreamNotifier) publish(ctx context.Context, kind string, userID kernel.UUID, rc ports.ReminderContext, role job.Role) error {
	values := map[string]any{
		"kind":             kind,
		"user_id":          userID.String(),
		"authorization_id": rc.AuthorizationID.String(),
		"booking_id":       rc.BookingID.String(),
		"amount_cents":     strconv.FormatInt(rc.AmountCents, 10),
		"deadline":         rc.Deadline.UTC().Format(time.RFC3339),
		"hours_remaining":  strconv.Itoa(rc.HoursRemaining),
	}
	if role != "" {
		values["role"] = string(role)
	}

	id, err := n.client.XAdd(ctx, &redis.XAddArgs{
		Stream: n.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: values,
	}).Result()
	if err != nil {
		return fmt.Errorf("publish %s: %w", kind, err)
	}

	n.logger.DebugContext(ctx, "reminder published",
		"kind", kind,
		"message_id", id,
		"authorization_id", rc.AuthorizationID.String())
	return nil
}
