// Package audit describes the money-relevant outcomes the job executors report.
package audit

import (
	"time"

	"authjobs/internal/core/domain/model/kernel"
)

// EventType names an audited outcome.
type EventType string

const (
	CaptureSucceeded   EventType = "capture_succeeded"
	CaptureFailed      EventType = "capture_failed"
	ExpirySucceeded    EventType = "expiry_succeeded"
	ExpiryFailed       EventType = "expiry_failed"
	NotificationSent   EventType = "notification_sent"
	NotificationFailed EventType = "notification_failed"
)

// Event is one audit record. JobID is nil for actions taken outside the job
// queue, such as the direct expiry sweep or manual reminders.
type Event struct {
	Type            EventType
	AuthorizationID kernel.UUID
	JobID           *kernel.UUID
	AmountCents     int64
	Message         string
	Details         map[string]string
	OccurredAt      time.Time
}

// IsFailure reports the failure variants.
func (t EventType) IsFailure() bool {
	return t == CaptureFailed || t == ExpiryFailed || t == NotificationFailed
}
