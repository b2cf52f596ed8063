package job

import (
	"encoding/json"
	"errors"
	"slices"
)

// Role is the part a notified user plays in a booking.
type Role string

const (
	RoleSender      Role = "sender"
	RoleTransporter Role = "transporter"
)

// Recipient is a user a reminder was delivered to.
type Recipient struct {
	Role   Role   `json:"role"`
	UserID string `json:"user_id"`
}

// Result is the typed outcome stored on a job.
type Result struct {
	// Skipped marks a benign no-op completion.
	Skipped bool   `json:"skipped"`
	Reason  string `json:"reason,omitempty"`

	AmountCents   int64        `json:"amount_cents,omitempty"`
	CaptureReason string       `json:"capture_reason,omitempty"`
	ExpiryType    ExpiryType   `json:"expiry_type,omitempty"`
	ReminderType  ReminderType `json:"reminder_type,omitempty"`

	// Delivered lists reminder recipients already notified. It survives a
	// failure so a retry only contacts the remaining recipients.
	Delivered []Recipient `json:"delivered,omitempty"`
}

// SkippedResult builds the result of a skip-complete.
func SkippedResult(reason string) Result {
	return Result{Skipped: true, Reason: reason}
}

// HasDelivered reports whether the role was already notified.
func (r *Result) HasDelivered(role Role) bool {
	if r == nil {
		return false
	}
	return slices.ContainsFunc(r.Delivered, func(rc Recipient) bool { return rc.Role == role })
}

// EncodeResult serializes a result; nil encodes to nil.
func EncodeResult(r *Result) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, errors.Join(ErrInvalidPayload, err)
	}
	return data, nil
}

// DecodeResult parses a stored result; empty data decodes to nil.
func DecodeResult(raw []byte) (*Result, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var r Result
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, errors.Join(ErrInvalidPayload, err)
	}
	return &r, nil
}
