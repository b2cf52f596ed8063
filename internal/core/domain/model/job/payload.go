package job

import (
	"encoding/json"
	"errors"
	"fmt"

	"authjobs/internal/pkg/errs"
)

// DefaultCaptureReason is recorded when a capture job carries no explicit reason.
const DefaultCaptureReason = "automatic capture after 72 hours"

// ErrInvalidPayload wraps payload decoding failures.
var ErrInvalidPayload = errors.New("invalid job payload")

// Payload is the typed job_data of a scheduled job. Each job type has exactly
// one payload variant.
type Payload interface {
	// Type is the job type this payload belongs to.
	Type() Type
	// Subtype separates jobs of the same type for deduplication.
	Subtype() string
}

// ExpiryType selects which deadline an expiry job enforces. The zero value
// checks both.
type ExpiryType string

const (
	ExpiryUnset        ExpiryType = ""
	ExpiryConfirmation ExpiryType = "confirmation"
	ExpiryCapture      ExpiryType = "capture"
)

// ReminderType selects which reminder a reminder job sends.
type ReminderType string

const (
	ReminderConfirmation ReminderType = "confirmation"
	ReminderPayment      ReminderType = "payment"
)

// ParseReminderType validates a reminder type coming from outside the domain.
func ParseReminderType(s string) (ReminderType, error) {
	switch ReminderType(s) {
	case ReminderConfirmation, ReminderPayment:
		return ReminderType(s), nil
	default:
		return "", errs.NewValueIsInvalidErrorWithCause("reminder type", fmt.Errorf("%q is not a reminder type", s))
	}
}

// JobType maps a reminder type to the job type that delivers it.
func (r ReminderType) JobType() Type {
	switch r {
	case ReminderConfirmation:
		return ConfirmationReminder
	case ReminderPayment:
		return PaymentReminder
	default:
		return UnknownType
	}
}

// CaptureData is the payload of AutoCapture jobs.
type CaptureData struct {
	CaptureReason string `json:"capture_reason,omitempty"`
}

func (CaptureData) Type() Type      { return AutoCapture }
func (CaptureData) Subtype() string { return "" }

// Reason returns the capture reason, defaulting to DefaultCaptureReason.
func (d CaptureData) Reason() string {
	if d.CaptureReason == "" {
		return DefaultCaptureReason
	}
	return d.CaptureReason
}

// ExpiryData is the payload of PaymentExpiry jobs.
type ExpiryData struct {
	ExpiryType ExpiryType `json:"expiry_type,omitempty"`
}

func (ExpiryData) Type() Type        { return PaymentExpiry }
func (d ExpiryData) Subtype() string { return string(d.ExpiryType) }

// ConfirmationReminderData is the payload of ConfirmationReminder jobs.
type ConfirmationReminderData struct {
	HoursBeforeDeadline int `json:"hours_before_deadline"`
}

func (ConfirmationReminderData) Type() Type                 { return ConfirmationReminder }
func (ConfirmationReminderData) Subtype() string            { return "" }
func (ConfirmationReminderData) ReminderType() ReminderType { return ReminderConfirmation }

func (d ConfirmationReminderData) MarshalJSON() ([]byte, error) {
	type plain ConfirmationReminderData
	return json.Marshal(struct {
		ReminderType ReminderType `json:"reminder_type"`
		plain
	}{ReminderConfirmation, plain(d)})
}

// PaymentReminderData is the payload of PaymentReminder jobs.
type PaymentReminderData struct {
	HoursBeforeCapture int `json:"hours_before_capture"`
}

func (PaymentReminderData) Type() Type                 { return PaymentReminder }
func (PaymentReminderData) Subtype() string            { return "" }
func (PaymentReminderData) ReminderType() ReminderType { return ReminderPayment }

func (d PaymentReminderData) MarshalJSON() ([]byte, error) {
	type plain PaymentReminderData
	return json.Marshal(struct {
		ReminderType ReminderType `json:"reminder_type"`
		plain
	}{ReminderPayment, plain(d)})
}

// EncodePayload serializes a payload into job_data JSON.
func EncodePayload(p Payload) ([]byte, error) {
	if p == nil {
		return nil, errs.NewValueIsRequiredError("job payload")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, errors.Join(ErrInvalidPayload, err)
	}
	return data, nil
}

// DecodePayload parses job_data for the given job type. Empty data decodes to
// the zero payload of that type.
func DecodePayload(t Type, raw []byte) (Payload, error) {
	switch t {
	case AutoCapture:
		return decodeInto[CaptureData](raw)
	case PaymentExpiry:
		return decodeInto[ExpiryData](raw)
	case ConfirmationReminder:
		return decodeInto[ConfirmationReminderData](raw)
	case PaymentReminder:
		return decodeInto[PaymentReminderData](raw)
	default:
		return nil, errors.Join(ErrInvalidPayload, t.Validate())
	}
}

func decodeInto[P Payload](raw []byte) (Payload, error) {
	var p P
	if len(raw) == 0 || string(raw) == "null" {
		return p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errors.Join(ErrInvalidPayload, err)
	}
	return p, nil
}
