package job

import (
	"fmt"

	"authjobs/internal/pkg/errs"
)

// Type identifies what a scheduled job does.
type Type int

const (
	UnknownType Type = iota
	AutoCapture
	PaymentExpiry
	ConfirmationReminder
	PaymentReminder
)

var typeNames = map[Type]string{
	AutoCapture:          "AutoCapture",
	PaymentExpiry:        "PaymentExpiry",
	ConfirmationReminder: "ConfirmationReminder",
	PaymentReminder:      "PaymentReminder",
}

var typeCodes = map[Type]string{
	AutoCapture:          "auto_capture",
	PaymentExpiry:        "payment_expiry",
	ConfirmationReminder: "confirmation_reminder",
	PaymentReminder:      "payment_reminder",
}

// Priorities, lower is more urgent.
var typePriorities = map[Type]int{
	AutoCapture:          1,
	PaymentExpiry:        2,
	PaymentReminder:      3,
	ConfirmationReminder: 4,
}

// AllTypes lists every valid job type in declaration order.
func AllTypes() []Type {
	return []Type{AutoCapture, PaymentExpiry, ConfirmationReminder, PaymentReminder}
}

// ReminderTypes lists the job types handled by the reminder executor.
func ReminderTypes() []Type {
	return []Type{ConfirmationReminder, PaymentReminder}
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "Unknown"
}

// Code is the snake_case label used in metrics and API payloads.
func (t Type) Code() string {
	if code, ok := typeCodes[t]; ok {
		return code
	}
	return "unknown"
}

// Priority returns the default priority for jobs of this type.
func (t Type) Priority() int {
	if p, ok := typePriorities[t]; ok {
		return p
	}
	return 100
}

func (t Type) Validate() error {
	if _, ok := typeNames[t]; !ok {
		return errs.NewValueIsInvalidErrorWithCause("job type is invalid", fmt.Errorf("%d is not a valid job type", t))
	}
	return nil
}
