package authorization

import (
	"fmt"

	"authjobs/internal/pkg/errs"
)

// Status is the lifecycle state of a payment authorization.
type Status int

const (
	// Unknown catches uninitialized values.
	Unknown Status = iota

	// Pending holds funds while the transporter has not confirmed the booking.
	Pending

	// Confirmed means the booking is accepted and the hold awaits capture.
	Confirmed

	// Captured means the held funds were charged.
	Captured

	// Expired means a confirmation or capture deadline passed.
	Expired

	// Cancelled means the hold was released before capture.
	Cancelled
)

func getStatusStrings() map[Status]string {
	return map[Status]string{
		Unknown:   "Unknown",
		Pending:   "Pending",
		Confirmed: "Confirmed",
		Captured:  "Captured",
		Expired:   "Expired",
		Cancelled: "Cancelled",
	}
}

// String implements fmt.Stringer.
func (s Status) String() string {
	if str, ok := getStatusStrings()[s]; ok {
		return str
	}
	return "Unknown"
}

// Validate rejects Unknown and out-of-range values.
func (s Status) Validate() error {
	if s <= Unknown || s > Cancelled {
		return errs.NewValueIsInvalidErrorWithCause("status is invalid", fmt.Errorf("%d is not a valid status", s))
	}
	return nil
}

// IsTerminal reports whether no scheduled work can apply any more.
func (s Status) IsTerminal() bool {
	return s == Captured || s == Expired || s == Cancelled
}
