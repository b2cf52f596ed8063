package job

import (
	"fmt"

	"authjobs/internal/pkg/errs"
)

// Status is the lifecycle state of a scheduled job.
type Status int

const (
	// Unknown catches uninitialized values.
	Unknown Status = iota

	// Pending jobs wait for scheduled_at to pass. Initial state.
	Pending

	// Running jobs were claimed by exactly one executor.
	Running

	// Completed jobs finished, possibly as a skip. Terminal.
	Completed

	// Failed jobs may return to Pending through a retry.
	Failed

	// Cancelled jobs were withdrawn before running. Terminal.
	Cancelled
)

func getStatusStrings() map[Status]string {
	return map[Status]string{
		Unknown:   "Unknown",
		Pending:   "Pending",
		Running:   "Running",
		Completed: "Completed",
		Failed:    "Failed",
		Cancelled: "Cancelled",
	}
}

func (s Status) String() string {
	if str, ok := getStatusStrings()[s]; ok {
		return str
	}
	return "Unknown"
}

func (s Status) Validate() error {
	if s <= Unknown || s > Cancelled {
		return errs.NewValueIsInvalidErrorWithCause("status is invalid", fmt.Errorf("%d is not a valid status", s))
	}
	return nil
}

// IsTerminal reports Completed and Cancelled.
func (s Status) IsTerminal() bool {
	return s == Completed || s == Cancelled
}

// Start transitions Pending -> Running.
func (s Status) Start() (Status, error) {
	if s != Pending {
		return 0, invalidTransition(s, "start")
	}
	return Running, nil
}

// Complete transitions Running -> Completed.
func (s Status) Complete() (Status, error) {
	if s != Running {
		return 0, invalidTransition(s, "complete")
	}
	return Completed, nil
}

// Fail transitions Running -> Failed.
func (s Status) Fail() (Status, error) {
	if s != Running {
		return 0, invalidTransition(s, "fail")
	}
	return Failed, nil
}

// Retry transitions Failed -> Pending.
func (s Status) Retry() (Status, error) {
	if s != Failed {
		return 0, invalidTransition(s, "retry")
	}
	return Pending, nil
}

// Cancel transitions Pending -> Cancelled.
func (s Status) Cancel() (Status, error) {
	if s != Pending {
		return 0, invalidTransition(s, "cancel")
	}
	return Cancelled, nil
}

func invalidTransition(from Status, action string) error {
	return errs.NewValueIsInvalidErrorWithCause(
		"status is invalid",
		fmt.Errorf("%s is not a valid status to %s", from.String(), action),
	)
}
