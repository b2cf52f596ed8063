// Package job provides the ScheduledJob aggregate: a persisted, time-triggered
// unit of work tied to one payment authorization.
//
// The package includes:
//   - Type: AutoCapture, PaymentExpiry, ConfirmationReminder, PaymentReminder
//   - Status: the state machine every executor drives
//   - Payload: a tagged union decoded per Type (CaptureData, ExpiryData, ...)
//   - Result and Failure: typed outcomes, so neither audit logging nor error
//     reporting depend on parsing messages
//
// State transitions:
//
//	Pending ──> Running ──┬──> Completed
//	   │   ^              └──> Failed ──┐
//	   │   └────────── retry ───────────┘
//	   └──> Cancelled
//
// Completed and Cancelled are terminal. A Running job that never finishes is
// forced to Failed by the validation sweep, through the same Fail transition.
package job
