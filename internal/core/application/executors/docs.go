// Package executors runs the three kinds of scheduled payment jobs.
//
// Each executor owns its job types:
//
//   - CaptureExecutor: AutoCapture, batch of 50
//   - ExpiryExecutor: PaymentExpiry, batch of 100
//   - ReminderExecutor: ConfirmationReminder and PaymentReminder, batch of 50
//
// A job is claimed with a compare-and-swap Pending -> Running before any side
// effect, so overlapping triggers never execute the same job twice. Inside a
// batch every job runs in its own failure boundary: an error or panic turns
// that job into Failed and the batch moves on. Only storage errors abort a
// batch.
package executors
