// Package authorization models the payment hold a sender places for a booking.
//
// The scheduler consumes authorizations but never owns them: status changes are
// made by the payment gateway. This package only carries the data the jobs need
// and the predicates that decide whether a capture, expiry or reminder still
// applies at a given instant.
//
// Lifecycle:
//
//	Pending ──> Confirmed ──> Captured
//	   │            │
//	   │            └───────> Expired (capture deadline passed)
//	   ├──────────────────────> Expired (confirmation deadline passed)
//	   └──────────────────────> Cancelled
package authorization
