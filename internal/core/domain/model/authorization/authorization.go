package authorization

import (
	"errors"
	"time"

	"authjobs/internal/core/domain/model/kernel"
	"authjobs/internal/pkg/errs"
	"authjobs/internal/pkg/guard"
)

// ErrAuthorizationIsNotConstructed is returned for zero-value authorizations.
var ErrAuthorizationIsNotConstructed = errors.New("Authorization must be created via RestoreAuthorization")

// Params carries the persisted state of an authorization.
type Params struct {
	ID                   kernel.UUID
	BookingID            kernel.UUID
	SenderID             kernel.UUID
	TransporterID        kernel.UUID
	AmountCents          int64
	Status               Status
	ConfirmationDeadline *time.Time
	AutoCaptureAt        *time.Time
	ExpiresAt            *time.Time
}

// Authorization is a payment hold for one booking.
//
// Invariants:
//   - ID, BookingID, SenderID and TransporterID are valid UUIDs
//   - AmountCents is not negative
//   - Status is one of the defined lifecycle states
type Authorization struct {
	id                   kernel.UUID
	bookingID            kernel.UUID
	senderID             kernel.UUID
	transporterID        kernel.UUID
	amountCents          int64
	status               Status
	confirmationDeadline *time.Time
	autoCaptureAt        *time.Time
	expiresAt            *time.Time
	guard                guard.ConstructorGuard
}

// RestoreAuthorization rebuilds an authorization from storage or from a lifecycle
// event payload, validating every field.
//
// Example:
//
//	deadline := now.Add(48 * time.Hour)
//	auth, err := authorization.RestoreAuthorization(authorization.Params{
//	    ID:                   kernel.NewUUID(),
//	    BookingID:            bookingID,
//	    SenderID:             senderID,
//	    TransporterID:        transporterID,
//	    AmountCents:          4_500,
//	    Status:               authorization.Pending,
//	    ConfirmationDeadline: &deadline,
//	})
func RestoreAuthorization(p Params) (*Authorization, error) {
	var amountErr error
	if p.AmountCents < 0 {
		amountErr = errs.NewValueIsOutOfRangeError("amount cents", p.AmountCents, 0, "unbounded")
	}

	if err := errors.Join(
		p.ID.Validate(),
		p.BookingID.Validate(),
		p.SenderID.Validate(),
		p.TransporterID.Validate(),
		p.Status.Validate(),
		amountErr,
	); err != nil {
		return nil, err
	}

	return &Authorization{
		id:                   p.ID,
		bookingID:            p.BookingID,
		senderID:             p.SenderID,
		transporterID:        p.TransporterID,
		amountCents:          p.AmountCents,
		status:               p.Status,
		confirmationDeadline: copyTime(p.ConfirmationDeadline),
		autoCaptureAt:        copyTime(p.AutoCaptureAt),
		expiresAt:            copyTime(p.ExpiresAt),
		guard:                guard.NewConstructorGuard(),
	}, nil
}

// Validate ensures the authorization was built through RestoreAuthorization.
func (a *Authorization) Validate() error {
	if a == nil {
		return ErrAuthorizationIsNotConstructed
	}
	return a.guard.Validate(ErrAuthorizationIsNotConstructed)
}

func (a *Authorization) ID() kernel.UUID            { return a.id }
func (a *Authorization) BookingID() kernel.UUID     { return a.bookingID }
func (a *Authorization) SenderID() kernel.UUID      { return a.senderID }
func (a *Authorization) TransporterID() kernel.UUID { return a.transporterID }
func (a *Authorization) AmountCents() int64         { return a.amountCents }
func (a *Authorization) Status() Status             { return a.status }

// ConfirmationDeadline is when a Pending authorization expires unconfirmed.
func (a *Authorization) ConfirmationDeadline() *time.Time { return copyTime(a.confirmationDeadline) }

// AutoCaptureAt is when a Confirmed authorization is captured automatically.
func (a *Authorization) AutoCaptureAt() *time.Time { return copyTime(a.autoCaptureAt) }

// ExpiresAt is the capture deadline of a Confirmed authorization.
func (a *Authorization) ExpiresAt() *time.Time { return copyTime(a.expiresAt) }

// Params returns a copy of the authorization state.
func (a *Authorization) Params() Params {
	return Params{
		ID:                   a.id,
		BookingID:            a.bookingID,
		SenderID:             a.senderID,
		TransporterID:        a.transporterID,
		AmountCents:          a.amountCents,
		Status:               a.status,
		ConfirmationDeadline: copyTime(a.confirmationDeadline),
		AutoCaptureAt:        copyTime(a.autoCaptureAt),
		ExpiresAt:            copyTime(a.expiresAt),
	}
}

// IsCapturable reports whether the gateway may still charge the hold at now:
// the authorization is Confirmed and its capture deadline has not passed.
func (a *Authorization) IsCapturable(now time.Time) bool {
	if a.status != Confirmed {
		return false
	}
	return a.expiresAt == nil || now.Before(*a.expiresAt)
}

// IsConfirmationExpired reports a Pending authorization whose confirmation deadline passed.
func (a *Authorization) IsConfirmationExpired(now time.Time) bool {
	return a.status == Pending && a.confirmationDeadline != nil && !now.Before(*a.confirmationDeadline)
}

// IsCaptureExpired reports a Confirmed authorization whose capture deadline passed.
func (a *Authorization) IsCaptureExpired(now time.Time) bool {
	return a.status == Confirmed && a.expiresAt != nil && !now.Before(*a.expiresAt)
}

// CanBeExpired is true when either deadline predicate holds.
func (a *Authorization) CanBeExpired(now time.Time) bool {
	return a.IsConfirmationExpired(now) || a.IsCaptureExpired(now)
}

// HasFutureAutoCapture reports a Confirmed authorization with an auto-capture instant after now.
func (a *Authorization) HasFutureAutoCapture(now time.Time) bool {
	return a.status == Confirmed && a.autoCaptureAt != nil && a.autoCaptureAt.After(now)
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
