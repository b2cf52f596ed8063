// Package authrepo reads payment authorizations from Postgres. The payment
// service owns the table; the scheduler only queries it, and Save exists for
// seeding and tests.
package authrepo

import (
	"time"

	"authjobs/internal/core/domain/model/authorization"
	"authjobs/internal/core/domain/model/kernel"

	"github.com/google/uuid"
)

type AuthorizationDTO struct {
	ID                   uuid.UUID `gorm:"type:uuid;primaryKey"`
	BookingID            uuid.UUID `gorm:"type:uuid;not null;index"`
	SenderID             uuid.UUID `gorm:"type:uuid;not null"`
	TransporterID        uuid.UUID `gorm:"type:uuid;not null"`
	AmountCents          int64     `gorm:"not null"`
	Status               int       `gorm:"not null;index"`
	ConfirmationDeadline *time.Time
	AutoCaptureAt        *time.Time
	ExpiresAt            *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (AuthorizationDTO) TableName() string {
	return "payment_authorizations"
}

func fromDomain(a *authorization.Authorization) AuthorizationDTO {
	p := a.Params()
	return AuthorizationDTO{
		ID:                   p.ID.Bytes(),
		BookingID:            p.BookingID.Bytes(),
		SenderID:             p.SenderID.Bytes(),
		TransporterID:        p.TransporterID.Bytes(),
		AmountCents:          p.AmountCents,
		Status:               int(p.Status),
		ConfirmationDeadline: utc(p.ConfirmationDeadline),
		AutoCaptureAt:        utc(p.AutoCaptureAt),
		ExpiresAt:            utc(p.ExpiresAt),
	}
}

func toDomain(dto AuthorizationDTO) (*authorization.Authorization, error) {
	ids := make([]kernel.UUID, 0, 4)
	for _, raw := range []uuid.UUID{dto.ID, dto.BookingID, dto.SenderID, dto.TransporterID} {
		id, err := kernel.UUIDFromBytes(raw[:])
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return authorization.RestoreAuthorization(authorization.Params{
		ID:                   ids[0],
		BookingID:            ids[1],
		SenderID:             ids[2],
		TransporterID:        ids[3],
		AmountCents:          dto.AmountCents,
		Status:               authorization.Status(dto.Status),
		ConfirmationDeadline: utc(dto.ConfirmationDeadline),
		AutoCaptureAt:        utc(dto.AutoCaptureAt),
		ExpiresAt:            utc(dto.ExpiresAt),
	})
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
