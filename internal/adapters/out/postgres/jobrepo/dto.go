// Package jobrepo persists scheduled jobs in Postgres through GORM.
//
// Payloads and results are stored as JSONB. A partial unique index on
// (authorization_id, type, subtype) WHERE status = Pending makes the
// at-most-one-Pending rule a storage guarantee.
package jobrepo

import (
	"time"

	"authjobs/internal/core/domain/model/job"
	"authjobs/internal/core/domain/model/kernel"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// JobDTO is the scheduled_jobs row. Timestamps come from the domain clock,
// so GORM's automatic time tracking is off.
type JobDTO struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey"`
	Type            int            `gorm:"not null;index:idx_scheduled_jobs_ready,priority:2"`
	Subtype         string         `gorm:"not null;default:''"`
	Status          int            `gorm:"not null;index:idx_scheduled_jobs_ready,priority:1"`
	AuthorizationID uuid.UUID      `gorm:"type:uuid;not null;index"`
	BookingID       *uuid.UUID     `gorm:"type:uuid"`
	JobData         datatypes.JSON `gorm:"type:jsonb"`
	ScheduledAt     time.Time      `gorm:"not null;index:idx_scheduled_jobs_ready,priority:3"`
	Priority        int            `gorm:"not null"`
	Attempts        int            `gorm:"not null;default:0"`
	MaxAttempts     int            `gorm:"not null"`
	Result          datatypes.JSON `gorm:"type:jsonb"`
	ErrorKind       string         `gorm:"not null;default:''"`
	ErrorMessage    string         `gorm:"type:text;not null;default:''"`
	CreatedAt       time.Time      `gorm:"autoCreateTime:false"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime:false;index"`
	ExecutedAt      *time.Time
}

func (JobDTO) TableName() string {
	return "scheduled_jobs"
}

func fromDomain(j *job.ScheduledJob) (JobDTO, error) {
	s := j.Snapshot()

	data, err := job.EncodePayload(s.Payload)
	if err != nil {
		return JobDTO{}, err
	}
	result, err := job.EncodeResult(s.Result)
	if err != nil {
		return JobDTO{}, err
	}

	var bookingID *uuid.UUID
	if s.BookingID != nil {
		raw := s.BookingID.Bytes()
		bookingID = &raw
	}

	return JobDTO{
		ID:              s.ID.Bytes(),
		Type:            int(s.Type),
		Subtype:         s.Payload.Subtype(),
		Status:          int(s.Status),
		AuthorizationID: s.AuthorizationID.Bytes(),
		BookingID:       bookingID,
		JobData:         datatypes.JSON(data),
		ScheduledAt:     s.ScheduledAt.UTC(),
		Priority:        s.Priority,
		Attempts:        s.Attempts,
		MaxAttempts:     s.MaxAttempts,
		Result:          datatypes.JSON(result),
		ErrorKind:       s.ErrorKind.String(),
		ErrorMessage:    s.ErrorMessage,
		CreatedAt:       s.CreatedAt.UTC(),
		UpdatedAt:       s.UpdatedAt.UTC(),
		ExecutedAt:      utc(s.ExecutedAt),
	}, nil
}

func toDomain(dto JobDTO) (*job.ScheduledJob, error) {
	id, err := kernel.UUIDFromBytes(dto.ID[:])
	if err != nil {
		return nil, err
	}
	authID, err := kernel.UUIDFromBytes(dto.AuthorizationID[:])
	if err != nil {
		return nil, err
	}

	var bookingID *kernel.UUID
	if dto.BookingID != nil {
		bID, bookingErr := kernel.UUIDFromBytes((*dto.BookingID)[:])
		if bookingErr != nil {
			return nil, bookingErr
		}
		bookingID = &bID
	}

	jobType := job.Type(dto.Type)
	payload, err := job.DecodePayload(jobType, dto.JobData)
	if err != nil {
		return nil, err
	}
	result, err := job.DecodeResult(dto.Result)
	if err != nil {
		return nil, err
	}

	return job.RestoreScheduledJob(job.Snapshot{
		ID:              id,
		Type:            jobType,
		Status:          job.Status(dto.Status),
		AuthorizationID: authID,
		BookingID:       bookingID,
		Payload:         payload,
		ScheduledAt:     dto.ScheduledAt.UTC(),
		Priority:        dto.Priority,
		Attempts:        dto.Attempts,
		MaxAttempts:     dto.MaxAttempts,
		Result:          result,
		ErrorKind:       job.ParseErrorKind(dto.ErrorKind),
		ErrorMessage:    dto.ErrorMessage,
		CreatedAt:       dto.CreatedAt.UTC(),
		UpdatedAt:       dto.UpdatedAt.UTC(),
		ExecutedAt:      utc(dto.ExecutedAt),
	})
}

func toDomainAll(dtos []JobDTO) ([]*job.ScheduledJob, error) {
	jobs := make([]*job.ScheduledJob, 0, len(dtos))
	for _, dto := range dtos {
		j, err := toDomain(dto)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
