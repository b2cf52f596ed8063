// Package auditrepo appends audit events to the audit_logs table.
package auditrepo

import (
	"context"
	"log/slog"
	"time"

	"authjobs/internal/core/domain/model/audit"
	"authjobs/internal/core/ports"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var _ ports.AuditSink = (*GormAuditSink)(nil)

type AuditLogDTO struct {
	ID              uuid.UUID         `gorm:"type:uuid;primaryKey"`
	EventType       string            `gorm:"not null;index"`
	AuthorizationID uuid.UUID         `gorm:"type:uuid;not null;index"`
	JobID           *uuid.UUID        `gorm:"type:uuid"`
	AmountCents     int64             `gorm:"not null"`
	Message         string            `gorm:"type:text"`
	Details         datatypes.JSONMap `gorm:"type:jsonb"`
	OccurredAt      time.Time         `gorm:"not null;index"`
}

func (AuditLogDTO) TableName() string {
	return "audit_logs"
}

// GormAuditSink writes audit events. Write failures are logged and dropped
// so auditing never changes a job outcome.
type GormAuditSink struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewGormAuditSink(db *gorm.DB, logger *slog.Logger) *GormAuditSink {
	return &GormAuditSink{db: db, logger: logger.With("component", "audit_sink")}
}

func (s *GormAuditSink) Record(ctx context.Context, event audit.Event) {
	var jobID *uuid.UUID
	if event.JobID != nil {
		raw := event.JobID.Bytes()
		jobID = &raw
	}

	var details datatypes.JSONMap
	if len(event.Details) > 0 {
		details = make(datatypes.JSONMap, len(event.Details))
		for k, v := range event.Details {
			details[k] = v
		}
	}

	dto := AuditLogDTO{
		ID:              uuid.New(),
		EventType:       string(event.Type),
		AuthorizationID: event.AuthorizationID.Bytes(),
		JobID:           jobID,
		AmountCents:     event.AmountCents,
		Message:         event.Message,
		Details:         details,
		OccurredAt:      event.OccurredAt.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&dto).Error; err != nil {
		s.logger.ErrorContext(ctx, "failed to write audit event",
			"type", dto.EventType,
			"authorization_id", event.AuthorizationID.String(),
			"error", err)
	}
}

// ListForAuthorization returns the audit trail of one authorization, oldest first.
func (s *GormAuditSink) ListForAuthorization(ctx context.Context, authorizationID uuid.UUID) ([]AuditLogDTO, error) {
	var logs []AuditLogDTO
	err := s.db.WithContext(ctx).
		Where("authorization_id = ?", authorizationID).
		Order("occurred_at ASC").
		Find(&logs).Error
	return logs, err
}
