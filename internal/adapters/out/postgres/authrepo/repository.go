package authrepo

import (
	"context"
	"errors"
	"time"

	"authjobs/internal/core/domain/model/authorization"
	"authjobs/internal/core/domain/model/kernel"
	"authjobs/internal/core/ports"
	"authjobs/internal/pkg/errs"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var _ ports.AuthorizationRepository = (*GormAuthorizationRepository)(nil)

type GormAuthorizationRepository struct {
	db *gorm.DB
}

func NewGormAuthorizationRepository(db *gorm.DB) *GormAuthorizationRepository {
	return &GormAuthorizationRepository{db: db}
}

// Save inserts the authorization or overwrites the stored row.
func (r *GormAuthorizationRepository) Save(ctx context.Context, a *authorization.Authorization) error {
	if err := a.Validate(); err != nil {
		return err
	}
	dto := fromDomain(a)
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&dto).Error
}

func (r *GormAuthorizationRepository) Get(ctx context.Context, id kernel.UUID) (*authorization.Authorization, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}

	var dto AuthorizationDTO
	if err := r.db.WithContext(ctx).First(&dto, "id = ?", id.Bytes()).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NewObjectNotFoundError("authorization", id.String())
		}
		return nil, err
	}
	return toDomain(dto)
}

func (r *GormAuthorizationRepository) ListByStatuses(ctx context.Context, statuses ...authorization.Status) ([]*authorization.Authorization, error) {
	codes := make([]int, 0, len(statuses))
	for _, s := range statuses {
		codes = append(codes, int(s))
	}
	return r.find(ctx, "status IN ?", codes)
}

func (r *GormAuthorizationRepository) ListConfirmationExpired(ctx context.Context, now time.Time) ([]*authorization.Authorization, error) {
	return r.find(ctx, "status = ? AND confirmation_deadline IS NOT NULL AND confirmation_deadline <= ?",
		int(authorization.Pending), now.UTC())
}

func (r *GormAuthorizationRepository) ListCaptureExpired(ctx context.Context, now time.Time) ([]*authorization.Authorization, error) {
	return r.find(ctx, "status = ? AND expires_at IS NOT NULL AND expires_at <= ?",
		int(authorization.Confirmed), now.UTC())
}

func (r *GormAuthorizationRepository) ListConfirmedWithFutureAutoCapture(ctx context.Context, now time.Time) ([]*authorization.Authorization, error) {
	return r.find(ctx, "status = ? AND auto_capture_at > ?", int(authorization.Confirmed), now.UTC())
}

func (r *GormAuthorizationRepository) find(ctx context.Context, query string, args ...any) ([]*authorization.Authorization, error) {
	var dtos []AuthorizationDTO
	if err := r.db.WithContext(ctx).Where(query, args...).Order("id").Find(&dtos).Error; err != nil {
		return nil, err
	}

	auths := make([]*authorization.Authorization, 0, len(dtos))
	for _, dto := range dtos {
		a, err := toDomain(dto)
		if err != nil {
			return nil, err
		}
		auths = append(auths, a)
	}
	return auths, nil
}
