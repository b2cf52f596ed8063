package jobrepo

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"authjobs/internal/core/domain/model/job"
	"authjobs/internal/core/domain/model/kernel"
	"authjobs/internal/core/ports"
	"authjobs/internal/pkg/errs"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var _ ports.JobRepository = (*GormJobRepository)(nil)

// PendingUniqueIndexSQL creates the index that enforces one Pending job per
// (authorization, type, subtype).
var PendingUniqueIndexSQL = fmt.Sprintf(
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_scheduled_jobs_pending
	ON scheduled_jobs (authorization_id, type, subtype) WHERE status = %d`, int(job.Pending))

const claimReadySQL = `
WITH ready AS (
	SELECT id FROM scheduled_jobs
	WHERE status = ? AND type IN ? AND scheduled_at <= ?
	ORDER BY scheduled_at ASC, priority ASC
	LIMIT ?
	FOR UPDATE SKIP LOCKED
)
UPDATE scheduled_jobs AS j
SET status = ?, attempts = j.attempts + 1, updated_at = ?
FROM ready
WHERE j.id = ready.id
RETURNING j.*`

// GormJobRepository implements ports.JobRepository on Postgres.
type GormJobRepository struct {
	db *gorm.DB
}

func NewGormJobRepository(db *gorm.DB) *GormJobRepository {
	return &GormJobRepository{db: db}
}

// Create inserts the job unless a Pending job already holds its dedup slot.
func (r *GormJobRepository) Create(ctx context.Context, j *job.ScheduledJob) (*job.ScheduledJob, bool, error) {
	if err := j.Validate(); err != nil {
		return nil, false, err
	}
	dto, err := fromDomain(j)
	if err != nil {
		return nil, false, err
	}

	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:     []clause.Column{{Name: "authorization_id"}, {Name: "type"}, {Name: "subtype"}},
		TargetWhere: clause.Where{Exprs: []clause.Expression{clause.Expr{SQL: fmt.Sprintf("status = %d", int(job.Pending))}}},
		DoNothing:   true,
	}).Create(&dto)
	if result.Error != nil {
		return nil, false, result.Error
	}
	if result.RowsAffected == 1 {
		return j, true, nil
	}

	existing, err := r.FindPending(ctx, j.AuthorizationID(), j.Type(), j.Subtype())
	if err != nil {
		return nil, false, fmt.Errorf("load conflicting pending job: %w", err)
	}
	return existing, false, nil
}

// Transition writes every column, guarded by the expected current status.
func (r *GormJobRepository) Transition(ctx context.Context, j *job.ScheduledJob, from job.Status) (bool, error) {
	if err := j.Validate(); err != nil {
		return false, err
	}
	dto, err := fromDomain(j)
	if err != nil {
		return false, err
	}

	result := r.db.WithContext(ctx).Model(&JobDTO{}).
		Where("id = ? AND status = ?", dto.ID, int(from)).
		Select("*").
		Updates(&dto)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *GormJobRepository) Get(ctx context.Context, id kernel.UUID) (*job.ScheduledJob, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}

	var dto JobDTO
	if err := r.db.WithContext(ctx).First(&dto, "id = ?", id.Bytes()).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NewObjectNotFoundError("scheduled job", id.String())
		}
		return nil, err
	}
	return toDomain(dto)
}

func (r *GormJobRepository) FindPending(ctx context.Context, authorizationID kernel.UUID, t job.Type, subtype string) (*job.ScheduledJob, error) {
	var dto JobDTO
	err := r.db.WithContext(ctx).
		Where("authorization_id = ? AND type = ? AND subtype = ? AND status = ?",
			authorizationID.Bytes(), int(t), subtype, int(job.Pending)).
		Take(&dto).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.NewObjectNotFoundError("pending job", authorizationID.String())
	}
	if err != nil {
		return nil, err
	}
	return toDomain(dto)
}

// ClaimReady claims due jobs with FOR UPDATE SKIP LOCKED, so concurrent
// callers partition the queue instead of racing on rows.
func (r *GormJobRepository) ClaimReady(ctx context.Context, types []job.Type, limit int, now time.Time) ([]*job.ScheduledJob, error) {
	if len(types) == 0 || limit <= 0 {
		return nil, nil
	}

	var dtos []JobDTO
	err := r.db.WithContext(ctx).Raw(claimReadySQL,
		int(job.Pending), typeCodes(types), now.UTC(), limit,
		int(job.Running), now.UTC(),
	).Scan(&dtos).Error
	if err != nil {
		return nil, err
	}

	slices.SortFunc(dtos, func(a, b JobDTO) int {
		if c := a.ScheduledAt.Compare(b.ScheduledAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Priority, b.Priority)
	})
	return toDomainAll(dtos)
}

func (r *GormJobRepository) ListRetryable(ctx context.Context, limit int) ([]*job.ScheduledJob, error) {
	var dtos []JobDTO
	err := r.db.WithContext(ctx).
		Where("status = ? AND attempts < max_attempts", int(job.Failed)).
		Where(`NOT EXISTS (
			SELECT 1 FROM scheduled_jobs p
			WHERE p.status = ? AND p.authorization_id = scheduled_jobs.authorization_id
			  AND p.type = scheduled_jobs.type AND p.subtype = scheduled_jobs.subtype)`, int(job.Pending)).
		Order("updated_at ASC").
		Limit(limit).
		Find(&dtos).Error
	if err != nil {
		return nil, err
	}
	return toDomainAll(dtos)
}

func (r *GormJobRepository) ListStuckRunning(ctx context.Context, updatedBefore time.Time) ([]*job.ScheduledJob, error) {
	var dtos []JobDTO
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", int(job.Running), updatedBefore.UTC()).
		Find(&dtos).Error
	if err != nil {
		return nil, err
	}
	return toDomainAll(dtos)
}

func (r *GormJobRepository) ListPending(ctx context.Context, types []job.Type) ([]*job.ScheduledJob, error) {
	var dtos []JobDTO
	err := r.db.WithContext(ctx).
		Where("status = ? AND type IN ?", int(job.Pending), typeCodes(types)).
		Order("scheduled_at ASC").
		Find(&dtos).Error
	if err != nil {
		return nil, err
	}
	return toDomainAll(dtos)
}

func (r *GormJobRepository) ListOverduePending(ctx context.Context, types []job.Type, scheduledBefore time.Time) ([]*job.ScheduledJob, error) {
	var dtos []JobDTO
	err := r.db.WithContext(ctx).
		Where("status = ? AND type IN ? AND scheduled_at < ?", int(job.Pending), typeCodes(types), scheduledBefore.UTC()).
		Order("scheduled_at ASC").
		Find(&dtos).Error
	if err != nil {
		return nil, err
	}
	return toDomainAll(dtos)
}

func (r *GormJobRepository) HasJobInStatuses(ctx context.Context, authorizationID kernel.UUID, t job.Type, statuses ...job.Status) (bool, error) {
	codes := make([]int, 0, len(statuses))
	for _, s := range statuses {
		codes = append(codes, int(s))
	}

	var count int64
	err := r.db.WithContext(ctx).Model(&JobDTO{}).
		Where("authorization_id = ? AND type = ? AND status IN ?", authorizationID.Bytes(), int(t), codes).
		Count(&count).Error
	return count > 0, err
}

func (r *GormJobRepository) HasTrackingJob(ctx context.Context, authorizationID kernel.UUID, t job.Type, subtypes []string, statuses ...job.Status) (bool, error) {
	codes := make([]int, 0, len(statuses))
	for _, s := range statuses {
		codes = append(codes, int(s))
	}

	var count int64
	err := r.db.WithContext(ctx).Model(&JobDTO{}).
		Where("authorization_id = ? AND type = ? AND status IN ? AND subtype IN ?",
			authorizationID.Bytes(), int(t), codes, subtypes).
		Where("NOT (status = ? AND COALESCE(result->>'skipped', 'false') = 'true')", int(job.Completed)).
		Count(&count).Error
	return count > 0, err
}

func (r *GormJobRepository) CancelPendingForAuthorization(ctx context.Context, authorizationID kernel.UUID, reason string, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&JobDTO{}).
		Where("authorization_id = ? AND status = ?", authorizationID.Bytes(), int(job.Pending)).
		Updates(map[string]any{
			"status":        int(job.Cancelled),
			"error_kind":    job.KindNone.String(),
			"error_message": reason,
			"executed_at":   now.UTC(),
			"updated_at":    now.UTC(),
		})
	return result.RowsAffected, result.Error
}

func (r *GormJobRepository) DeleteFinishedBefore(ctx context.Context, types []job.Type, updatedBefore time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("type IN ? AND updated_at < ?", typeCodes(types), updatedBefore.UTC()).
		Where("status IN ? OR (status = ? AND attempts >= max_attempts)",
			[]int{int(job.Completed), int(job.Cancelled)}, int(job.Failed)).
		Delete(&JobDTO{})
	return result.RowsAffected, result.Error
}

func (r *GormJobRepository) QueueStats(ctx context.Context, overdueBefore time.Time, upcoming int) (ports.QueueStats, error) {
	stats := ports.QueueStats{PendingByType: make(map[job.Type]int)}
	db := r.db.WithContext(ctx)

	var rows []struct {
		Type  int
		Count int
	}
	if err := db.Model(&JobDTO{}).
		Select("type, COUNT(*) AS count").
		Where("status = ?", int(job.Pending)).
		Group("type").
		Scan(&rows).Error; err != nil {
		return stats, err
	}
	for _, row := range rows {
		stats.PendingByType[job.Type(row.Type)] = row.Count
	}

	var overdue int64
	if err := db.Model(&JobDTO{}).
		Where("status = ? AND scheduled_at < ?", int(job.Pending), overdueBefore.UTC()).
		Count(&overdue).Error; err != nil {
		return stats, err
	}
	stats.Overdue = int(overdue)

	var next []JobDTO
	if err := db.Where("status = ?", int(job.Pending)).
		Order("scheduled_at ASC, priority ASC").
		Limit(upcoming).
		Find(&next).Error; err != nil {
		return stats, err
	}
	jobs, err := toDomainAll(next)
	if err != nil {
		return stats, err
	}
	stats.Upcoming = jobs
	return stats, nil
}

func (r *GormJobRepository) StatusCounts(ctx context.Context, types []job.Type, since time.Time) (ports.StatusCounts, error) {
	var counts ports.StatusCounts

	var rows []struct {
		Status  int
		Count   int
		Skipped int
	}
	err := r.db.WithContext(ctx).Model(&JobDTO{}).
		Select("status, COUNT(*) AS count, "+
			"COUNT(*) FILTER (WHERE result->>'skipped' = 'true') AS skipped").
		Where("type IN ? AND updated_at >= ?", typeCodes(types), since.UTC()).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return counts, err
	}

	for _, row := range rows {
		switch job.Status(row.Status) {
		case job.Pending:
			counts.Pending = row.Count
		case job.Running:
			counts.Running = row.Count
		case job.Completed:
			counts.Completed = row.Count
			counts.Skipped = row.Skipped
		case job.Failed:
			counts.Failed = row.Count
		case job.Cancelled:
			counts.Cancelled = row.Count
		}
	}
	return counts, nil
}

func (r *GormJobRepository) AverageQueueTime(ctx context.Context, since time.Time) (time.Duration, error) {
	var seconds sql.NullFloat64
	err := r.db.WithContext(ctx).Model(&JobDTO{}).
		Select("AVG(EXTRACT(EPOCH FROM (executed_at - scheduled_at)))").
		Where("status IN ? AND executed_at IS NOT NULL AND executed_at >= ?",
			[]int{int(job.Completed), int(job.Failed)}, since.UTC()).
		Row().Scan(&seconds)
	if err != nil || !seconds.Valid {
		return 0, err
	}
	return time.Duration(seconds.Float64 * float64(time.Second)), nil
}

func typeCodes(types []job.Type) []int {
	codes := make([]int, 0, len(types))
	for _, t := range types {
		codes = append(codes, int(t))
	}
	return codes
}
