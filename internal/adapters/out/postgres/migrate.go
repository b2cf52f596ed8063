package postgres

import (
	"fmt"

	"authjobs/internal/adapters/out/postgres/auditrepo"
	"authjobs/internal/adapters/out/postgres/authrepo"
	"authjobs/internal/adapters/out/postgres/jobrepo"

	"gorm.io/gorm"
)

// Migrate creates or updates the scheduler tables and the Pending dedup index.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&authrepo.AuthorizationDTO{},
		&jobrepo.JobDTO{},
		&auditrepo.AuditLogDTO{},
	); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	if err := db.Exec(jobrepo.PendingUniqueIndexSQL).Error; err != nil {
		return fmt.Errorf("create pending dedup index: %w", err)
	}
	return nil
}
