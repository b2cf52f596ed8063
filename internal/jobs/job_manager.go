package jobs

import (
	"fmt"
	"log/slog"
	"time"

	"authjobs/internal/core/ports"
	"authjobs/internal/telemetry"
)

// ManagerConfig configures the periodic jobs.
type ManagerConfig struct {
	Schedules  Schedules
	DaysToKeep int
	LockTTL    time.Duration
}

// JobManager starts and stops all periodic jobs together.
type JobManager struct {
	jobs []*PeriodicJob
}

// NewJobManager wires the process, retry, validate and cleanup jobs. locker
// may be nil.
func NewJobManager(s Scheduler, metrics *telemetry.Metrics, locker ports.Locker, cfg ManagerConfig, logger *slog.Logger) *JobManager {
	return &JobManager{
		jobs: []*PeriodicJob{
			NewProcessJob(s, metrics, cfg.Schedules.Process, locker, cfg.LockTTL, logger),
			NewRetryJob(s, metrics, cfg.Schedules.Retry, locker, cfg.LockTTL, logger),
			NewValidationJob(s, metrics, cfg.Schedules.Validate, locker, cfg.LockTTL, logger),
			NewCleanupJob(s, cfg.DaysToKeep, cfg.Schedules.Cleanup, locker, cfg.LockTTL, logger),
		},
	}
}

// Jobs returns the managed jobs in start order.
func (jm *JobManager) Jobs() []*PeriodicJob {
	return jm.jobs
}

// StartAll starts every job. If one fails, the ones already started are stopped.
func (jm *JobManager) StartAll() error {
	for i, j := range jm.jobs {
		if err := j.Start(); err != nil {
			for _, started := range jm.jobs[:i] {
				started.Stop()
			}
			return fmt.Errorf("failed to start %s job: %w", j.Name(), err)
		}
	}
	return nil
}

// StopAll stops every job and waits for running ticks.
func (jm *JobManager) StopAll() {
	for _, j := range jm.jobs {
		j.Stop()
	}
}
