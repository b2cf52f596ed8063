package cmd

import (
	"fmt"
	"log/slog"

	adminhttp "authjobs/internal/adapters/in/http"
	"authjobs/internal/adapters/out/gateway"
	"authjobs/internal/adapters/out/memory"
	"authjobs/internal/adapters/out/notifications"
	"authjobs/internal/adapters/out/postgres"
	"authjobs/internal/adapters/out/postgres/auditrepo"
	"authjobs/internal/adapters/out/postgres/authrepo"
	"authjobs/internal/adapters/out/postgres/jobrepo"
	"authjobs/internal/adapters/out/redislock"
	"authjobs/internal/core/application/executors"
	"authjobs/internal/core/application/scheduler"
	"authjobs/internal/core/domain/model/kernel"
	"authjobs/internal/core/ports"
	"authjobs/internal/jobs"
	"authjobs/internal/telemetry"

	"github.com/redis/go-redis/v9"
	gorm_postgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// CompositionRoot owns every long-lived dependency of the process.
type CompositionRoot struct {
	cfg    Config
	logger *slog.Logger

	gormDB      *gorm.DB
	redisClient *redis.Client

	jobs  ports.JobRepository
	auths ports.AuthorizationRepository
	audit ports.AuditSink

	gateway  ports.PaymentGateway
	notifier ports.Notifier
	locker   ports.Locker

	metrics   *telemetry.Metrics
	scheduler *scheduler.JobScheduler
}

// NewCompositionRoot opens storage according to cfg.Storage and wires the
// scheduler on top of it. Postgres storage is migrated on start.
func NewCompositionRoot(cfg Config, logger *slog.Logger) (*CompositionRoot, error) {
	c := &CompositionRoot{cfg: cfg, logger: logger, metrics: telemetry.New()}

	switch cfg.Storage {
	case StorageMemory:
		c.jobs = memory.NewJobRepository()
		c.auths = memory.NewAuthorizationRepository()
		c.audit = memory.NewAuditSink(logger)
	default:
		db, err := gorm.Open(gorm_postgres.Open(cfg.DSN()), &gorm.Config{})
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := postgres.Migrate(db); err != nil {
			return nil, err
		}
		c.gormDB = db
		c.jobs = jobrepo.NewGormJobRepository(db)
		c.auths = authrepo.NewGormAuthorizationRepository(db)
		c.audit = auditrepo.NewGormAuditSink(db, logger)
	}

	if cfg.RedisAddr != "" {
		c.redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		c.notifier = notifications.NewStreamNotifier(c.redisClient, cfg.NotificationStream, logger)
		c.locker = redislock.New(c.redisClient)
	} else {
		logger.Warn("REDIS_ADDR not set, reminders go to the log and triggers run unlocked")
		c.notifier = notifications.NewLoggingNotifier(logger)
	}

	if cfg.GatewayURL != "" {
		c.gateway = gateway.NewClient(cfg.GatewayURL, cfg.GatewayToken, cfg.CallTimeout, logger)
	} else {
		logger.Warn("GATEWAY_URL not set, captures and expiries are only logged")
		c.gateway = gateway.NewLoggingGateway(logger)
	}

	deps := executors.Deps{
		Jobs:           c.jobs,
		Authorizations: c.auths,
		Audit:          c.audit,
		Clock:          kernel.SystemClock{},
		Logger:         logger,
		CallTimeout:    cfg.CallTimeout,
		MaxAttempts:    cfg.JobMaxAttempts,
	}
	c.scheduler = scheduler.NewJobScheduler(
		executors.NewCaptureExecutor(deps, c.gateway),
		executors.NewExpiryExecutor(deps, c.gateway),
		executors.NewReminderExecutor(deps, c.notifier),
		c.jobs,
		c.auths,
		deps.Clock,
		logger,
	)
	return c, nil
}

func (c *CompositionRoot) Scheduler() *scheduler.JobScheduler {
	return c.scheduler
}

func (c *CompositionRoot) Metrics() *telemetry.Metrics {
	return c.metrics
}

func (c *CompositionRoot) CreateAdminServer() *adminhttp.Server {
	return adminhttp.NewServer(c.scheduler, c.metrics, c.logger)
}

func (c *CompositionRoot) CreateJobManager() *jobs.JobManager {
	return jobs.NewJobManager(c.scheduler, c.metrics, c.locker, jobs.ManagerConfig{
		Schedules: jobs.Schedules{
			Process:  c.cfg.ProcessSchedule,
			Retry:    c.cfg.RetrySchedule,
			Validate: c.cfg.ValidateSchedule,
			Cleanup:  c.cfg.CleanupSchedule,
		},
		DaysToKeep: c.cfg.CleanupDaysToKeep,
		LockTTL:    c.cfg.LockTTL,
	}, c.logger)
}

// Close releases the Redis and database connections.
func (c *CompositionRoot) Close() error {
	var firstErr error
	if c.redisClient != nil {
		if err := c.redisClient.Close(); err != nil {
			firstErr = err
		}
	}
	if c.gormDB != nil {
		sqlDB, err := c.gormDB.DB()
		if err == nil {
			err = sqlDB.Close()
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
