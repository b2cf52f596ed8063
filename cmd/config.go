package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

type Config struct {
	HTTPPort   string `env:"HTTP_PORT" envDefault:"8082"`
	DBHost     string `env:"DB_HOST" envDefault:"localhost"`
	DBPort     string `env:"DB_PORT" envDefault:"5432"`
	DBUser     string `env:"DB_USER" envDefault:"postgres"`
	DBPassword string `env:"DB_PASSWORD"`
	DBName     string `env:"DB_NAME" envDefault:"payments"`
	DBSslMode  string `env:"DB_SSLMODE" envDefault:"disable"`
	Storage    string `env:"STORAGE" envDefault:"postgres"`

	RedisAddr          string `env:"REDIS_ADDR"`
	RedisPassword      string `env:"REDIS_PASSWORD"`
	RedisDB            int    `env:"REDIS_DB" envDefault:"0"`
	NotificationStream string `env:"NOTIFICATION_STREAM" envDefault:"notifications:reminders"`

	GatewayURL   string        `env:"GATEWAY_URL"`
	GatewayToken string        `env:"GATEWAY_TOKEN"`
	CallTimeout  time.Duration `env:"CALL_TIMEOUT" envDefault:"10s"`

	JobMaxAttempts    int           `env:"JOB_MAX_ATTEMPTS" envDefault:"6"`
	ProcessSchedule   string        `env:"PROCESS_SCHEDULE" envDefault:"0 * * * * *"`
	RetrySchedule     string        `env:"RETRY_SCHEDULE" envDefault:"0 */5 * * * *"`
	ValidateSchedule  string        `env:"VALIDATE_SCHEDULE" envDefault:"0 */15 * * * *"`
	CleanupSchedule   string        `env:"CLEANUP_SCHEDULE" envDefault:"0 30 3 * * *"`
	CleanupDaysToKeep int           `env:"CLEANUP_DAYS_TO_KEEP" envDefault:"30"`
	LockTTL           time.Duration `env:"LOCK_TTL" envDefault:"5m"`

	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"info"`
}

// LoadConfig parses environ into a Config, applying defaults for unset keys.
// Every parse and validation error is reported, not just the first.
func LoadConfig(environ map[string]string) (Config, error) {
	var cfg Config
	var errList []error

	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		errList = append(errList, err)
	}
	if cfg.Storage != StoragePostgres && cfg.Storage != StorageMemory {
		errList = append(errList, fmt.Errorf("STORAGE: %q is neither %q nor %q", cfg.Storage, StoragePostgres, StorageMemory))
	}
	if cfg.JobMaxAttempts < 1 {
		errList = append(errList, fmt.Errorf("JOB_MAX_ATTEMPTS: must be positive, got %d", cfg.JobMaxAttempts))
	}

	return cfg, errors.Join(errList...)
}

// DSN is the Postgres connection string.
func (c Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSslMode)
}
