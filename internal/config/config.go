// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/aristath/symphony/internal/modules/allocation"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for databases, always absolute
	LogLevel string
	Port     int
	DevMode  bool

	StrategiesFile string
	HoldingsFile   string

	Threshold      decimal.Decimal
	CashReserve    decimal.Decimal
	FailurePolicy  allocation.FailurePolicy
	Workers        int
	CycleSchedule  string
	CycleTimeout   time.Duration
	MaintSchedule  string
	BackupSchedule string

	RedisAddr     string
	RedisPassword string
	BarCacheTTL   time.Duration

	Archive ArchiveConfig
}

// ArchiveConfig points at S3-compatible storage. Archiving is off when
// Bucket is empty.
type ArchiveConfig struct {
	Bucket          string
	Endpoint        string
	Region          string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	RetentionDays   int
}

// Enabled reports whether an archive bucket is configured.
func (a ArchiveConfig) Enabled() bool {
	return a.Bucket != ""
}

// Load reads configuration from environment variables, after loading a
// .env file from the working directory if one exists.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir, err := filepath.Abs(getEnv("SYMPHONY_DATA_DIR", "data"))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	var errs []error
	cfg := &Config{
		DataDir:        dataDir,
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		Port:           getEnvAsInt("SYMPHONY_PORT", 8001),
		DevMode:        getEnvAsBool("DEV_MODE", false),
		StrategiesFile: getEnv("SYMPHONY_STRATEGIES_FILE", filepath.Join(dataDir, "strategies.yaml")),
		HoldingsFile:   getEnv("SYMPHONY_HOLDINGS_FILE", filepath.Join(dataDir, "holdings.yaml")),
		Workers:        getEnvAsInt("SYMPHONY_WORKERS", 4),
		CycleSchedule:  getEnv("SYMPHONY_CYCLE_SCHEDULE", "0 30 15 * * MON-FRI"),
		CycleTimeout:   getEnvAsDuration("SYMPHONY_CYCLE_TIMEOUT", 10*time.Minute),
		MaintSchedule:  getEnv("SYMPHONY_MAINTENANCE_SCHEDULE", "0 0 2 * * *"),
		BackupSchedule: getEnv("SYMPHONY_BACKUP_SCHEDULE", "0 0 3 * * *"),
		RedisAddr:      getEnv("SYMPHONY_REDIS_ADDR", ""),
		RedisPassword:  getEnv("SYMPHONY_REDIS_PASSWORD", ""),
		BarCacheTTL:    getEnvAsDuration("SYMPHONY_BAR_CACHE_TTL", 6*time.Hour),
		Archive: ArchiveConfig{
			Bucket:          getEnv("SYMPHONY_ARCHIVE_BUCKET", ""),
			Endpoint:        getEnv("SYMPHONY_ARCHIVE_ENDPOINT", ""),
			Region:          getEnv("SYMPHONY_ARCHIVE_REGION", "auto"),
			Prefix:          getEnv("SYMPHONY_ARCHIVE_PREFIX", "symphony"),
			AccessKeyID:     getEnv("SYMPHONY_ARCHIVE_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("SYMPHONY_ARCHIVE_SECRET_ACCESS_KEY", ""),
			RetentionDays:   getEnvAsInt("SYMPHONY_BACKUP_RETENTION_DAYS", 30),
		},
	}

	if cfg.Threshold, err = getEnvAsDecimal("SYMPHONY_REBALANCE_THRESHOLD", "0.01"); err != nil {
		errs = append(errs, err)
	}
	if cfg.CashReserve, err = getEnvAsDecimal("SYMPHONY_CASH_RESERVE", "0"); err != nil {
		errs = append(errs, err)
	}
	if cfg.FailurePolicy, err = allocation.ParseFailurePolicy(getEnv("SYMPHONY_FAILURE_POLICY", "")); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var scheduleParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks value ranges and schedules.
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.Threshold.IsNegative() {
		errs = append(errs, fmt.Errorf("rebalance threshold must not be negative, got %s", c.Threshold))
	}
	if c.CashReserve.IsNegative() || c.CashReserve.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		errs = append(errs, fmt.Errorf("cash reserve must be in [0, 1), got %s", c.CashReserve))
	}
	if c.Workers <= 0 {
		errs = append(errs, fmt.Errorf("workers must be positive, got %d", c.Workers))
	}
	for name, spec := range map[string]string{
		"cycle":       c.CycleSchedule,
		"maintenance": c.MaintSchedule,
		"backup":      c.BackupSchedule,
	} {
		if spec == "" {
			continue
		}
		if _, err := scheduleParser.Parse(spec); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s schedule %q: %w", name, spec, err))
		}
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// Decimals are rejected rather than defaulted: a typo in a threshold should
// stop the service.
func getEnvAsDecimal(key, defaultValue string) (decimal.Decimal, error) {
	value := getEnv(key, defaultValue)
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: invalid decimal %q", key, value)
	}
	return d, nil
}
