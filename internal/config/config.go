// internal/config/config.go

package config

import (
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/rovshanmuradov/solver-engine/internal/logger"
	"github.com/rovshanmuradov/solver-engine/internal/types"
)

const EnvPrefix = "SOLVER_ENGINE"

type Config struct {
	Log         logger.Config   `mapstructure:"log"`
	HTTP        HTTPConfig      `mapstructure:"http"`
	Scheduler   SchedulerConfig `mapstructure:"scheduler"`
	Storage     StorageConfig   `mapstructure:"storage"`
	Events      EventsConfig    `mapstructure:"events"`
	Defaults    DefaultsConfig  `mapstructure:"defaults"`
	SolversFile string          `mapstructure:"solvers_file"`
}

type HTTPConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	GinMode    string `mapstructure:"gin_mode"`
}

type SchedulerConfig struct {
	IntervalMs      int    `mapstructure:"interval_ms"`
	Concurrency     int    `mapstructure:"concurrency"`
	DispatchRetries int    `mapstructure:"dispatch_retries"`
	RetryIntervalMs int    `mapstructure:"retry_interval_ms"`
	RetentionHours  int    `mapstructure:"retention_hours"`
	PruneSchedule   string `mapstructure:"prune_schedule"`
}

func (s SchedulerConfig) Interval() time.Duration {
	return time.Duration(s.IntervalMs) * time.Millisecond
}

func (s SchedulerConfig) RetryInterval() time.Duration {
	return time.Duration(s.RetryIntervalMs) * time.Millisecond
}

func (s SchedulerConfig) Retention() time.Duration {
	return time.Duration(s.RetentionHours) * time.Hour
}

type StorageConfig struct {
	Driver      string `mapstructure:"driver"`
	PostgresURL string `mapstructure:"postgres_url"`
}

type EventsConfig struct {
	BufferSize    int    `mapstructure:"buffer_size"`
	NATSURL       string `mapstructure:"nats_url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

type DefaultsConfig struct {
	MaxWaitTimeMs int64  `mapstructure:"max_wait_time_ms"`
	Priority      int    `mapstructure:"priority"`
	Fee           string `mapstructure:"fee"`
}

func (d DefaultsConfig) MaxWaitTime() time.Duration {
	return time.Duration(d.MaxWaitTimeMs) * time.Millisecond
}

// FeeAmount parses Fee as a base-unit integer.
func (d DefaultsConfig) FeeAmount() (*big.Int, error) {
	return types.ParseBigInt(d.Fee)
}

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"

	DefaultListenAddr      = ":8080"
	DefaultIntervalMs      = 1000
	DefaultConcurrency     = 8
	DefaultDispatchRetries = 2
	DefaultRetryIntervalMs = 100
	DefaultRetentionHours  = 24 * 7
	DefaultPruneSchedule   = "@hourly"
	DefaultBufferSize      = 1000
	DefaultSubjectPrefix   = "solver_engine"
	DefaultMaxWaitTimeMs   = 300000
	DefaultPriority        = 5
	DefaultFee             = "10000000000000000"
)

func defaults() map[string]interface{} {
	log := logger.DefaultConfig()
	return map[string]interface{}{
		"log.level":                   log.Level,
		"log.file":                    log.File,
		"log.max_size":                log.MaxSize,
		"log.max_age":                 log.MaxAge,
		"log.max_backups":             log.MaxBackups,
		"log.compress":                log.Compress,
		"log.development":             log.Development,
		"log.color":                   log.Color,
		"http.listen_addr":            DefaultListenAddr,
		"http.gin_mode":               "release",
		"scheduler.interval_ms":       DefaultIntervalMs,
		"scheduler.concurrency":       DefaultConcurrency,
		"scheduler.dispatch_retries":  DefaultDispatchRetries,
		"scheduler.retry_interval_ms": DefaultRetryIntervalMs,
		"scheduler.retention_hours":   DefaultRetentionHours,
		"scheduler.prune_schedule":    DefaultPruneSchedule,
		"storage.driver":              DriverMemory,
		"storage.postgres_url":        "",
		"events.buffer_size":          DefaultBufferSize,
		"events.nats_url":             "",
		"events.subject_prefix":       DefaultSubjectPrefix,
		"defaults.max_wait_time_ms":   DefaultMaxWaitTimeMs,
		"defaults.priority":           DefaultPriority,
		"defaults.fee":                DefaultFee,
		"solvers_file":                "",
	}
}

// LoadConfig reads the config file at path, if any, and applies environment
// overrides (SOLVER_ENGINE_SCHEDULER_INTERVAL_MS and so on). A .env file in
// the working directory is loaded first when present.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	for key, value := range defaults() {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	return &cfg, validateConfig(&cfg)
}

func validateConfig(cfg *Config) error {
	if _, err := logger.ParseLevel(cfg.Log.Level); err != nil {
		return err
	}
	if cfg.HTTP.ListenAddr == "" {
		return errors.New("http.listen_addr is empty")
	}
	switch cfg.HTTP.GinMode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("invalid http.gin_mode %q", cfg.HTTP.GinMode)
	}
	if err := validateScheduler(cfg.Scheduler); err != nil {
		return err
	}
	if err := validateStorage(cfg.Storage); err != nil {
		return err
	}
	if cfg.Events.BufferSize <= 0 {
		return errors.New("invalid events.buffer_size")
	}
	if cfg.Events.NATSURL != "" {
		if err := validateURL(cfg.Events.NATSURL, "nats", "tls"); err != nil {
			return fmt.Errorf("invalid events.nats_url: %w", err)
		}
	}
	return validateDefaults(cfg.Defaults)
}

func validateScheduler(s SchedulerConfig) error {
	if s.IntervalMs <= 0 {
		return errors.New("invalid scheduler.interval_ms")
	}
	if s.Concurrency <= 0 {
		return errors.New("invalid scheduler.concurrency")
	}
	if s.DispatchRetries < 0 {
		return errors.New("invalid scheduler.dispatch_retries")
	}
	if s.RetryIntervalMs <= 0 {
		return errors.New("invalid scheduler.retry_interval_ms")
	}
	if s.RetentionHours < 0 {
		return errors.New("invalid scheduler.retention_hours")
	}
	if s.RetentionHours > 0 {
		if _, err := cron.ParseStandard(s.PruneSchedule); err != nil {
			return fmt.Errorf("invalid scheduler.prune_schedule: %w", err)
		}
	}
	return nil
}

func validateStorage(s StorageConfig) error {
	switch s.Driver {
	case DriverMemory:
		return nil
	case DriverPostgres:
		if s.PostgresURL == "" {
			return errors.New("storage.postgres_url is required for the postgres driver")
		}
		return validateURL(s.PostgresURL, "postgres", "postgresql")
	}
	return fmt.Errorf("unknown storage.driver %q", s.Driver)
}

func validateDefaults(d DefaultsConfig) error {
	if d.MaxWaitTimeMs <= 0 {
		return errors.New("invalid defaults.max_wait_time_ms")
	}
	if d.Priority < 1 || d.Priority > 10 {
		return errors.New("defaults.priority must be between 1 and 10")
	}
	fee, err := d.FeeAmount()
	if err != nil || fee.Sign() < 0 {
		return fmt.Errorf("invalid defaults.fee %q", d.Fee)
	}
	return nil
}

func validateURL(rawURL string, schemes ...string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	for _, scheme := range schemes {
		if parsed.Scheme == scheme {
			return nil
		}
	}
	return fmt.Errorf("unsupported URL scheme %q", parsed.Scheme)
}
