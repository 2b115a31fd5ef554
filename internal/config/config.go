// Package config loads durablesaga settings from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/fortressi/durablesaga"
)

// Config holds all configuration for the durablesaga CLI and worker.
type Config struct {
	LogLevel string `env:"DURABLESAGA_LOG_LEVEL" envDefault:"info"`

	// CompensationMode is "sequential" or "parallel".
	CompensationMode string `env:"DURABLESAGA_COMPENSATION_MODE" envDefault:"sequential"`

	Activity     ActivityConfig `envPrefix:"DURABLESAGA_ACTIVITY_"`
	Compensation ActivityConfig `envPrefix:"DURABLESAGA_COMPENSATION_"`

	Store    StoreConfig
	Temporal TemporalConfig

	// MetricsAddr enables a Prometheus endpoint when set, e.g. ":9102".
	MetricsAddr string `env:"DURABLESAGA_METRICS_ADDR"`
}

// ActivityConfig holds timeout and retry settings for one class of
// activities.
type ActivityConfig struct {
	Timeout            time.Duration `env:"TIMEOUT" envDefault:"30s"`
	MaxAttempts        int           `env:"MAX_ATTEMPTS" envDefault:"3"`
	InitialInterval    time.Duration `env:"INITIAL_INTERVAL" envDefault:"100ms"`
	BackoffCoefficient float64       `env:"BACKOFF_COEFFICIENT" envDefault:"2"`
	MaxInterval        time.Duration `env:"MAX_INTERVAL" envDefault:"5s"`
}

// StoreConfig selects where instance records are kept.
type StoreConfig struct {
	// Driver is one of memory, file, sqlite or redis.
	Driver string `env:"DURABLESAGA_STORE" envDefault:"memory"`
	// Path is the directory for file and the database file for sqlite.
	Path string `env:"DURABLESAGA_STORE_PATH" envDefault:"./sagas"`

	RedisAddr     string        `env:"DURABLESAGA_REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string        `env:"DURABLESAGA_REDIS_PASS"`
	RedisDB       int           `env:"DURABLESAGA_REDIS_DB" envDefault:"0"`
	RedisTTL      time.Duration `env:"DURABLESAGA_REDIS_TTL" envDefault:"168h"`
}

// TemporalConfig holds the Temporal connection settings used by the worker
// and start commands.
type TemporalConfig struct {
	HostPort  string `env:"DURABLESAGA_TEMPORAL_HOSTPORT" envDefault:"localhost:7233"`
	Namespace string `env:"DURABLESAGA_TEMPORAL_NAMESPACE" envDefault:"default"`
	TaskQueue string `env:"DURABLESAGA_TEMPORAL_TASK_QUEUE" envDefault:"durablesaga"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	if _, err := c.Mode(); err != nil {
		return err
	}

	for name, a := range map[string]ActivityConfig{"activity": c.Activity, "compensation": c.Compensation} {
		if a.Timeout <= 0 {
			return fmt.Errorf("%s timeout must be positive", name)
		}
		if a.MaxAttempts < 1 {
			return fmt.Errorf("%s max attempts must be at least 1", name)
		}
		if a.BackoffCoefficient < 1 {
			return fmt.Errorf("%s backoff coefficient must be at least 1", name)
		}
	}

	switch c.Store.Driver {
	case "memory":
	case "file", "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store path is required for the %s store", c.Store.Driver)
		}
	case "redis":
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("redis address is required")
		}
	default:
		return fmt.Errorf("unsupported store: %s (must be memory, file, sqlite, or redis)", c.Store.Driver)
	}

	if c.Temporal.TaskQueue == "" {
		return fmt.Errorf("temporal task queue is required")
	}

	return nil
}

// Mode returns the configured compensation mode.
func (c *Config) Mode() (durablesaga.CompensationMode, error) {
	return durablesaga.ParseCompensationMode(c.CompensationMode)
}

// Options converts the settings into activity options.
func (a ActivityConfig) Options() durablesaga.ActivityOptions {
	return durablesaga.ActivityOptions{
		StartToCloseTimeout: a.Timeout,
		RetryPolicy: &durablesaga.RetryPolicy{
			MaxAttempts:        a.MaxAttempts,
			InitialInterval:    a.InitialInterval,
			BackoffCoefficient: a.BackoffCoefficient,
			MaxInterval:        a.MaxInterval,
		},
	}
}
