package pool

import (
	"fmt"
	"time"
)

// Config holds the pool's immutable-after-construction configuration
// (spec §3 "Pool Core (D) state" / §6 "Construction parameters"). Defaults
// match spec §6 and are applied by WithDefaults.
type Config struct {
	MinSize int
	MaxSize int

	ConnectionTimeout   time.Duration
	AcquisitionTimeout  time.Duration
	MaxIdleTime         time.Duration
	MaxLifetime         time.Duration
	MaxUsageCount       int
	HealthCheckInterval time.Duration

	// HealthCheckSchedule, if set, is a cron expression (robfig/cron
	// standard 5-field syntax or a descriptor such as "@every 1m"; a
	// seconds field is not accepted) that drives the health
	// maintainer's ticks instead of HealthCheckInterval. Useful to pin
	// probes to a maintenance window rather than running them constantly.
	// An invalid expression is logged and the pool falls back to
	// HealthCheckInterval.
	HealthCheckSchedule string

	RetryAttempts int
	RetryDelay    time.Duration

	ResetOnReturn bool

	// Namespace/Database re-selected on return when ResetOnReturn is set;
	// left empty this is a no-op reset that just re-confirms liveness.
	Namespace string
	Database  string

	// SchemaBootstrap, if non-empty, is executed exactly once on the
	// first connection established during Initialize.
	SchemaBootstrap string
}

// DefaultConfig returns spec §6's default construction parameters.
func DefaultConfig() Config {
	return Config{
		MinSize:             2,
		MaxSize:             10,
		ConnectionTimeout:   5 * time.Second,
		AcquisitionTimeout:  10 * time.Second,
		MaxIdleTime:         300 * time.Second,
		MaxLifetime:         3600 * time.Second,
		MaxUsageCount:       1000,
		HealthCheckInterval: 30 * time.Second,
		RetryAttempts:       3,
		RetryDelay:          time.Second,
		ResetOnReturn:       true,
	}
}

// WithDefaults fills zero-valued numeric and duration fields with
// DefaultConfig's values. It does not touch fields the caller explicitly
// set. ResetOnReturn is left as given: a false value is not replaced by
// DefaultConfig's true, since it cannot be told apart from an unset one.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.MinSize == 0 {
		c.MinSize = d.MinSize
	}
	if c.MaxSize == 0 {
		c.MaxSize = d.MaxSize
	}
	if c.ConnectionTimeout == 0 {
		c.ConnectionTimeout = d.ConnectionTimeout
	}
	if c.AcquisitionTimeout == 0 {
		c.AcquisitionTimeout = d.AcquisitionTimeout
	}
	if c.MaxIdleTime == 0 {
		c.MaxIdleTime = d.MaxIdleTime
	}
	if c.MaxLifetime == 0 {
		c.MaxLifetime = d.MaxLifetime
	}
	if c.MaxUsageCount == 0 {
		c.MaxUsageCount = d.MaxUsageCount
	}
	if c.HealthCheckInterval == 0 {
		c.HealthCheckInterval = d.HealthCheckInterval
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = d.RetryAttempts
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = d.RetryDelay
	}
	return c
}

// validate enforces spec §4.4 "Initialization": min_size >= 1, max_size >=
// min_size, all timeouts positive, retry counts non-negative.
func (c Config) validate() error {
	switch {
	case c.MinSize < 1:
		return fmt.Errorf("%w: min_size must be >= 1, got %d", ErrConfigurationInvalid, c.MinSize)
	case c.MaxSize < c.MinSize:
		return fmt.Errorf("%w: max_size (%d) must be >= min_size (%d)", ErrConfigurationInvalid, c.MaxSize, c.MinSize)
	case c.ConnectionTimeout <= 0:
		return fmt.Errorf("%w: connection_timeout must be positive", ErrConfigurationInvalid)
	case c.AcquisitionTimeout <= 0:
		return fmt.Errorf("%w: acquisition_timeout must be positive", ErrConfigurationInvalid)
	case c.MaxIdleTime < 0:
		return fmt.Errorf("%w: max_idle_time must not be negative", ErrConfigurationInvalid)
	case c.MaxLifetime < 0:
		return fmt.Errorf("%w: max_lifetime must not be negative", ErrConfigurationInvalid)
	case c.HealthCheckInterval <= 0:
		return fmt.Errorf("%w: health_check_interval must be positive", ErrConfigurationInvalid)
	case c.RetryAttempts < 0:
		return fmt.Errorf("%w: retry_attempts must not be negative", ErrConfigurationInvalid)
	case c.RetryDelay < 0:
		return fmt.Errorf("%w: retry_delay must not be negative", ErrConfigurationInvalid)
	}
	return nil
}
