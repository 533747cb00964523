package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateSandbox(); err != nil {
		return err
	}
	if err := c.validateLimits(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateInvalidation(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateDatabase() error {
	switch c.Database.Driver {
	case "sqlite":
		return nil
	case "postgres", "mysql":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn must be set when database.driver is %q (or set TRANSCODER_DATABASE_DSN)", c.Database.Driver)
		}
		return nil
	default:
		return fmt.Errorf("database.driver: unsupported value %q (want sqlite, postgres, or mysql)", c.Database.Driver)
	}
}

func (c *Config) validateSandbox() error {
	if err := ensurePositiveMap(map[string]int{
		"sandbox.wall_time_limit": c.Sandbox.WallTimeLimit,
		"encoder.threads":         c.Encoder.Threads,
	}); err != nil {
		return err
	}
	if c.Sandbox.MemoryLimitKiB < 0 {
		return errors.New("sandbox.memory_limit_kib must be >= 0")
	}
	switch c.Sandbox.Network {
	case NetworkIsolated, NetworkInherit:
	default:
		return fmt.Errorf("sandbox.network: unsupported value %q (want %s or %s)", c.Sandbox.Network, NetworkIsolated, NetworkInherit)
	}
	return nil
}

func (c *Config) validateLimits() error {
	if c.Limits.HardSizeKiB < 0 {
		return errors.New("limits.hard_size_kib must be >= 0")
	}
	if c.Limits.SoftSizeKiB < 0 {
		return errors.New("limits.soft_size_kib must be >= 0")
	}
	if c.HLS.SegmentSeconds <= 0 {
		return errors.New("hls.segment_seconds must be positive")
	}
	return nil
}

func (c *Config) validateStorage() error {
	if strings.TrimSpace(c.Storage.Root) == "" {
		return errors.New("storage.root must be set")
	}
	return nil
}

func (c *Config) validateInvalidation() error {
	for _, raw := range c.Invalidation.PurgeURLs {
		parsed, err := url.Parse(raw)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("invalidation.purge_urls: invalid endpoint %q", raw)
		}
	}
	if c.Invalidation.RedisURL != "" && c.Invalidation.RedisChannel == "" && c.Invalidation.RedisKeyPrefix == "" {
		return errors.New("invalidation.redis_channel or invalidation.redis_key_prefix must be set when invalidation.redis_url is set")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.workers":              c.Workflow.Workers,
		"workflow.queue_poll_interval":  c.Workflow.QueuePollInterval,
		"workflow.error_retry_interval": c.Workflow.ErrorRetryInterval,
		"workflow.reclaim_interval":     c.Workflow.ReclaimInterval,
	}); err != nil {
		return err
	}
	if c.Workflow.StaleAfter <= c.Sandbox.WallTimeLimit {
		return errors.New("workflow.stale_after must be greater than sandbox.wall_time_limit")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must be >= 0")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
