package config

import (
	"fmt"
	"strings"
)

// Validate reports configuration problems that would prevent the daemon from
// operating correctly. Path existence is not checked here; directories are
// created by EnsureDirectories.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: data_dir is required")
	}
	if strings.TrimSpace(c.LogDir) == "" {
		return fmt.Errorf("config: log_dir is required")
	}

	seen := make(map[string]string, len(c.Serials))
	for _, serial := range c.Serials {
		if serial.Name == "" {
			return fmt.Errorf("config: serial with id %q has no name", serial.ID)
		}
		if serial.ID == "" {
			return fmt.Errorf("config: serial %q has no id", serial.Name)
		}
		if other, dup := seen[serial.ID]; dup {
			return fmt.Errorf("config: serial id %q used by both %q and %q", serial.ID, other, serial.Name)
		}
		seen[serial.ID] = serial.Name
	}

	if c.Pipeline.MaxAttempts < 1 {
		return fmt.Errorf("config: pipeline.max_attempts must be at least 1")
	}
	if c.Pipeline.WorkerCount < 1 {
		return fmt.Errorf("config: pipeline.worker_count must be at least 1")
	}
	if c.Pipeline.BackoffBaseSeconds < 0 || c.Pipeline.BackoffCapSeconds < 0 {
		return fmt.Errorf("config: pipeline backoff values must not be negative")
	}
	if c.Pipeline.BackoffCapSeconds > 0 && c.Pipeline.BackoffCapSeconds < c.Pipeline.BackoffBaseSeconds {
		return fmt.Errorf("config: pipeline.backoff_cap_seconds must be >= backoff_base_seconds")
	}
	if c.Scheduler.SerialIntervalSeconds < 1 {
		return fmt.Errorf("config: scheduler.serial_interval_seconds must be at least 1")
	}
	if c.Scheduler.SweepIntervalSeconds < 1 {
		return fmt.Errorf("config: scheduler.sweep_interval_seconds must be at least 1")
	}
	if c.Scheduler.RetentionDays < 0 {
		return fmt.Errorf("config: scheduler.retention_days must not be negative")
	}

	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "console", "json":
	default:
		return fmt.Errorf("config: logging.format must be console or json")
	}
	return nil
}
