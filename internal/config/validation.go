package config

import (
	"fmt"
	"strings"
)

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Address == "" {
		errs = append(errs, "server.address must not be empty")
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, "server.read_timeout must not be negative")
	}
	if c.Server.WriteTimeout < 0 {
		errs = append(errs, "server.write_timeout must not be negative")
	}
	if c.Server.ShutdownGrace < 0 {
		errs = append(errs, "server.shutdown_grace must not be negative")
	}

	if c.Orchestrator.MaxConcurrent <= 0 {
		errs = append(errs, "orchestrator.max_concurrent must be positive")
	}
	if c.Orchestrator.HealthCheckInterval <= 0 {
		errs = append(errs, "orchestrator.health_check_interval must be positive")
	}
	if c.Orchestrator.DefaultTaskTimeout <= 0 {
		errs = append(errs, "orchestrator.default_task_timeout must be positive")
	}
	if c.Orchestrator.DefaultRetries < 0 {
		errs = append(errs, "orchestrator.default_retries must not be negative")
	}

	seen := make(map[string]bool, len(c.Backends))
	for i, b := range c.Backends {
		if b.ID == "" {
			errs = append(errs, fmt.Sprintf("backends[%d].id must not be empty", i))
			continue
		}
		if seen[b.ID] {
			errs = append(errs, fmt.Sprintf("backends[%d].id %q is duplicated", i, b.ID))
		}
		seen[b.ID] = true
		if b.Host == "" {
			errs = append(errs, fmt.Sprintf("backends[%d].host must not be empty", i))
		}
		if b.Port <= 0 || b.Port > 65535 {
			errs = append(errs, fmt.Sprintf("backends[%d].port %d is out of range", i, b.Port))
		}
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
