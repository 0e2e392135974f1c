package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Validate checks the structural validity of a Config and returns every
// problem found. Builder and job names are checked against the registries at
// startup, not here.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Version == "" {
		errs = append(errs, errors.New("config: version field is required"))
	} else if cfg.Version != "1" {
		errs = append(errs, fmt.Errorf("config: unsupported version %q (supported: \"1\")", cfg.Version))
	}

	errs = append(errs, validateLog(cfg.Log)...)

	if cfg.Daemon.Quantum < 0 {
		errs = append(errs, fmt.Errorf("config: daemon.quantum must be non-negative, got %s", cfg.Daemon.Quantum))
	}

	if err := cfg.Database.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("config: database: %w", err))
	}

	errs = append(errs, validateCache(cfg.Cache)...)
	errs = append(errs, validateRecurring(cfg.Jobs.Recurring)...)

	if err := cfg.Gateway.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("config: %w", err))
	}
	if err := cfg.Telemetry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("config: %w", err))
	}

	return errors.Join(errs...)
}

// ParseLevel maps a configured level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("config: invalid log level %q", s)
	}
	return level, nil
}

func validateLog(l LogConfig) []error {
	var errs []error
	if l.Level != "" {
		if _, err := ParseLevel(l.Level); err != nil {
			errs = append(errs, err)
		}
	}
	switch strings.ToLower(l.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("config: log.format must be text or json, got %q", l.Format))
	}
	return errs
}

func validateCache(c CacheConfig) []error {
	var errs []error

	switch c.Backend {
	case "", CacheBackendMemory, CacheBackendSQLite:
	default:
		errs = append(errs, fmt.Errorf("config: cache.backend must be %q or %q, got %q",
			CacheBackendSQLite, CacheBackendMemory, c.Backend))
	}

	seen := make(map[string]bool, len(c.Items))
	for i, it := range c.Items {
		if it.Key == "" {
			errs = append(errs, fmt.Errorf("config: cache.items[%d]: key is required", i))
		} else if seen[it.Key] {
			errs = append(errs, fmt.Errorf("config: cache.items[%d]: duplicate key %q", i, it.Key))
		}
		seen[it.Key] = true

		if it.Builder == "" {
			errs = append(errs, fmt.Errorf("config: cache.items[%d]: builder is required", i))
		}
		if it.TTL < 0 {
			errs = append(errs, fmt.Errorf("config: cache.items[%d]: ttl must be non-negative", i))
		}
	}
	return errs
}

func validateRecurring(entries []RecurringConfig) []error {
	var errs []error
	for i, e := range entries {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("config: jobs.recurring[%d]: name is required", i))
		}
		if _, err := cronParser.Parse(e.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("config: jobs.recurring[%d]: invalid schedule %q: %w", i, e.Schedule, err))
		}
		if e.MaxAttempts < 0 {
			errs = append(errs, fmt.Errorf("config: jobs.recurring[%d]: max_attempts must be non-negative", i))
		}
		if e.Delay < 0 || e.RetryInterval < 0 {
			errs = append(errs, fmt.Errorf("config: jobs.recurring[%d]: durations must be non-negative", i))
		}
	}
	return errs
}
