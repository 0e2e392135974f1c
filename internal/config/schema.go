// Package config handles YAML configuration loading, environment variable
// expansion, defaults and structural validation for apmd.
package config

import (
	"time"

	"github.com/flemzord/apmd/internal/gateway"
	"github.com/flemzord/apmd/internal/store/sqlite"
	"github.com/flemzord/apmd/internal/telemetry"
)

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	Version string `yaml:"version"`

	Log       LogConfig        `yaml:"log"`
	Daemon    DaemonConfig     `yaml:"daemon"`
	Database  sqlite.Config    `yaml:"database"`
	Cache     CacheConfig      `yaml:"cache"`
	Jobs      JobsConfig       `yaml:"jobs"`
	Gateway   gateway.Config   `yaml:"gateway"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// LogConfig selects the slog handler and level.
type LogConfig struct {
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string `yaml:"level"`

	// Format is "text" or "json". Defaults to text.
	Format string `yaml:"format"`
}

// DaemonConfig configures the main loop.
type DaemonConfig struct {
	// DataDir holds the database and PID file unless they are set explicitly.
	DataDir string `yaml:"data_dir"`

	// PIDFile defaults to {DataDir}/apmd.pid.
	PIDFile string `yaml:"pid_file"`

	// Quantum is the pause between rounds. Defaults to 100ms.
	Quantum time.Duration `yaml:"quantum"`

	// RecoverStranded moves records left in the running state back to
	// waiting when the daemon starts.
	RecoverStranded bool `yaml:"recover_stranded"`
}

// Cache backends.
const (
	CacheBackendMemory = "memory"
	CacheBackendSQLite = "sqlite"
)

// CacheConfig configures the cache maintainer.
type CacheConfig struct {
	// Backend is "sqlite" (default) or "memory".
	Backend string            `yaml:"backend"`
	Items   []CacheItemConfig `yaml:"items"`
}

// CacheItemConfig declares one maintained cache entry.
type CacheItemConfig struct {
	Key string        `yaml:"key"`
	TTL time.Duration `yaml:"ttl"`

	// JSON stores the value as JSON instead of gob.
	JSON bool `yaml:"json"`

	// Builder names a builder registered by the host.
	Builder string `yaml:"builder"`
}

// JobsConfig configures the job processor.
type JobsConfig struct {
	Recurring []RecurringConfig `yaml:"recurring"`
}

// RecurringConfig enqueues a job on a cron schedule.
type RecurringConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Schedule is a 5-field cron expression.
	Schedule string `yaml:"schedule"`

	Payload       map[string]any `yaml:"payload"`
	Delay         time.Duration  `yaml:"delay"`
	MaxAttempts   int            `yaml:"max_attempts"`
	RetryInterval time.Duration  `yaml:"retry_interval"`
}
