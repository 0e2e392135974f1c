package config

import (
	"path/filepath"
	"time"
)

const (
	defaultQuantum = 100 * time.Millisecond
	defaultPIDFile = "apmd.pid"
)

// Defaults fills every unset field. dataDir is used when daemon.data_dir is
// not configured.
func (c *Config) Defaults(dataDir string) {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}

	if c.Daemon.DataDir == "" {
		c.Daemon.DataDir = dataDir
	}
	if c.Daemon.PIDFile == "" && c.Daemon.DataDir != "" {
		c.Daemon.PIDFile = filepath.Join(c.Daemon.DataDir, defaultPIDFile)
	}
	if c.Daemon.Quantum == 0 {
		c.Daemon.Quantum = defaultQuantum
	}

	c.Database.Defaults(c.Daemon.DataDir)

	if c.Cache.Backend == "" {
		c.Cache.Backend = CacheBackendSQLite
	}

	c.Gateway.Defaults()
	c.Telemetry.Defaults()
}
