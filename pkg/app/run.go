// Package app assembles the apmd daemon from its configuration and provides
// the shared entry point used by the CLI and the system service.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/flemzord/apmd/internal/config"
	"github.com/flemzord/apmd/internal/core"
	"github.com/flemzord/apmd/internal/logging"
	"github.com/flemzord/apmd/internal/telemetry"
)

// RunParams configures the main application loop.
type RunParams struct {
	// ConfigPath is an explicit path to the YAML configuration file.
	// If empty, ResolveConfigPath is called automatically.
	ConfigPath string

	// Version, Commit, and Date are injected at build time via ldflags.
	Version string
	Commit  string
	Date    string

	// DataDir overrides the default persistent data directory.
	DataDir string

	// LogOutput receives the logs. Defaults to os.Stderr.
	LogOutput io.Writer
}

// Run loads configuration, starts the auxiliary services and runs the
// daemon loop until a termination signal arrives or ctx is canceled.
func Run(ctx context.Context, params RunParams) error {
	cfg, cfgPath, err := LoadConfig(params.ConfigPath, params.DataDir)
	if err != nil {
		return err
	}

	out := params.LogOutput
	if out == nil {
		out = os.Stderr
	}
	logger, err := NewLogger(cfg.Log, out, Secrets(cfg)...)
	if err != nil {
		return err
	}

	tracing, err := telemetry.SetupTracing(ctx, cfg.Telemetry.Tracing, params.Version, logger)
	if err != nil {
		return err
	}

	rt, err := Open(ctx, cfg, params.Version, logger)
	if err != nil {
		_ = tracing.Stop(ctx)
		return err
	}

	d, err := rt.NewDaemon()
	if err != nil {
		_ = rt.Close()
		_ = tracing.Stop(ctx)
		return err
	}

	application := core.NewApp(logger)
	application.Add("tracing", tracing)
	application.Add("database", rt.DB)
	if cfg.Gateway.Enabled() {
		application.Add("gateway", rt.NewGateway(d))
	}
	if err := application.Validate(); err != nil {
		_ = rt.Close()
		_ = tracing.Stop(ctx)
		return err
	}
	if err := application.Start(); err != nil {
		return err
	}
	defer application.Stop()

	if cfg.Daemon.RecoverStranded {
		n, err := rt.Manager.RecoverStranded(ctx)
		if err != nil {
			logger.Error("stranded job recovery failed", "error", err)
		} else if n > 0 {
			logger.Warn("stranded jobs moved back to waiting", "count", n)
		}
	}

	logger.Info("apmd starting",
		"version", params.Version,
		"config", cfgPath,
		"database", rt.DB.Path(),
		"pid_file", cfg.Daemon.PIDFile,
		"cache_items", len(rt.Maintainer.Items()),
		"jobs", strings.Join(rt.Manager.Registry().Names(), ","),
	)
	if err := d.Run(ctx); err != nil {
		return err
	}
	logger.Info("shutdown complete", "rounds", d.Rounds())
	return nil
}

// LoadConfig resolves, loads, defaults and validates the configuration.
// It returns the path that was loaded.
func LoadConfig(path, dataDir string) (*config.Config, string, error) {
	if path == "" {
		resolved, err := ResolveConfigPath()
		if err != nil {
			return nil, "", err
		}
		path = resolved
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}
	cfg.Defaults(dataDir)
	if err := config.Validate(cfg); err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// NewLogger builds the slog logger described by cfg. The given secrets are
// redacted from every record.
func NewLogger(cfg config.LogConfig, w io.Writer, secrets ...string) (*slog.Logger, error) {
	level := slog.LevelInfo
	if cfg.Level != "" {
		var err error
		if level, err = config.ParseLevel(cfg.Level); err != nil {
			return nil, err
		}
	}
	return logging.New(w, strings.EqualFold(cfg.Format, "json"), level, logging.NewRedactor(secrets...)), nil
}

// Secrets returns the configured credentials that must never be logged.
func Secrets(cfg *config.Config) []string {
	secrets := []string{cfg.Gateway.Auth.BearerToken, cfg.Gateway.Auth.BasicPass}
	for _, v := range cfg.Telemetry.Tracing.Headers {
		secrets = append(secrets, v)
	}
	return secrets
}

// ResolveConfigPath searches for a config file in standard locations.
// Search order: $XDG_CONFIG_HOME/apmd/apmd.yaml → ~/.config/apmd/apmd.yaml → ./apmd.yaml
func ResolveConfigPath() (string, error) {
	var candidates []string

	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		candidates = append(candidates, filepath.Join(xdg, "apmd", "apmd.yaml"))
	} else if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "apmd", "apmd.yaml"))
	}

	candidates = append(candidates, "apmd.yaml")

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no configuration file found (searched: %v)", candidates)
}

// DefaultDataDir returns the default persistent data directory.
// Uses $XDG_DATA_HOME/apmd if set, otherwise ~/.local/share/apmd.
func DefaultDataDir() string {
	if dir, ok := os.LookupEnv("XDG_DATA_HOME"); ok {
		return filepath.Join(dir, "apmd")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "apmd")
}
