package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/flemzord/apmd/internal/cache"
	"github.com/flemzord/apmd/internal/config"
	"github.com/flemzord/apmd/internal/daemon"
	"github.com/flemzord/apmd/internal/gateway"
	"github.com/flemzord/apmd/internal/job"
	"github.com/flemzord/apmd/internal/store/sqlite"
	"github.com/flemzord/apmd/internal/telemetry"
)

// Runtime holds the services built from a configuration: the database, the
// job manager with its built-in handlers, and the cache maintainer.
type Runtime struct {
	Config     *config.Config
	Logger     *slog.Logger
	DB         *sqlite.DB
	Cache      cache.Store
	Manager    *job.Manager
	Recurring  *job.Recurring
	Maintainer *cache.Maintainer

	// Metrics is nil when telemetry.metrics is false.
	Metrics *telemetry.Metrics

	// Events is nil when the gateway is disabled.
	Events *gateway.Hub

	version   string
	startedAt time.Time
}

// Open builds a Runtime from a defaulted and validated cfg. The caller must
// Close it.
func Open(ctx context.Context, cfg *config.Config, version string, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sqlite.Open(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{
		Config:    cfg,
		Logger:    logger,
		DB:        db,
		version:   version,
		startedAt: time.Now(),
	}
	if err := rt.wire(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) wire() error {
	cfg := rt.Config

	switch cfg.Cache.Backend {
	case config.CacheBackendMemory:
		rt.Cache = cache.NewMemoryStore(nil)
	default:
		rt.Cache = rt.DB.Cache()
	}

	manager, err := job.NewManager(rt.DB.Jobs(), job.NewRegistry(), job.ManagerConfig{Logger: rt.Logger})
	if err != nil {
		return err
	}
	rt.Manager = manager
	if err := rt.registerHandlers(); err != nil {
		return err
	}

	entries := make([]job.RecurringEntry, 0, len(cfg.Jobs.Recurring))
	for _, rc := range cfg.Jobs.Recurring {
		entries = append(entries, job.RecurringEntry{
			Name:        rc.Name,
			Description: rc.Description,
			Schedule:    rc.Schedule,
			Payload:     rc.Payload,
			Options: job.ScheduleOptions{
				Delay:         rc.Delay,
				MaxAttempts:   rc.MaxAttempts,
				RetryInterval: rc.RetryInterval,
			},
		})
	}
	if rt.Recurring, err = job.NewRecurring(manager, entries); err != nil {
		return err
	}

	builders := rt.builders()
	items := make([]cache.Item, 0, len(cfg.Cache.Items))
	for _, ic := range cfg.Cache.Items {
		b, ok := builders[ic.Builder]
		if !ok {
			return fmt.Errorf("app: cache item %q: unknown builder %q", ic.Key, ic.Builder)
		}
		items = append(items, cache.Item{Key: ic.Key, TTL: ic.TTL, JSON: ic.JSON, Builder: b})
	}
	if rt.Maintainer, err = cache.NewMaintainer(rt.Cache, items, cache.MaintainerConfig{Logger: rt.Logger}); err != nil {
		return err
	}

	if cfg.Telemetry.MetricsEnabled() {
		rt.Metrics = telemetry.NewMetrics()
		manager.AddObserver(rt.Metrics)
		rt.Maintainer.AddObserver(rt.Metrics)
	}
	if cfg.Gateway.Enabled() {
		rt.Events = gateway.NewHub(cfg.Gateway.EventBuffer, rt.Logger)
		manager.AddObserver(rt.Events)
	}
	return nil
}

// NewDaemon returns the main loop driving the cache maintainer and the job
// processor.
func (rt *Runtime) NewDaemon() (*daemon.Daemon, error) {
	dcfg := daemon.Config{
		PIDFile: rt.Config.Daemon.PIDFile,
		Quantum: rt.Config.Daemon.Quantum,
		Logger:  rt.Logger,
	}
	if rt.Metrics != nil {
		dcfg.Observer = rt.Metrics
	}
	return daemon.New(dcfg, rt.cacheTask, rt.jobsTask)
}

// NewGateway returns the admin HTTP server reading from rt and d.
func (rt *Runtime) NewGateway(d *daemon.Daemon) *gateway.Gateway {
	deps := gateway.Deps{
		Jobs:     rt.Manager,
		Daemon:   d,
		Database: rt.DB,
		Events:   rt.Events,
		Version:  rt.version,
	}
	if rt.Metrics != nil {
		deps.Metrics = rt.Metrics
	}
	return gateway.New(rt.Config.Gateway, deps, rt.Logger)
}

// Close releases the database.
func (rt *Runtime) Close() error {
	return rt.DB.Close()
}
