// Package gateway provides the admin HTTP server: health, metrics and status
// endpoints, the job queue API and a websocket stream of job transitions.
// It binds to loopback by default.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/flemzord/apmd/internal/job"
	"github.com/flemzord/apmd/internal/telemetry"
)

// JobService is the part of the job manager the gateway exposes.
type JobService interface {
	Job(ctx context.Context, id string) (*job.Record, error)
	JobsByState(ctx context.Context, state job.State) ([]job.Record, error)
	CountsByState(ctx context.Context) (map[job.State]int, error)
	RescheduleJob(ctx context.Context, id string, opts job.RescheduleOptions) error
	CleanQueue(ctx context.Context) (int, error)
}

// MetricsSource serves Prometheus metrics and a status snapshot.
type MetricsSource interface {
	Handler() http.Handler
	Snapshot() telemetry.Snapshot
}

// DaemonInfo reports main loop progress.
type DaemonInfo interface {
	Rounds() int64
	StartedAt() time.Time
}

// Pinger checks that a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services the gateway reads from. Only Jobs is required.
type Deps struct {
	Jobs     JobService
	Metrics  MetricsSource
	Daemon   DaemonInfo
	Database Pinger
	Events   *Hub
	Version  string
}

// Gateway is the admin HTTP server.
type Gateway struct {
	config    Config
	deps      Deps
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a Gateway. cfg is defaulted; call Validate before Start.
func New(cfg Config, deps Deps, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Defaults()
	return &Gateway{
		config:    cfg,
		deps:      deps,
		logger:    logger.With("component", "gateway"),
		startedAt: time.Now(),
	}
}

// Validate implements core.Validator.
func (g *Gateway) Validate() error {
	if g.deps.Jobs == nil {
		return errors.New("gateway: job service is required")
	}
	return g.config.Validate()
}

// Handler returns the router with all routes wired.
func (g *Gateway) Handler() http.Handler {
	return g.buildRouter()
}

// Start implements core.Starter. It starts the HTTP server in the background.
func (g *Gateway) Start() error {
	g.startedAt = time.Now()

	g.server = &http.Server{
		Addr:         g.config.Bind,
		Handler:      g.buildRouter(),
		ReadTimeout:  g.config.ReadTimeout,
		WriteTimeout: g.config.WriteTimeout,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", g.config.Bind)
	if err != nil {
		return errors.New("gateway: listen failed: " + err.Error())
	}

	go func() {
		g.logger.Info("gateway listening", "addr", ln.Addr().String())
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway serve error", "error", err)
		}
	}()

	return nil
}

// Stop implements core.Stopper. Graceful shutdown with configured timeout.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.deps.Events != nil {
		g.deps.Events.Close()
	}
	if g.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, g.config.ShutdownTimeout)
	defer cancel()

	g.logger.Info("gateway shutting down")
	return g.server.Shutdown(shutdownCtx)
}
