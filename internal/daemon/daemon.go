// Package daemon runs the apmd main loop: two cooperative tasks, the cache
// maintainer and the job processor, given one slice each per round on a
// single goroutine until a termination signal arrives.
package daemon

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/flemzord/apmd/internal/task"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/flemzord/apmd/internal/daemon"

// DefaultQuantum is the pause between two rounds.
const DefaultQuantum = 100 * time.Millisecond

// Task names, in the order they run within a round.
const (
	TaskCache = "cache"
	TaskJobs  = "jobs"
)

// ErrNoPIDFile is returned by New when no pid file path is configured.
var ErrNoPIDFile = errors.New("daemon: pid file path is required")

// SliceObserver is notified after every task slice.
type SliceObserver interface {
	ObserveSlice(task string, elapsed time.Duration, err error)
}

// Config holds the daemon settings.
type Config struct {
	PIDFile string
	Quantum time.Duration

	Logger   *slog.Logger
	Tracer   trace.Tracer
	Observer SliceObserver

	// Signals that request a stop. Defaults to SIGINT and SIGTERM.
	Signals []os.Signal
}

func (c Config) withDefaults() Config {
	if c.Quantum <= 0 {
		c.Quantum = DefaultQuantum
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Tracer == nil {
		c.Tracer = otel.Tracer(tracerName)
	}
	if len(c.Signals) == 0 {
		c.Signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}
	return c
}

// Daemon drives the cache maintainer and job processor tasks.
type Daemon struct {
	cfg    Config
	logger *slog.Logger
	tasks  []*task.Task

	stopRequested atomic.Bool
	rounds        atomic.Int64
	startedAt     atomic.Pointer[time.Time]
}

// New returns a Daemon that runs cache, then jobs, once per round.
func New(cfg Config, cache, jobs task.Factory) (*Daemon, error) {
	if cfg.PIDFile == "" {
		return nil, ErrNoPIDFile
	}
	if cache == nil || jobs == nil {
		return nil, errors.New("daemon: both task factories are required")
	}
	cfg = cfg.withDefaults()

	return &Daemon{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "daemon"),
		tasks: []*task.Task{
			task.New(TaskCache, cache),
			task.New(TaskJobs, jobs),
		},
	}, nil
}

// Tasks returns the registered tasks in run order.
func (d *Daemon) Tasks() []*task.Task {
	return append([]*task.Task(nil), d.tasks...)
}

// RequestStop asks the loop to exit at the top of its next round.
func (d *Daemon) RequestStop() {
	d.stopRequested.Store(true)
}

// Rounds returns the number of completed rounds.
func (d *Daemon) Rounds() int64 {
	return d.rounds.Load()
}

// StartedAt returns when Run started, or the zero time.
func (d *Daemon) StartedAt() time.Time {
	if t := d.startedAt.Load(); t != nil {
		return *t
	}
	return time.Time{}
}

// Run writes the pid file and loops until a stop is requested by a signal,
// RequestStop or ctx cancellation. It only returns an error when the pid
// file cannot be written.
func (d *Daemon) Run(ctx context.Context) error {
	if err := WritePIDFile(d.cfg.PIDFile, os.Getpid()); err != nil {
		d.logger.Error("could not write pid file", "path", d.cfg.PIDFile, "error", err)
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, d.cfg.Signals...)
	defer signal.Stop(sigCh)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case sig := <-sigCh:
			d.logger.Info("shutdown signal received", "signal", sig.String())
			d.RequestStop()
		case <-done:
		}
	}()

	now := time.Now()
	d.startedAt.Store(&now)
	d.logger.Info("daemon started", "pid", os.Getpid(), "pid_file", d.cfg.PIDFile, "quantum", d.cfg.Quantum)

	for {
		if d.stopRequested.Load() || ctx.Err() != nil {
			d.shutdown()
			return nil
		}

		for _, t := range d.tasks {
			d.runSlice(ctx, t)
		}
		d.rounds.Add(1)

		select {
		case <-ctx.Done():
		case <-time.After(d.cfg.Quantum):
		}
	}
}

// runSlice gives t one slice. Errors are logged and never propagated.
// The computation keeps the context it was started with, so the span is
// not propagated into it.
func (d *Daemon) runSlice(ctx context.Context, t *task.Task) {
	_, span := d.cfg.Tracer.Start(ctx, "task.slice", trace.WithAttributes(
		attribute.String("task.name", t.Name()),
	))
	defer span.End()

	begin := time.Now()
	err := t.Run(ctx)
	elapsed := time.Since(begin)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.logger.Error("task failed", "task", t.Name(), "error", err)
	}
	if d.cfg.Observer != nil {
		d.cfg.Observer.ObserveSlice(t.Name(), elapsed, err)
	}
}

func (d *Daemon) shutdown() {
	for _, t := range d.tasks {
		t.Stop()
	}
	if err := RemovePIDFile(d.cfg.PIDFile); err != nil {
		d.logger.Warn("could not remove pid file", "path", d.cfg.PIDFile, "error", err)
	}
	d.logger.Info("daemon stopped", "rounds", d.rounds.Load())
}
