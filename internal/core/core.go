// Package core manages the lifecycle of the daemon's auxiliary services
// (gateway, tracing, database) around the main loop.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const shutdownTimeout = 30 * time.Second

// App starts services in registration order and stops them in reverse.
type App struct {
	logger   *slog.Logger
	services []serviceInstance
}

type serviceInstance struct {
	name    string
	service any
	started bool
}

// NewApp creates an empty App.
func NewApp(logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	return &App{logger: logger.With("component", "core")}
}

// Add registers a service. It should implement at least one of Validator,
// Starter or Stopper; other values are accepted and ignored.
func (a *App) Add(name string, service any) {
	a.services = append(a.services, serviceInstance{name: name, service: service})
}

// Names returns the registered service names in order.
func (a *App) Names() []string {
	names := make([]string, len(a.services))
	for i, si := range a.services {
		names[i] = si.name
	}
	return names
}

// Validate runs Validate on every service that implements Validator and
// returns the joined errors.
func (a *App) Validate() error {
	var errs []error
	for _, si := range a.services {
		if v, ok := si.service.(Validator); ok {
			if err := v.Validate(); err != nil {
				errs = append(errs, fmt.Errorf("validating %s: %w", si.name, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Start starts all services that implement Starter, in order. Services
// without Start are considered started so that Stop reaches them.
// If any Start() fails, already-started services are stopped in reverse order.
func (a *App) Start() error {
	for i := range a.services {
		si := &a.services[i]
		s, ok := si.service.(Starter)
		if !ok {
			si.started = true
			continue
		}
		a.logger.Info("starting service", "service", si.name)
		if err := s.Start(); err != nil {
			a.logger.Error("service start failed", "service", si.name, "error", err)
			a.stopServices(i - 1)
			return fmt.Errorf("starting service %s: %w", si.name, err)
		}
		si.started = true
	}
	a.logger.Info("all services started")
	return nil
}

// Stop stops all started services in reverse order with a timeout.
func (a *App) Stop() {
	a.stopServices(len(a.services) - 1)
}

func (a *App) stopServices(fromIndex int) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for i := fromIndex; i >= 0; i-- {
		si := &a.services[i]
		if !si.started {
			continue
		}
		if s, ok := si.service.(Stopper); ok {
			a.logger.Info("stopping service", "service", si.name)
			if err := s.Stop(ctx); err != nil {
				a.logger.Error("service stop error", "service", si.name, "error", err)
			}
		}
		si.started = false
	}
}
