package cache

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/flemzord/apmd/internal/cache"

// MaintainerConfig holds optional Maintainer dependencies.
type MaintainerConfig struct {
	Logger    *slog.Logger
	Tracer    trace.Tracer
	Observers []Observer
}

// Maintainer rebuilds missing cache items.
type Maintainer struct {
	store     Store
	items     []Item
	logger    *slog.Logger
	tracer    trace.Tracer
	observers []Observer
}

// NewMaintainer validates items and returns a Maintainer over store. The
// item list is fixed for the lifetime of the Maintainer.
func NewMaintainer(store Store, items []Item, cfg MaintainerConfig) (*Maintainer, error) {
	if store == nil {
		return nil, errors.New("cache: nil Store")
	}

	seen := make(map[string]struct{}, len(items))
	var errs []error
	for i, it := range items {
		if err := it.validate(); err != nil {
			errs = append(errs, fmt.Errorf("item %d: %w", i, err))
			continue
		}
		if _, dup := seen[it.Key]; dup {
			errs = append(errs, fmt.Errorf("cache: duplicate key %q", it.Key))
		}
		seen[it.Key] = struct{}{}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}

	return &Maintainer{
		store:     store,
		items:     append([]Item(nil), items...),
		logger:    cfg.Logger.With("component", "cache"),
		tracer:    cfg.Tracer,
		observers: cfg.Observers,
	}, nil
}

// AddObserver subscribes o to rebuild attempts. Must be called before the
// first pass.
func (m *Maintainer) AddObserver(o Observer) {
	m.observers = append(m.observers, o)
}

// Items returns the configured items.
func (m *Maintainer) Items() []Item {
	return append([]Item(nil), m.items...)
}

// Steps returns one pass over the items. It yields after each item found in
// the store, after a successful build and again after the rebuilt value is
// stored. A failed build is logged and the pass moves on without yielding.
// Store errors are yielded and the pass continues with the next item.
func (m *Maintainer) Steps(ctx context.Context) iter.Seq[error] {
	return func(yield func(error) bool) {
		for _, it := range m.items {
			if !m.step(ctx, it, yield) {
				return
			}
		}
	}
}

// Pass runs one complete pass and returns the joined store errors.
func (m *Maintainer) Pass(ctx context.Context) error {
	var errs []error
	for err := range m.Steps(ctx) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// step handles one item. It returns false when the consumer stopped.
func (m *Maintainer) step(ctx context.Context, it Item, yield func(error) bool) bool {
	_, ok, err := m.store.Get(ctx, it.Key)
	if err != nil {
		return yield(fmt.Errorf("cache: get %q: %w", it.Key, err))
	}
	if ok {
		return yield(nil)
	}

	begin := time.Now()
	value, err := m.build(ctx, it)
	if err != nil {
		m.logger.Error("cache rebuild failed", "key", it.Key, "error", err)
		m.notify(Rebuild{Key: it.Key, Outcome: OutcomeBuildFailed, Duration: time.Since(begin), Err: err})
		return true
	}
	if !yield(nil) {
		return false
	}

	if err := m.store.Set(ctx, it.Key, value, it.TTL); err != nil {
		err = fmt.Errorf("cache: set %q: %w", it.Key, err)
		m.logger.Error("cache rebuild could not be stored", "key", it.Key, "error", err)
		m.notify(Rebuild{Key: it.Key, Outcome: OutcomeStoreFailed, Duration: time.Since(begin), Err: err})
		return yield(err)
	}

	m.logger.Info("cache item rebuilt", "key", it.Key, "ttl", it.TTL, "bytes", len(value))
	m.notify(Rebuild{Key: it.Key, Outcome: OutcomeBuilt, Duration: time.Since(begin)})
	return yield(nil)
}

// build runs the builder and encodes its result inside a span.
func (m *Maintainer) build(ctx context.Context, it Item) ([]byte, error) {
	ctx, span := m.tracer.Start(ctx, "cache.rebuild", trace.WithAttributes(
		attribute.String("cache.key", it.Key),
		attribute.Bool("cache.json", it.JSON),
	))
	defer span.End()

	v, err := it.Builder(ctx)
	if err == nil {
		var data []byte
		if data, err = Encode(v, it.JSON); err == nil {
			return data, nil
		}
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return nil, err
}

func (m *Maintainer) notify(r Rebuild) {
	for _, o := range m.observers {
		o.ObserveRebuild(r)
	}
}
