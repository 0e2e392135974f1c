package job

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

const tracerName = "github.com/flemzord/apmd/internal/job"

// Scheduling defaults applied when ScheduleOptions leaves a field zero.
const (
	DefaultMaxAttempts   = 1
	DefaultRetryInterval = 5 * time.Second
)

// ScheduleOptions controls when a scheduled job first runs and how it retries.
type ScheduleOptions struct {
	// Delay before the first attempt. Zero means "as soon as possible".
	Delay time.Duration

	// MaxAttempts bounds the number of attempts. Defaults to 1.
	MaxAttempts int

	// RetryInterval is the wait after a failed attempt. Defaults to 5s.
	// Stored with one second resolution.
	RetryInterval time.Duration
}

func (o ScheduleOptions) withDefaults() ScheduleOptions {
	if o.Delay < 0 {
		o.Delay = 0
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = DefaultRetryInterval
	}
	return o
}

// RescheduleOptions controls RescheduleJob. Zero MaxAttempts or
// RetryInterval keep the record's current values.
type RescheduleOptions struct {
	Delay         time.Duration
	MaxAttempts   int
	RetryInterval time.Duration
}

// ManagerConfig holds optional Manager dependencies.
type ManagerConfig struct {
	Logger    *slog.Logger
	Tracer    trace.Tracer
	Observers []Observer
	Now       func() time.Time // injectable for testing
}

func (c ManagerConfig) withDefaults() ManagerConfig {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Tracer == nil {
		c.Tracer = otel.Tracer(tracerName)
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Manager owns the job table: it registers handlers, schedules jobs, finds
// due work and drives each due record through its retry state machine.
type Manager struct {
	store     Store
	registry  *Registry
	logger    *slog.Logger
	tracer    trace.Tracer
	observers []Observer
	now       func() time.Time
}

// NewManager creates a Manager backed by store, dispatching to the handlers
// in registry.
func NewManager(store Store, registry *Registry, cfg ManagerConfig) (*Manager, error) {
	if store == nil {
		return nil, errors.New("job: nil Store")
	}
	if registry == nil {
		return nil, errors.New("job: nil Registry")
	}
	cfg = cfg.withDefaults()

	return &Manager{
		store:     store,
		registry:  registry,
		logger:    cfg.Logger.With("component", "job"),
		tracer:    cfg.Tracer,
		observers: cfg.Observers,
		now:       cfg.Now,
	}, nil
}

// AddObserver subscribes o to state transitions. Must be called before the
// manager starts processing.
func (m *Manager) AddObserver(o Observer) {
	m.observers = append(m.observers, o)
}

// Registry returns the handler registry used by the manager.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// RegisterJob associates handler with name. Re-registering a name replaces
// the previous handler.
func (m *Manager) RegisterJob(name string, handler Handler) error {
	return m.registry.Register(name, handler)
}

// ScheduleJob persists a new waiting record for the registered job name and
// returns its ID. Unknown names are rejected with ErrNotRegistered and
// nothing is persisted.
func (m *Manager) ScheduleJob(ctx context.Context, name, description string, payload Payload, opts ScheduleOptions) (string, error) {
	if _, ok := m.registry.Lookup(name); !ok {
		m.logger.Error("attempt to schedule non-registered job", "job", name)
		return "", fmt.Errorf("%w: %q", ErrNotRegistered, name)
	}
	opts = opts.withDefaults()

	raw, err := encodePayload(payload)
	if err != nil {
		return "", err
	}

	now := m.now()
	next := now.Add(opts.Delay)
	rec := &Record{
		Name:               name,
		Description:        description,
		Payload:            raw,
		State:              StateWaiting,
		ScheduledAt:        now,
		NextRetryAt:        &next,
		MaxAttempts:        opts.MaxAttempts,
		SecsBetweenRetries: seconds(opts.RetryInterval),
	}
	if err := m.store.Insert(ctx, rec); err != nil {
		return "", fmt.Errorf("job: schedule %q: %w", name, err)
	}

	m.logger.Info("job scheduled", "job", rec.Signature(), "id", rec.ID, "next_retry_at", next)
	return rec.ID, nil
}

// RescheduleJob puts an existing record back into the waiting state with a
// fresh attempt count. Returns ErrJobNotFound if the record does not exist.
func (m *Manager) RescheduleJob(ctx context.Context, id string, opts RescheduleOptions) error {
	rec, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}

	from := rec.State
	now := m.now()
	next := now.Add(max(opts.Delay, 0))
	rec.State = StateWaiting
	rec.ScheduledAt = now
	rec.NextRetryAt = &next
	rec.CompletedRuns = 0
	if opts.MaxAttempts > 0 {
		rec.MaxAttempts = opts.MaxAttempts
	}
	if opts.RetryInterval > 0 {
		rec.SecsBetweenRetries = seconds(opts.RetryInterval)
	}

	if err := m.store.Update(ctx, rec); err != nil {
		return fmt.Errorf("job: reschedule %s: %w", id, err)
	}
	m.logger.Info("job rescheduled", "job", rec.Signature(), "id", id)
	m.notify(rec, from, 0)
	return nil
}

// Process runs every due job once, in store order, and returns the joined
// persistence errors encountered on the way.
func (m *Manager) Process(ctx context.Context) error {
	var errs []error
	for err := range m.Steps(ctx) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Steps selects the due jobs and returns a sequence that runs them one at a
// time, yielding after each job. A nil value means the job was handled; a
// non-nil value is a persistence error for that job.
func (m *Manager) Steps(ctx context.Context) iter.Seq[error] {
	return func(yield func(error) bool) {
		due, err := m.store.Due(ctx, m.now())
		if err != nil {
			yield(fmt.Errorf("job: select due jobs: %w", err))
			return
		}
		for i := range due {
			if !yield(m.runJob(ctx, &due[i])) {
				return
			}
		}
	}
}

// runJob drives one due record through a single attempt. The selected copy
// may be stale by the time it runs, so the row is read again and claimed
// with a conditional write; records changed in between are skipped.
func (m *Manager) runJob(ctx context.Context, due *Record) error {
	now := m.now()
	rec, err := m.store.Get(ctx, due.ID)
	if errors.Is(err, ErrJobNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("job: reload %s: %w", due.ID, err)
	}
	if !isDue(rec, now) {
		m.logger.Debug("job changed since selection, skipped", "job", rec.Signature(), "id", rec.ID, "state", rec.State)
		return nil
	}

	handler, ok := m.registry.Lookup(rec.Name)
	if !ok {
		m.logger.Error("scheduled job is not registered", "job", rec.Name, "id", rec.ID)
		return m.fail(ctx, rec)
	}

	payload, err := decodePayload(rec.Payload)
	if err != nil {
		m.logger.Error("scheduled job has an unreadable payload", "job", rec.Signature(), "id", rec.ID, "error", err)
		return m.fail(ctx, rec)
	}

	rec, err = m.store.Claim(ctx, rec.ID, now)
	if errors.Is(err, ErrStateChanged) {
		m.logger.Debug("job changed since selection, skipped", "job", due.Signature(), "id", due.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("job: mark %s running: %w", due.ID, err)
	}
	attempt := rec.CompletedRuns + 1
	m.logger.Info("job started",
		"job", rec.Signature(),
		"id", rec.ID,
		"attempt", attempt,
		"max_attempts", rec.MaxAttempts,
	)
	m.notify(rec, StateWaiting, attempt)

	begin := time.Now()
	success := m.invoke(ctx, handler, rec, payload, attempt)
	elapsed := time.Since(begin)

	rec.CompletedRuns = attempt
	switch {
	case success:
		rec.State = StateDone
		rec.NextRetryAt = nil
		m.logger.Info("job finished successfully", "job", rec.Signature(), "id", rec.ID, "elapsed", elapsed)
	case attempt < rec.MaxAttempts:
		next := m.now().Add(time.Duration(rec.SecsBetweenRetries) * time.Second)
		rec.State = StateWaiting
		rec.NextRetryAt = &next
		m.logger.Info("job finished with error, retry scheduled",
			"job", rec.Signature(),
			"id", rec.ID,
			"attempt", attempt,
			"max_attempts", rec.MaxAttempts,
			"retry_in_secs", rec.SecsBetweenRetries,
		)
	default:
		rec.State = StateError
		rec.NextRetryAt = nil
		m.logger.Error("job finished with error, no more retries left",
			"job", rec.Signature(),
			"id", rec.ID,
			"attempts", attempt,
		)
	}

	if err := m.store.Finish(ctx, rec, StateRunning); err != nil {
		if errors.Is(err, ErrStateChanged) {
			m.logger.Warn("job changed while running, result discarded", "job", rec.Signature(), "id", rec.ID)
			return nil
		}
		return fmt.Errorf("job: record result of %s: %w", rec.ID, err)
	}
	m.notify(rec, StateRunning, attempt)
	return nil
}

func isDue(rec *Record, now time.Time) bool {
	return rec.State == StateWaiting && rec.NextRetryAt != nil && !rec.NextRetryAt.After(now)
}

// invoke calls the handler inside a span. A handler panic is not recovered.
func (m *Manager) invoke(ctx context.Context, h Handler, rec *Record, payload Payload, attempt int) bool {
	ctx, span := m.tracer.Start(ctx, "job.run", trace.WithAttributes(
		attribute.String("job.id", rec.ID),
		attribute.String("job.name", rec.Name),
		attribute.Int("job.attempt", attempt),
	))
	defer span.End()

	ok := h.Run(ctx, &Env{
		Manager: m,
		Logger:  m.logger.With("job", rec.Name, "id", rec.ID),
		JobID:   rec.ID,
		Attempt: attempt,
	}, payload)
	if !ok {
		span.SetStatus(codes.Error, "handler reported failure")
	}
	return ok
}

// fail moves a waiting rec straight to the error state without counting an
// attempt.
func (m *Manager) fail(ctx context.Context, rec *Record) error {
	rec.State = StateError
	rec.NextRetryAt = nil
	if err := m.store.Finish(ctx, rec, StateWaiting); err != nil {
		if errors.Is(err, ErrStateChanged) {
			return nil
		}
		return fmt.Errorf("job: mark %s as error: %w", rec.ID, err)
	}
	m.notify(rec, StateWaiting, 0)
	return nil
}

// CleanQueue deletes every finished (done or error) record and returns how
// many were removed.
func (m *Manager) CleanQueue(ctx context.Context) (int, error) {
	n, err := m.store.DeleteByState(ctx, StateDone, StateError)
	if err != nil {
		return 0, fmt.Errorf("job: clean queue: %w", err)
	}
	m.logger.Info("deleted finished jobs from queue", "count", n)
	return n, nil
}

// RecoverStranded moves records left in the running state by a crashed or
// panicking handler back to waiting, due immediately. completed_runs is left
// unchanged because the interrupted attempt never recorded a result.
func (m *Manager) RecoverStranded(ctx context.Context) (int, error) {
	stranded, err := m.store.ListByState(ctx, StateRunning)
	if err != nil {
		return 0, fmt.Errorf("job: list running jobs: %w", err)
	}

	recovered := 0
	for i := range stranded {
		rec := &stranded[i]
		now := m.now()
		rec.State = StateWaiting
		rec.NextRetryAt = &now
		if err := m.store.Update(ctx, rec); err != nil {
			m.logger.Error("failed to reset stranded job", "job", rec.Signature(), "id", rec.ID, "error", err)
			continue
		}
		m.logger.Warn("stranded running job reset to waiting", "job", rec.Signature(), "id", rec.ID)
		m.notify(rec, StateRunning, rec.CompletedRuns)
		recovered++
	}
	return recovered, nil
}

// Job returns the record with the given ID.
func (m *Manager) Job(ctx context.Context, id string) (*Record, error) {
	return m.store.Get(ctx, id)
}

// JobsByState returns every record in state.
func (m *Manager) JobsByState(ctx context.Context, state State) ([]Record, error) {
	recs, err := m.store.ListByState(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("job: list %s jobs: %w", state, err)
	}
	return recs, nil
}

// CountsByState returns the number of records in each state. Every state is
// present in the result, possibly with a zero count.
func (m *Manager) CountsByState(ctx context.Context) (map[State]int, error) {
	counts := make(map[State]int, len(States))
	for _, st := range States {
		recs, err := m.JobsByState(ctx, st)
		if err != nil {
			return nil, err
		}
		counts[st] = len(recs)
	}
	return counts, nil
}

func (m *Manager) notify(rec *Record, from State, attempt int) {
	if len(m.observers) == 0 {
		return
	}
	t := Transition{
		ID:      rec.ID,
		Name:    rec.Name,
		From:    from,
		To:      rec.State,
		Attempt: attempt,
		At:      m.now(),
	}
	for _, o := range m.observers {
		o.ObserveTransition(t)
	}
}

// seconds converts d to whole seconds, rounding up so that a positive
// interval never becomes zero.
func seconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}
