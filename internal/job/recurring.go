package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// RecurringEntry describes a job that is scheduled on a cron expression.
type RecurringEntry struct {
	Name        string
	Description string

	// Schedule is a 5-field cron expression (e.g., "0 3 * * *").
	Schedule string

	Payload Payload
	Options ScheduleOptions
}

type recurringState struct {
	entry    RecurringEntry
	schedule cron.Schedule
	next     time.Time
}

// Recurring enqueues jobs whose cron schedule has come due. It keeps no
// persistent state: fire times are computed from the moment it is created.
type Recurring struct {
	manager *Manager
	entries []recurringState
	logger  *slog.Logger
}

// NewRecurring parses the entries' schedules. Every entry must name a job
// registered with m.
func NewRecurring(m *Manager, entries []RecurringEntry) (*Recurring, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	now := m.now()

	r := &Recurring{
		manager: m,
		logger:  m.logger.With("component", "job.recurring"),
	}

	var errs []error
	for _, e := range entries {
		if _, ok := m.registry.Lookup(e.Name); !ok {
			errs = append(errs, fmt.Errorf("%w: recurring job %q", ErrNotRegistered, e.Name))
			continue
		}
		sched, err := parser.Parse(e.Schedule)
		if err != nil {
			errs = append(errs, fmt.Errorf("job: invalid schedule for recurring job %q: %w", e.Name, err))
			continue
		}
		r.entries = append(r.entries, recurringState{
			entry:    e,
			schedule: sched,
			next:     sched.Next(now),
		})
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return r, nil
}

// Enqueue schedules every entry whose fire time has passed and returns how
// many jobs were scheduled. A fire time missed several times over results in
// a single job.
func (r *Recurring) Enqueue(ctx context.Context) (int, error) {
	now := r.manager.now()

	var (
		scheduled int
		errs      []error
	)
	for i := range r.entries {
		st := &r.entries[i]
		if st.next.After(now) {
			continue
		}
		st.next = st.schedule.Next(now)

		e := st.entry
		if _, err := r.manager.ScheduleJob(ctx, e.Name, e.Description, e.Payload, e.Options); err != nil {
			errs = append(errs, err)
			continue
		}
		scheduled++
		r.logger.Debug("recurring job enqueued", "job", e.Name, "next", st.next)
	}
	return scheduled, errors.Join(errs...)
}

// Next returns the next fire time of each entry, keyed by job name.
func (r *Recurring) Next() map[string]time.Time {
	out := make(map[string]time.Time, len(r.entries))
	for _, st := range r.entries {
		out[st.entry.Name] = st.next
	}
	return out
}
