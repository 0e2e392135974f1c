package job_test

import (
	"errors"
	"testing"
	"time"

	"github.com/flemzord/apmd/internal/job"
)

func TestNewRecurring_Validation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := job.NewRecurring(f.manager, []job.RecurringEntry{
		{Name: "ghost", Schedule: "* * * * *"},
		{Name: "noop", Schedule: "not a schedule"},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, job.ErrNotRegistered) {
		t.Errorf("err = %v, want it to wrap ErrNotRegistered", err)
	}
}

func TestRecurring_EnqueueOnSchedule(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	r, err := job.NewRecurring(f.manager, []job.RecurringEntry{{
		Name:        "noop",
		Description: "every minute",
		Schedule:    "* * * * *",
		Payload:     job.Payload{"returnValue": true},
	}})
	if err != nil {
		t.Fatalf("NewRecurring: %v", err)
	}
	if next := r.Next()["noop"]; !next.Equal(epoch.Add(time.Minute)) {
		t.Fatalf("next = %v, want %v", next, epoch.Add(time.Minute))
	}

	n, err := r.Enqueue(t.Context())
	if err != nil || n != 0 {
		t.Fatalf("Enqueue before due = %d, %v; want 0, nil", n, err)
	}

	f.clock.Advance(time.Minute)
	n, err = r.Enqueue(t.Context())
	if err != nil || n != 1 {
		t.Fatalf("Enqueue when due = %d, %v; want 1, nil", n, err)
	}
	if next := r.Next()["noop"]; !next.Equal(epoch.Add(2 * time.Minute)) {
		t.Errorf("next = %v, want %v", next, epoch.Add(2*time.Minute))
	}

	// Several missed fire times collapse into one job.
	f.clock.Advance(5 * time.Minute)
	n, _ = r.Enqueue(t.Context())
	if n != 1 {
		t.Errorf("Enqueue after gap = %d, want 1", n)
	}

	waiting, _ := f.manager.JobsByState(t.Context(), job.StateWaiting)
	if len(waiting) != 2 {
		t.Fatalf("waiting = %d, want 2", len(waiting))
	}
	if waiting[0].Description != "every minute" {
		t.Errorf("description = %q", waiting[0].Description)
	}
}
