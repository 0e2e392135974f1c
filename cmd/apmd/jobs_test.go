package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/flemzord/apmd/internal/job"
	"github.com/flemzord/apmd/internal/job/jobtest"
	"github.com/flemzord/apmd/pkg/app"
)

func TestQueueInfo(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		counts map[job.State]int
		want   string
	}{
		{
			name:   "empty",
			counts: map[job.State]int{job.StateWaiting: 0},
			want:   "The job queue is empty",
		},
		{
			name:   "all finished",
			counts: map[job.State]int{job.StateDone: 3, job.StateError: 1},
			want:   "There are 4 jobs in the queue, all finished: 3 successfully, 1 with error",
		},
		{
			name: "pending",
			counts: map[job.State]int{
				job.StateWaiting: 2, job.StateRunning: 1, job.StateDone: 4, job.StateError: 0,
			},
			want: "There are 7 jobs in the queue: 1 running, 2 waiting, 4 finished successfully, 0 finished with error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := queueInfo(tt.counts); got != tt.want {
				t.Errorf("queueInfo() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStatesFor(t *testing.T) {
	t.Parallel()

	all, err := statesFor("all")
	if err != nil || len(all) != len(job.States) {
		t.Errorf("statesFor(all) = %v, %v", all, err)
	}
	one, err := statesFor("error")
	if err != nil || len(one) != 1 || one[0] != job.StateError {
		t.Errorf("statesFor(error) = %v, %v", one, err)
	}
	if _, err := statesFor("paused"); err == nil {
		t.Error("expected error for unknown state")
	}
}

func TestPrintJobs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	printJobs(&buf, job.StateDone, nil)
	if got := buf.String(); got != "done, 0 job(s)\n" {
		t.Errorf("empty listing = %q", got)
	}

	buf.Reset()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	printJobs(&buf, job.StateError, []job.Record{{
		ID: "abc", Name: "noop", Description: "No. 1", State: job.StateError,
		ScheduledAt: at, LastRunAt: &at, CompletedRuns: 2, MaxAttempts: 2,
	}})
	want := "error, 1 job(s):\n   abc: error\tnoop, No. 1, scheduled at 2026-03-01 10:00:00, attempts 2/2, last run at 2026-03-01 10:00:00\n"
	if got := buf.String(); got != want {
		t.Errorf("listing =\n%q\nwant\n%q", got, want)
	}
}

type fakeRescheduler struct {
	known map[string]bool
	calls []string
}

func (f *fakeRescheduler) RescheduleJob(_ context.Context, id string, _ job.RescheduleOptions) error {
	f.calls = append(f.calls, id)
	if !f.known[id] {
		return job.ErrJobNotFound
	}
	return nil
}

func TestRescheduleJobs(t *testing.T) {
	t.Parallel()

	f := &fakeRescheduler{known: map[string]bool{"a": true, "c": true}}
	var buf bytes.Buffer
	err := rescheduleJobs(t.Context(), f, &buf, []string{"a", "b", "c"})

	if err == nil || !strings.Contains(err.Error(), "job b does not exist") {
		t.Errorf("err = %v, want missing job b", err)
	}
	if len(f.calls) != 3 {
		t.Errorf("calls = %v, want every id attempted", f.calls)
	}
	want := "Job a rescheduled successfully\nJob c rescheduled successfully\n"
	if buf.String() != want {
		t.Errorf("output = %q, want %q", buf.String(), want)
	}
}

func TestScheduleTestJobs(t *testing.T) {
	t.Parallel()

	store := jobtest.NewStore()
	m, err := job.NewManager(store, job.NewRegistry(), job.ManagerConfig{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.RegisterJob(app.JobNoop, job.HandlerFunc(func(context.Context, *job.Env, job.Payload) bool { return true })); err != nil {
		t.Fatal(err)
	}

	ids, err := scheduleTestJobs(t.Context(), m)
	if err != nil {
		t.Fatalf("scheduleTestJobs: %v", err)
	}
	if len(ids) != numTestJobs {
		t.Fatalf("got %d ids, want %d", len(ids), numTestJobs)
	}

	for i, rec := range store.All() {
		if rec.Description != "No. "+string(rune('0'+i)) {
			t.Errorf("job %d description = %q", i, rec.Description)
		}
		if rec.MaxAttempts != i+1 || rec.SecsBetweenRetries != 4*(i+1) {
			t.Errorf("job %d attempts %d retry %d", i, rec.MaxAttempts, rec.SecsBetweenRetries)
		}
		if got := rec.NextRetryAt.Sub(rec.ScheduledAt); got != time.Duration(i)*time.Second {
			t.Errorf("job %d delay = %v", i, got)
		}
	}
}
