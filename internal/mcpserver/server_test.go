package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/flemzord/apmd/internal/job"
	"github.com/flemzord/apmd/internal/job/jobtest"
	"github.com/mark3labs/mcp-go/mcp"
)

func newTestServer(t *testing.T) (*Server, *job.Manager) {
	t.Helper()

	m, err := job.NewManager(jobtest.NewStore(), job.NewRegistry(), job.ManagerConfig{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	err = m.RegisterJob("noop", job.HandlerFunc(func(_ context.Context, _ *job.Env, p job.Payload) bool {
		return p.Bool("returnValue")
	}))
	if err != nil {
		t.Fatalf("RegisterJob: %v", err)
	}
	return New(m, "test", slog.New(slog.NewTextHandler(io.Discard, nil))), m
}

func call(t *testing.T, s *Server, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()

	for _, tool := range s.Tools() {
		if tool.Tool.Name != name {
			continue
		}
		req := mcp.CallToolRequest{}
		req.Params.Name = name
		req.Params.Arguments = args
		res, err := tool.Handler(t.Context(), req)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		return res
	}
	t.Fatalf("tool %q not registered", name)
	return nil
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) != 1 {
		t.Fatalf("content = %+v, want one item", res.Content)
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content[0] = %T, want mcp.TextContent", res.Content[0])
	}
	return tc.Text
}

func TestTools_Names(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)
	var names []string
	for _, tool := range s.Tools() {
		names = append(names, tool.Tool.Name)
	}
	want := "job_counts,list_jobs,get_job,schedule_job,reschedule_job,clean_queue"
	if got := strings.Join(names, ","); got != want {
		t.Errorf("tools = %s, want %s", got, want)
	}
}

func TestScheduleAndList(t *testing.T) {
	t.Parallel()

	s, m := newTestServer(t)
	res := call(t, s, "schedule_job", map[string]any{
		"name":         "noop",
		"description":  "from mcp",
		"payload":      map[string]any{"returnValue": true},
		"max_attempts": float64(3),
	})
	if res.IsError {
		t.Fatalf("schedule_job failed: %s", text(t, res))
	}
	id := text(t, res)

	rec, err := m.Job(t.Context(), id)
	if err != nil {
		t.Fatalf("Job: %v", err)
	}
	if rec.Description != "from mcp" || rec.MaxAttempts != 3 {
		t.Errorf("rec = %+v", rec)
	}

	var jobs []job.Record
	if err := json.Unmarshal([]byte(text(t, call(t, s, "list_jobs", map[string]any{"state": "waiting"}))), &jobs); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != id {
		t.Errorf("jobs = %+v", jobs)
	}
}

func TestScheduleUnknownJob(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)
	res := call(t, s, "schedule_job", map[string]any{"name": "missing"})
	if !res.IsError {
		t.Error("expected tool error for unregistered job")
	}
}

func TestScheduleRequiresName(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)
	if res := call(t, s, "schedule_job", map[string]any{}); !res.IsError {
		t.Error("expected tool error without name")
	}
}

func TestListJobs_BadState(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)
	if res := call(t, s, "list_jobs", map[string]any{"state": "paused"}); !res.IsError {
		t.Error("expected tool error for unknown state")
	}
}

func TestJobCounts(t *testing.T) {
	t.Parallel()

	s, m := newTestServer(t)
	if _, err := m.ScheduleJob(t.Context(), "noop", "", job.Payload{"returnValue": false}, job.ScheduleOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := m.Process(t.Context()); err != nil {
		t.Fatal(err)
	}

	var counts map[string]int
	if err := json.Unmarshal([]byte(text(t, call(t, s, "job_counts", nil))), &counts); err != nil {
		t.Fatalf("decode counts: %v", err)
	}
	if counts["error"] != 1 || counts["waiting"] != 0 {
		t.Errorf("counts = %v", counts)
	}
}

func TestRescheduleAndClean(t *testing.T) {
	t.Parallel()

	s, m := newTestServer(t)
	id, err := m.ScheduleJob(t.Context(), "noop", "", job.Payload{"returnValue": false}, job.ScheduleOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Process(t.Context()); err != nil {
		t.Fatal(err)
	}

	if res := call(t, s, "reschedule_job", map[string]any{"id": id}); res.IsError {
		t.Fatalf("reschedule_job failed: %s", text(t, res))
	}
	rec, _ := m.Job(t.Context(), id)
	if rec.State != job.StateWaiting {
		t.Errorf("State = %s, want waiting", rec.State)
	}

	if res := call(t, s, "reschedule_job", map[string]any{"id": "missing"}); !res.IsError {
		t.Error("expected tool error for unknown id")
	}

	if err := m.Process(t.Context()); err != nil {
		t.Fatal(err)
	}
	if got := text(t, call(t, s, "clean_queue", nil)); got != "1 jobs deleted" {
		t.Errorf("clean_queue = %q", got)
	}
}

func TestGetJob(t *testing.T) {
	t.Parallel()

	s, m := newTestServer(t)
	id, err := m.ScheduleJob(t.Context(), "noop", "", nil, job.ScheduleOptions{})
	if err != nil {
		t.Fatal(err)
	}

	var rec job.Record
	if err := json.Unmarshal([]byte(text(t, call(t, s, "get_job", map[string]any{"id": id}))), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.ID != id {
		t.Errorf("ID = %q, want %q", rec.ID, id)
	}
	if res := call(t, s, "get_job", map[string]any{"id": "nope"}); !res.IsError {
		t.Error("expected tool error for unknown id")
	}
}
