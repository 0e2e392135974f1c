package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/flemzord/apmd/internal/config"
	"github.com/flemzord/apmd/internal/daemon"
	"github.com/flemzord/apmd/internal/job"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func testConfig(t *testing.T, mutate func(*config.Config)) *config.Config {
	t.Helper()
	cfg := &config.Config{Version: "1"}
	if mutate != nil {
		mutate(cfg)
	}
	cfg.Defaults(t.TempDir())
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return cfg
}

func openRuntime(t *testing.T, mutate func(*config.Config)) *Runtime {
	t.Helper()
	rt, err := Open(t.Context(), testConfig(t, mutate), "test", discardLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

// drain runs a task computation to completion and returns its errors.
func drain(seq iter.Seq[error]) []error {
	var errs []error
	for err := range seq {
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func TestResolveConfigPath_XDGConfigHome(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "apmd", "apmd.yaml")
	writeFile(t, cfgPath, "version: \"1\"")

	t.Setenv("XDG_CONFIG_HOME", dir)

	got, err := ResolveConfigPath()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != cfgPath {
		t.Errorf("got %q, want %q", got, cfgPath)
	}
}

func TestResolveConfigPath_NotFound(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/nonexistent/path")
	t.Chdir(t.TempDir())

	if _, err := ResolveConfigPath(); err == nil {
		t.Error("expected error when no config file found")
	}
}

func TestResolveConfigPath_WorkingDirectory(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/nonexistent/path")
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "apmd.yaml"), "version: \"1\"")
	t.Chdir(dir)

	got, err := ResolveConfigPath()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "apmd.yaml" {
		t.Errorf("got %q, want apmd.yaml", got)
	}
}

func TestDefaultDataDir_XDGDataHome(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/custom/data")
	if got, want := DefaultDataDir(), "/custom/data/apmd"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestDefaultDataDir_Fallback(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "")
	_ = os.Unsetenv("XDG_DATA_HOME")

	home, _ := os.UserHomeDir()
	if got, want := DefaultDataDir(), filepath.Join(home, ".local", "share", "apmd"); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, err := NewLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info record should be filtered at warn level")
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &rec); err != nil {
		t.Fatalf("output is not JSON: %q", out)
	}
	if rec["msg"] != "shown" || rec["k"] != "v" {
		t.Errorf("record = %v", rec)
	}

	buf.Reset()
	logger, _ = NewLogger(config.LogConfig{}, &buf, "tok-123")
	logger.Error("request failed", "header", "Bearer tok-123")
	if strings.Contains(buf.String(), "tok-123") {
		t.Errorf("secret leaked: %s", buf.String())
	}

	if _, err := NewLogger(config.LogConfig{Level: "chatty"}, &buf); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestSecrets(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.Gateway.Auth.BearerToken = "tok"
	cfg.Telemetry.Tracing.Headers = map[string]string{"x-api-key": "hdr"}

	got := strings.Join(Secrets(cfg), ",")
	if !strings.Contains(got, "tok") || !strings.Contains(got, "hdr") {
		t.Errorf("Secrets = %q", got)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "apmd.yaml")
	writeFile(t, path, "version: \"1\"\n")

	cfg, got, err := LoadConfig(path, filepath.Join(dir, "data"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got != path {
		t.Errorf("path = %q, want %q", got, path)
	}
	if cfg.Database.Path != filepath.Join(dir, "data", "apmd.db") {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "apmd.yaml")
	writeFile(t, path, "version: \"1\"\ncache:\n  backend: redis\n")

	if _, _, err := LoadConfig(path, t.TempDir()); err == nil {
		t.Error("expected validation error")
	}
}

func TestOpen_RegistersBuiltins(t *testing.T) {
	t.Parallel()

	rt := openRuntime(t, nil)
	got := strings.Join(rt.Manager.Registry().Names(), ",")
	for _, name := range []string{JobNoop, JobCleanQueue, JobCacheInvalidate} {
		if !strings.Contains(got, name) {
			t.Errorf("registered jobs %q missing %q", got, name)
		}
	}
	if rt.Metrics == nil {
		t.Error("metrics should be enabled by default")
	}
	if rt.Events != nil {
		t.Error("event hub should not exist without a gateway")
	}
}

func TestOpen_UnknownBuilder(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, func(c *config.Config) {
		c.Cache.Items = []config.CacheItemConfig{{Key: "k", Builder: "nope"}}
	})
	if _, err := Open(t.Context(), cfg, "test", discardLogger()); err == nil {
		t.Error("expected error for unknown builder")
	}
}

func TestOpen_UnknownRecurringJob(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, func(c *config.Config) {
		c.Jobs.Recurring = []config.RecurringConfig{{Name: "missing", Schedule: "* * * * *"}}
	})
	if _, err := Open(t.Context(), cfg, "test", discardLogger()); err == nil {
		t.Error("expected error for unregistered recurring job")
	}
}

func TestCacheTask_BuildsConfiguredItems(t *testing.T) {
	t.Parallel()

	for _, backend := range []string{config.CacheBackendSQLite, config.CacheBackendMemory} {
		t.Run(backend, func(t *testing.T) {
			t.Parallel()

			rt := openRuntime(t, func(c *config.Config) {
				c.Cache.Backend = backend
				c.Cache.Items = []config.CacheItemConfig{
					{Key: "counts", JSON: true, Builder: BuilderJobCounts},
					{Key: "errors", JSON: true, Builder: BuilderJobErrors},
					{Key: "info", Builder: BuilderDaemonInfo},
				}
			})
			if _, err := rt.Manager.ScheduleJob(t.Context(), JobNoop, "", nil, job.ScheduleOptions{}); err != nil {
				t.Fatal(err)
			}

			if errs := drain(rt.cacheTask(t.Context())); len(errs) > 0 {
				t.Fatalf("cache pass errors: %v", errs)
			}

			raw, ok, err := rt.Cache.Get(t.Context(), "counts")
			if err != nil || !ok {
				t.Fatalf("Get(counts) = ok %v, err %v", ok, err)
			}
			var counts map[string]int
			if err := json.Unmarshal(raw, &counts); err != nil {
				t.Fatalf("decode counts: %v", err)
			}
			if counts["waiting"] != 1 {
				t.Errorf("counts = %v", counts)
			}

			raw, ok, _ = rt.Cache.Get(t.Context(), "errors")
			if !ok || string(raw) != "[]" {
				t.Errorf("errors entry = %q (ok %v), want []", raw, ok)
			}
			if _, ok, _ := rt.Cache.Get(t.Context(), "info"); !ok {
				t.Error("daemon info entry missing")
			}
		})
	}
}

func TestJobsTask_RunsDueJobs(t *testing.T) {
	t.Parallel()

	rt := openRuntime(t, nil)
	ok, err := rt.Manager.ScheduleJob(t.Context(), JobNoop, "", job.Payload{"returnValue": true}, job.ScheduleOptions{})
	if err != nil {
		t.Fatal(err)
	}
	bad, err := rt.Manager.ScheduleJob(t.Context(), JobNoop, "", job.Payload{"returnValue": false}, job.ScheduleOptions{})
	if err != nil {
		t.Fatal(err)
	}

	next, stop := iter.Pull(rt.jobsTask(t.Context()))
	defer stop()

	// One suspension per due job.
	for i := range 2 {
		if err, more := next(); !more || err != nil {
			t.Fatalf("slice %d: err %v, more %v", i, err, more)
		}
	}
	if _, more := next(); more {
		t.Error("expected the pass to end after two jobs")
	}

	for id, want := range map[string]job.State{ok: job.StateDone, bad: job.StateError} {
		rec, err := rt.Manager.Job(t.Context(), id)
		if err != nil {
			t.Fatal(err)
		}
		if rec.State != want {
			t.Errorf("job %s state = %s, want %s", id, rec.State, want)
		}
	}
	if snap := rt.Metrics.Snapshot(); snap.JobsDone != 1 || snap.JobsFailed != 1 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestBuiltin_CleanQueue(t *testing.T) {
	t.Parallel()

	rt := openRuntime(t, nil)
	if _, err := rt.Manager.ScheduleJob(t.Context(), JobNoop, "", job.Payload{"returnValue": true}, job.ScheduleOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := rt.Manager.Process(t.Context()); err != nil {
		t.Fatal(err)
	}
	if _, err := rt.Manager.ScheduleJob(t.Context(), JobCleanQueue, "", nil, job.ScheduleOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := rt.Manager.Process(t.Context()); err != nil {
		t.Fatal(err)
	}

	counts, err := rt.Manager.CountsByState(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	// The first noop is gone; the clean_queue job itself finished after
	// the deletion.
	if counts[job.StateDone] != 1 {
		t.Errorf("counts = %v, want only the clean_queue record left", counts)
	}
}

func TestBuiltin_CacheInvalidate(t *testing.T) {
	t.Parallel()

	rt := openRuntime(t, func(c *config.Config) {
		c.Cache.Items = []config.CacheItemConfig{{Key: "counts", JSON: true, Builder: BuilderJobCounts}}
	})
	if err := rt.Maintainer.Pass(t.Context()); err != nil {
		t.Fatal(err)
	}

	id, err := rt.Manager.ScheduleJob(t.Context(), JobCacheInvalidate, "", job.Payload{"key": "counts"}, job.ScheduleOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if err := rt.Manager.Process(t.Context()); err != nil {
		t.Fatal(err)
	}

	if rec, _ := rt.Manager.Job(t.Context(), id); rec.State != job.StateDone {
		t.Errorf("state = %s, want done", rec.State)
	}
	if _, ok, _ := rt.Cache.Get(t.Context(), "counts"); ok {
		t.Error("entry should have been invalidated")
	}

	// A missing key fails the job.
	id, err = rt.Manager.ScheduleJob(t.Context(), JobCacheInvalidate, "", nil, job.ScheduleOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if err := rt.Manager.Process(t.Context()); err != nil {
		t.Fatal(err)
	}
	if rec, _ := rt.Manager.Job(t.Context(), id); rec.State != job.StateError {
		t.Errorf("state = %s, want error", rec.State)
	}
}

func TestRun_InvalidConfigPath(t *testing.T) {
	t.Parallel()

	if err := Run(t.Context(), RunParams{ConfigPath: "/nonexistent/config.yaml"}); err == nil {
		t.Error("expected error for invalid config path")
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "apmd.yaml")
	writeFile(t, path, `version: "1"
daemon:
  quantum: 10ms
  recover_stranded: true
cache:
  items:
    - key: info
      builder: daemon_info
`)

	ctx, cancel := context.WithTimeout(t.Context(), 300*time.Millisecond)
	defer cancel()

	var logs bytes.Buffer
	err := Run(ctx, RunParams{
		ConfigPath: path,
		DataDir:    dir,
		Version:    "test",
		LogOutput:  &syncWriter{w: &logs},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if _, err := daemon.ReadPIDFile(filepath.Join(dir, "apmd.pid")); err == nil {
		t.Error("pid file should be removed on shutdown")
	}
	if !strings.Contains(logs.String(), "shutdown complete") {
		t.Errorf("logs missing shutdown line:\n%s", logs.String())
	}
}
