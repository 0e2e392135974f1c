package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestRedactor(t *testing.T) {
	t.Parallel()

	r := NewRedactor("s3cret", "")
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"nothing here", "nothing here"},
		{"token=s3cret!", "token=" + Placeholder + "!"},
		{"Authorization: Bearer abc.def-123", "Authorization: Bearer " + Placeholder},
		{"Basic YWRtaW46cGFzcw==", "Basic " + Placeholder},
		{"Basic auth disabled", "Basic auth disabled"},
	}
	for _, tt := range tests {
		if got := r.Redact(tt.in); got != tt.want {
			t.Errorf("Redact(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRedactingHandler_Text(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := New(&buf, false, slog.LevelDebug, NewRedactor("hunter2"))

	logger.With("component", "gateway", "token", "hunter2").
		WithGroup("req").
		Info("login hunter2",
			"error", errors.New("auth failed for hunter2"),
			slog.Group("auth", "pass", "hunter2"),
			"safe", "visible",
		)

	out := buf.String()
	if strings.Contains(out, "hunter2") {
		t.Errorf("secret leaked: %s", out)
	}
	if !strings.Contains(out, "visible") || !strings.Contains(out, "component=gateway") {
		t.Errorf("non-secret attributes missing: %s", out)
	}
}

func TestRedactingHandler_JSONAndLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := New(&buf, true, slog.LevelWarn, NewRedactor("k3y"))

	logger.Info("dropped k3y")
	logger.Warn("kept", "header", "k3y")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d records, want 1: %s", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec["header"] != Placeholder {
		t.Errorf("header = %v, want placeholder", rec["header"])
	}
}

func TestNew_WithoutRedactor(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	New(&buf, false, slog.LevelInfo, nil).Info("plain", "token", "abc")
	if !strings.Contains(buf.String(), "token=abc") {
		t.Errorf("output = %q", buf.String())
	}
}
