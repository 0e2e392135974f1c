package core

import (
	"context"
	"errors"
	"slices"
	"testing"
)

type trackingService struct {
	name     string
	log      *[]string
	startErr error
	validErr error
}

func (s *trackingService) Validate() error { return s.validErr }

func (s *trackingService) Start() error {
	*s.log = append(*s.log, "start "+s.name)
	return s.startErr
}

func (s *trackingService) Stop(context.Context) error {
	*s.log = append(*s.log, "stop "+s.name)
	return nil
}

// stopOnly has no Start and must still be stopped.
type stopOnly struct {
	log *[]string
}

func (s stopOnly) Stop(context.Context) error {
	*s.log = append(*s.log, "stop db")
	return nil
}

func TestApp_StartStopOrder(t *testing.T) {
	t.Parallel()

	var log []string
	app := NewApp(nil)
	app.Add("db", stopOnly{log: &log})
	app.Add("a", &trackingService{name: "a", log: &log})
	app.Add("b", &trackingService{name: "b", log: &log})

	if err := app.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	app.Stop()

	want := []string{"start a", "start b", "stop b", "stop a", "stop db"}
	if !slices.Equal(log, want) {
		t.Errorf("log = %v, want %v", log, want)
	}
	if !slices.Equal(app.Names(), []string{"db", "a", "b"}) {
		t.Errorf("Names = %v", app.Names())
	}
}

func TestApp_StartFailureStopsStarted(t *testing.T) {
	t.Parallel()

	var log []string
	app := NewApp(nil)
	app.Add("a", &trackingService{name: "a", log: &log})
	app.Add("b", &trackingService{name: "b", log: &log, startErr: errors.New("boom")})
	app.Add("c", &trackingService{name: "c", log: &log})

	if err := app.Start(); err == nil {
		t.Fatal("expected start error")
	}

	want := []string{"start a", "start b", "stop a"}
	if !slices.Equal(log, want) {
		t.Errorf("log = %v, want %v", log, want)
	}

	// A second Stop is a no-op.
	app.Stop()
	if len(log) != len(want) {
		t.Errorf("log after Stop = %v", log)
	}
}

func TestApp_Validate(t *testing.T) {
	t.Parallel()

	var log []string
	app := NewApp(nil)
	app.Add("ok", &trackingService{name: "ok", log: &log})
	app.Add("bad", &trackingService{name: "bad", log: &log, validErr: errors.New("bad bind")})

	err := app.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	if got := err.Error(); got != "validating bad: bad bind" {
		t.Errorf("err = %q", got)
	}
}
