// Package job implements the persistent, retryable job queue processed by the
// apmd daemon: handler registration, scheduling, the per-record retry state
// machine and queue maintenance.
package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Sentinel errors for job queue operations.
var (
	ErrEmptyName     = errors.New("job: empty name given")
	ErrNilHandler    = errors.New("job: nil handler")
	ErrNotRegistered = errors.New("job: job is not registered")
	ErrJobNotFound   = errors.New("job: job not found")

	// ErrStateChanged is returned by conditional store writes when the
	// stored row no longer matches the expected state.
	ErrStateChanged = errors.New("job: job state changed")
)

// State is the lifecycle state of a persisted job record.
type State string

// Job record states. Waiting, Done and Error are stable; Running only lasts
// for the duration of a single processing pass.
const (
	StateWaiting State = "waiting"
	StateRunning State = "running"
	StateDone    State = "done"
	StateError   State = "error"
)

// States lists every state in reporting order.
var States = []State{StateWaiting, StateRunning, StateDone, StateError}

// ParseState converts s into a State.
func ParseState(s string) (State, error) {
	for _, st := range States {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("job: invalid state %q", s)
}

// Finished reports whether s is terminal.
func (s State) Finished() bool {
	return s == StateDone || s == StateError
}

// Record is one scheduled unit of work together with its retry bookkeeping.
type Record struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name"`
	Description        string          `json:"description,omitempty"`
	Payload            json.RawMessage `json:"payload"`
	State              State           `json:"state"`
	ScheduledAt        time.Time       `json:"scheduled_at"`
	NextRetryAt        *time.Time      `json:"next_retry_at,omitempty"`
	LastRunAt          *time.Time      `json:"last_run_at,omitempty"`
	CompletedRuns      int             `json:"completed_runs"`
	MaxAttempts        int             `json:"max_attempts"`
	SecsBetweenRetries int             `json:"secs_between_retries"`
}

// Signature returns the name used to identify the job in logs: the job name,
// followed by its description when there is one.
func (r *Record) Signature() string {
	if r.Description == "" {
		return r.Name
	}
	return r.Name + " " + r.Description
}

// Payload is the decoded job payload handed to a Handler.
type Payload map[string]any

// Bool returns the boolean stored under key, or false.
func (p Payload) Bool(key string) bool {
	v, _ := p[key].(bool)
	return v
}

// String returns the string stored under key, or "".
func (p Payload) String(key string) string {
	v, _ := p[key].(string)
	return v
}

func encodePayload(p Payload) (json.RawMessage, error) {
	if p == nil {
		return json.RawMessage("{}"), nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("job: encode payload: %w", err)
	}
	return raw, nil
}

func decodePayload(raw json.RawMessage) (Payload, error) {
	p := Payload{}
	if len(raw) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("job: decode payload: %w", err)
	}
	return p, nil
}

// Env is the execution context handed to a handler for one attempt.
type Env struct {
	Manager *Manager
	Logger  *slog.Logger
	JobID   string
	Attempt int
}

// Handler executes one kind of job. Run reports success with true; false
// means the attempt failed and the job is retried while attempts remain.
// Handlers are not expected to panic: a panic leaves the record in the
// running state.
type Handler interface {
	Run(ctx context.Context, env *Env, payload Payload) bool
}

// HandlerFunc adapts an ordinary function to a Handler.
type HandlerFunc func(ctx context.Context, env *Env, payload Payload) bool

// Run implements Handler.
func (f HandlerFunc) Run(ctx context.Context, env *Env, payload Payload) bool {
	return f(ctx, env, payload)
}

// Store persists job records. Implementations do not need to be safe for
// concurrent use beyond what the daemon and its admin surfaces require.
type Store interface {
	// Insert persists a new record, generating its ID when empty.
	Insert(ctx context.Context, rec *Record) error

	// Update replaces the persisted row with the same ID.
	// Returns ErrJobNotFound when no such row exists.
	Update(ctx context.Context, rec *Record) error

	// Claim moves the record to running and sets last_run_at to now, provided
	// it is still waiting with next_retry_at at or before now. It returns the
	// stored record after the change, or ErrStateChanged when the row is no
	// longer claimable or no longer exists.
	Claim(ctx context.Context, id string, now time.Time) (*Record, error)

	// Finish writes the outcome columns of rec (state, next_retry_at,
	// last_run_at, completed_runs) provided the stored row is still in state
	// from. Other columns are left untouched. Returns ErrStateChanged
	// otherwise.
	Finish(ctx context.Context, rec *Record, from State) error

	// Get returns the record with the given ID or ErrJobNotFound.
	Get(ctx context.Context, id string) (*Record, error)

	// Due returns the waiting records whose next_retry_at is at or before now.
	Due(ctx context.Context, now time.Time) ([]Record, error)

	// ListByState returns every record in the given state.
	ListByState(ctx context.Context, state State) ([]Record, error)

	// DeleteByState removes every record in any of the given states and
	// returns how many were removed.
	DeleteByState(ctx context.Context, states ...State) (int, error)
}

// Transition describes one state change of a job record.
type Transition struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	From    State     `json:"from"`
	To      State     `json:"to"`
	Attempt int       `json:"attempt"`
	At      time.Time `json:"at"`
}

// Observer is notified of every job state transition.
type Observer interface {
	ObserveTransition(t Transition)
}
