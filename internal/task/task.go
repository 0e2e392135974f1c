// Package task provides cooperative tasks: resumable computations that run
// one slice at a time on the caller's goroutine.
package task

import (
	"context"
	"errors"
	"fmt"
	"iter"
)

// ErrPanic wraps a panic recovered while running a slice.
var ErrPanic = errors.New("task: panic in slice")

// Factory produces a fresh computation. Every yield is a suspension point;
// a non-nil yielded error is reported by the Run call that reached it.
type Factory func(ctx context.Context) iter.Seq[error]

// Task gives uniform "run one slice" access to a resumable computation.
// A Task is not safe for concurrent use.
type Task struct {
	name    string
	factory Factory

	next     func() (error, bool)
	stop     func()
	runCount int
}

// New returns a Task that starts computations with factory.
func New(name string, factory Factory) *Task {
	return &Task{name: name, factory: factory}
}

// Name returns the task name.
func (t *Task) Name() string { return t.name }

// RunCount returns how many computations have been started.
func (t *Task) RunCount() int { return t.runCount }

// Active reports whether a suspended computation is waiting to be resumed.
func (t *Task) Active() bool { return t.next != nil }

// Run executes one slice. Without an active computation it starts a fresh
// one and gives it control immediately; otherwise it resumes the suspended
// one. A computation that ends is discarded so the next Run starts afresh.
// A panic is recovered and returned as an error wrapping ErrPanic; the
// computation is discarded as well.
func (t *Task) Run(ctx context.Context) (err error) {
	if t.next == nil {
		t.next, t.stop = iter.Pull(t.factory(ctx))
		t.runCount++
	}

	defer func() {
		if r := recover(); r != nil {
			t.reset()
			err = fmt.Errorf("%w: %s: %v", ErrPanic, t.name, r)
		}
	}()

	yerr, ok := t.next()
	if !ok {
		t.reset()
		return nil
	}
	return yerr
}

// Stop abandons the active computation, if any.
func (t *Task) Stop() {
	if t.stop != nil {
		t.stop()
	}
	t.reset()
}

func (t *Task) reset() {
	t.next = nil
	t.stop = nil
}
