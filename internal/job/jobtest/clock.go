package jobtest

import (
	"sync"
	"time"

	"github.com/flemzord/apmd/internal/job"
)

// Clock is a manually advanced clock for job.ManagerConfig.Now.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a Clock set to start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Recorder is a job.Observer that keeps every transition it sees.
type Recorder struct {
	mu          sync.Mutex
	transitions []job.Transition
}

// ObserveTransition implements job.Observer.
func (r *Recorder) ObserveTransition(t job.Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, t)
}

// Transitions returns a copy of the recorded transitions.
func (r *Recorder) Transitions() []job.Transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	dst := make([]job.Transition, len(r.transitions))
	copy(dst, r.transitions)
	return dst
}
