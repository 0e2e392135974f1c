// Package jobtest provides test doubles for the job package.
package jobtest

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/flemzord/apmd/internal/job"
	"github.com/google/uuid"
)

// Compile-time interface check.
var _ job.Store = (*Store)(nil)

// Store is an in-memory job.Store that returns records in insertion order.
// Error fields, when set, are returned by the matching method.
type Store struct {
	mu      sync.Mutex
	order   []string
	records map[string]job.Record

	InsertErr error
	UpdateErr error
	DueErr    error
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{records: make(map[string]job.Record)}
}

// Insert implements job.Store.
func (s *Store) Insert(_ context.Context, rec *job.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.InsertErr != nil {
		return s.InsertErr
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	s.order = append(s.order, rec.ID)
	s.records[rec.ID] = clone(*rec)
	return nil
}

// Update implements job.Store.
func (s *Store) Update(_ context.Context, rec *job.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.UpdateErr != nil {
		return s.UpdateErr
	}
	if _, ok := s.records[rec.ID]; !ok {
		return job.ErrJobNotFound
	}
	s.records[rec.ID] = clone(*rec)
	return nil
}

// Claim implements job.Store. It fails with UpdateErr when set.
func (s *Store) Claim(_ context.Context, id string, now time.Time) (*job.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.UpdateErr != nil {
		return nil, s.UpdateErr
	}
	rec, ok := s.records[id]
	if !ok || rec.State != job.StateWaiting || rec.NextRetryAt == nil || rec.NextRetryAt.After(now) {
		return nil, job.ErrStateChanged
	}
	rec.State = job.StateRunning
	rec.LastRunAt = &now
	s.records[id] = clone(rec)
	out := clone(rec)
	return &out, nil
}

// Finish implements job.Store. It fails with UpdateErr when set.
func (s *Store) Finish(_ context.Context, rec *job.Record, from job.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.UpdateErr != nil {
		return s.UpdateErr
	}
	cur, ok := s.records[rec.ID]
	if !ok || cur.State != from {
		return job.ErrStateChanged
	}
	cur.State = rec.State
	cur.NextRetryAt = rec.NextRetryAt
	cur.LastRunAt = rec.LastRunAt
	cur.CompletedRuns = rec.CompletedRuns
	s.records[rec.ID] = clone(cur)
	return nil
}

// Get implements job.Store.
func (s *Store) Get(_ context.Context, id string) (*job.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, job.ErrJobNotFound
	}
	out := clone(rec)
	return &out, nil
}

// Due implements job.Store.
func (s *Store) Due(_ context.Context, now time.Time) ([]job.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.DueErr != nil {
		return nil, s.DueErr
	}
	return s.filter(func(r job.Record) bool {
		return r.State == job.StateWaiting && r.NextRetryAt != nil && !r.NextRetryAt.After(now)
	}), nil
}

// ListByState implements job.Store.
func (s *Store) ListByState(_ context.Context, state job.State) ([]job.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.filter(func(r job.Record) bool { return r.State == state }), nil
}

// DeleteByState implements job.Store.
func (s *Store) DeleteByState(_ context.Context, states ...job.State) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	s.order = slices.DeleteFunc(s.order, func(id string) bool {
		if slices.Contains(states, s.records[id].State) {
			delete(s.records, id)
			n++
			return true
		}
		return false
	})
	return n, nil
}

// Put stores rec as-is, bypassing the job manager. Used to simulate stale or
// externally written rows.
func (s *Store) Put(rec job.Record) string {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.ID]; !exists {
		s.order = append(s.order, rec.ID)
	}
	s.records[rec.ID] = clone(rec)
	return rec.ID
}

// All returns every record in insertion order.
func (s *Store) All() []job.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter(func(job.Record) bool { return true })
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *Store) filter(keep func(job.Record) bool) []job.Record {
	var out []job.Record
	for _, id := range s.order {
		if r := s.records[id]; keep(r) {
			out = append(out, clone(r))
		}
	}
	return out
}

func clone(r job.Record) job.Record {
	r.Payload = slices.Clone(r.Payload)
	if r.NextRetryAt != nil {
		t := *r.NextRetryAt
		r.NextRetryAt = &t
	}
	if r.LastRunAt != nil {
		t := *r.LastRunAt
		r.LastRunAt = &t
	}
	return r
}
