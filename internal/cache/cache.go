// Package cache keeps expensive shared cache entries populated. A Maintainer
// walks a fixed list of items, rebuilding the ones missing from the Store one
// step at a time so that it can be driven by a cooperative task.
package cache

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for cache configuration.
var (
	ErrEmptyKey  = errors.New("cache: empty key")
	ErrNoBuilder = errors.New("cache: item has no builder")
)

// Store is the backing cache. Get reports a miss with ok == false and a nil
// error. A non-positive ttl passed to Set means the entry does not expire.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Builder computes the value of a cache item.
type Builder func(ctx context.Context) (any, error)

// Item describes one cache entry and how to rebuild it when it is missing.
type Item struct {
	Key string
	TTL time.Duration

	// JSON selects JSON encoding. When false the value is gob encoded.
	JSON bool

	Builder Builder
}

func (it Item) validate() error {
	if it.Key == "" {
		return ErrEmptyKey
	}
	if it.Builder == nil {
		return ErrNoBuilder
	}
	return nil
}

// Outcome is the result of one rebuild attempt.
type Outcome string

// Rebuild outcomes.
const (
	OutcomeBuilt       Outcome = "built"
	OutcomeBuildFailed Outcome = "build_failed"
	OutcomeStoreFailed Outcome = "store_failed"
)

// Rebuild describes one rebuild attempt of a missing item.
type Rebuild struct {
	Key      string
	Outcome  Outcome
	Duration time.Duration
	Err      error
}

// Observer is notified of every rebuild attempt.
type Observer interface {
	ObserveRebuild(r Rebuild)
}
