package app

import (
	"context"
	"iter"
)

// cacheTask is the cache maintainer's computation: one pass over the
// configured items per run.
func (rt *Runtime) cacheTask(ctx context.Context) iter.Seq[error] {
	return rt.Maintainer.Steps(ctx)
}

// jobsTask is the job processor's computation. Each run first enqueues the
// recurring jobs that came due, then handles every due job, suspending after
// each one.
func (rt *Runtime) jobsTask(ctx context.Context) iter.Seq[error] {
	return func(yield func(error) bool) {
		if n, err := rt.Recurring.Enqueue(ctx); err != nil {
			if !yield(err) {
				return
			}
		} else if n > 0 {
			rt.Logger.Debug("recurring jobs enqueued", "count", n)
		}

		for err := range rt.Manager.Steps(ctx) {
			if !yield(err) {
				return
			}
		}
	}
}
