package app

import (
	"context"
	"os"
	"time"

	"github.com/flemzord/apmd/internal/cache"
	"github.com/flemzord/apmd/internal/job"
)

// Built-in job names.
const (
	JobNoop            = "noop"
	JobCleanQueue      = "clean_queue"
	JobCacheInvalidate = "cache_invalidate"
)

// Built-in cache builder names.
const (
	BuilderJobCounts  = "job_counts"
	BuilderJobErrors  = "job_errors"
	BuilderDaemonInfo = "daemon_info"
)

// DaemonInfo is the value built by the daemon_info builder.
type DaemonInfo struct {
	Version   string    `json:"version"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
}

func (rt *Runtime) registerHandlers() error {
	handlers := map[string]job.Handler{
		// noop succeeds when the payload's returnValue is true.
		JobNoop: job.HandlerFunc(func(_ context.Context, _ *job.Env, p job.Payload) bool {
			return p.Bool("returnValue")
		}),

		JobCleanQueue: job.HandlerFunc(func(ctx context.Context, env *job.Env, _ job.Payload) bool {
			n, err := env.Manager.CleanQueue(ctx)
			if err != nil {
				env.Logger.Error("clean queue failed", "error", err)
				return false
			}
			env.Logger.Info("queue cleaned", "deleted", n)
			return true
		}),

		// cache_invalidate drops payload["key"] so that the maintainer
		// rebuilds it on its next pass.
		JobCacheInvalidate: job.HandlerFunc(func(ctx context.Context, env *job.Env, p job.Payload) bool {
			key := p.String("key")
			if key == "" {
				env.Logger.Error("cache_invalidate requires a key")
				return false
			}
			if err := rt.Cache.Delete(ctx, key); err != nil {
				env.Logger.Error("cache invalidation failed", "key", key, "error", err)
				return false
			}
			return true
		}),
	}

	for name, h := range handlers {
		if err := rt.Manager.RegisterJob(name, h); err != nil {
			return err
		}
	}
	return nil
}

func (rt *Runtime) builders() map[string]cache.Builder {
	return map[string]cache.Builder{
		BuilderJobCounts: func(ctx context.Context) (any, error) {
			counts, err := rt.Manager.CountsByState(ctx)
			if err != nil {
				return nil, err
			}
			out := make(map[string]int, len(counts))
			for st, n := range counts {
				out[string(st)] = n
			}
			return out, nil
		},
		BuilderJobErrors: func(ctx context.Context) (any, error) {
			recs, err := rt.Manager.JobsByState(ctx, job.StateError)
			if err != nil {
				return nil, err
			}
			if recs == nil {
				recs = []job.Record{}
			}
			return recs, nil
		},
		BuilderDaemonInfo: func(context.Context) (any, error) {
			return DaemonInfo{Version: rt.version, PID: os.Getpid(), StartedAt: rt.startedAt}, nil
		},
	}
}
