// Package telemetry exposes Prometheus metrics for the daemon's tasks, jobs
// and cache rebuilds, and configures OpenTelemetry tracing.
package telemetry

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/flemzord/apmd/internal/cache"
	"github.com/flemzord/apmd/internal/job"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "apmd"

// Compile-time interface guards.
var (
	_ job.Observer   = (*Metrics)(nil)
	_ cache.Observer = (*Metrics)(nil)
)

// Metrics records daemon activity on a private Prometheus registry. It also
// keeps a few atomic totals for the status endpoint.
type Metrics struct {
	registry *prometheus.Registry

	jobTransitions *prometheus.CounterVec
	cacheRebuilds  *prometheus.CounterVec
	taskSlices     *prometheus.CounterVec
	taskErrors     *prometheus.CounterVec
	sliceDuration  *prometheus.HistogramVec

	jobsDone     atomic.Int64
	jobsFailed   atomic.Int64
	jobsRetried  atomic.Int64
	cacheBuilt   atomic.Int64
	cacheFailed  atomic.Int64
	slices       atomic.Int64
	sliceErrors  atomic.Int64
	totalLatency atomic.Int64 // nanoseconds
}

// NewMetrics creates the collectors and registers them, together with the
// Go runtime and process collectors, on a new registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_transitions_total",
			Help:      "Job record state transitions by job name and target state.",
		}, []string{"name", "state"}),
		cacheRebuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_rebuilds_total",
			Help:      "Cache rebuild attempts by key and outcome.",
		}, []string{"key", "outcome"}),
		taskSlices: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_slices_total",
			Help:      "Cooperative task slices run.",
		}, []string{"task"}),
		taskErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_errors_total",
			Help:      "Cooperative task slices that returned an error.",
		}, []string{"task"}),
		sliceDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_slice_duration_seconds",
			Help:      "Duration of cooperative task slices.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"task"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.jobTransitions,
		m.cacheRebuilds,
		m.taskSlices,
		m.taskErrors,
		m.sliceDuration,
	)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the /metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveTransition implements job.Observer.
func (m *Metrics) ObserveTransition(t job.Transition) {
	m.jobTransitions.WithLabelValues(t.Name, string(t.To)).Inc()
	if t.From != job.StateRunning {
		return
	}
	switch t.To {
	case job.StateDone:
		m.jobsDone.Add(1)
	case job.StateError:
		m.jobsFailed.Add(1)
	case job.StateWaiting:
		m.jobsRetried.Add(1)
	}
}

// ObserveRebuild implements cache.Observer.
func (m *Metrics) ObserveRebuild(r cache.Rebuild) {
	m.cacheRebuilds.WithLabelValues(r.Key, string(r.Outcome)).Inc()
	if r.Outcome == cache.OutcomeBuilt {
		m.cacheBuilt.Add(1)
	} else {
		m.cacheFailed.Add(1)
	}
}

// ObserveSlice implements daemon.SliceObserver.
func (m *Metrics) ObserveSlice(task string, elapsed time.Duration, err error) {
	m.taskSlices.WithLabelValues(task).Inc()
	m.sliceDuration.WithLabelValues(task).Observe(elapsed.Seconds())
	m.slices.Add(1)
	m.totalLatency.Add(int64(elapsed))
	if err != nil {
		m.taskErrors.WithLabelValues(task).Inc()
		m.sliceErrors.Add(1)
	}
}

// Snapshot returns a consistent point-in-time view of the totals.
func (m *Metrics) Snapshot() Snapshot {
	slices := m.slices.Load()
	snap := Snapshot{
		JobsDone:    m.jobsDone.Load(),
		JobsFailed:  m.jobsFailed.Load(),
		JobsRetried: m.jobsRetried.Load(),
		CacheBuilt:  m.cacheBuilt.Load(),
		CacheFailed: m.cacheFailed.Load(),
		Slices:      slices,
		SliceErrors: m.sliceErrors.Load(),
	}
	if slices > 0 {
		snap.AvgSlice = time.Duration(m.totalLatency.Load() / slices)
	}
	return snap
}

// Snapshot is a serializable point-in-time metrics view.
type Snapshot struct {
	JobsDone    int64         `json:"jobs_done"`
	JobsFailed  int64         `json:"jobs_failed"`
	JobsRetried int64         `json:"jobs_retried"`
	CacheBuilt  int64         `json:"cache_built"`
	CacheFailed int64         `json:"cache_failed"`
	Slices      int64         `json:"slices"`
	SliceErrors int64         `json:"slice_errors"`
	AvgSlice    time.Duration `json:"avg_slice_ns"`
}

