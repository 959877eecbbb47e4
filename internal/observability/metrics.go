// Package observability exposes Prometheus metrics for the engine and
// the workflow substrate.
package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"renderflow/pkg/core"
)

// Metrics holds the task-level collectors.
type Metrics struct {
	registry *prometheus.Registry

	tasksSubmitted prometheus.Counter
	tasksCompleted prometheus.Counter
	tasksCanceled  prometheus.Counter
	tasksFailed    *prometheus.CounterVec
	taskDuration   prometheus.Histogram
}

// NewMetrics registers the collectors on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		tasksSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "renderflow_tasks_submitted_total",
			Help: "Generation tasks accepted by the engine.",
		}),
		tasksCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "renderflow_tasks_completed_total",
			Help: "Generation tasks that reached the completed state.",
		}),
		tasksCanceled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "renderflow_tasks_canceled_total",
			Help: "Generation tasks canceled before completion.",
		}),
		tasksFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "renderflow_tasks_failed_total",
			Help: "Generation tasks that failed, by error kind.",
		}, []string{"kind"}),
		taskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "renderflow_task_duration_seconds",
			Help:    "Wall time of completed generation tasks.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}

	registry.MustRegister(
		m.tasksSubmitted,
		m.tasksCompleted,
		m.tasksCanceled,
		m.tasksFailed,
		m.taskDuration,
	)
	return m
}

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Collect consumes engine events until the context closes. Run it in
// its own goroutine with a channel from engine.Events.
func (m *Metrics) Collect(ctx context.Context, events <-chan core.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.record(ev)
		}
	}
}

func (m *Metrics) record(ev core.Event) {
	switch e := ev.(type) {
	case *core.TaskSubmitted:
		m.tasksSubmitted.Inc()
	case *core.TaskCompleted:
		m.tasksCompleted.Inc()
		m.taskDuration.Observe(e.Duration.Seconds())
	case *core.TaskCanceled:
		m.tasksCanceled.Inc()
	case *core.TaskFailed:
		kind := string(core.KindInternal)
		if e.Task != nil && e.Task.ErrorKind != "" {
			kind = string(e.Task.ErrorKind)
		}
		m.tasksFailed.WithLabelValues(kind).Inc()
	}
}
