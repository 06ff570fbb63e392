// Package metrics exposes pool and hand-off activity as Prometheus collectors.
package metrics

import (
	"github.com/jirevwe/litepool/pool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "litepool"

// Metrics holds all Prometheus collectors
type Metrics struct {
	factory promauto.Factory

	TasksSubmitted *prometheus.CounterVec
	TasksRejected  *prometheus.CounterVec
	TasksFinished  *prometheus.CounterVec
	TaskDuration   *prometheus.HistogramVec
	BusyWorkers    prometheus.Gauge

	QueueDepth   prometheus.GaugeFunc
	HandoffDepth prometheus.GaugeFunc
}

// Sources are polled when the registry is scraped.
type Sources struct {
	QueueDepth   func() int
	HandoffDepth func() int
}

// New registers the counters, histogram and busy gauge. The depth gauges
// are registered later by Watch, once the values they read exist.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}
	factory := promauto.With(registerer)

	m := &Metrics{
		factory: factory,
		TasksSubmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_submitted_total",
				Help:      "Total number of tasks handed to the worker pool, including rejected ones",
			},
			[]string{"label"},
		),
		TasksRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_rejected_total",
				Help:      "Total number of tasks refused because the worker pool was stopped",
			},
			[]string{"label"},
		),
		TasksFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_finished_total",
				Help:      "Total number of tasks that finished, by outcome",
			},
			[]string{"label", "status"},
		),
		TaskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_duration_seconds",
				Help:      "Time tasks spent running on a worker",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"label"},
		),
		BusyWorkers: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "busy_workers",
				Help:      "Number of workers currently running a task",
			},
		),
	}

	return m
}

// Watch registers the depth gauges for the given sources. It must be called
// at most once.
func (m *Metrics) Watch(src Sources) {
	if src.QueueDepth != nil {
		m.QueueDepth = m.factory.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_depth",
				Help:      "Tasks waiting for a worker",
			},
			func() float64 { return float64(src.QueueDepth()) },
		)
	}

	if src.HandoffDepth != nil {
		m.HandoffDepth = m.factory.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "handoff_depth",
				Help:      "Results waiting to be picked up by the consumer",
			},
			func() float64 { return float64(src.HandoffDepth()) },
		)
	}
}

// Hooks returns pool hooks that keep the collectors up to date.
func (m *Metrics) Hooks() pool.Hooks {
	return pool.Hooks{
		OnSubmit: func(info pool.TaskInfo) {
			m.TasksSubmitted.WithLabelValues(info.Label).Inc()
		},
		OnStart: func(pool.TaskInfo) {
			m.BusyWorkers.Inc()
		},
		OnFinish: func(info pool.TaskInfo) {
			// rejected submissions never started
			if info.StartedAt.IsZero() {
				m.TasksRejected.WithLabelValues(info.Label).Inc()
			} else {
				m.BusyWorkers.Dec()
				m.TaskDuration.WithLabelValues(info.Label).Observe(info.Duration().Seconds())
			}
			m.TasksFinished.WithLabelValues(info.Label, string(info.Status)).Inc()
		},
	}
}
