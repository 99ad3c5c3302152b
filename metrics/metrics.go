// Package metrics provides Prometheus metrics for the pipeline worker:
// task duration/retries, queue depth, and outbound collaborator calls.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "reflector"

var (
	// TaskDuration is a histogram of task execution duration in seconds.
	TaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Histogram of task execution duration in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 300, 900},
		},
		[]string{"task"},
	)

	// TaskTotal is a counter of task executions by final outcome.
	TaskTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_total",
			Help:      "Total number of task executions",
		},
		[]string{"task", "status"}, // status: success, error, retried
	)

	// RunsActive is a gauge of currently running MultitrackPipeline runs.
	RunsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_active",
			Help:      "Number of currently active pipeline runs",
		},
	)

	// RunDuration is a histogram of total pipeline run duration.
	RunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Histogram of total pipeline run duration in seconds",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		},
		[]string{"status"}, // success, error
	)

	// QueueDepth is a gauge of pipeline runs waiting in the run queue.
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Number of pipeline runs queued but not yet picked up by a worker",
		},
	)

	// RemoteCallDuration is a histogram of outbound collaborator call duration.
	RemoteCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "remote_call_duration_seconds",
			Help:      "Duration of outbound calls to ASR/LLM/object-store/webhook",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"collaborator", "op"},
	)

	// RemoteCallTotal is a counter of outbound collaborator calls.
	RemoteCallTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_call_total",
			Help:      "Total number of outbound collaborator calls",
		},
		[]string{"collaborator", "op", "status"}, // status: success, transient_error, permanent_error
	)

	// AllCollectors lists every collector for registration against a registry.
	AllCollectors = []prometheus.Collector{
		TaskDuration,
		TaskTotal,
		RunsActive,
		RunDuration,
		QueueDepth,
		RemoteCallDuration,
		RemoteCallTotal,
	}
)

// RecordTask records a single task execution outcome.
func RecordTask(taskName, status string, durationSeconds float64) {
	TaskDuration.WithLabelValues(taskName).Observe(durationSeconds)
	TaskTotal.WithLabelValues(taskName, status).Inc()
}

// RecordRunStart marks the start of a pipeline run.
func RecordRunStart() {
	RunsActive.Inc()
}

// RecordRunEnd marks the end of a pipeline run.
func RecordRunEnd(status string, durationSeconds float64) {
	RunsActive.Dec()
	RunDuration.WithLabelValues(status).Observe(durationSeconds)
}

// RecordRemoteCall records an outbound call to ASR, LLM, object store, or webhook.
func RecordRemoteCall(collaborator, op, status string, durationSeconds float64) {
	RemoteCallDuration.WithLabelValues(collaborator, op).Observe(durationSeconds)
	RemoteCallTotal.WithLabelValues(collaborator, op, status).Inc()
}

// Register adds every collector to reg. Call once at worker startup.
func Register(reg *prometheus.Registry) error {
	for _, c := range AllCollectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
