// Package metrics provides Prometheus instrumentation for the scheduler and
// its worker pool.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"schedkit/internal/task/engine"
	"schedkit/internal/task/scheduler"
)

const namespace = "schedkit"

// Registry holds the collectors. It implements scheduler.Metrics.
type Registry struct {
	gatherer prometheus.Gatherer

	JobsTriggered *prometheus.CounterVec
	JobsSkipped   *prometheus.CounterVec
	JobRuns       *prometheus.CounterVec
	JobDuration   *prometheus.HistogramVec
	JobsScheduled prometheus.Gauge

	WorkersCurrent prometheus.Gauge
	WorkersVacant  prometheus.Gauge
	QueueLength    prometheus.Gauge
	Dropped        *prometheus.CounterVec
}

var _ scheduler.Metrics = (*Registry)(nil)

// NewRegistry registers the collectors on a fresh prometheus registry,
// together with the go runtime and process collectors.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewRegistryWith(reg, reg)
}

// NewRegistryWith registers on reg and gathers from g, usually the same
// *prometheus.Registry.
func NewRegistryWith(reg prometheus.Registerer, g prometheus.Gatherer) *Registry {
	factory := promauto.With(reg)

	return &Registry{
		gatherer: g,

		JobsTriggered: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "jobs_triggered_total",
				Help:      "Total number of dispatched job triggers",
			},
			[]string{"job"},
		),

		JobsSkipped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "jobs_skipped_total",
				Help:      "Total number of triggers skipped by overlap policy or hooks",
			},
			[]string{"job", "reason"},
		),

		JobRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "job_runs_total",
				Help:      "Total number of job executions by outcome",
			},
			[]string{"job", "outcome"},
		),

		JobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "job_duration_seconds",
				Help:      "Time spent executing jobs",
				Buckets:   prometheus.ExponentialBuckets(0.005, 4, 10),
			},
			[]string{"job"},
		),

		JobsScheduled: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "jobs",
				Help:      "Number of jobs in the store",
			},
		),

		WorkersCurrent: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "workerpool",
				Name:      "workers",
				Help:      "Current number of workers",
			},
		),

		WorkersVacant: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "workerpool",
				Name:      "vacant_workers",
				Help:      "Number of idle workers",
			},
		),

		QueueLength: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "workerpool",
				Name:      "queued",
				Help:      "Number of queued executions",
			},
		),

		Dropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "workerpool",
				Name:      "dropped_total",
				Help:      "Total number of executions dropped before running",
			},
			[]string{"reason"},
		),
	}
}

func (r *Registry) ObserveRun(job string, took time.Duration, outcome string) {
	r.JobRuns.WithLabelValues(job, outcome).Inc()
	if outcome != engine.OutcomeStale {
		r.JobDuration.WithLabelValues(job).Observe(took.Seconds())
	}
}

func (r *Registry) SetWorkers(current, vacant int) {
	r.WorkersCurrent.Set(float64(current))
	r.WorkersVacant.Set(float64(vacant))
}

func (r *Registry) SetQueueLength(n int)     { r.QueueLength.Set(float64(n)) }
func (r *Registry) IncDropped(reason string) { r.Dropped.WithLabelValues(reason).Inc() }
func (r *Registry) IncTriggered(job string)  { r.JobsTriggered.WithLabelValues(job).Inc() }
func (r *Registry) SetJobs(n int)            { r.JobsScheduled.Set(float64(n)) }

func (r *Registry) IncSkipped(job, reason string) {
	r.JobsSkipped.WithLabelValues(job, reason).Inc()
}

// Forget drops the per-job series of a removed job.
func (r *Registry) Forget(job string) {
	r.JobsTriggered.DeleteLabelValues(job)
	r.JobDuration.DeleteLabelValues(job)
	r.JobsSkipped.DeletePartialMatch(prometheus.Labels{"job": job})
	r.JobRuns.DeletePartialMatch(prometheus.Labels{"job": job})
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	if r.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}
