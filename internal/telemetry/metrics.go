// Package telemetry exposes scheduler activity as Prometheus metrics.
package telemetry

import (
	"net/http"

	"authjobs/internal/core/application/executors"
	"authjobs/internal/core/application/scheduler"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

type Metrics struct {
	registry *prometheus.Registry

	JobsProcessed    *prometheus.CounterVec
	BatchErrors      prometheus.Counter
	JobsPending      *prometheus.GaugeVec
	JobsOverdue      prometheus.Gauge
	JobsRetried      prometheus.Counter
	ValidationIssues prometheus.Counter
}

// New builds the metric set on its own registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		JobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobs_processed_total",
			Help: "Jobs run by a batch, by category and outcome",
		}, []string{"category", "outcome"}),
		BatchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobs_batch_errors_total",
			Help: "Batches that failed or panicked",
		}),
		JobsPending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "jobs_pending",
			Help: "Pending jobs by type",
		}, []string{"type"}),
		JobsOverdue: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jobs_overdue",
			Help: "Pending jobs more than five minutes past their scheduled time",
		}),
		JobsRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobs_retried_total",
			Help: "Failed jobs returned to Pending",
		}),
		ValidationIssues: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobs_validation_issues_total",
			Help: "Inconsistencies found and repaired by validation sweeps",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.JobsProcessed,
		m.BatchErrors,
		m.JobsPending,
		m.JobsOverdue,
		m.JobsRetried,
		m.ValidationIssues,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveBatch(category string, r executors.BatchResult) {
	m.JobsProcessed.WithLabelValues(category, OutcomeSucceeded).Add(float64(r.Successful))
	m.JobsProcessed.WithLabelValues(category, OutcomeFailed).Add(float64(r.Failed))
	m.JobsProcessed.WithLabelValues(category, OutcomeSkipped).Add(float64(r.Skipped))
}

func (m *Metrics) ObserveBatchErrors(n int) {
	m.BatchErrors.Add(float64(n))
}

func (m *Metrics) SetQueue(pendingByType map[string]int, overdue int) {
	for t, n := range pendingByType {
		m.JobsPending.WithLabelValues(t).Set(float64(n))
	}
	m.JobsOverdue.Set(float64(overdue))
}

func (m *Metrics) ObserveRetried(n int) {
	m.JobsRetried.Add(float64(n))
}

func (m *Metrics) ObserveValidationIssues(n int) {
	m.ValidationIssues.Add(float64(n))
}

// ObserveProcess records one ProcessAllJobs run.
func (m *Metrics) ObserveProcess(r scheduler.ProcessReport) {
	m.ObserveBatch("capture", r.Capture)
	m.ObserveBatch("expiry", r.Expiry)
	m.ObserveBatch("reminder", r.Reminder)
	m.ObserveBatch("expiry_sweep", executors.BatchResult{Successful: r.ExpirySweep.Expired, Failed: r.ExpirySweep.Failed})
	m.ObserveBatchErrors(len(r.Errors))
}

func (m *Metrics) ObserveQueue(q scheduler.QueueStatus) {
	m.SetQueue(q.PendingByType, q.Overdue)
}
