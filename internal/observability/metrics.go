package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the Prometheus collectors of the engine. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpErrors   *prometheus.CounterVec

	jobsEnqueued  *prometheus.CounterVec
	jobsCompleted *prometheus.CounterVec
	jobsFailed    *prometheus.CounterVec
	jobsReclaimed prometheus.Counter
	jobDuration   *prometheus.HistogramVec
	jobsByStatus  *prometheus.GaugeVec

	scanEnqueued  *prometheus.CounterVec
	workloadDrift *prometheus.GaugeVec
}

// NewMetrics registers all collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by route, method and status.",
		}, []string{"path", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"path", "method"}),
		httpErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "HTTP error responses by error code.",
		}, []string{"path", "method", "code"}),
		jobsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workflow_jobs_enqueued_total",
			Help: "Enqueue calls by job type; deduplicated=true when an active job already held the key.",
		}, []string{"type", "deduplicated"}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workflow_jobs_completed_total",
			Help: "Jobs completed successfully.",
		}, []string{"type"}),
		jobsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workflow_jobs_failed_total",
			Help: "Job failures by error kind and whether the job became terminal.",
		}, []string{"type", "kind", "terminal"}),
		jobsReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "workflow_jobs_reclaimed_total",
			Help: "Claims re-admitted after their lease expired.",
		}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "workflow_job_duration_seconds",
			Help:    "Handler execution time.",
			Buckets: prometheus.DefBuckets,
		}, []string{"type"}),
		jobsByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "workflow_jobs",
			Help: "Jobs currently stored per status.",
		}, []string{"status"}),
		scanEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workflow_scheduler_enqueued_total",
			Help: "Jobs created by periodic scans.",
		}, []string{"scan"}),
		workloadDrift: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "workflow_workload_drift",
			Help: "Stored workload minus recounted active items, per member.",
		}, []string{"team", "user"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.httpErrors,
		m.jobsEnqueued,
		m.jobsCompleted,
		m.jobsFailed,
		m.jobsReclaimed,
		m.jobDuration,
		m.jobsByStatus,
		m.scanEnqueued,
		m.workloadDrift,
	)
	return m
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(path, method).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.httpErrors.WithLabelValues(path, method, code).Inc()
}

func (m *Metrics) JobEnqueued(jobType string, deduplicated bool) {
	if m == nil {
		return
	}
	m.jobsEnqueued.WithLabelValues(jobType, strconv.FormatBool(deduplicated)).Inc()
}

func (m *Metrics) JobCompleted(jobType string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobsCompleted.WithLabelValues(jobType).Inc()
	m.jobDuration.WithLabelValues(jobType).Observe(duration.Seconds())
}

func (m *Metrics) JobFailed(jobType, kind string, terminal bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobsFailed.WithLabelValues(jobType, kind, strconv.FormatBool(terminal)).Inc()
	if duration > 0 {
		m.jobDuration.WithLabelValues(jobType).Observe(duration.Seconds())
	}
}

func (m *Metrics) JobReclaimed() {
	if m == nil {
		return
	}
	m.jobsReclaimed.Inc()
}

// SetJobCounts replaces the per-status gauge values.
func (m *Metrics) SetJobCounts(counts map[string]int) {
	if m == nil {
		return
	}
	m.jobsByStatus.Reset()
	for status, n := range counts {
		m.jobsByStatus.WithLabelValues(status).Set(float64(n))
	}
}

func (m *Metrics) ScanEnqueued(scan string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.scanEnqueued.WithLabelValues(scan).Add(float64(n))
}

func (m *Metrics) SetWorkloadDrift(teamID, userID string, drift int) {
	if m == nil {
		return
	}
	m.workloadDrift.WithLabelValues(teamID, userID).Set(float64(drift))
}
