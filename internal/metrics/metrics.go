package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	jobsStartedTotal   *prometheus.CounterVec
	jobsCompletedTotal *prometheus.CounterVec
	jobsDurationMs     *prometheus.HistogramVec
	jobsCanceledTotal  *prometheus.CounterVec

	syncRunsTotal    *prometheus.CounterVec
	syncEntriesTotal *prometheus.CounterVec

	catalogVideos *prometheus.GaugeVec

	transfersInFlight   prometheus.Gauge
	transferBytesTotal  *prometheus.CounterVec
	transferErrorsTotal prometheus.Counter

	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDurationMs *prometheus.HistogramVec

	eventsConnections prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{registry: reg}

	m.jobsStartedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_started_total",
		Help: "Total number of jobs started.",
	}, []string{"type"})
	m.jobsCompletedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_completed_total",
		Help: "Total number of jobs that reached a terminal state.",
	}, []string{"type", "status"})
	m.jobsDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "jobs_duration_ms",
		Help:    "Job duration in milliseconds.",
		Buckets: prometheus.ExponentialBuckets(250, 2, 16),
	}, []string{"type", "status"})
	m.jobsCanceledTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_canceled_total",
		Help: "Total number of jobs canceled.",
	}, []string{"type"})

	m.syncRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_sync_runs_total",
		Help: "Total number of remote cache sync runs.",
	}, []string{"mode", "outcome"})
	m.syncEntriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_sync_entries_total",
		Help: "Total number of cache entries touched by sync runs.",
	}, []string{"op"})

	m.catalogVideos = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "catalog_videos",
		Help: "Number of videos in the catalog.",
	}, []string{"origin"})

	m.transfersInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "transfers_in_flight",
		Help: "Number of media transfers currently running.",
	})
	m.transferBytesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "transfer_bytes_total",
		Help: "Total number of bytes transferred.",
	}, []string{"direction"})
	m.transferErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "transfer_errors_total",
		Help: "Total number of failed media transfers.",
	})

	m.httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "route", "status"})
	m.httpRequestDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_ms",
		Help:    "HTTP request duration in milliseconds.",
		Buckets: prometheus.ExponentialBuckets(5, 2, 12),
	}, []string{"method", "route"})

	m.eventsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "events_connections",
		Help: "Number of active realtime connections.",
	})

	reg.MustRegister(
		m.jobsStartedTotal,
		m.jobsCompletedTotal,
		m.jobsDurationMs,
		m.jobsCanceledTotal,
		m.syncRunsTotal,
		m.syncEntriesTotal,
		m.catalogVideos,
		m.transfersInFlight,
		m.transferBytesTotal,
		m.transferErrorsTotal,
		m.httpRequestsTotal,
		m.httpRequestDurationMs,
		m.eventsConnections,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncJobsStarted(jobType string) {
	if m == nil {
		return
	}
	m.jobsStartedTotal.WithLabelValues(jobType).Inc()
}

func (m *Metrics) IncJobsCompleted(jobType, status string) {
	if m == nil {
		return
	}
	m.jobsCompletedTotal.WithLabelValues(jobType, status).Inc()
}

func (m *Metrics) ObserveJobsDuration(jobType, status string, duration time.Duration) {
	if m == nil {
		return
	}
	ms := float64(duration.Milliseconds())
	if ms < 0 {
		ms = 0
	}
	m.jobsDurationMs.WithLabelValues(jobType, status).Observe(ms)
}

func (m *Metrics) IncJobsCanceled(jobType string) {
	if m == nil {
		return
	}
	m.jobsCanceledTotal.WithLabelValues(jobType).Inc()
}

func (m *Metrics) IncSyncRuns(mode, outcome string) {
	if m == nil {
		return
	}
	m.syncRunsTotal.WithLabelValues(mode, outcome).Inc()
}

func (m *Metrics) AddSyncEntries(op string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.syncEntriesTotal.WithLabelValues(op).Add(float64(n))
}

func (m *Metrics) SetCatalogVideos(origin string, n int64) {
	if m == nil {
		return
	}
	if n < 0 {
		n = 0
	}
	m.catalogVideos.WithLabelValues(origin).Set(float64(n))
}

func (m *Metrics) IncTransfersInFlight() {
	if m == nil {
		return
	}
	m.transfersInFlight.Inc()
}

func (m *Metrics) DecTransfersInFlight() {
	if m == nil {
		return
	}
	m.transfersInFlight.Dec()
}

func (m *Metrics) AddTransferBytes(direction string, bytes int64) {
	if m == nil || direction == "" || bytes <= 0 {
		return
	}
	m.transferBytesTotal.WithLabelValues(direction).Add(float64(bytes))
}

func (m *Metrics) IncTransferErrors() {
	if m == nil {
		return
	}
	m.transferErrorsTotal.Inc()
}

func (m *Metrics) ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	route = strings.TrimSpace(route)
	if route == "" {
		route = "unknown"
	}
	statusLabel := strconv.Itoa(status)
	m.httpRequestsTotal.WithLabelValues(method, route, statusLabel).Inc()
	ms := float64(duration.Milliseconds())
	if ms < 0 {
		ms = 0
	}
	m.httpRequestDurationMs.WithLabelValues(method, route).Observe(ms)
}

func (m *Metrics) IncEventsConnections() {
	if m == nil {
		return
	}
	m.eventsConnections.Inc()
}

func (m *Metrics) DecEventsConnections() {
	if m == nil {
		return
	}
	m.eventsConnections.Dec()
}
