package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec
	upstreamRequestsTotal *prometheus.CounterVec
	upstreamDuration      *prometheus.HistogramVec
	transcriptionFailures prometheus.Counter
	summarizationFailures prometheus.Counter
	documentsRendered     prometheus.Counter
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "minuteflow_http_requests_total",
				Help: "Total number of HTTP requests handled.",
			},
			[]string{"route", "method", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "minuteflow_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method", "status"},
		),
		upstreamRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "minuteflow_upstream_requests_total",
				Help: "Total upstream speech and LLM API requests.",
			},
			[]string{"endpoint", "status"},
		),
		upstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "minuteflow_upstream_request_duration_seconds",
				Help:    "Upstream request duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint", "status"},
		),
		transcriptionFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "minuteflow_pipeline_transcription_failures_total",
				Help: "Number of pipeline runs that ended with a transcription failure.",
			},
		),
		summarizationFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "minuteflow_pipeline_summarization_failures_total",
				Help: "Number of pipeline runs whose minutes failed, so no document was rendered.",
			},
		),
		documentsRendered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "minuteflow_documents_rendered_total",
				Help: "Number of PDF documents rendered.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.upstreamRequestsTotal,
		m.upstreamDuration,
		m.transcriptionFailures,
		m.summarizationFailures,
		m.documentsRendered,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveHTTP(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if method == "" {
		method = "UNKNOWN"
	}
	statusLabel := strconv.Itoa(status)
	m.httpRequestsTotal.WithLabelValues(route, method, statusLabel).Inc()
	m.httpRequestDuration.WithLabelValues(route, method, statusLabel).Observe(duration.Seconds())
}

func (m *Metrics) ObserveUpstream(endpoint string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	statusLabel := strconv.Itoa(status)
	m.upstreamRequestsTotal.WithLabelValues(endpoint, statusLabel).Inc()
	m.upstreamDuration.WithLabelValues(endpoint, statusLabel).Observe(duration.Seconds())
}

func (m *Metrics) TranscriptionFailed() {
	if m == nil {
		return
	}
	m.transcriptionFailures.Inc()
}

func (m *Metrics) SummarizationFailed() {
	if m == nil {
		return
	}
	m.summarizationFailures.Inc()
}

// DocumentRendered also counts documents rendered outside a pipeline run.
func (m *Metrics) DocumentRendered() {
	if m == nil {
		return
	}
	m.documentsRendered.Inc()
}
