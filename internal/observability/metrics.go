package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lvonguyen/threatlens/internal/sources"
)

const namespace = "threatlens"

// Pipeline stages reported by ObserveStage.
const (
	StageCollected  = "collected"
	StageNormalized = "normalized"
	StageRelevant   = "relevant"
	StageDeduped    = "deduped"
	StageRetained   = "retained"
	StageRanked     = "ranked"
)

// Metrics holds Prometheus metrics for ThreatLens
type Metrics struct {
	// Connector metrics
	ConnectorRequests *prometheus.CounterVec
	ConnectorDuration *prometheus.HistogramVec
	ConnectorItems    *prometheus.CounterVec

	// Pipeline metrics
	PipelineRecords  *prometheus.GaugeVec
	AnalysesTotal    *prometheus.CounterVec
	AnalysisDuration prometheus.Histogram
	AttackMappings   *prometheus.CounterVec

	// System metrics
	GoroutineCount prometheus.Gauge
	MemoryUsage    prometheus.Gauge

	// Health metrics
	HealthStatus *prometheus.GaugeVec

	// API metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RateLimited     prometheus.Counter
}

// NewMetrics registers the ThreatLens metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ConnectorRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connector_requests_total",
				Help:      "Connector calls by source and outcome",
			},
			[]string{"source", "status"},
		),
		ConnectorDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "connector_duration_seconds",
				Help:      "Connector call duration by source",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
			},
			[]string{"source"},
		),
		ConnectorItems: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connector_items_total",
				Help:      "Raw items returned by source",
			},
			[]string{"source"},
		),
		PipelineRecords: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pipeline_records",
				Help:      "Records surviving each pipeline stage in the last analysis",
			},
			[]string{"stage"},
		),
		AnalysesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "analyses_total",
				Help:      "Analyses by outcome",
			},
			[]string{"outcome"},
		),
		AnalysisDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "analysis_duration_seconds",
				Help:      "End-to-end analysis duration",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
			},
		),
		AttackMappings: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attack_mappings_total",
				Help:      "ATT&CK technique mappings attached to findings",
			},
			[]string{"technique"},
		),
		GoroutineCount: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "goroutine_count",
				Help:      "Current goroutine count",
			},
		),
		MemoryUsage: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "memory_usage_bytes",
				Help:      "Current memory usage in bytes",
			},
		),
		HealthStatus: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "health_status",
				Help:      "Health status of components (1=healthy, 0=unhealthy)",
			},
			[]string{"component"},
		),
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
			},
			[]string{"method", "path"},
		),
		RateLimited: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limited_total",
				Help:      "Requests rejected by the rate limiter",
			},
		),
	}
}

// ObserveConnector records one connector call. It satisfies sources.Recorder.
func (m *Metrics) ObserveConnector(source string, status sources.Status, duration time.Duration, items int) {
	if m == nil {
		return
	}
	m.ConnectorRequests.WithLabelValues(source, string(status)).Inc()
	m.ConnectorDuration.WithLabelValues(source).Observe(duration.Seconds())
	if items > 0 {
		m.ConnectorItems.WithLabelValues(source).Add(float64(items))
	}
}

// ObserveStage records how many records survived a pipeline stage.
func (m *Metrics) ObserveStage(stage string, n int) {
	if m == nil {
		return
	}
	m.PipelineRecords.WithLabelValues(stage).Set(float64(n))
}

// ObserveAnalysis records the outcome and duration of one analysis.
func (m *Metrics) ObserveAnalysis(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.AnalysesTotal.WithLabelValues(outcome).Inc()
	m.AnalysisDuration.Observe(duration.Seconds())
}

// ObserveTechniques counts ATT&CK technique IDs attached to findings.
func (m *Metrics) ObserveTechniques(ids []string) {
	if m == nil {
		return
	}
	for _, id := range ids {
		m.AttackMappings.WithLabelValues(id).Inc()
	}
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// ObserveRateLimited counts a rejected request.
func (m *Metrics) ObserveRateLimited() {
	if m == nil {
		return
	}
	m.RateLimited.Inc()
}

// SetHealth sets a component's health gauge.
func (m *Metrics) SetHealth(component string, healthy bool) {
	if m == nil {
		return
	}
	v := 0.0
	if healthy {
		v = 1
	}
	m.HealthStatus.WithLabelValues(component).Set(v)
}

var _ sources.Recorder = (*Metrics)(nil)
