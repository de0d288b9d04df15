package observability

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments for the scoring pipeline.
type Metrics struct {
	// Ingress metrics
	EventsIngested *prometheus.CounterVec
	EventsDropped  prometheus.Counter
	QueueDepth     prometheus.Gauge

	// Pipeline metrics
	EventsProcessed       *prometheus.CounterVec
	NormalizationFailures prometheus.Counter
	ScoringDegraded       prometheus.Counter
	ProcessingDuration    prometheus.Histogram

	// Detection metrics
	ThreatsDetected *prometheus.CounterVec

	// Alerting metrics
	AlertsDispatched *prometheus.CounterVec
	AlertsSuppressed prometheus.Counter

	// System metrics
	GoroutineCount prometheus.Gauge
	MemoryUsage    prometheus.Gauge

	// API metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// NewMetrics registers all pipeline instruments on the default registry.
func NewMetrics() *Metrics {
	namespace := "netsentry"

	return &Metrics{
		EventsIngested: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_ingested_total",
				Help:      "Total events accepted into the queue by source kind",
			},
			[]string{"kind"},
		),
		EventsDropped: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_dropped_total",
				Help:      "Events evicted from a full queue under drop_oldest",
			},
		),
		QueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_depth",
				Help:      "Current number of queued events",
			},
		),
		EventsProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_processed_total",
				Help:      "Events run to a terminal state by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		NormalizationFailures: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "normalization_failures_total",
				Help:      "Raw records rejected as malformed",
			},
		),
		ScoringDegraded: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scoring_degraded_total",
				Help:      "Events completed without a usable score",
			},
		),
		ProcessingDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "processing_duration_seconds",
				Help:      "Per-event latency from enqueue to terminal state",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 15),
			},
		),
		ThreatsDetected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "threats_detected_total",
				Help:      "Threat verdicts by type and severity",
			},
			[]string{"type", "severity"},
		),
		AlertsDispatched: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alerts_dispatched_total",
				Help:      "Alert deliveries by channel and status",
			},
			[]string{"channel", "status"},
		),
		AlertsSuppressed: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alerts_suppressed_total",
				Help:      "Threat verdicts suppressed by the cooldown gate",
			},
		),
		GoroutineCount: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "goroutine_count",
				Help:      "Current goroutine count",
			},
		),
		MemoryUsage: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "memory_usage_bytes",
				Help:      "Current memory usage in bytes",
			},
		),
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
			},
			[]string{"method", "path"},
		),
	}
}

// Handler returns the Prometheus scrape handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}

// StartSystemCollector samples runtime gauges until ctx is done.
func (m *Metrics) StartSystemCollector(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.GoroutineCount.Set(float64(runtime.NumGoroutine()))
				var ms runtime.MemStats
				runtime.ReadMemStats(&ms)
				m.MemoryUsage.Set(float64(ms.Alloc))
			}
		}
	}()
}
