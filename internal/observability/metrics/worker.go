package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// WorkerMetrics instruments the intake poller and the document pipeline. The
// service name is bound once so call sites stay free of label plumbing.
type WorkerMetrics struct {
	registry *prometheus.Registry

	claimTotal        *prometheus.CounterVec
	processTotal      *prometheus.CounterVec
	processDuration   *prometheus.HistogramVec
	processInFlight   prometheus.Gauge
	intakeLag         prometheus.Histogram
	orphanTotal       *prometheus.CounterVec
	extractAttempts   prometheus.Histogram
	reviewQueuedTotal prometheus.Counter
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"service": service}

	claimTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "tradeconfirm",
			Subsystem:   "intake",
			Name:        "claim_total",
			Help:        "Total claim attempts by result.",
			ConstLabels: constLabels,
		},
		[]string{"result"},
	)
	processTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "tradeconfirm",
			Subsystem:   "intake",
			Name:        "document_process_total",
			Help:        "Total pipeline passes by terminal status.",
			ConstLabels: constLabels,
		},
		[]string{"final_status"},
	)
	processDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   "tradeconfirm",
			Subsystem:   "intake",
			Name:        "document_process_duration_seconds",
			Help:        "Document processing duration in seconds by terminal status.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		},
		[]string{"final_status"},
	)
	processInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   "tradeconfirm",
			Subsystem:   "intake",
			Name:        "document_process_in_flight",
			Help:        "Number of in-flight document pipelines.",
			ConstLabels: constLabels,
		},
	)
	intakeLag := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace:   "tradeconfirm",
			Subsystem:   "intake",
			Name:        "lag_seconds",
			Help:        "Delay between document receipt and claim.",
			Buckets:     []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
			ConstLabels: constLabels,
		},
	)
	orphanTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "tradeconfirm",
			Subsystem:   "intake",
			Name:        "orphan_total",
			Help:        "Orphaned claims detected by the sweep, by outcome.",
			ConstLabels: constLabels,
		},
		[]string{"outcome"},
	)
	extractAttempts := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace:   "tradeconfirm",
			Subsystem:   "intake",
			Name:        "extraction_attempts",
			Help:        "Model extraction attempts per document, including schema retries.",
			Buckets:     []float64{1, 2, 3, 4, 5},
			ConstLabels: constLabels,
		},
	)
	reviewQueuedTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   "tradeconfirm",
			Subsystem:   "intake",
			Name:        "review_queued_total",
			Help:        "Total review queue entries created by the pipeline.",
			ConstLabels: constLabels,
		},
	)

	registry.MustRegister(
		claimTotal,
		processTotal,
		processDuration,
		processInFlight,
		intakeLag,
		orphanTotal,
		extractAttempts,
		reviewQueuedTotal,
	)

	return &WorkerMetrics{
		registry:          registry,
		claimTotal:        claimTotal,
		processTotal:      processTotal,
		processDuration:   processDuration,
		processInFlight:   processInFlight,
		intakeLag:         intakeLag,
		orphanTotal:       orphanTotal,
		extractAttempts:   extractAttempts,
		reviewQueuedTotal: reviewQueuedTotal,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) ClaimWon() {
	m.claimTotal.WithLabelValues("won").Inc()
}

func (m *WorkerMetrics) ClaimLost() {
	m.claimTotal.WithLabelValues("lost").Inc()
}

func (m *WorkerMetrics) StartDocument() {
	m.processInFlight.Inc()
}

// FinishDocument closes the pass opened by StartDocument. An empty status
// means the pass ended without a terminal transition and will be retried.
func (m *WorkerMetrics) FinishDocument(finalStatus string, seconds float64) {
	m.processInFlight.Dec()
	if finalStatus == "" {
		finalStatus = "retrying"
	}
	m.processTotal.WithLabelValues(finalStatus).Inc()
	m.processDuration.WithLabelValues(finalStatus).Observe(seconds)
}

func (m *WorkerMetrics) ObserveIntakeLag(seconds float64) {
	if seconds < 0 {
		return
	}
	m.intakeLag.Observe(seconds)
}

func (m *WorkerMetrics) ObserveExtractionAttempts(attempts int) {
	if attempts <= 0 {
		return
	}
	m.extractAttempts.Observe(float64(attempts))
}

func (m *WorkerMetrics) ReviewQueued() {
	m.reviewQueuedTotal.Inc()
}

func (m *WorkerMetrics) OrphanRecovered() {
	m.orphanTotal.WithLabelValues("recovered").Inc()
}

func (m *WorkerMetrics) OrphanQuarantined() {
	m.orphanTotal.WithLabelValues("quarantined").Inc()
}
