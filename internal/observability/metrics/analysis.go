package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/docvault/internal/core/domain"
)

// AnalysisMetrics records document analysis attempts. It is used by the
// API (synchronous analyze) and by the worker.
type AnalysisMetrics struct {
	registry *prometheus.Registry
	service  string

	analysisTotal    *prometheus.CounterVec
	analysisDuration *prometheus.HistogramVec
	analysisInFlight prometheus.Gauge
	queueLag         *prometheus.HistogramVec
	drainedTotal     *prometheus.CounterVec
}

// NewAnalysisMetrics registers into registry, or into a private registry
// when registry is nil.
func NewAnalysisMetrics(service string, registry *prometheus.Registry) *AnalysisMetrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	analysisTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docvault",
			Subsystem: "analysis",
			Name:      "attempts_total",
			Help:      "Total analysis attempts by outcome.",
		},
		[]string{"service", "outcome"},
	)
	analysisDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docvault",
			Subsystem: "analysis",
			Name:      "duration_seconds",
			Help:      "Analysis attempt duration in seconds by outcome.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"service", "outcome"},
	)
	analysisInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "docvault",
			Subsystem: "analysis",
			Name:      "in_flight",
			Help:      "Number of in-flight analysis attempts.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docvault",
			Subsystem: "analysis",
			Name:      "queue_lag_seconds",
			Help:      "Delay between queue entry creation and analysis start.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)
	drainedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docvault",
			Subsystem: "worker",
			Name:      "sweep_processed_total",
			Help:      "Queue entries processed by periodic sweeps.",
		},
		[]string{"service"},
	)

	registry.MustRegister(analysisTotal, analysisDuration, analysisInFlight, queueLag, drainedTotal)

	return &AnalysisMetrics{
		registry:         registry,
		service:          service,
		analysisTotal:    analysisTotal,
		analysisDuration: analysisDuration,
		analysisInFlight: analysisInFlight,
		queueLag:         queueLag,
		drainedTotal:     drainedTotal,
	}
}

func (m *AnalysisMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *AnalysisMetrics) StartAnalysis(queueLag time.Duration) {
	m.analysisInFlight.Inc()
	if queueLag >= 0 {
		m.queueLag.WithLabelValues(m.service).Observe(queueLag.Seconds())
	}
}

func (m *AnalysisMetrics) FinishAnalysis(duration time.Duration, err error) {
	m.analysisInFlight.Dec()

	outcome := Outcome(err)
	m.analysisTotal.WithLabelValues(m.service, outcome).Inc()
	m.analysisDuration.WithLabelValues(m.service, outcome).Observe(duration.Seconds())
}

func (m *AnalysisMetrics) RecordSweep(processed int) {
	if processed > 0 {
		m.drainedTotal.WithLabelValues(m.service).Add(float64(processed))
	}
}

// Outcome maps an analysis error onto a bounded label value.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case domain.IsKind(err, domain.ErrStorageFailure):
		return "storage_failure"
	case domain.IsKind(err, domain.ErrAnalysisFailed):
		return "analysis_failed"
	default:
		return "error"
	}
}
