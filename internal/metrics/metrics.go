// Package metrics holds the Prometheus collectors for the orchestration
// core: tool invocations, retries, suspensions and resumptions.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics aggregates all collectors behind one registry.
type Metrics struct {
	registry *prometheus.Registry

	ToolInvocationsTotal *prometheus.CounterVec
	ToolRetriesTotal     *prometheus.CounterVec
	ToolDuration         *prometheus.HistogramVec

	InvocationsTotal *prometheus.CounterVec

	SuspensionsTotal  prometheus.Counter
	ResumptionsTotal  *prometheus.CounterVec
	SuspensionsActive prometheus.Gauge
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		ToolInvocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "weft_tool_invocations_total",
				Help: "Total number of tool invocations by terminal status",
			},
			[]string{"tool", "status"},
		),
		ToolRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "weft_tool_retries_total",
				Help: "Total number of retried tool attempts",
			},
			[]string{"tool"},
		),
		ToolDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "weft_tool_duration_seconds",
				Help:    "Duration of tool invocations including retries",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tool"},
		),
		InvocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "weft_invocations_total",
				Help: "Total number of workflow invocations by terminal status",
			},
			[]string{"workflow", "status"},
		),
		SuspensionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "weft_suspensions_total",
				Help: "Total number of suspension records created",
			},
		),
		ResumptionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "weft_resumptions_total",
				Help: "Total number of resume calls by result",
			},
			[]string{"result"},
		),
		SuspensionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "weft_suspensions_active",
				Help: "Suspension records currently awaiting a decision",
			},
		),
	}

	registry.MustRegister(
		m.ToolInvocationsTotal,
		m.ToolRetriesTotal,
		m.ToolDuration,
		m.InvocationsTotal,
		m.SuspensionsTotal,
		m.ResumptionsTotal,
		m.SuspensionsActive,
	)
	return m
}

// ObserveTool records one complete tool invocation.
func (m *Metrics) ObserveTool(tool, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.ToolInvocationsTotal.WithLabelValues(tool, status).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// ObserveRetry records one retried attempt.
func (m *Metrics) ObserveRetry(tool string) {
	if m == nil {
		return
	}
	m.ToolRetriesTotal.WithLabelValues(tool).Inc()
}

// ObserveInvocation records one workflow invocation outcome.
func (m *Metrics) ObserveInvocation(workflow, status string) {
	if m == nil {
		return
	}
	m.InvocationsTotal.WithLabelValues(workflow, status).Inc()
}

// ObserveSuspension records a newly registered suspension.
func (m *Metrics) ObserveSuspension() {
	if m == nil {
		return
	}
	m.SuspensionsTotal.Inc()
	m.SuspensionsActive.Inc()
}

// ObserveResumption records a consume attempt ("resumed", "invalid").
func (m *Metrics) ObserveResumption(result string) {
	if m == nil {
		return
	}
	m.ResumptionsTotal.WithLabelValues(result).Inc()
	if result == "resumed" {
		m.SuspensionsActive.Dec()
	}
}

// ObserveDiscard records n pending suspensions dropped without a decision.
func (m *Metrics) ObserveDiscard(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SuspensionsActive.Sub(float64(n))
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
