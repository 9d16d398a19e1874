package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the isolation engine.
type Metrics struct {
	Registry *prometheus.Registry

	ValidationsTotal    *prometheus.CounterVec
	RiskScore           prometheus.Histogram
	ExecutionsTotal     *prometheus.CounterVec
	ExecutionDuration   prometheus.Histogram
	ActiveSandboxes     prometheus.Gauge
	ViolationsTotal     *prometheus.CounterVec
	RecoveriesTotal     *prometheus.CounterVec
	QuarantinedPlugins  prometheus.Gauge
	PeakMemoryMB        prometheus.Histogram
	MonitorSamplesTotal prometheus.Counter
}

// NewMetrics creates and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		ValidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pluginguard",
				Name:      "validations_total",
				Help:      "Total plugin validations by verdict.",
			},
			[]string{"status"},
		),

		RiskScore: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "pluginguard",
				Name:      "risk_score",
				Help:      "Static risk scores assigned during validation.",
				Buckets:   []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
			},
		),

		ExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pluginguard",
				Name:      "executions_total",
				Help:      "Total sandboxed plugin executions by outcome.",
			},
			[]string{"status"},
		),

		ExecutionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "pluginguard",
				Name:      "execution_duration_seconds",
				Help:      "Duration of sandboxed plugin executions.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
		),

		ActiveSandboxes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "pluginguard",
				Name:      "active_sandboxes",
				Help:      "Number of sandboxes currently executing.",
			},
		),

		ViolationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pluginguard",
				Name:      "violations_total",
				Help:      "Total sandbox violations by type and severity.",
			},
			[]string{"type", "severity"},
		),

		RecoveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pluginguard",
				Name:      "recoveries_total",
				Help:      "Total recovery decisions by strategy and outcome.",
			},
			[]string{"strategy", "outcome"},
		),

		QuarantinedPlugins: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "pluginguard",
				Name:      "quarantined_plugins",
				Help:      "Number of plugins currently quarantined.",
			},
		),

		PeakMemoryMB: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "pluginguard",
				Name:      "peak_memory_mb",
				Help:      "Peak memory observed per sandboxed execution.",
				Buckets:   prometheus.ExponentialBuckets(8, 2, 10),
			},
		),

		MonitorSamplesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "pluginguard",
				Name:      "monitor_samples_total",
				Help:      "Total resource samples collected by monitors.",
			},
		),
	}

	reg.MustRegister(
		m.ValidationsTotal,
		m.RiskScore,
		m.ExecutionsTotal,
		m.ExecutionDuration,
		m.ActiveSandboxes,
		m.ViolationsTotal,
		m.RecoveriesTotal,
		m.QuarantinedPlugins,
		m.PeakMemoryMB,
		m.MonitorSamplesTotal,
	)

	return m
}

// RecordValidation records a completed validation pass.
func (m *Metrics) RecordValidation(status string, riskScore uint) {
	m.ValidationsTotal.WithLabelValues(status).Inc()
	m.RiskScore.Observe(float64(riskScore))
}

// RecordExecution records a completed sandboxed execution.
func (m *Metrics) RecordExecution(status string, durationSec, peakMemoryMB float64) {
	m.ExecutionsTotal.WithLabelValues(status).Inc()
	m.ExecutionDuration.Observe(durationSec)
	m.PeakMemoryMB.Observe(peakMemoryMB)
}

// RecordViolation records a sandbox violation.
func (m *Metrics) RecordViolation(vType, severity string) {
	m.ViolationsTotal.WithLabelValues(vType, severity).Inc()
}

// RecordRecovery records a recovery manager decision.
func (m *Metrics) RecordRecovery(strategy string, succeeded bool) {
	outcome := "failed"
	if succeeded {
		outcome = "succeeded"
	}
	m.RecoveriesTotal.WithLabelValues(strategy, outcome).Inc()
}
