// Package telemetry exposes Prometheus metrics for sweeps, checks, run monitoring
// and quality analysis.
//
// Every method is safe on a nil *Metrics so components can be built without it.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metric names.
const (
	MetricSweepDurationSeconds = "svcreg_sweep_duration_seconds"
	MetricGroupsTotal          = "svcreg_dedup_groups_total"
	MetricRetrievalErrorsTotal = "svcreg_dedup_retrieval_errors_total"
	MetricChecksTotal          = "svcreg_dedup_checks_total"
	MetricRunsTotal            = "svcreg_runs_total"
	MetricRunSuccessRate       = "svcreg_run_success_rate"
	MetricAlertsTotal          = "svcreg_alerts_total"
	MetricQualityScore         = "svcreg_quality_score"
	MetricQualitySectionScore  = "svcreg_quality_section_score"
)

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	sweepDuration   *prometheus.HistogramVec
	groups          *prometheus.CounterVec
	retrievalErrors *prometheus.CounterVec
	checks          *prometheus.CounterVec
	runs            *prometheus.CounterVec
	runSuccessRate  *prometheus.GaugeVec
	alerts          *prometheus.CounterVec
	quality         prometheus.Gauge
	qualitySections *prometheus.GaugeVec
}

// New creates the collectors and registers them, plus the Go runtime and process
// collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sweepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricSweepDurationSeconds,
			Help:    "Duration of deduplication sweeps.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"result"}),
		groups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricGroupsTotal,
			Help: "Duplicate groups processed by sweeps, by outcome.",
		}, []string{"outcome"}),
		retrievalErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricRetrievalErrorsTotal,
			Help: "Candidate retrieval strategy failures.",
		}, []string{"strategy"}),
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricChecksTotal,
			Help: "Single-record duplicate checks, by decision.",
		}, []string{"duplicate"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricRunsTotal,
			Help: "Collection runs submitted, by source.",
		}, []string{"source"}),
		runSuccessRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: MetricRunSuccessRate,
			Help: "Success rate of the last run of each source.",
		}, []string{"source"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricAlertsTotal,
			Help: "Monitoring alerts raised, by type and severity.",
		}, []string{"type", "severity"}),
		quality: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricQualityScore,
			Help: "Overall registry quality score of the last analysis.",
		}),
		qualitySections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: MetricQualitySectionScore,
			Help: "Quality section scores of the last analysis.",
		}, []string{"section"}),
	}

	m.registry.MustRegister(
		m.sweepDuration,
		m.groups,
		m.retrievalErrors,
		m.checks,
		m.runs,
		m.runSuccessRate,
		m.alerts,
		m.quality,
		m.qualitySections,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors live on.
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
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// ObserveSweep records a sweep duration. result is "ok", "canceled" or "error".
func (m *Metrics) ObserveSweep(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.sweepDuration.WithLabelValues(result).Observe(d.Seconds())
}

// IncGroups adds n groups with the given outcome.
func (m *Metrics) IncGroups(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.groups.WithLabelValues(outcome).Add(float64(n))
}

// IncRetrievalError counts one failed strategy lookup.
func (m *Metrics) IncRetrievalError(strategy string) {
	if m == nil {
		return
	}
	m.retrievalErrors.WithLabelValues(strategy).Inc()
}

// IncCheck counts a single-record duplicate decision.
func (m *Metrics) IncCheck(duplicate bool) {
	if m == nil {
		return
	}
	label := "false"
	if duplicate {
		label = "true"
	}
	m.checks.WithLabelValues(label).Inc()
}

// ObserveRun counts a submitted run and records its success rate.
func (m *Metrics) ObserveRun(source string, successRate float64) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(source).Inc()
	m.runSuccessRate.WithLabelValues(source).Set(successRate)
}

// IncAlert counts a raised alert.
func (m *Metrics) IncAlert(alertType, severity string) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(alertType, severity).Inc()
}

// SetQuality records the overall score and each section score of a quality report.
func (m *Metrics) SetQuality(overall float64, sections map[string]float64) {
	if m == nil {
		return
	}
	m.quality.Set(overall)
	for name, v := range sections {
		m.qualitySections.WithLabelValues(name).Set(v)
	}
}
