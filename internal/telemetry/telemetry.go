// Package telemetry keeps run counters in a private Prometheus registry and
// writes them out in the node_exporter textfile format.
package telemetry

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	reg *prometheus.Registry

	invocations       *prometheus.CounterVec
	invocationSeconds *prometheus.HistogramVec
	metricValue       *prometheus.GaugeVec
	metricMissing     prometheus.Counter
	cleanupErrors     prometheus.Counter
	lastRun           prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fugebench",
			Name:      "tool_invocations_total",
			Help:      "External tool invocations by mode and exit reason.",
		}, []string{"mode", "reason"}),
		invocationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fugebench",
			Name:      "tool_invocation_seconds",
			Help:      "Wall time of external tool invocations.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"mode"}),
		metricValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "fugebench",
			Name:      "artifact_metric",
			Help:      "Last extracted metric value per artifact.",
		}, []string{"artifact", "marker"}),
		metricMissing: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fugebench",
			Name:      "metric_not_found_total",
			Help:      "Evaluations whose output carried no metric line.",
		}),
		cleanupErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fugebench",
			Name:      "cleanup_errors_total",
			Help:      "Files the run created but could not remove.",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fugebench",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
	}
	m.reg.MustRegister(m.invocations, m.invocationSeconds, m.metricValue, m.metricMissing, m.cleanupErrors, m.lastRun)
	return m
}

// All methods accept a nil receiver so callers can run without telemetry.

func (m *Metrics) ObserveInvocation(mode, reason string, d time.Duration) {
	if m == nil {
		return
	}
	m.invocations.WithLabelValues(mode, reason).Inc()
	m.invocationSeconds.WithLabelValues(mode).Observe(d.Seconds())
}

func (m *Metrics) SetMetric(artifact, marker string, v float64) {
	if m == nil {
		return
	}
	m.metricValue.WithLabelValues(artifact, marker).Set(v)
}

func (m *Metrics) MetricMissing() {
	if m == nil {
		return
	}
	m.metricMissing.Inc()
}

func (m *Metrics) CleanupErrors(n int) {
	if m == nil || n == 0 {
		return
	}
	m.cleanupErrors.Add(float64(n))
}

func (m *Metrics) RunFinished(t time.Time) {
	if m == nil {
		return
	}
	m.lastRun.Set(float64(t.Unix()))
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.reg); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
