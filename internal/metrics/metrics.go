// Package metrics exposes probe, cache and batch instrumentation in the
// Prometheus text format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hamed0406/netprobe/internal/probe"
)

const DefaultNamespace = "netprobe"

// Metrics owns a private registry, not the global default one.
type Metrics struct {
	registry *prometheus.Registry

	probeExecutions *prometheus.CounterVec
	probeDuration   *prometheus.HistogramVec
	probeInflight   prometheus.Gauge
	cacheLookups    *prometheus.CounterVec
	batches         prometheus.Counter
	batchDuration   prometheus.Histogram
	batchTargets    prometheus.Histogram
	alerts          *prometheus.CounterVec
}

func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		probeExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probe_executions_total",
			Help:      "Probe executions by kind, outcome and failure reason.",
		}, []string{"kind", "outcome", "reason"}),
		probeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_duration_seconds",
			Help:      "Wall time of probe executions.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"kind"}),
		probeInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "probe_inflight",
			Help:      "Probes currently executing.",
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Result cache lookups by result (hit or miss).",
		}, []string{"result"}),
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Completed batch runs.",
		}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Wall time of batch runs.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		batchTargets: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_targets",
			Help:      "Targets per batch.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_sent_total",
			Help:      "Alerts delivered by type.",
		}, []string{"type"}),
	}
	reg.MustRegister(
		m.probeExecutions, m.probeDuration, m.probeInflight, m.cacheLookups,
		m.batches, m.batchDuration, m.batchTargets, m.alerts,
	)
	return m
}

func (m *Metrics) ProbeStarted(kind probe.Kind) {
	m.probeInflight.Inc()
}

func (m *Metrics) ProbeFinished(kind probe.Kind, res probe.Result, d time.Duration) {
	m.probeInflight.Dec()
	outcome, reason := "success", ""
	if !res.OK {
		outcome, reason = "failure", res.Reason
	}
	m.probeExecutions.WithLabelValues(string(kind), outcome, reason).Inc()
	m.probeDuration.WithLabelValues(string(kind)).Observe(d.Seconds())
}

func (m *Metrics) CacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) BatchFinished(targets int, d time.Duration) {
	m.batches.Inc()
	m.batchDuration.Observe(d.Seconds())
	m.batchTargets.Observe(float64(targets))
}

// AlertSent counts a delivered alert ("down", "recovered", "cert_expiring").
func (m *Metrics) AlertSent(kind string) {
	m.alerts.WithLabelValues(kind).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
