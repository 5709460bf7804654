// Package metrics holds the process's Prometheus collectors. Collectors are
// registered on a private registry, never the global default one.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is nil-safe: every recording method is a no-op on a nil receiver
// so components can be built without instrumentation in tests.
type Metrics struct {
	Registry *prometheus.Registry

	indexedContents prometheus.Gauge
	ingestResults   *prometheus.CounterVec
	reconcileOps    *prometheus.CounterVec
	patchOutcomes   *prometheus.CounterVec
	patchDuration   prometheus.Histogram
	unmatchedRules  prometheus.Counter
	pluginFailures  *prometheus.CounterVec
	gateOpen        prometheus.Gauge
	watcherEvents   *prometheus.CounterVec
	reportsSent     *prometheus.CounterVec
	observers       prometheus.Gauge
	observerDrops   prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		indexedContents: f.NewGauge(prometheus.GaugeOpts{
			Name: "adgobye_indexed_contents",
			Help: "Rows in the content index after the last committed batch",
		}),
		ingestResults: f.NewCounterVec(prometheus.CounterOpts{
			Name: "adgobye_ingest_results_total",
			Help: "Ingest decisions by result",
		}, []string{"result"}),
		reconcileOps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "adgobye_reconcile_ops_total",
			Help: "Reconciliation mutations by operation",
		}, []string{"op"}),
		patchOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "adgobye_patch_outcomes_total",
			Help: "Patch pipeline runs by outcome",
		}, []string{"outcome"}),
		patchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "adgobye_patch_duration_seconds",
			Help:    "Patch pipeline run duration",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		}),
		unmatchedRules: f.NewCounter(prometheus.CounterOpts{
			Name: "adgobye_unmatched_rules_total",
			Help: "Block rules that matched no object",
		}),
		pluginFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "adgobye_plugin_failures_total",
			Help: "Recovered plugin hook failures by plugin and hook",
		}, []string{"plugin", "hook"}),
		gateOpen: f.NewGauge(prometheus.GaugeOpts{
			Name: "adgobye_gate_open",
			Help: "1 when patching is allowed, 0 while the game is loading",
		}),
		watcherEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "adgobye_watcher_events_total",
			Help: "Filesystem and log watcher events by kind",
		}, []string{"kind"}),
		reportsSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "adgobye_unmatched_reports_total",
			Help: "Unmatched-rule reports by result",
		}, []string{"result"}),
		observers: f.NewGauge(prometheus.GaugeOpts{
			Name: "adgobye_observer_subscribers",
			Help: "Connected observer feed clients",
		}),
		observerDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "adgobye_observer_dropped_messages_total",
			Help: "Observer messages dropped because a client was not reading",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

func (m *Metrics) SetIndexed(n int) {
	if m == nil {
		return
	}
	m.indexedContents.Set(float64(n))
}

func (m *Metrics) IngestResult(result string) {
	if m == nil {
		return
	}
	m.ingestResults.WithLabelValues(result).Inc()
}

func (m *Metrics) ReconcileOps(op string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.reconcileOps.WithLabelValues(op).Add(float64(n))
}

func (m *Metrics) PatchOutcome(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.patchOutcomes.WithLabelValues(outcome).Inc()
	m.patchDuration.Observe(seconds)
}

func (m *Metrics) UnmatchedRules(n int) {
	if m == nil || n == 0 {
		return
	}
	m.unmatchedRules.Add(float64(n))
}

func (m *Metrics) PluginFailure(plugin, hook string) {
	if m == nil {
		return
	}
	m.pluginFailures.WithLabelValues(plugin, hook).Inc()
}

func (m *Metrics) SetGate(open bool) {
	if m == nil {
		return
	}
	if open {
		m.gateOpen.Set(1)
		return
	}
	m.gateOpen.Set(0)
}

func (m *Metrics) WatcherEvent(kind string) {
	if m == nil {
		return
	}
	m.watcherEvents.WithLabelValues(kind).Inc()
}

func (m *Metrics) ReportResult(result string) {
	if m == nil {
		return
	}
	m.reportsSent.WithLabelValues(result).Inc()
}

func (m *Metrics) SetObservers(n int) {
	if m == nil {
		return
	}
	m.observers.Set(float64(n))
}

func (m *Metrics) ObserverDropped() {
	if m == nil {
		return
	}
	m.observerDrops.Inc()
}
