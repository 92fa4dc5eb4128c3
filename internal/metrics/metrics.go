// Package metrics exposes Prometheus counters for fetches, evaluation and the broker.
// All methods are safe on a nil *Metrics so components can run without instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pricealerts"

// Metrics groups the service counters.
type Metrics struct {
	fetches      *prometheus.CounterVec
	cacheLookups *prometheus.CounterVec
	triggers     prometheus.Counter
	deduplicated prometheus.Counter
	evalErrors   prometheus.Counter
	reconnects   prometheus.Counter
	jobRuns      *prometheus.CounterVec
}

// New creates the counters and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetcher",
			Name:      "upstream_fetches_total",
			Help:      "Upstream price fetches by result.",
		}, []string{"result"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetcher",
			Name:      "cache_lookups_total",
			Help:      "Quote cache lookups by result.",
		}, []string{"result"}),
		triggers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "evaluator",
			Name:      "alerts_triggered_total",
			Help:      "Alert trigger events published.",
		}),
		deduplicated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "evaluator",
			Name:      "alerts_deduplicated_total",
			Help:      "Triggers suppressed by the dedup window.",
		}),
		evalErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "evaluator",
			Name:      "evaluation_errors_total",
			Help:      "Per-alert evaluation failures.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "broker_connects_total",
			Help:      "Broker connections established.",
		}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Scheduled job executions by job and result.",
		}, []string{"job", "result"}),
	}

	if reg != nil {
		reg.MustRegister(m.fetches, m.cacheLookups, m.triggers, m.deduplicated, m.evalErrors, m.reconnects, m.jobRuns)
	}
	return m
}

// ObserveFetch counts an upstream fetch.
func (m *Metrics) ObserveFetch(err error) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(result(err)).Inc()
}

// ObserveCache counts a cache lookup.
func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	label := "miss"
	if hit {
		label = "hit"
	}
	m.cacheLookups.WithLabelValues(label).Inc()
}

// AlertTriggered counts a published trigger.
func (m *Metrics) AlertTriggered() {
	if m == nil {
		return
	}
	m.triggers.Inc()
}

// AlertDeduplicated counts a suppressed trigger.
func (m *Metrics) AlertDeduplicated() {
	if m == nil {
		return
	}
	m.deduplicated.Inc()
}

// EvaluationFailed counts a per-alert failure.
func (m *Metrics) EvaluationFailed() {
	if m == nil {
		return
	}
	m.evalErrors.Inc()
}

// BrokerConnected counts a broker (re)connection.
func (m *Metrics) BrokerConnected() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

// ObserveJob counts a scheduled job execution.
func (m *Metrics) ObserveJob(job string, err error) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job, result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
