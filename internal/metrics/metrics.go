// Package metrics exports run and action instrumentation to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rendis/socialflow/pkg/schema"
)

const namespace = "socialflow"

// Metrics implements engine.Observer on its own registry, so several
// instances can coexist in one process (tests, embedded servers).
type Metrics struct {
	registry *prometheus.Registry

	runsStarted     prometheus.Counter
	runsActive      prometheus.Gauge
	runTransitions  *prometheus.CounterVec
	nodeDuration    *prometheus.HistogramVec
	actionsDispatch *prometheus.CounterVec
	actionsResolved *prometheus.CounterVec
	actionsInFlight prometheus.Gauge
	notifications   *prometheus.CounterVec
}

// New creates Metrics and registers its collectors together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_started_total",
			Help:      "Total number of runs started",
		}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_active",
			Help:      "Runs that are running or waiting",
		}),
		runTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "run_transitions_total",
				Help:      "Run status transitions",
			},
			[]string{"from", "to"},
		),
		nodeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "node_duration_seconds",
				Help:      "Duration of node executions in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"node_type", "status"}, // status: success, error
		),
		actionsDispatch: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "actions_dispatched_total",
				Help:      "Actions handed to executors",
			},
			[]string{"platform", "action", "mode"},
		),
		actionsResolved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "actions_resolved_total",
				Help:      "Action results received",
			},
			[]string{"platform", "status"}, // status: ok, failed
		),
		actionsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "actions_in_flight",
			Help:      "Dispatched actions awaiting a result",
		}),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Notifier calls by event and outcome",
			},
			[]string{"event", "outcome"}, // outcome: sent, failed
		),
	}

	m.registry = prometheus.NewRegistry()
	m.registry.MustRegister(
		m.runsStarted,
		m.runsActive,
		m.runTransitions,
		m.nodeDuration,
		m.actionsDispatch,
		m.actionsResolved,
		m.actionsInFlight,
		m.notifications,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (m *Metrics) RunStarted() {
	m.runsStarted.Inc()
}

func (m *Metrics) RunTransition(from, to schema.RunStatus) {
	m.runTransitions.WithLabelValues(statusLabel(from), statusLabel(to)).Inc()
	switch {
	case from == "" && !to.IsTerminal():
		m.runsActive.Inc()
	case from != "" && !from.IsTerminal() && to.IsTerminal():
		m.runsActive.Dec()
	}
}

func (m *Metrics) NodeFinished(nodeType string, d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.nodeDuration.WithLabelValues(nodeType, status).Observe(d.Seconds())
}

func (m *Metrics) ActionDispatched(req *schema.ActionRequest) {
	m.actionsInFlight.Inc()
	if req == nil {
		m.actionsDispatch.WithLabelValues("unknown", "unknown", "unknown").Inc()
		return
	}
	m.actionsDispatch.WithLabelValues(string(req.Platform), string(req.Action), string(req.Mode)).Inc()
}

// ActionResolved counts a result. req is nil when the result arrived for a
// request this process never dispatched (for example after a restart).
func (m *Metrics) ActionResolved(req *schema.ActionRequest, ok bool) {
	status := "ok"
	if !ok {
		status = "failed"
	}
	platform := "unknown"
	if req != nil {
		platform = string(req.Platform)
		m.actionsInFlight.Dec()
	}
	m.actionsResolved.WithLabelValues(platform, status).Inc()
}

func (m *Metrics) NotificationSent(event string, err error) {
	outcome := "sent"
	if err != nil {
		outcome = "failed"
	}
	m.notifications.WithLabelValues(event, outcome).Inc()
}

func statusLabel(s schema.RunStatus) string {
	if s == "" {
		return "none"
	}
	return string(s)
}
