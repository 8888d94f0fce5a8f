// Package metrics holds the bot's Prometheus collectors.
//
// Every recording method is nil-safe so components can run without metrics
// (tests, check-config).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tophourbot"

// Metrics holds all Prometheus metrics for the bot.
type Metrics struct {
	registry *prometheus.Registry

	// Inbound
	InboundLines *prometheus.CounterVec // kind: ping, privmsg, other
	Attached     prometheus.Gauge

	// Outbound
	OutboundActions *prometheus.CounterVec // status: sent, dropped, failed
	SendWait        prometheus.Histogram

	// Aggregation
	Rounds      *prometheus.CounterVec // kind, outcome: reported, discarded
	RoundVotes  *prometheus.HistogramVec
	LastAverage *prometheus.GaugeVec

	// Connection
	Connects         prometheus.Counter
	Disconnects      prometheus.Counter
	Latency          prometheus.Gauge
	HandlerRestarts  *prometheus.CounterVec
	ReportsPersisted *prometheus.CounterVec // status: ok, error
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		InboundLines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_lines_total",
			Help:      "Inbound protocol lines by kind",
		}, []string{"kind"}),
		Attached: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hub_attached_channels",
			Help:      "Channels attached to the room hub",
		}),

		OutboundActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_actions_total",
			Help:      "Outbound chat actions by result",
		}, []string{"status"}),
		SendWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "send_wait_seconds",
			Help:      "Time important sends spent waiting for the cooldown",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 1.5, 3, 6, 12},
		}),

		Rounds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_total",
			Help:      "Aggregation rounds by kind and outcome",
		}, []string{"kind", "outcome"}),
		RoundVotes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "round_votes",
			Help:      "Contributors counted per concluded round",
			Buckets:   []float64{1, 5, 10, 20, 40, 80, 160, 320},
		}, []string{"kind"}),
		LastAverage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_reported_value",
			Help:      "Value of the last reported round (average or delta)",
		}, []string{"kind"}),

		Connects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connects_total",
			Help:      "Successful connections",
		}),
		Disconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disconnects_total",
			Help:      "Connections that ended",
		}),
		Latency: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "latency_seconds",
			Help:      "Last measured transport round trip",
		}),
		HandlerRestarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_restarts_total",
			Help:      "Supervised task restarts after a failure",
		}, []string{"task"}),
		ReportsPersisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_persisted_total",
			Help:      "Round reports written to storage",
		}, []string{"status"}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.InboundLines,
		m.Attached,
		m.OutboundActions,
		m.SendWait,
		m.Rounds,
		m.RoundVotes,
		m.LastAverage,
		m.Connects,
		m.Disconnects,
		m.Latency,
		m.HandlerRestarts,
		m.ReportsPersisted,
	)
	return m
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Inbound(kind string) {
	if m == nil {
		return
	}
	m.InboundLines.WithLabelValues(kind).Inc()
}

func (m *Metrics) SetAttached(n int) {
	if m == nil {
		return
	}
	m.Attached.Set(float64(n))
}

func (m *Metrics) Outbound(status string) {
	if m == nil {
		return
	}
	m.OutboundActions.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveSendWait(seconds float64) {
	if m == nil {
		return
	}
	m.SendWait.Observe(seconds)
}

func (m *Metrics) Round(kind, outcome string, votes int) {
	if m == nil {
		return
	}
	m.Rounds.WithLabelValues(kind, outcome).Inc()
	m.RoundVotes.WithLabelValues(kind).Observe(float64(votes))
}

func (m *Metrics) Reported(kind string, value float64) {
	if m == nil {
		return
	}
	m.LastAverage.WithLabelValues(kind).Set(value)
}

func (m *Metrics) Connected() {
	if m == nil {
		return
	}
	m.Connects.Inc()
}

func (m *Metrics) Disconnected() {
	if m == nil {
		return
	}
	m.Disconnects.Inc()
}

func (m *Metrics) SetLatency(seconds float64) {
	if m == nil {
		return
	}
	m.Latency.Set(seconds)
}

func (m *Metrics) Restarted(task string) {
	if m == nil {
		return
	}
	m.HandlerRestarts.WithLabelValues(task).Inc()
}

func (m *Metrics) Persisted(ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.ReportsPersisted.WithLabelValues(status).Inc()
}
