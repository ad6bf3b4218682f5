// Package metrics exposes match server counters on a dedicated Prometheus registry.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/park285/cheese-arena/internal/match"
)

const namespace = "arena"

type Metrics struct {
	reg *prometheus.Registry

	sessionsCreated  prometheus.Counter
	sessionsStarted  prometheus.Counter
	sessionsFinished *prometheus.CounterVec
	moves            prometheus.Counter
	rejections       *prometheus.CounterVec
	connections      *prometheus.GaugeVec
	sendOverflow     prometheus.Counter
	applyLatency     prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sessions_created_total", Help: "Sessions created.",
		}),
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sessions_started_total", Help: "Sessions that reached active.",
		}),
		sessionsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sessions_finished_total", Help: "Sessions that became terminal.",
		}, []string{"result", "reason"}),
		moves: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "moves_total", Help: "Accepted moves.",
		}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "rejections_total", Help: "Rejected client requests by reason.",
		}, []string{"reason"}),
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connections", Help: "Open stream connections by role.",
		}, []string{"role"}),
		sendOverflow: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "send_overflow_total", Help: "Connections closed because their send queue filled up.",
		}),
		applyLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "move_apply_seconds", Help: "Time to validate and commit a move.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.sessionsCreated, m.sessionsStarted, m.sessionsFinished, m.moves,
		m.rejections, m.connections, m.sendOverflow, m.applyLatency,
	)
	return m
}

// RegisterLiveSessions exports a gauge read from fn at scrape time.
func (m *Metrics) RegisterLiveSessions(fn func() int) {
	if m == nil {
		return
	}
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Name: "live_sessions", Help: "Sessions held in the registry.",
	}, func() float64 { return float64(fn()) }))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) SessionCreated() {
	if m != nil {
		m.sessionsCreated.Inc()
	}
}

// Observe is a match.Listener. It only touches counters and never blocks.
func (m *Metrics) Observe(ev match.Event) {
	if m == nil {
		return
	}
	switch ev.Kind {
	case match.EventStarted:
		m.sessionsStarted.Inc()
	case match.EventMoveApplied:
		m.moves.Inc()
	case match.EventGameOver:
		if ev.Over != nil {
			m.sessionsFinished.WithLabelValues(string(ev.Over.Result), string(ev.Over.Reason)).Inc()
		}
	}
}

func (m *Metrics) Rejected(code match.Code) {
	if m != nil {
		m.rejections.WithLabelValues(string(code)).Inc()
	}
}

func (m *Metrics) ConnOpened(role match.Role) {
	if m != nil {
		m.connections.WithLabelValues(string(role)).Inc()
	}
}

func (m *Metrics) ConnClosed(role match.Role) {
	if m != nil {
		m.connections.WithLabelValues(string(role)).Dec()
	}
}

func (m *Metrics) SendOverflow() {
	if m != nil {
		m.sendOverflow.Inc()
	}
}

func (m *Metrics) ObserveApply(d time.Duration) {
	if m != nil {
		m.applyLatency.Observe(d.Seconds())
	}
}
