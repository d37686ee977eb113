package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type hubMetrics struct {
	activeSessions prometheus.Gauge
	sessionTotal   prometheus.Counter
	reapedTotal    prometheus.Counter
	sweeps         prometheus.Counter
	sweepLatency   prometheus.Histogram
	upgradeRefused *prometheus.CounterVec
	chatAccepted   prometheus.Counter
	chatRejected   *prometheus.CounterVec
	framesDropped  prometheus.Counter
	storeErrors    *prometheus.CounterVec
}

func newHubMetrics(reg prometheus.Registerer) *hubMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &hubMetrics{
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "presencehub_sessions_active",
			Help: "Current number of admitted websocket sessions.",
		}),
		sessionTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "presencehub_sessions_total",
			Help: "Total number of sessions admitted since start.",
		}),
		reapedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "presencehub_sessions_reaped_total",
			Help: "Sessions terminated by the liveness sweep.",
		}),
		sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "presencehub_sweeps_total",
			Help: "Liveness sweeps executed.",
		}),
		sweepLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "presencehub_sweep_duration_seconds",
			Help:    "Duration of a liveness sweep.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		upgradeRefused: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "presencehub_upgrades_refused_total",
			Help: "Websocket upgrades refused, grouped by reason.",
		}, []string{"reason"}),
		chatAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "presencehub_chat_messages_total",
			Help: "Chat messages accepted and broadcast.",
		}),
		chatRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "presencehub_chat_rejected_total",
			Help: "Inbound frames rejected, grouped by reason.",
		}, []string{"reason"}),
		framesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "presencehub_frames_dropped_total",
			Help: "Outbound frames dropped because a session buffer was full.",
		}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "presencehub_store_errors_total",
			Help: "Ephemeral store failures, grouped by operation.",
		}, []string{"op"}),
	}

	reg.MustRegister(
		m.activeSessions,
		m.sessionTotal,
		m.reapedTotal,
		m.sweeps,
		m.sweepLatency,
		m.upgradeRefused,
		m.chatAccepted,
		m.chatRejected,
		m.framesDropped,
		m.storeErrors,
	)
	return m
}

func (m *hubMetrics) incSession() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
	m.sessionTotal.Inc()
}

func (m *hubMetrics) decSession() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

func (m *hubMetrics) recordReap() {
	if m == nil {
		return
	}
	m.reapedTotal.Inc()
}

func (m *hubMetrics) observeSweep(dur time.Duration) {
	if m == nil {
		return
	}
	m.sweeps.Inc()
	m.sweepLatency.Observe(dur.Seconds())
}

func (m *hubMetrics) recordUpgradeRefused(reason string) {
	if m == nil {
		return
	}
	m.upgradeRefused.WithLabelValues(reason).Inc()
}

func (m *hubMetrics) recordChatAccepted() {
	if m == nil {
		return
	}
	m.chatAccepted.Inc()
}

func (m *hubMetrics) recordChatRejected(reason string) {
	if m == nil {
		return
	}
	m.chatRejected.WithLabelValues(reason).Inc()
}

func (m *hubMetrics) recordDrop() {
	if m == nil {
		return
	}
	m.framesDropped.Inc()
}

func (m *hubMetrics) recordStoreError(op string) {
	if m == nil {
		return
	}
	if op == "" {
		op = "unknown"
	}
	m.storeErrors.WithLabelValues(op).Inc()
}
