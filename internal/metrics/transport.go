package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/opsdeck/realtime/internal/connection"
)

// otherChannel labels frames on channels not declared to NewTransportMetrics,
// keeping label cardinality bounded when the server invents new channels.
const otherChannel = "other"

var states = []connection.State{
	connection.StateDisconnected,
	connection.StateConnecting,
	connection.StateConnected,
	connection.StateError,
}

// TransportMetrics records client telemetry. It implements connection.Observer.
type TransportMetrics struct {
	State             *prometheus.GaugeVec
	ReconnectAttempts prometheus.Gauge
	ReconnectsTotal   prometheus.Counter
	ReconnectDelay    prometheus.Histogram
	FramesReceived    *prometheus.CounterVec
	FramesSent        *prometheus.CounterVec
	FramesDropped     *prometheus.CounterVec
	HandlerPanics     *prometheus.CounterVec
	QueueDepthGauge   prometheus.Gauge
	Subscriptions     prometheus.Gauge

	known map[string]bool
}

var _ connection.Observer = (*TransportMetrics)(nil)

// NewTransportMetrics creates and registers client metrics on the given
// registry. channels lists the channel names that get their own label value.
func NewTransportMetrics(reg prometheus.Registerer, channels ...string) *TransportMetrics {
	m := &TransportMetrics{
		State: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "state",
			Help:      "1 for the current connection state, 0 otherwise.",
		}, []string{"state"}),
		ReconnectAttempts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "reconnect_attempts",
			Help:      "Consecutive reconnect attempts since the last successful connect.",
		}),
		ReconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "reconnects_scheduled_total",
			Help:      "Total number of reconnect attempts scheduled.",
		}),
		ReconnectDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "reconnect_delay_seconds",
			Help:      "Backoff delay before each scheduled reconnect.",
			Buckets:   []float64{0.5, 1, 2, 4, 8, 16, 30, 60},
		}),
		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "received_total",
			Help:      "Total number of well-formed inbound frames by channel.",
		}, []string{"channel"}),
		FramesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "sent_total",
			Help:      "Total number of outbound frames written by channel.",
		}, []string{"channel"}),
		FramesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "dropped_total",
			Help:      "Total number of frames dropped by reason.",
		}, []string{"reason"}),
		HandlerPanics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscriptions",
			Name:      "handler_panics_total",
			Help:      "Total number of recovered subscriber panics by channel.",
		}, []string{"channel"}),
		QueueDepthGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Outbound messages waiting for a connection.",
		}),
		Subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "subscriptions",
			Name:      "active",
			Help:      "Number of registered subscriptions.",
		}),
		known: make(map[string]bool, len(channels)),
	}
	for _, ch := range channels {
		m.known[ch] = true
	}

	reg.MustRegister(
		m.State,
		m.ReconnectAttempts,
		m.ReconnectsTotal,
		m.ReconnectDelay,
		m.FramesReceived,
		m.FramesSent,
		m.FramesDropped,
		m.HandlerPanics,
		m.QueueDepthGauge,
		m.Subscriptions,
	)
	m.StateChanged(connection.Status{State: connection.StateDisconnected})
	return m
}

func (m *TransportMetrics) channel(name string) string {
	if m.known[name] {
		return name
	}
	return otherChannel
}

func (m *TransportMetrics) StateChanged(st connection.Status) {
	for _, s := range states {
		v := 0.0
		if s == st.State {
			v = 1
		}
		m.State.WithLabelValues(s.String()).Set(v)
	}
	m.ReconnectAttempts.Set(float64(st.ReconnectAttempts))
	m.Subscriptions.Set(float64(st.Subscriptions))
}

func (m *TransportMetrics) ReconnectScheduled(attempt int, delay time.Duration) {
	m.ReconnectsTotal.Inc()
	m.ReconnectAttempts.Set(float64(attempt))
	m.ReconnectDelay.Observe(delay.Seconds())
}

func (m *TransportMetrics) FrameReceived(channel string) {
	m.FramesReceived.WithLabelValues(m.channel(channel)).Inc()
}

func (m *TransportMetrics) FrameSent(channel string) {
	m.FramesSent.WithLabelValues(m.channel(channel)).Inc()
}

func (m *TransportMetrics) FrameDropped(reason string) {
	m.FramesDropped.WithLabelValues(reason).Inc()
}

func (m *TransportMetrics) HandlerPanicked(channel string) {
	m.HandlerPanics.WithLabelValues(m.channel(channel)).Inc()
}

func (m *TransportMetrics) QueueDepth(n int) {
	m.QueueDepthGauge.Set(float64(n))
}

func (m *TransportMetrics) SubscriptionCount(n int) {
	m.Subscriptions.Set(float64(n))
}
