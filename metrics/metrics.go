// Package metrics exposes the gateway's Prometheus collectors. All methods are safe to call on a nil *Metrics, which
// disables collection.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "talkie"

type Metrics struct {
	connections       prometheus.Gauge
	onlineIdentities  prometheus.Gauge
	rooms             prometheus.Gauge
	messagesSent      prometheus.Counter
	statusTransitions *prometheus.CounterVec
	handshakeFailures prometheus.Counter
	eventErrors       *prometheus.CounterVec
	signals           *prometheus.CounterVec
	droppedConns      prometheus.Counter

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with reg. If reg is nil, a fresh registry is used.
func New(reg *prometheus.Registry) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connections", Help: "Number of live websocket connections.",
		}),
		onlineIdentities: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "online_identities", Help: "Number of identities with at least one live connection.",
		}),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "rooms", Help: "Number of rooms with at least one joined connection.",
		}),
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_sent_total", Help: "Messages persisted and broadcast.",
		}),
		statusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "receipts_total", Help: "Receipt marks that changed a message.",
		}, []string{"kind"}),
		handshakeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "handshake_failures_total", Help: "Rejected connection handshakes.",
		}),
		eventErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "event_errors_total", Help: "Client events answered with an error.",
		}, []string{"kind"}),
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "signals_total", Help: "Relayed call signaling events.",
		}, []string{"kind"}),
		droppedConns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "slow_consumers_dropped_total", Help: "Connections closed because their send queue was full.",
		}),
		gatherer: reg,
	}
	for _, c := range []prometheus.Collector{
		m.connections, m.onlineIdentities, m.rooms, m.messagesSent, m.statusTransitions,
		m.handshakeFailures, m.eventErrors, m.signals, m.droppedConns,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) SetOnline(n int) {
	if m != nil {
		m.onlineIdentities.Set(float64(n))
	}
}

func (m *Metrics) SetRooms(n int) {
	if m != nil {
		m.rooms.Set(float64(n))
	}
}

func (m *Metrics) MessageSent() {
	if m != nil {
		m.messagesSent.Inc()
	}
}

// Receipt counts a mark that changed a message, kind is "delivered" or "read".
func (m *Metrics) Receipt(kind string) {
	if m != nil {
		m.statusTransitions.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) HandshakeFailed() {
	if m != nil {
		m.handshakeFailures.Inc()
	}
}

func (m *Metrics) EventError(kind string) {
	if m != nil {
		m.eventErrors.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) Signal(kind string) {
	if m != nil {
		m.signals.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) SlowConsumerDropped() {
	if m != nil {
		m.droppedConns.Inc()
	}
}
