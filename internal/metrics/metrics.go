package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"veilchat/internal/domain"
)

const namespace = "veilchat"

// Handshake outcomes.
const (
	HandshakeOK     = "ok"
	HandshakeFailed = "failed"
	HandshakeFull   = "server_full"
)

// Metrics holds the relay's collectors. A nil *Metrics records nothing.
type Metrics struct {
	sessions    prometheus.Gauge
	handshakes  *prometheus.CounterVec
	relayed     prometheus.Counter
	delivered   prometheus.Counter
	dropped     prometheus.Counter
	disconnects *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of admitted sessions",
		}),
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshakes_total",
			Help:      "Handshakes attempted, by result",
		}, []string{"result"}),
		relayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_relayed_total",
			Help:      "Chat messages accepted for fan-out",
		}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_delivered_total",
			Help:      "Sealed frames written to sessions",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Frames not delivered because a session queue was full",
		}),
		disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disconnects_total",
			Help:      "Sessions removed, by reason",
		}, []string{"reason"}),
	}
	for _, c := range []prometheus.Collector{m.sessions, m.handshakes, m.relayed, m.delivered, m.dropped, m.disconnects} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) SessionAdmitted() {
	if m == nil {
		return
	}
	m.sessions.Inc()
	m.handshakes.WithLabelValues(HandshakeOK).Inc()
}

func (m *Metrics) SessionRemoved(r domain.Reason) {
	if m == nil {
		return
	}
	m.sessions.Dec()
	m.disconnects.WithLabelValues(string(r)).Inc()
}

// HandshakeRejected counts a connection that never became a session.
func (m *Metrics) HandshakeRejected(result string) {
	if m == nil {
		return
	}
	m.handshakes.WithLabelValues(result).Inc()
}

func (m *Metrics) MessageRelayed() {
	if m == nil {
		return
	}
	m.relayed.Inc()
}

func (m *Metrics) FrameDelivered() {
	if m == nil {
		return
	}
	m.delivered.Inc()
}

func (m *Metrics) FrameDropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}
