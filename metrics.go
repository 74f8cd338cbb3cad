package chanhub

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultOK        = "ok"
	resultFull      = "full"
	resultClosed    = "closed"
	resultDelivered = "delivered"
	resultDropped   = "dropped"
)

// Metrics holds the Prometheus collectors shared by every Channel and Broker
// it is passed to with WithMetrics. A nil *Metrics records nothing.
type Metrics struct {
	sends       *prometheus.CounterVec
	receives    prometheus.Counter
	discarded   prometheus.Counter
	transitions *prometheus.CounterVec
	publishes   prometheus.Counter
	deliveries  *prometheus.CounterVec
	subscribers prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		sends: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chanhub",
			Name:      "channel_sends_total",
			Help:      "Send and TrySend calls by outcome.",
		}, []string{"result"}),
		receives: f.NewCounter(prometheus.CounterOpts{
			Namespace: "chanhub",
			Name:      "channel_receives_total",
			Help:      "Payloads handed to receivers.",
		}),
		discarded: f.NewCounter(prometheus.CounterOpts{
			Namespace: "chanhub",
			Name:      "channel_discarded_total",
			Help:      "Buffered payloads released without delivery when receivers went away.",
		}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chanhub",
			Name:      "lifecycle_transitions_total",
			Help:      "Lifecycle state changes by object kind and entered state.",
		}, []string{"kind", "state"}),
		publishes: f.NewCounter(prometheus.CounterOpts{
			Namespace: "chanhub",
			Name:      "broker_publishes_total",
			Help:      "Publish calls on open brokers.",
		}),
		deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chanhub",
			Name:      "broker_deliveries_total",
			Help:      "Per-subscriber fan-out attempts by outcome.",
		}, []string{"result"}),
		subscribers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "chanhub",
			Name:      "broker_subscribers",
			Help:      "Subscriber channels currently registered with a broker.",
		}),
	}
}

func (m *Metrics) send(result string) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(result).Inc()
}

func (m *Metrics) receive() {
	if m == nil {
		return
	}
	m.receives.Inc()
}

func (m *Metrics) discard(n int) {
	if m == nil || n == 0 {
		return
	}
	m.discarded.Add(float64(n))
}

func (m *Metrics) transition(kind, state string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(kind, state).Inc()
}

func (m *Metrics) published(delivered, dropped int) {
	if m == nil {
		return
	}
	m.publishes.Inc()
	m.deliveries.WithLabelValues(resultDelivered).Add(float64(delivered))
	m.deliveries.WithLabelValues(resultDropped).Add(float64(dropped))
}

func (m *Metrics) subscribed(delta int) {
	if m == nil {
		return
	}
	m.subscribers.Add(float64(delta))
}
