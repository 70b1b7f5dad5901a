package bus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts deliveries per topic and group. A nil *Metrics records
// nothing.
type Metrics struct {
	deliveredTotal    *prometheus.CounterVec
	retriedTotal      *prometheus.CounterVec
	deadLetteredTotal *prometheus.CounterVec
}

// NewMetrics registers the bus metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	labels := []string{"topic", "group"}
	return &Metrics{
		deliveredTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coursesaga",
			Subsystem: "bus",
			Name:      "delivered_total",
			Help:      "Messages handled successfully.",
		}, labels),
		retriedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coursesaga",
			Subsystem: "bus",
			Name:      "redeliveries_total",
			Help:      "Redeliveries after a handler error.",
		}, labels),
		deadLetteredTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coursesaga",
			Subsystem: "bus",
			Name:      "dead_lettered_total",
			Help:      "Messages moved to a dead-letter topic.",
		}, labels),
	}
}

func (m *Metrics) delivered(topic, group string) {
	if m != nil {
		m.deliveredTotal.WithLabelValues(topic, group).Inc()
	}
}

func (m *Metrics) retried(topic, group string) {
	if m != nil {
		m.retriedTotal.WithLabelValues(topic, group).Inc()
	}
}

func (m *Metrics) deadLettered(topic, group string) {
	if m != nil {
		m.deadLetteredTotal.WithLabelValues(topic, group).Inc()
	}
}
