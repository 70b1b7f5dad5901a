package coursesaga

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the saga counters. A nil *Metrics records nothing.
type Metrics struct {
	started       prometheus.Counter
	outcomes      *prometheus.CounterVec
	compensations *prometheus.CounterVec
	duration      prometheus.Histogram
}

// NewMetrics registers the saga metrics on reg. A nil reg creates
// unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		started: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "coursesaga",
			Name:      "sagas_started_total",
			Help:      "Sagas started by the coordinator.",
		}),
		outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coursesaga",
			Name:      "sagas_finished_total",
			Help:      "Sagas finished, by terminal status.",
		}, []string{"status"}),
		compensations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coursesaga",
			Name:      "compensations_total",
			Help:      "Compensation calls, by step and result.",
		}, []string{"step", "result"}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "coursesaga",
			Name:      "saga_duration_seconds",
			Help:      "Wall time from saga start to terminal status.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) sagaStarted() {
	if m == nil {
		return
	}
	m.started.Inc()
}

func (m *Metrics) sagaFinished(status SagaStatus, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(string(status)).Inc()
	m.duration.Observe(elapsed.Seconds())
}

func (m *Metrics) compensated(step StepName, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "failed"
	}
	m.compensations.WithLabelValues(string(step), result).Inc()
}
