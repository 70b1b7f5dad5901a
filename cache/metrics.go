package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts cache traffic per template name. A nil *Metrics records
// nothing.
type Metrics struct {
	hits            *prometheus.CounterVec
	misses          *prometheus.CounterVec
	loadErrors      *prometheus.CounterVec
	writeBackErrors *prometheus.CounterVec
}

// NewMetrics registers the cache metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	counter := func(name, help string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coursesaga",
			Subsystem: "cache",
			Name:      name,
			Help:      help,
		}, []string{"cache"})
	}
	return &Metrics{
		hits:            counter("hits_total", "Reads served from the cache."),
		misses:          counter("misses_total", "Reads that fell through to the loader."),
		loadErrors:      counter("load_errors_total", "Loader calls that failed."),
		writeBackErrors: counter("write_back_errors_total", "Loaded values that could not be stored."),
	}
}

func (m *Metrics) hit(name string) {
	if m != nil {
		m.hits.WithLabelValues(name).Inc()
	}
}

func (m *Metrics) miss(name string) {
	if m != nil {
		m.misses.WithLabelValues(name).Inc()
	}
}

func (m *Metrics) loadError(name string) {
	if m != nil {
		m.loadErrors.WithLabelValues(name).Inc()
	}
}

func (m *Metrics) writeBackError(name string) {
	if m != nil {
		m.writeBackErrors.WithLabelValues(name).Inc()
	}
}
