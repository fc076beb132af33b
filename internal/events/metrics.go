package events

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics счётчики диспетчера событий
type Metrics struct {
	dispatched *prometheus.CounterVec
	panics     *prometheus.CounterVec
	pending    prometheus.Gauge
}

// NewMetrics создаёт метрики и регистрирует их в reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "statesync",
			Subsystem: "events",
			Name:      "dispatched_total",
			Help:      "Количество доставленных событий по типам.",
		}, []string{"type"}),
		panics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "statesync",
			Subsystem: "events",
			Name:      "handler_panics_total",
			Help:      "Паники в обработчиках событий.",
		}, []string{"type"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "statesync",
			Subsystem: "events",
			Name:      "pending",
			Help:      "Событий в очереди после последней обработки.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.dispatched, m.panics, m.pending)
	}
	return m
}

func (m *Metrics) observeDispatch(t Type) {
	if m != nil {
		m.dispatched.WithLabelValues(t.String()).Inc()
	}
}

func (m *Metrics) observePanic(t Type) {
	if m != nil {
		m.panics.WithLabelValues(t.String()).Inc()
	}
}

func (m *Metrics) setPending(n int) {
	if m != nil {
		m.pending.Set(float64(n))
	}
}
