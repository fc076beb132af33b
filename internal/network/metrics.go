package network

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics Prometheus-метрики сетевой подсистемы и репликации.
// Все методы безопасны для nil-получателя.
type Metrics struct {
	messagesSent     *prometheus.CounterVec
	messagesReceived *prometheus.CounterVec
	bytesSent        *prometheus.CounterVec
	bytesReceived    *prometheus.CounterVec
	dropped          *prometheus.CounterVec
	decodeErrors     *prometheus.CounterVec

	connectedClients  prometheus.Gauge
	evictions         prometheus.Counter
	handshakes        *prometheus.CounterVec
	broadcastDuration prometheus.Histogram
}

// NewMetrics создаёт метрики и регистрирует их в reg (nil: без регистрации)
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "statesync",
			Name:      "messages_sent_total",
			Help:      "Отправленные сообщения по каналам.",
		}, []string{"channel"}),
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "statesync",
			Name:      "messages_received_total",
			Help:      "Полученные сообщения по каналам.",
		}, []string{"channel"}),
		bytesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "statesync",
			Name:      "bytes_sent_total",
			Help:      "Отправленные байты по каналам.",
		}, []string{"channel"}),
		bytesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "statesync",
			Name:      "bytes_received_total",
			Help:      "Полученные байты по каналам.",
		}, []string{"channel"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "statesync",
			Name:      "messages_dropped_total",
			Help:      "Сообщения, отброшенные из-за переполнения очередей.",
		}, []string{"channel"}),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "statesync",
			Name:      "decode_errors_total",
			Help:      "Некорректные сообщения и записи, пропущенные при разборе.",
		}, []string{"channel"}),
		connectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "statesync",
			Name:      "connected_clients",
			Help:      "Количество подключённых участников.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "statesync",
			Name:      "heartbeat_evictions_total",
			Help:      "Участники, отключённые по таймауту heartbeat.",
		}),
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "statesync",
			Name:      "handshakes_total",
			Help:      "Рукопожатия по результату (ok, full, error).",
		}, []string{"result"}),
		broadcastDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "statesync",
			Name:      "broadcast_duration_seconds",
			Help:      "Длительность рассылки состояния мира.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.messagesSent, m.messagesReceived, m.bytesSent, m.bytesReceived,
			m.dropped, m.decodeErrors, m.connectedClients, m.evictions,
			m.handshakes, m.broadcastDuration,
		)
	}
	return m
}

func (m *Metrics) ObserveSent(channel string, bytes int) {
	if m == nil {
		return
	}
	m.messagesSent.WithLabelValues(channel).Inc()
	m.bytesSent.WithLabelValues(channel).Add(float64(bytes))
}

func (m *Metrics) ObserveReceived(channel string, bytes int) {
	if m == nil {
		return
	}
	m.messagesReceived.WithLabelValues(channel).Inc()
	m.bytesReceived.WithLabelValues(channel).Add(float64(bytes))
}

func (m *Metrics) ObserveDrop(channel string) {
	if m != nil {
		m.dropped.WithLabelValues(channel).Inc()
	}
}

func (m *Metrics) ObserveDecodeError(channel string, n int) {
	if m != nil && n > 0 {
		m.decodeErrors.WithLabelValues(channel).Add(float64(n))
	}
}

func (m *Metrics) SetConnected(n int) {
	if m != nil {
		m.connectedClients.Set(float64(n))
	}
}

func (m *Metrics) ObserveEviction() {
	if m != nil {
		m.evictions.Inc()
	}
}

func (m *Metrics) ObserveHandshake(result string) {
	if m != nil {
		m.handshakes.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) ObserveBroadcast(d time.Duration) {
	if m != nil {
		m.broadcastDuration.Observe(d.Seconds())
	}
}
