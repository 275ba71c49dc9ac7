package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "rtp"
	metricsSubsystem = "session"
)

// sessionMetrics prometheus метрики одной сессии, помеченные session_id
type sessionMetrics struct {
	packetsReceived *prometheus.CounterVec
	packetsSent     *prometheus.CounterVec
	decodeErrors    *prometheus.CounterVec
	participants    prometheus.Gauge
	ssrcCollisions  prometheus.Counter
}

func newSessionMetrics(registerer prometheus.Registerer, sessionID string) *sessionMetrics {
	factory := promauto.With(registerer)
	labels := prometheus.Labels{"session_id": sessionID}

	return &sessionMetrics{
		packetsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Subsystem:   metricsSubsystem,
			Name:        "packets_received_total",
			Help:        "Количество принятых пакетов по каналам",
			ConstLabels: labels,
		}, []string{"channel"}),
		packetsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Subsystem:   metricsSubsystem,
			Name:        "packets_sent_total",
			Help:        "Количество отправленных пакетов по каналам",
			ConstLabels: labels,
		}, []string{"channel"}),
		decodeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Subsystem:   metricsSubsystem,
			Name:        "decode_errors_total",
			Help:        "Количество отброшенных некорректных пакетов",
			ConstLabels: labels,
		}, []string{"channel"}),
		participants: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Subsystem:   metricsSubsystem,
			Name:        "participants",
			Help:        "Количество участников в базе сессии",
			ConstLabels: labels,
		}),
		ssrcCollisions: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Subsystem:   metricsSubsystem,
			Name:        "ssrc_collisions_total",
			Help:        "Количество обнаруженных коллизий локального SSRC",
			ConstLabels: labels,
		}),
	}
}
