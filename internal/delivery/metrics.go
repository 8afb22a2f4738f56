package delivery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mttmxr-creator/BotAICurator/internal/domain"
)

const namespace = "botaicurator"

var (
	deliveryEnvelopes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "envelopes",
			Help:      "Number of delivery envelopes by status",
		},
		[]string{"status"},
	)

	deliveryEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "enqueued_total",
			Help:      "Total envelopes enqueued",
		},
	)

	deliveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "attempts_total",
			Help:      "Total delivery attempt outcomes reported by the consumer",
		},
		[]string{"result"},
	)
)

func recordEnqueued() {
	deliveryEnqueued.Inc()
}

func recordAttempt(result string) {
	deliveryAttempts.WithLabelValues(result).Inc()
}

// RecordStats updates the envelope gauge metrics.
func RecordStats(stats Stats) {
	deliveryEnvelopes.WithLabelValues(string(domain.EnvelopeStatusPending)).Set(float64(stats.Pending))
	deliveryEnvelopes.WithLabelValues(string(domain.EnvelopeStatusAcknowledged)).Set(float64(stats.Acknowledged))
	deliveryEnvelopes.WithLabelValues(string(domain.EnvelopeStatusFailed)).Set(float64(stats.Failed))
}
