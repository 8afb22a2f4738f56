package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mttmxr-creator/BotAICurator/internal/domain"
)

const namespace = "botaicurator"

var (
	queueItems = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "items",
			Help:      "Number of review items by status",
		},
		[]string{"status"},
	)

	queueTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "transitions_total",
			Help:      "Total state transitions by action and result",
		},
		[]string{"action", "result"},
	)
)

// recordTransition records a transition attempt metric.
func recordTransition(action domain.Action, result string) {
	queueTransitions.WithLabelValues(string(action), result).Inc()
}

// RecordStats updates the queue size metrics.
func RecordStats(stats Stats) {
	queueItems.WithLabelValues(string(domain.ItemStatusPending)).Set(float64(stats.Pending))
	queueItems.WithLabelValues(string(domain.ItemStatusEditing)).Set(float64(stats.Editing))
	queueItems.WithLabelValues(string(domain.ItemStatusSent)).Set(float64(stats.Sent))
	queueItems.WithLabelValues(string(domain.ItemStatusRejected)).Set(float64(stats.Rejected))
	queueItems.WithLabelValues(string(domain.ItemStatusExpired)).Set(float64(stats.Expired))
}
