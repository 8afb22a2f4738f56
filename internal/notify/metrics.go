package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "botaicurator"

var notifications = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "notify",
		Name:      "messages_total",
		Help:      "Total notification messages by kind and result",
	},
	[]string{"kind", "result"},
)

func recordNotification(kind MessageKind, result string) {
	notifications.WithLabelValues(string(kind), result).Inc()
}
