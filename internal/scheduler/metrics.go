package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "botaicurator"

var (
	schedulerPasses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "passes_total",
			Help:      "Total scheduler passes by kind and result",
		},
		[]string{"kind", "result"},
	)

	schedulerExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "items_expired_total",
			Help:      "Total review items expired by the scheduler",
		},
	)

	schedulerReminders = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "reminders_sent_total",
			Help:      "Total reminder notifications sent",
		},
	)
)

func recordPass(kind, result string) {
	schedulerPasses.WithLabelValues(kind, result).Inc()
}

func recordExpired(n int) {
	schedulerExpired.Add(float64(n))
}

func recordReminders(n int) {
	schedulerReminders.Add(float64(n))
}
