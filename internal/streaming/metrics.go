package streaming

import "github.com/prometheus/client_golang/prometheus"

var (
	activeSessionsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "activity_recognition",
		Subsystem: "stream",
		Name:      "active_sessions",
		Help:      "Number of streaming sessions currently open.",
	})

	messagesSentCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "activity_recognition",
		Subsystem: "stream",
		Name:      "messages_sent_total",
		Help:      "Number of tick messages written to clients.",
	})

	messagesDroppedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "activity_recognition",
		Subsystem: "stream",
		Name:      "messages_dropped_total",
		Help:      "Number of tick messages evicted from full session buffers.",
	})

	sessionsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activity_recognition",
		Subsystem: "stream",
		Name:      "sessions_total",
		Help:      "Number of finished sessions grouped by outcome.",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(activeSessionsGauge, messagesSentCounter, messagesDroppedCounter, sessionsCounter)
}
