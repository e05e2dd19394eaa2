package messaging

import "github.com/prometheus/client_golang/prometheus"

var (
	publishedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activity_recognition",
		Subsystem: "messaging",
		Name:      "events_published_total",
		Help:      "Number of events written to Kafka.",
	}, []string{"topic", "event_type"})

	publishFailureCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activity_recognition",
		Subsystem: "messaging",
		Name:      "publish_failures_total",
		Help:      "Number of failed Kafka writes.",
	}, []string{"topic", "event_type"})
)

func init() {
	prometheus.MustRegister(publishedCounter, publishFailureCounter)
}

func recordPublished(topic, eventType string) {
	publishedCounter.WithLabelValues(topic, eventType).Inc()
}

func recordPublishFailure(topic, eventType string) {
	publishFailureCounter.WithLabelValues(topic, eventType).Inc()
}
