package feed

import "github.com/prometheus/client_golang/prometheus"

var (
	publishedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "activity_recognition",
		Subsystem: "feed",
		Name:      "readings_published_total",
		Help:      "Number of live readings published to the hub.",
	})

	droppedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "activity_recognition",
		Subsystem: "feed",
		Name:      "readings_dropped_total",
		Help:      "Number of live readings overwritten before a subscriber took them.",
	})

	subscribersGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "activity_recognition",
		Subsystem: "feed",
		Name:      "subscribers",
		Help:      "Number of active live feed subscribers.",
	})
)

func init() {
	prometheus.MustRegister(publishedCounter, droppedCounter, subscribersGauge)
}
