package training

import (
	"github.com/prometheus/client_golang/prometheus"

	"example.com/activityrecognition/internal/domain"
)

var (
	runsStartedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "activity_recognition",
		Subsystem: "training",
		Name:      "runs_started_total",
		Help:      "Number of training runs accepted.",
	})

	runsCompletedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activity_recognition",
		Subsystem: "training",
		Name:      "runs_completed_total",
		Help:      "Number of training runs finished grouped by terminal status.",
	}, []string{"status"})

	runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "activity_recognition",
		Subsystem: "training",
		Name:      "run_duration_seconds",
		Help:      "Wall-clock duration of training runs.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	runInProgressGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "activity_recognition",
		Subsystem: "training",
		Name:      "run_in_progress",
		Help:      "1 while a training run is executing.",
	})

	modelAccuracyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "activity_recognition",
		Subsystem: "training",
		Name:      "model_accuracy",
		Help:      "Validation accuracy of the active model.",
	})
)

func init() {
	prometheus.MustRegister(runsStartedCounter, runsCompletedCounter, runDuration, runInProgressGauge, modelAccuracyGauge)
}

func recordRunStarted() {
	runsStartedCounter.Inc()
	runInProgressGauge.Set(1)
}

func recordRunCompleted(run domain.TrainingRun) {
	runInProgressGauge.Set(0)
	runsCompletedCounter.WithLabelValues(string(run.Status)).Inc()
	if run.FinishedAt != nil {
		runDuration.Observe(run.FinishedAt.Sub(run.StartedAt).Seconds())
	}
	if run.Status == domain.RunStatusSucceeded && run.Accuracy != nil {
		modelAccuracyGauge.Set(*run.Accuracy)
	}
}
