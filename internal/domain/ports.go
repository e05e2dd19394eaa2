package domain

import "context"

// Classifier fits models from labeled windows.
type Classifier interface {
	Train(ctx context.Context, samples []LabeledSample, cfg TrainingConfig) (Model, Metrics, error)
}

// Model classifies windows of a fixed length.
type Model interface {
	Classes() []string
	WindowLength() int
	Predict(window []Reading) (Prediction, error)
}

// SampleStore holds labeled samples used for training.
type SampleStore interface {
	Append(ctx context.Context, samples ...LabeledSample) error
	// Snapshot returns a copy of every stored sample, isolated from later appends.
	Snapshot(ctx context.Context) ([]LabeledSample, error)
	Summary(ctx context.Context) (SampleSummary, error)
	Clear(ctx context.Context) error
}

// RunRecorder persists training runs for durable history.
type RunRecorder interface {
	RecordRun(ctx context.Context, run TrainingRun) error
	ListRuns(ctx context.Context, limit int) ([]TrainingRun, error)
}

// RunEventSink is notified about run lifecycle transitions.
type RunEventSink interface {
	RunStarted(ctx context.Context, run TrainingRun) error
	RunCompleted(ctx context.Context, run TrainingRun) error
}
