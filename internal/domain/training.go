// Package domain defines the core types shared by the training and streaming components.
package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrAlreadyTraining is returned when a run is requested while another is in flight.
	ErrAlreadyTraining = errors.New("training already in progress")
	// ErrInsufficientData is returned when the sample store has nothing to train on.
	ErrInsufficientData = errors.New("insufficient training data")
	// ErrInvalidConfig indicates a training configuration outside its valid range.
	ErrInvalidConfig = errors.New("invalid training config")
	// ErrInvalidWindow indicates a prediction window of the wrong length.
	ErrInvalidWindow = errors.New("invalid prediction window")
	// ErrInvalidSample indicates a labeled sample that cannot be stored.
	ErrInvalidSample = errors.New("invalid sample")
	// ErrShuttingDown is returned when a run is requested after the trainer began shutting down.
	ErrShuttingDown = errors.New("trainer shutting down")
)

// UnknownLabel is reported by Predict when no model has been trained.
const UnknownLabel = "unknown"

// Training configuration bounds.
const (
	DefaultEpochs          = 20
	DefaultBatchSize       = 32
	DefaultValidationSplit = 0.2
	MaxEpochs              = 1000
	MaxBatchSize           = 4096
)

// TrainingConfig captures the tunables of a single training run.
type TrainingConfig struct {
	Epochs          int     `json:"epochs"`
	BatchSize       int     `json:"batch_size"`
	ValidationSplit float64 `json:"validation_split"`
}

// DefaultTrainingConfig returns the configuration used when the caller supplies none.
func DefaultTrainingConfig() TrainingConfig {
	return TrainingConfig{
		Epochs:          DefaultEpochs,
		BatchSize:       DefaultBatchSize,
		ValidationSplit: DefaultValidationSplit,
	}
}

// Validate ensures every field is within its accepted range.
func (c TrainingConfig) Validate() error {
	if c.Epochs < 1 || c.Epochs > MaxEpochs {
		return fmt.Errorf("%w: epochs must be between 1 and %d", ErrInvalidConfig, MaxEpochs)
	}
	if c.BatchSize < 1 || c.BatchSize > MaxBatchSize {
		return fmt.Errorf("%w: batch_size must be between 1 and %d", ErrInvalidConfig, MaxBatchSize)
	}
	if !(c.ValidationSplit > 0 && c.ValidationSplit < 1) {
		return fmt.Errorf("%w: validation_split must be in (0, 1)", ErrInvalidConfig)
	}
	return nil
}

// RunStatus is the lifecycle state of a training run.
type RunStatus string

const (
	// RunStatusNone is reported when no run has ever started.
	RunStatusNone      RunStatus = "none"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether the status is final.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed
}

// TrainingRun records one attempt to fit a model.
type TrainingRun struct {
	ID          string
	Status      RunStatus
	Config      TrainingConfig
	SampleCount int
	StartedAt   time.Time
	FinishedAt  *time.Time
	Accuracy    *float64
	Error       *string
	Classes     []string
}

// Clone returns a copy that shares no mutable state with the receiver.
func (r TrainingRun) Clone() TrainingRun {
	out := r
	if r.FinishedAt != nil {
		finished := *r.FinishedAt
		out.FinishedAt = &finished
	}
	if r.Accuracy != nil {
		accuracy := *r.Accuracy
		out.Accuracy = &accuracy
	}
	if r.Error != nil {
		msg := *r.Error
		out.Error = &msg
	}
	if r.Classes != nil {
		out.Classes = append([]string(nil), r.Classes...)
	}
	return out
}

// TrainingStatus is the consistent view returned to status pollers.
type TrainingStatus struct {
	RunID      string
	Status     RunStatus
	Accuracy   *float64
	Error      *string
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// Metrics summarises the outcome of a successful fit.
type Metrics struct {
	Accuracy          float64
	TrainAccuracy     float64
	TrainSamples      int
	ValidationSamples int
	Epochs            int
	FinalLoss         float64
}

// Prediction is the classification of a single window.
type Prediction struct {
	Label      string  `json:"label" msgpack:"label"`
	Confidence float64 `json:"confidence" msgpack:"confidence"`
}

// ModelInfo describes the currently active model.
type ModelInfo struct {
	Trained        bool
	Classes        []string
	SequenceLength int
	RunID          string
	TrainedAt      *time.Time
}
