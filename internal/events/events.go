// Package events defines the Kafka payloads exchanged with devices and downstream consumers.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"example.com/activityrecognition/internal/domain"
)

// Event types carried in the event_type header.
const (
	EventTypeSensorReading = "sensor.reading"
	EventTypeSensorSample  = "sensor.sample"
	EventTypeRunStarted    = "training.run_started"
	EventTypeRunCompleted  = "training.run_completed"
)

// Content types carried in the content_type header. JSON is assumed when the header is absent.
const (
	ContentTypeJSON    = "application/json"
	ContentTypeMsgpack = "application/msgpack"
)

// Header keys.
const (
	HeaderEventType   = "event_type"
	HeaderContentType = "content_type"
)

// ErrUnsupportedContentType is returned for payload encodings other than JSON and msgpack.
var ErrUnsupportedContentType = errors.New("unsupported content type")

// SensorReading is a single live accelerometer reading from a device.
type SensorReading struct {
	DeviceID   string    `json:"device_id" msgpack:"device_id"`
	X          float64   `json:"x" msgpack:"x"`
	Y          float64   `json:"y" msgpack:"y"`
	Z          float64   `json:"z" msgpack:"z"`
	RecordedAt time.Time `json:"recorded_at" msgpack:"recorded_at"`
}

// Validate checks required fields.
func (r SensorReading) Validate() error {
	if r.DeviceID == "" {
		return errors.New("device_id is required")
	}
	return nil
}

// SensorSample is a labeled window submitted for training.
type SensorSample struct {
	Activity string       `json:"activity" msgpack:"activity"`
	Readings [][3]float64 `json:"readings" msgpack:"readings"`
}

// ToDomain converts the wire triples into readings.
func (s SensorSample) ToDomain() domain.LabeledSample {
	readings := make([]domain.Reading, len(s.Readings))
	for i, r := range s.Readings {
		readings[i] = domain.Reading{X: r[0], Y: r[1], Z: r[2]}
	}
	return domain.LabeledSample{Activity: s.Activity, Readings: readings}
}

// SampleFromDomain converts a labeled sample into its wire form.
func SampleFromDomain(sample domain.LabeledSample) SensorSample {
	readings := make([][3]float64, len(sample.Readings))
	for i, r := range sample.Readings {
		readings[i] = [3]float64{r.X, r.Y, r.Z}
	}
	return SensorSample{Activity: sample.Activity, Readings: readings}
}

// RunEvent describes a training run transition.
type RunEvent struct {
	RunID       string                `json:"run_id"`
	Status      domain.RunStatus      `json:"status"`
	Config      domain.TrainingConfig `json:"config"`
	SampleCount int                   `json:"sample_count"`
	Accuracy    *float64              `json:"accuracy,omitempty"`
	Error       *string               `json:"error,omitempty"`
	Classes     []string              `json:"classes,omitempty"`
	StartedAt   time.Time             `json:"started_at"`
	FinishedAt  *time.Time            `json:"finished_at,omitempty"`
	OccurredAt  time.Time             `json:"occurred_at"`
}

// NewRunEvent builds the payload for a run.
func NewRunEvent(run domain.TrainingRun, occurredAt time.Time) RunEvent {
	run = run.Clone()
	return RunEvent{
		RunID:       run.ID,
		Status:      run.Status,
		Config:      run.Config,
		SampleCount: run.SampleCount,
		Accuracy:    run.Accuracy,
		Error:       run.Error,
		Classes:     run.Classes,
		StartedAt:   run.StartedAt,
		FinishedAt:  run.FinishedAt,
		OccurredAt:  occurredAt.UTC(),
	}
}

// Decode unmarshals payload according to contentType.
func Decode(contentType string, payload []byte, v any) error {
	switch contentType {
	case "", ContentTypeJSON:
		return json.Unmarshal(payload, v)
	case ContentTypeMsgpack:
		return msgpack.Unmarshal(payload, v)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedContentType, contentType)
	}
}

// Encode marshals v according to contentType.
func Encode(contentType string, v any) ([]byte, error) {
	switch contentType {
	case "", ContentTypeJSON:
		return json.Marshal(v)
	case ContentTypeMsgpack:
		return msgpack.Marshal(v)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedContentType, contentType)
	}
}
