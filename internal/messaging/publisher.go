package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/activityrecognition/internal/domain"
	"example.com/activityrecognition/internal/events"
)

// MessageWriter is the subset of KafkaProducer used by publishers.
type MessageWriter interface {
	WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error
}

// RunEventPublisher emits training run lifecycle events. It implements domain.RunEventSink.
type RunEventPublisher struct {
	writer MessageWriter
	topic  string
	now    func() time.Time
}

// NewRunEventPublisher constructs a RunEventPublisher writing to topic.
func NewRunEventPublisher(writer MessageWriter, topic string) *RunEventPublisher {
	return &RunEventPublisher{writer: writer, topic: topic, now: time.Now}
}

// RunStarted publishes training.run_started.
func (p *RunEventPublisher) RunStarted(ctx context.Context, run domain.TrainingRun) error {
	return p.publish(ctx, events.EventTypeRunStarted, run)
}

// RunCompleted publishes training.run_completed.
func (p *RunEventPublisher) RunCompleted(ctx context.Context, run domain.TrainingRun) error {
	return p.publish(ctx, events.EventTypeRunCompleted, run)
}

func (p *RunEventPublisher) publish(ctx context.Context, eventType string, run domain.TrainingRun) error {
	payload, err := events.Encode(events.ContentTypeJSON, events.NewRunEvent(run, p.now()))
	if err != nil {
		return fmt.Errorf("encode %s: %w", eventType, err)
	}
	msg := newMessage(run.ID, eventType, events.ContentTypeJSON, payload)
	if err := p.writer.WriteMessages(ctx, p.topic, msg); err != nil {
		recordPublishFailure(p.topic, eventType)
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	recordPublished(p.topic, eventType)
	return nil
}

// SensorPublisher emits device readings and labeled samples, as a device gateway would.
type SensorPublisher struct {
	writer       MessageWriter
	readingTopic string
	sampleTopic  string
	contentType  string
}

// NewSensorPublisher constructs a SensorPublisher. contentType selects JSON or msgpack payloads.
func NewSensorPublisher(writer MessageWriter, readingTopic, sampleTopic, contentType string) *SensorPublisher {
	if contentType == "" {
		contentType = events.ContentTypeJSON
	}
	return &SensorPublisher{writer: writer, readingTopic: readingTopic, sampleTopic: sampleTopic, contentType: contentType}
}

// PublishReadings sends a batch of live readings keyed by device.
func (p *SensorPublisher) PublishReadings(ctx context.Context, readings ...events.SensorReading) error {
	msgs := make([]kafka.Message, 0, len(readings))
	for _, reading := range readings {
		if err := reading.Validate(); err != nil {
			return err
		}
		payload, err := events.Encode(p.contentType, reading)
		if err != nil {
			return fmt.Errorf("encode reading: %w", err)
		}
		msgs = append(msgs, newMessage(reading.DeviceID, events.EventTypeSensorReading, p.contentType, payload))
	}
	return p.write(ctx, p.readingTopic, events.EventTypeSensorReading, msgs)
}

// PublishSamples sends labeled windows keyed by activity.
func (p *SensorPublisher) PublishSamples(ctx context.Context, samples ...domain.LabeledSample) error {
	msgs := make([]kafka.Message, 0, len(samples))
	for _, sample := range samples {
		payload, err := events.Encode(p.contentType, events.SampleFromDomain(sample))
		if err != nil {
			return fmt.Errorf("encode sample: %w", err)
		}
		msgs = append(msgs, newMessage(sample.Activity, events.EventTypeSensorSample, p.contentType, payload))
	}
	return p.write(ctx, p.sampleTopic, events.EventTypeSensorSample, msgs)
}

func (p *SensorPublisher) write(ctx context.Context, topic, eventType string, msgs []kafka.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	if err := p.writer.WriteMessages(ctx, topic, msgs...); err != nil {
		recordPublishFailure(topic, eventType)
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	for range msgs {
		recordPublished(topic, eventType)
	}
	return nil
}

func newMessage(key, eventType, contentType string, payload []byte) kafka.Message {
	return kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: events.HeaderEventType, Value: []byte(eventType)},
			{Key: events.HeaderContentType, Value: []byte(contentType)},
		},
	}
}
