package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"example.com/activityrecognition/internal/domain"
	"example.com/activityrecognition/internal/events"
)

func TestRunEventPublisherWritesLifecycleEvents(t *testing.T) {
	writer := &stubWriter{}
	publisher := NewRunEventPublisher(writer, "training_events")
	publisher.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	accuracy := 0.92
	run := domain.TrainingRun{
		ID:          "run-1",
		Status:      domain.RunStatusSucceeded,
		Config:      domain.DefaultTrainingConfig(),
		SampleCount: 40,
		StartedAt:   time.Date(2024, 5, 1, 11, 59, 0, 0, time.UTC),
		Accuracy:    &accuracy,
	}

	require.NoError(t, publisher.RunStarted(context.Background(), run))
	require.NoError(t, publisher.RunCompleted(context.Background(), run))

	require.Len(t, writer.messages, 2)
	require.Equal(t, "training_events", writer.topics[0])
	require.Equal(t, "run-1", string(writer.messages[0].Key))
	require.Equal(t, events.EventTypeRunStarted, header(writer.messages[0], events.HeaderEventType))
	require.Equal(t, events.EventTypeRunCompleted, header(writer.messages[1], events.HeaderEventType))

	var payload events.RunEvent
	require.NoError(t, json.Unmarshal(writer.messages[1].Value, &payload))
	require.Equal(t, "run-1", payload.RunID)
	require.Equal(t, 0.92, *payload.Accuracy)
	require.Equal(t, 40, payload.SampleCount)
}

func TestRunEventPublisherReportsWriteFailure(t *testing.T) {
	writer := &stubWriter{err: errors.New("broker down")}
	publisher := NewRunEventPublisher(writer, "training_events")

	before := testutil.ToFloat64(publishFailureCounter.WithLabelValues("training_events", events.EventTypeRunStarted))
	err := publisher.RunStarted(context.Background(), domain.TrainingRun{ID: "run-2"})
	require.ErrorContains(t, err, "broker down")
	require.Equal(t, before+1, testutil.ToFloat64(publishFailureCounter.WithLabelValues("training_events", events.EventTypeRunStarted)))
}

func TestSensorPublisherEncodesMsgpack(t *testing.T) {
	writer := &stubWriter{}
	publisher := NewSensorPublisher(writer, "sensor_readings", "sensor_samples", events.ContentTypeMsgpack)

	require.NoError(t, publisher.PublishReadings(context.Background(),
		events.SensorReading{DeviceID: "watch-1", X: 1, Y: 2, Z: 3},
		events.SensorReading{DeviceID: "watch-2", X: 4, Y: 5, Z: 6},
	))
	require.NoError(t, publisher.PublishSamples(context.Background(), domain.LabeledSample{
		Activity: "walking",
		Readings: []domain.Reading{{X: 1, Y: 1, Z: 1}},
	}))

	require.Equal(t, []string{"sensor_readings", "sensor_readings", "sensor_samples"}, writer.topics)
	require.Equal(t, events.ContentTypeMsgpack, header(writer.messages[0], events.HeaderContentType))

	var reading events.SensorReading
	require.NoError(t, events.Decode(events.ContentTypeMsgpack, writer.messages[1].Value, &reading))
	require.Equal(t, "watch-2", reading.DeviceID)
	require.Equal(t, 6.0, reading.Z)

	var sample events.SensorSample
	require.NoError(t, events.Decode(events.ContentTypeMsgpack, writer.messages[2].Value, &sample))
	require.Equal(t, "walking", sample.Activity)
}

func TestSensorPublisherRejectsReadingWithoutDevice(t *testing.T) {
	writer := &stubWriter{}
	publisher := NewSensorPublisher(writer, "sensor_readings", "sensor_samples", "")

	require.Error(t, publisher.PublishReadings(context.Background(), events.SensorReading{}))
	require.Empty(t, writer.messages)
}

type stubWriter struct {
	err      error
	topics   []string
	messages []kafka.Message
}

func (w *stubWriter) WriteMessages(_ context.Context, topic string, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	for _, msg := range msgs {
		w.topics = append(w.topics, topic)
		w.messages = append(w.messages, msg)
	}
	return nil
}

func header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
