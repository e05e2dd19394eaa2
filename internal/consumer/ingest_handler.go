package consumer

import (
	"context"
	"errors"
	"fmt"

	"example.com/activityrecognition/internal/domain"
	"example.com/activityrecognition/internal/events"
	"example.com/activityrecognition/internal/feed"
)

// IngestHandler routes live readings to the feed hub and labeled samples to the sample store.
// Either destination may be nil, in which case its events are skipped.
type IngestHandler struct {
	hub   *feed.Hub
	store domain.SampleStore
}

// NewIngestHandler constructs an IngestHandler.
func NewIngestHandler(hub *feed.Hub, store domain.SampleStore) *IngestHandler {
	return &IngestHandler{hub: hub, store: store}
}

// Handle dispatches on the event type. Unknown event types are skipped.
func (h *IngestHandler) Handle(ctx context.Context, msg Message) error {
	switch msg.EventType {
	case events.EventTypeSensorReading:
		if h.hub == nil {
			recordSkipped(msg)
			return nil
		}
		return h.handleReading(msg)
	case events.EventTypeSensorSample:
		if h.store == nil {
			recordSkipped(msg)
			return nil
		}
		return h.handleSample(ctx, msg)
	default:
		recordSkipped(msg)
		return nil
	}
}

func (h *IngestHandler) handleReading(msg Message) error {
	var reading events.SensorReading
	if err := events.Decode(msg.ContentType, msg.Payload, &reading); err != nil {
		return fmt.Errorf("%w: decode reading: %v", ErrMalformed, err)
	}
	if reading.DeviceID == "" {
		reading.DeviceID = msg.Key
	}
	if err := reading.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	recordedAt := reading.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = msg.Timestamp
	}
	h.hub.Publish(feed.DeviceReading{
		DeviceID:   reading.DeviceID,
		Reading:    domain.Reading{X: reading.X, Y: reading.Y, Z: reading.Z},
		RecordedAt: recordedAt,
	})
	return nil
}

func (h *IngestHandler) handleSample(ctx context.Context, msg Message) error {
	var sample events.SensorSample
	if err := events.Decode(msg.ContentType, msg.Payload, &sample); err != nil {
		return fmt.Errorf("%w: decode sample: %v", ErrMalformed, err)
	}
	if err := h.store.Append(ctx, sample.ToDomain()); err != nil {
		if errors.Is(err, domain.ErrInvalidSample) {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return err
	}
	return nil
}
