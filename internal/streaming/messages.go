package streaming

import (
	"errors"
	"fmt"
	"math"
	"time"

	"example.com/activityrecognition/internal/domain"
)

// Client message types.
const (
	MessageTypeConfig = "config"
	MessageTypeStop   = "stop"
)

// Source kinds a session can read from.
const (
	SourceSynthetic = "synthetic"
	SourceLive      = "live"
)

// WebSocket close codes used to end sessions.
const (
	CloseNormal          = 1000
	CloseGoingAway       = 1001
	ClosePolicyViolation = 1008
	CloseInternalError   = 1011
)

// ErrProtocol marks inbound messages that violate the session protocol.
var ErrProtocol = errors.New("protocol violation")

// ClientMessage is an inbound control message. A message without a type is a config message.
type ClientMessage struct {
	Type            string   `json:"type" msgpack:"type"`
	Activity        string   `json:"activity,omitempty" msgpack:"activity,omitempty"`
	DurationSeconds *float64 `json:"duration_seconds,omitempty" msgpack:"duration_seconds,omitempty"`
	Duration        *float64 `json:"duration,omitempty" msgpack:"duration,omitempty"`
	Source          string   `json:"source,omitempty" msgpack:"source,omitempty"`
	DeviceID        string   `json:"device_id,omitempty" msgpack:"device_id,omitempty"`
}

// Validate checks the message shape. Errors wrap ErrProtocol.
func (m ClientMessage) Validate() error {
	switch m.Type {
	case MessageTypeStop:
		return nil
	case MessageTypeConfig, "":
	default:
		return fmt.Errorf("%w: unknown message type %q", ErrProtocol, m.Type)
	}

	if d, ok := m.durationSeconds(); ok && (math.IsNaN(d) || math.IsInf(d, 0) || d <= 0) {
		return fmt.Errorf("%w: duration_seconds must be > 0", ErrProtocol)
	}
	switch m.Source {
	case "", SourceSynthetic, SourceLive:
	default:
		return fmt.Errorf("%w: unknown source %q", ErrProtocol, m.Source)
	}
	return nil
}

// durationSeconds prefers duration_seconds over its duration alias.
func (m ClientMessage) durationSeconds() (float64, bool) {
	if m.DurationSeconds != nil {
		return *m.DurationSeconds, true
	}
	if m.Duration != nil {
		return *m.Duration, true
	}
	return 0, false
}

// Message is one outbound tick record. Prediction is nil until a trained model has a full window.
type Message struct {
	Seq        uint64             `json:"seq" msgpack:"seq"`
	Timestamp  time.Time          `json:"timestamp" msgpack:"timestamp"`
	X          float64            `json:"x" msgpack:"x"`
	Y          float64            `json:"y" msgpack:"y"`
	Z          float64            `json:"z" msgpack:"z"`
	Activity   string             `json:"activity" msgpack:"activity"`
	Prediction *domain.Prediction `json:"prediction" msgpack:"prediction"`
}
