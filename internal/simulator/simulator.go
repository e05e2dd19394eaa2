// Package simulator plays the part of a device gateway, publishing synthetic sensor traffic.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"example.com/activityrecognition/internal/domain"
	"example.com/activityrecognition/internal/events"
	"example.com/activityrecognition/internal/synth"
)

// Publisher is the subset of messaging.SensorPublisher used by the simulator.
type Publisher interface {
	PublishReadings(ctx context.Context, readings ...events.SensorReading) error
	PublishSamples(ctx context.Context, samples ...domain.LabeledSample) error
}

// Config controls what the simulator publishes.
type Config struct {
	DeviceID       string
	Activity       string
	Interval       time.Duration // Time between published reading batches.
	Samples        int           // Labeled windows published once before streaming.
	SequenceLength int
}

// Option configures optional behaviour for the Simulator.
type Option func(*Simulator)

// WithLogger overrides the default logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Simulator) {
		s.logger = logger
	}
}

// Simulator streams readings for one device at the synthesizer's sampling rate.
type Simulator struct {
	cfg       Config
	synth     *synth.Synthesizer
	publisher Publisher
	logger    *log.Logger
	now       func() time.Time
}

// New validates cfg and constructs a Simulator.
func New(cfg Config, s *synth.Synthesizer, publisher Publisher, opts ...Option) (*Simulator, error) {
	if cfg.DeviceID == "" {
		return nil, errors.New("simulator: device id is required")
	}
	if !s.HasActivity(cfg.Activity) {
		return nil, fmt.Errorf("simulator: %w: %s", synth.ErrUnknownActivity, cfg.Activity)
	}
	if cfg.Interval <= 0 {
		return nil, errors.New("simulator: interval must be > 0")
	}

	sim := &Simulator{
		cfg:       cfg,
		synth:     s,
		publisher: publisher,
		logger:    log.New(log.Writer(), "[simulator] ", log.LstdFlags|log.Lshortfile),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(sim)
	}
	return sim, nil
}

// SeedSamples publishes cfg.Samples labeled windows across every known activity.
func (s *Simulator) SeedSamples(ctx context.Context) error {
	if s.cfg.Samples <= 0 {
		return nil
	}
	batch, err := s.synth.Generate(s.cfg.Samples, s.cfg.SequenceLength, nil)
	if err != nil {
		return fmt.Errorf("generate samples: %w", err)
	}
	if err := s.publisher.PublishSamples(ctx, batch...); err != nil {
		return err
	}
	s.logger.Printf("published %d labeled samples", len(batch))
	return nil
}

// Run publishes readings every interval until ctx is cancelled. Publish failures are logged and
// the loop continues.
func (s *Simulator) Run(ctx context.Context) error {
	stream, err := s.synth.NewStream(s.cfg.Activity)
	if err != nil {
		return err
	}
	perTick := int(s.synth.SampleRateHz()*s.cfg.Interval.Seconds() + 0.5)
	if perTick < 1 {
		perTick = 1
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Printf("streaming %s readings for device %s (%d per %s)", s.cfg.Activity, s.cfg.DeviceID, perTick, s.cfg.Interval)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		now := s.now()
		readings := stream.Next(perTick)
		out := make([]events.SensorReading, len(readings))
		for i, r := range readings {
			out[i] = events.SensorReading{DeviceID: s.cfg.DeviceID, X: r.X, Y: r.Y, Z: r.Z, RecordedAt: now}
		}
		if err := s.publisher.PublishReadings(ctx, out...); err != nil && ctx.Err() == nil {
			s.logger.Printf("publish readings: %v", err)
		}
	}
}
