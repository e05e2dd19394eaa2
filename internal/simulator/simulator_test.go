package simulator

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/activityrecognition/internal/domain"
	"example.com/activityrecognition/internal/events"
	"example.com/activityrecognition/internal/synth"
)

func TestNewValidatesConfig(t *testing.T) {
	gen := newSynth(t)
	pub := &stubPublisher{}

	_, err := New(Config{Activity: "walking", Interval: time.Second}, gen, pub)
	require.Error(t, err)

	_, err = New(Config{DeviceID: "d", Activity: "swimming", Interval: time.Second}, gen, pub)
	require.ErrorIs(t, err, synth.ErrUnknownActivity)

	_, err = New(Config{DeviceID: "d", Activity: "walking"}, gen, pub)
	require.Error(t, err)
}

func TestSeedSamples(t *testing.T) {
	pub := &stubPublisher{}
	sim := newSimulator(t, Config{DeviceID: "watch-1", Activity: "walking", Interval: time.Second, Samples: 8, SequenceLength: 16}, pub)

	require.NoError(t, sim.SeedSamples(context.Background()))

	require.Len(t, pub.samples, 8)
	summary := domain.Summarize(pub.samples)
	require.Len(t, summary.Activities, 4)
	for _, s := range pub.samples {
		require.Len(t, s.Readings, 16)
	}
}

func TestSeedSamplesDisabled(t *testing.T) {
	pub := &stubPublisher{}
	sim := newSimulator(t, Config{DeviceID: "watch-1", Activity: "walking", Interval: time.Second}, pub)

	require.NoError(t, sim.SeedSamples(context.Background()))
	require.Empty(t, pub.samples)
}

func TestRunPublishesReadingsUntilCancelled(t *testing.T) {
	pub := &stubPublisher{failFirst: true}
	sim := newSimulator(t, Config{DeviceID: "watch-1", Activity: "running", Interval: 20 * time.Millisecond}, pub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sim.Run(ctx) }()

	require.Eventually(t, func() bool { return pub.readingCount() >= 3 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	for _, r := range pub.snapshotReadings() {
		require.Equal(t, "watch-1", r.DeviceID)
		require.False(t, r.RecordedAt.IsZero())
	}
}

func newSynth(t *testing.T) *synth.Synthesizer {
	t.Helper()
	gen, err := synth.New(synth.DefaultProfiles(), 11)
	require.NoError(t, err)
	return gen
}

func newSimulator(t *testing.T, cfg Config, pub Publisher) *Simulator {
	t.Helper()
	sim, err := New(cfg, newSynth(t), pub, WithLogger(log.New(testWriter{t}, "[simulator] ", 0)))
	require.NoError(t, err)
	return sim
}

type stubPublisher struct {
	mu        sync.Mutex
	failFirst bool
	calls     int
	readings  []events.SensorReading
	samples   []domain.LabeledSample
}

func (s *stubPublisher) PublishReadings(ctx context.Context, readings ...events.SensorReading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failFirst && s.calls == 1 {
		return errors.New("broker unavailable")
	}
	s.readings = append(s.readings, readings...)
	return nil
}

func (s *stubPublisher) PublishSamples(ctx context.Context, samples ...domain.LabeledSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, samples...)
	return nil
}

func (s *stubPublisher) readingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.readings)
}

func (s *stubPublisher) snapshotReadings() []events.SensorReading {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]events.SensorReading(nil), s.readings...)
}

type testWriter struct {
	t *testing.T
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimSpace(string(p)))
	return len(p), nil
}
