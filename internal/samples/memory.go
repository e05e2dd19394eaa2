// Package samples holds labeled training windows in memory.
package samples

import (
	"context"
	"sync"

	"example.com/activityrecognition/internal/domain"
)

// InMemoryStore is an append-only sample store for local development and tests.
type InMemoryStore struct {
	mu           sync.RWMutex
	windowLength int
	samples      []domain.LabeledSample
}

// NewInMemoryStore constructs a store accepting windows of the given length.
func NewInMemoryStore(windowLength int) *InMemoryStore {
	return &InMemoryStore{windowLength: windowLength}
}

// Append implements domain.SampleStore. The batch is rejected as a whole if any sample is invalid.
func (s *InMemoryStore) Append(ctx context.Context, batch ...domain.LabeledSample) error {
	for _, sample := range batch {
		if err := sample.Validate(s.windowLength); err != nil {
			return err
		}
	}

	copies := make([]domain.LabeledSample, len(batch))
	for i, sample := range batch {
		copies[i] = sample.Clone()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, copies...)
	return nil
}

// Snapshot implements domain.SampleStore.
func (s *InMemoryStore) Snapshot(ctx context.Context) ([]domain.LabeledSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Stored samples are never mutated in place, so a shallow copy of the slice is isolated
	// from later appends.
	out := make([]domain.LabeledSample, len(s.samples))
	copy(out, s.samples)
	return out, nil
}

// Summary implements domain.SampleStore.
func (s *InMemoryStore) Summary(ctx context.Context) (domain.SampleSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.Summarize(s.samples), nil
}

// Clear implements domain.SampleStore.
func (s *InMemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = nil
	return nil
}
