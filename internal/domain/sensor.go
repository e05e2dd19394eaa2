package domain

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Reading is a single tri-axial acceleration measurement.
type Reading struct {
	X float64 `json:"x" msgpack:"x"`
	Y float64 `json:"y" msgpack:"y"`
	Z float64 `json:"z" msgpack:"z"`
}

// Magnitude returns the euclidean norm of the reading.
func (r Reading) Magnitude() float64 {
	return math.Sqrt(r.X*r.X + r.Y*r.Y + r.Z*r.Z)
}

// LabeledSample is one window of readings annotated with the activity performed.
// Samples are treated as immutable once stored.
type LabeledSample struct {
	Activity string
	Readings []Reading
}

// Validate checks the sample against the expected window length.
func (s LabeledSample) Validate(windowLength int) error {
	if strings.TrimSpace(s.Activity) == "" {
		return fmt.Errorf("%w: activity is required", ErrInvalidSample)
	}
	if len(s.Readings) != windowLength {
		return fmt.Errorf("%w: expected %d readings, got %d", ErrInvalidSample, windowLength, len(s.Readings))
	}
	for i, r := range s.Readings {
		if math.IsNaN(r.X) || math.IsNaN(r.Y) || math.IsNaN(r.Z) ||
			math.IsInf(r.X, 0) || math.IsInf(r.Y, 0) || math.IsInf(r.Z, 0) {
			return fmt.Errorf("%w: reading %d is not finite", ErrInvalidSample, i)
		}
	}
	return nil
}

// Clone returns a deep copy so callers cannot mutate stored readings.
func (s LabeledSample) Clone() LabeledSample {
	readings := make([]Reading, len(s.Readings))
	copy(readings, s.Readings)
	return LabeledSample{Activity: s.Activity, Readings: readings}
}

// SampleSummary describes the content of a sample store.
type SampleSummary struct {
	Total      int            `json:"samples"`
	Activities []string       `json:"activities"`
	PerLabel   map[string]int `json:"per_activity"`
}

// Summarize counts samples per activity.
func Summarize(samples []LabeledSample) SampleSummary {
	summary := SampleSummary{Total: len(samples), PerLabel: make(map[string]int)}
	for _, s := range samples {
		summary.PerLabel[s.Activity]++
	}
	summary.Activities = make([]string, 0, len(summary.PerLabel))
	for label := range summary.PerLabel {
		summary.Activities = append(summary.Activities, label)
	}
	sort.Strings(summary.Activities)
	return summary
}
