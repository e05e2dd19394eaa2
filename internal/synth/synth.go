// Package synth generates synthetic accelerometer data for known activities.
package synth

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"sync"

	"example.com/activityrecognition/internal/domain"
)

// ErrUnknownActivity is returned for activities without a profile.
var ErrUnknownActivity = errors.New("unknown activity")

var axisPhase = [3]float64{0, math.Pi / 2, math.Pi / 3}

// Synthesizer produces readings and labeled windows from activity profiles.
// It is safe for concurrent use.
type Synthesizer struct {
	mu       sync.Mutex
	rng      *rand.Rand
	profiles Profiles
	names    []string
}

// New constructs a Synthesizer. The seed makes output reproducible.
func New(profiles Profiles, seed uint64) (*Synthesizer, error) {
	if err := profiles.Validate(); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(profiles.Activities))
	for name := range profiles.Activities {
		names = append(names, name)
	}
	sort.Strings(names)

	return &Synthesizer{
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		profiles: profiles,
		names:    names,
	}, nil
}

// Activities lists the known activity names in sorted order.
func (s *Synthesizer) Activities() []string {
	return append([]string(nil), s.names...)
}

// SampleRateHz is the simulated sensor sampling rate.
func (s *Synthesizer) SampleRateHz() float64 {
	return s.profiles.SampleRateHz
}

// HasActivity reports whether a profile exists for the activity.
func (s *Synthesizer) HasActivity(activity string) bool {
	_, ok := s.profiles.Activities[activity]
	return ok
}

// Window produces length consecutive readings starting at a random phase.
func (s *Synthesizer) Window(activity string, length int) ([]domain.Reading, error) {
	profile, ok := s.profiles.Activities[activity]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownActivity, activity)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := s.rng.Float64() * 10
	out := make([]domain.Reading, length)
	for i := range out {
		out[i] = s.readingLocked(profile, start+float64(i)/s.profiles.SampleRateHz)
	}
	return out, nil
}

// Generate produces n labeled windows spread round-robin across activities.
// An empty activity list uses every known profile.
func (s *Synthesizer) Generate(n, length int, activities []string) ([]domain.LabeledSample, error) {
	if n < 0 {
		return nil, fmt.Errorf("sample count must be >= 0")
	}
	if len(activities) == 0 {
		activities = s.names
	}
	for _, activity := range activities {
		if !s.HasActivity(activity) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownActivity, activity)
		}
	}

	out := make([]domain.LabeledSample, 0, n)
	for i := 0; i < n; i++ {
		activity := activities[i%len(activities)]
		readings, err := s.Window(activity, length)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.LabeledSample{Activity: activity, Readings: readings})
	}
	return out, nil
}

func (s *Synthesizer) readingLocked(p Profile, t float64) domain.Reading {
	var axes [3]float64
	for i := range axes {
		wave := math.Sin(2*math.Pi*p.FrequencyHz*t + axisPhase[i])
		axes[i] = p.Offset[i] + p.Amplitude[i]*wave + p.Noise*s.rng.NormFloat64()
	}
	return domain.Reading{X: axes[0], Y: axes[1], Z: axes[2]}
}

// Stream is a stateful per-session generator that advances simulated time on every call.
// A Stream must not be shared between goroutines.
type Stream struct {
	synth    *Synthesizer
	activity string
	t        float64
}

// NewStream starts a continuous signal for the activity.
func (s *Synthesizer) NewStream(activity string) (*Stream, error) {
	if !s.HasActivity(activity) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownActivity, activity)
	}
	s.mu.Lock()
	start := s.rng.Float64() * 10
	s.mu.Unlock()
	return &Stream{synth: s, activity: activity, t: start}, nil
}

// Activity returns the activity currently simulated.
func (st *Stream) Activity() string {
	return st.activity
}

// SetActivity switches the simulated activity without resetting time.
func (st *Stream) SetActivity(activity string) error {
	if !st.synth.HasActivity(activity) {
		return fmt.Errorf("%w: %s", ErrUnknownActivity, activity)
	}
	st.activity = activity
	return nil
}

// Next returns the next count readings of the signal.
func (st *Stream) Next(count int) []domain.Reading {
	profile := st.synth.profiles.Activities[st.activity]
	step := 1 / st.synth.profiles.SampleRateHz

	st.synth.mu.Lock()
	defer st.synth.mu.Unlock()

	out := make([]domain.Reading, count)
	for i := range out {
		out[i] = st.synth.readingLocked(profile, st.t)
		st.t += step
	}
	return out
}
