package synth

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Profile describes the acceleration signature of one activity.
type Profile struct {
	Offset      [3]float64 `yaml:"offset"`    // Resting acceleration per axis (m/s²).
	Amplitude   [3]float64 `yaml:"amplitude"` // Oscillation amplitude per axis.
	FrequencyHz float64    `yaml:"frequency_hz"`
	Noise       float64    `yaml:"noise"` // Standard deviation of gaussian noise.
}

// Profiles is the set of activities a Synthesizer can produce.
type Profiles struct {
	SampleRateHz float64            `yaml:"sample_rate_hz"`
	Activities   map[string]Profile `yaml:"profiles"`
}

// DefaultProfiles returns the built-in activity signatures.
func DefaultProfiles() Profiles {
	return Profiles{
		SampleRateHz: 50,
		Activities: map[string]Profile{
			"walking": {
				Offset:      [3]float64{0.2, 0.1, 9.8},
				Amplitude:   [3]float64{1.2, 0.8, 1.5},
				FrequencyHz: 1.8,
				Noise:       0.25,
			},
			"running": {
				Offset:      [3]float64{0.5, 0.2, 9.8},
				Amplitude:   [3]float64{3.5, 2.0, 5.0},
				FrequencyHz: 2.8,
				Noise:       0.6,
			},
			"jumping": {
				Offset:      [3]float64{0.0, 0.0, 9.8},
				Amplitude:   [3]float64{0.8, 0.8, 9.0},
				FrequencyHz: 1.2,
				Noise:       0.9,
			},
			"sitting": {
				Offset:      [3]float64{2.5, 0.5, 9.3},
				Amplitude:   [3]float64{0.05, 0.05, 0.05},
				FrequencyHz: 0.2,
				Noise:       0.05,
			},
		},
	}
}

// LoadProfiles reads activity profiles from a YAML file.
func LoadProfiles(path string) (Profiles, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profiles{}, fmt.Errorf("failed to read profile file: %w", err)
	}

	var profiles Profiles
	if err := yaml.Unmarshal(data, &profiles); err != nil {
		return Profiles{}, fmt.Errorf("failed to parse profiles: %w", err)
	}
	if err := profiles.Validate(); err != nil {
		return Profiles{}, fmt.Errorf("invalid profiles: %w", err)
	}
	return profiles, nil
}

// Validate checks that profiles can drive a Synthesizer.
func (p Profiles) Validate() error {
	if p.SampleRateHz <= 0 {
		return fmt.Errorf("sample_rate_hz must be > 0")
	}
	if len(p.Activities) == 0 {
		return fmt.Errorf("at least one profile is required")
	}
	for name, profile := range p.Activities {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("profile name must not be empty")
		}
		if profile.FrequencyHz < 0 || profile.Noise < 0 {
			return fmt.Errorf("profile %q: frequency_hz and noise must be >= 0", name)
		}
	}
	return nil
}

// ProfilesFromFile loads profiles from path, or returns the built-in ones when path is empty.
func ProfilesFromFile(path string) (Profiles, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultProfiles(), nil
	}
	return LoadProfiles(path)
}
