// Package classifier provides a softmax-regression activity classifier over window features.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/floats"

	"example.com/activityrecognition/internal/domain"
)

var (
	// ErrTooFewClasses is returned when the training set covers fewer than two activities.
	ErrTooFewClasses = errors.New("at least two activities are required")
	// ErrTooFewSamples is returned when the split leaves no training or validation samples.
	ErrTooFewSamples = errors.New("not enough samples for the requested validation split")
	// ErrDiverged is returned when weights stop being finite.
	ErrDiverged = errors.New("training diverged")
)

// Option configures optional behaviour for the Classifier.
type Option func(*Classifier)

// WithLearningRate overrides the gradient step size.
func WithLearningRate(rate float64) Option {
	return func(c *Classifier) {
		c.learningRate = rate
	}
}

// WithSeed makes shuffling reproducible.
func WithSeed(seed uint64) Option {
	return func(c *Classifier) {
		c.seed = seed
	}
}

// Classifier trains softmax models. It holds no model state and is safe for concurrent use.
type Classifier struct {
	windowLength int
	learningRate float64
	l2           float64
	seed         uint64
}

// New constructs a Classifier for windows of the given length.
func New(windowLength int, opts ...Option) *Classifier {
	c := &Classifier{
		windowLength: windowLength,
		learningRate: 0.1,
		l2:           1e-4,
		seed:         42,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Train implements domain.Classifier.
func (c *Classifier) Train(ctx context.Context, samples []domain.LabeledSample, cfg domain.TrainingConfig) (domain.Model, domain.Metrics, error) {
	if err := cfg.Validate(); err != nil {
		return nil, domain.Metrics{}, err
	}
	if len(samples) == 0 {
		return nil, domain.Metrics{}, domain.ErrInsufficientData
	}
	for i, s := range samples {
		if err := s.Validate(c.windowLength); err != nil {
			return nil, domain.Metrics{}, fmt.Errorf("sample %d: %w", i, err)
		}
	}

	rng := rand.New(rand.NewPCG(c.seed, uint64(len(samples))))
	order := rng.Perm(len(samples))

	validationCount := int(math.Round(float64(len(samples)) * cfg.ValidationSplit))
	trainCount := len(samples) - validationCount
	if validationCount < 1 || trainCount < 1 {
		return nil, domain.Metrics{}, fmt.Errorf("%w: %d samples", ErrTooFewSamples, len(samples))
	}

	trainIdx, validationIdx := order[:trainCount], order[trainCount:]

	classes := collectClasses(samples, trainIdx)
	if len(classes) < 2 {
		return nil, domain.Metrics{}, fmt.Errorf("%w: got %d", ErrTooFewClasses, len(classes))
	}
	classIndex := make(map[string]int, len(classes))
	for i, label := range classes {
		classIndex[label] = i
	}

	raw := make([][]float64, len(samples))
	for i, s := range samples {
		raw[i] = extractFeatures(s.Readings)
	}
	trainRaw := make([][]float64, 0, trainCount)
	for _, i := range trainIdx {
		trainRaw = append(trainRaw, raw[i])
	}
	sc := fitScaler(trainRaw)

	features := make([][]float64, len(samples))
	for i := range raw {
		features[i] = sc.transform(raw[i])
	}

	m := &Model{
		classes:      classes,
		windowLength: c.windowLength,
		scaler:       sc,
		weights:      newWeights(len(classes)),
	}

	var loss float64
	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, domain.Metrics{}, err
		}
		perm := rng.Perm(trainCount)
		loss = 0
		for start := 0; start < trainCount; start += cfg.BatchSize {
			end := min(start+cfg.BatchSize, trainCount)
			batch := make([]int, 0, end-start)
			for _, p := range perm[start:end] {
				batch = append(batch, trainIdx[p])
			}
			loss += c.step(m, features, samples, classIndex, batch)
		}
		loss /= float64(trainCount)
		if !m.finite() || math.IsNaN(loss) || math.IsInf(loss, 0) {
			return nil, domain.Metrics{}, fmt.Errorf("%w at epoch %d", ErrDiverged, epoch+1)
		}
	}

	metrics := domain.Metrics{
		Accuracy:          m.rightRatio(features, samples, validationIdx),
		TrainAccuracy:     m.rightRatio(features, samples, trainIdx),
		TrainSamples:      trainCount,
		ValidationSamples: validationCount,
		Epochs:            cfg.Epochs,
		FinalLoss:         loss,
	}
	return m, metrics, nil
}

// step applies one mini-batch gradient update and returns the summed cross-entropy loss.
func (c *Classifier) step(m *Model, features [][]float64, samples []domain.LabeledSample, classIndex map[string]int, batch []int) float64 {
	grad := newWeights(len(m.classes))
	var loss float64
	for _, i := range batch {
		probs := m.probabilities(features[i])
		target := classIndex[samples[i].Activity]
		loss -= math.Log(math.Max(probs[target], 1e-12))
		for k := range probs {
			delta := probs[k]
			if k == target {
				delta--
			}
			floats.AddScaled(grad[k][:featureCount], delta, features[i])
			grad[k][featureCount] += delta
		}
	}

	scale := c.learningRate / float64(len(batch))
	for k := range m.weights {
		floats.AddScaled(m.weights[k][:featureCount], -c.learningRate*c.l2, m.weights[k][:featureCount])
		floats.AddScaled(m.weights[k], -scale, grad[k])
	}
	return loss
}

func collectClasses(samples []domain.LabeledSample, idx []int) []string {
	seen := make(map[string]struct{})
	for _, i := range idx {
		seen[samples[i].Activity] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for label := range seen {
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}

// newWeights allocates one row per class: featureCount weights followed by a bias.
func newWeights(classes int) [][]float64 {
	w := make([][]float64, classes)
	for k := range w {
		w[k] = make([]float64, featureCount+1)
	}
	return w
}
