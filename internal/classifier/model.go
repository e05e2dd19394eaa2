package classifier

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"example.com/activityrecognition/internal/domain"
)

// Model is a trained softmax classifier. It is immutable and safe for concurrent use.
type Model struct {
	classes      []string
	windowLength int
	scaler       scaler
	weights      [][]float64
}

// Classes implements domain.Model.
func (m *Model) Classes() []string {
	return append([]string(nil), m.classes...)
}

// WindowLength implements domain.Model.
func (m *Model) WindowLength() int {
	return m.windowLength
}

// Predict implements domain.Model.
func (m *Model) Predict(window []domain.Reading) (domain.Prediction, error) {
	if len(window) != m.windowLength {
		return domain.Prediction{}, fmt.Errorf("%w: expected %d readings, got %d", domain.ErrInvalidWindow, m.windowLength, len(window))
	}

	probs := m.probabilities(m.scaler.transform(extractFeatures(window)))
	best := floats.MaxIdx(probs)
	return domain.Prediction{Label: m.classes[best], Confidence: probs[best]}, nil
}

func (m *Model) probabilities(features []float64) []float64 {
	logits := make([]float64, len(m.weights))
	for k, row := range m.weights {
		logits[k] = floats.Dot(row[:featureCount], features) + row[featureCount]
	}

	maxLogit := floats.Max(logits)
	var sum float64
	for k, v := range logits {
		logits[k] = math.Exp(v - maxLogit)
		sum += logits[k]
	}
	floats.Scale(1/sum, logits)
	return logits
}

func (m *Model) rightRatio(features [][]float64, samples []domain.LabeledSample, idx []int) float64 {
	if len(idx) == 0 {
		return 0
	}
	var right int
	for _, i := range idx {
		probs := m.probabilities(features[i])
		if m.classes[floats.MaxIdx(probs)] == samples[i].Activity {
			right++
		}
	}
	return float64(right) / float64(len(idx))
}

func (m *Model) finite() bool {
	for _, row := range m.weights {
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}
