package classifier

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"example.com/activityrecognition/internal/domain"
)

// featureCount is the length of the vector produced by extractFeatures.
const featureCount = 10

// extractFeatures summarises a window as per-axis and magnitude statistics.
func extractFeatures(window []domain.Reading) []float64 {
	n := len(window)
	xs := make([]float64, n)
	ys := make([]float64, n)
	zs := make([]float64, n)
	mags := make([]float64, n)
	for i, r := range window {
		xs[i], ys[i], zs[i] = r.X, r.Y, r.Z
		mags[i] = r.Magnitude()
	}

	meanX, stdX := stat.MeanStdDev(xs, nil)
	meanY, stdY := stat.MeanStdDev(ys, nil)
	meanZ, stdZ := stat.MeanStdDev(zs, nil)
	meanMag, stdMag := stat.MeanStdDev(mags, nil)

	var jerk float64
	for i := 1; i < n; i++ {
		jerk += math.Abs(mags[i] - mags[i-1])
	}
	if n > 1 {
		jerk /= float64(n - 1)
	}

	features := []float64{
		meanX, meanY, meanZ,
		stdX, stdY, stdZ,
		meanMag, stdMag,
		floats.Max(mags) - floats.Min(mags),
		jerk,
	}
	for i, v := range features {
		if math.IsNaN(v) {
			features[i] = 0
		}
	}
	return features
}

// scaler standardises features with statistics learned from the training set.
type scaler struct {
	mean  []float64
	scale []float64
}

func fitScaler(rows [][]float64) scaler {
	s := scaler{mean: make([]float64, featureCount), scale: make([]float64, featureCount)}
	column := make([]float64, len(rows))
	for j := 0; j < featureCount; j++ {
		for i, row := range rows {
			column[i] = row[j]
		}
		mean, std := stat.MeanStdDev(column, nil)
		if math.IsNaN(std) || std < 1e-9 {
			std = 1
		}
		s.mean[j] = mean
		s.scale[j] = std
	}
	return s
}

func (s scaler) transform(features []float64) []float64 {
	out := make([]float64, len(features))
	for j, v := range features {
		out[j] = (v - s.mean[j]) / s.scale[j]
	}
	return out
}
