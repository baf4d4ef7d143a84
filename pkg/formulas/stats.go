// Package formulas holds the numeric building blocks of the edge model.
package formulas

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Mean calculates the arithmetic mean of a slice of float64 values
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// WeightedMean calculates the weighted mean; nil weights mean equal weighting
func WeightedMean(data, weights []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	if weights != nil && len(weights) != len(data) {
		return 0
	}
	return stat.Mean(data, weights)
}

// Variance calculates the unbiased sample variance; zero for fewer than two values
func Variance(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}
	return stat.Variance(data, nil)
}

// MeanVariance returns mean and unbiased sample variance in one pass
func MeanVariance(data []float64) (float64, float64) {
	switch len(data) {
	case 0:
		return 0, 0
	case 1:
		return data[0], 0
	}
	return stat.MeanVariance(data, nil)
}

// HalfLifeWeight is 0.5^(age/halfLife). A non-positive half-life weighs everything equally.
func HalfLifeWeight(age, halfLife float64) float64 {
	if halfLife <= 0 || age <= 0 {
		return 1
	}
	return math.Pow(0.5, age/halfLife)
}

// LinearFit fits y = alpha + beta*x by least squares
func LinearFit(x, y []float64) (alpha, beta float64, ok bool) {
	if len(x) < 2 || len(x) != len(y) {
		return 0, 0, false
	}
	if Variance(x) == 0 {
		return 0, 0, false
	}
	alpha, beta = stat.LinearRegression(x, y, nil, false)
	if math.IsNaN(alpha) || math.IsNaN(beta) {
		return 0, 0, false
	}
	return alpha, beta, true
}

// Clamp limits v to [lo, hi]
func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// Sign returns -1, 0 or +1
func Sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
