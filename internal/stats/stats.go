// Package stats computes the location and spread estimates behind the rule
// thresholds: population mean and standard deviation, the median, and the
// median absolute deviation.
package stats

import (
	"errors"
	"slices"

	"gonum.org/v1/gonum/stat"
)

const (
	// MADScale rescales a MAD to a standard deviation under normality.
	MADScale = 1.4826
	// Sigmas is the multiplier shared by the 3-sigma and robust rules.
	Sigmas = 3.0
)

// ErrEmptyInput is returned for an empty series.
var ErrEmptyInput = errors.New("stats: empty input")

// MeanStdDev returns the population mean and population standard deviation
// (sum of squared deviations divided by N).
func MeanStdDev(x []float64) (mean, stddev float64, err error) {
	if len(x) == 0 {
		return 0, 0, ErrEmptyInput
	}
	mean, stddev = stat.PopMeanStdDev(x, nil)
	return mean, stddev, nil
}

// Median takes the element of rank N/2. For an even N the result is the
// mean of that element and the largest element ranked below it.
// The input is not modified.
func Median(x []float64) (float64, error) {
	if len(x) == 0 {
		return 0, ErrEmptyInput
	}
	v := make([]float64, len(x))
	copy(v, x)
	return medianInPlace(v), nil
}

// MAD returns the median, by the same rule as Median, of |x - median|.
func MAD(x []float64, median float64) (float64, error) {
	if len(x) == 0 {
		return 0, ErrEmptyInput
	}
	dev := make([]float64, len(x))
	for i, v := range x {
		if d := v - median; d < 0 {
			dev[i] = -d
		} else {
			dev[i] = d
		}
	}
	return medianInPlace(dev), nil
}

// RobustThreshold is median + 3 * 1.4826 * mad.
func RobustThreshold(median, mad float64) float64 {
	return median + Sigmas*MADScale*mad
}

// SigmaThreshold is mean + 3 * stddev.
func SigmaThreshold(mean, stddev float64) float64 {
	return mean + Sigmas*stddev
}

func medianInPlace(v []float64) float64 {
	slices.Sort(v)
	mid := len(v) / 2
	m := v[mid]
	if len(v)%2 == 0 {
		m = 0.5 * (m + v[mid-1])
	}
	return m
}
