// Package robust provides median/MAD location and scale estimates with the
// finite-sample bias correction used throughout the atmospheric correction code.
package robust

import (
	"math"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat/distuv"
)

// MADToSigma converts a median absolute deviation into a Gaussian-equivalent
// standard deviation (1/Φ⁻¹(3/4) ≈ 1.4826026).
var MADToSigma = 1.0 / distuv.UnitNormal.Quantile(0.75)

// Bias-correction coefficients for the MAD estimator, 1/(1 - 1/(alpha*n + beta)).
// Even and odd sample sizes use different offsets.
const (
	biasAlpha    = 1.32
	biasBetaEven = -1.5
	biasBetaOdd  = -0.9
)

// BiasCorrection returns the finite-sample correction factor for n samples.
// It returns 1 for n < 2, where no MAD-based scale can be formed.
func BiasCorrection(n int) float64 {
	if n < 2 {
		return 1
	}
	beta := biasBetaOdd
	if n%2 == 0 {
		beta = biasBetaEven
	}
	return 1 / (1 - 1/(biasAlpha*float64(n)+beta))
}

// Stats returns the median and the bias-corrected MAD sigma of values,
// ignoring NaN entries.
//
// Empty input (or all NaN) yields (NaN, NaN). A single value or a set of
// identical values yields (value, 0).
func Stats(values []float64) (median, sigma float64) {
	return MaskedStats(values, nil)
}

// MaskedStats is Stats restricted to entries where mask is false. A nil
// mask selects every entry.
func MaskedStats(values []float64, mask []bool) (median, sigma float64) {
	valid := Valid(values, mask)
	return statsOf(valid)
}

// Valid collects the finite, unmasked entries of values.
func Valid(values []float64, mask []bool) []float64 {
	valid := make([]float64, 0, len(values))
	for i, v := range values {
		if mask != nil && mask[i] {
			continue
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		valid = append(valid, v)
	}
	return valid
}

func statsOf(valid []float64) (float64, float64) {
	n := len(valid)
	if n == 0 {
		return math.NaN(), math.NaN()
	}
	median, err := stats.Median(valid)
	if err != nil {
		return math.NaN(), math.NaN()
	}
	if n == 1 {
		return median, 0
	}
	mad, err := stats.MedianAbsoluteDeviation(valid)
	if err != nil || mad == 0 {
		return median, 0
	}
	return median, mad * MADToSigma * BiasCorrection(n)
}

// Median returns the median of the finite, unmasked entries, NaN when none.
func Median(values []float64, mask []bool) float64 {
	valid := Valid(values, mask)
	if len(valid) == 0 {
		return math.NaN()
	}
	m, err := stats.Median(valid)
	if err != nil {
		return math.NaN()
	}
	return m
}

