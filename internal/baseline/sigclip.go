package baseline

import (
	"math"

	"github.com/chrissnell/atmcorr/internal/robust"
)

// ClipOptions parameterizes SigmaClipFit
type ClipOptions struct {
	// Degree of the fitted polynomial
	Degree int

	// NClip is the number of clip-and-refit iterations (0 means a plain fit)
	NClip int

	// LowSigma and HighSigma are the (positive) clip thresholds below and
	// above the fit, in units of the robust residual sigma
	LowSigma  float64
	HighSigma float64

	// BorderFraction of the channels at each end are never clipped
	BorderFraction float64
}

// DefaultClipOptions returns the clip settings used for tau baselines
func DefaultClipOptions() ClipOptions {
	return ClipOptions{
		Degree:         2,
		NClip:          5,
		LowSigma:       3,
		HighSigma:      3,
		BorderFraction: 0,
	}
}

// PolyResult is the outcome of a sigma-clipped polynomial fit. It is not
// modified after being returned.
type PolyResult struct {
	Poly Poly

	// Model is the fit evaluated on every channel
	Model []float64

	// Residuals are data minus model (NaN where the data is NaN)
	Residuals []float64

	// Selection marks the channels used by the final fit
	Selection []bool

	// BorderMask marks the protected border channels
	BorderMask []bool

	// Sigma is the robust sigma of the selected residuals
	Sigma float64

	// Iterations actually performed
	Iterations int
}

// BorderMask marks the first and last int(fraction*n) channels.
func BorderMask(n int, fraction float64) []bool {
	border := make([]bool, n)
	nb := int(fraction * float64(n))
	for i := 0; i < nb && i < n; i++ {
		border[i] = true
		border[n-1-i] = true
	}
	return border
}

// SigmaClipFit fits a polynomial to y over x, iteratively excluding points
// whose residual lies outside [-LowSigma, +HighSigma] × sigma. Channels
// flagged in mask are never used. Border channels are never clipped.
func SigmaClipFit(x, y []float64, mask []bool, opts ClipOptions) (*PolyResult, error) {
	n := len(y)
	base := make([]bool, n)
	for i := range y {
		base[i] = !(mask != nil && mask[i]) && !math.IsNaN(y[i]) && !math.IsInf(y[i], 0)
	}
	border := BorderMask(n, opts.BorderFraction)

	sel := append([]bool(nil), base...)
	var (
		p     Poly
		err   error
		res   = make([]float64, n)
		sigma float64
		iter  int
	)

	for {
		p, err = PolyFit(x, y, nil, invert(sel), opts.Degree)
		if err != nil {
			return nil, err
		}
		for i := range y {
			res[i] = y[i] - p.Eval(x[i])
		}
		_, sigma = robust.MaskedStats(res, invert(sel))

		if iter >= opts.NClip || sigma == 0 || math.IsNaN(sigma) {
			break
		}
		iter++

		next := make([]bool, n)
		changed := false
		for i := range y {
			if !base[i] {
				continue
			}
			keep := border[i] || (res[i] >= -opts.LowSigma*sigma && res[i] <= opts.HighSigma*sigma)
			next[i] = keep
			if keep != sel[i] {
				changed = true
			}
		}
		if !changed || countTrue(next) <= opts.Degree {
			break
		}
		sel = next
	}

	return &PolyResult{
		Poly:       p,
		Model:      p.EvalAll(x),
		Residuals:  res,
		Selection:  sel,
		BorderMask: border,
		Sigma:      sigma,
		Iterations: iter,
	}, nil
}

func invert(m []bool) []bool {
	out := make([]bool, len(m))
	for i, v := range m {
		out[i] = !v
	}
	return out
}

func countTrue(m []bool) int {
	n := 0
	for _, v := range m {
		if v {
			n++
		}
	}
	return n
}
