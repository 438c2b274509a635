package baseline

import (
	"fmt"
	"math"

	"github.com/chrissnell/atmcorr/internal/binning"
	"github.com/chrissnell/atmcorr/internal/robust"
)

// Options parameterizes FitBaseline
type Options struct {
	// InitialBins is the number of uniform bins to start from (minimum 2)
	InitialBins int

	// DetectionSigma holds the [low, high] outlier thresholds in units of
	// the local error; low is normally negative
	DetectionSigma [2]float64

	// MinBinFraction is the minimum bin width as a fraction of the channels
	MinBinFraction float64

	// TargetChi2 is the per-bin reduced chi-square to reach
	TargetChi2 float64

	// MaxOutlierFraction marks bins with more masked/outlying channels as
	// candidates for refinement
	MaxOutlierFraction float64

	// BorderFraction of the channels at each end form the protected border:
	// bins touching it are never removed
	BorderFraction float64

	// OutlierCenter and OutlierWidth place a Gaussian weight (in fractional
	// channel position) on outlier detection. Width <= 0 disables it.
	OutlierCenter float64
	OutlierWidth  float64
}

// DefaultOptions returns the baseline settings used for corrected spectra
func DefaultOptions() Options {
	return Options{
		InitialBins:        8,
		DetectionSigma:     [2]float64{-4, 4},
		MinBinFraction:     0.025,
		TargetChi2:         1.5,
		MaxOutlierFraction: 0.3,
		BorderFraction:     0.05,
		OutlierCenter:      0.5,
		OutlierWidth:       0,
	}
}

// SplineResult is the outcome of FitBaseline. It is not modified after
// being returned.
type SplineResult struct {
	// Spline is nil when no bin had valid data (degraded result)
	Spline *Spline

	// Model is the baseline on every channel
	Model []float64

	// Residual is data minus model; for a degraded result it is data minus
	// the median of the valid data
	Residual []float64

	// Partition is the final bin layout
	Partition binning.Partition

	// Excluded marks channels whose bins were removed from the fit
	Excluded []bool

	// Outliers marks channels outside the detection band
	Outliers []bool

	// Steps counts split and removal operations
	Steps int

	// Converged is false when the loop stopped because no bin was left
	Converged bool
}

// FitBaseline fits a cubic spline through per-bin medians of y, splitting
// bins whose residual chi-square exceeds the target and removing narrow
// high-chi-square bins outside the protected border, until convergence.
// yerr may be nil, in which case the global robust sigma of the residual is
// used as the per-channel error.
func FitBaseline(x, y, yerr []float64, mask []bool, opts Options) (*SplineResult, error) {
	n := len(y)
	if len(x) != n || (yerr != nil && len(yerr) != n) || (mask != nil && len(mask) != n) {
		return nil, fmt.Errorf("fitbaseline: input lengths differ")
	}
	if n == 0 {
		return nil, ErrNoData
	}

	if opts.InitialBins < 2 {
		opts.InitialBins = 2
		opts.MinBinFraction = 0.45
	}
	minWidth := int(opts.MinBinFraction * float64(n))
	if minWidth < 1 {
		minWidth = 1
	}
	border := BorderMask(n, opts.BorderFraction)

	partition := binning.Uniform(n, opts.InitialBins)
	result := &SplineResult{Converged: true}

	for {
		spline, model := fitKnots(x, y, mask, partition)
		if spline == nil {
			return degraded(y, mask, partition, result.Steps), nil
		}
		residual := subtract(y, model)
		errs := channelErrors(residual, yerr, mask)
		outliers := detectOutliers(residual, errs, mask, opts)

		bins, err := binning.Stats(x, residual, errs, mask, binning.BinSpec{Partition: partition})
		if err != nil {
			return nil, err
		}

		worst, score := -1, 0.0
		for i, b := range bins {
			chi2 := 0.0
			if b.Chi2Valid {
				chi2 = b.Chi2
			}
			mf := outlierFraction(b.Range, mask, outliers)
			if chi2 > opts.TargetChi2 || mf > opts.MaxOutlierFraction {
				if chi2 > score {
					worst, score = i, chi2
				}
			}
		}

		stop := true
		if worst >= 0 && score > opts.TargetChi2 {
			r := partition[worst]
			switch {
			case r.Width() > minWidth:
				partition = partition.Split(worst)
				stop = false
			case !touchesBorder(r, border):
				partition = partition.Remove(worst)
				stop = false
			}
		}

		if stop {
			result.Spline = spline
			result.Model = model
			result.Residual = residual
			result.Partition = partition
			result.Excluded = invert(partition.Covered(n))
			result.Outliers = outliers
			return result, nil
		}
		result.Steps++

		if len(partition) == 0 {
			result.Converged = false
			return degraded(y, mask, partition, result.Steps), nil
		}
	}
}

// fitKnots places a knot at the x mean and data median of every bin with
// valid data and fits the spline. It returns nil when no bin is usable.
func fitKnots(x, y []float64, mask []bool, partition binning.Partition) (*Spline, []float64) {
	bins, err := binning.Stats(x, y, nil, mask, binning.BinSpec{Partition: partition})
	if err != nil {
		return nil, nil
	}
	var kx, ky []float64
	for _, b := range bins {
		if b.NValid == 0 || math.IsNaN(b.Median) {
			continue
		}
		kx = append(kx, b.XMean)
		ky = append(ky, b.Median)
	}
	if len(kx) == 0 {
		return nil, nil
	}
	spline, err := NewSpline(kx, ky)
	if err != nil {
		return nil, nil
	}
	return spline, spline.EvalAll(x)
}

func degraded(y []float64, mask []bool, partition binning.Partition, steps int) *SplineResult {
	med := robust.Median(y, mask)
	model := make([]float64, len(y))
	for i := range model {
		model[i] = med
	}
	return &SplineResult{
		Model:     model,
		Residual:  subtract(y, model),
		Partition: partition,
		Excluded:  invert(partition.Covered(len(y))),
		Outliers:  make([]bool, len(y)),
		Steps:     steps,
		Converged: false,
	}
}

func channelErrors(residual, yerr []float64, mask []bool) []float64 {
	if yerr != nil {
		return yerr
	}
	_, sigma := robust.MaskedStats(residual, mask)
	errs := make([]float64, len(residual))
	for i := range errs {
		errs[i] = sigma
	}
	return errs
}

// detectOutliers flags channels whose proximity-weighted residual falls
// outside [low, high] × local error.
func detectOutliers(residual, errs []float64, mask []bool, opts Options) []bool {
	n := len(residual)
	out := make([]bool, n)
	for i := range residual {
		if (mask != nil && mask[i]) || math.IsNaN(residual[i]) {
			continue
		}
		e := errs[i]
		if e == 0 || math.IsNaN(e) {
			continue
		}
		w := proximityWeight(i, n, opts.OutlierCenter, opts.OutlierWidth)
		r := residual[i] * w
		if r < opts.DetectionSigma[0]*e || r > opts.DetectionSigma[1]*e {
			out[i] = true
		}
	}
	return out
}

func proximityWeight(i, n int, center, width float64) float64 {
	if width <= 0 || n < 2 {
		return 1
	}
	pos := float64(i) / float64(n-1)
	d := (pos - center) / width
	return math.Exp(-0.5 * d * d)
}

func outlierFraction(r binning.Range, mask, outliers []bool) float64 {
	if r.Width() <= 0 {
		return 0
	}
	bad := 0
	for i := r.Start; i < r.End; i++ {
		if (mask != nil && mask[i]) || outliers[i] {
			bad++
		}
	}
	return float64(bad) / float64(r.Width())
}

func touchesBorder(r binning.Range, border []bool) bool {
	for i := r.Start; i < r.End && i < len(border); i++ {
		if border[i] {
			return true
		}
	}
	return false
}

func subtract(a, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = a[i] - b[i]
	}
	return out
}
