package tsyscontam

import (
	"fmt"
	"math"

	"github.com/chrissnell/atmcorr/internal/intervals"
	"github.com/chrissnell/atmcorr/internal/robust"
	"github.com/chrissnell/atmcorr/internal/skyline"
)

// evidence is everything the decision tree looks at
type evidence struct {
	freq        []float64
	residual    []float64
	sigma       float64
	science     intervals.Set
	repeated    []repeatedPeak
	atm         intervals.Set
	sourcePeaks intervals.Set
	// minLevel is the peak-to-peak residual below which contamination is low
	minLevel float64
}

// classify applies the decision tree to one residual interval. The first
// matching rule wins. warn is non-empty when the interval deserves a
// warning.
func classify(iv intervals.Interval, ev evidence, opts Options) (label Label, warn string) {
	if !ev.science.Empty() && !ev.science.Overlaps(iv) {
		return LabelOffScience, ""
	}

	var rep *repeatedPeak
	for k := range ev.repeated {
		if ev.repeated[k].Range.Overlaps(iv) {
			rep = &ev.repeated[k]
			break
		}
	}
	atm := ev.atm.Overlaps(iv)

	switch {
	case rep != nil && intervalNearCO(iv, ev.freq, opts.COTolerance):
		if rep.Mismatch > opts.ProminenceMismatch {
			warn = fmt.Sprintf("telluric CO at %v: bandpass/source prominence differ by %.0f%%", iv, 100*rep.Mismatch)
		}
		return LabelTelluric, warn
	case rep != nil && atm:
		return LabelAtmResidual, ""
	case rep != nil:
		return LabelCommonFeature, ""
	case atm:
		return LabelAtmResidual, ""
	}

	if peakToPeak(ev.residual, iv) < ev.minLevel {
		return LabelLowContamination, ""
	}

	// without an independent source peak the line must survive a Gaussian fit
	if !ev.sourcePeaks.Overlaps(iv) && !gaussianRecovered(iv, ev, opts) {
		return LabelPossibleLine, ""
	}
	return LabelLine, ""
}

func peakToPeak(r []float64, iv intervals.Interval) float64 {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, i := range channelRange(iv, len(r)) {
		if finite(r[i]) {
			lo = math.Min(lo, r[i])
			hi = math.Max(hi, r[i])
		}
	}
	if lo > hi {
		return 0
	}
	return hi - lo
}

func channelRange(iv intervals.Interval, n int) []int {
	lo := int(math.Max(math.Ceil(iv.Start), 0))
	hi := int(math.Min(math.Floor(iv.End), float64(n-1)))
	var out []int
	for i := lo; i <= hi; i++ {
		out = append(out, i)
	}
	return out
}

// gaussianRecovered fits a Gaussian plus baseline around iv and reports
// whether a significant peak centered inside the interval was found.
func gaussianRecovered(iv intervals.Interval, ev evidence, opts Options) bool {
	pad := math.Max(iv.Width(), 5)
	window := intervals.Interval{Start: iv.Start - pad, End: iv.End + pad}
	var x, y []float64
	for _, i := range channelRange(window, len(ev.residual)) {
		if finite(ev.residual[i]) {
			x = append(x, float64(i))
			y = append(y, ev.residual[i])
		}
	}
	g := fitGaussian(x, y, opts.MaxEvaluations)
	if math.Abs(g.Amp) < opts.WeakAmplitudeSigma*ev.sigma {
		return false
	}
	return iv.Contains(g.Center)
}

// demote turns over-wide lines into possible lines
func demote(r *Report, nchan int, freq []float64, opts Options) {
	var keep intervals.Set
	for _, iv := range r.Intervals[LabelLine] {
		reason := ""
		if frac := iv.Width() / float64(nchan); frac > opts.LargeIntervalWarningLimit {
			reason = fmt.Sprintf("covers %.0f%% of the window", 100*frac)
		} else if v := velocityWidth(iv, freq); v > opts.MaxVelocityWidth {
			reason = fmt.Sprintf("spans %.0f km/s", v)
		}
		if reason == "" {
			keep = append(keep, iv)
			continue
		}
		r.Warnings = append(r.Warnings, fmt.Sprintf("spw %d field %d: line %v %s, demoted to %s",
			r.SPW, r.Field, iv, reason, LabelPossibleLine))
		r.add(LabelPossibleLine, iv)
	}
	r.Intervals[LabelLine] = intervals.Merge(keep)
}

// sourcePeakSet returns the ranges of the peaks found in the source spectrum
func sourcePeakSet(peaks []skyline.Record) intervals.Set {
	s := intervals.Set{}
	for _, p := range peaks {
		s = append(s, recordInterval(p))
	}
	return intervals.Merge(s)
}

// minScienceLevel is RelativeDetectionFactor × median(min science / trend)
func minScienceLevel(in Input, trend []float64, opts Options) float64 {
	ms := in.MinScience
	if ms == nil {
		ms = in.Source
	}
	norm := make([]float64, len(trend))
	for i := range norm {
		norm[i] = math.NaN()
		if i < len(ms) {
			norm[i] = ratio(ms[i], trend[i])
		}
	}
	level := robust.Median(norm, nil)
	if math.IsNaN(level) {
		return 0
	}
	return opts.RelativeDetectionFactor * level
}
