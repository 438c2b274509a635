package tsyscontam

import (
	"fmt"
	"math"

	"github.com/chrissnell/atmcorr/internal/intervals"
	"github.com/chrissnell/atmcorr/internal/robust"
	"github.com/chrissnell/atmcorr/internal/skyline"
	"go.uber.org/zap"
)

// Classifier runs the contamination detection
type Classifier struct {
	opts   Options
	logger *zap.SugaredLogger
}

// NewClassifier returns a Classifier with the given options
func NewClassifier(opts Options, logger *zap.SugaredLogger) *Classifier {
	if opts.MaxEvaluations <= 0 {
		opts.MaxEvaluations = DefaultOptions().MaxEvaluations
	}
	return &Classifier{opts: opts, logger: logger}
}

// Detect compares the source and bandpass Tsys spectra of one window and
// classifies every significant residual interval. Mismatched spectrum
// lengths are a usage error; every data problem is reported in the Report.
func (c *Classifier) Detect(in Input) (*Report, error) {
	n := len(in.Source)
	if len(in.Bandpass) != n {
		return nil, fmt.Errorf("bandpass has %d channels, source has %d", len(in.Bandpass), n)
	}
	if in.Freq != nil && len(in.Freq) != n {
		return nil, fmt.Errorf("frequency axis has %d channels, spectra have %d", len(in.Freq), n)
	}
	if in.Atm != nil && len(in.Atm) != n {
		return nil, fmt.Errorf("atmospheric model has %d channels, spectra have %d", len(in.Atm), n)
	}

	report := newReport(in)
	report.Residual = make([]float64, n)
	if identical(in.Bandpass, in.Source) {
		c.logger.Debugf("spw %d field %d: identical spectra, nothing to classify", in.SPW, in.Field)
		return report, nil
	}

	atm := in.Atm
	if atm == nil {
		atm = make([]float64, n)
		for i := range atm {
			atm[i] = 1
		}
	}

	bpN, srcN, trend := detrend(in.Bandpass, in.Source)
	d := make([]float64, n)
	for i := range d {
		d[i] = srcN[i] - bpN[i]
	}

	nsig := c.opts.DetectionSigma
	if nsig <= 0 {
		nsig = DetectionLimit(n)
	}
	report.NSigma = nsig

	atmRecords := atmPeaks(in.Atm, in.Freq, c.opts)
	report.AtmPeaks = atmRecords
	atmSet := intervals.Set{}
	nonCO := intervals.Set{}
	for _, r := range atmRecords {
		iv := recordInterval(r)
		atmSet = append(atmSet, iv)
		if in.Freq == nil || !nearCO(r.Frequency, c.opts.COTolerance) {
			nonCO = append(nonCO, iv)
		}
	}
	atmSet = intervals.Merge(atmSet)
	nonCO = intervals.Merge(nonCO)

	model, used := fitSimple(d, atm, c.opts)
	residual := centered(subtract(d, model), used)
	sigma := c.sigma(residual, used)
	report.Model = "simple"

	if c.needsEscalation(residual, sigma, nonCO) {
		residual, sigma = c.escalate(d, used, atm, nonCO, nsig, report)
	}

	report.Residual = residual
	report.Sigma = sigma

	bpPeaks := skyline.Detect(bpN, in.Freq, c.opts.Peaks)
	srcPeaks := skyline.Detect(srcN, in.Freq, c.opts.Peaks)
	ev := evidence{
		freq:        in.Freq,
		residual:    residual,
		sigma:       sigma,
		science:     intervals.Clip(intervals.Merge(in.Science), 0, float64(n-1)),
		repeated:    findRepeated(bpPeaks, srcPeaks, c.opts),
		atm:         atmSet,
		sourcePeaks: sourcePeakSet(srcPeaks),
		minLevel:    minScienceLevel(in, trend, c.opts),
	}

	for _, iv := range detections(residual, sigma, nsig, c.opts.GrowSigma) {
		label, warn := classify(iv, ev, c.opts)
		c.logger.Debugf("spw %d field %d: interval %v classified %s", in.SPW, in.Field, iv, label)
		report.add(label, iv)
		if warn != "" {
			report.Warnings = append(report.Warnings, warn)
		}
	}
	demote(report, n, in.Freq, c.opts)

	for _, w := range report.Warnings {
		c.logger.Warn(w)
	}
	return report, nil
}

func (c *Classifier) sigma(residual []float64, used []bool) float64 {
	_, s := robust.MaskedStats(residual, invert(used))
	if math.IsNaN(s) || s < c.opts.MinSigma {
		return c.opts.MinSigma
	}
	return s
}

// needsEscalation reports whether the simple model leaves too many outliers
// or the window holds a prominent non-CO atmospheric line.
func (c *Classifier) needsEscalation(residual []float64, sigma float64, nonCO intervals.Set) bool {
	if !nonCO.Empty() {
		return true
	}
	valid := 0
	beyond := make([]int, len(c.opts.Triggers))
	for _, r := range residual {
		if !finite(r) {
			continue
		}
		valid++
		for k, t := range c.opts.Triggers {
			if math.Abs(r) > t.Sigma*sigma {
				beyond[k]++
			}
		}
	}
	if valid == 0 {
		return false
	}
	for k, t := range c.opts.Triggers {
		if float64(beyond[k])/float64(valid) > t.Fraction {
			return true
		}
	}
	return false
}

// escalate fits the rich model with increasing Legendre degree until the
// residual at every non-CO atmospheric line is below the detection limit.
func (c *Classifier) escalate(d []float64, used []bool, atm []float64, segments intervals.Set, nsig float64, report *Report) ([]float64, float64) {
	deg := max(c.opts.LegendreDegree, 0)
	var (
		residual []float64
		sigma    float64
	)
	for esc := 0; ; esc++ {
		m := newRichModel(len(d), deg, segments, atm)
		residual = centered(subtract(d, fitRich(d, used, m, c.opts.MaxEvaluations)), used)
		sigma = c.sigma(residual, used)
		report.Model = "legendre"
		report.Degree = deg
		report.Escalations = esc
		if peaksBelow(residual, segments, nsig*sigma) || esc >= c.opts.MaxEscalations {
			break
		}
		deg++
	}
	c.logger.Debugf("spw %d field %d: rich model degree %d after %d escalations",
		report.SPW, report.Field, report.Degree, report.Escalations)
	return residual, sigma
}

// peaksBelow reports whether |residual| stays within limit over every
// interval of s.
func peaksBelow(residual []float64, s intervals.Set, limit float64) bool {
	for _, iv := range s {
		for _, i := range channelRange(iv, len(residual)) {
			if finite(residual[i]) && math.Abs(residual[i]) > limit {
				return false
			}
		}
	}
	return true
}

// detections returns the intervals where |residual| exceeds nsig × sigma,
// each widened while |residual| stays above grow × sigma.
func detections(residual []float64, sigma, nsig, grow float64) intervals.Set {
	n := len(residual)
	hit := make([]bool, n)
	for i, r := range residual {
		hit[i] = finite(r) && math.Abs(r) > nsig*sigma
	}
	core := intervals.FromMask(hit)

	widened := intervals.Set{}
	for _, iv := range core {
		lo, hi := int(iv.Start), int(iv.End)
		for lo > 0 && finite(residual[lo-1]) && math.Abs(residual[lo-1]) > grow*sigma {
			lo--
		}
		for hi < n-1 && finite(residual[hi+1]) && math.Abs(residual[hi+1]) > grow*sigma {
			hi++
		}
		widened = append(widened, intervals.Interval{Start: float64(lo), End: float64(hi)})
	}
	return intervals.Merge(widened)
}

// centered removes the median of the residual over the fitted channels.
// The asymmetric loss leaves the fit offset from the noise center.
func centered(r []float64, used []bool) []float64 {
	med := robust.Median(r, invert(used))
	if math.IsNaN(med) {
		return r
	}
	for i := range r {
		r[i] -= med
	}
	return r
}

func identical(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] && !(math.IsNaN(a[i]) && math.IsNaN(b[i])) {
			return false
		}
	}
	return true
}

func subtract(a, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = a[i] - b[i]
	}
	return out
}
