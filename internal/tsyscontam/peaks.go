package tsyscontam

import (
	"math"

	"github.com/chrissnell/atmcorr/internal/intervals"
	"github.com/chrissnell/atmcorr/internal/skyline"
)

// repeatedPeak is a feature present in both the bandpass and the source
// spectrum.
type repeatedPeak struct {
	Range intervals.Interval
	// Mismatch is |p_bp − p_src| / max(p_bp, p_src)
	Mismatch float64
}

func recordInterval(r skyline.Record) intervals.Interval {
	return intervals.Interval{Start: float64(r.MinRange), End: float64(r.MaxRange)}
}

func recordWidth(r skyline.Record) float64 {
	return float64(r.HWHMLeft + r.HWHMRight + 1)
}

// atmPeaks detects the prominent lines of the model atmosphere
func atmPeaks(atm, freq []float64, opts Options) []skyline.Record {
	if atm == nil {
		return nil
	}
	tau := make([]float64, len(atm))
	for i, a := range atm {
		tau[i] = -math.Log(math.Min(math.Max(a, 1e-6), 1))
	}
	var out []skyline.Record
	for _, r := range skyline.Detect(tau, freq, opts.AtmLines) {
		if r.PeakDepth >= opts.AtmProminence {
			out = append(out, r)
		}
	}
	return out
}

// findRepeated pairs overlapping bandpass and source peaks of compatible
// width.
func findRepeated(bp, src []skyline.Record, opts Options) []repeatedPeak {
	var out []repeatedPeak
	for _, b := range bp {
		bi := recordInterval(b)
		for _, s := range src {
			si := recordInterval(s)
			if !bi.Overlaps(si) {
				continue
			}
			wr := recordWidth(b) / recordWidth(s)
			if wr > opts.RepeatedWidthRatio || wr < 1/opts.RepeatedWidthRatio {
				continue
			}
			mismatch := 0.0
			if top := math.Max(b.PeakDepth, s.PeakDepth); top > 0 {
				mismatch = math.Abs(b.PeakDepth-s.PeakDepth) / top
			}
			merged := intervals.Union(intervals.Set{bi}, intervals.Set{si})
			out = append(out, repeatedPeak{Range: merged[0], Mismatch: mismatch})
		}
	}
	return out
}

// nearCO reports whether frequency f (GHz) lies within tol of a CO line
func nearCO(f, tol float64) bool {
	for _, co := range CORestFrequencies {
		if math.Abs(f-co) <= tol {
			return true
		}
	}
	return false
}

// intervalNearCO reports whether any channel of iv is within tol of a CO line
func intervalNearCO(iv intervals.Interval, freq []float64, tol float64) bool {
	if freq == nil {
		return false
	}
	lo := int(math.Max(iv.Start, 0))
	hi := int(math.Min(iv.End, float64(len(freq)-1)))
	for i := lo; i <= hi; i++ {
		if nearCO(freq[i], tol) {
			return true
		}
	}
	return false
}

// velocityWidth returns the Doppler width of iv in km/s, or 0 without a
// frequency axis.
func velocityWidth(iv intervals.Interval, freq []float64) float64 {
	n := len(freq)
	if n < 2 {
		return 0
	}
	lo := int(math.Max(iv.Start, 0))
	hi := int(math.Min(iv.End, float64(n-1)))
	chanWidth := math.Abs(freq[1] - freq[0])
	df := math.Abs(freq[hi]-freq[lo]) + chanWidth
	center := 0.5 * (freq[hi] + freq[lo])
	if center <= 0 {
		return 0
	}
	return speedOfLight * df / center
}
