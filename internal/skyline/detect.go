// Package skyline detects narrow atmospheric lines in optical-depth spectra,
// measures their widths and grades them to pick a representative line.
package skyline

import (
	"math"

	"github.com/chrissnell/atmcorr/internal/baseline"
	"github.com/chrissnell/atmcorr/internal/robust"
)

// Record describes one detected atmospheric line. Grade is zero until
// Grade has been run over every spectral window.
type Record struct {
	PeakChannel int     `json:"peak_channel" msgpack:"peak_channel"`
	PeakDepth   float64 `json:"peak_depth" msgpack:"peak_depth"`
	HWHMLeft    int     `json:"hwhm_left" msgpack:"hwhm_left"`
	HWHMRight   int     `json:"hwhm_right" msgpack:"hwhm_right"`
	MinRange    int     `json:"min_range" msgpack:"min_range"`
	MaxRange    int     `json:"max_range" msgpack:"max_range"`
	Grade       float64 `json:"grade" msgpack:"grade"`
	Frequency   float64 `json:"frequency_ghz,omitempty" msgpack:"frequency_ghz,omitempty"`
}

// Options parameterizes Detect
type Options struct {
	// FractionLevel is the fraction of the peak depth at which the half
	// width is measured (0.5 gives the HWHM)
	FractionLevel float64

	// MinPeakLevel requires tau at the peak to reach (1+MinPeakLevel) ×
	// median(tau)
	MinPeakLevel float64

	// BorderFraction of the channels at each end cannot hold a peak
	BorderFraction float64

	// Baseline is the sigma-clipped polynomial removed before detection
	Baseline baseline.ClipOptions
}

// DefaultOptions returns the detection settings used by the model search
func DefaultOptions() Options {
	return Options{
		FractionLevel:  0.5,
		MinPeakLevel:   0.05,
		BorderFraction: 0.01,
		Baseline: baseline.ClipOptions{
			Degree:    2,
			NClip:     5,
			LowSigma:  3,
			HighSigma: 2,
		},
	}
}

// Detect finds atmospheric lines in a tau spectrum. freq may be nil; when
// given, each record carries the frequency of its peak channel.
func Detect(tau, freq []float64, opts Options) []Record {
	n := len(tau)
	if n < 3 {
		return nil
	}

	x := make([]float64, n)
	for i := range x {
		x[i] = float64(i)
	}
	fit, err := baseline.SigmaClipFit(x, tau, nil, opts.Baseline)
	if err != nil {
		return nil
	}
	sub := fit.Residuals

	medTau := robust.Median(tau, nil)
	if math.IsNaN(medTau) {
		return nil
	}
	minTau := (1 + opts.MinPeakLevel) * medTau
	nb := int(opts.BorderFraction * float64(n))

	var peaks []int
	for i := 1; i < n-1; i++ {
		if i < nb || i >= n-nb {
			continue
		}
		if math.IsNaN(sub[i-1]) || math.IsNaN(sub[i]) || math.IsNaN(sub[i+1]) {
			continue
		}
		d1 := sub[i] - sub[i-1]
		d2 := sub[i+1] - sub[i]
		if !(d1 > 0 && d2 <= 0) {
			continue
		}
		if sub[i-1]-2*sub[i]+sub[i+1] >= 0 {
			continue
		}
		if sub[i] <= 0 || tau[i] < minTau {
			continue
		}
		peaks = append(peaks, i)
	}
	if len(peaks) == 0 {
		return nil
	}

	valleys := findValleys(sub)

	records := make([]Record, len(peaks))
	for k, p := range peaks {
		prev, next := -1, n
		if k > 0 {
			prev = peaks[k-1]
		}
		if k < len(peaks)-1 {
			next = peaks[k+1]
		}
		left, right := halfWidths(sub, p, prev, next, opts.FractionLevel)

		r := Record{
			PeakChannel: p,
			PeakDepth:   sub[p],
			MinRange:    max(p-left, 0),
			MaxRange:    min(p+right, n-1),
		}
		if freq != nil && p < len(freq) {
			r.Frequency = freq[p]
		}
		shrinkToValleys(&r, valleys)
		records[k] = r
	}

	resolveOverlaps(records, sub, valleys)
	for k := range records {
		records[k].HWHMLeft = records[k].PeakChannel - records[k].MinRange
		records[k].HWHMRight = records[k].MaxRange - records[k].PeakChannel
	}
	return records
}

// halfWidths walks outward from the peak until the baseline-subtracted
// ratio drops below level. Without a crossing the half width defaults to
// half the distance to the neighboring peak, or to the spectrum edge.
func halfWidths(sub []float64, p, prev, next int, level float64) (left, right int) {
	amp := sub[p]

	left = -1
	for k := p - 1; k >= 0; k-- {
		if sub[k]/amp < level {
			left = p - k
			break
		}
	}
	if left < 0 {
		if prev >= 0 {
			left = (p - prev) / 2
		} else {
			left = p
		}
	}

	right = -1
	for k := p + 1; k < len(sub); k++ {
		if sub[k]/amp < level {
			right = k - p
			break
		}
	}
	if right < 0 {
		if next < len(sub) {
			right = (next - p) / 2
		} else {
			right = len(sub) - 1 - p
		}
	}
	return left, right
}

func findValleys(sub []float64) []int {
	var valleys []int
	for i := 1; i < len(sub)-1; i++ {
		if sub[i]-sub[i-1] < 0 && sub[i+1]-sub[i] >= 0 {
			valleys = append(valleys, i)
		}
	}
	return valleys
}

// shrinkToValleys pulls each side of the range back to the nearest valley
// lying strictly between the peak and the range edge.
func shrinkToValleys(r *Record, valleys []int) {
	for _, v := range valleys {
		if v > r.MinRange && v < r.PeakChannel {
			r.MinRange = v
		}
	}
	for i := len(valleys) - 1; i >= 0; i-- {
		v := valleys[i]
		if v < r.MaxRange && v > r.PeakChannel {
			r.MaxRange = v
		}
	}
}

// resolveOverlaps splits overlapping ranges of neighboring peaks at the
// deepest intervening valley, or bisects the gap between the peaks.
func resolveOverlaps(records []Record, sub []float64, valleys []int) {
	for k := 0; k+1 < len(records); k++ {
		a, b := &records[k], &records[k+1]
		if a.MaxRange < b.MinRange {
			continue
		}
		split := -1
		for _, v := range valleys {
			if v > a.PeakChannel && v < b.PeakChannel {
				if split < 0 || sub[v] < sub[split] {
					split = v
				}
			}
		}
		if split < 0 {
			split = (a.PeakChannel + b.PeakChannel) / 2
		}
		a.MaxRange = max(min(a.MaxRange, split), a.PeakChannel)
		b.MinRange = min(max(b.MinRange, split+1), b.PeakChannel)
	}
}
