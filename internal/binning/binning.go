// Package binning partitions ordered channel sequences into variable-width
// bins and computes robust per-bin statistics.
package binning

import (
	"errors"
	"math"

	"github.com/chrissnell/atmcorr/internal/robust"
)

// ErrInvalidBinSpec is returned when a BinSpec names both (or neither) a bin
// count and an explicit partition.
var ErrInvalidBinSpec = errors.New("invalid bin spec")

// medianErrFactor is sqrt(pi/2), the asymptotic ratio between the standard
// error of the median and that of the mean.
const medianErrFactor = 1.2533141373155003

// Range is a half-open channel range [Start, End).
type Range struct {
	Start int `json:"start" msgpack:"start"`
	End   int `json:"end" msgpack:"end"`
}

// Width returns the number of channels covered by the range
func (r Range) Width() int {
	return r.End - r.Start
}

// Mid returns the split point of the range
func (r Range) Mid() int {
	return r.Start + r.Width()/2
}

// Contains reports whether channel i lies within the range
func (r Range) Contains(i int) bool {
	return i >= r.Start && i < r.End
}

// Partition is an ordered list of non-overlapping ranges. Gaps are allowed
// once bins have been removed.
type Partition []Range

// Uniform splits n channels into nbins bins of (nearly) equal width. The
// remainder is distributed over the leading bins.
func Uniform(n, nbins int) Partition {
	if nbins < 1 || n < 1 {
		return nil
	}
	if nbins > n {
		nbins = n
	}
	p := make(Partition, 0, nbins)
	width := n / nbins
	extra := n % nbins
	start := 0
	for i := 0; i < nbins; i++ {
		w := width
		if i < extra {
			w++
		}
		p = append(p, Range{Start: start, End: start + w})
		start += w
	}
	return p
}

// Covered returns a mask of the channels covered by the partition.
func (p Partition) Covered(n int) []bool {
	covered := make([]bool, n)
	for _, r := range p {
		for i := max(r.Start, 0); i < min(r.End, n); i++ {
			covered[i] = true
		}
	}
	return covered
}

// Split replaces the bin at index i with its two halves.
func (p Partition) Split(i int) Partition {
	r := p[i]
	mid := r.Mid()
	out := make(Partition, 0, len(p)+1)
	out = append(out, p[:i]...)
	out = append(out, Range{Start: r.Start, End: mid}, Range{Start: mid, End: r.End})
	out = append(out, p[i+1:]...)
	return out
}

// Remove drops the bin at index i.
func (p Partition) Remove(i int) Partition {
	out := make(Partition, 0, len(p)-1)
	out = append(out, p[:i]...)
	return append(out, p[i+1:]...)
}

// BinSpec selects either uniform binning (Count) or an explicit Partition.
// Exactly one must be set.
type BinSpec struct {
	Count     int
	Partition Partition
}

// Resolve returns the partition described by the spec for n channels.
func (s BinSpec) Resolve(n int) (Partition, error) {
	hasCount := s.Count > 0
	hasPartition := len(s.Partition) > 0
	if hasCount == hasPartition {
		return nil, ErrInvalidBinSpec
	}
	if hasCount {
		return Uniform(n, s.Count), nil
	}
	return s.Partition, nil
}

// Bin holds the statistics of one bin.
type Bin struct {
	Range          Range
	XMean          float64
	Median         float64
	Sigma          float64
	MedianErr      float64
	Chi2           float64
	Chi2Valid      bool
	MaskedFraction float64
	NValid         int
}

// Stats computes per-bin statistics of data over x. Entries where mask is
// true (or data is NaN) count as masked. err supplies per-channel errors for
// the chi-square; when nil the bin's own robust sigma is used. Entries with a
// zero or non-finite error are left out of the chi-square sum.
//
// Bins with one or fewer valid entries get Chi2 = NaN and Chi2Valid = false.
func Stats(x, data, err []float64, mask []bool, spec BinSpec) ([]Bin, error) {
	p, e := spec.Resolve(len(data))
	if e != nil {
		return nil, e
	}

	bins := make([]Bin, 0, len(p))
	for _, r := range p {
		bins = append(bins, binStats(x, data, err, mask, r))
	}
	return bins, nil
}

func binStats(x, data, err []float64, mask []bool, r Range) Bin {
	b := Bin{Range: r, Chi2: math.NaN()}
	start, end := max(r.Start, 0), min(r.End, len(data))
	if end <= start {
		b.XMean, b.Median, b.Sigma, b.MedianErr = math.NaN(), math.NaN(), math.NaN(), math.NaN()
		b.MaskedFraction = 1
		return b
	}

	sub := data[start:end]
	var submask []bool
	if mask != nil {
		submask = mask[start:end]
	}

	var xsum float64
	masked := 0
	for i := start; i < end; i++ {
		if isMasked(data, mask, i) {
			masked++
			continue
		}
		xsum += x[i]
		b.NValid++
	}
	b.MaskedFraction = float64(masked) / float64(end-start)

	b.Median, b.Sigma = robust.MaskedStats(sub, submask)
	if b.NValid == 0 {
		b.XMean = math.NaN()
		b.MedianErr = math.NaN()
		return b
	}
	b.XMean = xsum / float64(b.NValid)
	b.MedianErr = medianErrFactor * b.Sigma / math.Sqrt(float64(b.NValid))

	if b.NValid <= 1 {
		return b
	}

	var chi2 float64
	used := 0
	for i := start; i < end; i++ {
		if isMasked(data, mask, i) {
			continue
		}
		e := b.Sigma
		if err != nil {
			e = err[i]
		}
		if e == 0 || math.IsNaN(e) || math.IsInf(e, 0) {
			continue
		}
		d := (data[i] - b.Median) / e
		chi2 += d * d
		used++
	}
	if used > 1 {
		b.Chi2 = chi2 / float64(used-1)
		b.Chi2Valid = true
	} else if used == 0 && b.Sigma == 0 {
		// every valid value equals the median: a perfect fit
		b.Chi2 = 0
		b.Chi2Valid = true
	}
	return b
}

func isMasked(data []float64, mask []bool, i int) bool {
	if mask != nil && mask[i] {
		return true
	}
	return math.IsNaN(data[i])
}
