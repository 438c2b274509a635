package skyline

import "math"

// Mask marks the channels within peak ± widthFactor × half width of each
// record. A factor of 1 reproduces [MinRange, MaxRange].
func Mask(records []Record, nchan int, widthFactor float64) []bool {
	mask := make([]bool, nchan)
	for _, r := range records {
		lo := r.PeakChannel - int(math.Ceil(widthFactor*float64(r.HWHMLeft)))
		hi := r.PeakChannel + int(math.Ceil(widthFactor*float64(r.HWHMRight)))
		for i := max(lo, 0); i <= min(hi, nchan-1); i++ {
			mask[i] = true
		}
	}
	return mask
}

// Adjacent marks the channels within pad channels of (but outside) the
// masked region, used to evaluate fit quality next to the lines.
func Adjacent(mask []bool, pad int) []bool {
	adj := make([]bool, len(mask))
	for i, m := range mask {
		if !m {
			continue
		}
		for k := i - pad; k <= i+pad; k++ {
			if k >= 0 && k < len(mask) && !mask[k] {
				adj[k] = true
			}
		}
	}
	return adj
}
