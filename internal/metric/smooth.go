package metric

import "math"

// Boxcar returns data smoothed with a running mean of width box over the
// valid entries. Invalid entries are neither used nor filled; they stay NaN
// in the output.
func Boxcar(data []float64, valid []bool, box int) []float64 {
	n := len(data)
	out := make([]float64, n)
	if box <= 1 {
		copy(out, data)
		return out
	}
	lo := (box - 1) / 2
	hi := box / 2
	for i := range data {
		if !valid[i] {
			out[i] = math.NaN()
			continue
		}
		var sum float64
		cnt := 0
		for k := i - lo; k <= i+hi; k++ {
			if k < 0 || k >= n || !valid[k] {
				continue
			}
			sum += data[k]
			cnt++
		}
		out[i] = sum / float64(cnt)
	}
	return out
}
