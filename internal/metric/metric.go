// Package metric computes the scalar quality metrics used to rank
// atmospheric models by the residual they leave on skyline channels.
package metric

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrUnknownType is returned by ParseType for names outside the vocabulary
var ErrUnknownType = errors.New("unknown metric type")

// Type names a metric
type Type string

const (
	// MaxAbs is the largest absolute value (deprecated, kept for diagnostics)
	MaxAbs Type = "maxabs"

	// IntAbs is the integral of the absolute value (deprecated)
	IntAbs Type = "intabs"

	// MaxAbsDiff is the largest absolute channel-to-channel difference
	MaxAbsDiff Type = "maxabsdiff"

	// IntAbsDiff is the integral of the absolute channel-to-channel difference
	IntAbsDiff Type = "intabsdiff"

	// IntSqDiff is the integral of the squared channel-to-channel difference
	IntSqDiff Type = "intsqdiff"
)

// All lists every metric in reporting order
var All = []Type{MaxAbs, IntAbs, MaxAbsDiff, IntAbsDiff, IntSqDiff}

// ParseType validates a metric name
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range All {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownType, s)
}

// Deprecated reports whether the metric is only kept for diagnostics
func (t Type) Deprecated() bool {
	return t == MaxAbs || t == IntAbs
}

// Result is a metric value with its propagated uncertainty. Both are NaN
// when the metric could not be computed.
type Result struct {
	Value float64 `json:"value" msgpack:"value"`
	Error float64 `json:"error" msgpack:"error"`
}

// Unavailable returns the (NaN, NaN) result
func Unavailable() Result {
	return Result{Value: math.NaN(), Error: math.NaN()}
}

// Available reports whether the value could be computed
func (r Result) Available() bool {
	return !math.IsNaN(r.Value)
}

type jsonResult struct {
	Value *float64 `json:"value"`
	Error *float64 `json:"error"`
}

// MarshalJSON writes NaN components as null
func (r Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonResult{Value: finitePtr(r.Value), Error: finitePtr(r.Error)})
}

// UnmarshalJSON reads null components back as NaN
func (r *Result) UnmarshalJSON(b []byte) error {
	var j jsonResult
	if err := json.Unmarshal(b, &j); err != nil {
		return err
	}
	*r = Unavailable()
	if j.Value != nil {
		r.Value = *j.Value
	}
	if j.Error != nil {
		r.Error = *j.Error
	}
	return nil
}

func finitePtr(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// Sample holds one polarization's data with its per-channel sigma and mask
// (true = excluded).
type Sample struct {
	Data  []float64
	Sigma []float64
	Mask  []bool
}

// Calc computes metric t over every polarization sample. smoothBox > 1
// applies a boxcar of that width before the metric. Polarizations are
// combined by summing values and adding errors in quadrature for the
// integral metrics, and by taking the single largest value for the maximum
// metrics. Calc returns Unavailable() when no polarization has a valid
// sample.
func Calc(samples []Sample, t Type, smoothBox int) (Result, error) {
	if _, err := ParseType(string(t)); err != nil {
		return Unavailable(), err
	}

	var (
		sum, sumErr2 float64
		best         = Unavailable()
		found        bool
	)
	for _, s := range samples {
		data, sigma, valid := prepare(s, smoothBox)
		r, ok := perPolarization(data, sigma, valid, t)
		if !ok {
			continue
		}
		found = true
		switch t {
		case MaxAbs, MaxAbsDiff:
			if !best.Available() || r.Value > best.Value {
				best = r
			}
		default:
			sum += r.Value
			sumErr2 += r.Error * r.Error
		}
	}

	if !found {
		return Unavailable(), nil
	}
	if t == MaxAbs || t == MaxAbsDiff {
		return best, nil
	}
	return Result{Value: sum, Error: math.Sqrt(sumErr2)}, nil
}

// prepare smooths the sample and returns data, sigma and the validity mask.
func prepare(s Sample, box int) (data, sigma []float64, valid []bool) {
	n := len(s.Data)
	valid = make([]bool, n)
	for i := range s.Data {
		valid[i] = !(s.Mask != nil && s.Mask[i]) && !math.IsNaN(s.Data[i]) && !math.IsInf(s.Data[i], 0)
	}
	sigma = s.Sigma
	if sigma == nil {
		sigma = make([]float64, n)
	}
	if box <= 1 {
		return s.Data, sigma, valid
	}
	data = Boxcar(s.Data, valid, box)
	scaled := make([]float64, n)
	norm := math.Sqrt(float64(box))
	for i := range sigma {
		scaled[i] = sigma[i] / norm
	}
	return data, scaled, valid
}

func perPolarization(data, sigma []float64, valid []bool, t Type) (Result, bool) {
	switch t {
	case MaxAbs:
		best, at := -1.0, -1
		for i := range data {
			if valid[i] && math.Abs(data[i]) > best {
				best, at = math.Abs(data[i]), i
			}
		}
		if at < 0 {
			return Result{}, false
		}
		return Result{Value: best, Error: sigma[at]}, true

	case IntAbs:
		var v, e2 float64
		n := 0
		for i := range data {
			if valid[i] {
				v += math.Abs(data[i])
				e2 += sigma[i] * sigma[i]
				n++
			}
		}
		if n == 0 {
			return Result{}, false
		}
		return Result{Value: v, Error: math.Sqrt(e2)}, true
	}

	diffs, diffErrs := differences(data, sigma, valid)
	if len(diffs) == 0 {
		return Result{}, false
	}

	switch t {
	case MaxAbsDiff:
		best, at := -1.0, -1
		for i, d := range diffs {
			if math.Abs(d) > best {
				best, at = math.Abs(d), i
			}
		}
		return Result{Value: best, Error: diffErrs[at]}, true
	case IntAbsDiff:
		var v, e2 float64
		for i, d := range diffs {
			v += math.Abs(d)
			e2 += diffErrs[i] * diffErrs[i]
		}
		return Result{Value: v, Error: math.Sqrt(e2)}, true
	default: // IntSqDiff
		var v, e2 float64
		for i, d := range diffs {
			v += d * d
			e := 2 * math.Abs(d) * diffErrs[i]
			e2 += e * e
		}
		return Result{Value: v, Error: math.Sqrt(e2)}, true
	}
}

// differences returns consecutive-channel differences where both channels
// are valid, with their propagated errors.
func differences(data, sigma []float64, valid []bool) ([]float64, []float64) {
	var diffs, errs []float64
	for i := 0; i+1 < len(data); i++ {
		if !valid[i] || !valid[i+1] {
			continue
		}
		diffs = append(diffs, data[i+1]-data[i])
		errs = append(errs, math.Hypot(sigma[i], sigma[i+1]))
	}
	return diffs, errs
}
