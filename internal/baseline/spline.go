package baseline

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/interp"
)

// Spline is a cubic not-a-knot spline through a set of knots. With fewer
// than four knots it degrades to the interpolating polynomial (linear for
// two knots, quadratic for three). Outside the knot range it continues
// linearly with the end slope.
type Spline struct {
	xs, ys []float64
	cubic  *interp.NotAKnotCubic
	poly   *Poly

	slopeLo, slopeHi float64
}

// NewSpline fits a spline through (xs, ys). The knots need not be sorted but
// must have distinct abscissae.
func NewSpline(xs, ys []float64) (*Spline, error) {
	if len(xs) != len(ys) {
		return nil, fmt.Errorf("spline: knot lengths differ (%d != %d)", len(xs), len(ys))
	}
	if len(xs) == 0 {
		return nil, ErrNoData
	}

	order := make([]int, len(xs))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return xs[order[a]] < xs[order[b]] })

	s := &Spline{xs: make([]float64, len(xs)), ys: make([]float64, len(ys))}
	for k, i := range order {
		s.xs[k] = xs[i]
		s.ys[k] = ys[i]
	}
	for k := 1; k < len(s.xs); k++ {
		if s.xs[k] == s.xs[k-1] {
			return nil, fmt.Errorf("spline: duplicate knot at x=%g", s.xs[k])
		}
	}

	if len(s.xs) < 4 {
		p, err := PolyFit(s.xs, s.ys, nil, nil, len(s.xs)-1)
		if err != nil {
			return nil, err
		}
		s.poly = &p
		return s, nil
	}

	s.cubic = &interp.NotAKnotCubic{}
	if err := s.cubic.Fit(s.xs, s.ys); err != nil {
		return nil, fmt.Errorf("spline: fitting not-a-knot cubic: %w", err)
	}
	s.slopeLo = s.cubic.PredictDerivative(s.xs[0])
	s.slopeHi = s.cubic.PredictDerivative(s.xs[len(s.xs)-1])
	return s, nil
}

// Eval evaluates the spline at x
func (s *Spline) Eval(x float64) float64 {
	if s.poly != nil {
		return s.poly.Eval(x)
	}
	lo, hi := s.xs[0], s.xs[len(s.xs)-1]
	switch {
	case x < lo:
		return s.ys[0] + s.slopeLo*(x-lo)
	case x > hi:
		return s.ys[len(s.ys)-1] + s.slopeHi*(x-hi)
	}
	return s.cubic.Predict(x)
}

// EvalAll evaluates the spline at every x
func (s *Spline) EvalAll(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = s.Eval(v)
	}
	return out
}
