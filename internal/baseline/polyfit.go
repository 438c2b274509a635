// Package baseline fits robust baselines to masked spectra: sigma-clipped
// polynomials and adaptively binned cubic splines.
package baseline

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ErrNoData is returned when no unmasked, finite sample is available.
var ErrNoData = errors.New("no valid data to fit")

// Poly is a polynomial in the normalized abscissa (x - Center) / Scale.
// Coefficients are ordered c0, c1, c2, ...
type Poly struct {
	Coeffs []float64
	Center float64
	Scale  float64
}

// Eval evaluates the polynomial at x
func (p Poly) Eval(x float64) float64 {
	if len(p.Coeffs) == 0 {
		return math.NaN()
	}
	t := p.normalize(x)
	// Horner
	y := p.Coeffs[len(p.Coeffs)-1]
	for i := len(p.Coeffs) - 2; i >= 0; i-- {
		y = y*t + p.Coeffs[i]
	}
	return y
}

// EvalAll evaluates the polynomial at every x
func (p Poly) EvalAll(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = p.Eval(v)
	}
	return out
}

func (p Poly) normalize(x float64) float64 {
	if p.Scale == 0 {
		return 0
	}
	return (x - p.Center) / p.Scale
}

// PolyFit fits a polynomial of the given degree to the points where mask is
// false (nil mask selects all) and y is finite. w holds optional per-point
// weights (nil for uniform). The degree is lowered when fewer than degree+1
// points are available.
func PolyFit(x, y, w []float64, mask []bool, degree int) (Poly, error) {
	if len(x) != len(y) {
		return Poly{}, fmt.Errorf("polyfit: x and y lengths differ (%d != %d)", len(x), len(y))
	}
	if degree < 0 {
		degree = 0
	}

	var idx []int
	for i := range y {
		if mask != nil && mask[i] {
			continue
		}
		if math.IsNaN(y[i]) || math.IsInf(y[i], 0) || math.IsNaN(x[i]) {
			continue
		}
		if w != nil && (w[i] <= 0 || math.IsNaN(w[i])) {
			continue
		}
		idx = append(idx, i)
	}
	n := len(idx)
	if n == 0 {
		return Poly{}, ErrNoData
	}
	if degree > n-1 {
		degree = n - 1
	}

	xs := make([]float64, n)
	for k, i := range idx {
		xs[k] = x[i]
	}
	lo, hi := floats.Min(xs), floats.Max(xs)
	p := Poly{Center: (lo + hi) / 2, Scale: (hi - lo) / 2}
	if p.Scale == 0 {
		// a single abscissa only supports a constant
		p.Scale = 1
		degree = 0
	}

	// Vandermonde matrix on the normalized abscissa
	X := mat.NewDense(n, degree+1, nil)
	yv := mat.NewVecDense(n, nil)
	for k, i := range idx {
		t := p.normalize(x[i])
		wt := 1.0
		if w != nil {
			wt = w[i]
		}
		pow := 1.0
		for j := 0; j <= degree; j++ {
			X.Set(k, j, wt*pow)
			pow *= t
		}
		yv.SetVec(k, wt*y[i])
	}

	var qr mat.QR
	qr.Factorize(X)

	coeffs := mat.NewVecDense(degree+1, nil)
	if err := qr.SolveVecTo(coeffs, false, yv); err != nil {
		return Poly{}, fmt.Errorf("polyfit: solving least squares: %w", err)
	}

	p.Coeffs = make([]float64, degree+1)
	for j := 0; j <= degree; j++ {
		p.Coeffs[j] = coeffs.AtVec(j)
	}
	return p, nil
}
