package tsyscontam

import (
	"math"

	"github.com/chrissnell/atmcorr/internal/baseline"
	"github.com/chrissnell/atmcorr/internal/intervals"
	"github.com/chrissnell/atmcorr/internal/robust"
	"gonum.org/v1/gonum/optimize"
)

// minimize runs Nelder-Mead from x0 and returns the best point found. The
// evaluation limit is a normal way out, so only a missing result falls
// back to x0.
func minimize(f func([]float64) float64, x0 []float64, maxEval int) []float64 {
	settings := &optimize.Settings{FuncEvaluations: maxEval}
	res, _ := optimize.Minimize(optimize.Problem{Func: f}, x0, settings, &optimize.NelderMead{})
	if res == nil || res.X == nil {
		return x0
	}
	return res.X
}

// detrend fits a straight line to the mean of both spectra and returns
// each spectrum divided by it.
func detrend(bp, src []float64) (bpN, srcN, trend []float64) {
	n := len(bp)
	x := channels(n)
	mean := make([]float64, n)
	for i := range mean {
		mean[i] = 0.5 * (bp[i] + src[i])
	}
	p, err := baseline.PolyFit(x, mean, nil, nil, 1)
	trend = make([]float64, n)
	bpN = make([]float64, n)
	srcN = make([]float64, n)
	for i := range trend {
		trend[i] = math.NaN()
		if err == nil {
			trend[i] = p.Eval(x[i])
		}
		bpN[i] = ratio(bp[i], trend[i])
		srcN[i] = ratio(src[i], trend[i])
	}
	return bpN, srcN, trend
}

func ratio(a, b float64) float64 {
	if !(b > 0) {
		return math.NaN()
	}
	return a / b
}

func channels(n int) []float64 {
	x := make([]float64, n)
	for i := range x {
		x[i] = float64(i)
	}
	return x
}

// unitAxis maps channel indices onto [-1, 1]
func unitAxis(n int) []float64 {
	t := make([]float64, n)
	if n < 2 {
		return t
	}
	for i := range t {
		t[i] = 2*float64(i)/float64(n-1) - 1
	}
	return t
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// simpleModel is t0·(1−atm) + slope·t + base
func simpleModel(p []float64, atm, t float64) float64 {
	return p[0]*(1-atm) + p[1]*t + p[2]
}

// fitSimple fits the simple model to d by minimizing the asymmetric L1
// loss with sigma-clipping passes. Negative residuals are weighted by
// asym. It returns the model and the channels used by the last pass.
func fitSimple(d, atm []float64, opts Options) (model []float64, used []bool) {
	n := len(d)
	t := unitAxis(n)
	used = make([]bool, n)
	for i := range d {
		used[i] = finite(d[i])
	}

	p := []float64{0, 0, robust.Median(d, nil)}
	for pass := 0; ; pass++ {
		sel := used
		p = minimize(func(q []float64) float64 {
			var loss float64
			for i := range d {
				if !sel[i] {
					continue
				}
				r := d[i] - simpleModel(q, atm[i], t[i])
				if r < 0 {
					loss -= opts.AsymFactor * r
				} else {
					loss += r
				}
			}
			return loss
		}, p, opts.MaxEvaluations)

		res := residuals(d, p, atm, t)
		_, sigma := robust.MaskedStats(res, invert(used))
		if pass >= opts.ClipPasses || !(sigma > 0) {
			break
		}
		next := make([]bool, n)
		kept := 0
		for i := range d {
			next[i] = finite(d[i]) && math.Abs(res[i]) <= opts.ClipSigma*sigma
			if next[i] {
				kept++
			}
		}
		if kept < len(p) {
			break
		}
		used = next
	}

	model = make([]float64, n)
	for i := range model {
		model[i] = simpleModel(p, atm[i], t[i])
	}
	return model, used
}

func residuals(d, p, atm, t []float64) []float64 {
	r := make([]float64, len(d))
	for i := range d {
		r[i] = d[i] - simpleModel(p, atm[i], t[i])
	}
	return r
}

// legendre fills out with P0..P(len(out)-1) at t
func legendre(t float64, out []float64) {
	if len(out) == 0 {
		return
	}
	out[0] = 1
	if len(out) == 1 {
		return
	}
	out[1] = t
	for k := 2; k < len(out); k++ {
		kf := float64(k)
		out[k] = ((2*kf-1)*t*out[k-1] - (kf-1)*out[k-2]) / kf
	}
}

// exponent maps an unbounded parameter onto [0.1, 10]
func exponent(q float64) float64 {
	return 0.1 + 9.9/(1+math.Exp(-q))
}

// richModel evaluates the Legendre baseline of the given degree plus, for
// every segment, a_k·(1 − atm^b_k) inside the segment. Parameters are the
// Legendre coefficients followed by (√a_k, logit-scaled b_k) pairs.
type richModel struct {
	degree   int
	segments intervals.Set
	atm      []float64
	basis    [][]float64
}

func newRichModel(n, degree int, segments intervals.Set, atm []float64) *richModel {
	t := unitAxis(n)
	basis := make([][]float64, n)
	for i := range basis {
		basis[i] = make([]float64, degree+1)
		legendre(t[i], basis[i])
	}
	return &richModel{degree: degree, segments: segments, atm: atm, basis: basis}
}

func (m *richModel) nparams() int {
	return m.degree + 1 + 2*len(m.segments)
}

func (m *richModel) eval(p []float64, i int) float64 {
	var y float64
	for k := 0; k <= m.degree; k++ {
		y += p[k] * m.basis[i][k]
	}
	x := float64(i)
	for k, seg := range m.segments {
		if !seg.Contains(x) {
			continue
		}
		a := p[m.degree+1+2*k]
		b := exponent(p[m.degree+2+2*k])
		y += a * a * (1 - math.Pow(m.atm[i], b))
	}
	return y
}

// fitRich fits the rich model by least squares over the used channels
func fitRich(d []float64, used []bool, m *richModel, maxEval int) []float64 {
	p0 := make([]float64, m.nparams())
	p0[0] = robust.Median(d, invert(used))
	for k := range m.segments {
		p0[m.degree+1+2*k] = 0.1
	}
	p := minimize(func(q []float64) float64 {
		var ss float64
		for i := range d {
			if !used[i] {
				continue
			}
			r := d[i] - m.eval(q, i)
			ss += r * r
		}
		return ss
	}, p0, maxEval)

	model := make([]float64, len(d))
	for i := range model {
		model[i] = m.eval(p, i)
	}
	return model
}

// gaussianFit is amp·exp(−(x−center)²/(2·width²)) + c0 + c1·(x−center)
type gaussianFit struct {
	Amp, Center, Width float64
}

// fitGaussian fits a Gaussian plus linear baseline to y over x
func fitGaussian(x, y []float64, maxEval int) gaussianFit {
	if len(x) < 5 {
		return gaussianFit{}
	}
	peak := 0
	for i := range y {
		if math.Abs(y[i]) > math.Abs(y[peak]) {
			peak = i
		}
	}
	w0 := math.Max((x[len(x)-1]-x[0])/6, 1)
	p0 := []float64{y[peak], x[peak], math.Log(w0), 0, 0}
	p := minimize(func(q []float64) float64 {
		w := math.Exp(q[2])
		var ss float64
		for i := range x {
			dx := x[i] - q[1]
			r := y[i] - (q[0]*math.Exp(-dx*dx/(2*w*w)) + q[3] + q[4]*dx)
			ss += r * r
		}
		return ss
	}, p0, maxEval)
	return gaussianFit{Amp: p[0], Center: p[1], Width: math.Exp(p[2])}
}

func invert(m []bool) []bool {
	out := make([]bool, len(m))
	for i, v := range m {
		out[i] = !v
	}
	return out
}
