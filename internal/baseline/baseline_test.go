package baseline

import (
	"math"
	"testing"
	"time"
)

func channels(n int) []float64 {
	x := make([]float64, n)
	for i := range x {
		x[i] = float64(i)
	}
	return x
}

func gentleBaseline(x []float64) []float64 {
	y := make([]float64, len(x))
	for i, v := range x {
		y[i] = 2 + 0.003*v + 1e-6*v*v
	}
	return y
}

func constErr(n int, e float64) []float64 {
	errs := make([]float64, n)
	for i := range errs {
		errs[i] = e
	}
	return errs
}

func TestPolyFitRecoversQuadratic(t *testing.T) {
	x := []float64{230.0, 230.1, 230.2, 230.3, 230.4, 230.5}
	y := make([]float64, len(x))
	for i, v := range x {
		y[i] = 1.5 - 2*(v-230.2) + 4*(v-230.2)*(v-230.2)
	}

	p, err := PolyFit(x, y, nil, nil, 2)
	if err != nil {
		t.Fatalf("PolyFit() error: %v", err)
	}
	for i, v := range x {
		if math.Abs(p.Eval(v)-y[i]) > 1e-9 {
			t.Errorf("Eval(%v) = %v, expected %v", v, p.Eval(v), y[i])
		}
	}
}

func TestPolyFitNoData(t *testing.T) {
	x := []float64{0, 1}
	y := []float64{math.NaN(), math.NaN()}
	if _, err := PolyFit(x, y, nil, nil, 1); err != ErrNoData {
		t.Errorf("PolyFit() error = %v, expected ErrNoData", err)
	}
}

func TestSigmaClipFitRejectsSpike(t *testing.T) {
	x := channels(100)
	y := make([]float64, 100)
	for i := range y {
		// deterministic small ripple so the residual sigma is non-zero
		y[i] = 0.05 + 0.001*math.Sin(float64(i)*1.7)
	}
	for i := 48; i <= 52; i++ {
		y[i] += 0.3
	}

	res, err := SigmaClipFit(x, y, nil, ClipOptions{Degree: 2, NClip: 5, LowSigma: 3, HighSigma: 3})
	if err != nil {
		t.Fatalf("SigmaClipFit() error: %v", err)
	}
	if res.Selection[50] {
		t.Error("spike channel should have been clipped")
	}
	if math.Abs(res.Model[10]-0.05) > 0.005 {
		t.Errorf("baseline at channel 10 = %v, expected ~0.05", res.Model[10])
	}
}

func TestSigmaClipFitBorderProtected(t *testing.T) {
	x := channels(50)
	y := make([]float64, 50)
	for i := range y {
		y[i] = 0.001 * math.Cos(float64(i))
	}
	y[0] = 10

	res, err := SigmaClipFit(x, y, nil, ClipOptions{Degree: 1, NClip: 3, LowSigma: 3, HighSigma: 3, BorderFraction: 0.1})
	if err != nil {
		t.Fatalf("SigmaClipFit() error: %v", err)
	}
	if !res.BorderMask[0] || !res.Selection[0] {
		t.Error("border channel 0 must be protected from clipping")
	}
}

func TestNewSplineSmallKnotCounts(t *testing.T) {
	s, err := NewSpline([]float64{2, 0}, []float64{4, 0})
	if err != nil {
		t.Fatalf("NewSpline() error: %v", err)
	}
	if got := s.Eval(1); math.Abs(got-2) > 1e-12 {
		t.Errorf("linear spline Eval(1) = %v, expected 2", got)
	}

	if _, err := NewSpline([]float64{1, 1}, []float64{0, 1}); err == nil {
		t.Error("expected duplicate knot error")
	}
}

func TestNewSplineCubicLinearExtension(t *testing.T) {
	xs := []float64{0, 1, 2, 3, 4}
	ys := []float64{1, 3, 5, 7, 9}
	s, err := NewSpline(xs, ys)
	if err != nil {
		t.Fatalf("NewSpline() error: %v", err)
	}
	for _, x := range []float64{-2, 0.5, 3.3, 6} {
		if got, want := s.Eval(x), 1+2*x; math.Abs(got-want) > 1e-9 {
			t.Errorf("Eval(%v) = %v, expected %v", x, got, want)
		}
	}
}

func TestFitBaselineSmooth(t *testing.T) {
	const n = 256
	x := channels(n)
	y := gentleBaseline(x)

	res, err := FitBaseline(x, y, constErr(n, 0.01), nil, DefaultOptions())
	if err != nil {
		t.Fatalf("FitBaseline() error: %v", err)
	}
	if res.Spline == nil {
		t.Fatal("expected a spline")
	}
	if res.Steps > n {
		t.Errorf("Steps = %d, expected <= %d", res.Steps, n)
	}
	for i, r := range res.Residual {
		if math.Abs(r) > 1e-3 {
			t.Fatalf("residual[%d] = %v, expected ~0", i, r)
		}
	}
}

func TestFitBaselineRemovesNarrowFeature(t *testing.T) {
	const n = 256
	x := channels(n)
	y := gentleBaseline(x)
	y[100] += 5

	res, err := FitBaseline(x, y, constErr(n, 0.01), nil, DefaultOptions())
	if err != nil {
		t.Fatalf("FitBaseline() error: %v", err)
	}
	if res.Spline == nil {
		t.Fatal("expected a spline")
	}
	if !res.Excluded[100] {
		t.Error("bin holding the spike should have been removed")
	}
	if !res.Outliers[100] {
		t.Error("spike channel should be an outlier")
	}
	if res.Steps == 0 || res.Steps > n {
		t.Errorf("Steps = %d, expected in (0, %d]", res.Steps, n)
	}
	if math.Abs(res.Residual[30]) > 1e-3 {
		t.Errorf("residual[30] = %v, expected ~0", res.Residual[30])
	}
}

func TestFitBaselineAllFlaggedTerminates(t *testing.T) {
	const n = 64
	x := channels(n)
	y := gentleBaseline(x)
	mask := make([]bool, n)
	for i := range mask {
		mask[i] = true
	}

	done := make(chan *SplineResult, 1)
	go func() {
		res, err := FitBaseline(x, y, nil, mask, DefaultOptions())
		if err != nil {
			t.Errorf("FitBaseline() error: %v", err)
		}
		done <- res
	}()

	select {
	case res := <-done:
		if res == nil {
			return
		}
		if res.Spline != nil {
			t.Error("expected degraded result with nil spline")
		}
		if !math.IsNaN(res.Residual[0]) {
			t.Errorf("residual = %v, expected NaN (data minus NaN median)", res.Residual[0])
		}
	case <-time.After(5 * time.Second):
		t.Fatal("FitBaseline did not terminate")
	}
}

func TestFitBaselineClampsInitialBins(t *testing.T) {
	const n = 128
	x := channels(n)
	y := gentleBaseline(x)

	opts := DefaultOptions()
	opts.InitialBins = 1
	res, err := FitBaseline(x, y, constErr(n, 0.01), nil, opts)
	if err != nil {
		t.Fatalf("FitBaseline() error: %v", err)
	}
	if len(res.Partition) < 2 {
		t.Errorf("partition has %d bins, expected at least 2", len(res.Partition))
	}
}

func TestFitBaselineNoisyTerminatesBounded(t *testing.T) {
	const n = 512
	x := channels(n)
	y := gentleBaseline(x)
	// deterministic pseudo-noise
	seed := uint32(12345)
	for i := range y {
		seed = seed*1664525 + 1013904223
		y[i] += 0.01 * (float64(seed>>8)/float64(1<<24) - 0.5) * 3.46
	}

	done := make(chan int, 1)
	go func() {
		res, err := FitBaseline(x, y, constErr(n, 0.01), nil, DefaultOptions())
		if err != nil || res == nil {
			done <- -1
			return
		}
		done <- res.Steps
	}()

	select {
	case steps := <-done:
		if steps < 0 || steps > 2*n {
			t.Errorf("steps = %d, expected within [0, %d]", steps, 2*n)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("FitBaseline did not terminate")
	}
}

func TestDetectOutliersProximityWeight(t *testing.T) {
	const n = 101
	residual := make([]float64, n)
	residual[5] = 10
	residual[50] = 10
	errs := constErr(n, 1)

	opts := DefaultOptions()
	plain := detectOutliers(residual, errs, nil, opts)
	if !plain[5] || !plain[50] {
		t.Errorf("unweighted: outliers at 5=%v 50=%v, expected both", plain[5], plain[50])
	}

	opts.OutlierCenter, opts.OutlierWidth = 0.5, 0.1
	weighted := detectOutliers(residual, errs, nil, opts)
	if weighted[5] {
		t.Error("weighted: edge spike should be down-weighted below the threshold")
	}
	if !weighted[50] {
		t.Error("weighted: central spike should still be an outlier")
	}
}

func TestFitBaselineOutlierWeighting(t *testing.T) {
	const n = 256
	x := channels(n)
	y := make([]float64, n)
	for i := range y {
		y[i] = 2
	}
	y[20] += 5
	y[128] += 5

	opts := DefaultOptions()
	res, err := FitBaseline(x, y, constErr(n, 0.01), nil, opts)
	if err != nil {
		t.Fatalf("FitBaseline() error: %v", err)
	}
	if !res.Outliers[20] || !res.Outliers[128] {
		t.Errorf("unweighted: outliers at 20=%v 128=%v, expected both", res.Outliers[20], res.Outliers[128])
	}

	opts.OutlierCenter, opts.OutlierWidth = 0.5, 0.1
	res, err = FitBaseline(x, y, constErr(n, 0.01), nil, opts)
	if err != nil {
		t.Fatalf("FitBaseline() error: %v", err)
	}
	if res.Outliers[20] {
		t.Error("off-center spike flagged despite proximity weighting")
	}
	if !res.Outliers[128] {
		t.Error("central spike not flagged")
	}
}
