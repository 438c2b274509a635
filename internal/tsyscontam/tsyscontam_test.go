package tsyscontam

import (
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/chrissnell/atmcorr/internal/intervals"
	"github.com/chrissnell/atmcorr/internal/log"
)

func gauss(i int, center, sigma float64) float64 {
	d := float64(i) - center
	return math.Exp(-d * d / (2 * sigma * sigma))
}

func TestIdenticalSpectraYieldNoContamination(t *testing.T) {
	n := 256
	spec := make([]float64, n)
	for i := range spec {
		spec[i] = 80 + 0.02*float64(i) + 3*gauss(i, 120, 4)
	}
	in := Input{SPW: 17, Field: 2, Bandpass: spec, Source: append([]float64(nil), spec...)}

	r, err := NewClassifier(DefaultOptions(), log.Nop()).Detect(in)
	if err != nil {
		t.Fatalf("Detect() error: %v", err)
	}
	if c := r.Contamination(); !c.Empty() {
		t.Errorf("contamination = %v, expected empty", c)
	}
	for l, s := range r.Intervals {
		if !s.Empty() {
			t.Errorf("label %s has intervals %v", l, s)
		}
	}
	if _, ok := FlagCommand(r); ok {
		t.Error("no flag command expected for identical spectra")
	}
}

func TestDetectionLimit(t *testing.T) {
	tests := []struct {
		nchan int
		want  float64
	}{
		{128, 5},
		{4096, 6},
		{2112, 5.5},
	}
	for _, tt := range tests {
		if got := DetectionLimit(tt.nchan); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("DetectionLimit(%d) = %v, expected %v", tt.nchan, got, tt.want)
		}
	}
}

func TestDetectSourceLine(t *testing.T) {
	n := 256
	r := rand.New(rand.NewSource(11))
	bp := make([]float64, n)
	src := make([]float64, n)
	freq := make([]float64, n)
	for i := 0; i < n; i++ {
		bp[i] = 100 + 0.01*float64(i) + 0.2*(2*r.Float64()-1)
		src[i] = 120 + 0.012*float64(i) + 5*gauss(i, 100, 3) + 0.2*(2*r.Float64()-1)
		freq[i] = 220.0 + 0.0005*float64(i)
	}

	report, err := NewClassifier(DefaultOptions(), log.Nop()).Detect(Input{
		SPW: 19, Field: 1, Scans: []int{4, 7}, Freq: freq, Bandpass: bp, Source: src,
	})
	if err != nil {
		t.Fatalf("Detect() error: %v", err)
	}

	lines := report.Intervals[LabelLine]
	if len(lines) != 1 || !lines[0].Contains(100) {
		t.Fatalf("line intervals = %v, expected one interval around channel 100 (all: %v)", lines, report.Intervals)
	}
	if w := lines[0].Width(); w < 5 || w > 40 {
		t.Errorf("line width = %v channels", w)
	}
	if report.Model != "simple" {
		t.Errorf("model = %s, expected the simple model to suffice", report.Model)
	}
	if !report.Contamination().Equal(lines) {
		t.Errorf("contamination %v differs from line intervals %v", report.Contamination(), lines)
	}

	cmd, ok := FlagCommand(report)
	if !ok || !strings.HasPrefix(cmd, "mode='manual' scan='4,7' spw='19:") {
		t.Errorf("flag command = %q", cmd)
	}
}

func TestDetectLengthMismatch(t *testing.T) {
	c := NewClassifier(DefaultOptions(), log.Nop())
	if _, err := c.Detect(Input{Bandpass: make([]float64, 10), Source: make([]float64, 11)}); err == nil {
		t.Error("expected an error for mismatched spectra")
	}
}

func TestClassifyDecisionTree(t *testing.T) {
	n := 256
	opts := DefaultOptions()
	freq := make([]float64, n)
	for i := range freq {
		// channel 100 sits on CO(2-1); channels 145-155 are 90-110 MHz away
		freq[i] = 230.538 + 0.002*float64(i-100)
	}

	flat := make([]float64, n)
	bump := func(amp float64) []float64 {
		r := make([]float64, n)
		for i := range r {
			r[i] = amp * gauss(i, 150, 3)
		}
		return r
	}

	co := intervals.Interval{Start: 96, End: 104}
	away := intervals.Interval{Start: 145, End: 155}
	rep := func(iv intervals.Interval, mismatch float64) []repeatedPeak {
		return []repeatedPeak{{Range: iv, Mismatch: mismatch}}
	}

	tests := []struct {
		name     string
		iv       intervals.Interval
		ev       evidence
		want     Label
		wantWarn bool
	}{
		{
			name: "outside science window",
			iv:   away,
			ev:   evidence{science: intervals.Set{{Start: 0, End: 50}}, residual: bump(10), sigma: 1},
			want: LabelOffScience,
		},
		{
			name: "repeated at CO",
			iv:   co,
			ev:   evidence{freq: freq, repeated: rep(co, 0.1), residual: flat, sigma: 1},
			want: LabelTelluric,
		},
		{
			name:     "repeated at CO with prominence mismatch",
			iv:       co,
			ev:       evidence{freq: freq, repeated: rep(co, 0.5), residual: flat, sigma: 1},
			want:     LabelTelluric,
			wantWarn: true,
		},
		{
			name: "repeated on ATM line",
			iv:   away,
			ev:   evidence{freq: freq, repeated: rep(away, 0), atm: intervals.Set{away}, residual: flat, sigma: 1},
			want: LabelAtmResidual,
		},
		{
			name: "repeated elsewhere",
			iv:   away,
			ev:   evidence{freq: freq, repeated: rep(away, 0), residual: flat, sigma: 1},
			want: LabelCommonFeature,
		},
		{
			name: "ATM line only",
			iv:   away,
			ev:   evidence{freq: freq, atm: intervals.Set{{Start: 150, End: 160}}, residual: flat, sigma: 1},
			want: LabelAtmResidual,
		},
		{
			name: "weak amplitude difference",
			iv:   away,
			ev:   evidence{freq: freq, residual: bump(0.001), sigma: 0.0001, minLevel: 0.01},
			want: LabelLowContamination,
		},
		{
			name: "independent source peak",
			iv:   away,
			ev:   evidence{freq: freq, residual: bump(10), sigma: 1, sourcePeaks: intervals.Set{{Start: 148, End: 152}}},
			want: LabelLine,
		},
		{
			name: "gaussian recovered without source peak",
			iv:   away,
			ev:   evidence{freq: freq, residual: bump(10), sigma: 1},
			want: LabelLine,
		},
		{
			name: "gaussian too weak without source peak",
			iv:   away,
			ev:   evidence{freq: freq, residual: bump(0.5), sigma: 1, minLevel: 0.1},
			want: LabelPossibleLine,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, warn := classify(tt.iv, tt.ev, opts)
			if got != tt.want {
				t.Errorf("classify() = %s, expected %s", got, tt.want)
			}
			if (warn != "") != tt.wantWarn {
				t.Errorf("warning = %q, expected warning: %v", warn, tt.wantWarn)
			}
		})
	}
}

func TestDemote(t *testing.T) {
	opts := DefaultOptions()

	t.Run("wide interval", func(t *testing.T) {
		r := newReport(Input{SPW: 5})
		r.add(LabelLine, intervals.Interval{Start: 10, End: 109})
		r.add(LabelLine, intervals.Interval{Start: 200, End: 205})
		demote(r, 256, nil, opts)

		if got := r.Intervals[LabelLine]; !got.Equal(intervals.Set{{Start: 200, End: 205}}) {
			t.Errorf("lines = %v", got)
		}
		if got := r.Intervals[LabelPossibleLine]; !got.Equal(intervals.Set{{Start: 10, End: 109}}) {
			t.Errorf("possible lines = %v", got)
		}
		if len(r.Warnings) != 1 {
			t.Errorf("warnings = %v, expected one", r.Warnings)
		}
	})

	t.Run("velocity width", func(t *testing.T) {
		freq := make([]float64, 256)
		for i := range freq {
			freq[i] = 100 + 0.01*float64(i)
		}
		r := newReport(Input{})
		// 20 channels of 10 MHz at 100 GHz is 600 km/s
		r.add(LabelLine, intervals.Interval{Start: 0, End: 19})
		demote(r, 256, freq, opts)
		if !r.Intervals[LabelLine].Empty() || r.Intervals[LabelPossibleLine].Empty() {
			t.Errorf("expected demotion, got %v", r.Intervals)
		}
	})
}

func TestFlagCommands(t *testing.T) {
	r := newReport(Input{SPW: 17, Scans: []int{3, 5}})
	r.add(LabelLine, intervals.Interval{Start: 100, End: 110})
	r.add(LabelPossibleLine, intervals.Interval{Start: 200, End: 205})
	r.add(LabelTelluric, intervals.Interval{Start: 50, End: 55})

	empty := newReport(Input{SPW: 19})

	got := FlagCommands([]*Report{r, empty})
	want := "mode='manual' scan='3,5' spw='17:100~110;200~205' reason='Tsys:tsysflag_tsys_channel'"
	if len(got) != 1 || got[0] != want {
		t.Errorf("FlagCommands() = %q, expected [%q]", got, want)
	}

	var sb strings.Builder
	if err := WriteFlagTemplate(&sb, []*Report{r, empty}); err != nil {
		t.Fatalf("WriteFlagTemplate() error: %v", err)
	}
	if !strings.Contains(sb.String(), want+"\n") || !strings.HasPrefix(sb.String(), "# field 0 spw 17\n") {
		t.Errorf("template = %q", sb.String())
	}
}

func TestLegendre(t *testing.T) {
	p := make([]float64, 4)
	legendre(0.5, p)
	want := []float64{1, 0.5, -0.125, -0.4375}
	for k := range want {
		if math.Abs(p[k]-want[k]) > 1e-12 {
			t.Errorf("P%d(0.5) = %v, expected %v", k, p[k], want[k])
		}
	}
}

func TestFitGaussian(t *testing.T) {
	var x, y []float64
	for i := 0; i < 60; i++ {
		x = append(x, float64(i))
		y = append(y, 0.2+4*gauss(i, 31.5, 2.5))
	}
	g := fitGaussian(x, y, 20000)
	if math.Abs(g.Center-31.5) > 0.2 {
		t.Errorf("center = %v, expected 31.5", g.Center)
	}
	if math.Abs(g.Amp-4) > 0.2 {
		t.Errorf("amplitude = %v, expected 4", g.Amp)
	}
}

func TestRichModelBounds(t *testing.T) {
	for _, q := range []float64{-1e3, -1, 0, 1, 1e3} {
		if b := exponent(q); b < 0.1 || b > 10 {
			t.Errorf("exponent(%v) = %v outside [0.1, 10]", q, b)
		}
	}
	atm := make([]float64, 20)
	for i := range atm {
		atm[i] = 0.5
	}
	m := newRichModel(20, 1, intervals.Set{{Start: 5, End: 9}}, atm)
	if m.nparams() != 4 {
		t.Fatalf("nparams = %d, expected 4", m.nparams())
	}
	// a = -2 still contributes a non-negative 4·(1 − 0.5^b)
	p := []float64{0, 0, -2, 0}
	if v := m.eval(p, 7); v <= 0 {
		t.Errorf("segment term = %v, expected positive", v)
	}
	if v := m.eval(p, 12); v != 0 {
		t.Errorf("outside segment = %v, expected 0", v)
	}
}

func TestDetectEscalatesOnNonCOAtmLine(t *testing.T) {
	n := 256
	r := rand.New(rand.NewSource(5))
	freq := make([]float64, n)
	atm := make([]float64, n)
	bp := make([]float64, n)
	src := make([]float64, n)
	for i := 0; i < n; i++ {
		// 183 GHz water line, far from any CO transition
		freq[i] = 183.0 + 0.001*float64(i-128)
		atm[i] = math.Exp(-(0.05 + 0.55*gauss(i, 128, 4)))
		bp[i] = 80 + 20*(1-atm[i]) + 0.2*(2*r.Float64()-1)
		src[i] = 120 + 35*(1-atm[i]) + 0.2*(2*r.Float64()-1)
	}

	opts := DefaultOptions()
	report, err := NewClassifier(opts, log.Nop()).Detect(Input{
		SPW: 21, Field: 1, Freq: freq, Atm: atm, Bandpass: bp, Source: src,
	})
	if err != nil {
		t.Fatalf("Detect() error: %v", err)
	}
	if len(report.AtmPeaks) == 0 {
		t.Fatal("expected the atmospheric line to be detected")
	}
	if report.Model != "legendre" {
		t.Errorf("model = %s, expected legendre", report.Model)
	}
	if report.Escalations > opts.MaxEscalations {
		t.Errorf("escalations = %d, expected at most %d", report.Escalations, opts.MaxEscalations)
	}
	if report.Degree != opts.LegendreDegree+report.Escalations {
		t.Errorf("degree = %d after %d escalations", report.Degree, report.Escalations)
	}
}

func TestDetectEscalatesOnOutlierFraction(t *testing.T) {
	n := 256
	r := rand.New(rand.NewSource(6))
	bp := make([]float64, n)
	src := make([]float64, n)
	for i := 0; i < n; i++ {
		bp[i] = 100 + 0.2*(2*r.Float64()-1)
		src[i] = 100 + 0.2*(2*r.Float64()-1)
		// a third of the channels sit far below the rest
		if i%3 == 0 {
			src[i] -= 30
		}
	}

	opts := DefaultOptions()
	report, err := NewClassifier(opts, log.Nop()).Detect(Input{SPW: 23, Bandpass: bp, Source: src})
	if err != nil {
		t.Fatalf("Detect() error: %v", err)
	}
	if report.Model != "legendre" {
		t.Errorf("model = %s, expected legendre", report.Model)
	}
	if report.Escalations > opts.MaxEscalations {
		t.Errorf("escalations = %d, expected at most %d", report.Escalations, opts.MaxEscalations)
	}
}

func TestNeedsEscalation(t *testing.T) {
	c := NewClassifier(DefaultOptions(), log.Nop())
	quiet := make([]float64, 100)
	for i := range quiet {
		quiet[i] = 0.1 * float64(i%3-1)
	}

	if c.needsEscalation(quiet, 1, intervals.Set{}) {
		t.Error("quiet residual without atmospheric lines should not escalate")
	}
	if !c.needsEscalation(quiet, 1, intervals.Set{{Start: 40, End: 50}}) {
		t.Error("a non-CO atmospheric line should escalate on its own")
	}

	noisy := append([]float64(nil), quiet...)
	for i := 0; i < 30; i++ {
		noisy[i] = 10
	}
	if !c.needsEscalation(noisy, 1, intervals.Set{}) {
		t.Error("30% of channels beyond 5 sigma should escalate")
	}
}
