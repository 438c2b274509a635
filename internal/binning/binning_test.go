package binning

import (
	"errors"
	"math"
	"testing"
)

func TestUniform(t *testing.T) {
	p := Uniform(10, 3)
	expected := Partition{{0, 4}, {4, 7}, {7, 10}}
	if len(p) != len(expected) {
		t.Fatalf("len = %d, expected %d", len(p), len(expected))
	}
	for i := range p {
		if p[i] != expected[i] {
			t.Errorf("bin %d = %v, expected %v", i, p[i], expected[i])
		}
	}
}

func TestBinSpecResolve(t *testing.T) {
	tests := []struct {
		name    string
		spec    BinSpec
		wantErr bool
	}{
		{name: "count only", spec: BinSpec{Count: 4}},
		{name: "partition only", spec: BinSpec{Partition: Partition{{0, 5}, {5, 10}}}},
		{name: "both given", spec: BinSpec{Count: 2, Partition: Partition{{0, 10}}}, wantErr: true},
		{name: "neither given", spec: BinSpec{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.spec.Resolve(10)
			if tt.wantErr && !errors.Is(err, ErrInvalidBinSpec) {
				t.Errorf("Resolve() error = %v, expected ErrInvalidBinSpec", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Resolve() unexpected error: %v", err)
			}
		})
	}
}

func TestStatsChi2AndMasking(t *testing.T) {
	x := []float64{0, 1, 2, 3, 4, 5, 6, 7}
	data := []float64{1, 3, 1, 3, 5, 5, 5, 5}
	errs := []float64{1, 1, 1, 1, 1, 1, 1, 1}
	mask := []bool{false, false, false, false, true, true, true, false}

	bins, err := Stats(x, data, errs, mask, BinSpec{Count: 2})
	if err != nil {
		t.Fatalf("Stats() error: %v", err)
	}

	// first bin: median 2, residuals +-1, chi2 = 4/3
	if got := bins[0].Chi2; math.Abs(got-4.0/3.0) > 1e-12 {
		t.Errorf("bin 0 chi2 = %v, expected 4/3", got)
	}
	if !bins[0].Chi2Valid {
		t.Error("bin 0 chi2 should be valid")
	}
	if bins[0].XMean != 1.5 {
		t.Errorf("bin 0 xmean = %v, expected 1.5", bins[0].XMean)
	}

	// second bin: only one valid entry, chi2 undefined
	if bins[1].Chi2Valid || !math.IsNaN(bins[1].Chi2) {
		t.Errorf("bin 1 chi2 = %v (valid=%v), expected NaN/invalid", bins[1].Chi2, bins[1].Chi2Valid)
	}
	if bins[1].MaskedFraction != 0.75 {
		t.Errorf("bin 1 masked fraction = %v, expected 0.75", bins[1].MaskedFraction)
	}
	if bins[1].NValid != 1 {
		t.Errorf("bin 1 nvalid = %d, expected 1", bins[1].NValid)
	}
}

func TestStatsFullyMaskedBin(t *testing.T) {
	data := []float64{math.NaN(), math.NaN(), 1, 2}
	x := []float64{0, 1, 2, 3}
	bins, err := Stats(x, data, nil, nil, BinSpec{Partition: Partition{{0, 2}, {2, 4}}})
	if err != nil {
		t.Fatalf("Stats() error: %v", err)
	}
	if bins[0].NValid != 0 || bins[0].MaskedFraction != 1 || !math.IsNaN(bins[0].Median) {
		t.Errorf("fully masked bin = %+v", bins[0])
	}
}

func TestSplitRemove(t *testing.T) {
	p := Partition{{0, 10}, {10, 20}}
	p = p.Split(1)
	if len(p) != 3 || p[1] != (Range{10, 15}) || p[2] != (Range{15, 20}) {
		t.Errorf("Split() = %v", p)
	}
	p = p.Remove(0)
	if len(p) != 2 || p[0] != (Range{10, 15}) {
		t.Errorf("Remove() = %v", p)
	}
	covered := p.Covered(20)
	if covered[5] || !covered[12] {
		t.Errorf("Covered() = %v", covered)
	}
}
