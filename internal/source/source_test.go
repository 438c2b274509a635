package source

import (
	"math"
	"math/rand"
	"testing"

	"github.com/chrissnell/atmcorr/internal/log"
)

const nchan = 128

func syntheticRow(r *rand.Rand, scale float64, line, sky [2]int) Integration {
	data := make([]float64, nchan)
	for i := range data {
		v := 1 + 0.01*(2*r.Float64()-1)
		if i >= line[0] && i <= line[1] {
			v += 0.2
		}
		if i >= sky[0] && i <= sky[1] {
			v -= 0.3
		}
		data[i] = scale * v
	}
	return Integration{Antenna: 0, Pol: 0, Time: 10, Data: data}
}

func flatSegment(tsys, trec float64, start float64) TsysSegment {
	s := TsysSegment{Start: start, Tsys: make([]float64, nchan), Trec: make([]float64, nchan)}
	for i := 0; i < nchan; i++ {
		s.Tsys[i] = tsys
		s.Trec[i] = trec
	}
	return s
}

func skyMaskFor(lo, hi int) []bool {
	m := make([]bool, nchan)
	for i := lo; i <= hi; i++ {
		m[i] = true
	}
	return m
}

func TestSelectFindsSourceLine(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	row := syntheticRow(r, 150, [2]int{80, 85}, [2]int{30, 35})
	segments := []TsysSegment{flatSegment(200, 50, 0)}

	sel := NewSelector(DefaultOptions(), log.Nop())
	res := sel.Select([]Integration{row}, segments, skyMaskFor(30, 35), nil)

	if res.Status != StatusOK {
		t.Fatalf("status = %s, expected ok", res.Status)
	}
	for i := 80; i <= 85; i++ {
		if !res.Mask[i] {
			t.Errorf("channel %d not selected", i)
		}
	}
	for i := 0; i < nchan; i++ {
		if (i < 80 || i > 85) && res.Mask[i] {
			t.Errorf("channel %d selected unexpectedly", i)
		}
	}
	if res.NClip < 1 || res.Degree < 1 {
		t.Errorf("unexpected grid point nc=%d degree=%d", res.NClip, res.Degree)
	}
}

func TestSelectTooManyMaskedChannels(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	row := syntheticRow(r, 150, [2]int{80, 85}, [2]int{30, 35})
	chanMask := make([]bool, nchan)
	for i := 0; i < 100; i++ {
		chanMask[i] = true
	}

	res := NewSelector(DefaultOptions(), log.Nop()).Select(
		[]Integration{row}, []TsysSegment{flatSegment(200, 50, 0)}, skyMaskFor(30, 35), chanMask)

	if res.Status != StatusUnavailable {
		t.Errorf("status = %s, expected unavailable", res.Status)
	}
	for i, m := range res.Mask {
		if m {
			t.Fatalf("mask[%d] set on unavailable result", i)
		}
	}
}

func TestSelectNoValidData(t *testing.T) {
	// Tsys below Trec everywhere leaves nothing to normalize
	segments := []TsysSegment{flatSegment(40, 50, 0)}
	row := syntheticRow(rand.New(rand.NewSource(3)), 150, [2]int{80, 85}, [2]int{30, 35})

	res := NewSelector(DefaultOptions(), log.Nop()).Select([]Integration{row}, segments, skyMaskFor(30, 35), nil)
	if res.Status != StatusUnavailable {
		t.Errorf("status = %s, expected unavailable", res.Status)
	}
	if len(res.Mask) != nchan {
		t.Errorf("mask length = %d, expected %d", len(res.Mask), nchan)
	}
}

func TestNormalizeUsesSegmentOfIntegration(t *testing.T) {
	segments := []TsysSegment{
		flatSegment(300, 100, 100), // later segment, listed first
		flatSegment(150, 50, 0),
	}
	data := make([]float64, nchan)
	for i := range data {
		data[i] = 100
	}
	data[5] = 200
	rows := []Integration{
		{Time: 50, Data: data},
		{Time: 150, Data: data, Flag: make([]bool, nchan)},
		{Time: 150, Data: data, FlagRow: true},
	}

	out := Normalize(rows, segments, nchan)
	if math.Abs(out[0]-1) > 1e-12 {
		t.Errorf("out[0] = %v, expected 1 after median renormalization", out[0])
	}
	if math.Abs(out[5]-2) > 1e-12 {
		t.Errorf("out[5] = %v, expected 2", out[5])
	}
}

func TestSegmentFor(t *testing.T) {
	a, b := &TsysSegment{Start: 10}, &TsysSegment{Start: 20}
	list := []*TsysSegment{a, b}

	tests := []struct {
		t    float64
		want *TsysSegment
	}{
		{5, a},
		{10, a},
		{15, a},
		{25, b},
	}
	for _, tt := range tests {
		if got := segmentFor(list, tt.t); got != tt.want {
			t.Errorf("segmentFor(%v) start = %v, expected %v", tt.t, got.Start, tt.want.Start)
		}
	}
	if segmentFor(nil, 1) != nil {
		t.Error("expected nil for no segments")
	}
}

func TestSelectCleanSpectrumWithoutSkyMask(t *testing.T) {
	r := rand.New(rand.NewSource(4))
	row := syntheticRow(r, 150, [2]int{-1, -1}, [2]int{-1, -1})

	res := NewSelector(DefaultOptions(), log.Nop()).Select(
		[]Integration{row}, []TsysSegment{flatSegment(200, 50, 0)}, make([]bool, nchan), nil)

	if res.Status != StatusOK {
		t.Fatalf("status = %s, expected ok", res.Status)
	}
	for i, m := range res.Mask {
		if m {
			t.Errorf("channel %d selected in a line-free spectrum", i)
		}
	}
	if res.NClip != 1 || res.Degree != 1 || res.Score != 0 {
		t.Errorf("grid point nc=%d degree=%d score=%v, expected the first with score 0", res.NClip, res.Degree, res.Score)
	}
}
