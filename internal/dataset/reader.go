package dataset

import (
	"fmt"
	"math"
	"sort"

	"github.com/chrissnell/atmcorr/internal/atmcorr"
	"github.com/chrissnell/atmcorr/internal/intervals"
	"github.com/chrissnell/atmcorr/internal/source"
	"github.com/chrissnell/atmcorr/internal/tsyscontam"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Reader is the data access the pipeline programs need from a dataset
type Reader interface {
	HasTable(t Table) bool
	Name() string
	SPWs() []int
	Fields(i Intent) []Field
	Setup(field, spw int) (atmcorr.SPWSetup, error)
	TsysInput(field, spw int) (tsyscontam.Input, error)
	Gains() atmcorr.GainTable
	Close() error
}

var _ Reader = (*Bundle)(nil)

// Setup assembles the model search input of one field and window. The
// Tsys scans of the field become the normalization segments of its
// on-source integrations.
func (b *Bundle) Setup(field, spw int) (atmcorr.SPWSetup, error) {
	w, err := b.window(spw)
	if err != nil {
		return atmcorr.SPWSetup{}, err
	}
	if len(w.Freq) != len(w.Tau) {
		return atmcorr.SPWSetup{}, fmt.Errorf("spw %d: %d frequencies for %d opacity channels", spw, len(w.Freq), len(w.Tau))
	}

	setup := atmcorr.SPWSetup{
		SPW:      spw,
		Freq:     w.Freq,
		Tau:      w.Tau,
		ChanMask: w.ChanMask,
	}
	if !w.Lines.Empty() {
		setup.ScienceMask = intervals.ToMask(w.Lines, len(w.Tau))
	}

	if b.ms != nil {
		for _, r := range b.ms.Rows {
			if r.Field == field && r.SPW == spw {
				setup.Integrations = append(setup.Integrations, r.Integrations...)
			}
		}
	}
	for _, s := range b.cal.Tsys {
		if s.SPW == spw && s.Field == field && len(s.Trec) == len(s.Tsys) {
			setup.Segments = append(setup.Segments, source.TsysSegment{
				Antenna: s.Antenna,
				Pol:     s.Pol,
				Start:   s.Start,
				Tsys:    s.Tsys,
				Trec:    s.Trec,
			})
		}
	}
	return setup, nil
}

// TsysInput assembles the contamination comparison of one science field
// and window: the bandpass calibrator's mean Tsys against the field's mean
// Tsys.
func (b *Bundle) TsysInput(field, spw int) (tsyscontam.Input, error) {
	w, err := b.window(spw)
	if err != nil {
		return tsyscontam.Input{}, err
	}

	var bp, src [][]float64
	scans := map[int]bool{}
	for _, s := range b.cal.Tsys {
		if s.SPW != spw {
			continue
		}
		switch {
		case s.Intent == IntentBandpass:
			bp = append(bp, s.Tsys)
		case s.Intent == IntentScience && s.Field == field:
			src = append(src, s.Tsys)
			scans[s.Scan] = true
		}
	}
	if len(bp) == 0 {
		return tsyscontam.Input{}, fmt.Errorf("spw %d: no bandpass Tsys scans", spw)
	}
	if len(src) == 0 {
		return tsyscontam.Input{}, fmt.Errorf("spw %d field %d: no science Tsys scans", spw, field)
	}

	in := tsyscontam.Input{
		SPW:        spw,
		Field:      field,
		Bandpass:   reduce(bp, mean),
		Source:     reduce(src, mean),
		MinScience: reduce(src, minimum),
		Science:    w.Science,
	}
	if len(in.Bandpass) != len(in.Source) {
		return tsyscontam.Input{}, fmt.Errorf("spw %d: bandpass has %d channels, field %d has %d",
			spw, len(in.Bandpass), field, len(in.Source))
	}
	if len(w.Freq) == len(in.Source) {
		in.Freq = w.Freq
	}
	if len(w.Tau) == len(in.Source) {
		in.Atm = make([]float64, len(w.Tau))
		for i, t := range w.Tau {
			in.Atm[i] = math.Exp(-t)
		}
	}
	for s := range scans {
		in.Scans = append(in.Scans, s)
	}
	sort.Ints(in.Scans)
	return in, nil
}

// Gains returns the Jy/K table, or an empty one when the bundle has none
func (b *Bundle) Gains() atmcorr.GainTable {
	if b.jyperk == nil {
		return NewJyPerKTable(nil)
	}
	return b.jyperk
}

// reduce combines equally long spectra channel by channel, skipping
// non-finite values. Channels without a finite value are NaN.
func reduce(spectra [][]float64, f func([]float64) float64) []float64 {
	n := len(spectra[0])
	for _, s := range spectra[1:] {
		n = min(n, len(s))
	}
	out := make([]float64, n)
	col := make([]float64, 0, len(spectra))
	for i := range out {
		col = col[:0]
		for _, s := range spectra {
			if !math.IsNaN(s[i]) && !math.IsInf(s[i], 0) {
				col = append(col, s[i])
			}
		}
		out[i] = math.NaN()
		if len(col) > 0 {
			out[i] = f(col)
		}
	}
	return out
}

func mean(x []float64) float64 { return stat.Mean(x, nil) }

func minimum(x []float64) float64 { return floats.Min(x) }
