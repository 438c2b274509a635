// Package tsyscontam detects astronomical line contamination in Tsys
// spectra taken on the science target by comparing them with the bandpass
// calibrator's Tsys spectra.
package tsyscontam

import (
	"encoding/json"
	"math"

	"github.com/chrissnell/atmcorr/internal/intervals"
	"github.com/chrissnell/atmcorr/internal/skyline"
)

// Label classifies a residual interval
type Label string

const (
	LabelTelluric         Label = "telluric"
	LabelAtmResidual      Label = "atm_residual"
	LabelCommonFeature    Label = "common_feature"
	LabelLowContamination Label = "low_contamination"
	LabelPossibleLine     Label = "possible_line"
	LabelLine             Label = "line"
	LabelOffScience       Label = "off_science"
)

// Labels lists every label in reporting order
var Labels = []Label{
	LabelLine,
	LabelPossibleLine,
	LabelLowContamination,
	LabelTelluric,
	LabelAtmResidual,
	LabelCommonFeature,
	LabelOffScience,
}

// Input is one (spw, field) comparison
type Input struct {
	SPW   int   `json:"spw" msgpack:"spw"`
	Field int   `json:"field" msgpack:"field"`
	Scans []int `json:"scans" msgpack:"scans"`

	// Freq is the channel frequency in GHz, in instrument order (may be nil)
	Freq []float64 `json:"freq" msgpack:"freq"`

	Bandpass []float64 `json:"bandpass" msgpack:"bandpass"`
	Source   []float64 `json:"source" msgpack:"source"`

	// Atm is the model atmospheric transmission per channel (nil means
	// a transparent atmosphere)
	Atm []float64 `json:"atm,omitempty" msgpack:"atm,omitempty"`

	// MinScience is the per-channel minimum Tsys over the science scans;
	// Source is used when nil
	MinScience []float64 `json:"min_science,omitempty" msgpack:"min_science,omitempty"`

	// Science is the channel range covered by the science spectral window;
	// empty means the whole window
	Science intervals.Set `json:"science,omitempty" msgpack:"science,omitempty"`
}

// Report is the outcome of one comparison
type Report struct {
	SPW   int   `json:"spw" msgpack:"spw"`
	Field int   `json:"field" msgpack:"field"`
	Scans []int `json:"scans" msgpack:"scans"`

	Intervals map[Label]intervals.Set `json:"intervals" msgpack:"intervals"`

	// Residual is the normalized difference spectrum left by the fit
	Residual Series  `json:"residual" msgpack:"residual"`
	Sigma    float64 `json:"sigma" msgpack:"sigma"`
	NSigma   float64 `json:"nsigma" msgpack:"nsigma"`

	// Model names the fitted model ("none", "simple" or "legendre")
	Model       string `json:"model" msgpack:"model"`
	Degree      int    `json:"degree" msgpack:"degree"`
	Escalations int    `json:"escalations" msgpack:"escalations"`

	AtmPeaks []skyline.Record `json:"atm_peaks,omitempty" msgpack:"atm_peaks,omitempty"`
	Warnings []string         `json:"warnings,omitempty" msgpack:"warnings,omitempty"`
}

func newReport(in Input) *Report {
	r := &Report{
		SPW:       in.SPW,
		Field:     in.Field,
		Scans:     in.Scans,
		Intervals: make(map[Label]intervals.Set, len(Labels)),
		Model:     "none",
	}
	for _, l := range Labels {
		r.Intervals[l] = intervals.Set{}
	}
	return r
}

// Contamination returns the channels to flag: the union of the line and
// possible_line intervals.
func (r *Report) Contamination() intervals.Set {
	return intervals.Union(r.Intervals[LabelLine], r.Intervals[LabelPossibleLine])
}

func (r *Report) add(l Label, iv intervals.Interval) {
	r.Intervals[l] = intervals.Union(r.Intervals[l], intervals.Set{iv})
}

// Series is a per-channel spectrum whose NaN channels encode as JSON null
type Series []float64

func (s Series) MarshalJSON() ([]byte, error) {
	out := make([]*float64, len(s))
	for i := range s {
		if !math.IsNaN(s[i]) && !math.IsInf(s[i], 0) {
			out[i] = &s[i]
		}
	}
	return json.Marshal(out)
}

func (s *Series) UnmarshalJSON(b []byte) error {
	var in []*float64
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	*s = make(Series, len(in))
	for i, v := range in {
		(*s)[i] = math.NaN()
		if v != nil {
			(*s)[i] = *v
		}
	}
	return nil
}
