package config

import (
	"fmt"
	"time"

	"github.com/chrissnell/atmcorr/internal/atmcorr"
	"github.com/chrissnell/atmcorr/internal/baseline"
	"github.com/chrissnell/atmcorr/internal/metric"
	"github.com/chrissnell/atmcorr/internal/skyline"
	"github.com/chrissnell/atmcorr/internal/source"
	"github.com/chrissnell/atmcorr/internal/tsyscontam"
	"go.uber.org/multierr"
)

// Default returns the configuration used when no file overrides it
func Default() *ConfigData {
	eng := atmcorr.DefaultOptions()
	tsys := tsyscontam.DefaultOptions()
	return &ConfigData{
		Search: SearchData{
			AtmTypes:         eng.Grid.AtmTypes,
			MaxAltitudes:     eng.Grid.MaxAltitudes,
			LapseRates:       eng.Grid.LapseRates,
			ScaleHeights:     eng.Grid.ScaleHeights,
			DecisionMetric:   string(eng.DecisionMetric),
			DefaultModel:     eng.Default,
			SmoothBox:        eng.SmoothBox,
			Workers:          eng.Workers,
			CenterWeight:     eng.CenterWeight,
			BroadWidthFactor: eng.BroadWidthFactor,
		},
		Skyline: SkylineData{
			FractionLevel:  eng.Skyline.FractionLevel,
			MinPeakLevel:   eng.Skyline.MinPeakLevel,
			BorderFraction: eng.Skyline.BorderFraction,
			Baseline:       fromClip(eng.Skyline.Baseline),
		},
		Baseline: fromClip(eng.Baseline),
		Source: SourceData{
			NClips:            eng.Source.NClips,
			NDegree:           eng.Source.NDegree,
			ClipSigma:         eng.Source.ClipSigma,
			DetectionSigma:    eng.Source.DetectionSigma,
			ExtPenalty:        eng.Source.ExtPenalty,
			MaxMaskedFraction: eng.Source.MaxMaskedFraction,
			AdjacentPad:       eng.Source.AdjacentPad,
		},
		Tsys: TsysData{
			AsymFactor:                tsys.AsymFactor,
			DetectionSigma:            tsys.DetectionSigma,
			GrowSigma:                 tsys.GrowSigma,
			RelativeDetectionFactor:   tsys.RelativeDetectionFactor,
			LargeIntervalWarningLimit: tsys.LargeIntervalWarningLimit,
			MaxVelocityWidth:          tsys.MaxVelocityWidth,
			COTolerance:               tsys.COTolerance,
			LegendreDegree:            tsys.LegendreDegree,
			MaxEscalations:            tsys.MaxEscalations,
		},
		Corrector: CorrectorData{Timeout: 10 * time.Minute},
	}
}

func fromClip(c baseline.ClipOptions) BaselineData {
	return BaselineData{
		Degree:         c.Degree,
		NClip:          c.NClip,
		LowSigma:       c.LowSigma,
		HighSigma:      c.HighSigma,
		BorderFraction: c.BorderFraction,
	}
}

func (b BaselineData) clip() baseline.ClipOptions {
	return baseline.ClipOptions{
		Degree:         b.Degree,
		NClip:          b.NClip,
		LowSigma:       b.LowSigma,
		HighSigma:      b.HighSigma,
		BorderFraction: b.BorderFraction,
	}
}

// Validate reports every configuration problem at once
func (c *ConfigData) Validate() error {
	var err error
	s := c.Search

	if _, e := (atmcorr.Grid{AtmTypes: s.AtmTypes, MaxAltitudes: s.MaxAltitudes, LapseRates: s.LapseRates, ScaleHeights: s.ScaleHeights}).Models(); e != nil {
		err = multierr.Append(err, fmt.Errorf("search: %w", e))
	}
	for _, at := range s.AtmTypes {
		if at < atmcorr.AtmTropical || at > atmcorr.AtmSubarcticWinter {
			err = multierr.Append(err, fmt.Errorf("search.atm_types: %d outside 1..5", at))
		}
	}
	for _, sh := range s.ScaleHeights {
		if sh <= 0 {
			err = multierr.Append(err, fmt.Errorf("search.scale_heights: %g must be positive", sh))
		}
	}
	if _, e := metric.ParseType(s.DecisionMetric); e != nil {
		err = multierr.Append(err, fmt.Errorf("search.decision_metric: %w", e))
	}
	if e := s.DefaultModel.Validate(); e != nil {
		err = multierr.Append(err, fmt.Errorf("search.default_model: %w", e))
	}
	if s.SmoothBox < 0 {
		err = multierr.Append(err, fmt.Errorf("search.smooth_box: %d is negative", s.SmoothBox))
	}
	if s.Workers < 0 {
		err = multierr.Append(err, fmt.Errorf("search.workers: %d is negative", s.Workers))
	}
	if s.CenterWeight < 0 || s.CenterWeight > 1 {
		err = multierr.Append(err, fmt.Errorf("search.center_weight: %g outside [0, 1]", s.CenterWeight))
	}
	if s.BroadWidthFactor < 1 {
		err = multierr.Append(err, fmt.Errorf("search.broad_width_factor: %g must be at least 1", s.BroadWidthFactor))
	}

	if f := c.Skyline.FractionLevel; f <= 0 || f >= 1 {
		err = multierr.Append(err, fmt.Errorf("skyline.fraction_level: %g outside (0, 1)", f))
	}
	err = multierr.Append(err, c.Skyline.Baseline.validate("skyline.baseline"))
	err = multierr.Append(err, c.Baseline.validate("baseline"))

	if f := c.Source.MaxMaskedFraction; f <= 0 || f > 1 {
		err = multierr.Append(err, fmt.Errorf("source.max_masked_fraction: %g outside (0, 1]", f))
	}
	if c.Source.NClips < 1 || c.Source.NDegree < 1 {
		err = multierr.Append(err, fmt.Errorf("source: nclips and ndegree must be at least 1"))
	}

	if c.Tsys.AsymFactor <= 0 {
		err = multierr.Append(err, fmt.Errorf("tsys.asym_factor: %g must be positive", c.Tsys.AsymFactor))
	}
	if c.Tsys.COTolerance < 0 {
		err = multierr.Append(err, fmt.Errorf("tsys.co_tolerance: %g is negative", c.Tsys.COTolerance))
	}
	if c.Tsys.LegendreDegree < 0 || c.Tsys.MaxEscalations < 0 {
		err = multierr.Append(err, fmt.Errorf("tsys: legendre_degree and max_escalations must not be negative"))
	}

	if c.Corrector.Timeout < 0 {
		err = multierr.Append(err, fmt.Errorf("corrector.timeout: %v is negative", c.Corrector.Timeout))
	}
	if c.Storage.SQLite != nil && c.Storage.SQLite.Path == "" {
		err = multierr.Append(err, fmt.Errorf("storage.sqlite.path is required"))
	}
	if c.Storage.TimescaleDB != nil && c.Storage.TimescaleDB.ConnectionString == "" {
		err = multierr.Append(err, fmt.Errorf("storage.timescaledb.connection_string is required"))
	}
	if c.REST.Port < 0 || c.REST.Port > 65535 {
		err = multierr.Append(err, fmt.Errorf("rest.port: %d outside 0..65535", c.REST.Port))
	}
	if (c.REST.Cert == "") != (c.REST.Key == "") {
		err = multierr.Append(err, fmt.Errorf("rest: cert and key must be given together"))
	}
	return err
}

func (b BaselineData) validate(section string) error {
	var err error
	if b.Degree < 0 || b.NClip < 0 {
		err = multierr.Append(err, fmt.Errorf("%s: degree and nclip must not be negative", section))
	}
	if b.LowSigma <= 0 || b.HighSigma <= 0 {
		err = multierr.Append(err, fmt.Errorf("%s: clip sigmas must be positive", section))
	}
	if b.BorderFraction < 0 || b.BorderFraction >= 0.5 {
		err = multierr.Append(err, fmt.Errorf("%s.border_fraction: %g outside [0, 0.5)", section, b.BorderFraction))
	}
	return err
}

// EngineOptions converts the search sections into model search options
func (c *ConfigData) EngineOptions() (atmcorr.Options, error) {
	mt, err := metric.ParseType(c.Search.DecisionMetric)
	if err != nil {
		return atmcorr.Options{}, err
	}
	opts := atmcorr.DefaultOptions()
	opts.Grid = atmcorr.Grid{
		AtmTypes:     c.Search.AtmTypes,
		MaxAltitudes: c.Search.MaxAltitudes,
		LapseRates:   c.Search.LapseRates,
		ScaleHeights: c.Search.ScaleHeights,
	}
	opts.DecisionMetric = mt
	opts.Default = c.Search.DefaultModel
	opts.SmoothBox = c.Search.SmoothBox
	opts.Workers = c.Search.Workers
	opts.CenterWeight = c.Search.CenterWeight
	opts.BroadWidthFactor = c.Search.BroadWidthFactor
	opts.ForceMultipleSPW = c.Search.ForceMultipleSPW
	opts.Skyline = c.SkylineOptions()
	opts.Baseline = c.Baseline.clip()
	opts.Source = source.Options{
		NClips:            c.Source.NClips,
		NDegree:           c.Source.NDegree,
		ClipSigma:         c.Source.ClipSigma,
		DetectionSigma:    c.Source.DetectionSigma,
		ExtPenalty:        c.Source.ExtPenalty,
		MaxMaskedFraction: c.Source.MaxMaskedFraction,
		AdjacentPad:       c.Source.AdjacentPad,
	}
	return opts, nil
}

// SkylineOptions converts the skyline section
func (c *ConfigData) SkylineOptions() skyline.Options {
	return skyline.Options{
		FractionLevel:  c.Skyline.FractionLevel,
		MinPeakLevel:   c.Skyline.MinPeakLevel,
		BorderFraction: c.Skyline.BorderFraction,
		Baseline:       c.Skyline.Baseline.clip(),
	}
}

// ClassifierOptions converts the tsys section; settings without a key keep
// the classifier defaults.
func (c *ConfigData) ClassifierOptions() tsyscontam.Options {
	opts := tsyscontam.DefaultOptions()
	opts.AsymFactor = c.Tsys.AsymFactor
	opts.DetectionSigma = c.Tsys.DetectionSigma
	opts.GrowSigma = c.Tsys.GrowSigma
	opts.RelativeDetectionFactor = c.Tsys.RelativeDetectionFactor
	opts.LargeIntervalWarningLimit = c.Tsys.LargeIntervalWarningLimit
	opts.MaxVelocityWidth = c.Tsys.MaxVelocityWidth
	opts.COTolerance = c.Tsys.COTolerance
	opts.LegendreDegree = c.Tsys.LegendreDegree
	opts.MaxEscalations = c.Tsys.MaxEscalations
	return opts
}
