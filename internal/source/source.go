// Package source locates science-target emission channels in on-source
// integrations so they can be kept out of atmospheric baseline fits.
package source

import (
	"math"
	"sort"

	"github.com/chrissnell/atmcorr/internal/baseline"
	"github.com/chrissnell/atmcorr/internal/robust"
	"github.com/chrissnell/atmcorr/internal/skyline"
	"go.uber.org/zap"
)

// Status tells the caller whether a selection could be made
type Status string

const (
	StatusOK          Status = "ok"
	StatusUnavailable Status = "unavailable"
)

// Integration is one on-source row for a single antenna and polarization
type Integration struct {
	Antenna int       `json:"antenna" msgpack:"antenna"`
	Pol     int       `json:"pol" msgpack:"pol"`
	Time    float64   `json:"time" msgpack:"time"`
	Data    []float64 `json:"data" msgpack:"data"`
	Flag    []bool    `json:"flag" msgpack:"flag"`
	FlagRow bool      `json:"flag_row" msgpack:"flag_row"`
}

// TsysSegment holds the Tsys and Trec spectra measured by the ATM
// calibration scan starting at Start.
type TsysSegment struct {
	Antenna int       `json:"antenna" msgpack:"antenna"`
	Pol     int       `json:"pol" msgpack:"pol"`
	Start   float64   `json:"start" msgpack:"start"`
	Tsys    []float64 `json:"tsys" msgpack:"tsys"`
	Trec    []float64 `json:"trec" msgpack:"trec"`
}

// Options parameterizes the selector
type Options struct {
	// NClips and NDegree bound the (clip iterations, polynomial degree) grid
	NClips  int
	NDegree int

	// ClipSigma is the symmetric clip threshold of each grid fit
	ClipSigma float64

	// DetectionSigma is the residual level above which a channel is a
	// source candidate
	DetectionSigma float64

	// ExtPenalty weights the spread of the candidate channels
	ExtPenalty float64

	// MaxMaskedFraction above which no selection is attempted
	MaxMaskedFraction float64

	// AdjacentPad is the number of channels around the sky lines scored
	// together with the candidates
	AdjacentPad int
}

// DefaultOptions returns the selector settings used by the pipeline
func DefaultOptions() Options {
	return Options{
		NClips:            3,
		NDegree:           3,
		ClipSigma:         3,
		DetectionSigma:    3,
		ExtPenalty:        1,
		MaxMaskedFraction: 0.5,
		AdjacentPad:       2,
	}
}

// Result is the outcome of Select
type Result struct {
	Mask   []bool  `json:"mask" msgpack:"mask"`
	Status Status  `json:"status" msgpack:"status"`
	NClip  int     `json:"nclip" msgpack:"nclip"`
	Degree int     `json:"degree" msgpack:"degree"`
	Score  float64 `json:"score" msgpack:"score"`

	// Spectrum is the normalized time-averaged spectrum the grid ran on
	Spectrum []float64 `json:"spectrum" msgpack:"spectrum"`
}

// Selector runs the source-channel search
type Selector struct {
	opts   Options
	logger *zap.SugaredLogger
}

// NewSelector returns a Selector with the given options
func NewSelector(opts Options, logger *zap.SugaredLogger) *Selector {
	if opts.NClips < 1 {
		opts.NClips = 1
	}
	if opts.NDegree < 1 {
		opts.NDegree = 1
	}
	return &Selector{opts: opts, logger: logger}
}

// Select returns the per-channel science-target mask. skyMask marks the
// skyline channels and chanMask the channels unusable for any reason;
// both are excluded from the baseline fits.
func (s *Selector) Select(rows []Integration, segments []TsysSegment, skyMask, chanMask []bool) Result {
	nchan := len(skyMask)
	empty := Result{Mask: make([]bool, nchan), Status: StatusUnavailable}

	masked := 0
	for i := 0; i < nchan; i++ {
		if chanMask != nil && chanMask[i] {
			masked++
		}
	}
	if nchan == 0 || float64(masked)/float64(nchan) > s.opts.MaxMaskedFraction {
		s.logger.Warnf("source selection skipped: %d of %d channels masked", masked, nchan)
		return empty
	}

	spec := Normalize(rows, segments, nchan)
	fitMask := make([]bool, nchan)
	valid := 0
	for i := range spec {
		fitMask[i] = skyMask[i] || (chanMask != nil && chanMask[i]) || math.IsNaN(spec[i])
		if !math.IsNaN(spec[i]) {
			valid++
		}
	}
	if valid == 0 {
		s.logger.Warn("source selection skipped: no valid normalized data")
		return empty
	}

	x := make([]float64, nchan)
	for i := range x {
		x[i] = float64(i)
	}
	adjacent := skyline.Adjacent(skyMask, s.opts.AdjacentPad)

	best := empty
	best.Score = math.Inf(1)
	for nc := 1; nc <= s.opts.NClips; nc++ {
		for deg := 1; deg <= s.opts.NDegree; deg++ {
			fit, err := baseline.SigmaClipFit(x, spec, fitMask, baseline.ClipOptions{
				Degree:    deg,
				NClip:     nc,
				LowSigma:  s.opts.ClipSigma,
				HighSigma: s.opts.ClipSigma,
			})
			if err != nil {
				s.logger.Debugf("source fit nc=%d degree=%d failed: %v", nc, deg, err)
				continue
			}
			cand, score := s.score(fit, adjacent, fitMask)
			s.logger.Debugf("source fit nc=%d degree=%d score=%.4g", nc, deg, score)
			// strict comparison keeps the first grid point on ties
			if score < best.Score {
				best = Result{Mask: cand, Status: StatusOK, NClip: nc, Degree: deg, Score: score}
			}
		}
	}
	if best.Status != StatusOK {
		return empty
	}
	best.Spectrum = spec
	return best
}

// score returns the candidate mask of one grid fit and its chi² over the
// sky-adjacent and candidate channels plus the extent penalty.
func (s *Selector) score(fit *baseline.PolyResult, adjacent, fitMask []bool) ([]bool, float64) {
	n := len(fit.Residuals)
	cand := make([]bool, n)
	sigma := fit.Sigma
	if sigma == 0 || math.IsNaN(sigma) {
		return cand, math.NaN()
	}

	lo, hi := -1, -1
	for i, r := range fit.Residuals {
		if math.IsNaN(r) || fitMask[i] {
			continue
		}
		if r > s.opts.DetectionSigma*sigma {
			cand[i] = true
			if lo < 0 {
				lo = i
			}
			hi = i
		}
	}

	var chi2 float64
	used := 0
	for i, r := range fit.Residuals {
		if math.IsNaN(r) || !(cand[i] || adjacent[i]) {
			continue
		}
		chi2 += (r / sigma) * (r / sigma)
		used++
	}
	// nothing to score: a clean fit with no candidates
	if used == 0 {
		return cand, 0
	}
	chi2 /= float64(used)

	extent := 0.0
	if lo >= 0 {
		extent = float64(hi-lo) / float64(n)
	}
	return cand, chi2 + s.opts.ExtPenalty*extent
}

// Normalize divides every integration by Tsys − Trec of its calibration
// segment, renormalizes it by its own median and returns the time average
// per channel. Channels without any valid sample are NaN.
func Normalize(rows []Integration, segments []TsysSegment, nchan int) []float64 {
	sum := make([]float64, nchan)
	cnt := make([]int, nchan)

	bySeries := groupSegments(segments)
	norm := make([]float64, nchan)
	for _, row := range rows {
		if row.FlagRow || len(row.Data) != nchan {
			continue
		}
		seg := segmentFor(bySeries[seriesKey{row.Antenna, row.Pol}], row.Time)
		if seg == nil {
			continue
		}
		for i := range norm {
			norm[i] = math.NaN()
			if (row.Flag != nil && row.Flag[i]) || i >= len(seg.Tsys) || i >= len(seg.Trec) {
				continue
			}
			if d := seg.Tsys[i] - seg.Trec[i]; d > 0 {
				norm[i] = row.Data[i] / d
			}
		}
		med := robust.Median(norm, nil)
		if med == 0 || math.IsNaN(med) {
			continue
		}
		for i, v := range norm {
			if math.IsNaN(v) {
				continue
			}
			sum[i] += v / med
			cnt[i]++
		}
	}

	out := make([]float64, nchan)
	for i := range out {
		if cnt[i] == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = sum[i] / float64(cnt[i])
	}
	return out
}

type seriesKey struct {
	antenna, pol int
}

func groupSegments(segments []TsysSegment) map[seriesKey][]*TsysSegment {
	out := make(map[seriesKey][]*TsysSegment)
	for i := range segments {
		k := seriesKey{segments[i].Antenna, segments[i].Pol}
		out[k] = append(out[k], &segments[i])
	}
	for _, list := range out {
		sort.SliceStable(list, func(i, j int) bool { return list[i].Start < list[j].Start })
	}
	return out
}

// segmentFor picks the latest segment starting at or before t, or the first
// segment when t precedes all of them.
func segmentFor(list []*TsysSegment, t float64) *TsysSegment {
	if len(list) == 0 {
		return nil
	}
	pick := list[0]
	for _, s := range list {
		if s.Start <= t {
			pick = s
		}
	}
	return pick
}
