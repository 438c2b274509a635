package atmcorr

import (
	"context"
	"fmt"
	"math"

	"github.com/chrissnell/atmcorr/internal/baseline"
	"github.com/chrissnell/atmcorr/internal/metric"
	"github.com/chrissnell/atmcorr/internal/skyline"
	"github.com/chrissnell/atmcorr/internal/source"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Options configures an Engine
type Options struct {
	Grid           Grid
	DecisionMetric metric.Type
	Default        Model

	// SmoothBox is the boxcar width applied before the metrics
	SmoothBox int

	// Workers bounds concurrent grid evaluations (0 or 1 evaluates serially)
	Workers int

	Skyline      skyline.Options
	CenterWeight float64

	// BroadWidthFactor widens the skyline mask kept out of baseline fits
	BroadWidthFactor float64

	Baseline baseline.ClipOptions
	Source   source.Options

	// ForceMultipleSPW evaluates every window with skylines instead of the
	// single best-graded one
	ForceMultipleSPW bool
}

// DefaultOptions returns the search settings used by the pipeline
func DefaultOptions() Options {
	return Options{
		Grid:             DefaultGrid(),
		DecisionMetric:   metric.IntAbsDiff,
		Default:          DefaultModel(),
		SmoothBox:        1,
		Workers:          1,
		Skyline:          skyline.DefaultOptions(),
		CenterWeight:     0.5,
		BroadWidthFactor: 3,
		Baseline: baseline.ClipOptions{
			Degree:    1,
			NClip:     3,
			LowSigma:  3,
			HighSigma: 3,
		},
		Source: source.DefaultOptions(),
	}
}

// SPWSetup is the per-window input of a search
type SPWSetup struct {
	SPW  int       `json:"spw" msgpack:"spw"`
	Freq []float64 `json:"freq" msgpack:"freq"`

	// Tau is the zenith optical depth spectrum from the calibration tables
	Tau []float64 `json:"tau" msgpack:"tau"`

	// ChanMask marks channels unusable for any reason
	ChanMask []bool `json:"chan_mask,omitempty" msgpack:"chan_mask,omitempty"`

	// ScienceMask is used when no on-source integrations are supplied
	ScienceMask []bool `json:"science_mask,omitempty" msgpack:"science_mask,omitempty"`

	Integrations []source.Integration `json:"integrations,omitempty" msgpack:"integrations,omitempty"`
	Segments     []source.TsysSegment `json:"segments,omitempty" msgpack:"segments,omitempty"`
}

// NChan returns the number of channels of the window
func (s SPWSetup) NChan() int {
	return len(s.Tau)
}

// SearchRequest selects the dataset and field to search
type SearchRequest struct {
	Dataset string
	Field   int
	SPWs    []SPWSetup
}

// Engine runs the model grid search
type Engine struct {
	opts      Options
	models    []Model
	corrector Corrector
	gains     GainTable
	selector  *source.Selector
	logger    *zap.SugaredLogger
}

// NewEngine validates opts and returns an Engine. Configuration problems
// (unknown metric, empty grid axis) are returned here.
func NewEngine(opts Options, corrector Corrector, gains GainTable, logger *zap.SugaredLogger) (*Engine, error) {
	if _, err := metric.ParseType(string(opts.DecisionMetric)); err != nil {
		return nil, fmt.Errorf("decision metric: %w", err)
	}
	models, err := opts.Grid.Models()
	if err != nil {
		return nil, err
	}
	if opts.DecisionMetric.Deprecated() {
		logger.Warnf("decision metric %s is deprecated", opts.DecisionMetric)
	}
	if opts.BroadWidthFactor <= 0 {
		opts.BroadWidthFactor = 1
	}

	return &Engine{
		opts:      opts,
		models:    models,
		corrector: corrector,
		gains:     gains,
		selector:  source.NewSelector(opts.Source, logger),
		logger:    logger,
	}, nil
}

// Models returns the expanded grid in evaluation order
func (e *Engine) Models() []Model {
	return append([]Model(nil), e.models...)
}

// window is the prepared per-SPW state shared read-only by grid points
type window struct {
	setup   SPWSetup
	gain    float64
	narrow  []bool // channels scored by the metrics
	fitMask []bool // channels kept out of the baseline fit
}

// Search evaluates the model grid for one field and returns the decision.
// Missing skylines or gain factors produce a default-model decision
// without calling the corrector. The returned error is non-nil only when
// ctx is cancelled.
func (e *Engine) Search(ctx context.Context, req SearchRequest) (*Decision, error) {
	d := &Decision{
		Dataset:        req.Dataset,
		Field:          req.Field,
		Models:         e.Models(),
		DecisionMetric: e.opts.DecisionMetric,
		BestIndex:      -1,
	}

	perSPW := make([]skyline.SPWLines, 0, len(req.SPWs))
	setups := make(map[int]SPWSetup, len(req.SPWs))
	for _, s := range req.SPWs {
		lines := skyline.Detect(s.Tau, s.Freq, e.opts.Skyline)
		e.logger.Debugf("field %d spw %d: %d skylines", req.Field, s.SPW, len(lines))
		if len(lines) > 0 {
			perSPW = append(perSPW, skyline.SPWLines{SPW: s.SPW, NChan: s.NChan(), Lines: lines})
		}
		setups[s.SPW] = s
	}

	graded, best, ok := skyline.Grade(perSPW, e.opts.CenterWeight)
	if !ok {
		e.logger.Infof("field %d: %s, using default model", req.Field, ReasonNoSkylines)
		return e.fallback(d, ReasonNoSkylines), nil
	}

	selected := []skyline.Selection{best}
	if e.opts.ForceMultipleSPW {
		selected = bestPerSPW(graded)
	}

	windows := make([]window, 0, len(selected))
	for _, sel := range selected {
		setup := setups[sel.SPW]
		gain, ok := e.gains.JyPerK(req.Dataset, sel.SPW)
		if !ok {
			e.logger.Warnf("field %d spw %d: %s, using default model", req.Field, sel.SPW, ReasonNoGainFactor)
			d.LineIDs = selected
			return e.fallback(d, ReasonNoGainFactor), nil
		}
		windows = append(windows, e.prepare(setup, gain, sel, linesOf(graded, sel.SPW)))
		d.SPWsProcessed = append(d.SPWsProcessed, sel.SPW)
	}
	d.LineIDs = selected

	rows, err := e.evaluateGrid(ctx, req, windows)
	if err != nil {
		return nil, err
	}
	d.Metrics = rows

	idx, ok := argmin(rows)
	if !ok {
		e.logger.Warnf("field %d: %s, using default model", req.Field, ReasonAllCandidates)
		return e.fallback(d, ReasonAllCandidates), nil
	}
	d.Best = e.models[idx]
	d.BestIndex = idx
	d.FitStatus = FitStatusBest
	e.logger.Infof("field %d: best model %s (%s=%.4g)", req.Field, d.Best, e.opts.DecisionMetric, rows[idx].Decision.Value)
	return d, nil
}

// fallback fills d as a default-model decision with NaN metrics
func (e *Engine) fallback(d *Decision, reason string) *Decision {
	if d.Metrics == nil {
		d.Metrics = make([]CandidateMetrics, len(e.models))
		for i, m := range e.models {
			d.Metrics[i] = CandidateMetrics{Index: i, Model: m, Decision: metric.Unavailable()}
		}
	}
	d.Best = e.opts.Default
	d.BestIndex = -1
	d.FitStatus = FitStatusDefault
	d.Reason = reason
	return d
}

func (e *Engine) prepare(setup SPWSetup, gain float64, sel skyline.Selection, lines []skyline.Record) window {
	nchan := setup.NChan()
	narrow := skyline.Mask([]skyline.Record{sel.Record}, nchan, 1)
	broad := skyline.Mask(lines, nchan, e.opts.BroadWidthFactor)

	science := setup.ScienceMask
	if len(setup.Integrations) > 0 {
		res := e.selector.Select(setup.Integrations, setup.Segments, broad, setup.ChanMask)
		science = res.Mask
	}

	fitMask := make([]bool, nchan)
	for i := range fitMask {
		fitMask[i] = broad[i] ||
			(i < len(science) && science[i]) ||
			(i < len(setup.ChanMask) && setup.ChanMask[i])
	}
	return window{setup: setup, gain: gain, narrow: narrow, fitMask: fitMask}
}

// evaluateGrid computes the metrics of every model. Each grid point
// writes only its own slot so the canonical order survives concurrency.
func (e *Engine) evaluateGrid(ctx context.Context, req SearchRequest, windows []window) ([]CandidateMetrics, error) {
	rows := make([]CandidateMetrics, len(e.models))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(e.opts.Workers, 1))
	for i, m := range e.models {
		if err := gctx.Err(); err != nil {
			break
		}
		i, m := i, m
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rows[i] = e.evaluate(gctx, req, i, m, windows)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}

func (e *Engine) evaluate(ctx context.Context, req SearchRequest, idx int, m Model, windows []window) CandidateMetrics {
	row := CandidateMetrics{Index: idx, Model: m, SPWs: make([]SPWMetrics, 0, len(windows))}
	for _, w := range windows {
		sm := SPWMetrics{SPW: w.setup.SPW}
		corrected, err := e.corrector.Correct(ctx, CorrectionRequest{
			Dataset:    req.Dataset,
			Field:      req.Field,
			SPW:        w.setup.SPW,
			Model:      m,
			GainFactor: w.gain,
		})
		if err == nil {
			sm.Metrics, err = e.metrics(corrected, w)
		}
		if err != nil {
			e.logger.Warnf("field %d spw %d model %s: %v", req.Field, w.setup.SPW, m, err)
			sm.Metrics = nanMetrics()
			sm.Error = err.Error()
		}
		row.SPWs = append(row.SPWs, sm)
	}
	row.Decision = combine(row.SPWs, e.opts.DecisionMetric)
	e.logger.Debugf("model %d %s: %s=%v", idx, m, e.opts.DecisionMetric, row.Decision.Value)
	return row
}

// metrics subtracts a baseline fitted over the safe channels of every
// polarization and computes all metrics over the selected line.
func (e *Engine) metrics(c *Corrected, w window) (map[metric.Type]metric.Result, error) {
	nchan := w.setup.NChan()
	if c == nil || len(c.Data) == 0 {
		return nil, fmt.Errorf("corrector returned no spectra")
	}

	x := make([]float64, nchan)
	for i := range x {
		x[i] = float64(i)
	}

	samples := make([]metric.Sample, 0, len(c.Data))
	for pol, data := range c.Data {
		if len(data) != nchan {
			return nil, fmt.Errorf("polarization %d has %d channels, expected %d", pol, len(data), nchan)
		}
		fitMask := append([]bool(nil), w.fitMask...)
		if pol < len(c.Mask) {
			for i := 0; i < nchan && i < len(c.Mask[pol]); i++ {
				fitMask[i] = fitMask[i] || c.Mask[pol][i]
			}
		}
		fit, err := baseline.SigmaClipFit(x, data, fitMask, e.opts.Baseline)
		if err != nil {
			// nothing left to fit on this polarization
			continue
		}

		residual := make([]float64, nchan)
		sigma := make([]float64, nchan)
		mask := make([]bool, nchan)
		for i := range residual {
			residual[i] = data[i] - fit.Model[i]
			sigma[i] = fit.Sigma
			if pol < len(c.Sigma) && i < len(c.Sigma[pol]) {
				sigma[i] = c.Sigma[pol][i]
			}
			mask[i] = !w.narrow[i] ||
				(i < len(w.setup.ChanMask) && w.setup.ChanMask[i]) ||
				(pol < len(c.Mask) && i < len(c.Mask[pol]) && c.Mask[pol][i])
			if math.IsNaN(sigma[i]) {
				sigma[i] = 0
			}
		}
		samples = append(samples, metric.Sample{Data: residual, Sigma: sigma, Mask: mask})
	}

	out := make(map[metric.Type]metric.Result, len(metric.All))
	for _, t := range metric.All {
		r, err := metric.Calc(samples, t, e.opts.SmoothBox)
		if err != nil {
			return nil, err
		}
		out[t] = r
	}
	return out, nil
}

// bestPerSPW picks the highest-graded line of every window, first on ties
func bestPerSPW(graded []skyline.SPWLines) []skyline.Selection {
	var out []skyline.Selection
	for _, s := range graded {
		bi := -1
		for j, r := range s.Lines {
			if bi < 0 || r.Grade > s.Lines[bi].Grade {
				bi = j
			}
		}
		if bi >= 0 {
			out = append(out, skyline.Selection{SPW: s.SPW, Index: bi, Record: s.Lines[bi]})
		}
	}
	return out
}

func linesOf(graded []skyline.SPWLines, spw int) []skyline.Record {
	for _, s := range graded {
		if s.SPW == spw {
			return s.Lines
		}
	}
	return nil
}
