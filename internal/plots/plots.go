// Package plots renders diagnostic PNGs for the model search and the
// contamination classifier.
package plots

import (
	"bytes"
	"errors"
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"github.com/chrissnell/atmcorr/internal/atmcorr"
	"github.com/chrissnell/atmcorr/internal/intervals"
	"github.com/chrissnell/atmcorr/internal/skyline"
	"github.com/chrissnell/atmcorr/internal/tsyscontam"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// ErrNoData is returned when there is nothing finite to plot
var ErrNoData = errors.New("nothing to plot")

var (
	black = color.RGBA{A: 255}
	red   = color.RGBA{R: 220, A: 255}
	blue  = color.RGBA{B: 220, A: 255}
	gray  = color.Gray{Y: 128}
)

// labelColors shade classified intervals; unlisted labels are gray
var labelColors = map[tsyscontam.Label]color.Color{
	tsyscontam.LabelLine:             color.RGBA{R: 255, A: 90},
	tsyscontam.LabelPossibleLine:     color.RGBA{R: 255, G: 165, A: 90},
	tsyscontam.LabelTelluric:         color.RGBA{B: 255, A: 60},
	tsyscontam.LabelAtmResidual:      color.RGBA{G: 160, B: 255, A: 60},
	tsyscontam.LabelCommonFeature:    color.RGBA{R: 128, B: 128, A: 60},
	tsyscontam.LabelLowContamination: color.RGBA{G: 200, A: 60},
}

// Skyline plots the opacity spectrum of one window with the detected
// lines shaded and the selected line, if any, drawn in red.
func Skyline(spw int, tau []float64, records []skyline.Record, selected int) ([]byte, error) {
	pts := channelXYs(tau)
	if len(pts) == 0 {
		return nil, ErrNoData
	}
	lo, hi := yRange(pts)

	p := plot.New()
	p.Title.Text = fmt.Sprintf("spw %d skylines", spw)
	p.X.Label.Text = "Channel"
	p.Y.Label.Text = "Zenith opacity"
	p.Add(plotter.NewGrid())

	for i, r := range records {
		c := color.Color(color.RGBA{B: 255, A: 50})
		if i == selected {
			c = color.RGBA{R: 255, A: 80}
		}
		if err := shade(p, intervals.Interval{Start: float64(r.MinRange), End: float64(r.MaxRange)}, lo, hi, c); err != nil {
			return nil, err
		}
	}

	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, fmt.Errorf("failed to create opacity line: %w", err)
	}
	line.Color = black
	p.Add(line)
	p.Legend.Add("tau", line)

	return render(p, 800, 400)
}

// Metrics plots the decision metric of every candidate model with its
// error, marking the chosen one.
func Metrics(d *atmcorr.Decision) ([]byte, error) {
	var pts plotter.XYs
	var errs plotter.YErrors
	for _, c := range d.Metrics {
		if !c.Decision.Available() {
			continue
		}
		pts = append(pts, plotter.XY{X: float64(c.Index), Y: c.Decision.Value})
		e := c.Decision.Error
		if math.IsNaN(e) {
			e = 0
		}
		errs = append(errs, struct{ Low, High float64 }{e, e})
	}
	if len(pts) == 0 {
		return nil, ErrNoData
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("field %d model search (%s)", d.Field, d.DecisionMetric)
	p.X.Label.Text = "Model index"
	p.Y.Label.Text = string(d.DecisionMetric)
	p.Add(plotter.NewGrid())

	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric scatter: %w", err)
	}
	scatter.GlyphStyle.Color = blue
	scatter.GlyphStyle.Shape = draw.CircleGlyph{}
	p.Add(scatter)

	bars, err := plotter.NewYErrorBars(struct {
		plotter.XYs
		plotter.YErrors
	}{pts, errs})
	if err != nil {
		return nil, fmt.Errorf("failed to create error bars: %w", err)
	}
	bars.LineStyle.Color = gray
	p.Add(bars)

	if d.BestIndex >= 0 && d.BestIndex < len(d.Metrics) && d.Metrics[d.BestIndex].Decision.Available() {
		best, err := plotter.NewScatter(plotter.XYs{{X: float64(d.BestIndex), Y: d.Metrics[d.BestIndex].Decision.Value}})
		if err != nil {
			return nil, err
		}
		best.GlyphStyle.Color = red
		best.GlyphStyle.Shape = draw.CrossGlyph{}
		best.GlyphStyle.Radius = vg.Points(6)
		p.Add(best)
		p.Legend.Add(d.Best.String(), best)
	}
	p.Legend.Top = true

	return render(p, 800, 400)
}

// Contamination plots the residual of a report with the detection limits
// and the classified intervals.
func Contamination(r *tsyscontam.Report) ([]byte, error) {
	pts := channelXYs(r.Residual)
	if len(pts) == 0 {
		return nil, ErrNoData
	}
	lo, hi := yRange(pts)
	limit := r.NSigma * r.Sigma
	lo, hi = math.Min(lo, -limit), math.Max(hi, limit)

	p := plot.New()
	p.Title.Text = fmt.Sprintf("spw %d field %d Tsys residual (%s)", r.SPW, r.Field, r.Model)
	p.X.Label.Text = "Channel"
	p.Y.Label.Text = "Normalized source - bandpass"
	p.Add(plotter.NewGrid())

	for _, l := range tsyscontam.Labels {
		c, ok := labelColors[l]
		if !ok {
			c = color.Gray{Y: 200}
		}
		for _, iv := range r.Intervals[l] {
			if err := shade(p, iv, lo, hi, c); err != nil {
				return nil, err
			}
		}
	}

	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, fmt.Errorf("failed to create residual line: %w", err)
	}
	line.Color = black
	p.Add(line)

	if limit > 0 {
		n := float64(len(r.Residual) - 1)
		for _, y := range []float64{limit, -limit} {
			l, err := plotter.NewLine(plotter.XYs{{X: 0, Y: y}, {X: n, Y: y}})
			if err != nil {
				return nil, err
			}
			l.Color = red
			l.LineStyle.Dashes = []vg.Length{vg.Points(5), vg.Points(5)}
			p.Add(l)
		}
	}

	return render(p, 800, 400)
}

// Save writes a rendered plot to dir/name
func Save(dir, name string, png []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	return path, os.WriteFile(path, png, 0o644)
}

func shade(p *plot.Plot, iv intervals.Interval, lo, hi float64, c color.Color) error {
	poly, err := plotter.NewPolygon(plotter.XYs{
		{X: iv.Start - 0.5, Y: lo},
		{X: iv.End + 0.5, Y: lo},
		{X: iv.End + 0.5, Y: hi},
		{X: iv.Start - 0.5, Y: hi},
	})
	if err != nil {
		return fmt.Errorf("failed to shade %v: %w", iv, err)
	}
	poly.Color = c
	poly.LineStyle.Width = 0
	p.Add(poly)
	return nil
}

// channelXYs pairs finite values with their channel index
func channelXYs(y []float64) plotter.XYs {
	pts := make(plotter.XYs, 0, len(y))
	for i, v := range y {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			pts = append(pts, plotter.XY{X: float64(i), Y: v})
		}
	}
	return pts
}

func yRange(pts plotter.XYs) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, p := range pts {
		lo = math.Min(lo, p.Y)
		hi = math.Max(hi, p.Y)
	}
	if lo == hi {
		lo, hi = lo-1, hi+1
	}
	return lo, hi
}

func render(p *plot.Plot, w, h vg.Length) ([]byte, error) {
	writer, err := p.WriterTo(vg.Points(float64(w)), vg.Points(float64(h)), "png")
	if err != nil {
		return nil, fmt.Errorf("failed to create plot writer: %w", err)
	}
	buf := new(bytes.Buffer)
	if _, err := writer.WriteTo(buf); err != nil {
		return nil, fmt.Errorf("failed to write plot to buffer: %w", err)
	}
	return buf.Bytes(), nil
}
