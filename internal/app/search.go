package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/chrissnell/atmcorr/internal/atmcorr"
	"github.com/chrissnell/atmcorr/internal/dataset"
	"github.com/chrissnell/atmcorr/internal/plots"
	"github.com/chrissnell/atmcorr/internal/skyline"
	"github.com/chrissnell/atmcorr/internal/storage"
)

// RunModelSearch searches the model grid for every science field of the
// dataset and stores one decision per field under a new run.
func (a *App) RunModelSearch(ctx context.Context, r dataset.Reader, corrector atmcorr.Corrector) (storage.Run, []*atmcorr.Decision, error) {
	if !r.HasTable(dataset.TableCal) {
		return storage.Run{}, nil, fmt.Errorf("%w: %s", dataset.ErrNoTable, dataset.TableCal)
	}
	fields := r.Fields(dataset.IntentScience)
	if len(fields) == 0 {
		return storage.Run{}, nil, fmt.Errorf("dataset %s has no science fields", r.Name())
	}

	opts, err := a.cfg.EngineOptions()
	if err != nil {
		return storage.Run{}, nil, err
	}
	engine, err := atmcorr.NewEngine(opts, corrector, r.Gains(), a.logger)
	if err != nil {
		return storage.Run{}, nil, err
	}

	run, err := a.store.CreateRun(ctx, storage.KindModelSearch, r.Name())
	if err != nil {
		return storage.Run{}, nil, fmt.Errorf("could not create run: %w", err)
	}
	a.logger.Infof("model search run %s: %d fields, %d candidate models", run.ID, len(fields), len(engine.Models()))

	var decisions []*atmcorr.Decision
	for _, f := range fields {
		setups := a.setups(r, f.ID)
		if len(setups) == 0 {
			a.logger.Warnf("field %d (%s): no usable spectral windows, skipping", f.ID, f.Name)
			continue
		}

		d, err := engine.Search(ctx, atmcorr.SearchRequest{Dataset: r.Name(), Field: f.ID, SPWs: setups})
		if err != nil {
			return run, decisions, err
		}
		if err := a.store.SaveDecision(ctx, run.ID, d); err != nil {
			return run, decisions, fmt.Errorf("could not store decision for field %d: %w", f.ID, err)
		}
		decisions = append(decisions, d)
		a.logger.Debugf("field %d: decision stored for %v", f.ID, d.Keys())

		if a.cfg.Plots.Dir != "" {
			a.plotSearch(f.ID, setups, d, opts.Skyline)
		}
	}
	return run, decisions, nil
}

// setups assembles every window of one field, skipping the ones the
// dataset cannot describe.
func (a *App) setups(r dataset.Reader, field int) []atmcorr.SPWSetup {
	var out []atmcorr.SPWSetup
	for _, spw := range r.SPWs() {
		s, err := r.Setup(field, spw)
		if err != nil {
			a.logger.Warnf("field %d spw %d: %v", field, spw, err)
			continue
		}
		out = append(out, s)
	}
	return out
}

// plotSearch writes the skyline and metric plots of one field. Plot
// failures are logged, never fatal.
func (a *App) plotSearch(field int, setups []atmcorr.SPWSetup, d *atmcorr.Decision, so skyline.Options) {
	selected := map[int]int{}
	for _, s := range d.LineIDs {
		selected[s.SPW] = s.Index
	}

	for _, s := range setups {
		idx, ok := selected[s.SPW]
		if !ok {
			idx = -1
		}
		png, err := plots.Skyline(s.SPW, s.Tau, skyline.Detect(s.Tau, s.Freq, so), idx)
		a.savePlot(fmt.Sprintf("field%d_spw%d_skylines.png", field, s.SPW), png, err)
	}

	png, err := plots.Metrics(d)
	a.savePlot(fmt.Sprintf("field%d_metrics.png", field), png, err)
}

func (a *App) savePlot(name string, png []byte, err error) {
	if errors.Is(err, plots.ErrNoData) {
		a.logger.Debugf("%s: nothing to plot", name)
		return
	}
	if err != nil {
		a.logger.Warnf("could not render %s: %v", name, err)
		return
	}
	path, err := plots.Save(a.cfg.Plots.Dir, name, png)
	if err != nil {
		a.logger.Warnf("could not save %s: %v", name, err)
		return
	}
	a.logger.Debugf("wrote %s", path)
}
