package app

import (
	"context"
	"fmt"
	"io"

	"github.com/chrissnell/atmcorr/internal/dataset"
	"github.com/chrissnell/atmcorr/internal/plots"
	"github.com/chrissnell/atmcorr/internal/storage"
	"github.com/chrissnell/atmcorr/internal/tsyscontam"
)

// RunContamination classifies the Tsys spectra of every (spw, science
// field) pair, stores the reports under a new run and writes the flag
// template to w when w is non-nil.
func (a *App) RunContamination(ctx context.Context, r dataset.Reader, w io.Writer) (storage.Run, []*tsyscontam.Report, error) {
	if !r.HasTable(dataset.TableCal) {
		return storage.Run{}, nil, fmt.Errorf("%w: %s", dataset.ErrNoTable, dataset.TableCal)
	}
	fields := r.Fields(dataset.IntentScience)
	if len(fields) == 0 {
		return storage.Run{}, nil, fmt.Errorf("dataset %s has no science fields", r.Name())
	}

	classifier := tsyscontam.NewClassifier(a.cfg.ClassifierOptions(), a.logger)
	run, err := a.store.CreateRun(ctx, storage.KindContamination, r.Name())
	if err != nil {
		return storage.Run{}, nil, fmt.Errorf("could not create run: %w", err)
	}

	var reports []*tsyscontam.Report
	for _, spw := range r.SPWs() {
		for _, f := range fields {
			if err := ctx.Err(); err != nil {
				return run, reports, err
			}

			in, err := r.TsysInput(f.ID, spw)
			if err != nil {
				a.logger.Warnf("spw %d field %d: %v", spw, f.ID, err)
				continue
			}
			report, err := classifier.Detect(in)
			if err != nil {
				a.logger.Warnf("spw %d field %d: %v", spw, f.ID, err)
				continue
			}
			if err := a.store.SaveReport(ctx, run.ID, report); err != nil {
				return run, reports, fmt.Errorf("could not store report for spw %d field %d: %w", spw, f.ID, err)
			}
			reports = append(reports, report)

			if c := report.Contamination(); !c.Empty() {
				a.logger.Infof("spw %d field %d: contaminated channels %v", spw, f.ID, c)
			}
			if a.cfg.Plots.Dir != "" {
				png, err := plots.Contamination(report)
				a.savePlot(fmt.Sprintf("spw%d_field%d_tsys.png", spw, f.ID), png, err)
			}
		}
	}

	if w != nil {
		if err := tsyscontam.WriteFlagTemplate(w, reports); err != nil {
			return run, reports, fmt.Errorf("could not write flag template: %w", err)
		}
	}
	return run, reports, nil
}
