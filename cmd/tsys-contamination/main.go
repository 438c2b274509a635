package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/chrissnell/atmcorr/internal/app"
	"github.com/chrissnell/atmcorr/internal/dataset"
	"github.com/chrissnell/atmcorr/internal/log"
)

const version = "1.0-" + runtime.GOOS + "/" + runtime.GOARCH

func main() {
	cfgFile := flag.String("config", "config.yaml", "Path to the YAML configuration (empty for defaults)")
	bundleDir := flag.String("dataset", "", "Path to the exported dataset directory")
	output := flag.String("output", "-", "Flag template destination ('-' for stdout)")
	debug := flag.Bool("debug", false, "Turn on debugging output")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("tsys-contamination %s\n", version)
		os.Exit(0)
	}

	if err := log.Init(*debug); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(*cfgFile, *bundleDir, *output); err != nil {
		log.Errorf("contamination detection failed: %v", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(cfgFile, bundleDir, output string) (err error) {
	if bundleDir == "" {
		return fmt.Errorf("-dataset is required")
	}
	cfg, err := app.LoadConfig(cfgFile)
	if err != nil {
		return err
	}
	logger := log.GetSugaredLogger()

	ctx, cancel := app.WithSignals(context.Background())
	defer cancel()

	bundle, err := dataset.Open(bundleDir)
	if err != nil {
		return err
	}
	defer bundle.Close()

	store, err := app.OpenStore(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	var w io.Writer = os.Stdout
	if output != "-" {
		f, ferr := os.Create(output)
		if ferr != nil {
			return fmt.Errorf("could not create flag template: %w", ferr)
		}
		defer func() {
			if cerr := f.Close(); err == nil {
				err = cerr
			}
		}()
		w = f
	}

	run, reports, err := app.New(cfg, store, logger).RunContamination(ctx, bundle, w)
	if err != nil {
		return err
	}
	log.Infof("stored %d contamination reports under run %s", len(reports), run.ID)
	return nil
}
