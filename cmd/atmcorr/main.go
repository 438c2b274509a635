package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"runtime"

	"github.com/chrissnell/atmcorr/internal/app"
	"github.com/chrissnell/atmcorr/internal/corrector"
	"github.com/chrissnell/atmcorr/internal/dataset"
	"github.com/chrissnell/atmcorr/internal/log"
)

const version = "1.0-" + runtime.GOOS + "/" + runtime.GOARCH

func main() {
	cfgFile := flag.String("config", "config.yaml", "Path to the YAML configuration (empty for defaults)")
	bundleDir := flag.String("dataset", "", "Path to the exported dataset directory")
	debug := flag.Bool("debug", false, "Turn on debugging output")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("atmcorr %s\n", version)
		os.Exit(0)
	}

	if err := log.Init(*debug); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(*cfgFile, *bundleDir); err != nil {
		log.Errorf("model search failed: %v", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(cfgFile, bundleDir string) error {
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

	corr, err := corrector.New(corrector.Options{
		Command: cfg.Corrector.Command,
		Args:    cfg.Corrector.Args,
		Timeout: cfg.Corrector.Timeout,
	}, logger)
	if err != nil {
		return err
	}

	store, err := app.OpenStore(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	run, decisions, err := app.New(cfg, store, logger).RunModelSearch(ctx, bundle, corr)
	if err != nil {
		return err
	}
	for _, d := range decisions {
		log.Infof("field %d: %s (%s)", d.Field, d.Best, d.FitStatus)
	}
	log.Infof("stored %d decisions under run %s", len(decisions), run.ID)
	return nil
}
