package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"runtime"

	"github.com/chrissnell/atmcorr/internal/app"
	"github.com/chrissnell/atmcorr/internal/log"
)

const version = "1.0-" + runtime.GOOS + "/" + runtime.GOARCH

func main() {
	cfgFile := flag.String("config", "config.yaml", "Path to the YAML configuration (empty for defaults)")
	debug := flag.Bool("debug", false, "Turn on debugging output")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("atmcorr-server %s\n", version)
		os.Exit(0)
	}

	// Set up logging
	if err := log.Init(*debug); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfgData, err := app.LoadConfig(*cfgFile)
	if err != nil {
		log.Errorf("Failed to load configuration: %v", err)
		os.Exit(1)
	}

	ctx := context.Background()
	store, err := app.OpenStore(ctx, cfgData.Storage, log.GetSugaredLogger())
	if err != nil {
		log.Errorf("Failed to open result store: %v", err)
		os.Exit(1)
	}
	defer store.Close()

	application := app.New(cfgData, store, log.GetSugaredLogger())
	if err := application.Serve(ctx); err != nil {
		log.Errorf("Application error: %v", err)
		os.Exit(1)
	}
}
