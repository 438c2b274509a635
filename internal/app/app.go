package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/chrissnell/atmcorr/internal/controllers/restserver"
	"github.com/chrissnell/atmcorr/internal/log"
	"github.com/chrissnell/atmcorr/internal/storage"
	"github.com/chrissnell/atmcorr/internal/storage/sqlite"
	"github.com/chrissnell/atmcorr/internal/storage/timescaledb"
	"github.com/chrissnell/atmcorr/pkg/config"
	"go.uber.org/zap"
)

// DefaultSQLitePath is used when the configuration names no result store
const DefaultSQLitePath = "atmcorr.db"

// App wires the configuration, the result store and the pipelines together
type App struct {
	cfg    *config.ConfigData
	store  storage.ResultStore
	logger *zap.SugaredLogger
}

// New creates a new application instance
func New(cfg *config.ConfigData, store storage.ResultStore, logger *zap.SugaredLogger) *App {
	return &App{
		cfg:    cfg,
		store:  store,
		logger: logger,
	}
}

// OpenStore opens the configured result store. TimescaleDB wins when both
// backends are configured; with neither, a SQLite file in the working
// directory is used.
func OpenStore(ctx context.Context, sc config.StorageData, logger *zap.SugaredLogger) (storage.ResultStore, error) {
	if sc.TimescaleDB != nil && sc.TimescaleDB.ConnectionString != "" {
		logger.Info("using TimescaleDB result store")
		s, err := timescaledb.New(ctx, sc.TimescaleDB.ConnectionString, logger)
		if err != nil {
			return nil, fmt.Errorf("could not open TimescaleDB store: %w", err)
		}
		return s, nil
	}

	path := DefaultSQLitePath
	if sc.SQLite != nil && sc.SQLite.Path != "" {
		path = sc.SQLite.Path
	}
	logger.Infof("using SQLite result store at %s", path)
	s, err := sqlite.New(ctx, path, logger)
	if err != nil {
		return nil, fmt.Errorf("could not open SQLite store: %w", err)
	}
	return s, nil
}

// Serve starts the REST server and blocks until shutdown
func (a *App) Serve(ctx context.Context) error {
	var wg sync.WaitGroup

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rc, err := restserver.NewController(ctx, &wg, a.cfg.REST, a.store, a.logger)
	if err != nil {
		return err
	}
	if err := rc.StartController(); err != nil {
		return err
	}

	log.Info("Application started successfully")

	// Set up signal handling
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	// Wait for shutdown signal
	select {
	case <-sigs:
		log.Info("shutdown signal received, initiating graceful shutdown...")
	case <-ctx.Done():
		log.Info("context cancelled, shutting down...")
	}

	// Cancel context to signal all goroutines to stop
	cancel()

	log.Info("waiting for all workers to terminate...")
	wg.Wait()
	log.Info("shutdown complete")

	return nil
}

// WithSignals returns a context cancelled on SIGINT or SIGTERM, for the
// batch programs.
func WithSignals(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
}

// LoadConfig reads the YAML configuration at path, or returns the defaults
// when path is empty.
func LoadConfig(path string) (*config.ConfigData, error) {
	if path == "" {
		return config.Default(), nil
	}
	filename, _ := filepath.Abs(path)
	cfgData, err := config.NewYAMLProvider(filename).LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("error reading config file. Did you pass the -config flag? Run with -h for help: %w", err)
	}
	return cfgData, nil
}
