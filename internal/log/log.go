// Package log provides the process-wide zap logger used by the atmcorr programs.
package log

import (
	"fmt"
	"os"

	"go.uber.org/zap"
)

var log *zap.SugaredLogger
var baseLogger *zap.Logger

// Init initializes the package-level logger. Debug mode uses zap's
// development encoder so that per-candidate metric traces are readable.
func Init(debug bool) error {
	var zapLogger *zap.Logger
	var err error

	if debug {
		zapLogger, err = zap.NewDevelopment(zap.AddCallerSkip(1))
	} else {
		zapLogger, err = zap.NewProduction(zap.AddCallerSkip(1))
	}
	if err != nil {
		return fmt.Errorf("can't initialize zap logger: %w", err)
	}

	baseLogger = zapLogger
	log = zapLogger.Sugar()
	return nil
}

// GetZapLogger returns the base zap logger (GORM's logger bridge needs it)
func GetZapLogger() *zap.Logger {
	if baseLogger == nil {
		baseLogger, _ = zap.NewProduction(zap.AddCallerSkip(1))
		log = baseLogger.Sugar()
	}
	return baseLogger
}

// GetSugaredLogger returns the sugared logger handed to the engines. Its
// caller annotation points at the engine code, not at this package.
func GetSugaredLogger() *zap.SugaredLogger {
	return GetZapLogger().WithOptions(zap.AddCallerSkip(-1)).Sugar()
}

func sugared() *zap.SugaredLogger {
	GetZapLogger()
	return log
}

// Nop returns a logger that discards everything. Tests use it.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

// Sync flushes any buffered log entries
func Sync() {
	if log != nil {
		log.Sync()
	}
}

func Debugf(template string, args ...interface{}) {
	sugared().Debugf(template, args...)
}

func Info(args ...interface{}) {
	sugared().Info(args...)
}

func Infof(template string, args ...interface{}) {
	sugared().Infof(template, args...)
}

func Warnf(template string, args ...interface{}) {
	sugared().Warnf(template, args...)
}

func Errorf(template string, args ...interface{}) {
	sugared().Errorf(template, args...)
}

func Fatalf(template string, args ...interface{}) {
	sugared().Fatalf(template, args...)
	os.Exit(1)
}
