// Package database opens PostgreSQL/TimescaleDB connections and defines the
// table models shared by the result store.
package database

import (
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/chrissnell/atmcorr/internal/log"
	"go.uber.org/zap"
)

// NewGormLogger routes gorm's SQL logging through the process zap logger
func NewGormLogger() logger.Interface {
	return logger.New(
		zap.NewStdLog(log.GetZapLogger()),
		logger.Config{
			SlowThreshold:             time.Second, // Slow SQL threshold
			LogLevel:                  logger.Warn, // Log level
			IgnoreRecordNotFoundError: true,        // Ignore ErrRecordNotFound error for logger
			Colorful:                  true,
		},
	)
}

// CreateConnection is a helper function to create a database connection with standard GORM configuration
func CreateConnection(connectionString string) (*gorm.DB, error) {
	log.Info("connecting to TimescaleDB...")
	db, err := gorm.Open(postgres.Open(connectionString), &gorm.Config{Logger: NewGormLogger()})
	if err != nil {
		log.Warnf("warning: unable to create a TimescaleDB connection: %v", err)
		return nil, err
	}
	return db, nil
}
