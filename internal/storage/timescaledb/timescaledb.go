// Package timescaledb is a ResultStore on a shared PostgreSQL/TimescaleDB
// instance, for sites that already run one.
package timescaledb

import (
	"context"
	"errors"
	"fmt"

	"github.com/chrissnell/atmcorr/internal/atmcorr"
	"github.com/chrissnell/atmcorr/internal/database"
	"github.com/chrissnell/atmcorr/internal/storage"
	"github.com/chrissnell/atmcorr/internal/tsyscontam"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Storage holds the connection for a TimescaleDB result store
type Storage struct {
	TimescaleDBConn *gorm.DB
	logger          *zap.SugaredLogger
}

var _ storage.ResultStore = (*Storage)(nil)

// New connects and creates the result tables if they are missing
func New(ctx context.Context, connectionString string, logger *zap.SugaredLogger) (*Storage, error) {
	conn, err := database.CreateConnection(connectionString)
	if err != nil {
		return nil, err
	}

	logger.Info("creating result tables...")
	for _, stmt := range createTablesSQL {
		if err := conn.WithContext(ctx).Exec(stmt).Error; err != nil {
			return nil, fmt.Errorf("could not create result tables: %w", err)
		}
	}
	return &Storage{TimescaleDBConn: conn, logger: logger}, nil
}

func (t *Storage) Ping(ctx context.Context) error {
	db, err := t.TimescaleDBConn.DB()
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}

func (t *Storage) Close() error {
	db, err := t.TimescaleDBConn.DB()
	if err != nil {
		return err
	}
	return db.Close()
}

func (t *Storage) CreateRun(ctx context.Context, kind storage.Kind, dataset string) (storage.Run, error) {
	run := storage.NewRun(kind, dataset)
	if err := t.TimescaleDBConn.WithContext(ctx).Create(runRecord(run)).Error; err != nil {
		return storage.Run{}, fmt.Errorf("could not store run: %w", err)
	}
	return run, nil
}

func (t *Storage) Runs(ctx context.Context) ([]storage.Run, error) {
	var records []database.RunRecord
	if err := t.TimescaleDBConn.WithContext(ctx).Order("created_at, id").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("error querying runs: %w", err)
	}
	runs := make([]storage.Run, 0, len(records))
	for _, r := range records {
		run, err := fromRunRecord(r)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

func (t *Storage) SaveDecision(ctx context.Context, run uuid.UUID, d *atmcorr.Decision) error {
	payload, err := storage.EncodeDecision(d)
	if err != nil {
		return err
	}
	return t.TimescaleDBConn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seq, err := nextSeq(tx, run, database.DecisionRecord{}.TableName())
		if err != nil {
			return err
		}
		return tx.Create(&database.DecisionRecord{
			RunID:     run.String(),
			Seq:       seq,
			Field:     d.Field,
			FitStatus: string(d.FitStatus),
			Payload:   payload,
		}).Error
	})
}

func (t *Storage) SaveReport(ctx context.Context, run uuid.UUID, r *tsyscontam.Report) error {
	payload, err := storage.EncodeReport(r)
	if err != nil {
		return err
	}
	return t.TimescaleDBConn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seq, err := nextSeq(tx, run, database.ReportRecord{}.TableName())
		if err != nil {
			return err
		}
		return tx.Create(&database.ReportRecord{
			RunID:   run.String(),
			Seq:     seq,
			SPW:     r.SPW,
			Field:   r.Field,
			Payload: payload,
		}).Error
	})
}

func (t *Storage) Decisions(ctx context.Context, run uuid.UUID) ([]*atmcorr.Decision, error) {
	db := t.TimescaleDBConn.WithContext(ctx)
	if err := checkRun(db, run); err != nil {
		return nil, err
	}
	var records []database.DecisionRecord
	if err := db.Where("run_id = ?", run.String()).Order("seq").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("error querying decisions for run %s: %w", run, err)
	}
	out := make([]*atmcorr.Decision, 0, len(records))
	for _, r := range records {
		d, err := storage.DecodeDecision(r.Payload)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (t *Storage) Reports(ctx context.Context, run uuid.UUID) ([]*tsyscontam.Report, error) {
	db := t.TimescaleDBConn.WithContext(ctx)
	if err := checkRun(db, run); err != nil {
		return nil, err
	}
	var records []database.ReportRecord
	if err := db.Where("run_id = ?", run.String()).Order("seq").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("error querying reports for run %s: %w", run, err)
	}
	out := make([]*tsyscontam.Report, 0, len(records))
	for _, r := range records {
		rep, err := storage.DecodeReport(r.Payload)
		if err != nil {
			return nil, err
		}
		out = append(out, rep)
	}
	return out, nil
}

// nextSeq returns the next sequence number of run in table. The caller
// holds a transaction.
func nextSeq(tx *gorm.DB, run uuid.UUID, table string) (int, error) {
	if err := checkRun(tx, run); err != nil {
		return 0, err
	}
	var seq int
	err := tx.Table(table).Select("COALESCE(MAX(seq), -1) + 1").Where("run_id = ?", run.String()).Scan(&seq).Error
	if err != nil {
		return 0, fmt.Errorf("error reading sequence for run %s: %w", run, err)
	}
	return seq, nil
}

func checkRun(db *gorm.DB, run uuid.UUID) error {
	var r database.RunRecord
	err := db.Where("id = ?", run.String()).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", storage.ErrRunNotFound, run)
	}
	return err
}

func runRecord(run storage.Run) *database.RunRecord {
	return &database.RunRecord{
		ID:        run.ID.String(),
		Kind:      string(run.Kind),
		Dataset:   run.Dataset,
		CreatedAt: run.Created,
	}
}

func fromRunRecord(r database.RunRecord) (storage.Run, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return storage.Run{}, fmt.Errorf("run %q: %w", r.ID, err)
	}
	return storage.Run{ID: id, Kind: storage.Kind(r.Kind), Dataset: r.Dataset, Created: r.CreatedAt.UTC()}, nil
}
