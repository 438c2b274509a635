// Package sqlite is a single-file ResultStore for local pipeline runs.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/chrissnell/atmcorr/internal/atmcorr"
	"github.com/chrissnell/atmcorr/internal/storage"
	"github.com/chrissnell/atmcorr/internal/tsyscontam"
	"github.com/chrissnell/atmcorr/pkg/migrate"
	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

var migrations = []migrate.Migration{
	{
		Version: 1,
		Name:    "create runs",
		Up: `CREATE TABLE IF NOT EXISTS runs (
			id         TEXT PRIMARY KEY,
			kind       TEXT NOT NULL,
			dataset    TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		Down: `DROP TABLE runs`,
	},
	{
		Version: 2,
		Name:    "create decisions",
		Up: `CREATE TABLE IF NOT EXISTS decisions (
			run_id     TEXT NOT NULL REFERENCES runs(id),
			seq        INTEGER NOT NULL,
			field      INTEGER NOT NULL,
			fit_status TEXT NOT NULL,
			payload    BLOB NOT NULL,
			PRIMARY KEY (run_id, seq)
		)`,
		Down: `DROP TABLE decisions`,
	},
	{
		Version: 3,
		Name:    "create reports",
		Up: `CREATE TABLE IF NOT EXISTS reports (
			run_id  TEXT NOT NULL REFERENCES runs(id),
			seq     INTEGER NOT NULL,
			spw     INTEGER NOT NULL,
			field   INTEGER NOT NULL,
			payload BLOB NOT NULL,
			PRIMARY KEY (run_id, seq)
		)`,
		Down: `DROP TABLE reports`,
	},
	{
		Version: 4,
		Name:    "index reports by window",
		Up:      `CREATE INDEX IF NOT EXISTS reports_run_spw ON reports (run_id, spw)`,
		Down:    `DROP INDEX reports_run_spw`,
	},
}

// Store is a ResultStore backed by SQLite
type Store struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

var _ storage.ResultStore = (*Store)(nil)

// New opens (creating if needed) the database at path. ":memory:" gives a
// private in-memory database.
func New(ctx context.Context, path string, logger *zap.SugaredLogger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	// SQLite serializes writers anyway, and an in-memory database only
	// exists on its own connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}
	if err := migrate.NewMigrator(db, "", migrations, logger).MigrateUp(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	logger.Debugf("opened result store %s", path)
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateRun(ctx context.Context, kind storage.Kind, dataset string) (storage.Run, error) {
	run := storage.NewRun(kind, dataset)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, kind, dataset, created_at) VALUES (?, ?, ?, ?)`,
		run.ID.String(), string(run.Kind), run.Dataset, run.Created.UnixNano())
	if err != nil {
		return storage.Run{}, fmt.Errorf("failed to insert run: %w", err)
	}
	return run, nil
}

func (s *Store) Runs(ctx context.Context) ([]storage.Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, kind, dataset, created_at FROM runs ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []storage.Run
	for rows.Next() {
		var (
			id, kind, dataset string
			created           int64
		)
		if err := rows.Scan(&id, &kind, &dataset, &created); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runID, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("run %q: %w", id, err)
		}
		runs = append(runs, storage.Run{
			ID:      runID,
			Kind:    storage.Kind(kind),
			Dataset: dataset,
			Created: time.Unix(0, created).UTC(),
		})
	}
	return runs, rows.Err()
}

func (s *Store) SaveDecision(ctx context.Context, run uuid.UUID, d *atmcorr.Decision) error {
	payload, err := storage.EncodeDecision(d)
	if err != nil {
		return err
	}
	return s.insert(ctx, run,
		`INSERT INTO decisions (run_id, seq, field, fit_status, payload)
		 SELECT ?, COALESCE(MAX(seq), -1) + 1, ?, ?, ? FROM decisions WHERE run_id = ?`,
		run.String(), d.Field, string(d.FitStatus), payload, run.String())
}

func (s *Store) SaveReport(ctx context.Context, run uuid.UUID, r *tsyscontam.Report) error {
	payload, err := storage.EncodeReport(r)
	if err != nil {
		return err
	}
	return s.insert(ctx, run,
		`INSERT INTO reports (run_id, seq, spw, field, payload)
		 SELECT ?, COALESCE(MAX(seq), -1) + 1, ?, ?, ? FROM reports WHERE run_id = ?`,
		run.String(), r.SPW, r.Field, payload, run.String())
}

func (s *Store) insert(ctx context.Context, run uuid.UUID, query string, args ...any) error {
	if err := s.checkRun(ctx, run); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to store result for run %s: %w", run, err)
	}
	return nil
}

func (s *Store) Decisions(ctx context.Context, run uuid.UUID) ([]*atmcorr.Decision, error) {
	payloads, err := s.payloads(ctx, run, `SELECT payload FROM decisions WHERE run_id = ? ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	out := make([]*atmcorr.Decision, 0, len(payloads))
	for _, p := range payloads {
		d, err := storage.DecodeDecision(p)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *Store) Reports(ctx context.Context, run uuid.UUID) ([]*tsyscontam.Report, error) {
	payloads, err := s.payloads(ctx, run, `SELECT payload FROM reports WHERE run_id = ? ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	out := make([]*tsyscontam.Report, 0, len(payloads))
	for _, p := range payloads {
		r, err := storage.DecodeReport(p)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *Store) payloads(ctx context.Context, run uuid.UUID, query string) ([][]byte, error) {
	if err := s.checkRun(ctx, run); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, run.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query results for run %s: %w", run, err)
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var p []byte
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan result row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) checkRun(ctx context.Context, run uuid.UUID) error {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE id = ?`, run.String()).Scan(&n)
	if err != nil {
		return fmt.Errorf("failed to look up run %s: %w", run, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", storage.ErrRunNotFound, run)
	}
	return nil
}
