// Package migrate applies versioned schema migrations to a SQL database.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// Migration represents a single database migration
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

// Migrator handles the execution of migrations
type Migrator struct {
	db         *sql.DB
	table      string
	migrations []Migration
	logger     *zap.SugaredLogger
}

// NewMigrator creates a new migrator instance. The applied version is kept
// in table, "schema_migrations" when empty.
func NewMigrator(db *sql.DB, table string, migrations []Migration, logger *zap.SugaredLogger) *Migrator {
	if table == "" {
		table = "schema_migrations"
	}
	sorted := append([]Migration(nil), migrations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })
	return &Migrator{
		db:         db,
		table:      table,
		migrations: sorted,
		logger:     logger,
	}
}

// Latest returns the highest known version, 0 without migrations
func (m *Migrator) Latest() int {
	if len(m.migrations) == 0 {
		return 0
	}
	return m.migrations[len(m.migrations)-1].Version
}

// MigrateUp runs all pending migrations up to the latest version
func (m *Migrator) MigrateUp(ctx context.Context) error {
	return m.MigrateTo(ctx, m.Latest())
}

// MigrateTo runs migrations up or down to reach a specific version
func (m *Migrator) MigrateTo(ctx context.Context, target int) error {
	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return err
	}

	if target < current {
		for i := len(m.migrations) - 1; i >= 0; i-- {
			mig := m.migrations[i]
			if mig.Version > target && mig.Version <= current {
				if err := m.execute(ctx, mig, false); err != nil {
					return fmt.Errorf("failed to rollback migration %d: %w", mig.Version, err)
				}
			}
		}
		return nil
	}

	for _, mig := range m.migrations {
		if mig.Version > current && mig.Version <= target {
			if err := m.execute(ctx, mig, true); err != nil {
				return fmt.Errorf("failed to apply migration %d: %w", mig.Version, err)
			}
		}
	}
	return nil
}

// CurrentVersion returns the applied version, creating the version table
// on first use
func (m *Migrator) CurrentVersion(ctx context.Context) (int, error) {
	if _, err := m.db.ExecContext(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (version INTEGER NOT NULL)`, m.table)); err != nil {
		return 0, fmt.Errorf("failed to create migration table: %w", err)
	}
	var v sql.NullInt64
	if err := m.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT MAX(version) FROM %s`, m.table)).Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to get current version: %w", err)
	}
	return int(v.Int64), nil
}

// Pending returns migrations that haven't been applied yet
func (m *Migrator) Pending(ctx context.Context) ([]Migration, error) {
	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return nil, err
	}
	var pending []Migration
	for _, mig := range m.migrations {
		if mig.Version > current {
			pending = append(pending, mig)
		}
	}
	return pending, nil
}

// execute runs a single migration up or down in one transaction
func (m *Migrator) execute(ctx context.Context, mig Migration, up bool) error {
	stmt, direction, version := mig.Up, "up", mig.Version
	if !up {
		stmt, direction, version = mig.Down, "down", mig.Version-1
	}
	if stmt == "" {
		return fmt.Errorf("migration %d has no %s SQL", mig.Version, direction)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, m.table)); err != nil {
		return fmt.Errorf("failed to update migration version: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (version) VALUES (?)`, m.table), version); err != nil {
		return fmt.Errorf("failed to update migration version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration transaction: %w", err)
	}

	m.logger.Infof("applied migration %d (%s) %s", mig.Version, mig.Name, direction)
	return nil
}
