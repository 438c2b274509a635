package migrate

import (
	"context"
	"database/sql"
	"testing"

	"github.com/chrissnell/atmcorr/internal/log"
	_ "modernc.org/sqlite"
)

var testMigrations = []Migration{
	{
		Version: 2,
		Name:    "add index",
		Up:      `CREATE INDEX things_name ON things (name)`,
		Down:    `DROP INDEX things_name`,
	},
	{
		Version: 1,
		Name:    "create things",
		Up:      `CREATE TABLE things (id INTEGER PRIMARY KEY, name TEXT)`,
		Down:    `DROP TABLE things`,
	},
}

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE name = ?`, name).Scan(&n); err != nil {
		t.Fatal(err)
	}
	return n > 0
}

func TestMigrateUpAndDown(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	m := NewMigrator(db, "", testMigrations, log.Nop())

	if m.Latest() != 2 {
		t.Fatalf("Latest() = %d, expected 2", m.Latest())
	}
	pending, err := m.Pending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 || pending[0].Version != 1 {
		t.Fatalf("pending = %+v", pending)
	}

	if err := m.MigrateUp(ctx); err != nil {
		t.Fatalf("MigrateUp() error: %v", err)
	}
	if v, _ := m.CurrentVersion(ctx); v != 2 {
		t.Errorf("version = %d, expected 2", v)
	}
	if !tableExists(t, db, "things") || !tableExists(t, db, "things_name") {
		t.Error("schema not applied")
	}

	// applying again is a no-op
	if err := m.MigrateUp(ctx); err != nil {
		t.Fatalf("second MigrateUp() error: %v", err)
	}

	if err := m.MigrateTo(ctx, 0); err != nil {
		t.Fatalf("MigrateTo(0) error: %v", err)
	}
	if v, _ := m.CurrentVersion(ctx); v != 0 {
		t.Errorf("version = %d, expected 0", v)
	}
	if tableExists(t, db, "things") {
		t.Error("things table survived the rollback")
	}
}

func TestFailedMigrationRollsBack(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	bad := append([]Migration{{Version: 3, Name: "broken", Up: `CREATE TABLE nope (`}}, testMigrations...)
	m := NewMigrator(db, "versions", bad, log.Nop())

	if err := m.MigrateUp(ctx); err == nil {
		t.Fatal("expected an error from the broken migration")
	}
	if v, _ := m.CurrentVersion(ctx); v != 2 {
		t.Errorf("version = %d, expected 2", v)
	}
}
