// Package testing provides database, fixture and mock helpers shared by the
// symphony tests.
package testing

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/aristath/symphony/internal/database"

	_ "github.com/mattn/go-sqlite3"
)

// NewTestDB opens a migrated database through the production driver in a
// per-test temporary directory. It is closed when the test ends.
//
// Supported schema names are database.History and database.Artifacts.
func NewTestDB(t *testing.T, name string) *database.DB {
	t.Helper()

	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), name+".db"),
		Profile: database.ProfileStandard,
		Name:    name,
	})
	if err != nil {
		t.Fatalf("Failed to create test database %s: %v", name, err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("Warning: Failed to close test database %s: %v", name, err)
		}
	})

	if err := db.Migrate(); err != nil {
		t.Fatalf("Failed to migrate test database %s: %v", name, err)
	}
	return db
}

// NewRawTestDB opens a bare connection through the cgo sqlite3 driver with
// the named schema applied. Repository tests use it so the SQL is checked
// against a second SQLite build.
func NewRawTestDB(t *testing.T, name string) *sql.DB {
	t.Helper()

	conn, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), name+".db")+"?_foreign_keys=on")
	if err != nil {
		t.Fatalf("Failed to open test database %s: %v", name, err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	if err := database.ApplySchema(conn, name); err != nil {
		t.Fatalf("Failed to apply schema %s: %v", name, err)
	}
	return conn
}
