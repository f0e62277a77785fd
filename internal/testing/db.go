// Package testing provides shared test helpers for the rebalancer engine.
package testing

import (
	"os"
	"testing"

	"github.com/coinrebalancer/engine/internal/store/sqlite"
)

// NewTestDB creates a temp-file-backed, migrated SQLite database for
// repository tests. Returns the database and an idempotent cleanup func.
func NewTestDB(t *testing.T) (*sqlite.DB, func()) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "engine_test_*.db")
	if err != nil {
		t.Fatalf("failed to create temporary database file: %v", err)
	}
	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()

	db, err := sqlite.New(sqlite.Config{
		Path:    tmpPath,
		Profile: sqlite.ProfileStandard,
		Name:    "engine",
	})
	if err != nil {
		_ = os.Remove(tmpPath)
		t.Fatalf("failed to open test database: %v", err)
	}

	if err := db.Migrate(); err != nil {
		_ = db.Close()
		_ = os.Remove(tmpPath)
		t.Fatalf("failed to migrate test database: %v", err)
	}

	return db, func() {
		if err := db.Close(); err != nil {
			t.Logf("warning: failed to close test database: %v", err)
		}
		if err := os.Remove(tmpPath); err != nil {
			t.Logf("warning: failed to remove temporary database file %s: %v", tmpPath, err)
		}
	}
}
