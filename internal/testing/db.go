// Package testing provides testing utilities and helpers for the learning engine.
package testing

import (
	"path/filepath"
	"testing"

	"github.com/aristath/lessons/internal/database"
)

// NewTestDB creates a migrated SQLite database in a per-test temp directory.
// The database is closed automatically when the test ends.
//
// Supported schema names:
//   - "actions" - applies actions_schema.sql
//   - "learning" - applies learning_schema.sql
//   - Unknown names - creates empty database (no schema applied)
func NewTestDB(t *testing.T, name string) *database.DB {
	t.Helper()

	profile := database.ProfileStandard
	if name == database.NameActions {
		profile = database.ProfileLedger
	}

	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), name+".db"),
		Profile: profile,
		Name:    name,
	})
	if err != nil {
		t.Fatalf("Failed to create test database %s: %v", name, err)
	}

	if err := db.Migrate(); err != nil {
		_ = db.Close()
		t.Fatalf("Failed to migrate test database %s: %v", name, err)
	}

	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("Warning: Failed to close test database %s: %v", name, err)
		}
	})

	return db
}
