package migrations

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", "file::memory:?_foreign_keys=on")
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func TestStatusBeforeMigration(t *testing.T) {
	db := openTestDB(t)

	if err := Status(db); err == nil {
		t.Fatal("Status() on an unmigrated database expected error")
	}
}

func TestUpThenStatus(t *testing.T) {
	db := openTestDB(t)

	if err := Up(db); err != nil {
		t.Fatalf("Up() error = %v", err)
	}
	if err := Status(db); err != nil {
		t.Errorf("Status() after Up() error = %v", err)
	}

	// Up is idempotent.
	if err := Up(db); err != nil {
		t.Errorf("second Up() error = %v", err)
	}
}

func TestUpCreatesExpectedTables(t *testing.T) {
	db := openTestDB(t)

	if err := Up(db); err != nil {
		t.Fatalf("Up() error = %v", err)
	}

	for _, table := range []string{"users", "sessions", "stories", "story_access", "contribution_attempts", "snippets"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing after migration: %v", table, err)
		}
	}
}
