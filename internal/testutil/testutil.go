// Package testutil provides store fixtures shared by tests across packages.
package testutil

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"fict-go/internal/database"
	"fict-go/internal/model"
)

// NewTestStore creates a migrated in-memory store that closes with the test.
func NewTestStore(t *testing.T) *database.SQLiteStore {
	t.Helper()
	return openStore(t, ":memory:")
}

// NewFileTestStore creates a migrated store backed by a temporary file.
// File-backed stores support multiple connections, which in-memory stores do
// not, so concurrency tests need this variant.
func NewFileTestStore(t *testing.T) *database.SQLiteStore {
	t.Helper()
	return openStore(t, filepath.Join(t.TempDir(), "fict-test.db"))
}

func openStore(t *testing.T, path string) *database.SQLiteStore {
	t.Helper()

	store, err := database.NewSQLiteStore(path, nil)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})

	if err := store.Migrate(); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	return store
}

// MustCreateUser persists a user or fails the test.
func MustCreateUser(t *testing.T, store *database.SQLiteStore, name, email string) *model.User {
	t.Helper()

	user, err := store.CreateUser(context.Background(), name, email)
	if err != nil {
		t.Fatalf("failed to create user %s: %v", name, err)
	}
	return user
}

// FixedClock is a Clock that only moves when told to.
type FixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func NewFixedClock(t time.Time) *FixedClock {
	return &FixedClock{t: t}
}

func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Advance moves the clock forward by d.
func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}
