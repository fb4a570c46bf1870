package database

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"fict-go/internal/fict"
	"fict-go/internal/model"
)

// stoppedClock keeps tests deterministic; testutil is not usable here because
// it imports this package.
type stoppedClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stoppedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *stoppedClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newStore(t *testing.T) (*SQLiteStore, *stoppedClock) {
	t.Helper()

	clock := &stoppedClock{t: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	store, err := NewSQLiteStore(":memory:", clock)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})

	if err := store.Migrate(); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return store, clock
}

func mustUser(t *testing.T, store *SQLiteStore, name, email string) *model.User {
	t.Helper()
	user, err := store.CreateUser(context.Background(), name, email)
	if err != nil {
		t.Fatalf("CreateUser(%s) error = %v", name, err)
	}
	return user
}

func TestCreateStoryDefaults(t *testing.T) {
	store, clock := newStore(t)
	ctx := context.Background()

	story, err := store.CreateStory(ctx, 6*time.Hour)
	if err != nil {
		t.Fatalf("CreateStory() error = %v", err)
	}

	if story.Title != nil {
		t.Errorf("Title = %q, want nil", *story.Title)
	}
	if story.Published || story.WorldReadable {
		t.Error("new story must be unpublished and private")
	}
	if story.RevisionCount != 0 {
		t.Errorf("RevisionCount = %d, want 0", story.RevisionCount)
	}
	if story.LockDuration != 6*time.Hour {
		t.Errorf("LockDuration = %v, want 6h", story.LockDuration)
	}
	if story.LockHolderID != nil || story.LockExpiration != nil {
		t.Error("new story must be unlocked")
	}
	if !story.CreationTime.Equal(clock.Now()) {
		t.Errorf("CreationTime = %v, want %v", story.CreationTime, clock.Now())
	}
}

func TestStoryByIDMissing(t *testing.T) {
	store, _ := newStore(t)

	story, err := store.StoryByID(context.Background(), 42)
	if err != nil {
		t.Fatalf("StoryByID() error = %v", err)
	}
	if story != nil {
		t.Errorf("StoryByID() = %+v, want nil", story)
	}
}

func TestSaveStoryLeavesLockFieldsAlone(t *testing.T) {
	store, clock := newStore(t)
	ctx := context.Background()

	user := mustUser(t, store, "alice", "alice@example.com")
	story, err := store.CreateStory(ctx, time.Hour)
	if err != nil {
		t.Fatalf("CreateStory() error = %v", err)
	}

	expiration := clock.Now().Add(time.Hour)
	err = store.Locked(ctx, func(tx fict.Tx) error {
		return tx.SetLock(ctx, story.ID, user.ID, expiration)
	})
	if err != nil {
		t.Fatalf("SetLock() error = %v", err)
	}

	title := "Night Shift"
	story.Title = &title
	story.Published = true
	publishTime := clock.Now()
	story.PublishTime = &publishTime
	if err := store.SaveStory(ctx, story); err != nil {
		t.Fatalf("SaveStory() error = %v", err)
	}

	got, err := store.StoryByID(ctx, story.ID)
	if err != nil {
		t.Fatalf("StoryByID() error = %v", err)
	}
	if got.Title == nil || *got.Title != title {
		t.Errorf("Title = %v, want %q", got.Title, title)
	}
	if !got.Published {
		t.Error("Published = false after save")
	}
	if got.PublishTime == nil || !got.PublishTime.Equal(publishTime) {
		t.Errorf("PublishTime = %v, want %v", got.PublishTime, publishTime)
	}
	if got.LockHolderID == nil || *got.LockHolderID != user.ID {
		t.Errorf("LockHolderID = %v, want %d", got.LockHolderID, user.ID)
	}
	if got.LockExpiration == nil || !got.LockExpiration.Equal(expiration) {
		t.Errorf("LockExpiration = %v, want %v", got.LockExpiration, expiration)
	}
}

func TestSaveStoryMissingRow(t *testing.T) {
	store, _ := newStore(t)

	err := store.SaveStory(context.Background(), &model.Story{ID: 99})
	if err == nil {
		t.Fatal("SaveStory() expected error for missing row")
	}
}

func TestReleaseLockIsConditional(t *testing.T) {
	store, clock := newStore(t)
	ctx := context.Background()

	alice := mustUser(t, store, "alice", "alice@example.com")
	bob := mustUser(t, store, "bob", "bob@example.com")
	story, err := store.CreateStory(ctx, time.Hour)
	if err != nil {
		t.Fatalf("CreateStory() error = %v", err)
	}

	err = store.Locked(ctx, func(tx fict.Tx) error {
		return tx.SetLock(ctx, story.ID, alice.ID, clock.Now().Add(time.Hour))
	})
	if err != nil {
		t.Fatalf("SetLock() error = %v", err)
	}

	// Wrong holder matches nothing.
	affected, err := store.ReleaseLock(ctx, story.ID, bob.ID)
	if err != nil {
		t.Fatalf("ReleaseLock(bob) error = %v", err)
	}
	if affected != 0 {
		t.Errorf("ReleaseLock(bob) affected = %d, want 0", affected)
	}

	affected, err = store.ReleaseLock(ctx, story.ID, alice.ID)
	if err != nil {
		t.Fatalf("ReleaseLock(alice) error = %v", err)
	}
	if affected != 1 {
		t.Errorf("ReleaseLock(alice) affected = %d, want 1", affected)
	}

	got, err := store.StoryByID(ctx, story.ID)
	if err != nil {
		t.Fatalf("StoryByID() error = %v", err)
	}
	if got.LockHolderID != nil || got.LockExpiration != nil {
		t.Error("lock fields still set after release")
	}
}

func TestUpsertAccess(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	user := mustUser(t, store, "alice", "alice@example.com")
	story, err := store.CreateStory(ctx, time.Hour)
	if err != nil {
		t.Fatalf("CreateStory() error = %v", err)
	}

	if err := store.UpsertAccess(ctx, story.ID, user.ID, fict.Reader); err != nil {
		t.Fatalf("UpsertAccess(Reader) error = %v", err)
	}
	if err := store.UpsertAccess(ctx, story.ID, user.ID, fict.Owner); err != nil {
		t.Fatalf("UpsertAccess(Owner) error = %v", err)
	}

	level, found, err := store.AccessGrant(ctx, story.ID, user.ID)
	if err != nil {
		t.Fatalf("AccessGrant() error = %v", err)
	}
	if !found || level != fict.Owner {
		t.Errorf("AccessGrant() = (%v, %v), want (Owner, true)", level, found)
	}

	if err := store.DeleteAccess(ctx, story.ID, user.ID); err != nil {
		t.Fatalf("DeleteAccess() error = %v", err)
	}
	if _, found, _ := store.AccessGrant(ctx, story.ID, user.ID); found {
		t.Error("AccessGrant() found a row after delete")
	}
}

func TestUpsertAttempt(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	user := mustUser(t, store, "alice", "alice@example.com")
	story, err := store.CreateStory(ctx, time.Hour)
	if err != nil {
		t.Fatalf("CreateStory() error = %v", err)
	}

	for _, revision := range []int64{0, 4} {
		if err := store.UpsertAttempt(ctx, story.ID, user.ID, revision); err != nil {
			t.Fatalf("UpsertAttempt(%d) error = %v", revision, err)
		}
	}

	revision, found, err := store.LastAttempt(ctx, story.ID, user.ID)
	if err != nil {
		t.Fatalf("LastAttempt() error = %v", err)
	}
	if !found || revision != 4 {
		t.Errorf("LastAttempt() = (%d, %v), want (4, true)", revision, found)
	}
}

func TestCreateSnippetAdvancesRevision(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	user := mustUser(t, store, "alice", "alice@example.com")
	story, err := store.CreateStory(ctx, time.Hour)
	if err != nil {
		t.Fatalf("CreateStory() error = %v", err)
	}

	for i, content := range []string{"first", "second", "third"} {
		snippet, err := store.CreateSnippet(ctx, story.ID, user.ID, content)
		if err != nil {
			t.Fatalf("CreateSnippet(%q) error = %v", content, err)
		}
		if snippet.Ordinal != int64(i+1) {
			t.Errorf("snippet %q ordinal = %d, want %d", content, snippet.Ordinal, i+1)
		}
	}

	got, err := store.StoryByID(ctx, story.ID)
	if err != nil {
		t.Fatalf("StoryByID() error = %v", err)
	}
	if got.RevisionCount != 3 {
		t.Errorf("RevisionCount = %d, want 3", got.RevisionCount)
	}

	recent, err := store.MostRecentSnippet(ctx, story.ID)
	if err != nil {
		t.Fatalf("MostRecentSnippet() error = %v", err)
	}
	if recent == nil || recent.Content != "third" {
		t.Errorf("MostRecentSnippet() = %+v, want content %q", recent, "third")
	}

	all, err := store.SnippetsByStory(ctx, story.ID)
	if err != nil {
		t.Fatalf("SnippetsByStory() error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("SnippetsByStory() returned %d snippets, want 3", len(all))
	}
	for i, sn := range all {
		if sn.Ordinal != int64(i+1) {
			t.Errorf("snippet %d ordinal = %d, want %d", i, sn.Ordinal, i+1)
		}
	}
}

func TestCreateSnippetMissingStory(t *testing.T) {
	store, _ := newStore(t)

	user := mustUser(t, store, "alice", "alice@example.com")
	if _, err := store.CreateSnippet(context.Background(), 99, user.ID, "orphan"); err == nil {
		t.Fatal("CreateSnippet() expected error for missing story")
	}
}

func TestMostRecentSnippetEmptyStory(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	story, err := store.CreateStory(ctx, time.Hour)
	if err != nil {
		t.Fatalf("CreateStory() error = %v", err)
	}

	snippet, err := store.MostRecentSnippet(ctx, story.ID)
	if err != nil {
		t.Fatalf("MostRecentSnippet() error = %v", err)
	}
	if snippet != nil {
		t.Errorf("MostRecentSnippet() = %+v, want nil", snippet)
	}
}

func TestLockedRollsBackOnError(t *testing.T) {
	store, clock := newStore(t)
	ctx := context.Background()

	user := mustUser(t, store, "alice", "alice@example.com")
	story, err := store.CreateStory(ctx, time.Hour)
	if err != nil {
		t.Fatalf("CreateStory() error = %v", err)
	}

	boom := errors.New("boom")
	err = store.Locked(ctx, func(tx fict.Tx) error {
		if err := tx.SetLock(ctx, story.ID, user.ID, clock.Now().Add(time.Hour)); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Locked() error = %v, want boom", err)
	}

	got, err := store.StoryByID(ctx, story.ID)
	if err != nil {
		t.Fatalf("StoryByID() error = %v", err)
	}
	if got.LockHolderID != nil {
		t.Error("SetLock survived a rolled-back transaction")
	}
}

func TestSessions(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	user := mustUser(t, store, "alice", "alice@example.com")
	if err := store.CreateSession(ctx, "tok-1", user.ID); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	got, err := store.SessionUser(ctx, "tok-1")
	if err != nil {
		t.Fatalf("SessionUser() error = %v", err)
	}
	if got == nil || got.ID != user.ID {
		t.Errorf("SessionUser() = %+v, want user %d", got, user.ID)
	}

	got, err = store.SessionUser(ctx, "missing")
	if err != nil {
		t.Fatalf("SessionUser(missing) error = %v", err)
	}
	if got != nil {
		t.Errorf("SessionUser(missing) = %+v, want nil", got)
	}
}

func TestUserByEmail(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	created := mustUser(t, store, "alice", "alice@example.com")

	got, err := store.UserByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("UserByEmail() error = %v", err)
	}
	if got == nil || got.ID != created.ID {
		t.Errorf("UserByEmail() = %+v, want user %d", got, created.ID)
	}

	got, err = store.UserByEmail(ctx, "nobody@example.com")
	if err != nil {
		t.Fatalf("UserByEmail(nobody) error = %v", err)
	}
	if got != nil {
		t.Errorf("UserByEmail(nobody) = %+v, want nil", got)
	}
}

func TestBackupTo(t *testing.T) {
	dir := t.TempDir()
	clock := &stoppedClock{t: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	store, err := NewSQLiteStore(filepath.Join(dir, "live.db"), clock)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	mustUser(t, store, "alice", "alice@example.com")

	dest := filepath.Join(dir, "backup.db")
	if err := store.BackupTo(dest); err != nil {
		t.Fatalf("BackupTo() error = %v", err)
	}

	info, err := os.Stat(dest)
	if err != nil {
		t.Fatalf("Stat(backup) error = %v", err)
	}
	if info.Size() == 0 {
		t.Error("backup file is empty")
	}

	restored, err := NewSQLiteStore(dest, clock)
	if err != nil {
		t.Fatalf("opening backup error = %v", err)
	}
	defer restored.Close()

	user, err := restored.UserByEmail(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("UserByEmail(backup) error = %v", err)
	}
	if user == nil {
		t.Error("backup is missing the user row")
	}
}
