package fict

import (
	"context"
	"time"

	"fict-go/internal/model"
)

// Queries is the read surface shared by the plain store and an open lock
// transaction. Lookups that can miss return a found flag (or a nil record)
// instead of an error, so "no row" never needs a special error case.
type Queries interface {
	// StoryByID returns nil with no error when the story does not exist.
	StoryByID(ctx context.Context, id int64) (*model.Story, error)

	// UserByID returns nil with no error when the user does not exist.
	UserByID(ctx context.Context, id int64) (*model.User, error)

	// AccessGrant returns the stored grant for the pair. found is false when
	// no grant row exists, which is equivalent to NoAccess.
	AccessGrant(ctx context.Context, storyID, userID int64) (AccessLevel, bool, error)

	// LastAttempt returns the revision count recorded the last time the user
	// took the lock on the story. found is false when the user has never
	// taken it.
	LastAttempt(ctx context.Context, storyID, userID int64) (int64, bool, error)
}

// Tx is the store's view inside an exclusive lock transaction. Reads observe
// the lock-protected state; SetLock mutations commit only if the Locked
// callback returns nil.
type Tx interface {
	Queries

	// SetLock assigns the story's lock holder and expiration together.
	SetLock(ctx context.Context, storyID, holderID int64, expiration time.Time) error
}

// Store is the transactional record store the lock subsystem consumes. The
// implementation must guarantee that Locked callbacks against the same store
// are serialized: a caller inside Locked holds an exclusive write hold on the
// story records until its transaction commits or aborts, and an aborted
// transaction leaves every record unmodified.
type Store interface {
	Queries

	// Locked runs fn within an exclusive write transaction. Concurrent
	// callers block until the competing transaction ends. The transaction
	// commits iff fn returns nil; any error aborts it.
	Locked(ctx context.Context, fn func(tx Tx) error) error

	// CreateStory persists a new unlocked story at revision 0.
	CreateStory(ctx context.Context, lockDuration time.Duration) (*model.Story, error)

	// SaveStory persists every story field except LockHolderID and
	// LockExpiration, which only SetLock and ReleaseLock may touch.
	SaveStory(ctx context.Context, story *model.Story) error

	// ReleaseLock clears the lock fields only when holderID still holds the
	// lock, returning the number of rows affected.
	ReleaseLock(ctx context.Context, storyID, holderID int64) (int64, error)

	// UpsertAccess and DeleteAccess maintain the single grant row per
	// (story, user) pair. Both are idempotent.
	UpsertAccess(ctx context.Context, storyID, userID int64, level AccessLevel) error
	DeleteAccess(ctx context.Context, storyID, userID int64) error

	// UpsertAttempt records the revision a user observed when taking the
	// lock, one row per (story, user) pair. Idempotent.
	UpsertAttempt(ctx context.Context, storyID, userID, revision int64) error

	// CreateSnippet appends a snippet with the next ordinal and increments
	// the story's revision count, atomically.
	CreateSnippet(ctx context.Context, storyID, authorID int64, content string) (*model.Snippet, error)

	// MostRecentSnippet returns nil with no error for a story with no
	// snippets yet.
	MostRecentSnippet(ctx context.Context, storyID int64) (*model.Snippet, error)
	SnippetsByStory(ctx context.Context, storyID int64) ([]*model.Snippet, error)

	CreateUser(ctx context.Context, name, email string) (*model.User, error)
	UserByEmail(ctx context.Context, email string) (*model.User, error)

	CreateSession(ctx context.Context, token string, userID int64) error

	// SessionUser resolves an API token to its user. Returns nil with no
	// error for an unknown token.
	SessionUser(ctx context.Context, token string) (*model.User, error)

	Close() error
}
