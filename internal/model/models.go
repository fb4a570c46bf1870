package model

import "time"

// Story is an ordered sequence of snippets contributed by many users. The
// lock fields gate who may contribute the next snippet: LockHolderID and
// LockExpiration are always set or cleared together.
type Story struct {
	ID             int64
	Title          *string // nil until an owner names the story
	Published      bool
	WorldReadable  bool
	LockDuration   time.Duration
	RevisionCount  int64 // incremented once per accepted snippet
	CreationTime   time.Time
	UpdateTime     time.Time
	PublishTime    *time.Time
	LockHolderID   *int64
	LockExpiration *time.Time
}

// User is a participant in the collaborative storytelling process. Identity
// negotiation happens outside this service; the core only consumes the ID.
type User struct {
	ID    int64
	Name  string
	Email string
}

// Session maps an opaque API token to a user.
type Session struct {
	Token        string // UUID
	UserID       int64
	CreationTime time.Time
}

// Snippet is a single accepted contribution to a story. Ordinal orders
// snippets within their story, starting at 1.
type Snippet struct {
	ID           int64
	StoryID      int64
	AuthorID     int64
	Ordinal      int64
	CreationTime time.Time
	Content      string
}
