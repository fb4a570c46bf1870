package fict

import (
	"context"
	"fmt"

	"fict-go/internal/model"
)

// AccessLevel is the level of access a user holds on a story.
type AccessLevel int

const (
	NoAccess AccessLevel = iota
	Reader
	Writer
	Owner
)

// DecodeAccessLevel converts an integer previously produced by Encode back
// into an AccessLevel.
func DecodeAccessLevel(code int64) (AccessLevel, error) {
	switch code {
	case 0:
		return NoAccess, nil
	case 1:
		return Reader, nil
	case 2:
		return Writer, nil
	case 3:
		return Owner, nil
	default:
		return NoAccess, fmt.Errorf("invalid encoded access level [%d]", code)
	}
}

// ParseAccessLevel converts an API-facing level name into an AccessLevel.
func ParseAccessLevel(name string) (AccessLevel, error) {
	switch name {
	case "none":
		return NoAccess, nil
	case "reader":
		return Reader, nil
	case "writer":
		return Writer, nil
	case "owner":
		return Owner, nil
	default:
		return NoAccess, fmt.Errorf("unknown access level %q", name)
	}
}

// Encode converts the level into an integer for storage.
func (l AccessLevel) Encode() int64 { return int64(l) }

func (l AccessLevel) String() string {
	switch l {
	case Reader:
		return "reader"
	case Writer:
		return "writer"
	case Owner:
		return "owner"
	default:
		return "none"
	}
}

// GrantsRead reports whether the level permits knowing the story exists and
// reading its snippets.
func (l AccessLevel) GrantsRead() bool { return l >= Reader }

// GrantsWrite reports whether the level permits contributing snippets.
func (l AccessLevel) GrantsWrite() bool { return l >= Writer }

// GrantsAdmin reports whether the level permits granting and revoking access,
// publishing, and retitling the story.
func (l AccessLevel) GrantsAdmin() bool { return l == Owner }

// UpgradeToRead returns a level that grants at least Reader access while
// preserving anything higher.
func (l AccessLevel) UpgradeToRead() AccessLevel {
	if l == NoAccess {
		return Reader
	}
	return l
}

// AccessResolver maps (story, user) pairs to access levels and maintains the
// grant table. It gates every other operation in the lock subsystem.
type AccessResolver struct {
	store Store
}

func NewAccessResolver(store Store) *AccessResolver {
	return &AccessResolver{store: store}
}

// AccessFor determines the effective level a user holds on a story. Reads go
// through q so the resolver observes lock-transaction state when consulted
// from inside one. A story that is both published and world readable grants
// at least Reader to everyone; explicit Writer or Owner grants are never
// downgraded.
func (r *AccessResolver) AccessFor(ctx context.Context, q Queries, story *model.Story, userID int64) (AccessLevel, error) {
	level, found, err := q.AccessGrant(ctx, story.ID, userID)
	if err != nil {
		return NoAccess, storageErr("access lookup", err)
	}
	if !found {
		level = NoAccess
	}
	if story.Published && story.WorldReadable {
		level = level.UpgradeToRead()
	}
	return level, nil
}

// Grant upserts a user's access level on a story. Granting NoAccess deletes
// the row instead of storing a sentinel, keeping "no row" and NoAccess
// interchangeable for every downstream query.
func (r *AccessResolver) Grant(ctx context.Context, storyID, userID int64, level AccessLevel) error {
	if level == NoAccess {
		if err := r.store.DeleteAccess(ctx, storyID, userID); err != nil {
			return storageErr("access revoke", err)
		}
		return nil
	}
	if err := r.store.UpsertAccess(ctx, storyID, userID, level); err != nil {
		return storageErr("access grant", err)
	}
	return nil
}
