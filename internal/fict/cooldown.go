package fict

import "context"

// CooldownTracker records, per (story, user), the story revision the user
// observed when they last took the lock, and decides whether a new
// acquisition keeps turn order fair.
type CooldownTracker struct {
	store Store
}

func NewCooldownTracker(store Store) *CooldownTracker {
	return &CooldownTracker{store: store}
}

// MostRecentAttempt reads the user's last recorded revision for the story
// through q, which may be an open lock transaction.
func (t *CooldownTracker) MostRecentAttempt(ctx context.Context, q Queries, storyID, userID int64) (int64, bool, error) {
	attempt, found, err := q.LastAttempt(ctx, storyID, userID)
	if err != nil {
		return 0, false, storageErr("attempt lookup", err)
	}
	return attempt, found, nil
}

// Permits reports whether a user whose last recorded attempt saw revision
// attempt may take the lock on a story currently at revision current.
//
// Permitted when the user has never taken the lock, when nothing has been
// contributed since their attempt (re-acquiring or renewing before writing),
// or when at least one other user has contributed in between. The remaining
// case, attempt+1 == current, means the applicant's own snippet is the only
// one since their last turn: they must wait for someone else.
func (t *CooldownTracker) Permits(attempt int64, hasAttempt bool, current int64) bool {
	if !hasAttempt {
		return true
	}
	return attempt == current || attempt+2 <= current
}

// Record upserts the user's attempt row with the revision observed at
// acquisition time. Idempotent, so it is safe to retry.
func (t *CooldownTracker) Record(ctx context.Context, storyID, userID, revision int64) error {
	if err := t.store.UpsertAttempt(ctx, storyID, userID, revision); err != nil {
		return storageErr("attempt record", err)
	}
	return nil
}
