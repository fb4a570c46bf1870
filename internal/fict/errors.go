package fict

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the client-actionable lock protocol outcomes. Callers
// are expected to retry ErrCooldown and ErrUnlocked after a delay; the rest
// are terminal for the request that produced them.
var (
	// ErrNotFound covers both a missing story and a caller without write
	// access. The two are intentionally indistinguishable so unauthorized
	// callers cannot probe for story existence.
	ErrNotFound = errors.New("story not found")

	// ErrUnlocked is returned by a no-acquire check against a story that
	// nobody currently holds.
	ErrUnlocked = errors.New("story is not locked")

	// ErrCooldown means the applicant's own snippet is the most recent
	// contribution and another user must write before they can lock again.
	ErrCooldown = errors.New("another user must contribute first")

	// ErrReleaseFailed means a conditional release matched no row: the
	// caller's assumption about holding the lock was already false.
	ErrReleaseFailed = errors.New("lock is no longer held")
)

// AlreadyLockedError reports a valid competing lock held by another user.
type AlreadyLockedError struct {
	Holder     string
	Expiration time.Time
}

func (e *AlreadyLockedError) Error() string {
	return fmt.Sprintf("story is locked by %s until %s", e.Holder, e.Expiration.Format(time.RFC1123Z))
}

// StorageError wraps a fault from the transactional store. The HTTP layer
// surfaces these as server-side failures rather than client conditions.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}
