package fict

import (
	"context"

	"fict-go/internal/model"
)

// LockManager is the turn-lock state machine over a story record. All lock
// field mutations flow through it, inside the store's exclusive transaction;
// there is no additional in-process mutex because correctness must hold
// across multiple server instances sharing one store.
type LockManager struct {
	store    Store
	access   *AccessResolver
	cooldown *CooldownTracker
	clock    Clock
	logger   Logger
}

func NewLockManager(store Store, access *AccessResolver, cooldown *CooldownTracker, clock Clock, logger Logger) *LockManager {
	return &LockManager{
		store:    store,
		access:   access,
		cooldown: cooldown,
		clock:    clock,
		logger:   logger,
	}
}

// Acquire locates a story and ensures the applicant holds its lock on return.
//
// The applicant must hold write access; a missing story and insufficient
// access both come back as ErrNotFound. A valid competing lock yields
// *AlreadyLockedError. With wantAcquire false, an already-unlocked story
// yields ErrUnlocked instead of taking the lock fresh; a lock the applicant
// already holds is renewed either way. Acquisition that would let the
// applicant contribute twice in a row yields ErrCooldown.
//
// The whole protocol runs inside one exclusive transaction, so concurrent
// calls against the same store serialize and a failed acquisition leaves the
// lock fields untouched. Callers that want a fairness baseline must record
// the returned story's revision count with the CooldownTracker afterwards.
func (m *LockManager) Acquire(ctx context.Context, storyID int64, applicant *model.User, wantAcquire bool) (*model.Story, error) {
	now := m.clock.Now()

	var result *model.Story
	err := m.store.Locked(ctx, func(tx Tx) error {
		story, err := tx.StoryByID(ctx, storyID)
		if err != nil {
			return storageErr("story lookup", err)
		}
		if story == nil {
			return ErrNotFound
		}

		level, err := m.access.AccessFor(ctx, tx, story, applicant.ID)
		if err != nil {
			return err
		}
		if !level.GrantsWrite() {
			return ErrNotFound
		}

		lockedByOther := story.LockHolderID != nil && *story.LockHolderID != applicant.ID
		lockedBySelf := story.LockHolderID != nil && *story.LockHolderID == applicant.ID
		expirationValid := story.LockExpiration != nil && !story.LockExpiration.Before(now)

		// An expired lock is implicitly available again: exclusivity only
		// applies while the expiration is in the future.
		if lockedByOther && expirationValid {
			holderName := "another user"
			if holder, err := tx.UserByID(ctx, *story.LockHolderID); err != nil {
				return storageErr("holder lookup", err)
			} else if holder != nil {
				holderName = holder.Name
			}
			return &AlreadyLockedError{Holder: holderName, Expiration: *story.LockExpiration}
		}

		if !wantAcquire && !lockedBySelf && !expirationValid {
			return ErrUnlocked
		}

		attempt, hasAttempt, err := m.cooldown.MostRecentAttempt(ctx, tx, story.ID, applicant.ID)
		if err != nil {
			return err
		}
		if !m.cooldown.Permits(attempt, hasAttempt, story.RevisionCount) {
			return ErrCooldown
		}

		expiration := now.Add(story.LockDuration)
		if err := tx.SetLock(ctx, story.ID, applicant.ID, expiration); err != nil {
			return storageErr("lock update", err)
		}

		holderID := applicant.ID
		story.LockHolderID = &holderID
		story.LockExpiration = &expiration
		result = story
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Debug("lock held", "story", result.ID, "user", applicant.ID, "expires", result.LockExpiration)
	return result, nil
}

// Release revokes the lock named by the story's current holder fields. The
// update is conditional on both story id and holder, so a stale release
// issued after the lock expired and was re-acquired by someone else matches
// zero rows and reports ErrReleaseFailed rather than clobbering the new lock.
func (m *LockManager) Release(ctx context.Context, story *model.Story) error {
	if story.LockHolderID == nil {
		return ErrReleaseFailed
	}

	affected, err := m.store.ReleaseLock(ctx, story.ID, *story.LockHolderID)
	if err != nil {
		return storageErr("lock release", err)
	}
	if affected == 0 {
		return ErrReleaseFailed
	}

	m.logger.Debug("lock released", "story", story.ID, "user", *story.LockHolderID)
	story.LockHolderID = nil
	story.LockExpiration = nil
	return nil
}

// Save persists the story's non-lock fields. Lock mutation stays the
// exclusive business of Acquire and Release so a content save can never race
// a concurrent lock operation into a lost update.
func (m *LockManager) Save(ctx context.Context, story *model.Story) error {
	if err := m.store.SaveStory(ctx, story); err != nil {
		return storageErr("story save", err)
	}
	return nil
}
