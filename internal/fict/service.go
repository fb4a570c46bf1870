package fict

import (
	"context"
	"time"

	"fict-go/internal/model"
)

// Service is the orchestration layer the HTTP API and CLI call into. It owns
// the composition of the access resolver, cooldown tracker, and lock manager
// over one store, and implements the multi-step flows (acquire then record
// baseline, verify lock then contribute then release) that keep the turn
// protocol honest.
type Service struct {
	store    Store
	access   *AccessResolver
	cooldown *CooldownTracker
	locks    *LockManager
	clock    Clock
	logger   Logger

	// lockDuration seeds new stories; each story carries its own thereafter.
	lockDuration time.Duration
}

func NewService(store Store, logger Logger, clock Clock, lockDuration time.Duration) *Service {
	access := NewAccessResolver(store)
	cooldown := NewCooldownTracker(store)
	return &Service{
		store:        store,
		access:       access,
		cooldown:     cooldown,
		locks:        NewLockManager(store, access, cooldown, clock, logger),
		clock:        clock,
		logger:       logger,
		lockDuration: lockDuration,
	}
}

// LockGrant is the result of a successful acquisition: the locked story and
// the snippet the new contributor continues from (nil for an empty story).
type LockGrant struct {
	Story        *model.Story
	PriorSnippet *model.Snippet
}

// AcquireLock takes the story's turn lock on behalf of user and records the
// fairness baseline. Recording happens after the acquisition commits, and
// deliberately uses the revision count at acquisition time, before any
// snippet is written under this lock.
func (s *Service) AcquireLock(ctx context.Context, storyID int64, user *model.User) (*LockGrant, error) {
	story, err := s.locks.Acquire(ctx, storyID, user, true)
	if err != nil {
		return nil, err
	}

	if err := s.cooldown.Record(ctx, story.ID, user.ID, story.RevisionCount); err != nil {
		return nil, err
	}

	prior, err := s.store.MostRecentSnippet(ctx, story.ID)
	if err != nil {
		return nil, storageErr("snippet lookup", err)
	}

	s.logger.Info("lock acquired", "story", story.ID, "user", user.ID)
	return &LockGrant{Story: story, PriorSnippet: prior}, nil
}

// CheckLock verifies that user currently holds the story's lock, renewing its
// expiration, without taking it fresh when unlocked.
func (s *Service) CheckLock(ctx context.Context, storyID int64, user *model.User) (*model.Story, error) {
	return s.locks.Acquire(ctx, storyID, user, false)
}

// RevokeLock gives up a lock the user currently holds.
func (s *Service) RevokeLock(ctx context.Context, storyID int64, user *model.User) error {
	story, err := s.locks.Acquire(ctx, storyID, user, false)
	if err != nil {
		return err
	}
	if err := s.locks.Release(ctx, story); err != nil {
		return err
	}
	s.logger.Info("lock revoked", "story", story.ID, "user", user.ID)
	return nil
}

// StartStory creates a story owned by owner and contributes its opening
// snippet. The opening contribution counts as the owner's turn: their
// fairness baseline is recorded at revision 0 so they cannot also write the
// second snippet before someone else takes a turn.
func (s *Service) StartStory(ctx context.Context, owner *model.User, content string) (*model.Story, *model.Snippet, error) {
	story, err := s.store.CreateStory(ctx, s.lockDuration)
	if err != nil {
		return nil, nil, storageErr("story create", err)
	}

	if err := s.access.Grant(ctx, story.ID, owner.ID, Owner); err != nil {
		return nil, nil, err
	}

	if err := s.cooldown.Record(ctx, story.ID, owner.ID, story.RevisionCount); err != nil {
		return nil, nil, err
	}

	snippet, err := s.store.CreateSnippet(ctx, story.ID, owner.ID, content)
	if err != nil {
		return nil, nil, storageErr("snippet create", err)
	}
	story.RevisionCount++

	s.logger.Info("story started", "story", story.ID, "owner", owner.ID)
	return story, snippet, nil
}

// ContributeSnippet appends a snippet to a story whose lock the user already
// holds, then releases the lock so the next contributor can take a turn. The
// held-lock check runs through the same protocol as acquisition, so an
// expired or stolen lock surfaces before anything is written.
func (s *Service) ContributeSnippet(ctx context.Context, storyID int64, user *model.User, content string) (*model.Snippet, error) {
	story, err := s.locks.Acquire(ctx, storyID, user, false)
	if err != nil {
		return nil, err
	}

	snippet, err := s.store.CreateSnippet(ctx, story.ID, user.ID, content)
	if err != nil {
		return nil, storageErr("snippet create", err)
	}
	story.RevisionCount++

	if err := s.locks.Release(ctx, story); err != nil {
		return nil, err
	}

	s.logger.Info("snippet contributed", "story", story.ID, "user", user.ID, "ordinal", snippet.Ordinal)
	return snippet, nil
}

// AccessFor reports the effective access level user holds on a story.
func (s *Service) AccessFor(ctx context.Context, storyID int64, user *model.User) (AccessLevel, error) {
	story, err := s.store.StoryByID(ctx, storyID)
	if err != nil {
		return NoAccess, storageErr("story lookup", err)
	}
	if story == nil {
		return NoAccess, ErrNotFound
	}
	return s.access.AccessFor(ctx, s.store, story, user.ID)
}

// GrantAccess sets target's access level on a story. Only a user with admin
// access may grant; anyone else learns nothing beyond ErrNotFound.
func (s *Service) GrantAccess(ctx context.Context, storyID int64, grantor *model.User, targetID int64, level AccessLevel) error {
	story, err := s.store.StoryByID(ctx, storyID)
	if err != nil {
		return storageErr("story lookup", err)
	}
	if story == nil {
		return ErrNotFound
	}

	grantorLevel, err := s.access.AccessFor(ctx, s.store, story, grantor.ID)
	if err != nil {
		return err
	}
	if !grantorLevel.GrantsAdmin() {
		return ErrNotFound
	}

	if err := s.access.Grant(ctx, storyID, targetID, level); err != nil {
		return err
	}

	s.logger.Info("access granted", "story", storyID, "target", targetID, "level", level.String())
	return nil
}

// StoryByID fetches a story the user can read. Missing stories and missing
// read access are indistinguishable.
func (s *Service) StoryByID(ctx context.Context, storyID int64, user *model.User) (*model.Story, error) {
	story, err := s.store.StoryByID(ctx, storyID)
	if err != nil {
		return nil, storageErr("story lookup", err)
	}
	if story == nil {
		return nil, ErrNotFound
	}

	level, err := s.access.AccessFor(ctx, s.store, story, user.ID)
	if err != nil {
		return nil, err
	}
	if !level.GrantsRead() {
		return nil, ErrNotFound
	}
	return story, nil
}

// StorySnippets lists a readable story's snippets in contribution order.
func (s *Service) StorySnippets(ctx context.Context, storyID int64, user *model.User) ([]*model.Snippet, error) {
	if _, err := s.StoryByID(ctx, storyID, user); err != nil {
		return nil, err
	}

	snippets, err := s.store.SnippetsByStory(ctx, storyID)
	if err != nil {
		return nil, storageErr("snippet list", err)
	}
	return snippets, nil
}

// UpdateStory persists title, publication flags, and timestamps for a story
// the user administers. Lock fields are untouched by design; flipping
// Published on for the first time stamps PublishTime.
func (s *Service) UpdateStory(ctx context.Context, story *model.Story, user *model.User) error {
	level, err := s.access.AccessFor(ctx, s.store, story, user.ID)
	if err != nil {
		return err
	}
	if !level.GrantsAdmin() {
		return ErrNotFound
	}

	now := s.clock.Now()
	story.UpdateTime = now
	if story.Published && story.PublishTime == nil {
		story.PublishTime = &now
	}
	return s.locks.Save(ctx, story)
}
