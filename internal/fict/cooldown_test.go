package fict_test

import (
	"context"
	"testing"

	"fict-go/internal/fict"
	"fict-go/internal/testutil"
)

func TestCooldownTracker_Permits(t *testing.T) {
	tracker := fict.NewCooldownTracker(nil)

	tests := []struct {
		name       string
		attempt    int64
		hasAttempt bool
		current    int64
		want       bool
	}{
		{"first ever attempt", 0, false, 5, true},
		{"re-entrant at same revision", 3, true, 3, true},
		{"one other contribution since", 3, true, 5, true},
		{"many contributions since", 3, true, 9, true},
		{"own snippet is the only new one", 3, true, 4, false},
		{"fresh story, first attempt", 0, false, 0, true},
		{"own opening snippet only", 0, true, 1, false},
		{"baseline zero, two contributions", 0, true, 2, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tracker.Permits(tt.attempt, tt.hasAttempt, tt.current)
			if got != tt.want {
				t.Errorf("Permits(%d, %v, %d) = %v, want %v",
					tt.attempt, tt.hasAttempt, tt.current, got, tt.want)
			}
		})
	}
}

func TestCooldownTracker_RecordIsIdempotent(t *testing.T) {
	store := testutil.NewTestStore(t)
	tracker := fict.NewCooldownTracker(store)
	ctx := context.Background()

	user := testutil.MustCreateUser(t, store, "alice", "alice@example.com")
	story, err := store.CreateStory(ctx, 0)
	if err != nil {
		t.Fatalf("CreateStory() error = %v", err)
	}

	for _, revision := range []int64{0, 0, 3} {
		if err := tracker.Record(ctx, story.ID, user.ID, revision); err != nil {
			t.Fatalf("Record(%d) error = %v", revision, err)
		}
	}

	attempt, found, err := tracker.MostRecentAttempt(ctx, store, story.ID, user.ID)
	if err != nil {
		t.Fatalf("MostRecentAttempt() error = %v", err)
	}
	if !found {
		t.Fatal("MostRecentAttempt() found = false, want true")
	}
	if attempt != 3 {
		t.Errorf("MostRecentAttempt() = %d, want 3", attempt)
	}
}

func TestCooldownTracker_MostRecentAttemptMissing(t *testing.T) {
	store := testutil.NewTestStore(t)
	tracker := fict.NewCooldownTracker(store)
	ctx := context.Background()

	user := testutil.MustCreateUser(t, store, "bob", "bob@example.com")
	story, err := store.CreateStory(ctx, 0)
	if err != nil {
		t.Fatalf("CreateStory() error = %v", err)
	}

	_, found, err := tracker.MostRecentAttempt(ctx, store, story.ID, user.ID)
	if err != nil {
		t.Fatalf("MostRecentAttempt() error = %v", err)
	}
	if found {
		t.Error("MostRecentAttempt() found = true for a user who never locked")
	}
}
