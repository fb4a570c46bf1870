package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"fict-go/internal/fict"
	"fict-go/internal/model"
)

// timestampFormat is the consistent timestamp format used throughout the
// API, e.g. "Fri, 10 May 2015 17:58:28 +0000".
const timestampFormat = time.RFC1123Z

// maxSnippetBody bounds contribution payloads at 10 MiB.
const maxSnippetBody = 10 << 20

type lockGranted struct {
	State   string `json:"state"`
	Expires string `json:"expires"`
}

type priorSnippet struct {
	Content string `json:"content"`
}

type lockGrantedResponse struct {
	Lock    lockGranted   `json:"lock"`
	Snippet *priorSnippet `json:"snippet,omitempty"`
}

type lockDenied struct {
	State   string `json:"state"`
	Reason  string `json:"reason"`
	Owner   string `json:"owner,omitempty"`
	Expires string `json:"expires,omitempty"`
}

type lockDeniedResponse struct {
	Lock lockDenied `json:"lock"`
}

type storyView struct {
	ID            int64   `json:"id"`
	Title         *string `json:"title"`
	Published     bool    `json:"published"`
	WorldReadable bool    `json:"world_readable"`
	RevisionCount int64   `json:"revision_count"`
	Locked        bool    `json:"locked"`
	LockExpires   string  `json:"lock_expires,omitempty"`
}

type snippetView struct {
	ID      int64  `json:"id"`
	Ordinal int64  `json:"ordinal"`
	Content string `json:"content"`
}

func newStoryView(story *model.Story) storyView {
	v := storyView{
		ID:            story.ID,
		Title:         story.Title,
		Published:     story.Published,
		WorldReadable: story.WorldReadable,
		RevisionCount: story.RevisionCount,
		Locked:        story.LockHolderID != nil,
	}
	if story.LockExpiration != nil {
		v.LockExpires = story.LockExpiration.Format(timestampFormat)
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func storyIDParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id, err == nil
}

// writeLockError maps lock protocol failures on the lock routes. Conflicting
// and cooldown denials share a 409 with distinguishing payloads, matching
// what polling clients key off of.
func (s *Server) writeLockError(w http.ResponseWriter, err error) {
	var already *fict.AlreadyLockedError
	switch {
	case errors.Is(err, fict.ErrNotFound):
		http.Error(w, "story not found", http.StatusNotFound)
	case errors.As(err, &already):
		writeJSON(w, http.StatusConflict, lockDeniedResponse{Lock: lockDenied{
			State:   "denied",
			Reason:  "conflict",
			Owner:   already.Holder,
			Expires: already.Expiration.Format(timestampFormat),
		}})
	case errors.Is(err, fict.ErrCooldown):
		writeJSON(w, http.StatusConflict, lockDeniedResponse{Lock: lockDenied{
			State:  "denied",
			Reason: "cooldown",
		}})
	case errors.Is(err, fict.ErrUnlocked), errors.Is(err, fict.ErrReleaseFailed):
		writeJSON(w, http.StatusConflict, lockDeniedResponse{Lock: lockDenied{
			State:  "denied",
			Reason: "unlocked",
		}})
	default:
		s.logger.Error("lock operation failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (s *Server) whoami(w http.ResponseWriter, _ *http.Request, user *model.User) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":  user.Name,
		"email": user.Email,
	})
}

// acquireLock handles POST /stories/{id}/lock: take the turn lock and return
// the snippet the contributor continues from.
func (s *Server) acquireLock(w http.ResponseWriter, r *http.Request, user *model.User) {
	storyID, ok := storyIDParam(r)
	if !ok {
		http.Error(w, "id must be numeric", http.StatusBadRequest)
		return
	}

	grant, err := s.service.AcquireLock(r.Context(), storyID, user)
	if err != nil {
		s.writeLockError(w, err)
		return
	}

	resp := lockGrantedResponse{Lock: lockGranted{
		State:   "granted",
		Expires: grant.Story.LockExpiration.Format(timestampFormat),
	}}
	if grant.PriorSnippet != nil {
		resp.Snippet = &priorSnippet{Content: grant.PriorSnippet.Content}
	}
	writeJSON(w, http.StatusOK, resp)
}

// revokeLock handles DELETE /stories/{id}/lock: give up a held lock.
func (s *Server) revokeLock(w http.ResponseWriter, r *http.Request, user *model.User) {
	storyID, ok := storyIDParam(r)
	if !ok {
		http.Error(w, "id must be numeric", http.StatusBadRequest)
		return
	}

	if err := s.service.RevokeLock(r.Context(), storyID, user); err != nil {
		s.writeLockError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getStory(w http.ResponseWriter, r *http.Request, user *model.User) {
	storyID, ok := storyIDParam(r)
	if !ok {
		http.Error(w, "id must be numeric", http.StatusBadRequest)
		return
	}

	story, err := s.service.StoryByID(r.Context(), storyID, user)
	if err != nil {
		if errors.Is(err, fict.ErrNotFound) {
			http.Error(w, "story not found", http.StatusNotFound)
			return
		}
		s.logger.Error("story fetch failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, newStoryView(story))
}

func (s *Server) listSnippets(w http.ResponseWriter, r *http.Request, user *model.User) {
	storyID, ok := storyIDParam(r)
	if !ok {
		http.Error(w, "id must be numeric", http.StatusBadRequest)
		return
	}

	snippets, err := s.service.StorySnippets(r.Context(), storyID, user)
	if err != nil {
		if errors.Is(err, fict.ErrNotFound) {
			http.Error(w, "story not found", http.StatusNotFound)
			return
		}
		s.logger.Error("snippet list failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	views := make([]snippetView, 0, len(snippets))
	for _, sn := range snippets {
		views = append(views, snippetView{ID: sn.ID, Ordinal: sn.Ordinal, Content: sn.Content})
	}
	writeJSON(w, http.StatusOK, map[string][]snippetView{"snippets": views})
}

type grantBody struct {
	UserID int64  `json:"user_id"`
	Level  string `json:"level"`
}

// grantAccess handles POST /stories/{id}/access. The service enforces that
// the caller administers the story.
func (s *Server) grantAccess(w http.ResponseWriter, r *http.Request, user *model.User) {
	storyID, ok := storyIDParam(r)
	if !ok {
		http.Error(w, "id must be numeric", http.StatusBadRequest)
		return
	}

	var body grantBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "unable to parse request body", http.StatusBadRequest)
		return
	}

	level, err := fict.ParseAccessLevel(body.Level)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.service.GrantAccess(r.Context(), storyID, user, body.UserID, level); err != nil {
		if errors.Is(err, fict.ErrNotFound) {
			http.Error(w, "story not found", http.StatusNotFound)
			return
		}
		s.logger.Error("access grant failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type snippetCreation struct {
	Snippet snippetBody `json:"snippet"`
}

type snippetBody struct {
	Content string `json:"content"`
	StoryID *int64 `json:"story_id"`
}

// postSnippet handles POST /snippets. With a story_id the snippet continues
// that story under the caller's held lock; without one it begins a new story
// owned by the caller.
func (s *Server) postSnippet(w http.ResponseWriter, r *http.Request, user *model.User) {
	var body snippetCreation
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSnippetBody)).Decode(&body); err != nil {
		http.Error(w, "unable to parse request body", http.StatusBadRequest)
		return
	}
	if body.Snippet.Content == "" {
		http.Error(w, "snippet content must not be empty", http.StatusBadRequest)
		return
	}

	if body.Snippet.StoryID == nil {
		story, snippet, err := s.service.StartStory(r.Context(), user, body.Snippet.Content)
		if err != nil {
			s.logger.Error("story start failed", "err", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"story_id": story.ID,
			"snippet":  snippetView{ID: snippet.ID, Ordinal: snippet.Ordinal, Content: snippet.Content},
		})
		return
	}

	snippet, err := s.service.ContributeSnippet(r.Context(), *body.Snippet.StoryID, user, body.Snippet.Content)
	if err != nil {
		var already *fict.AlreadyLockedError
		switch {
		case errors.Is(err, fict.ErrNotFound):
			http.Error(w, "story not found", http.StatusNotFound)
		case errors.Is(err, fict.ErrUnlocked), errors.As(err, &already):
			// Contributing requires holding the lock first.
			http.Error(w, "story lock is not held", http.StatusForbidden)
		default:
			s.logger.Error("snippet contribution failed", "err", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"snippet": snippetView{ID: snippet.ID, Ordinal: snippet.Ordinal, Content: snippet.Content},
	})
}
