package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"

	"fict-go/internal/fict"
	"fict-go/internal/model"
)

// SessionResolver turns an opaque API token into the user it belongs to.
// Token issuance happens outside this server; it only consumes them.
type SessionResolver interface {
	SessionUser(ctx context.Context, token string) (*model.User, error)
}

// Server is the HTTP collaborator over the fict service. It translates
// requests to service calls and service errors to statuses; no lock or
// access decisions are made here.
type Server struct {
	service  *fict.Service
	sessions SessionResolver
	logger   fict.Logger
	router   *mux.Router
}

func NewServer(service *fict.Service, sessions SessionResolver, logger fict.Logger) *Server {
	s := &Server{
		service:  service,
		sessions: sessions,
		logger:   logger,
	}

	r := mux.NewRouter()
	r.Use(s.logRequests)

	r.Methods(http.MethodGet).Path("/").HandlerFunc(s.healthCheck)
	r.Methods(http.MethodGet).Path("/whoami").Handler(s.authenticated(s.whoami))
	r.Methods(http.MethodPost).Path("/stories/{id}/lock").Handler(s.authenticated(s.acquireLock))
	r.Methods(http.MethodDelete).Path("/stories/{id}/lock").Handler(s.authenticated(s.revokeLock))
	r.Methods(http.MethodGet).Path("/stories/{id}").Handler(s.authenticated(s.getStory))
	r.Methods(http.MethodGet).Path("/stories/{id}/snippets").Handler(s.authenticated(s.listSnippets))
	r.Methods(http.MethodPost).Path("/stories/{id}/access").Handler(s.authenticated(s.grantAccess))
	r.Methods(http.MethodPost).Path("/snippets").Handler(s.authenticated(s.postSnippet))

	s.router = r
	return s
}

// Handler returns the fully routed HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		s.logger.Info("handled",
			"method", r.Method, "url", r.URL.Path,
			"status", m.Code, "duration", m.Duration)
	})
}

// authenticated resolves the bearer token before invoking the handler. An
// absent or unknown token is a 401; the handler never runs without a user.
func (s *Server) authenticated(handler func(http.ResponseWriter, *http.Request, *model.User)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}

		user, err := s.sessions.SessionUser(r.Context(), token)
		if err != nil {
			s.logger.Error("session lookup failed", "err", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if user == nil {
			http.Error(w, "invalid session token", http.StatusUnauthorized)
			return
		}

		handler(w, r, user)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		return "", false
	}
	return token, true
}

func (s *Server) healthCheck(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Up and running."))
}
