// Package api serves the JSON HTTP interface to accounts, events and the
// reminder permission.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tazhate/eventtracker/internal/auth"
	"github.com/tazhate/eventtracker/internal/domain"
	"github.com/tazhate/eventtracker/internal/service"
)

type Events interface {
	Get(ctx context.Context, userID, id string) (*domain.Event, error)
	Upcoming(ctx context.Context, userID string) ([]*domain.Event, error)
	Add(ctx context.Context, e *domain.Event) (*domain.Event, error)
	Update(ctx context.Context, e *domain.Event) (*domain.Event, error)
	Delete(ctx context.Context, userID, id string) error
}

type Users interface {
	Profile(ctx context.Context, userID string) (*domain.User, error)
	UpdateContact(ctx context.Context, userID string, upd service.ContactUpdate) (*domain.User, error)
	CreateLinkCode(ctx context.Context, userID string) (string, time.Time, error)
}

type Permissions interface {
	Status(ctx context.Context, userID string) (service.PermissionStatus, error)
	Decide(ctx context.Context, userID string, granted bool) (service.PermissionStatus, error)
}

// APIResponse is the envelope of every JSON response.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type Server struct {
	auth        auth.Provider
	users       Users
	events      Events
	permissions Permissions
	timezone    *time.Location
	log         *slog.Logger
	server      *http.Server
}

func New(provider auth.Provider, users Users, events Events, permissions Permissions, tz *time.Location, logger *slog.Logger) *Server {
	if tz == nil {
		tz = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		auth:        provider,
		users:       users,
		events:      events,
		permissions: permissions,
		timezone:    tz,
		log:         logger,
	}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// Accounts
	mux.HandleFunc("/api/accounts", s.apiAccounts)
	mux.HandleFunc("/api/sessions", s.apiSessions)
	mux.HandleFunc("/api/me", s.bearerAuth(s.apiMe))
	mux.HandleFunc("/api/me/telegram-link", s.bearerAuth(s.apiTelegramLink))

	// Events
	mux.HandleFunc("/api/events", s.bearerAuth(s.apiEvents))
	mux.HandleFunc("/api/events/", s.bearerAuth(s.apiEvent))

	// Reminder permission
	mux.HandleFunc("/api/reminders/permission", s.bearerAuth(s.apiPermission))

	return s.logRequests(mux)
}

// Start serves on addr until ctx is done or the listener fails.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

type ctxKey struct{}

func userIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// bearerAuth middleware
func (s *Server) bearerAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="EventTracker API"`)
			s.jsonError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		userID, err := s.auth.Verify(r.Context(), strings.TrimSpace(token))
		if err != nil {
			if !errors.Is(err, auth.ErrInvalidToken) {
				s.log.Error("verify token", "error", err)
			}
			w.Header().Set("WWW-Authenticate", `Bearer realm="EventTracker API", error="invalid_token"`)
			s.jsonError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, userID)))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) jsonResponse(w http.ResponseWriter, data interface{}) {
	s.jsonStatus(w, http.StatusOK, data)
}

func (s *Server) jsonStatus(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIResponse{Success: true, Data: data})
}

func (s *Server) jsonError(w http.ResponseWriter, err string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIResponse{Success: false, Error: err})
}

// serviceError maps a service or auth error to a response.
func (s *Server) serviceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrTitleRequired):
		s.jsonError(w, "Title is required.", http.StatusBadRequest)
	case errors.Is(err, service.ErrNotFound):
		s.jsonError(w, "Not found", http.StatusNotFound)
	case errors.Is(err, service.ErrAccessDenied):
		s.jsonError(w, "User must be logged in.", http.StatusUnauthorized)
	case errors.Is(err, service.ErrChatTaken):
		s.jsonError(w, "Chat is linked to another account.", http.StatusConflict)
	case errors.Is(err, service.ErrLinkCodeInvalid):
		s.jsonError(w, "Link code is invalid or expired.", http.StatusBadRequest)
	case errors.Is(err, auth.ErrEmptyCredentials):
		s.jsonError(w, "Login and password are required.", http.StatusBadRequest)
	case errors.Is(err, auth.ErrUserExists):
		s.jsonError(w, "User already exists.", http.StatusConflict)
	case errors.Is(err, auth.ErrUserNotFound):
		s.jsonError(w, "User not found.", http.StatusUnauthorized)
	case errors.Is(err, auth.ErrInvalidPassword):
		s.jsonError(w, "Invalid password.", http.StatusUnauthorized)
	case errors.Is(err, auth.ErrInvalidToken):
		s.jsonError(w, "Unauthorized", http.StatusUnauthorized)
	case errors.Is(err, auth.ErrUnsupported):
		s.jsonError(w, "Not supported by this backend", http.StatusNotImplemented)
	default:
		s.log.Error("request failed", "error", err)
		s.jsonError(w, "Internal error", http.StatusInternalServerError)
	}
}
