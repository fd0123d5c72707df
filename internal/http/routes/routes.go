package routes

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	scs "github.com/alexedwards/scs/v2"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/queuecx/dashboard/internal/auth"
	"github.com/queuecx/dashboard/internal/backend"
	appmw "github.com/queuecx/dashboard/internal/http/middleware"
	"github.com/queuecx/dashboard/internal/interest"
	"github.com/queuecx/dashboard/internal/storage"
)

type Server struct {
	Router   *chi.Mux
	Sess     *scs.SessionManager
	Backend  *backend.Facade
	Auth     *auth.Service // nil in demo mode
	OAuth    *auth.OAuth   // nil in demo mode
	Interest *interest.Service
	Files    *storage.FileStore // nil in demo mode
	Log      zerolog.Logger

	maxUpload int64
}

type ServerOptions struct {
	Sess      *scs.SessionManager
	Backend   *backend.Facade
	Auth      *auth.Service
	OAuth     *auth.OAuth
	Interest  *interest.Service
	Files     *storage.FileStore
	Log       zerolog.Logger
	MaxUpload int64
}

func New(opts ServerOptions) *Server {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(hlog.NewHandler(opts.Log))
	r.Use(hlog.RequestIDHandler("req_id", "X-Request-Id"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	}))
	r.Use(chimw.Recoverer)

	if opts.MaxUpload <= 0 {
		opts.MaxUpload = backend.DefaultConfig().MaxUploadSize
	}
	s := &Server{
		Router:    r,
		Sess:      opts.Sess,
		Backend:   opts.Backend,
		Auth:      opts.Auth,
		OAuth:     opts.OAuth,
		Interest:  opts.Interest,
		Files:     opts.Files,
		Log:       opts.Log,
		maxUpload: opts.MaxUpload,
	}
	if s.Sess != nil {
		r.Use(s.Sess.LoadAndSave)
	}
	r.Use(appmw.Caller(s.Sess))

	r.Get("/healthz", s.handleHealth)
	r.Get("/storage/avatars/*", s.handleAvatar)

	r.Route("/auth", func(ar chi.Router) {
		ar.Post("/signup", s.handleSignUp)
		ar.Post("/login", s.handleSignIn)
		ar.Post("/logout", s.handleSignOut)
		ar.Post("/refresh", s.handleRefresh)
		ar.Get("/session", s.handleSession)
		ar.Get("/events", s.handleAuthEvents)
		ar.Get("/oauth/{provider}", s.handleOAuthStart)
		ar.Get("/oauth/{provider}/callback", s.handleOAuthCallback)
	})

	r.Route("/api", func(ar chi.Router) {
		ar.Post("/submit-interest-form", s.handleInterestSubmit)

		ar.Group(func(pr chi.Router) {
			pr.Use(appmw.RequireUser(s.Backend))
			pr.Get("/user", s.handleGetUser)
			pr.Patch("/profile", s.handleUpdateProfile)
			pr.Post("/profile/avatar", s.handleUploadAvatar)
			pr.Get("/files", s.handleListFiles)
			pr.Get("/files/batch", s.handleBatchFiles)
			pr.Post("/files", s.handleUploadFile)
			pr.Delete("/files/{fileID}", s.handleDeleteFile)
			pr.Get("/activity", s.handleSearchActivity)
			pr.Get("/activity/stream", s.handleActivityStream)
			pr.Get("/context", s.handleGetContext)
			pr.Put("/context", s.handleUpdateContext)
			pr.Post("/sessions", s.handleCreateSession)
			pr.Get("/accounts", s.handleListAccounts)
		})
	})

	return s
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("write response")
	}
}

type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// statusFor maps facade and auth errors to HTTP status codes.
func statusFor(err error) int {
	var (
		ve *backend.ValidationError
		ae *backend.AuthError
		ue *backend.UploadError
		re *backend.RemoteError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.As(err, &ae),
		errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrBadToken),
		errors.Is(err, auth.ErrBadSig),
		errors.Is(err, auth.ErrExpired),
		errors.Is(err, auth.ErrBadPayload),
		errors.Is(err, auth.ErrBadState):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrEmailTaken):
		return http.StatusConflict
	case errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, auth.ErrInvalidEmail),
		errors.Is(err, auth.ErrUnknownProvider):
		return http.StatusBadRequest
	case errors.As(err, &ue), errors.As(err, &re):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error()}
	var ve *backend.ValidationError
	if errors.As(err, &ve) {
		body = errorBody{Error: ve.Message, Field: ve.Field}
	}
	if status >= 500 {
		hlog.FromRequest(r).Error().Err(err).Int("status", status).Msg("request failed")
		if status == http.StatusInternalServerError {
			body.Error = "internal server error"
		}
	}
	s.writeJSON(w, r, status, body)
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &backend.ValidationError{Message: "invalid request format"}
	}
	return nil
}

func currentUser(r *http.Request) string {
	u, _ := appmw.UserFromContext(r.Context())
	if u == nil {
		return ""
	}
	return u.ID
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := s.Backend.HealthCheck(r.Context())
	status := http.StatusOK
	if h.Status != backend.StatusHealthy {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, r, status, h)
}
