package routes

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/queuecx/dashboard/internal/auth"
	appmw "github.com/queuecx/dashboard/internal/http/middleware"
	"github.com/queuecx/dashboard/internal/remote"
)

var errOAuthDisabled = errors.New("oauth sign in is not configured")

type credentials struct {
	Email    string         `json:"email"`
	Password string         `json:"password"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type sessionResponse struct {
	Mode    string              `json:"mode"`
	Session *auth.Session       `json:"session,omitempty"`
	User    *remote.CurrentUser `json:"user"`
}

// demoSession answers every sign-in attempt while unconfigured.
func (s *Server) demoSession(w http.ResponseWriter, r *http.Request) {
	u, err := s.Backend.GetUser(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, sessionResponse{Mode: s.Backend.Mode(), User: u})
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	if s.Auth == nil {
		s.demoSession(w, r)
		return
	}
	var c credentials
	if err := decode(r, &c); err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.Auth.SignUp(r.Context(), c.Email, c.Password, c.Metadata)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.signedIn(w, r, sess, http.StatusCreated)
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	if s.Auth == nil {
		s.demoSession(w, r)
		return
	}
	var c credentials
	if err := decode(r, &c); err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.Auth.SignIn(r.Context(), c.Email, c.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.signedIn(w, r, sess, http.StatusOK)
}

// signedIn stores the tokens in the browser session, makes sure a profile row
// exists and records the login.
func (s *Server) signedIn(w http.ResponseWriter, r *http.Request, sess *auth.Session, status int) {
	ctx := remote.WithAccessToken(r.Context(), sess.AccessToken)
	s.storeTokens(ctx, sess)

	u, err := s.Backend.EnsureProfile(ctx)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	device := map[string]any{"userAgent": r.UserAgent()}
	if _, err := s.Backend.CreateSession(ctx, u.ID, device); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Str("user_id", u.ID).Msg("record session failed")
	}
	s.writeJSON(w, r, status, sessionResponse{Mode: s.Backend.Mode(), Session: sess, User: u})
}

func (s *Server) storeTokens(ctx context.Context, sess *auth.Session) {
	if s.Sess == nil {
		return
	}
	_ = s.Sess.RenewToken(ctx)
	s.Sess.Put(ctx, appmw.AccessTokenKey, sess.AccessToken)
	s.Sess.Put(ctx, appmw.RefreshTokenKey, sess.RefreshToken)
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if s.Auth != nil {
		var body struct {
			RefreshToken string `json:"refresh_token"`
		}
		_ = decode(r, &body)
		if body.RefreshToken == "" && s.Sess != nil {
			body.RefreshToken = s.Sess.GetString(r.Context(), appmw.RefreshTokenKey)
		}
		if err := s.Auth.SignOut(r.Context(), appmw.Token(r, s.Sess), body.RefreshToken); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.Backend.ForgetCaller(r.Context())
	}
	if s.Sess != nil {
		if err := s.Sess.Destroy(r.Context()); err != nil {
			hlog.FromRequest(r).Warn().Err(err).Msg("destroy session")
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.Auth == nil {
		s.demoSession(w, r)
		return
	}
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	_ = decode(r, &body)
	if body.RefreshToken == "" && s.Sess != nil {
		body.RefreshToken = s.Sess.GetString(r.Context(), appmw.RefreshTokenKey)
	}
	sess, err := s.Auth.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx := remote.WithAccessToken(r.Context(), sess.AccessToken)
	s.storeTokens(ctx, sess)
	u, err := s.Backend.GetUser(ctx)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, sessionResponse{Mode: s.Backend.Mode(), Session: sess, User: u})
}

// handleSession reports who the caller is. It answers 401 rather than an
// empty body when signed out.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	u, err := s.Backend.GetUser(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, sessionResponse{Mode: s.Backend.Mode(), User: u})
}

func (s *Server) handleOAuthStart(w http.ResponseWriter, r *http.Request) {
	if s.OAuth == nil {
		s.writeJSON(w, r, http.StatusNotFound, errorBody{Error: errOAuthDisabled.Error()})
		return
	}
	u, err := s.OAuth.AuthCodeURL(chi.URLParam(r, "provider"), safeRedirect(r.URL.Query().Get("redirect_to")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	http.Redirect(w, r, u, http.StatusFound)
}

func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	if s.OAuth == nil {
		s.writeJSON(w, r, http.StatusNotFound, errorBody{Error: errOAuthDisabled.Error()})
		return
	}
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		s.writeJSON(w, r, http.StatusUnauthorized, errorBody{Error: e})
		return
	}
	sess, redirectTo, err := s.OAuth.Callback(r.Context(), chi.URLParam(r, "provider"), q.Get("code"), q.Get("state"))
	if err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("oauth callback failed")
		s.writeError(w, r, err)
		return
	}
	ctx := remote.WithAccessToken(r.Context(), sess.AccessToken)
	s.storeTokens(ctx, sess)
	if u, err := s.Backend.EnsureProfile(ctx); err == nil {
		_, _ = s.Backend.CreateSession(ctx, u.ID, map[string]any{"userAgent": r.UserAgent(), "provider": chi.URLParam(r, "provider")})
	}
	http.Redirect(w, r, safeRedirect(redirectTo), http.StatusFound)
}

// safeRedirect only allows same-site absolute paths.
func safeRedirect(to string) string {
	if !strings.HasPrefix(to, "/") || strings.HasPrefix(to, "//") || strings.Contains(to, `\`) {
		return "/"
	}
	return to
}
