package middleware

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"

	scs "github.com/alexedwards/scs/v2"
	"github.com/rs/zerolog/hlog"

	"github.com/queuecx/dashboard/internal/backend"
	"github.com/queuecx/dashboard/internal/remote"
)

type contextKey string

const userKey contextKey = "user"

// Session keys written on sign in.
const (
	AccessTokenKey  = "access_token"
	RefreshTokenKey = "refresh_token"
)

// Token returns the caller's access token: the bearer header wins over the
// browser session.
func Token(r *http.Request, sess *scs.SessionManager) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
	}
	if sess != nil {
		return sess.GetString(r.Context(), AccessTokenKey)
	}
	return ""
}

// Caller attaches the access token and client details to the request context
// so the facade can resolve the user and stamp analytics.
func Caller(sess *scs.SessionManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if tok := Token(r, sess); tok != "" {
				ctx = remote.WithAccessToken(ctx, tok)
			}
			ctx = backend.WithClientInfo(ctx, backend.ClientInfo{
				IP:        clientIP(r),
				URL:       r.Referer(),
				UserAgent: r.UserAgent(),
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// clientIP strips the port chimw.RealIP leaves on RemoteAddr.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// UserSource resolves the signed-in user from a request context.
type UserSource interface {
	GetUser(ctx context.Context) (*remote.CurrentUser, error)
}

// RequireUser rejects requests without a valid user with 401.
func RequireUser(src UserSource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, err := src.GetUser(r.Context())
			if err != nil || u == nil {
				hlog.FromRequest(r).Debug().Err(err).Msg("unauthenticated request")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "not authenticated"})
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, u)))
		})
	}
}

// UserFromContext returns the user stored by RequireUser.
func UserFromContext(ctx context.Context) (*remote.CurrentUser, bool) {
	u, ok := ctx.Value(userKey).(*remote.CurrentUser)
	return u, ok
}
