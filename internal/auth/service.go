// Package auth implements email/password and OAuth sign-in for the dashboard
// on top of the Postgres account store, issuing HMAC-signed bearer tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/queuecx/dashboard/internal/remote"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidEmail       = errors.New("invalid email")
)

// Store is the account persistence used by Service.
type Store interface {
	CreateUser(ctx context.Context, email, passwordHash string, metadata map[string]any) (*remote.User, error)
	UserByEmail(ctx context.Context, email string) (*remote.User, string, error)
	UserByID(ctx context.Context, id string) (*remote.User, error)
	LinkAccount(ctx context.Context, a remote.ConnectedAccount) error
}

// Session is the token pair handed to a signed-in client.
type Session struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	ExpiresAt    time.Time    `json:"expires_at"`
	User         *remote.User `json:"user"`
}

type Service struct {
	store      Store
	signer     Signer
	accessTTL  time.Duration
	refreshTTL time.Duration
	events     *Broadcaster
	log        zerolog.Logger

	mu      sync.Mutex
	revoked map[string]time.Time // token -> expiry
}

type Option func(*Service)

func WithLogger(l zerolog.Logger) Option { return func(s *Service) { s.log = l } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.signer.Now = now } }

func WithTTL(access, refresh time.Duration) Option {
	return func(s *Service) { s.accessTTL, s.refreshTTL = access, refresh }
}

// NewService signs tokens with secret.
func NewService(store Store, secret []byte, opts ...Option) *Service {
	s := &Service{
		store:      store,
		signer:     Signer{Secret: secret},
		accessTTL:  time.Hour,
		refreshTTL: 30 * 24 * time.Hour,
		events:     &Broadcaster{},
		log:        zerolog.Nop(),
		revoked:    make(map[string]time.Time),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Events returns the auth state broadcaster.
func (s *Service) Events() *Broadcaster { return s.events }

func (s *Service) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*Session, error) {
	email = strings.TrimSpace(email)
	if !strings.Contains(email, "@") {
		return nil, ErrInvalidEmail
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	u, err := s.store.CreateUser(ctx, email, hash, metadata)
	if errors.Is(err, remote.ErrAlreadyExists) {
		return nil, ErrEmailTaken
	}
	if err != nil {
		return nil, fmt.Errorf("sign up: %w", err)
	}
	s.log.Info().Str("user_id", u.ID).Msg("user signed up")
	return s.start(u, SignedIn), nil
}

func (s *Service) SignIn(ctx context.Context, email, password string) (*Session, error) {
	u, hash, err := s.store.UserByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, remote.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("sign in: %w", err)
	}
	if !CheckPassword(hash, password) {
		return nil, ErrInvalidCredentials
	}
	return s.start(u, SignedIn), nil
}

// SignOut revokes both tokens of a session. Unknown or expired tokens are
// ignored.
func (s *Service) SignOut(ctx context.Context, accessToken, refreshToken string) error {
	uid, err := s.signer.Verify(KindAccess, accessToken)
	if err != nil {
		return nil
	}
	s.revoke(accessToken, s.signer.now().Add(s.accessTTL))
	if refreshToken != "" {
		s.revoke(refreshToken, s.signer.now().Add(s.refreshTTL))
	}
	s.events.Publish(Event{Type: SignedOut, UserID: uid, At: s.signer.now()})
	return nil
}

// Refresh exchanges a refresh token for a new session. The old refresh token
// is revoked.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	subject, err := s.signer.Verify(KindRefresh, refreshToken)
	if err != nil {
		return nil, err
	}
	uid, _, _ := strings.Cut(subject, "|")
	if s.isRevoked(refreshToken) {
		return nil, ErrExpired
	}
	u, err := s.store.UserByID(ctx, uid)
	if errors.Is(err, remote.ErrNotFound) {
		return nil, ErrBadToken
	}
	if err != nil {
		return nil, fmt.Errorf("refresh: %w", err)
	}
	s.revoke(refreshToken, s.signer.now().Add(s.refreshTTL))
	return s.start(u, TokenRefreshed), nil
}

// GetUser resolves the bearer token carried in ctx. It implements remote.Auth.
func (s *Service) GetUser(ctx context.Context) (*remote.User, error) {
	tok := remote.AccessToken(ctx)
	if tok == "" {
		return nil, remote.ErrNotAuthenticated
	}
	uid, err := s.signer.Verify(KindAccess, tok)
	if err != nil || s.isRevoked(tok) {
		return nil, remote.ErrNotAuthenticated
	}
	u, err := s.store.UserByID(ctx, uid)
	if errors.Is(err, remote.ErrNotFound) {
		return nil, remote.ErrNotAuthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// NotifyUserUpdated publishes USER_UPDATED for userID.
func (s *Service) NotifyUserUpdated(userID string) {
	s.events.Publish(Event{Type: UserUpdated, UserID: userID, At: s.signer.now()})
}

func (s *Service) start(u *remote.User, ev EventType) *Session {
	now := s.signer.now()
	sess := &Session{
		AccessToken:  s.signer.Sign(KindAccess, u.ID, now.Add(s.accessTTL)),
		RefreshToken: s.signer.Sign(KindRefresh, u.ID+"|"+fmt.Sprint(now.UnixNano()), now.Add(s.refreshTTL)),
		ExpiresAt:    now.Add(s.accessTTL),
		User:         u,
	}
	s.events.Publish(Event{Type: ev, UserID: u.ID, Session: sess, At: now})
	return sess
}

func (s *Service) revoke(token string, until time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.signer.now()
	for t, exp := range s.revoked {
		if now.After(exp) {
			delete(s.revoked, t)
		}
	}
	s.revoked[token] = until
}

func (s *Service) isRevoked(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.revoked[token]
	return ok
}
