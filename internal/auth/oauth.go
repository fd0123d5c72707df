package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/queuecx/dashboard/internal/remote"
)

var (
	ErrUnknownProvider = errors.New("unknown oauth provider")
	ErrBadState        = errors.New("invalid oauth state")
	ErrNoEmail         = errors.New("provider returned no verified email")
)

const stateTTL = 30 * time.Minute

// Identity is what a provider's userinfo endpoint says about the user.
type Identity struct {
	ID    string
	Email string
	Name  string
}

// Provider is one OAuth sign-in option.
type Provider struct {
	Name        string
	Config      *oauth2.Config
	UserInfoURL string
	// EmailsURL lists addresses when the profile hides the primary one (GitHub).
	EmailsURL string
	Parse     func(body []byte) (Identity, error)
}

// Google, GitHub and Discord build providers with the given credentials.
// redirectBase is the public URL of the dashboard.
func Google(clientID, secret, redirectBase string) *Provider {
	return &Provider{
		Name: "google",
		Config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: secret,
			RedirectURL:  redirectBase + "/auth/oauth/google/callback",
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://accounts.google.com/o/oauth2/auth",
				TokenURL: "https://oauth2.googleapis.com/token",
			},
		},
		UserInfoURL: "https://openidconnect.googleapis.com/v1/userinfo",
		Parse: func(b []byte) (Identity, error) {
			var v struct {
				Sub           string `json:"sub"`
				Email         string `json:"email"`
				EmailVerified bool   `json:"email_verified"`
				Name          string `json:"name"`
			}
			if err := json.Unmarshal(b, &v); err != nil {
				return Identity{}, err
			}
			if !v.EmailVerified {
				v.Email = ""
			}
			return Identity{ID: v.Sub, Email: v.Email, Name: v.Name}, nil
		},
	}
}

func GitHub(clientID, secret, redirectBase string) *Provider {
	return &Provider{
		Name: "github",
		Config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: secret,
			RedirectURL:  redirectBase + "/auth/oauth/github/callback",
			Scopes:       []string{"read:user", "user:email"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://github.com/login/oauth/authorize",
				TokenURL: "https://github.com/login/oauth/access_token",
			},
		},
		UserInfoURL: "https://api.github.com/user",
		EmailsURL:   "https://api.github.com/user/emails",
		Parse: func(b []byte) (Identity, error) {
			var v struct {
				ID    int64   `json:"id"`
				Login string  `json:"login"`
				Name  *string `json:"name"`
				Email *string `json:"email"`
			}
			if err := json.Unmarshal(b, &v); err != nil {
				return Identity{}, err
			}
			id := Identity{ID: fmt.Sprint(v.ID), Name: v.Login}
			if v.Name != nil && *v.Name != "" {
				id.Name = *v.Name
			}
			if v.Email != nil {
				id.Email = *v.Email
			}
			return id, nil
		},
	}
}

func Discord(clientID, secret, redirectBase string) *Provider {
	return &Provider{
		Name: "discord",
		Config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: secret,
			RedirectURL:  redirectBase + "/auth/oauth/discord/callback",
			Scopes:       []string{"identify", "email"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://discord.com/oauth2/authorize",
				TokenURL: "https://discord.com/api/oauth2/token",
			},
		},
		UserInfoURL: "https://discord.com/api/users/@me",
		Parse: func(b []byte) (Identity, error) {
			var v struct {
				ID         string  `json:"id"`
				Username   string  `json:"username"`
				GlobalName *string `json:"global_name"`
				Email      *string `json:"email"`
				Verified   bool    `json:"verified"`
			}
			if err := json.Unmarshal(b, &v); err != nil {
				return Identity{}, err
			}
			id := Identity{ID: v.ID, Name: v.Username}
			if v.GlobalName != nil && *v.GlobalName != "" {
				id.Name = *v.GlobalName
			}
			if v.Email != nil && v.Verified {
				id.Email = *v.Email
			}
			return id, nil
		},
	}
}

// OAuth runs provider redirect flows and turns them into sessions.
type OAuth struct {
	svc       *Service
	providers map[string]*Provider
}

func (s *Service) OAuth(providers ...*Provider) *OAuth {
	o := &OAuth{svc: s, providers: make(map[string]*Provider, len(providers))}
	for _, p := range providers {
		o.providers[p.Name] = p
	}
	return o
}

// Providers lists the enabled provider names.
func (o *OAuth) Providers() []string {
	names := make([]string, 0, len(o.providers))
	for n := range o.providers {
		names = append(names, n)
	}
	return names
}

// AuthCodeURL returns where to send the browser to start signing in with
// provider. redirectTo is handed back by Callback once the flow completes.
func (o *OAuth) AuthCodeURL(provider, redirectTo string) (string, error) {
	p, ok := o.providers[provider]
	if !ok {
		return "", ErrUnknownProvider
	}
	state := o.svc.signer.Sign(KindState, provider+"|"+redirectTo, o.svc.signer.now().Add(stateTTL))
	return p.Config.AuthCodeURL(state, oauth2.AccessTypeOnline), nil
}

// Callback completes the flow. The account is matched on email and created
// when missing; the provider identity is linked to it either way.
func (o *OAuth) Callback(ctx context.Context, provider, code, state string) (*Session, string, error) {
	p, ok := o.providers[provider]
	if !ok {
		return nil, "", ErrUnknownProvider
	}
	subject, err := o.svc.signer.Verify(KindState, state)
	if err != nil {
		return nil, "", ErrBadState
	}
	stateProvider, redirectTo, _ := strings.Cut(subject, "|")
	if stateProvider != provider {
		return nil, "", ErrBadState
	}

	tok, err := p.Config.Exchange(ctx, code)
	if err != nil {
		return nil, "", fmt.Errorf("%s token exchange: %w", provider, err)
	}
	client := p.Config.Client(ctx, tok)
	ident, err := p.identity(ctx, client)
	if err != nil {
		return nil, "", err
	}

	u, _, err := o.svc.store.UserByEmail(ctx, ident.Email)
	if errors.Is(err, remote.ErrNotFound) {
		u, err = o.svc.store.CreateUser(ctx, ident.Email, "", map[string]any{"full_name": ident.Name, "provider": provider})
	}
	if err != nil {
		return nil, "", fmt.Errorf("%s account: %w", provider, err)
	}

	email := ident.Email
	if err := o.svc.store.LinkAccount(ctx, remote.ConnectedAccount{
		UserID:            u.ID,
		Provider:          provider,
		ProviderAccountID: ident.ID,
		ProviderEmail:     &email,
	}); err != nil {
		return nil, "", err
	}
	o.svc.log.Info().Str("user_id", u.ID).Str("provider", provider).Msg("oauth sign in")
	return o.svc.start(u, SignedIn), redirectTo, nil
}

func (p *Provider) identity(ctx context.Context, client *http.Client) (Identity, error) {
	body, err := getBody(ctx, client, p.UserInfoURL)
	if err != nil {
		return Identity{}, fmt.Errorf("%s userinfo: %w", p.Name, err)
	}
	ident, err := p.Parse(body)
	if err != nil {
		return Identity{}, fmt.Errorf("%s userinfo: %w", p.Name, err)
	}
	if ident.Email == "" && p.EmailsURL != "" {
		body, err := getBody(ctx, client, p.EmailsURL)
		if err != nil {
			return Identity{}, fmt.Errorf("%s emails: %w", p.Name, err)
		}
		var emails []struct {
			Email    string `json:"email"`
			Primary  bool   `json:"primary"`
			Verified bool   `json:"verified"`
		}
		if err := json.Unmarshal(body, &emails); err != nil {
			return Identity{}, fmt.Errorf("%s emails: %w", p.Name, err)
		}
		for _, e := range emails {
			if e.Primary && e.Verified {
				ident.Email = e.Email
			}
		}
	}
	if ident.Email == "" || ident.ID == "" {
		return Identity{}, ErrNoEmail
	}
	return ident, nil
}

func getBody(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}
