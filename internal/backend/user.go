package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/queuecx/dashboard/internal/cache"
	"github.com/queuecx/dashboard/internal/remote"
	"github.com/queuecx/dashboard/internal/retry"
)

const (
	userTTL    = 60 * time.Second
	searchTTL  = 30 * time.Second
	contextTTL = 5 * time.Minute
)

const currentUserPrefix = "current-user"

// currentUserKey scopes the cached current user to the caller's token so a
// server handling several users never mixes them up.
func currentUserKey(ctx context.Context) string {
	fp := cache.Fingerprint(remote.AccessToken(ctx))
	if fp == "" {
		return currentUserPrefix
	}
	return cache.Key(currentUserPrefix, fp)
}

// GetUser returns the signed-in user merged with their profile. A missing
// profile row is not an error; Profile is nil then.
func (f *Facade) GetUser(ctx context.Context) (*remote.CurrentUser, error) {
	switch c := f.conn.(type) {
	case Unconfigured:
		return demoUser(f.now()), nil
	case Configured:
		key := currentUserKey(ctx)
		u, err := load(ctx, f, key, userTTL, "getUser", func(ctx context.Context) (*remote.CurrentUser, error) {
			u, err := fetchCurrentUser(ctx, c.Remote)
			if err != nil {
				return nil, err
			}
			// Indexed before the entry is cached so a concurrent
			// invalidation either finds it or rejects the write.
			f.users.add(u.ID, key, f.now())
			return u, nil
		})
		if err != nil {
			return nil, &AuthError{Err: err}
		}
		return u, nil
	}
	return nil, errUnknownConnection
}

func fetchCurrentUser(ctx context.Context, svc remote.Service) (*remote.CurrentUser, error) {
	user, err := svc.GetUser(ctx)
	if errors.Is(err, remote.ErrNotAuthenticated) {
		return nil, retry.Permanent(err)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	profile, err := svc.GetProfile(ctx, user.ID)
	switch {
	case errors.Is(err, remote.ErrNotFound):
		profile = nil
	case err != nil:
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &remote.CurrentUser{User: *user, Profile: profile}, nil
}

// UpdateProfile validates upd, writes it and drops every cached copy of the
// user so the next read sees the change.
func (f *Facade) UpdateProfile(ctx context.Context, userID string, upd remote.ProfileUpdate) (*remote.Profile, error) {
	if err := requireID("user_id", userID); err != nil {
		return nil, err
	}
	if err := validateProfileUpdate(upd); err != nil {
		return nil, err
	}
	if upd.DisplayName != nil {
		name := strings.TrimSpace(*upd.DisplayName)
		upd.DisplayName = &name
	}
	upd.UpdatedAt = f.now().UTC()

	switch c := f.conn.(type) {
	case Unconfigured:
		return demoProfile(userID, upd, f.now()), nil
	case Configured:
		p, err := retry.Do(ctx, f.retry, "updateProfile", func(ctx context.Context) (*remote.Profile, error) {
			return c.Remote.UpdateProfile(ctx, userID, upd)
		})
		if err != nil {
			return nil, &RemoteError{Op: "updateProfile", Err: err}
		}
		f.invalidateUser(ctx, userID)
		f.track(ctx, "profile_updated", userID, map[string]any{
			"userId": userID,
			"fields": upd.Fields(),
		})
		return p, nil
	}
	return nil, errUnknownConnection
}

// invalidateUser drops the cached identities that resolved to userID, the
// caller's own and the user's profile.
func (f *Facade) invalidateUser(ctx context.Context, userID string) {
	keys := append(f.users.take(userID), currentUserKey(ctx), cache.Key("profile", userID))
	f.invalidate(keys...)
	f.log.Debug().Str("user_id", userID).Int("entries", len(keys)).Msg("invalidated cached user")
}

// maxIndexedUsers bounds userIndex before it drops expired keys of every user.
const maxIndexedUsers = 4096

// userIndex maps user IDs to the current-user keys that resolved to them.
// Keys expire with the cache entries they track.
type userIndex struct {
	mu   sync.Mutex
	keys map[string]map[string]time.Time
}

func (x *userIndex) add(userID, key string, now time.Time) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.keys == nil {
		x.keys = make(map[string]map[string]time.Time)
	}
	if len(x.keys) >= maxIndexedUsers {
		for id := range x.keys {
			x.prune(id, now)
		}
	} else {
		x.prune(userID, now)
	}
	if x.keys[userID] == nil {
		x.keys[userID] = make(map[string]time.Time)
	}
	x.keys[userID][key] = now.Add(2 * userTTL)
}

func (x *userIndex) prune(userID string, now time.Time) {
	for key, until := range x.keys[userID] {
		if now.After(until) {
			delete(x.keys[userID], key)
		}
	}
	if len(x.keys[userID]) == 0 {
		delete(x.keys, userID)
	}
}

func (x *userIndex) take(userID string) []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	keys := make([]string, 0, len(x.keys[userID])+2)
	for key := range x.keys[userID] {
		keys = append(keys, key)
	}
	delete(x.keys, userID)
	return keys
}

// indexed reports how many current-user keys are indexed for userID.
func (x *userIndex) indexed(userID string) int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.keys[userID])
}

// ForgetCaller drops the cached current user of the token in ctx, so a
// signed-out token stops resolving immediately.
func (f *Facade) ForgetCaller(ctx context.Context) {
	f.invalidate(currentUserKey(ctx))
}

// EnsureProfile returns the current user, creating their profile row first if
// it does not exist yet. The display name defaults to the local part of the
// user's email address.
func (f *Facade) EnsureProfile(ctx context.Context) (*remote.CurrentUser, error) {
	u, err := f.GetUser(ctx)
	if err != nil {
		return nil, err
	}
	if u.Profile != nil {
		return u, nil
	}
	c, ok := f.conn.(Configured)
	if !ok {
		return u, nil
	}

	name := defaultDisplayName(u.Email)
	now := f.now().UTC()
	p, err := retry.Do(ctx, f.retry, "ensureProfile", func(ctx context.Context) (*remote.Profile, error) {
		return c.Remote.InsertProfile(ctx, remote.Profile{
			ID:          u.ID,
			DisplayName: &name,
			Email:       &u.Email,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	})
	if err != nil {
		return nil, &RemoteError{Op: "ensureProfile", Err: err}
	}
	f.invalidateUser(ctx, u.ID)
	return &remote.CurrentUser{User: u.User, Profile: p}, nil
}

func defaultDisplayName(email string) string {
	local, _, _ := strings.Cut(email, "@")
	local = strings.TrimSpace(local)
	if local == "" {
		return "User"
	}
	if r := []rune(local); len(r) > MaxDisplayName {
		local = string(r[:MaxDisplayName])
	}
	return local
}

// UploadAvatar stores an image in the avatars bucket and points the user's
// profile at it.
func (f *Facade) UploadAvatar(ctx context.Context, userID string, file File) (*remote.Profile, error) {
	if err := validSegment("user_id", userID); err != nil {
		return nil, err
	}
	if err := validateFile(file, MaxAvatarSize, []string{"image/"}); err != nil {
		return nil, err
	}
	path := fmt.Sprintf("%s/avatar-%d.%s", userID, f.now().UnixMilli(), extension(file.Name))

	if c, ok := f.conn.(Configured); ok {
		stored, err := retry.Do(ctx, f.retry, "uploadAvatar", func(ctx context.Context) (string, error) {
			return c.Remote.Upload(ctx, AvatarsBucket, path, bytes.NewReader(file.Data), int64(len(file.Data)), nil)
		})
		if err != nil {
			return nil, &UploadError{Path: path, Err: err}
		}
		path = stored
	}
	return f.UpdateProfile(ctx, userID, remote.ProfileUpdate{AvatarURL: &path})
}

// ListConnectedAccounts returns the OAuth providers linked to the user.
func (f *Facade) ListConnectedAccounts(ctx context.Context, userID string) ([]remote.ConnectedAccount, error) {
	if err := requireID("user_id", userID); err != nil {
		return nil, err
	}
	switch c := f.conn.(type) {
	case Unconfigured:
		return []remote.ConnectedAccount{}, nil
	case Configured:
		accounts, err := retry.Do(ctx, f.retry, "listConnectedAccounts", func(ctx context.Context) ([]remote.ConnectedAccount, error) {
			return c.Remote.ListConnectedAccounts(ctx, userID)
		})
		if err != nil {
			return nil, &RemoteError{Op: "listConnectedAccounts", Err: err}
		}
		return accounts, nil
	}
	return nil, errUnknownConnection
}
