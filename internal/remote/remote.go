// Package remote defines the client interface of the remote backend service
// (authentication, row store, blob store and realtime notifications) and the
// records it exchanges with the dashboard.
package remote

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrNotFound is returned when a single-row lookup matches nothing.
	ErrNotFound = errors.New("remote: not found")
	// ErrNotAuthenticated is returned when the caller carries no valid access token.
	ErrNotAuthenticated = errors.New("remote: not authenticated")
	// ErrAlreadyExists is returned when an insert hits a unique key.
	ErrAlreadyExists = errors.New("remote: already exists")
)

// Auth resolves the caller identity carried in the context.
type Auth interface {
	GetUser(ctx context.Context) (*User, error)
}

// Database is the row-oriented store.
type Database interface {
	GetProfile(ctx context.Context, userID string) (*Profile, error)
	InsertProfile(ctx context.Context, p Profile) (*Profile, error)
	UpdateProfile(ctx context.Context, userID string, upd ProfileUpdate) (*Profile, error)

	InsertFile(ctx context.Context, f NewFile) (*UserFile, error)
	ListFiles(ctx context.Context, filter FileFilter) ([]UserFile, error)
	GetFile(ctx context.Context, userID, fileID string) (*UserFile, error)
	DeleteFile(ctx context.Context, userID, fileID string) error

	SearchActivity(ctx context.Context, q ActivityQuery) ([]Activity, error)

	GetContext(ctx context.Context, userID string) (*UserContext, error)
	UpsertContext(ctx context.Context, c ContextUpsert) (*UserContext, error)

	InsertSession(ctx context.Context, s NewSession) (*Session, error)
	ListConnectedAccounts(ctx context.Context, userID string) ([]ConnectedAccount, error)
	InsertAnalytics(ctx context.Context, ev AnalyticsEvent) error

	// Ping issues a minimal read used by health checks.
	Ping(ctx context.Context) error
}

// ProgressFunc receives the number of bytes stored so far and the total size.
type ProgressFunc func(loaded, total int64)

// Blobs is the named-bucket blob store.
type Blobs interface {
	Upload(ctx context.Context, bucket, path string, r io.Reader, size int64, progress ProgressFunc) (string, error)
	Remove(ctx context.Context, bucket string, paths ...string) error
}

// ChannelStatus reports the lifecycle of a realtime channel.
type ChannelStatus string

const (
	StatusSubscribed   ChannelStatus = "SUBSCRIBED"
	StatusChannelError ChannelStatus = "CHANNEL_ERROR"
	StatusClosed       ChannelStatus = "CLOSED"
)

// Filter selects row changes of one table where Column equals Value.
type Filter struct {
	Schema string
	Table  string
	Column string
	Value  string
}

// Channel is an open realtime subscription.
type Channel interface {
	Unsubscribe() error
}

// Realtime delivers row-level change notifications.
type Realtime interface {
	Subscribe(ctx context.Context, name string, filter Filter, onChange func(ChangeEvent), onStatus func(ChannelStatus, error)) (Channel, error)
}

// Service is everything the dashboard facade needs from the remote backend.
type Service interface {
	Auth
	Database
	Blobs
	Realtime
}

// Backend composes independent implementations into a Service.
type Backend struct {
	Auth
	Database
	Blobs
	Realtime
}

type accessTokenKey struct{}

// WithAccessToken attaches the caller's bearer token to ctx.
func WithAccessToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, accessTokenKey{}, token)
}

// AccessToken returns the bearer token attached to ctx, if any.
func AccessToken(ctx context.Context) string {
	tok, _ := ctx.Value(accessTokenKey{}).(string)
	return tok
}
