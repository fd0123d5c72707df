package backend

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/queuecx/dashboard/internal/cache"
	"github.com/queuecx/dashboard/internal/remote"
	"github.com/queuecx/dashboard/internal/retry"
)

func contextKey(userID string) string { return cache.Key("context", userID) }

// UpdateUserContext upserts the user's AI context. preferences.version is a
// millisecond timestamp that strictly increases across calls in this process.
func (f *Facade) UpdateUserContext(ctx context.Context, userID, systemPrompt, notes string) (*remote.UserContext, error) {
	if err := requireID("user_id", userID); err != nil {
		return nil, err
	}
	if err := validateContext(systemPrompt, notes); err != nil {
		return nil, err
	}

	now := f.now().UTC()
	up := remote.ContextUpsert{
		UserID:       userID,
		SystemPrompt: systemPrompt,
		Notes:        notes,
		Preferences: map[string]any{
			"version":      f.nextVersion(),
			"lastModified": now.Format(time.RFC3339Nano),
		},
	}

	switch c := f.conn.(type) {
	case Unconfigured:
		return demoContext(up, now), nil
	case Configured:
		uc, err := retry.Do(ctx, f.retry, "updateUserContext", func(ctx context.Context) (*remote.UserContext, error) {
			return c.Remote.UpsertContext(ctx, up)
		})
		if err != nil {
			return nil, &RemoteError{Op: "updateUserContext", Err: err}
		}
		f.invalidate(contextKey(userID))
		f.track(ctx, "context_updated", userID, map[string]any{
			"userId":             userID,
			"systemPromptLength": utf8.RuneCountInString(systemPrompt),
			"notesLength":        utf8.RuneCountInString(notes),
		})
		return uc, nil
	}
	return nil, errUnknownConnection
}

// GetUserContext returns the user's AI context, or nil if none was saved yet.
func (f *Facade) GetUserContext(ctx context.Context, userID string) (*remote.UserContext, error) {
	if err := requireID("user_id", userID); err != nil {
		return nil, err
	}

	switch c := f.conn.(type) {
	case Unconfigured:
		return nil, nil
	case Configured:
		uc, err := load(ctx, f, contextKey(userID), contextTTL, "getUserContext", func(ctx context.Context) (*remote.UserContext, error) {
			uc, err := c.Remote.GetContext(ctx, userID)
			if errors.Is(err, remote.ErrNotFound) {
				return nil, nil
			}
			return uc, err
		})
		if err != nil {
			return nil, &RemoteError{Op: "getUserContext", Err: err}
		}
		return uc, nil
	}
	return nil, errUnknownConnection
}

func (f *Facade) nextVersion() int64 {
	for {
		last := f.lastVersion.Load()
		v := f.now().UnixMilli()
		if v <= last {
			v = last + 1
		}
		if f.lastVersion.CompareAndSwap(last, v) {
			return v
		}
	}
}
