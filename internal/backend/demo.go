package backend

import (
	"time"

	"github.com/google/uuid"

	"github.com/queuecx/dashboard/internal/remote"
)

// Demo identity served while the backend is unconfigured.
const (
	DemoUserID = "demo"
	DemoEmail  = "demo@queue.cx"
	demoName   = "Demo User"
)

func demoUser(now time.Time) *remote.CurrentUser {
	name, email := demoName, DemoEmail
	created := now.UTC()
	return &remote.CurrentUser{
		User: remote.User{
			ID:        DemoUserID,
			Email:     DemoEmail,
			Metadata:  map[string]any{"demo": true},
			CreatedAt: created,
		},
		Profile: &remote.Profile{
			ID:          DemoUserID,
			DisplayName: &name,
			Email:       &email,
			CreatedAt:   created,
			UpdatedAt:   created,
		},
	}
}

func demoProfile(userID string, upd remote.ProfileUpdate, now time.Time) *remote.Profile {
	p := demoUser(now).Profile
	p.ID = userID
	if upd.DisplayName != nil {
		p.DisplayName = upd.DisplayName
	}
	if upd.AvatarURL != nil {
		p.AvatarURL = upd.AvatarURL
	}
	if upd.Email != nil {
		p.Email = upd.Email
	}
	return p
}

func demoFile(f remote.NewFile, now time.Time) *remote.UserFile {
	return &remote.UserFile{
		ID:        uuid.NewString(),
		UserID:    f.UserID,
		AppName:   f.AppName,
		FileName:  f.FileName,
		FileSize:  f.FileSize,
		FileType:  f.FileType,
		FilePath:  f.FilePath,
		Metadata:  f.Metadata,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
}

func demoContext(c remote.ContextUpsert, now time.Time) *remote.UserContext {
	return &remote.UserContext{
		ID:           uuid.NewString(),
		UserID:       c.UserID,
		SystemPrompt: c.SystemPrompt,
		Notes:        c.Notes,
		Preferences:  c.Preferences,
		CreatedAt:    now.UTC(),
		UpdatedAt:    now.UTC(),
	}
}

func demoSession(s remote.NewSession, now time.Time) *remote.Session {
	return &remote.Session{
		ID:           uuid.NewString(),
		UserID:       s.UserID,
		SessionToken: s.SessionToken,
		DeviceInfo:   s.DeviceInfo,
		IPAddress:    s.IPAddress,
		LocationData: map[string]any{},
		CreatedAt:    now.UTC(),
	}
}
