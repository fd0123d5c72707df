package remote

import (
	"encoding/json"
	"time"
)

// User is an authenticated account.
type User struct {
	ID        string         `json:"id" db:"id"`
	Email     string         `json:"email" db:"email"`
	Metadata  map[string]any `json:"user_metadata,omitempty" db:"metadata"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
}

// Profile mirrors a row of the profiles table.
type Profile struct {
	ID          string    `json:"id" db:"id"`
	DisplayName *string   `json:"display_name" db:"display_name"`
	AvatarURL   *string   `json:"avatar_url" db:"avatar_url"`
	Email       *string   `json:"email" db:"email"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// CurrentUser is the signed-in user merged with their profile.
type CurrentUser struct {
	User
	Profile *Profile `json:"profile"`
}

// ProfileUpdate holds the profile columns to change; nil fields are left alone.
type ProfileUpdate struct {
	DisplayName *string   `json:"display_name,omitempty"`
	AvatarURL   *string   `json:"avatar_url,omitempty"`
	Email       *string   `json:"email,omitempty"`
	UpdatedAt   time.Time `json:"-"`
}

// Fields lists the column names set on u.
func (u ProfileUpdate) Fields() []string {
	var fields []string
	if u.DisplayName != nil {
		fields = append(fields, "display_name")
	}
	if u.AvatarURL != nil {
		fields = append(fields, "avatar_url")
	}
	if u.Email != nil {
		fields = append(fields, "email")
	}
	return fields
}

// UserFile mirrors a row of the user_files table.
type UserFile struct {
	ID        string         `json:"id" db:"id"`
	UserID    string         `json:"user_id" db:"user_id"`
	AppName   string         `json:"app_name" db:"app_name"`
	FileName  string         `json:"file_name" db:"file_name"`
	FileSize  int64          `json:"file_size" db:"file_size"`
	FileType  string         `json:"file_type" db:"file_type"`
	FilePath  string         `json:"file_path" db:"file_path"`
	Metadata  map[string]any `json:"metadata" db:"metadata"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" db:"updated_at"`
}

// NewFile is the insert shape of user_files.
type NewFile struct {
	UserID   string
	AppName  string
	FileName string
	FileSize int64
	FileType string
	FilePath string
	Metadata map[string]any
}

// FileFilter selects a user's files, optionally restricted to some apps.
type FileFilter struct {
	UserID   string
	AppNames []string
}

// Activity mirrors a row of the user_activity table.
type Activity struct {
	ID           string         `json:"id" db:"id"`
	UserID       string         `json:"user_id" db:"user_id"`
	ActivityType string         `json:"activity_type" db:"activity_type"`
	Title        string         `json:"title" db:"title"`
	Description  *string        `json:"description" db:"description"`
	Metadata     map[string]any `json:"metadata" db:"metadata"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
}

// ActivityQuery searches a user's activity. An empty Text returns the most
// recent rows.
type ActivityQuery struct {
	UserID string
	Text   string
	Limit  int
}

// UserContext mirrors a row of the user_context table.
type UserContext struct {
	ID           string         `json:"id" db:"id"`
	UserID       string         `json:"user_id" db:"user_id"`
	SystemPrompt string         `json:"system_prompt" db:"system_prompt"`
	Notes        string         `json:"notes" db:"notes"`
	Preferences  map[string]any `json:"preferences" db:"preferences"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at" db:"updated_at"`
}

// ContextUpsert is keyed by UserID.
type ContextUpsert struct {
	UserID       string
	SystemPrompt string
	Notes        string
	Preferences  map[string]any
}

// Session mirrors a row of the user_sessions table.
type Session struct {
	ID           string         `json:"id" db:"id"`
	UserID       string         `json:"user_id" db:"user_id"`
	SessionToken string         `json:"session_token" db:"session_token"`
	DeviceInfo   map[string]any `json:"device_info" db:"device_info"`
	IPAddress    *string        `json:"ip_address" db:"ip_address"`
	LocationData map[string]any `json:"location_data" db:"location_data"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
}

// NewSession is the insert shape of user_sessions.
type NewSession struct {
	UserID       string
	SessionToken string
	DeviceInfo   map[string]any
	IPAddress    *string
	LocationData map[string]any
}

// ConnectedAccount mirrors a row of the connected_accounts table.
type ConnectedAccount struct {
	ID                string    `json:"id" db:"id"`
	UserID            string    `json:"user_id" db:"user_id"`
	Provider          string    `json:"provider" db:"provider"`
	ProviderAccountID string    `json:"provider_account_id" db:"provider_account_id"`
	ProviderEmail     *string   `json:"provider_email" db:"provider_email"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
}

// AnalyticsEvent is a row of integration_analytics.
type AnalyticsEvent struct {
	EventType string         `json:"event_type"`
	UserID    *string        `json:"user_id"`
	Source    string         `json:"source"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
}

// ChangeType is the kind of row change carried by a ChangeEvent.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// ChangeEvent is one realtime row-change notification.
type ChangeEvent struct {
	Type       ChangeType      `json:"type"`
	Schema     string          `json:"schema"`
	Table      string          `json:"table"`
	New        json.RawMessage `json:"record,omitempty"`
	Old        json.RawMessage `json:"old_record,omitempty"`
	CommitTime time.Time       `json:"commit_timestamp"`
}
