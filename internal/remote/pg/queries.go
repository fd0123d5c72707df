package pg

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/queuecx/dashboard/internal/remote"
)

const (
	profileCols  = `id::text AS id, display_name, avatar_url, email, created_at, updated_at`
	fileCols     = `id::text AS id, user_id::text AS user_id, app_name, file_name, file_size, file_type, file_path, metadata, created_at, updated_at`
	activityCols = `id::text AS id, user_id::text AS user_id, activity_type, title, description, metadata, created_at`
	contextCols  = `id::text AS id, user_id::text AS user_id, system_prompt, notes, preferences, created_at, updated_at`
	sessionCols  = `id::text AS id, user_id::text AS user_id, session_token, device_info, ip_address, location_data, created_at`
	accountCols  = `id::text AS id, user_id::text AS user_id, provider, provider_account_id, provider_email, created_at`
)

func (c *Client) GetProfile(ctx context.Context, userID string) (*remote.Profile, error) {
	p, err := collectOne[remote.Profile](c.pool.Query(ctx,
		`SELECT `+profileCols+` FROM profiles WHERE id = $1`, userID))
	if err != nil {
		return nil, fmt.Errorf("get profile %s: %w", userID, err)
	}
	return p, nil
}

func (c *Client) InsertProfile(ctx context.Context, p remote.Profile) (*remote.Profile, error) {
	out, err := collectOne[remote.Profile](c.pool.Query(ctx, `
		INSERT INTO profiles (id, display_name, avatar_url, email, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (id) DO UPDATE SET updated_at = profiles.updated_at
		RETURNING `+profileCols,
		p.ID, p.DisplayName, p.AvatarURL, p.Email, p.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("insert profile %s: %w", p.ID, err)
	}
	return out, nil
}

// UpdateProfile sets only the fields present in upd.
func (c *Client) UpdateProfile(ctx context.Context, userID string, upd remote.ProfileUpdate) (*remote.Profile, error) {
	sets := []string{"updated_at = $2"}
	args := []any{userID, upd.UpdatedAt}
	add := func(col string, v *string) {
		if v == nil {
			return
		}
		args = append(args, *v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	add("display_name", upd.DisplayName)
	add("avatar_url", upd.AvatarURL)
	add("email", upd.Email)

	p, err := collectOne[remote.Profile](c.pool.Query(ctx,
		`UPDATE profiles SET `+strings.Join(sets, ", ")+` WHERE id = $1 RETURNING `+profileCols, args...))
	if err != nil {
		return nil, fmt.Errorf("update profile %s: %w", userID, err)
	}
	return p, nil
}

func (c *Client) InsertFile(ctx context.Context, f remote.NewFile) (*remote.UserFile, error) {
	out, err := collectOne[remote.UserFile](c.pool.Query(ctx, `
		INSERT INTO user_files (user_id, app_name, file_name, file_size, file_type, file_path, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+fileCols,
		f.UserID, f.AppName, f.FileName, f.FileSize, f.FileType, f.FilePath, f.Metadata))
	if err != nil {
		return nil, fmt.Errorf("insert file %s: %w", f.FilePath, err)
	}
	return out, nil
}

// ListFiles returns matching files newest first.
func (c *Client) ListFiles(ctx context.Context, filter remote.FileFilter) ([]remote.UserFile, error) {
	q := `SELECT ` + fileCols + ` FROM user_files WHERE user_id = $1`
	args := []any{filter.UserID}
	if len(filter.AppNames) > 0 {
		q += ` AND app_name = ANY($2)`
		args = append(args, filter.AppNames)
	}
	q += ` ORDER BY created_at DESC`

	files, err := collectAll[remote.UserFile](c.pool.Query(ctx, q, args...))
	if err != nil {
		return nil, fmt.Errorf("list files %s: %w", filter.UserID, err)
	}
	return files, nil
}

func (c *Client) GetFile(ctx context.Context, userID, fileID string) (*remote.UserFile, error) {
	f, err := collectOne[remote.UserFile](c.pool.Query(ctx,
		`SELECT `+fileCols+` FROM user_files WHERE id = $1 AND user_id = $2`, fileID, userID))
	if err != nil {
		return nil, fmt.Errorf("get file %s: %w", fileID, err)
	}
	return f, nil
}

func (c *Client) DeleteFile(ctx context.Context, userID, fileID string) error {
	if _, err := c.pool.Exec(ctx, `DELETE FROM user_files WHERE id = $1 AND user_id = $2`, fileID, userID); err != nil {
		return fmt.Errorf("delete file %s: %w", fileID, err)
	}
	return nil
}

// SearchActivity matches titles with english websearch syntax. An empty
// query lists the newest rows.
func (c *Client) SearchActivity(ctx context.Context, q remote.ActivityQuery) ([]remote.Activity, error) {
	sql := `SELECT ` + activityCols + ` FROM user_activity WHERE user_id = $1`
	args := []any{q.UserID, q.Limit}
	if q.Text != "" {
		sql += ` AND to_tsvector('english', title) @@ websearch_to_tsquery('english', $3)`
		args = append(args, q.Text)
	}
	sql += ` ORDER BY created_at DESC LIMIT $2`

	rows, err := collectAll[remote.Activity](c.pool.Query(ctx, sql, args...))
	if err != nil {
		return nil, fmt.Errorf("search activity %s: %w", q.UserID, err)
	}
	return rows, nil
}

func (c *Client) GetContext(ctx context.Context, userID string) (*remote.UserContext, error) {
	uc, err := collectOne[remote.UserContext](c.pool.Query(ctx,
		`SELECT `+contextCols+` FROM user_context WHERE user_id = $1`, userID))
	if err != nil {
		return nil, fmt.Errorf("get context %s: %w", userID, err)
	}
	return uc, nil
}

func (c *Client) UpsertContext(ctx context.Context, up remote.ContextUpsert) (*remote.UserContext, error) {
	uc, err := collectOne[remote.UserContext](c.pool.Query(ctx, `
		INSERT INTO user_context (user_id, system_prompt, notes, preferences)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			system_prompt = EXCLUDED.system_prompt,
			notes         = EXCLUDED.notes,
			preferences   = user_context.preferences || EXCLUDED.preferences,
			updated_at    = now()
		RETURNING `+contextCols,
		up.UserID, up.SystemPrompt, up.Notes, up.Preferences))
	if err != nil {
		return nil, fmt.Errorf("upsert context %s: %w", up.UserID, err)
	}
	return uc, nil
}

func (c *Client) InsertSession(ctx context.Context, s remote.NewSession) (*remote.Session, error) {
	out, err := collectOne[remote.Session](c.pool.Query(ctx, `
		INSERT INTO user_sessions (user_id, session_token, device_info, ip_address, location_data)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+sessionCols,
		s.UserID, s.SessionToken, s.DeviceInfo, s.IPAddress, s.LocationData))
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return out, nil
}

func (c *Client) ListConnectedAccounts(ctx context.Context, userID string) ([]remote.ConnectedAccount, error) {
	accounts, err := collectAll[remote.ConnectedAccount](c.pool.Query(ctx,
		`SELECT `+accountCols+` FROM connected_accounts WHERE user_id = $1 ORDER BY created_at`, userID))
	if err != nil {
		return nil, fmt.Errorf("list connected accounts %s: %w", userID, err)
	}
	return accounts, nil
}

// LinkAccount records an OAuth identity for userID, keeping the first link.
func (c *Client) LinkAccount(ctx context.Context, a remote.ConnectedAccount) error {
	_, err := c.pool.Exec(ctx, `
		INSERT INTO connected_accounts (user_id, provider, provider_account_id, provider_email)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider, provider_account_id) DO UPDATE SET provider_email = EXCLUDED.provider_email`,
		a.UserID, a.Provider, a.ProviderAccountID, a.ProviderEmail)
	if err != nil {
		return fmt.Errorf("link %s account: %w", a.Provider, err)
	}
	return nil
}

func (c *Client) InsertAnalytics(ctx context.Context, ev remote.AnalyticsEvent) error {
	var at any
	if !ev.CreatedAt.IsZero() {
		at = ev.CreatedAt
	}
	_, err := c.pool.Exec(ctx, `
		INSERT INTO integration_analytics (event_type, user_id, source, metadata, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5::timestamptz, now()))`,
		ev.EventType, ev.UserID, ev.Source, ev.Metadata, at)
	if err != nil {
		return fmt.Errorf("insert analytics %s: %w", ev.EventType, err)
	}
	return nil
}

// CreateUser inserts an account. An existing email yields
// remote.ErrAlreadyExists.
func (c *Client) CreateUser(ctx context.Context, email, passwordHash string, metadata map[string]any) (*remote.User, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	var hash any
	if passwordHash != "" {
		hash = passwordHash
	}
	u, err := collectOne[remote.User](c.pool.Query(ctx, `
		INSERT INTO auth_users (email, password_hash, metadata)
		VALUES (lower($1), $2, $3)
		ON CONFLICT (email) DO NOTHING
		RETURNING id::text AS id, email, metadata, created_at`,
		email, hash, metadata))
	if errors.Is(err, remote.ErrNotFound) {
		return nil, remote.ErrAlreadyExists
	}
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// UserByEmail returns the account and its password hash ("" for OAuth-only
// accounts).
func (c *Client) UserByEmail(ctx context.Context, email string) (*remote.User, string, error) {
	var (
		u    remote.User
		hash *string
	)
	err := c.pool.QueryRow(ctx, `
		SELECT id::text, email, metadata, created_at, password_hash
		FROM auth_users WHERE email = lower($1)`, email).
		Scan(&u.ID, &u.Email, &u.Metadata, &u.CreatedAt, &hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, "", remote.ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("user by email: %w", err)
	}
	if hash == nil {
		return &u, "", nil
	}
	return &u, *hash, nil
}

func (c *Client) UserByID(ctx context.Context, id string) (*remote.User, error) {
	u, err := collectOne[remote.User](c.pool.Query(ctx,
		`SELECT id::text AS id, email, metadata, created_at FROM auth_users WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("user by id: %w", err)
	}
	return u, nil
}
