package backend

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/queuecx/dashboard/internal/remote"
)

// fakeRemote is an in-memory remote.Service. Hooks override the default
// behaviour of individual calls; every call is counted.
type fakeRemote struct {
	mu    sync.Mutex
	calls map[string]int

	user    *remote.User
	profile *remote.Profile

	getUser       func(ctx context.Context) (*remote.User, error)
	updateProfile func(ctx context.Context, userID string, upd remote.ProfileUpdate) (*remote.Profile, error)
	insertProfile func(ctx context.Context, p remote.Profile) (*remote.Profile, error)
	listFiles     func(ctx context.Context, f remote.FileFilter) ([]remote.UserFile, error)
	getFile       func(ctx context.Context, userID, fileID string) (*remote.UserFile, error)
	insertFile    func(ctx context.Context, f remote.NewFile) (*remote.UserFile, error)
	upload        func(ctx context.Context, bucket, path string, r io.Reader, size int64, progress remote.ProgressFunc) (string, error)
	search        func(ctx context.Context, q remote.ActivityQuery) ([]remote.Activity, error)
	getContext    func(ctx context.Context, userID string) (*remote.UserContext, error)
	ping          func(ctx context.Context) error

	upserts  []remote.ContextUpsert
	sessions []remote.NewSession
	removed  []string
	channels []*fakeChannel
}

func newFakeRemote() *fakeRemote {
	name := "Ada"
	return &fakeRemote{
		calls:   map[string]int{},
		user:    &remote.User{ID: "u1", Email: "ada@example.com"},
		profile: &remote.Profile{ID: "u1", DisplayName: &name},
	}
}

func (r *fakeRemote) hit(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[name]++
}

func (r *fakeRemote) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[name]
}

func (r *fakeRemote) GetUser(ctx context.Context) (*remote.User, error) {
	r.hit("GetUser")
	if r.getUser != nil {
		return r.getUser(ctx)
	}
	u := *r.user
	return &u, nil
}

func (r *fakeRemote) GetProfile(_ context.Context, userID string) (*remote.Profile, error) {
	r.hit("GetProfile")
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.profile == nil {
		return nil, remote.ErrNotFound
	}
	p := *r.profile
	return &p, nil
}

func (r *fakeRemote) InsertProfile(ctx context.Context, p remote.Profile) (*remote.Profile, error) {
	r.hit("InsertProfile")
	if r.insertProfile != nil {
		return r.insertProfile(ctx, p)
	}
	r.mu.Lock()
	r.profile = &p
	r.mu.Unlock()
	return &p, nil
}

func (r *fakeRemote) UpdateProfile(ctx context.Context, userID string, upd remote.ProfileUpdate) (*remote.Profile, error) {
	r.hit("UpdateProfile")
	if r.updateProfile != nil {
		return r.updateProfile(ctx, userID, upd)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p := &remote.Profile{ID: userID, UpdatedAt: upd.UpdatedAt}
	if r.profile != nil {
		cp := *r.profile
		p = &cp
	}
	if upd.DisplayName != nil {
		p.DisplayName = upd.DisplayName
	}
	if upd.AvatarURL != nil {
		p.AvatarURL = upd.AvatarURL
	}
	p.UpdatedAt = upd.UpdatedAt
	r.profile = p
	out := *p
	return &out, nil
}

func (r *fakeRemote) InsertFile(ctx context.Context, f remote.NewFile) (*remote.UserFile, error) {
	r.hit("InsertFile")
	if r.insertFile != nil {
		return r.insertFile(ctx, f)
	}
	return &remote.UserFile{ID: "f1", UserID: f.UserID, AppName: f.AppName, FileName: f.FileName,
		FileSize: f.FileSize, FileType: f.FileType, FilePath: f.FilePath, Metadata: f.Metadata}, nil
}

func (r *fakeRemote) ListFiles(ctx context.Context, f remote.FileFilter) ([]remote.UserFile, error) {
	r.hit("ListFiles")
	if r.listFiles != nil {
		return r.listFiles(ctx, f)
	}
	return nil, nil
}

func (r *fakeRemote) GetFile(ctx context.Context, userID, fileID string) (*remote.UserFile, error) {
	r.hit("GetFile")
	if r.getFile != nil {
		return r.getFile(ctx, userID, fileID)
	}
	return nil, remote.ErrNotFound
}

func (r *fakeRemote) DeleteFile(context.Context, string, string) error {
	r.hit("DeleteFile")
	return nil
}

func (r *fakeRemote) SearchActivity(ctx context.Context, q remote.ActivityQuery) ([]remote.Activity, error) {
	r.hit("SearchActivity")
	if r.search != nil {
		return r.search(ctx, q)
	}
	return nil, nil
}

func (r *fakeRemote) GetContext(ctx context.Context, userID string) (*remote.UserContext, error) {
	r.hit("GetContext")
	if r.getContext != nil {
		return r.getContext(ctx, userID)
	}
	return nil, remote.ErrNotFound
}

func (r *fakeRemote) UpsertContext(_ context.Context, c remote.ContextUpsert) (*remote.UserContext, error) {
	r.hit("UpsertContext")
	r.mu.Lock()
	r.upserts = append(r.upserts, c)
	r.mu.Unlock()
	return &remote.UserContext{UserID: c.UserID, SystemPrompt: c.SystemPrompt, Notes: c.Notes, Preferences: c.Preferences}, nil
}

func (r *fakeRemote) InsertSession(_ context.Context, s remote.NewSession) (*remote.Session, error) {
	r.hit("InsertSession")
	r.mu.Lock()
	r.sessions = append(r.sessions, s)
	r.mu.Unlock()
	return &remote.Session{UserID: s.UserID, SessionToken: s.SessionToken, IPAddress: s.IPAddress, LocationData: s.LocationData}, nil
}

func (r *fakeRemote) ListConnectedAccounts(context.Context, string) ([]remote.ConnectedAccount, error) {
	r.hit("ListConnectedAccounts")
	return []remote.ConnectedAccount{{Provider: "github"}}, nil
}

func (r *fakeRemote) InsertAnalytics(context.Context, remote.AnalyticsEvent) error {
	r.hit("InsertAnalytics")
	return nil
}

func (r *fakeRemote) Ping(ctx context.Context) error {
	r.hit("Ping")
	if r.ping != nil {
		return r.ping(ctx)
	}
	return nil
}

func (r *fakeRemote) Upload(ctx context.Context, bucket, path string, rd io.Reader, size int64, progress remote.ProgressFunc) (string, error) {
	r.hit("Upload")
	if r.upload != nil {
		return r.upload(ctx, bucket, path, rd, size, progress)
	}
	n, err := io.Copy(io.Discard, rd)
	if err != nil {
		return "", err
	}
	if progress != nil {
		progress(n/2, size)
		progress(n, size)
	}
	return path, nil
}

func (r *fakeRemote) Remove(_ context.Context, _ string, paths ...string) error {
	r.hit("Remove")
	r.mu.Lock()
	r.removed = append(r.removed, paths...)
	r.mu.Unlock()
	return nil
}

func (r *fakeRemote) Subscribe(_ context.Context, name string, filter remote.Filter, onChange func(remote.ChangeEvent), onStatus func(remote.ChannelStatus, error)) (remote.Channel, error) {
	r.hit("Subscribe")
	ch := &fakeChannel{name: name, filter: filter, onChange: onChange, onStatus: onStatus, owner: r}
	r.mu.Lock()
	r.channels = append(r.channels, ch)
	r.mu.Unlock()
	return ch, nil
}

func (r *fakeRemote) channel(i int) *fakeChannel {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i >= len(r.channels) {
		return nil
	}
	return r.channels[i]
}

type fakeChannel struct {
	name     string
	filter   remote.Filter
	onChange func(remote.ChangeEvent)
	onStatus func(remote.ChannelStatus, error)
	owner    *fakeRemote

	mu     sync.Mutex
	closed bool
}

func (c *fakeChannel) Unsubscribe() error {
	c.owner.hit("Unsubscribe")
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

var errTransient = errors.New("connection reset")

// testClock is a settable clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingTracker struct {
	mu     sync.Mutex
	events []remote.AnalyticsEvent
}

func (t *recordingTracker) Track(_ context.Context, ev remote.AnalyticsEvent) error {
	t.mu.Lock()
	t.events = append(t.events, ev)
	t.mu.Unlock()
	return nil
}

func (t *recordingTracker) all() []remote.AnalyticsEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]remote.AnalyticsEvent(nil), t.events...)
}

// newTestFacade builds a configured facade with instant retries.
func newTestFacade(t *testing.T, r *fakeRemote, opts ...Option) *Facade {
	t.Helper()
	cfg := DefaultConfig()
	cfg.RetryDelay = 0
	cfg.ReconnectDelay = 10 * time.Millisecond
	f := New(Configured{Remote: r}, append([]Option{WithConfig(cfg)}, opts...)...)
	t.Cleanup(f.Close)
	return f
}
