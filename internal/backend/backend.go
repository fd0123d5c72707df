// Package backend implements the dashboard's single access point to the
// remote backend service. The Facade adds caching, retries, request
// deduplication, analytics events and self-healing realtime subscriptions on
// top of a remote.Service.
package backend

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/queuecx/dashboard/internal/cache"
	"github.com/queuecx/dashboard/internal/remote"
	"github.com/queuecx/dashboard/internal/retry"
)

// Connection is the configuration state resolved once at startup: either
// Configured with a remote service or Unconfigured (demo mode).
type Connection interface {
	connection()
}

// Configured routes every operation to Remote.
type Configured struct {
	Remote remote.Service
}

// Unconfigured serves a synthetic signed-in user and turns writes into no-ops.
type Unconfigured struct{}

func (Configured) connection()   {}
func (Unconfigured) connection() {}

// Config tunes the facade's resilience features.
type Config struct {
	MaxRetries       int
	RetryDelay       time.Duration
	EnableCaching    bool
	EnableAnalytics  bool
	ReconnectDelay   time.Duration
	MaxUploadSize    int64
	AllowedFileTypes []string // content-type prefixes; empty allows any
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:      3,
		RetryDelay:      time.Second,
		EnableCaching:   true,
		EnableAnalytics: true,
		ReconnectDelay:  5 * time.Second,
		MaxUploadSize:   50 << 20,
	}
}

// Tracker records analytics events.
type Tracker interface {
	Track(ctx context.Context, ev remote.AnalyticsEvent) error
}

// Facade is safe for concurrent use. Values it returns may be shared with the
// cache and other callers and must be treated as read-only.
type Facade struct {
	conn Connection
	cfg  Config

	cache      cache.Cache
	closeCache func()
	group      singleflight.Group
	retry      retry.Policy

	wmu     sync.Mutex
	waiters map[string]int
	users   userIndex

	log     zerolog.Logger
	now     func() time.Time
	tracker Tracker
	ip      IPLookup
	locator Locator

	lastVersion atomic.Int64
}

type Option func(*Facade)

func WithConfig(cfg Config) Option {
	return func(f *Facade) { f.cfg = cfg }
}

func WithLogger(l zerolog.Logger) Option {
	return func(f *Facade) { f.log = l }
}

// WithClock replaces time.Now for cache ages, paths and version markers.
func WithClock(now func() time.Time) Option {
	return func(f *Facade) { f.now = now }
}

// WithCache overrides the cache built from Config.EnableCaching.
func WithCache(c cache.Cache) Option {
	return func(f *Facade) { f.cache = c }
}

func WithTracker(t Tracker) Option {
	return func(f *Facade) { f.tracker = t }
}

func WithIPLookup(l IPLookup) Option {
	return func(f *Facade) { f.ip = l }
}

func WithLocator(l Locator) Option {
	return func(f *Facade) { f.locator = l }
}

// New builds a facade over conn.
func New(conn Connection, opts ...Option) *Facade {
	f := &Facade{
		conn: conn,
		cfg:  DefaultConfig(),
		log:  zerolog.Nop(),
		now:  time.Now,
	}
	for _, o := range opts {
		o(f)
	}
	if f.cfg.MaxUploadSize <= 0 {
		f.cfg.MaxUploadSize = DefaultConfig().MaxUploadSize
	}
	if f.cache == nil {
		if f.cfg.EnableCaching {
			m := cache.NewMemory(cache.WithClock(f.now))
			f.cache, f.closeCache = m, m.Close
		} else {
			f.cache = cache.Nop{}
		}
	}
	f.retry = retry.Policy{
		MaxAttempts: f.cfg.MaxRetries,
		BaseDelay:   f.cfg.RetryDelay,
		Logger:      f.log,
	}
	return f
}

// Close stops background work owned by the facade.
func (f *Facade) Close() {
	if f.closeCache != nil {
		f.closeCache()
	}
}

// IsConfigured reports whether a remote service backs the facade.
func (f *Facade) IsConfigured() bool {
	_, ok := f.conn.(Configured)
	return ok
}

// Mode is "production" when configured and "demo" otherwise.
func (f *Facade) Mode() string {
	if f.IsConfigured() {
		return "production"
	}
	return "demo"
}

// sharedCallTimeout bounds a shared fetch, which no longer follows the
// context of the caller that started it.
const sharedCallTimeout = time.Minute

// share runs fn once for all concurrent callers of key. fn runs detached from
// any single caller's cancellation; each caller stops waiting when its own ctx
// is done.
func share[T any](ctx context.Context, f *Facade, key string, fn func(context.Context) (T, error)) (T, error) {
	ch := f.group.DoChan(key, func() (any, error) {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedCallTimeout)
		defer cancel()
		return fn(sctx)
	})
	if n := f.join(key); n > 1 {
		f.log.Debug().Str("key", key).Int("waiting", n).Msg("joined in-flight request")
	}
	defer f.leave(key)

	var zero T
	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (f *Facade) join(key string) int {
	f.wmu.Lock()
	defer f.wmu.Unlock()
	if f.waiters == nil {
		f.waiters = make(map[string]int)
	}
	f.waiters[key]++
	return f.waiters[key]
}

func (f *Facade) leave(key string) {
	f.wmu.Lock()
	defer f.wmu.Unlock()
	if f.waiters[key]--; f.waiters[key] <= 0 {
		delete(f.waiters, key)
	}
}

// waiting reports how many callers are waiting on the shared call for key.
func (f *Facade) waiting(key string) int {
	f.wmu.Lock()
	defer f.wmu.Unlock()
	return f.waiters[key]
}

// load serves key from the cache or fetches it once for all concurrent
// callers, retrying the fetch and caching the result for ttl.
func load[T any](ctx context.Context, f *Facade, key string, ttl time.Duration, op string, fetch func(context.Context) (T, error)) (T, error) {
	if v, ok := f.cache.Get(key); ok {
		if t, ok := v.(T); ok {
			return t, nil
		}
	}
	return share(ctx, f, key, func(ctx context.Context) (T, error) {
		gen := f.cache.Generation()
		res, err := retry.Do(ctx, f.retry, op, fetch)
		if err != nil {
			return res, err
		}
		if ttl > 0 {
			f.cache.SetIf(key, res, ttl, gen)
		}
		return res, nil
	})
}

// dedup collapses concurrent calls sharing key into one retried fetch.
func dedup[T any](ctx context.Context, f *Facade, key, op string, fetch func(context.Context) (T, error)) (T, error) {
	return share(ctx, f, key, func(ctx context.Context) (T, error) {
		return retry.Do(ctx, f.retry, op, fetch)
	})
}

func (f *Facade) invalidate(keys ...string) {
	f.cache.Delete(keys...)
	for _, k := range keys {
		f.group.Forget(k)
	}
}

func (f *Facade) track(ctx context.Context, event, userID string, meta map[string]any) {
	if !f.cfg.EnableAnalytics || f.tracker == nil {
		return
	}
	md := map[string]any{"timestamp": f.now().UTC().Format(time.RFC3339Nano)}
	if info, ok := ClientInfoFrom(ctx); ok {
		md["url"] = info.URL
		md["userAgent"] = info.UserAgent
	}
	for k, v := range meta {
		md[k] = v
	}
	ev := remote.AnalyticsEvent{EventType: event, Source: "scalable-backend", Metadata: md, CreatedAt: f.now().UTC()}
	if userID != "" {
		ev.UserID = &userID
	}
	if err := f.tracker.Track(ctx, ev); err != nil {
		f.log.Warn().Err(err).Str("event", event).Msg("failed to track event")
	}
}
