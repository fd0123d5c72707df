package backend

import (
	"bytes"
	"context"
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/queuecx/dashboard/internal/cache"
	"github.com/queuecx/dashboard/internal/remote"
)

// DefaultSearchLimit caps SearchActivity when no limit is given.
const DefaultSearchLimit = 20

// SearchActivity full-text searches the user's activity titles, newest first.
// An empty query returns the most recent entries.
func (f *Facade) SearchActivity(ctx context.Context, userID, query string, limit int) ([]remote.Activity, error) {
	if err := requireID("user_id", userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	switch c := f.conn.(type) {
	case Unconfigured:
		return []remote.Activity{}, nil
	case Configured:
		q := remote.ActivityQuery{UserID: userID, Text: strings.TrimSpace(query), Limit: limit}
		rows, err := load(ctx, f, cache.SearchKey(userID, query, limit), searchTTL, "searchActivity", func(ctx context.Context) ([]remote.Activity, error) {
			return c.Remote.SearchActivity(ctx, q)
		})
		if err != nil {
			return nil, &RemoteError{Op: "searchActivity", Err: err}
		}
		return rows, nil
	}
	return nil, errUnknownConnection
}

// SubscribeToUserActivity delivers every change to the user's activity rows to
// callback until the returned function is called. A dropped channel is
// re-established after Config.ReconnectDelay. The returned function is
// idempotent; once it returns, callback is not invoked again. Called from
// inside callback it returns without waiting for deliveries running on other
// goroutines.
func (f *Facade) SubscribeToUserActivity(ctx context.Context, userID string, callback func(remote.ChangeEvent)) (func(), error) {
	if err := requireID("user_id", userID); err != nil {
		return nil, err
	}
	if callback == nil {
		return nil, invalid("callback", "callback is required")
	}

	switch c := f.conn.(type) {
	case Unconfigured:
		return func() {}, nil
	case Configured:
		s := &subscription{
			f:    f,
			rt:   c.Remote,
			name: "user-activity-" + userID,
			filter: remote.Filter{
				Schema: "public",
				Table:  "user_activity",
				Column: "user_id",
				Value:  userID,
			},
			callback: callback,
		}
		s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
		s.connect()
		return s.unsubscribe, nil
	}
	return nil, errUnknownConnection
}

type subscription struct {
	f        *Facade
	rt       remote.Realtime
	name     string
	filter   remote.Filter
	callback func(remote.ChangeEvent)

	ctx    context.Context
	cancel context.CancelFunc

	// deliver is held for reading while callback runs so unsubscribe can wait
	// for in-flight deliveries.
	deliver sync.RWMutex

	mu         sync.Mutex
	stopped    bool
	delivering map[uint64]int // callbacks running, by goroutine id
	gen     int // advances on every (re)subscribe; stale status reports are ignored
	ch      remote.Channel
	timer   *time.Timer
}

func (s *subscription) connect() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	ch, err := s.rt.Subscribe(s.ctx, s.name, s.filter, s.onChange, func(st remote.ChannelStatus, err error) {
		s.onStatus(gen, st, err)
	})
	if err != nil {
		s.onStatus(gen, remote.StatusChannelError, err)
		return
	}

	s.mu.Lock()
	if s.stopped || s.gen != gen {
		s.mu.Unlock()
		_ = ch.Unsubscribe()
		return
	}
	s.ch = ch
	s.mu.Unlock()
}

func (s *subscription) onChange(ev remote.ChangeEvent) {
	s.deliver.RLock()
	defer s.deliver.RUnlock()

	gid := goroutineID()
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if s.delivering == nil {
		s.delivering = make(map[uint64]int)
	}
	s.delivering[gid]++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.delivering[gid]--; s.delivering[gid] == 0 {
			delete(s.delivering, gid)
		}
		s.mu.Unlock()
	}()
	s.callback(ev)
}

func (s *subscription) onStatus(gen int, st remote.ChannelStatus, err error) {
	log := s.f.log.With().Str("channel", s.name).Logger()
	switch st {
	case remote.StatusSubscribed:
		log.Info().Msg("subscribed to activity updates")
	case remote.StatusClosed:
		log.Debug().Msg("activity channel closed")
	case remote.StatusChannelError:
		log.Warn().Err(&SubscriptionError{Channel: s.name, Err: err}).Dur("retry_in", s.f.cfg.ReconnectDelay).Msg("activity channel failed")

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.stopped || s.gen != gen || s.timer != nil {
			return
		}
		s.timer = time.AfterFunc(s.f.cfg.ReconnectDelay, func() { s.reconnect(gen) })
	}
}

func (s *subscription) reconnect(gen int) {
	s.mu.Lock()
	if s.stopped || s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	old := s.ch
	s.ch = nil
	s.mu.Unlock()

	if old != nil {
		if err := old.Unsubscribe(); err != nil {
			s.f.log.Warn().Err(err).Str("channel", s.name).Msg("failed to close dropped channel")
		}
	}
	s.connect()
}

func (s *subscription) unsubscribe() {
	s.mu.Lock()
	reentrant := s.delivering[goroutineID()] > 0
	s.mu.Unlock()

	if reentrant {
		// This goroutine holds deliver and may be the channel's listener,
		// so neither wait for deliveries nor close the channel inline.
		if ch, ok := s.stop(); ok {
			go s.close(ch)
		}
		return
	}

	s.deliver.Lock()
	ch, ok := s.stop()
	s.deliver.Unlock()
	if ok {
		s.close(ch)
	}
}

// stop marks the subscription stopped and hands back the channel to close.
// ok is false if it was already stopped.
func (s *subscription) stop() (ch remote.Channel, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, false
	}
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	ch, s.ch = s.ch, nil
	return ch, true
}

func (s *subscription) close(ch remote.Channel) {
	s.cancel()
	if ch == nil {
		return
	}
	if err := ch.Unsubscribe(); err != nil {
		s.f.log.Warn().Err(err).Str("channel", s.name).Msg("failed to unsubscribe")
	}
}

// goroutineID parses the running goroutine's id from its stack header,
// "goroutine 18 [running]:".
func goroutineID() uint64 {
	var buf [64]byte
	b := bytes.TrimPrefix(buf[:runtime.Stack(buf[:], false)], []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		panic(fmt.Sprintf("parse goroutine id from %q: %v", b, err))
	}
	return id
}
