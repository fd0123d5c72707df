package auth

import (
	"sync"
	"time"
)

// EventType names an auth state change.
type EventType string

const (
	SignedIn       EventType = "SIGNED_IN"
	SignedOut      EventType = "SIGNED_OUT"
	TokenRefreshed EventType = "TOKEN_REFRESHED"
	UserUpdated    EventType = "USER_UPDATED"
)

type Event struct {
	Type    EventType `json:"event"`
	UserID  string    `json:"user_id"`
	Session *Session  `json:"session,omitempty"`
	At      time.Time `json:"at"`
}

// Broadcaster fans auth events out to listeners. Listeners run synchronously
// on the publishing goroutine and must not block.
type Broadcaster struct {
	mu        sync.RWMutex
	next      int
	listeners map[int]func(Event)
}

// Subscribe registers fn and returns a function that removes it.
func (b *Broadcaster) Subscribe(fn func(Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listeners == nil {
		b.listeners = make(map[int]func(Event))
	}
	id := b.next
	b.next++
	b.listeners[id] = fn
	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}
}

func (b *Broadcaster) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, fn := range b.listeners {
		fn(ev)
	}
}
