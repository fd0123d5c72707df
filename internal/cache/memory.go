package cache

import (
	"strings"
	"sync"
	"time"
)

// DefaultSweepInterval is how often expired entries are removed in the
// background.
const DefaultSweepInterval = 5 * time.Minute

// Memory is an in-memory Cache safe for concurrent use.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*Entry
	gen     uint64

	now      func() time.Time
	interval time.Duration

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

type Option func(*Memory)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Memory) { m.now = now }
}

// WithSweepInterval sets the background sweep period. Zero disables the
// sweeper.
func WithSweepInterval(d time.Duration) Option {
	return func(m *Memory) { m.interval = d }
}

// NewMemory creates a cache and starts its sweeper.
func NewMemory(opts ...Option) *Memory {
	m := &Memory{
		entries:  make(map[string]*Entry),
		now:      time.Now,
		interval: DefaultSweepInterval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	if m.interval > 0 {
		go m.sweepLoop()
	} else {
		close(m.done)
	}
	return m
}

func (m *Memory) Get(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ent, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if !ent.Fresh(m.now()) {
		delete(m.entries, key)
		return nil, false
	}
	return ent.Value, true
}

func (m *Memory) Set(key string, value any, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(key, value, ttl)
}

func (m *Memory) SetIf(key string, value any, ttl time.Duration, gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return false
	}
	m.put(key, value, ttl)
	return true
}

func (m *Memory) put(key string, value any, ttl time.Duration) {
	m.entries[key] = &Entry{Key: key, Value: value, WrittenAt: m.now(), TTL: ttl}
}

func (m *Memory) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen
}

func (m *Memory) Delete(keys ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gen++
	for _, k := range keys {
		delete(m.entries, k)
	}
}

func (m *Memory) DeletePrefix(prefix string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gen++
	n := 0
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			delete(m.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of stored entries, fresh or not.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Sweep removes every expired entry and returns how many were removed.
func (m *Memory) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for k, ent := range m.entries {
		if !ent.Fresh(now) {
			delete(m.entries, k)
			n++
		}
	}
	return n
}

// Close stops the sweeper and waits for it to exit.
func (m *Memory) Close() {
	m.once.Do(func() { close(m.stop) })
	<-m.done
}

func (m *Memory) sweepLoop() {
	defer close(m.done)
	t := time.NewTicker(m.interval)
	defer t.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-t.C:
			m.Sweep()
		}
	}
}

// Nop is a Cache that stores nothing. It backs a facade with caching turned
// off.
type Nop struct{}

func (Nop) Get(string) (any, bool) { return nil, false }
func (Nop) Set(string, any, time.Duration) {}
func (Nop) SetIf(string, any, time.Duration, uint64) bool { return false }
func (Nop) Generation() uint64 { return 0 }
func (Nop) Delete(...string) {}
func (Nop) DeletePrefix(string) int { return 0 }
