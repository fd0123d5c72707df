package cache

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestMemory(t *testing.T) (*Memory, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	m := NewMemory(WithClock(clock.Now), WithSweepInterval(0))
	t.Cleanup(m.Close)
	return m, clock
}

func TestMemory_ReadAfterWrite(t *testing.T) {
	m, _ := newTestMemory(t)
	m.Set("current-user", "alice", time.Minute)

	v, ok := m.Get("current-user")
	if !ok {
		t.Fatal("expected a hit right after write")
	}
	if v != "alice" {
		t.Errorf("Get() = %v, want alice", v)
	}
}

func TestMemory_TTLBoundary(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		hit     bool
	}{
		{"half ttl", 30 * time.Second, true},
		{"exactly ttl", 60 * time.Second, true},
		{"past ttl", 61 * time.Second, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, clock := newTestMemory(t)
			m.Set("current-user", "alice", 60*time.Second)
			clock.Advance(tt.elapsed)

			_, ok := m.Get("current-user")
			if ok != tt.hit {
				t.Errorf("Get() after %v hit = %v, want %v", tt.elapsed, ok, tt.hit)
			}
			if !tt.hit && m.Len() != 0 {
				t.Errorf("stale entry should be evicted on read, Len() = %d", m.Len())
			}
		})
	}
}

func TestMemory_DeletePrefixIsNarrow(t *testing.T) {
	m, _ := newTestMemory(t)
	m.Set("search-u1-a-20", 1, time.Minute)
	m.Set("search-u1-b-20", 2, time.Minute)
	m.Set("context-u1", 3, time.Minute)

	if n := m.DeletePrefix("search-u1-"); n != 2 {
		t.Errorf("DeletePrefix() removed %d entries, want 2", n)
	}
	if _, ok := m.Get("context-u1"); !ok {
		t.Error("unrelated key should survive a prefix invalidation")
	}
}

func TestMemory_SetIfRejectsAfterInvalidation(t *testing.T) {
	m, _ := newTestMemory(t)
	gen := m.Generation()

	m.Delete("profile-u1")

	if m.SetIf("profile-u1", "stale", time.Minute, gen) {
		t.Fatal("SetIf should refuse a value fetched before an invalidation")
	}
	if _, ok := m.Get("profile-u1"); ok {
		t.Error("stale value must not be readable")
	}

	if !m.SetIf("profile-u1", "fresh", time.Minute, m.Generation()) {
		t.Error("SetIf with the current generation should store")
	}
}

func TestMemory_Sweep(t *testing.T) {
	m, clock := newTestMemory(t)
	m.Set("short", 1, time.Second)
	m.Set("long", 2, time.Hour)
	clock.Advance(time.Minute)

	if n := m.Sweep(); n != 1 {
		t.Errorf("Sweep() = %d, want 1", n)
	}
	if m.Len() != 1 {
		t.Errorf("Len() = %d, want 1", m.Len())
	}
}

func TestMemory_SweeperStopsOnClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := NewMemory(WithSweepInterval(time.Millisecond))
	m.Set("k", 1, time.Nanosecond)
	time.Sleep(10 * time.Millisecond)
	m.Close()
	m.Close()
}

func TestNop(t *testing.T) {
	var c Cache = Nop{}
	c.Set("k", 1, time.Minute)
	if _, ok := c.Get("k"); ok {
		t.Error("Nop cache should never hit")
	}
}

func TestKeys(t *testing.T) {
	if got := Key("profile", "u1"); got != "profile-u1" {
		t.Errorf("Key() = %q", got)
	}
	a := SetKey("batch-files", "u1", []string{"QCX", "Fluid"})
	b := SetKey("batch-files", "u1", []string{"Fluid", "QCX"})
	if a != b {
		t.Errorf("SetKey should be order-insensitive: %q vs %q", a, b)
	}
	if a != "batch-files-u1-Fluid,QCX" {
		t.Errorf("SetKey() = %q", a)
	}
	if got := SearchKey("u1", "", 20); got != "search-u1--20" {
		t.Errorf("SearchKey() = %q", got)
	}
	if Fingerprint("") != "" {
		t.Error("empty secret should have empty fingerprint")
	}
	if len(Fingerprint("token")) != 16 {
		t.Errorf("Fingerprint length = %d, want 16", len(Fingerprint("token")))
	}
}
