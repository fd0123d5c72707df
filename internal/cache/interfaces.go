// Package cache provides the process-local TTL cache used by the dashboard
// backend facade.
package cache

import "time"

// Entry represents a cached value with the time it was written and how long
// it stays valid.
type Entry struct {
	Key       string
	Value     any
	WrittenAt time.Time
	TTL       time.Duration
}

// Fresh reports whether the entry is still valid at now.
func (e *Entry) Fresh(now time.Time) bool {
	return now.Sub(e.WrittenAt) <= e.TTL
}

// Reader defines the interface for reading cache entries
type Reader interface {
	// Get returns the value stored under key if it exists and is fresh.
	// Stale entries are removed on read.
	Get(key string) (any, bool)
}

// Writer defines the interface for writing cache entries
type Writer interface {
	// Set stores value under key for ttl.
	Set(key string, value any, ttl time.Duration)

	// SetIf stores value only if no invalidation happened since gen was
	// obtained from Generation.
	SetIf(key string, value any, ttl time.Duration, gen uint64) bool

	// Generation returns a counter that advances on every invalidation.
	Generation() uint64
}

// Invalidator removes entries explicitly.
type Invalidator interface {
	Delete(keys ...string)
	// DeletePrefix removes a key family and returns how many entries went.
	DeletePrefix(prefix string) int
}

// Cache is the main interface that combines all cache operations
type Cache interface {
	Reader
	Writer
	Invalidator
}
