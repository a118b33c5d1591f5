// Package cache holds versioned song and media payloads.
//
// Every write is gated on its version: it is applied only when strictly newer
// than the cached one, so concurrent or out-of-order writers converge on the
// same final state whatever the arrival order.
package cache

import (
	"io"
	"log/slog"
	"sync"
	"time"
)

// Entry is a cached value with its version and expiry.
// A zero ExpiresAt never expires.
type Entry[V any] struct {
	Value     V
	Version   time.Time
	ExpiresAt time.Time
}

// Expired reports whether the entry is past its expiry at now.
func (e Entry[V]) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Store is a version-gated key/value cache.
// Values implementing io.Closer are closed when they leave the cache.
type Store[V any] struct {
	mu      sync.Mutex
	entries map[string]Entry[V]
	clock   Clock
}

func New[V any](clock Clock) *Store[V] {
	if clock == nil {
		clock = SystemClock
	}
	return &Store[V]{
		entries: make(map[string]Entry[V]),
		clock:   clock,
	}
}

// Get returns the entry for key. Expired entries are purged on access.
func (s *Store[V]) Get(key string) (Entry[V], bool) {
	s.mu.Lock()
	e, ok := s.entries[key]
	if ok && e.Expired(s.clock.Now()) {
		delete(s.entries, key)
		s.mu.Unlock()
		release(key, e.Value)
		return Entry[V]{}, false
	}
	s.mu.Unlock()
	return e, ok
}

// Version returns the cached version for key, zero when absent.
func (s *Store[V]) Version(key string) time.Time {
	e, ok := s.Get(key)
	if !ok {
		return time.Time{}
	}
	return e.Version
}

// Set stores e under key when e.Version is strictly newer than the cached
// version. It returns false when the write was stale and ignored; the caller
// keeps ownership of e.Value in that case.
func (s *Store[V]) Set(key string, e Entry[V]) bool {
	s.mu.Lock()
	old, ok := s.entries[key]
	if ok && old.Expired(s.clock.Now()) {
		delete(s.entries, key)
		s.mu.Unlock()
		release(key, old.Value)
		s.mu.Lock()
		old, ok = s.entries[key]
	}
	if ok && !e.Version.After(old.Version) {
		s.mu.Unlock()
		return false
	}
	s.entries[key] = e
	s.mu.Unlock()

	if ok {
		release(key, old.Value)
	}
	return true
}

// Evict removes key and releases its value.
func (s *Store[V]) Evict(key string) bool {
	s.mu.Lock()
	e, ok := s.entries[key]
	delete(s.entries, key)
	s.mu.Unlock()

	if ok {
		release(key, e.Value)
	}
	return ok
}

// Sweep purges every expired entry and returns how many were removed.
func (s *Store[V]) Sweep() int {
	now := s.clock.Now()

	s.mu.Lock()
	var expired []Entry[V]
	var keys []string
	for k, e := range s.entries {
		if e.Expired(now) {
			expired = append(expired, e)
			keys = append(keys, k)
			delete(s.entries, k)
		}
	}
	s.mu.Unlock()

	for i, e := range expired {
		release(keys[i], e.Value)
	}
	return len(expired)
}

// Len returns the number of entries, expired ones included.
func (s *Store[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close evicts everything.
func (s *Store[V]) Close() {
	s.mu.Lock()
	entries := s.entries
	s.entries = make(map[string]Entry[V])
	s.mu.Unlock()

	for k, e := range entries {
		release(k, e.Value)
	}
}

func release(key string, v any) {
	c, ok := v.(io.Closer)
	if !ok || c == nil {
		return
	}
	if err := c.Close(); err != nil {
		slog.Warn("failed to release cache entry", "key", key, "error", err)
	}
}
