package cache

import (
	"errors"
	"sync"
	"time"
)

var ErrCacheMiss = errors.New("cache: key not found")

type item[V any] struct {
	value      V
	expireAt   time.Time
	lastAccess time.Time
}

// Memo is a bounded in-memory cache with per-entry TTL and LRU eviction.
// It is safe for concurrent use and never allocates on the hot Get path
// beyond map access.
type Memo[V any] struct {
	mu      sync.Mutex
	data    map[string]*item[V]
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

type MemoOption[V any] func(*Memo[V])

// WithClock overrides the time source, for tests.
func WithClock[V any](now func() time.Time) MemoOption[V] {
	return func(m *Memo[V]) { m.now = now }
}

// NewMemo creates a cache holding at most maxSize entries, each valid
// for ttl after insertion.
func NewMemo[V any](maxSize int, ttl time.Duration, opts ...MemoOption[V]) *Memo[V] {
	if maxSize <= 0 {
		maxSize = 1024
	}
	m := &Memo[V]{
		data:    make(map[string]*item[V], maxSize),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns the cached value and true when present and unexpired.
// Expired entries are removed on access.
func (m *Memo[V]) Get(key string) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero V
	it, ok := m.data[key]
	if !ok {
		return zero, false
	}
	now := m.now()
	if now.After(it.expireAt) {
		delete(m.data, key)
		return zero, false
	}
	it.lastAccess = now
	return it.value, true
}

// Set stores value under key, evicting the least recently used entry
// when the cache is full.
func (m *Memo[V]) Set(key string, value V) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if it, ok := m.data[key]; ok {
		it.value = value
		it.expireAt = now.Add(m.ttl)
		it.lastAccess = now
		return
	}
	if len(m.data) >= m.maxSize {
		m.evictLRU()
	}
	m.data[key] = &item[V]{
		value:      value,
		expireAt:   now.Add(m.ttl),
		lastAccess: now,
	}
}

// Delete removes keys if present.
func (m *Memo[V]) Delete(keys ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.data, key)
	}
}

// Purge drops every entry.
func (m *Memo[V]) Purge() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string]*item[V], m.maxSize)
}

// Len reports the number of stored entries, expired ones included until
// their next access or eviction.
func (m *Memo[V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

// evictLRU removes the least recently accessed entry. Expired entries
// go first regardless of recency.
func (m *Memo[V]) evictLRU() {
	now := m.now()
	var oldestKey string
	var oldestTime time.Time
	first := true

	for key, it := range m.data {
		if now.After(it.expireAt) {
			delete(m.data, key)
			return
		}
		if first || it.lastAccess.Before(oldestTime) {
			oldestTime = it.lastAccess
			oldestKey = key
			first = false
		}
	}
	if oldestKey != "" {
		delete(m.data, oldestKey)
	}
}
