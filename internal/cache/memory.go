package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry[V any] struct {
	value        V
	expiresAt    time.Time
	lastAccessed time.Time
}

// Memory is a thread-safe in-process cache with TTL and LRU eviction.
type Memory[V any] struct {
	mu         sync.Mutex
	entries    map[string]*memoryEntry[V]
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

var _ Cache[string] = (*Memory[string])(nil)

// NewMemory creates a cache with a default TTL and a maximum entry count.
// maxEntries <= 0 means unbounded.
func NewMemory[V any](ttl time.Duration, maxEntries int) *Memory[V] {
	return &Memory[V]{
		entries:    make(map[string]*memoryEntry[V]),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get implements Cache. Expired entries are removed on read.
func (m *Memory[V]) Get(_ context.Context, key string) (V, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero V
	entry, ok := m.entries[key]
	if !ok {
		return zero, false, nil
	}
	now := m.now()
	if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
		delete(m.entries, key)
		return zero, false, nil
	}
	entry.lastAccessed = now
	return entry.value, true, nil
}

// Set implements Cache.
func (m *Memory[V]) Set(_ context.Context, key string, value V, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ttl <= 0 {
		ttl = m.ttl
	}
	now := m.now()

	if _, exists := m.entries[key]; !exists && m.maxEntries > 0 && len(m.entries) >= m.maxEntries {
		m.evictLocked(now)
	}

	entry := &memoryEntry[V]{value: value, lastAccessed: now}
	if ttl > 0 {
		entry.expiresAt = now.Add(ttl)
	}
	m.entries[key] = entry
	return nil
}

// Delete implements Cache.
func (m *Memory[V]) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// Clear implements Cache.
func (m *Memory[V]) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]*memoryEntry[V])
	return nil
}

// Len returns the number of stored entries, including expired ones not yet read.
func (m *Memory[V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// evictLocked drops expired entries, or the least recently used one if none
// have expired. Caller must hold the lock.
func (m *Memory[V]) evictLocked(now time.Time) {
	evicted := false
	for k, e := range m.entries {
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			delete(m.entries, k)
			evicted = true
		}
	}
	if evicted {
		return
	}

	var oldestKey string
	var oldest time.Time
	first := true
	for k, e := range m.entries {
		if first || e.lastAccessed.Before(oldest) {
			oldestKey, oldest, first = k, e.lastAccessed, false
		}
	}
	if !first {
		delete(m.entries, oldestKey)
	}
}
