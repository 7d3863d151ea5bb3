// Package cache provides the named in-process caches used for auth
// synchronization tokens and web module bodies.
package cache

import (
	"sync"
	"time"
)

// DefaultName is the cache every deployment has.
const DefaultName = "default"

// Cache stores values with an optional time-to-live.
type Cache interface {
	// Get returns the value for key if present and unexpired.
	Get(key string) (any, bool)

	// Set stores v under key. A ttl of zero never expires.
	Set(key string, v any, ttl time.Duration)

	// Take returns the value for key and removes it in one step.
	Take(key string) (any, bool)

	// Delete removes key.
	Delete(key string)
}

type entry struct {
	value     any
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Memory is a mutex-guarded Cache with a background sweep of expired
// entries.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
	done    chan struct{}
	once    sync.Once
}

// Option configures a Memory cache.
type Option func(*memoryConfig)

type memoryConfig struct {
	cleanupInterval time.Duration
	now             func() time.Time
}

// WithCleanupInterval sets how often expired entries are swept.
// Default: 1 minute. Zero disables the sweep.
func WithCleanupInterval(d time.Duration) Option {
	return func(c *memoryConfig) {
		c.cleanupInterval = d
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *memoryConfig) {
		c.now = now
	}
}

// NewMemory creates an empty cache.
func NewMemory(opts ...Option) *Memory {
	cfg := &memoryConfig{cleanupInterval: time.Minute, now: time.Now}
	for _, opt := range opts {
		opt(cfg)
	}
	m := &Memory{
		entries: make(map[string]entry),
		now:     cfg.now,
		done:    make(chan struct{}),
	}
	if cfg.cleanupInterval > 0 {
		go m.cleanupLoop(cfg.cleanupInterval)
	}
	return m
}

// Get implements Cache.
func (m *Memory) Get(key string) (any, bool) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok || e.expired(m.now()) {
		return nil, false
	}
	return e.value, true
}

// Set implements Cache.
func (m *Memory) Set(key string, v any, ttl time.Duration) {
	e := entry{value: v}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()
}

// Take implements Cache.
func (m *Memory) Take(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	delete(m.entries, key)
	if e.expired(m.now()) {
		return nil, false
	}
	return e.value, true
}

// Delete implements Cache.
func (m *Memory) Delete(key string) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}

// Len returns the number of stored entries, expired ones included until
// the next sweep.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Sweep removes expired entries now.
func (m *Memory) Sweep() {
	now := m.now()
	m.mu.Lock()
	for k, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, k)
		}
	}
	m.mu.Unlock()
}

// Close stops the background sweep.
func (m *Memory) Close() error {
	m.once.Do(func() { close(m.done) })
	return nil
}

func (m *Memory) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Caches maps names to caches. The default cache always exists.
type Caches struct {
	mu     sync.RWMutex
	caches map[string]Cache
}

// NewCaches returns a set holding a fresh default Memory cache.
func NewCaches() *Caches {
	return &Caches{caches: map[string]Cache{DefaultName: NewMemory()}}
}

// Add registers c under name, replacing any previous cache.
func (cs *Caches) Add(name string, c Cache) {
	cs.mu.Lock()
	cs.caches[name] = c
	cs.mu.Unlock()
}

// Get returns the named cache.
func (cs *Caches) Get(name string) (Cache, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	c, ok := cs.caches[name]
	return c, ok
}

// Close closes every cache that has a Close method.
func (cs *Caches) Close() error {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	for _, c := range cs.caches {
		if cl, ok := c.(interface{ Close() error }); ok {
			_ = cl.Close()
		}
	}
	return nil
}
