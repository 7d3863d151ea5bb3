package store

import (
	"context"
	"sync"
	"time"
)

type memorySession struct {
	params       []byte
	lastAccessed time.Time
}

// MemoryStore keeps all data in process memory.
type MemoryStore struct {
	mu        sync.RWMutex
	sessions  map[string]*memorySession
	userData  map[string][]byte
	cleanedAt time.Time
	now       func() time.Time
	closed    bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := buildOptions(opts)
	return &MemoryStore{
		sessions: make(map[string]*memorySession),
		userData: make(map[string][]byte),
		now:      o.now,
	}
}

// Put implements Store.
func (m *MemoryStore) Put(ctx context.Context, id string, params []byte) error {
	if !ValidID(id) {
		return ErrInvalidID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	if _, ok := m.sessions[id]; ok {
		return ErrAlreadyExists
	}
	cp := make([]byte, len(params))
	copy(cp, params)
	m.sessions[id] = &memorySession{params: cp, lastAccessed: m.now()}
	return nil
}

// TouchAndGet implements Store.
func (m *MemoryStore) TouchAndGet(ctx context.Context, id string, maxAge time.Duration) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrStoreClosed
	}
	sess, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	now := m.now()
	if now.Sub(sess.lastAccessed) > maxAge {
		return nil, ErrNotFound
	}
	sess.lastAccessed = touchTime(now, sess.lastAccessed)
	cp := make([]byte, len(sess.params))
	copy(cp, sess.params)
	return cp, nil
}

// LastAccessed implements Store.
func (m *MemoryStore) LastAccessed(ctx context.Context, id string) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	if !ok {
		return time.Time{}, ErrNotFound
	}
	return sess.lastAccessed, nil
}

// DeleteExpired implements Store.
func (m *MemoryStore) DeleteExpired(ctx context.Context, maxAge time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrStoreClosed
	}
	cutoff := m.now().Add(-maxAge)
	n := 0
	for id, sess := range m.sessions {
		if !sess.lastAccessed.After(cutoff) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

// GetUserData implements Store.
func (m *MemoryStore) GetUserData(ctx context.Context, userPK string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.userData[userPK]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, true, nil
}

// UpsertUserData implements Store.
func (m *MemoryStore) UpsertUserData(ctx context.Context, userPK string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	m.userData[userPK] = cp
	return nil
}

// DeleteUserData implements Store.
func (m *MemoryStore) DeleteUserData(ctx context.Context, userPK string) error {
	m.mu.Lock()
	delete(m.userData, userPK)
	m.mu.Unlock()
	return nil
}

// DeleteOrphanUserData implements Store.
func (m *MemoryStore) DeleteOrphanUserData(ctx context.Context, validPKs []string) (int, error) {
	valid := make(map[string]struct{}, len(validPKs))
	for _, pk := range validPKs {
		valid[pk] = struct{}{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for pk := range m.userData {
		if _, ok := valid[pk]; !ok {
			delete(m.userData, pk)
			n++
		}
	}
	return n, nil
}

// CleanedAt implements Store.
func (m *MemoryStore) CleanedAt(ctx context.Context) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cleanedAt, nil
}

// SetCleanedAt implements Store.
func (m *MemoryStore) SetCleanedAt(ctx context.Context, t time.Time) error {
	m.mu.Lock()
	m.cleanedAt = t
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored sessions.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
