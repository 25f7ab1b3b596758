// Package devotp keeps plaintext codes by session ID so a developer can complete a login
// without a working delivery channel. It is only wired when OTP_RETURN_TO_CLIENT is enabled.
package devotp

import (
	"context"
	"sync"
	"time"
)

// Store holds plaintext codes by session ID for dev-only retrieval. Not used in production.
type Store interface {
	// Put stores code for sessionID until expiresAt.
	Put(ctx context.Context, sessionID, code string, expiresAt time.Time)
	// Get returns the code for sessionID if present and not expired.
	Get(ctx context.Context, sessionID string) (code string, ok bool)
	// Delete forgets sessionID's code.
	Delete(ctx context.Context, sessionID string)
}

type entry struct {
	code      string
	expiresAt time.Time
}

// MemoryStore is an in-memory Store implementation.
type MemoryStore struct {
	mu   sync.RWMutex
	m    map[string]entry
	nowF func() time.Time
}

// NewMemoryStore returns a new in-memory dev code store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		m:    make(map[string]entry),
		nowF: func() time.Time { return time.Now().UTC() },
	}
}

// Put stores code for sessionID until expiresAt.
func (s *MemoryStore) Put(ctx context.Context, sessionID, code string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[sessionID] = entry{code: code, expiresAt: expiresAt}
}

// Get returns the code for sessionID if present and not expired. Expired entries are dropped.
func (s *MemoryStore) Get(ctx context.Context, sessionID string) (string, bool) {
	s.mu.RLock()
	e, ok := s.m[sessionID]
	s.mu.RUnlock()
	if !ok {
		return "", false
	}
	if s.nowF().After(e.expiresAt) {
		s.Delete(ctx, sessionID)
		return "", false
	}
	return e.code, true
}

// Delete forgets sessionID's code.
func (s *MemoryStore) Delete(ctx context.Context, sessionID string) {
	s.mu.Lock()
	delete(s.m, sessionID)
	s.mu.Unlock()
}

// Purge drops every expired entry and returns how many were removed.
func (s *MemoryStore) Purge() int {
	now := s.nowF()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, e := range s.m {
		if now.After(e.expiresAt) {
			delete(s.m, k)
			n++
		}
	}
	return n
}
