package sessionreuse

import (
	"context"
	"strings"
	"sync"
	"time"
)

// SessionStore tracks which principals are known to have paid for which
// resources. Implementations must be safe for concurrent use and must store
// payer identities case-normalized.
type SessionStore interface {
	// Record remembers that payer settled a payment for resource, valid
	// for the given window.
	Record(ctx context.Context, resource, payer string, window time.Duration) error

	// Known reports whether payer has an unexpired session for resource.
	Known(ctx context.Context, resource, payer string) (bool, error)
}

// MemorySessionStore is the in-memory reference store, suitable for
// single-instance deployments. Distributed deployments should use
// RedisSessionStore or their own backend.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]time.Time
}

// NewMemorySessionStore creates an empty in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]time.Time),
	}
}

func sessionKey(resource, payer string) string {
	return resource + "|" + strings.ToLower(payer)
}

// Record implements SessionStore.
func (s *MemorySessionStore) Record(ctx context.Context, resource, payer string, window time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[sessionKey(resource, payer)] = time.Now().Add(window)
	return nil
}

// Known implements SessionStore. Expired entries are removed lazily.
func (s *MemorySessionStore) Known(ctx context.Context, resource, payer string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sessionKey(resource, payer)
	expiry, ok := s.sessions[key]
	if !ok {
		return false, nil
	}
	if time.Now().After(expiry) {
		delete(s.sessions, key)
		return false, nil
	}
	return true, nil
}
