package sigcache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	sig     Signature
	expires time.Time
}

// MemoryStore keeps signatures in process memory with an optional TTL.
type MemoryStore struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]memoryEntry
	now     func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a store whose entries expire after ttl (0 = never).
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:     ttl,
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (s *MemoryStore) GetSignature(ctx context.Context, path string) (Signature, bool, error) {
	s.mu.RLock()
	e, ok := s.entries[path]
	s.mu.RUnlock()
	if !ok {
		return Signature{}, false, nil
	}
	if !e.expires.IsZero() && !s.now().Before(e.expires) {
		s.mu.Lock()
		delete(s.entries, path)
		s.mu.Unlock()
		return Signature{}, false, nil
	}
	return e.sig, true, nil
}

func (s *MemoryStore) SetSignature(ctx context.Context, path string, sig Signature) error {
	e := memoryEntry{sig: sig}
	if s.ttl > 0 {
		e.expires = s.now().Add(s.ttl)
	}
	s.mu.Lock()
	s.entries[path] = e
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) DeleteSignature(ctx context.Context, path string) error {
	s.mu.Lock()
	delete(s.entries, path)
	s.mu.Unlock()
	return nil
}

// Len returns the number of entries, including expired ones not yet evicted.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
