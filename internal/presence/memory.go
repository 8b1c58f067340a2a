package presence

import (
	"strings"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore is the in-process Store implementation. Expiry is an explicit
// expires_at checked on every read; Sweep exists only as housekeeping and
// correctness never depends on when (or whether) it runs.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Put implements Store.Put.
func (s *MemoryStore) Put(key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{value: value, expiresAt: s.now().Add(ttl)}
	return nil
}

// Refresh implements Store.Refresh.
func (s *MemoryStore) Refresh(key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || !s.now().Before(e.expiresAt) {
		delete(s.entries, key)
		return ErrNotFound
	}
	e.expiresAt = s.now().Add(ttl)
	s.entries[key] = e
	return nil
}

// Get implements Store.Get.
func (s *MemoryStore) Get(key string) ([]byte, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	now := s.now()
	s.mu.RUnlock()
	if !ok || !now.Before(e.expiresAt) {
		return nil, ErrNotFound
	}
	return e.value, nil
}

// Remove implements Store.Remove.
func (s *MemoryStore) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Scan implements Store.Scan.
func (s *MemoryStore) Scan(prefix string) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	var out [][]byte
	for k, e := range s.entries {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if !now.Before(e.expiresAt) {
			continue
		}
		out = append(out, e.value)
	}
	return out, nil
}

// Sweep drops expired entries and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for k, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}
