// Package memstore provides a small TTL-bounded key/value registry with
// its own eviction sweep. It replaces ad-hoc process-global maps: each
// registry is owned by the component that creates it and passed around
// by handle.
package memstore

import (
	"sync"
	"time"
)

type entry struct {
	value     any
	expiresAt time.Time
}

// TTLStore is a mutex-guarded in-memory store whose entries expire after
// a per-entry TTL. Expired entries are invisible to Get immediately and
// reclaimed by a background sweep.
type TTLStore struct {
	mu      sync.Mutex
	entries map[string]entry
	stop    chan struct{}
	once    sync.Once

	now func() time.Time // injectable for tests
}

// NewTTLStore creates a store and starts its eviction sweep. sweepEvery
// must be positive.
func NewTTLStore(sweepEvery time.Duration) *TTLStore {
	s := &TTLStore{
		entries: make(map[string]entry),
		stop:    make(chan struct{}),
		now:     time.Now,
	}
	go s.sweepLoop(sweepEvery)
	return s
}

// Put stores value under key for the given TTL, replacing any previous
// entry. Non-positive TTLs are treated as already expired.
func (s *TTLStore) Put(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		s.Delete(key)
		return
	}
	s.mu.Lock()
	s.entries[key] = entry{value: value, expiresAt: s.now().Add(ttl)}
	s.mu.Unlock()
}

// Get returns the live value for key. Expired entries count as misses.
func (s *TTLStore) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || s.now().After(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

func (s *TTLStore) Delete(key string) {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

// Len counts live entries.
func (s *TTLStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	now := s.now()
	for _, e := range s.entries {
		if !now.After(e.expiresAt) {
			n++
		}
	}
	return n
}

// Close stops the eviction sweep. Safe to call more than once.
func (s *TTLStore) Close() {
	s.once.Do(func() { close(s.stop) })
}

func (s *TTLStore) sweepLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stop:
			return
		}
	}
}

func (s *TTLStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, k)
		}
	}
}
