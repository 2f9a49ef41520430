package kvstore

import (
	"sync"
)

// KVStore is a minimal concurrency-safe map used as the in-memory
// storage backend.
type KVStore[K comparable, V any] struct {
	data map[K]V
	mu   sync.RWMutex
}

func New[K comparable, V any]() *KVStore[K, V] {
	return &KVStore[K, V]{data: make(map[K]V)}
}

// Get returns the value stored under key.
func (s *KVStore[K, V]) Get(key K) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.data[key]
	return item, ok
}

// Set stores value under key, replacing any previous value.
func (s *KVStore[K, V]) Set(key K, value V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
}

// Remove deletes the entry under key, reporting whether it existed.
func (s *KVStore[K, V]) Remove(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.data[key]
	delete(s.data, key)
	return ok
}

// Len returns the number of stored entries.
func (s *KVStore[K, V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
