package cmap

import (
	"sync"

	"github.com/spaolacci/murmur3"
)

// shardCount must be a power of two.
const shardCount = 16

// Map is a concurrent-safe sharded map.
type Map[K ~string, V any] struct {
	shards    []*shard[K, V]
	shardMask uint32
}

type shard[K ~string, V any] struct {
	mu    sync.RWMutex
	items map[K]V
}

// New creates an empty sharded map.
func New[K ~string, V any]() *Map[K, V] {
	m := &Map[K, V]{
		shards:    make([]*shard[K, V], shardCount),
		shardMask: shardCount - 1,
	}
	for i := range m.shards {
		m.shards[i] = &shard[K, V]{items: make(map[K]V)}
	}
	return m
}

func (m *Map[K, V]) getShard(key K) *shard[K, V] {
	return m.shards[murmur3.Sum32([]byte(key))&m.shardMask]
}

// Get retrieves a value by key.
func (m *Map[K, V]) Get(key K) (V, bool) {
	s := m.getShard(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	val, ok := s.items[key]
	return val, ok
}

// Set stores a key-value pair.
func (m *Map[K, V]) Set(key K, value V) {
	s := m.getShard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = value
}

// Delete removes a key.
func (m *Map[K, V]) Delete(key K) {
	s := m.getShard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
}

// Pop removes key and returns the value it held.
func (m *Map[K, V]) Pop(key K) (V, bool) {
	s := m.getShard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	val, ok := s.items[key]
	if ok {
		delete(s.items, key)
	}
	return val, ok
}

// Has checks if a key exists.
func (m *Map[K, V]) Has(key K) bool {
	_, ok := m.Get(key)
	return ok
}
