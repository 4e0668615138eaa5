package manager

import (
	"fmt"
	"sync"
)

// Manager is an id -> instance registry safe for concurrent use.
type Manager[K comparable, T any] struct {
	sync.RWMutex
	cache map[K]T
}

func New[K comparable, T any]() *Manager[K, T] {
	return &Manager[K, T]{
		cache: make(map[K]T),
	}
}

func (m *Manager[K, T]) Get(id K) (T, error) {
	m.RLock()
	defer m.RUnlock()

	if instance, ok := m.cache[id]; ok {
		return instance, nil
	}

	var t T
	return t, fmt.Errorf("id %v not found", id)
}

func (m *Manager[K, T]) Has(id K) bool {
	m.RLock()
	defer m.RUnlock()

	_, ok := m.cache[id]
	return ok
}

func (m *Manager[K, T]) Set(id K, instance T) {
	m.Lock()
	defer m.Unlock()

	m.cache[id] = instance
}

// SetIfAbsent stores instance unless id is taken and reports whether it did.
func (m *Manager[K, T]) SetIfAbsent(id K, instance T) bool {
	m.Lock()
	defer m.Unlock()

	if _, ok := m.cache[id]; ok {
		return false
	}
	m.cache[id] = instance
	return true
}

func (m *Manager[K, T]) GetOrCreate(id K, creator func() T) (T, bool) {
	m.Lock()
	defer m.Unlock()

	if instance, ok := m.cache[id]; ok {
		return instance, false
	}

	instance := creator()
	m.cache[id] = instance
	return instance, true
}

func (m *Manager[K, T]) Remove(id K) (T, bool) {
	m.Lock()
	defer m.Unlock()

	instance, ok := m.cache[id]
	if ok {
		delete(m.cache, id)
	}
	return instance, ok
}

// RemoveIf deletes id only when match approves the stored instance.
func (m *Manager[K, T]) RemoveIf(id K, match func(T) bool) bool {
	m.Lock()
	defer m.Unlock()

	instance, ok := m.cache[id]
	if !ok || !match(instance) {
		return false
	}
	delete(m.cache, id)
	return true
}

func (m *Manager[K, T]) Len() int {
	m.RLock()
	defer m.RUnlock()

	return len(m.cache)
}

func (m *Manager[K, T]) Keys() []K {
	m.RLock()
	defer m.RUnlock()

	keys := make([]K, 0, len(m.cache))
	for k := range m.cache {
		keys = append(keys, k)
	}
	return keys
}

// Range calls fn for a snapshot of the entries until fn returns false.
func (m *Manager[K, T]) Range(fn func(id K, instance T) bool) {
	m.RLock()
	snapshot := make(map[K]T, len(m.cache))
	for k, v := range m.cache {
		snapshot[k] = v
	}
	m.RUnlock()

	for k, v := range snapshot {
		if !fn(k, v) {
			return
		}
	}
}

// Clear empties the registry and returns what it held.
func (m *Manager[K, T]) Clear() []T {
	m.Lock()
	defer m.Unlock()

	items := make([]T, 0, len(m.cache))
	for _, v := range m.cache {
		items = append(items, v)
	}
	m.cache = make(map[K]T)
	return items
}
