package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// MemoryProvider is a size-bounded LRU with per-entry TTL.
type MemoryProvider struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	items    map[string]*list.Element
	now      func() time.Time
}

type memoryEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// NewMemoryProvider creates an LRU holding at most capacity entries.
func NewMemoryProvider(capacity int) *MemoryProvider {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryProvider{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element, capacity),
		now:      time.Now,
	}
}

// Get returns a copy of the cached value if present and not expired.
func (m *MemoryProvider) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.items[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	entry := el.Value.(*memoryEntry)
	if !entry.expiresAt.IsZero() && m.now().After(entry.expiresAt) {
		m.removeElement(el)
		return nil, ErrCacheMiss
	}
	m.order.MoveToFront(el)
	return append([]byte(nil), entry.value...), nil
}

// Set stores value with an optional TTL, evicting the least recently used entry when full.
func (m *MemoryProvider) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expires time.Time
	if ttl > 0 {
		expires = m.now().Add(ttl)
	}
	if el, ok := m.items[key]; ok {
		entry := el.Value.(*memoryEntry)
		entry.value = append([]byte(nil), value...)
		entry.expiresAt = expires
		m.order.MoveToFront(el)
		return nil
	}

	el := m.order.PushFront(&memoryEntry{key: key, value: append([]byte(nil), value...), expiresAt: expires})
	m.items[key] = el
	for m.order.Len() > m.capacity {
		m.removeElement(m.order.Back())
	}
	return nil
}

// Del removes an entry.
func (m *MemoryProvider) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.items[key]; ok {
		m.removeElement(el)
	}
	return nil
}

// Len returns the number of resident entries, expired ones included.
func (m *MemoryProvider) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}

// Close drops all entries.
func (m *MemoryProvider) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.order.Init()
	m.items = make(map[string]*list.Element, m.capacity)
	return nil
}

func (m *MemoryProvider) removeElement(el *list.Element) {
	if el == nil {
		return
	}
	m.order.Remove(el)
	delete(m.items, el.Value.(*memoryEntry).key)
}
