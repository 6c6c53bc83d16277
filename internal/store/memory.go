package store

import (
	"context"
	"sync"
)

// Memory is an in-memory Adapter implementation. Safe for concurrent use.
// Items are copied on the way in and out so callers can't mutate stored
// state behind the adapter's back.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]map[string]*Item
}

// NewMemory creates an empty in-memory adapter.
func NewMemory() *Memory {
	return &Memory{collections: make(map[string]map[string]*Item)}
}

func (m *Memory) Get(_ context.Context, collection, key string) (*Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, ok := m.collections[collection][key]
	if !ok {
		return nil, ErrNotFound
	}
	return copyItem(item), nil
}

func (m *Memory) Put(_ context.Context, collection string, item *Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	coll := m.collection(collection)
	next := int64(1)
	if existing, ok := coll[item.Key]; ok {
		next = existing.Version + 1
	}
	coll[item.Key] = &Item{
		Key:     item.Key,
		Version: next,
		Data:    append([]byte(nil), item.Data...),
	}
	return nil
}

func (m *Memory) CompareAndSwap(_ context.Context, collection, key string, expectedVersion int64, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	coll := m.collection(collection)
	existing, ok := coll[key]

	if expectedVersion == 0 {
		if ok {
			return ErrVersionConflict
		}
		coll[key] = &Item{Key: key, Version: 1, Data: append([]byte(nil), data...)}
		return nil
	}

	if !ok {
		return ErrNotFound
	}
	if existing.Version != expectedVersion {
		return ErrVersionConflict
	}
	coll[key] = &Item{
		Key:     key,
		Version: existing.Version + 1,
		Data:    append([]byte(nil), data...),
	}
	return nil
}

func (m *Memory) Query(_ context.Context, collection string, filter func(*Item) bool) ([]*Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Item
	for _, item := range m.collections[collection] {
		if filter == nil || filter(copyItem(item)) {
			out = append(out, copyItem(item))
		}
	}
	return out, nil
}

func (m *Memory) Delete(_ context.Context, collection, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.collections[collection], key)
	return nil
}

func (m *Memory) Close() error { return nil }

// collection returns the named collection map, creating it if absent.
// Callers must hold the write lock.
func (m *Memory) collection(name string) map[string]*Item {
	coll, ok := m.collections[name]
	if !ok {
		coll = make(map[string]*Item)
		m.collections[name] = coll
	}
	return coll
}

func copyItem(item *Item) *Item {
	return &Item{
		Key:     item.Key,
		Version: item.Version,
		Data:    append([]byte(nil), item.Data...),
	}
}
