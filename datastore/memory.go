package datastore

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

var _ Datastore = (*Memory)(nil)

// Memory is an in-process Datastore. It is strongly consistent and exists
// for tests and local experiments.
type Memory struct {
	mu    sync.RWMutex
	kinds map[string]map[string]*Entity
	next  map[string]int64
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		kinds: make(map[string]map[string]*Entity),
		next:  make(map[string]int64),
	}
}

// Get implements Datastore.
func (m *Memory) Get(_ context.Context, key Key) (*Entity, error) {
	if key.Incomplete() {
		return nil, fmt.Errorf("%w: get with incomplete key %s", ErrInvalidKey, key)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.kinds[key.Kind][key.Encode()]
	if !ok {
		return nil, ErrNoSuchEntity
	}
	return e.Clone(), nil
}

// Put implements Datastore.
func (m *Memory) Put(_ context.Context, e *Entity) (Key, error) {
	if e == nil || e.Key.Kind == "" {
		return Key{}, fmt.Errorf("%w: entity without kind", ErrInvalidKey)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := e.Key
	if key.Incomplete() {
		m.next[key.Kind]++
		key.ID = m.next[key.Kind]
	} else if key.ID > m.next[key.Kind] {
		m.next[key.Kind] = key.ID
	}

	stored := e.Clone()
	stored.Key = key
	bucket, ok := m.kinds[key.Kind]
	if !ok {
		bucket = make(map[string]*Entity)
		m.kinds[key.Kind] = bucket
	}
	bucket[key.Encode()] = stored
	return key, nil
}

// Delete implements Datastore.
func (m *Memory) Delete(_ context.Context, keys ...Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range keys {
		bucket, ok := m.kinds[key.Kind]
		if !ok {
			continue
		}
		delete(bucket, key.Encode())
		if len(bucket) == 0 {
			delete(m.kinds, key.Kind)
		}
	}
	return nil
}

// Run implements Datastore. Results are materialised at call time.
func (m *Memory) Run(_ context.Context, q *Query) (Iterator, error) {
	return NewSliceIterator(m.evaluate(q)), nil
}

// Count implements Datastore.
func (m *Memory) Count(_ context.Context, q *Query) (int, error) {
	return len(m.evaluate(q)), nil
}

// Kinds implements Datastore.
func (m *Memory) Kinds(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	kinds := make([]string, 0, len(m.kinds))
	for kind := range m.kinds {
		kinds = append(kinds, kind)
	}
	slices.Sort(kinds)
	return kinds, nil
}

func (m *Memory) evaluate(q *Query) []*Entity {
	m.mu.RLock()
	candidates := make([]*Entity, 0, len(m.kinds[q.Kind]))
	for _, e := range m.kinds[q.Kind] {
		candidates = append(candidates, e.Clone())
	}
	m.mu.RUnlock()

	return Evaluate(q, candidates)
}
