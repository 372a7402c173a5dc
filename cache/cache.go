// Package cache defines the side cache the unique-constraint layer writes
// record snapshots to, and an in-process implementation of it.
package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jacentio/dynorm/datastore"
)

// ErrCacheMiss is returned by Get when no live entry exists for a key.
var ErrCacheMiss = errors.New("dynorm: cache miss")

// Cache is a key/value store with per-entry expiry and no transactions.
type Cache interface {
	Get(ctx context.Context, key string) (*datastore.Entity, error)
	Set(ctx context.Context, key string, e *datastore.Entity, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type entry struct {
	entity  *datastore.Entity
	expires time.Time
}

// Memory is an in-process Cache.
type Memory struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

var _ Cache = (*Memory)(nil)

// NewMemory returns an empty cache using the wall clock.
func NewMemory() *Memory {
	return NewMemoryWithClock(time.Now)
}

// NewMemoryWithClock returns an empty cache that reads time from now.
func NewMemoryWithClock(now func() time.Time) *Memory {
	return &Memory{entries: make(map[string]entry), now: now}
}

// Get implements Cache.
func (m *Memory) Get(_ context.Context, key string) (*datastore.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	en, ok := m.entries[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	if !m.now().Before(en.expires) {
		delete(m.entries, key)
		return nil, ErrCacheMiss
	}
	return en.entity.Clone(), nil
}

// Set implements Cache.
func (m *Memory) Set(_ context.Context, key string, e *datastore.Entity, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = entry{entity: e.Clone(), expires: m.now().Add(ttl)}
	return nil
}

// Delete implements Cache.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// Len returns the number of entries held, expired ones included.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
