// Package kv is the persistence facade: byte-oriented backends plus typed JSON
// collections with change notification.
package kv

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Backend defines the minimal key-value operations the simulation needs.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Close() error
}

// ErrNotFound signals that a key was absent or expired.
var ErrNotFound = errors.New("kv: key not found")

// MemoryBackend keeps values in process memory with optional expiry.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[string]memoryItem
	now  func() time.Time
}

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string]memoryItem), now: time.Now}
}

// Get returns a copy of the stored value.
func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	it, ok := m.data[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if !it.expiresAt.IsZero() && m.now().After(it.expiresAt) {
		m.mu.Lock()
		delete(m.data, key)
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	return append([]byte(nil), it.value...), nil
}

// Set stores a copy of value. A non-positive ttl never expires.
func (m *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	var expires time.Time
	if ttl > 0 {
		expires = m.now().Add(ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = memoryItem{value: append([]byte(nil), value...), expiresAt: expires}
	return nil
}

// Del removes an entry.
func (m *MemoryBackend) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Close is a no-op.
func (m *MemoryBackend) Close() error { return nil }
