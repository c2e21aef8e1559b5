// Package kvstore defines the opaque key-value persistence contract the
// security layer stores ciphertext through, with in-memory and SQLite
// implementations. The core logic never sees this interface directly; the
// crypto store wraps it so everything at rest is ciphertext.
package kvstore

import "sync"

// Store is durable opaque string storage, platform-provided in the mobile
// client. Get reports found=false for a missing key rather than an error.
type Store interface {
	Get(key string) (value string, found bool, err error)
	Set(key, value string) error
	Remove(key string) error
}

// Memory is a Store backed by a map, for tests and memory-only mode.
type Memory struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

func (m *Memory) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *Memory) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *Memory) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}
