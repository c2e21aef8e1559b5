// Package keylock provides per-key mutexes so read-modify-write cycles on
// the same storage key are serialized while different identities proceed
// concurrently.
package keylock

import "sync"

// Map hands out one mutex per key. Mutexes are never evicted; the key space
// (identities seen by this device) is small.
type Map struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New() *Map {
	return &Map{locks: make(map[string]*sync.Mutex)}
}

// Get returns the mutex for key, creating it on first use.
func (m *Map) Get(key string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	return l
}
