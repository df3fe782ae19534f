package utils

import (
	"fmt"
	"sync"
)

// MutexMap hands out one mutex per key. Entries are dropped once no goroutine
// holds or waits on them, and at most maxSize keys may be active at a time.
type MutexMap struct {
	edit    sync.Mutex
	entries map[string]*mutexEntry
	maxSize int
}

type mutexEntry struct {
	mu      sync.Mutex
	waiters int
}

func NewMutexMap(maxSize int) *MutexMap {
	return &MutexMap{
		entries: make(map[string]*mutexEntry),
		maxSize: maxSize,
	}
}

func (m *MutexMap) Lock(key string) error {
	m.edit.Lock()
	entry := m.entries[key]
	if entry == nil {
		if len(m.entries) >= m.maxSize {
			m.edit.Unlock()
			return fmt.Errorf("cannot lock %s: %d keys already active", key, m.maxSize)
		}
		entry = &mutexEntry{}
		m.entries[key] = entry
	}
	entry.waiters++
	m.edit.Unlock()

	entry.mu.Lock()
	return nil
}

func (m *MutexMap) Unlock(key string) error {
	m.edit.Lock()
	defer m.edit.Unlock()

	entry := m.entries[key]
	if entry == nil {
		return fmt.Errorf("key %s not found", key)
	}

	entry.mu.Unlock()
	entry.waiters--
	if entry.waiters == 0 {
		delete(m.entries, key)
	}
	return nil
}

// WithLock runs fn while holding the lock for key.
func (m *MutexMap) WithLock(key string, fn func() error) error {
	if err := m.Lock(key); err != nil {
		return err
	}
	defer m.Unlock(key) // nolint:errcheck
	return fn()
}
