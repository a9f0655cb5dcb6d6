// SPDX-License-Identifier: MIT

package index

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value      []byte
	expiration time.Time
}

func (e *memoryEntry) expired() bool {
	return !e.expiration.IsZero() && time.Now().After(e.expiration)
}

// Memory is the in-process backend. A janitor goroutine sweeps expired
// records when a cleanup interval is given.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry

	stopOnce sync.Once
	stop     chan struct{}
}

// NewMemory creates an in-memory store. cleanupInterval <= 0 disables the
// background sweep; expired entries still miss on Get.
func NewMemory(cleanupInterval time.Duration) *Memory {
	m := &Memory{
		entries: make(map[string]*memoryEntry),
		stop:    make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go m.janitor(cleanupInterval)
	}
	return m
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok || e.expired() {
		return nil, false, nil
	}
	return e.value, true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := &memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiration = time.Now().Add(ttl)
	}
	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// Close stops the janitor. The map stays usable for tests that close early.
func (m *Memory) Close() error {
	m.stopOnce.Do(func() { close(m.stop) })
	return nil
}

// Sweep removes expired entries now and reports how many went. The
// background janitor job calls it when no cleanup interval is set.
func (m *Memory) Sweep() int { return m.deleteExpired() }

func (m *Memory) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.deleteExpired()
		case <-m.stop:
			return
		}
	}
}

func (m *Memory) deleteExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for key, e := range m.entries {
		if e.expired() {
			delete(m.entries, key)
			count++
		}
	}
	return count
}
