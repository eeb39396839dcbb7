// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

package agent

import (
	"sort"
	"sync"
	"time"
)

type memoryEntry struct {
	value    any
	storedAt time.Time
}

// Memory is an agent instance's key/value context. Entries older than the
// TTL read as absent; Purge drops them for good. A zero TTL never expires.
type Memory struct {
	mu        sync.RWMutex
	entries   map[string]memoryEntry
	ttl       time.Duration
	createdAt time.Time
	nowFunc   func() time.Time
}

// NewMemory creates an empty memory.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		entries:   make(map[string]memoryEntry),
		ttl:       max(ttl, 0),
		createdAt: time.Now(),
		nowFunc:   time.Now,
	}
}

func (m *Memory) TTL() time.Duration   { return m.ttl }
func (m *Memory) CreatedAt() time.Time { return m.createdAt }

// SetNowFunc overrides the clock used for expiry.
func (m *Memory) SetNowFunc(fn func() time.Time) {
	m.mu.Lock()
	m.nowFunc = fn
	m.mu.Unlock()
}

// caller holds m.mu
func (m *Memory) live(e memoryEntry, now time.Time) bool {
	return m.ttl == 0 || now.Sub(e.storedAt) < m.ttl
}

// Set stores value under key and restarts its TTL.
func (m *Memory) Set(key string, value any) {
	m.mu.Lock()
	m.entries[key] = memoryEntry{value: value, storedAt: m.nowFunc()}
	m.mu.Unlock()
}

// Get returns the value under key unless it is absent or expired.
func (m *Memory) Get(key string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok || !m.live(e, m.nowFunc()) {
		return nil, false
	}
	return e.value, true
}

// GetString is Get for string values.
func (m *Memory) GetString(key string) (string, bool) {
	v, ok := m.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Delete removes key and reports whether a live entry was removed.
func (m *Memory) Delete(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	delete(m.entries, key)
	return ok && m.live(e, m.nowFunc())
}

// Keys lists live keys in order.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := m.nowFunc()
	keys := make([]string, 0, len(m.entries))
	for k, e := range m.entries {
		if m.live(e, now) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Len counts live entries.
func (m *Memory) Len() int {
	return len(m.Keys())
}

// Purge removes expired entries and returns how many were dropped.
func (m *Memory) Purge() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.nowFunc()
	n := 0
	for k, e := range m.entries {
		if !m.live(e, now) {
			delete(m.entries, k)
			n++
		}
	}
	return n
}

// Snapshot copies the live entries.
func (m *Memory) Snapshot() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := m.nowFunc()
	out := make(map[string]any, len(m.entries))
	for k, e := range m.entries {
		if m.live(e, now) {
			out[k] = e.value
		}
	}
	return out
}

// Clone returns an independent memory with the same entries, TTL and clock.
func (m *Memory) Clone() *Memory {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := &Memory{
		entries:   make(map[string]memoryEntry, len(m.entries)),
		ttl:       m.ttl,
		createdAt: m.createdAt,
		nowFunc:   m.nowFunc,
	}
	for k, e := range m.entries {
		c.entries[k] = e
	}
	return c
}
