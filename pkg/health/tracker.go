// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

package health

import (
	"sync"
	"time"

	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
)

// DefaultCooldown is how long a failing dependency is skipped before it is
// tried again.
const DefaultCooldown = 30 * time.Second

// Tracker records failures of one named dependency (a model provider or an
// index backend). After a failure the dependency is unavailable until the
// cooldown elapses or a success is recorded.
type Tracker struct {
	mu           sync.RWMutex
	name         string
	healthy      bool
	failedAt     time.Time
	lastErr      string
	cooldown     time.Duration
	failureCount int64
	nowFunc      func() time.Time
}

// NewTracker creates a healthy tracker. The cooldown must be positive.
func NewTracker(name string, cooldown time.Duration) (*Tracker, error) {
	if cooldown <= 0 {
		return nil, sorcerr.Errorf(sorcerr.CodeConfigValidateInvalidValue,
			"health tracker cooldown must be positive, got %s", cooldown)
	}
	return &Tracker{
		name:     name,
		healthy:  true,
		cooldown: cooldown,
		nowFunc:  time.Now,
	}, nil
}

// MustTracker is NewTracker for constant cooldowns.
func MustTracker(name string, cooldown time.Duration) *Tracker {
	t, err := NewTracker(name, cooldown)
	if err != nil {
		panic(err)
	}
	return t
}

// caller holds h.mu
func (h *Tracker) availableLocked() bool {
	if h.healthy {
		return true
	}
	return h.nowFunc().Sub(h.failedAt) >= h.cooldown
}

// Available reports whether the dependency may be called now.
func (h *Tracker) Available() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.availableLocked()
}

func (h *Tracker) RecordSuccess() {
	h.mu.Lock()
	h.healthy = true
	h.mu.Unlock()
}

// RecordFailure starts a cooldown and remembers err for Metrics.
func (h *Tracker) RecordFailure(err error) {
	h.mu.Lock()
	h.healthy = false
	h.failedAt = h.nowFunc()
	h.failureCount++
	if err != nil {
		h.lastErr = err.Error()
	}
	h.mu.Unlock()
}

// SetNowFunc overrides the clock.
func (h *Tracker) SetNowFunc(fn func() time.Time) {
	h.mu.Lock()
	h.nowFunc = fn
	h.mu.Unlock()
}

// Metrics returns a snapshot that shares no state with the tracker.
func (h *Tracker) Metrics() Metrics {
	h.mu.RLock()
	defer h.mu.RUnlock()

	m := Metrics{
		Name:         h.name,
		FailureCount: h.failureCount,
		LastError:    h.lastErr,
		Available:    h.availableLocked(),
	}
	if h.failureCount > 0 {
		t := h.failedAt
		m.LastFailureAt = &t
	}
	if !h.healthy {
		until := h.failedAt.Add(h.cooldown)
		m.CooldownUntil = &until
	}
	return m
}
