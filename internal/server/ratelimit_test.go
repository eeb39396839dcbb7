// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func hit(h http.Handler, remote string) int {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/agents", nil)
	req.RemoteAddr = remote
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w.Code
}

func TestRateLimitConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     RateLimitConfig
		wantErr bool
	}{
		{"disabled", RateLimitConfig{}, false},
		{"rate with burst", RateLimitConfig{RequestsPerSecond: 2, Burst: 4}, false},
		{"rate without burst", RateLimitConfig{RequestsPerSecond: 2}, true},
		{"negative rate", RateLimitConfig{RequestsPerSecond: -1, Burst: 1}, true},
		{"negative clients", RateLimitConfig{MaxClients: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, DefaultMaxClients, cfg.MaxClients)
		})
	}
}

func TestRateLimitMiddleware_DisabledPassesThrough(t *testing.T) {
	done := make(chan struct{})
	t.Cleanup(func() { close(done) })

	h := rateLimitMiddleware(RateLimitConfig{}, slog.Default(), done)(okHandler())
	for range 50 {
		assert.Equal(t, http.StatusOK, hit(h, "10.0.0.1:1000"))
	}
}

func TestLimiter_BurstThenRefill(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	l := newLimiter(RateLimitConfig{RequestsPerSecond: 2, Burst: 3, MaxClients: 10}, slog.Default())
	l.nowFunc = func() time.Time { return now }
	h := l.middleware(okHandler())

	for range 3 {
		assert.Equal(t, http.StatusOK, hit(h, "10.0.0.1:1000"))
	}
	assert.Equal(t, http.StatusTooManyRequests, hit(h, "10.0.0.1:1001"), "ports share the client's bucket")
	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.2:1000"), "other clients are unaffected")

	now = now.Add(500 * time.Millisecond)
	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.1:1000"))
	assert.Equal(t, http.StatusTooManyRequests, hit(h, "10.0.0.1:1000"))
}

func TestLimiter_RejectionHeaders(t *testing.T) {
	l := newLimiter(RateLimitConfig{RequestsPerSecond: 1, Burst: 1, MaxClients: 10}, slog.Default())
	h := l.middleware(okHandler())
	require.Equal(t, http.StatusOK, hit(h, "10.0.0.1:1"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "rate limit exceeded")
}

func TestLimiter_SweepEvictsIdleAndOldest(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	l := newLimiter(RateLimitConfig{RequestsPerSecond: 1, Burst: 1, MaxClients: 2}, slog.Default())
	l.nowFunc = func() time.Time { return now }

	l.allow("idle")
	now = now.Add(idleAfter + time.Second)
	for i := range 3 {
		l.allow(fmt.Sprintf("10.0.0.%d", i))
		now = now.Add(time.Second)
	}
	require.Equal(t, 4, l.size())

	l.sweep()
	assert.Equal(t, 2, l.size())
	l.mu.Lock()
	defer l.mu.Unlock()
	assert.NotContains(t, l.buckets, "idle")
	assert.NotContains(t, l.buckets, "10.0.0.0")
	assert.Contains(t, l.buckets, "10.0.0.2")
}
