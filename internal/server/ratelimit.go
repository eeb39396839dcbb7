// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

package server

import (
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
)

// DefaultMaxClients caps how many client IPs the limiter tracks.
const DefaultMaxClients = 10000

const (
	sweepInterval = 5 * time.Minute
	idleAfter     = 10 * time.Minute
)

// RateLimitConfig configures per-IP token buckets.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per IP. Zero disables limiting.
	RequestsPerSecond float64
	Burst             int
	// MaxClients bounds the tracked IPs; the least recently seen are
	// evicted first. Zero means DefaultMaxClients.
	MaxClients int
}

// Validate checks c and fills defaults.
func (c *RateLimitConfig) Validate() error {
	if c.RequestsPerSecond < 0 {
		return sorcerr.Errorf(sorcerr.CodeServerConfigInvalid,
			"rate limit must not be negative, got %g", c.RequestsPerSecond)
	}
	if c.RequestsPerSecond > 0 && c.Burst <= 0 {
		return sorcerr.Errorf(sorcerr.CodeServerConfigInvalid,
			"rate limit burst must be positive when a rate is set, got %d", c.Burst)
	}
	if c.MaxClients < 0 {
		return sorcerr.Errorf(sorcerr.CodeServerConfigInvalid,
			"rate limit max clients must not be negative, got %d", c.MaxClients)
	}
	if c.MaxClients == 0 {
		c.MaxClients = DefaultMaxClients
	}
	return nil
}

type bucket struct {
	tokens   float64
	refilled time.Time
	seen     time.Time
}

type limiter struct {
	cfg     RateLimitConfig
	logger  *slog.Logger
	nowFunc func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

func newLimiter(cfg RateLimitConfig, logger *slog.Logger) *limiter {
	return &limiter{
		cfg:     cfg,
		logger:  logger,
		nowFunc: time.Now,
		buckets: make(map[string]*bucket),
	}
}

// allow takes one token from ip's bucket.
func (l *limiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	b, ok := l.buckets[ip]
	if !ok {
		b = &bucket{tokens: float64(l.cfg.Burst), refilled: now}
		l.buckets[ip] = b
	}
	b.seen = now
	b.tokens = min(float64(l.cfg.Burst), b.tokens+now.Sub(b.refilled).Seconds()*l.cfg.RequestsPerSecond)
	b.refilled = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// sweep drops idle buckets, then the least recently seen ones above the
// client cap.
func (l *limiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	type seenAt struct {
		ip   string
		seen time.Time
	}
	live := make([]seenAt, 0, len(l.buckets))
	for ip, b := range l.buckets {
		if now.Sub(b.seen) > idleAfter {
			delete(l.buckets, ip)
			continue
		}
		live = append(live, seenAt{ip, b.seen})
	}
	excess := len(live) - l.cfg.MaxClients
	if l.cfg.MaxClients <= 0 || excess <= 0 {
		return
	}
	slices.SortFunc(live, func(a, b seenAt) int { return a.seen.Compare(b.seen) })
	for _, e := range live[:excess] {
		delete(l.buckets, e.ip)
	}
	l.logger.Warn("rate limiter evicted clients", "evicted", excess, "max_clients", l.cfg.MaxClients)
}

func (l *limiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// rateLimitMiddleware enforces cfg per client IP. It passes everything
// through when no rate is set. The sweeper exits when done closes.
func rateLimitMiddleware(cfg RateLimitConfig, logger *slog.Logger, done <-chan struct{}) func(http.Handler) http.Handler {
	if cfg.RequestsPerSecond <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	l := newLimiter(cfg, logger)
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.sweep()
			case <-done:
				return
			}
		}
	}()
	return l.middleware
}

func (l *limiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Key on the host alone so several connections from one client
		// share a bucket.
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		if !l.allow(ip) {
			l.logger.Warn("rate limit exceeded", "ip", ip, "path", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"title":"Too Many Requests","status":429,"detail":"rate limit exceeded"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
