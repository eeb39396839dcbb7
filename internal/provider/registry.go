// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

package provider

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
	"github.com/sorcerer-dev/sorcerer/pkg/health"
)

// Registry holds the configured providers and an ordered failover chain.
// A provider that fails is skipped for a cooldown period.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	trackers  map[string]*health.Tracker
	chain     []string // "provider" or "provider/model" refs
	cooldown  time.Duration
	nowFunc   func() time.Time
	logger    *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

func WithCooldown(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.cooldown = d
		}
	}
}

func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		providers: make(map[string]Provider),
		trackers:  make(map[string]*health.Tracker),
		cooldown:  health.DefaultCooldown,
		nowFunc:   time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds p under its own name.
func (r *Registry) Register(p Provider) error {
	name := p.Name()
	if name == "" {
		return sorcerr.New(sorcerr.CodeProviderRequestInvalid, "provider has no name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[name]; ok {
		return sorcerr.New(sorcerr.CodeProviderRequestInvalid,
			"provider already registered: "+name, sorcerr.FieldProvider(name))
	}
	t := health.MustTracker(name, r.cooldown)
	t.SetNowFunc(r.nowFunc)
	r.providers[name] = p
	r.trackers[name] = t
	return nil
}

// Get retrieves a provider by name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, sorcerr.New(sorcerr.CodeProviderNotFound,
			"provider not found: "+name, sorcerr.FieldProvider(name))
	}
	return p, nil
}

// SetChain sets the ordered failover chain. Every referenced provider must
// already be registered.
func (r *Registry) SetChain(refs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ref := range refs {
		name, _ := parseRef(ref)
		if _, ok := r.providers[name]; !ok {
			return sorcerr.New(sorcerr.CodeProviderNotFound,
				"failover chain names an unregistered provider: "+name, sorcerr.FieldProvider(name))
		}
	}
	r.chain = append([]string(nil), refs...)
	return nil
}

// Chain returns the failover chain.
func (r *Registry) Chain() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.chain...)
}

// SetNowFunc replaces the clock used by the health trackers.
func (r *Registry) SetNowFunc(fn func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nowFunc = fn
	for _, t := range r.trackers {
		t.SetNowFunc(fn)
	}
}

// Complete walks the failover chain and returns the first successful
// completion. Providers in cooldown are skipped. A model pinned in a chain
// ref overrides req.Model for that provider only.
func (r *Registry) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	type candidate struct {
		p       Provider
		tracker *health.Tracker
		model   string
	}

	r.mu.RLock()
	candidates := make([]candidate, 0, len(r.chain))
	for _, ref := range r.chain {
		name, model := parseRef(ref)
		candidates = append(candidates, candidate{p: r.providers[name], tracker: r.trackers[name], model: model})
	}
	r.mu.RUnlock()

	if len(candidates) == 0 {
		return nil, sorcerr.New(sorcerr.CodeProviderAllUnavailable, "no providers configured")
	}

	var tried []string
	var errs []error
	for _, c := range candidates {
		name := c.p.Name()
		if !c.tracker.Available() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, sorcerr.Wrap(err, sorcerr.CodeProviderUpstreamFailure, "completion cancelled")
		}

		attempt := req
		if c.model != "" {
			attempt.Model = c.model
		}
		tried = append(tried, name)

		out, err := c.p.Complete(ctx, attempt)
		if err != nil {
			c.tracker.RecordFailure(err)
			r.logger.Warn("provider completion failed", "provider", name, "error", err)
			errs = append(errs, err)
			continue
		}
		c.tracker.RecordSuccess()
		if out.Provider == "" {
			out.Provider = name
		}
		return out, nil
	}

	msg := "all providers unavailable"
	if len(tried) > 0 {
		msg += ": tried " + strings.Join(tried, ", ")
	}
	if len(errs) > 0 {
		return nil, sorcerr.Errorf(sorcerr.CodeProviderAllUnavailable, "%s: %v", msg, errors.Join(errs...))
	}
	return nil, sorcerr.New(sorcerr.CodeProviderAllUnavailable, msg)
}

// Health returns a snapshot per registered provider, sorted by name.
func (r *Registry) Health() []health.Metrics {
	r.mu.RLock()
	out := make([]health.Metrics, 0, len(r.trackers))
	for _, t := range r.trackers {
		out = append(out, t.Metrics())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Close shuts down all registered providers.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, p := range r.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return sorcerr.Join(errs...)
}
