// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

package index

import (
	"context"
	"slices"
	"sync"

	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
)

// Backend is a named store registered under one mode.
type Backend struct {
	Name  string
	Mode  Mode
	Store IndexStore
}

// Registry maps each mode to its backends. Graph and API modes accept a
// single backend; every other mode fans out to all registered ones.
type Registry struct {
	mu     sync.RWMutex
	byMode map[Mode][]Backend
	byName map[string]Backend
}

func NewRegistry() *Registry {
	return &Registry{
		byMode: make(map[Mode][]Backend),
		byName: make(map[string]Backend),
	}
}

// Register adds store under name for mode.
func (r *Registry) Register(name string, mode Mode, store IndexStore) error {
	if name == "" || store == nil {
		return sorcerr.New(sorcerr.CodeIndexStorageInvalidInput, "backend name and store are required")
	}
	if _, err := ParseMode(string(mode)); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.byName[name]; dup {
		return sorcerr.New(sorcerr.CodeIndexBackendConflict, "backend already registered", sorcerr.FieldBackend(name))
	}
	if mode.Exclusive() && len(r.byMode[mode]) > 0 {
		return sorcerr.New(sorcerr.CodeIndexBackendConflict,
			"mode "+string(mode)+" is already served by "+r.byMode[mode][0].Name,
			sorcerr.FieldBackend(name))
	}

	b := Backend{Name: name, Mode: mode, Store: store}
	r.byName[name] = b
	r.byMode[mode] = append(r.byMode[mode], b)
	slices.SortFunc(r.byMode[mode], func(a, b Backend) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return nil
}

// ForMode returns the backends serving mode, ordered by name.
func (r *Registry) ForMode(mode Mode) []Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.byMode[mode])
}

// Lookup returns the backend registered as name.
func (r *Registry) Lookup(name string) (Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.byName[name]
	return b, ok
}

// All returns every backend ordered by mode then name.
func (r *Registry) All() []Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Backend
	for _, m := range Modes() {
		out = append(out, r.byMode[m]...)
	}
	return out
}

// Find looks id up in every backend and returns the first hit together
// with the name of the backend holding it. A backend that fails is skipped;
// its error is returned only when no other backend holds the document.
func (r *Registry) Find(ctx context.Context, id string) (*Document, string, error) {
	return r.find(ctx, id, r.All())
}

// FindIn looks id up in the named backend first and falls back to Find.
// Ids are only unique within one store, so callers that know where a
// document came from should say so.
func (r *Registry) FindIn(ctx context.Context, backend, id string) (*Document, string, error) {
	b, ok := r.Lookup(backend)
	if !ok {
		return r.Find(ctx, id)
	}
	rest := slices.DeleteFunc(r.All(), func(o Backend) bool { return o.Name == backend })
	return r.find(ctx, id, append([]Backend{b}, rest...))
}

func (r *Registry) find(ctx context.Context, id string, backends []Backend) (*Document, string, error) {
	var errs []error
	for _, b := range backends {
		doc, ok, err := b.Store.Get(ctx, id)
		if err != nil {
			errs = append(errs, sorcerr.With(err, sorcerr.FieldBackend(b.Name)))
			continue
		}
		if ok {
			return doc, b.Name, nil
		}
	}
	return nil, "", sorcerr.Join(errs...)
}

// Close closes every backend that holds resources. A store registered
// under several names is closed once.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[IndexStore]bool)
	var errs []error
	for _, b := range r.byName {
		if seen[b.Store] {
			continue
		}
		seen[b.Store] = true
		if err := CloseStore(b.Store); err != nil {
			errs = append(errs, sorcerr.With(err, sorcerr.FieldBackend(b.Name)))
		}
	}
	return sorcerr.Join(errs...)
}
