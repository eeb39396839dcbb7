// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

package index

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
)

// Spec describes one configured backend instance.
type Spec struct {
	Name         string
	Type         string
	Mode         Mode
	Path         string
	URL          string
	Collection   string
	APIKey       string
	DefaultTrust float32
}

// Env carries the settings shared by all backends.
type Env struct {
	DataDir     string
	Embedder    Embedder
	PoolSize    int
	BusyTimeout time.Duration
	UserAgent   string
	HTTPTimeout time.Duration
	Workers     int
	Logger      *slog.Logger
}

// Factory builds a backend from its Spec.
type Factory func(ctx context.Context, spec Spec, env Env) (IndexStore, error)

var (
	factories   = map[string]Factory{}
	factoriesMu sync.RWMutex
)

// RegisterFactory makes a backend type available to Open. Backend packages
// call it from init.
func RegisterFactory(typ string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[typ] = f
}

// FactoryTypes lists the registered backend types.
func FactoryTypes() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Open builds the backend described by spec.
func Open(ctx context.Context, spec Spec, env Env) (IndexStore, error) {
	factoriesMu.RLock()
	f, ok := factories[spec.Type]
	factoriesMu.RUnlock()
	if !ok {
		return nil, sorcerr.Errorf(sorcerr.CodeIndexBackendUnsupported, "unsupported backend type %q", spec.Type)
	}
	if env.Logger == nil {
		env.Logger = slog.Default()
	}
	if env.Embedder == nil {
		env.Embedder = NewHashEmbedder(DefaultHashDimensions)
	}
	if env.Workers <= 0 {
		env.Workers = 4
	}
	if spec.DefaultTrust == 0 {
		spec.DefaultTrust = DefaultTrustScore
	}
	store, err := f(ctx, spec, env)
	if err != nil {
		return nil, sorcerr.With(err, sorcerr.FieldBackend(spec.Name))
	}
	return store, nil
}
