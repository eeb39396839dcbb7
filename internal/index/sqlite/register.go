// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/sorcerer-dev/sorcerer/internal/index"
	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
)

// DefaultFileName is used when a sqlite backend names no path.
const DefaultFileName = "index.db"

func init() {
	index.RegisterFactory("sqlite", openView)
}

type pooled struct {
	corpus *Corpus
	refs   int
}

// Backends naming the same file share one Corpus so every mode sees the
// same documents. The corpus closes when its last view does.
var (
	poolMu sync.Mutex
	pool   = map[string]*pooled{}
)

func openView(_ context.Context, spec index.Spec, env index.Env) (index.IndexStore, error) {
	path := spec.Path
	if path == "" {
		dir := env.DataDir
		if dir == "" {
			dir = "."
		}
		path = filepath.Join(dir, DefaultFileName)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, sorcerr.Errorf(sorcerr.CodeDatabaseOpenFailure, "resolving %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o700); err != nil {
		return nil, sorcerr.Errorf(sorcerr.CodeDatabaseOpenFailure, "creating data directory: %w", err)
	}

	poolMu.Lock()
	defer poolMu.Unlock()

	p, ok := pool[abs]
	if !ok {
		c, err := Open(abs, Options{
			PoolSize:    env.PoolSize,
			BusyTimeout: env.BusyTimeout,
			Embedder:    env.Embedder,
			Logger:      env.Logger,
		})
		if err != nil {
			return nil, err
		}
		p = &pooled{corpus: c}
		pool[abs] = p
	}

	v, err := p.corpus.View(spec.Mode)
	if err != nil {
		if p.refs == 0 {
			delete(pool, abs)
			_ = p.corpus.Close()
		}
		return nil, err
	}
	p.refs++
	v.release = func() error {
		poolMu.Lock()
		defer poolMu.Unlock()
		p.refs--
		if p.refs > 0 {
			return nil
		}
		delete(pool, abs)
		return p.corpus.Close()
	}
	env.Logger.Debug("sqlite view opened", "backend", spec.Name, "mode", spec.Mode, "path", abs)
	return v, nil
}
