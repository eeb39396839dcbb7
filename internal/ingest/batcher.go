// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

// Package ingest buffers documents and commits them to a backend in
// batches.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sorcerer-dev/sorcerer/internal/index"
	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
)

const (
	DefaultBatchSize = 100
	DefaultInterval  = 300 * time.Second
	DefaultWorkers   = 4
)

// Options configures a Batcher.
type Options struct {
	// BatchSize commits as soon as this many documents are buffered.
	BatchSize int
	// Interval commits whatever is buffered this often. A negative value
	// disables timed commits.
	Interval time.Duration
	// Workers bounds concurrent inserts within one commit.
	Workers int
	Logger  *slog.Logger
}

// Failure is one document a commit could not store.
type Failure struct {
	DocumentID string
	Err        error
}

// Commit reports one batch.
type Commit struct {
	IDs      []string
	Failures []Failure
}

// Err joins the commit's failures, or returns nil.
func (c Commit) Err() error {
	if len(c.Failures) == 0 {
		return nil
	}
	errs := make([]error, len(c.Failures))
	for i, f := range c.Failures {
		errs[i] = f.Err
	}
	return sorcerr.Errorf(sorcerr.CodeIndexStorageFailure, "%d of %d documents failed: %v",
		len(c.Failures), len(c.Failures)+len(c.IDs), errors.Join(errs...))
}

// Stats counts documents since the batcher started.
type Stats struct {
	Committed int `json:"committed"`
	Failed    int `json:"failed"`
	Batches   int `json:"batches"`
	Pending   int `json:"pending"`
}

// Batcher buffers documents for one target backend. Adds never block on
// a timed commit; commits are serialized.
type Batcher struct {
	target index.IndexStore
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	buf     []*index.Document
	stats   Stats
	closed  bool
	commit  sync.Mutex
	stop    chan struct{}
	stopped chan struct{}
}

// New starts a batcher committing to target.
func New(target index.IndexStore, opts Options) (*Batcher, error) {
	if target == nil {
		return nil, sorcerr.New(sorcerr.CodeIndexStorageInvalidInput, "batcher needs a target backend")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Interval == 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	b := &Batcher{
		target:  target,
		opts:    opts,
		logger:  opts.Logger,
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	if opts.Interval > 0 {
		go b.loop()
	} else {
		close(b.stopped)
	}
	return b, nil
}

func (b *Batcher) loop() {
	defer close(b.stopped)
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("batcher panicked", "panic", r)
		}
	}()

	ticker := time.NewTicker(b.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			if c, err := b.Flush(context.Background()); err != nil {
				b.logger.Warn("timed commit failed", "committed", len(c.IDs), "error", err)
			}
		}
	}
}

// Add buffers docs and commits every full batch before returning. The
// returned commit covers the batches committed by this call.
func (b *Batcher) Add(ctx context.Context, docs ...*index.Document) (Commit, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return Commit{}, sorcerr.New(sorcerr.CodeIndexStorageFailure, "batcher is closed")
	}
	for _, d := range docs {
		if d != nil {
			b.buf = append(b.buf, d)
		}
	}
	full := len(b.buf) >= b.opts.BatchSize
	b.mu.Unlock()

	var out Commit
	for full {
		batch := b.take(b.opts.BatchSize, true)
		if len(batch) == 0 {
			break
		}
		c := b.write(ctx, batch)
		out.IDs = append(out.IDs, c.IDs...)
		out.Failures = append(out.Failures, c.Failures...)

		b.mu.Lock()
		full = len(b.buf) >= b.opts.BatchSize
		b.mu.Unlock()
	}
	return out, out.Err()
}

// Flush commits everything buffered.
func (b *Batcher) Flush(ctx context.Context) (Commit, error) {
	batch := b.take(0, false)
	if len(batch) == 0 {
		return Commit{}, nil
	}
	c := b.write(ctx, batch)
	return c, c.Err()
}

// Close stops timed commits and flushes the remainder. Later adds fail.
func (b *Batcher) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	if b.opts.Interval > 0 {
		close(b.stop)
	}
	<-b.stopped
	_, err := b.Flush(ctx)
	return err
}

// Stats returns the running counters.
func (b *Batcher) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stats
	s.Pending = len(b.buf)
	return s
}

// take removes up to n buffered documents, all of them when n is 0. With
// onlyFull it takes nothing unless a full batch is waiting.
func (b *Batcher) take(n int, onlyFull bool) []*index.Document {
	b.mu.Lock()
	defer b.mu.Unlock()
	if onlyFull && len(b.buf) < n {
		return nil
	}
	if n == 0 || n > len(b.buf) {
		n = len(b.buf)
	}
	batch := b.buf[:n:n]
	b.buf = append([]*index.Document(nil), b.buf[n:]...)
	return batch
}

func (b *Batcher) write(ctx context.Context, batch []*index.Document) Commit {
	b.commit.Lock()
	defer b.commit.Unlock()

	ids := make([]string, len(batch))
	errs := make([]error, len(batch))
	var g errgroup.Group
	g.SetLimit(b.opts.Workers)
	for i, d := range batch {
		g.Go(func() error {
			ids[i], errs[i] = b.target.Insert(ctx, d)
			return nil
		})
	}
	_ = g.Wait()

	var c Commit
	for i, err := range errs {
		if err != nil {
			c.Failures = append(c.Failures, Failure{DocumentID: batch[i].ID, Err: err})
			continue
		}
		c.IDs = append(c.IDs, ids[i])
	}

	b.mu.Lock()
	b.stats.Batches++
	b.stats.Committed += len(c.IDs)
	b.stats.Failed += len(c.Failures)
	b.mu.Unlock()

	b.logger.Debug("batch committed", "documents", len(batch), "failed", len(c.Failures))
	return c
}
