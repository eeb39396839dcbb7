// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

package ingest_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sorcerer-dev/sorcerer/internal/index"
	"github.com/sorcerer-dev/sorcerer/internal/index/indextest"
	"github.com/sorcerer-dev/sorcerer/internal/index/memory"
	"github.com/sorcerer-dev/sorcerer/internal/ingest"
	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
)

// recordingStore counts inserts and rejects ids listed in reject.
type recordingStore struct {
	*memory.Store
	mu      sync.Mutex
	inserts int
	reject  map[string]bool
}

func newRecordingStore(t *testing.T, reject ...string) *recordingStore {
	t.Helper()
	s, err := memory.New(index.ModeKeyword, nil)
	require.NoError(t, err)
	r := &recordingStore{Store: s, reject: map[string]bool{}}
	for _, id := range reject {
		r.reject[id] = true
	}
	return r
}

func (r *recordingStore) Insert(ctx context.Context, doc *index.Document) (string, error) {
	r.mu.Lock()
	r.inserts++
	r.mu.Unlock()
	if r.reject[doc.ID] {
		return "", sorcerr.New(sorcerr.CodeIndexStorageFailure, "disk full")
	}
	return r.Store.Insert(ctx, doc)
}

func (r *recordingStore) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inserts
}

func docs(n int) []*index.Document {
	out := make([]*index.Document, n)
	for i := range out {
		out[i] = indextest.Doc(fmt.Sprintf("doc-%d", i), "alpha beta", 0.5)
	}
	return out
}

func TestBatcher_CommitsFullBatches(t *testing.T) {
	store := newRecordingStore(t)
	b, err := ingest.New(store, ingest.Options{BatchSize: 3, Interval: -1})
	require.NoError(t, err)

	c, err := b.Add(context.Background(), docs(2)...)
	require.NoError(t, err)
	assert.Empty(t, c.IDs)
	assert.Zero(t, store.count())
	assert.Equal(t, 2, b.Stats().Pending)

	c, err = b.Add(context.Background(), docs(5)[2:]...)
	require.NoError(t, err)
	assert.Len(t, c.IDs, 3)
	assert.Equal(t, 3, store.count())

	stats := b.Stats()
	assert.Equal(t, 1, stats.Batches)
	assert.Equal(t, 3, stats.Committed)
	assert.Equal(t, 0, stats.Pending)
}

func TestBatcher_AddSplitsLargeInput(t *testing.T) {
	store := newRecordingStore(t)
	b, err := ingest.New(store, ingest.Options{BatchSize: 4, Interval: -1})
	require.NoError(t, err)

	c, err := b.Add(context.Background(), docs(10)...)
	require.NoError(t, err)
	assert.Len(t, c.IDs, 8)
	assert.Equal(t, 2, b.Stats().Batches)
	assert.Equal(t, 2, b.Stats().Pending)

	require.NoError(t, b.Close(context.Background()))
	assert.Equal(t, 10, store.count())
	assert.Equal(t, 3, b.Stats().Batches)

	doc, ok, err := store.Get(context.Background(), "doc-9")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "alpha beta", doc.Content)
}

func TestBatcher_TimedCommit(t *testing.T) {
	store := newRecordingStore(t)
	b, err := ingest.New(store, ingest.Options{BatchSize: 100, Interval: 10 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close(context.Background()) })

	_, err = b.Add(context.Background(), docs(3)...)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return store.count() == 3 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return b.Stats().Pending == 0 }, time.Second, 5*time.Millisecond)
}

func TestBatcher_FailuresAreReported(t *testing.T) {
	store := newRecordingStore(t, "doc-1")
	b, err := ingest.New(store, ingest.Options{BatchSize: 3, Interval: -1})
	require.NoError(t, err)

	c, err := b.Add(context.Background(), docs(3)...)
	require.Error(t, err)
	assert.True(t, sorcerr.HasCode(err, sorcerr.CodeIndexStorageFailure))
	assert.Contains(t, err.Error(), "1 of 3 documents failed")
	assert.ElementsMatch(t, []string{"doc-0", "doc-2"}, c.IDs)
	require.Len(t, c.Failures, 1)
	assert.Equal(t, "doc-1", c.Failures[0].DocumentID)
	assert.Equal(t, 1, b.Stats().Failed)
}

func TestBatcher_ClosedRejectsAdds(t *testing.T) {
	store := newRecordingStore(t)
	b, err := ingest.New(store, ingest.Options{Interval: time.Hour})
	require.NoError(t, err)

	_, err = b.Add(context.Background(), docs(1)...)
	require.NoError(t, err)
	require.NoError(t, b.Close(context.Background()))
	require.NoError(t, b.Close(context.Background()))
	assert.Equal(t, 1, store.count())

	_, err = b.Add(context.Background(), docs(1)...)
	require.Error(t, err)
}

func TestNew_RequiresTarget(t *testing.T) {
	_, err := ingest.New(nil, ingest.Options{})
	require.Error(t, err)
	assert.True(t, sorcerr.IsInvalidInput(err))
}
