// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sorcerer-dev/sorcerer/internal/index"
	"github.com/sorcerer-dev/sorcerer/internal/index/indextest"
	"github.com/sorcerer-dev/sorcerer/internal/index/sqlite"
	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openCorpus(t *testing.T) *sqlite.Corpus {
	t.Helper()
	c, err := sqlite.Open(filepath.Join(t.TempDir(), "index.db"), sqlite.Options{
		PoolSize: 4,
		Embedder: index.NewHashEmbedder(64),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func view(t *testing.T, c *sqlite.Corpus, mode index.Mode) *sqlite.View {
	t.Helper()
	v, err := c.View(mode)
	require.NoError(t, err)
	return v
}

func TestViewContract(t *testing.T) {
	for _, mode := range []index.Mode{index.ModeKeyword, index.ModeSemantic, index.ModeTimeBased} {
		t.Run(string(mode), func(t *testing.T) {
			indextest.RunStoreContract(t, func(t *testing.T) index.IndexStore {
				return view(t, openCorpus(t), mode)
			}, "beta gamma")
		})
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := sqlite.Open(filepath.Join(t.TempDir(), "missing", "dir", "x.db"), sqlite.Options{})
	require.Error(t, err)
	assert.True(t, sorcerr.IsDatabaseError(err))
}

func TestView_UnsupportedMode(t *testing.T) {
	c := openCorpus(t)
	_, err := c.View(index.ModeAPI)
	require.Error(t, err)
	assert.True(t, sorcerr.HasCode(err, sorcerr.CodeIndexBackendUnsupported))

	plain, err := sqlite.Open(filepath.Join(t.TempDir(), "plain.db"), sqlite.Options{})
	require.NoError(t, err)
	defer func() { _ = plain.Close() }()
	_, err = plain.View(index.ModeSemantic)
	assert.Error(t, err)
}

func TestViewsShareDocuments(t *testing.T) {
	ctx := context.Background()
	c := openCorpus(t)
	kw := view(t, c, index.ModeKeyword)
	recent := view(t, c, index.ModeTimeBased)

	_, err := kw.Insert(ctx, indextest.Doc("shared", "vector databases", 0.7))
	require.NoError(t, err)

	got, ok, err := recent.Get(ctx, "shared")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "vector databases", got.Content)
	assert.Equal(t, []string{"t"}, got.Metadata.Tags)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), got.Metadata.UpdatedAt)

	n, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestKeyword_RanksAndStaysInSyncOnUpdate(t *testing.T) {
	ctx := context.Background()
	kw := view(t, openCorpus(t), index.ModeKeyword)

	_, err := kw.Insert(ctx, indextest.Doc("a", "rust memory safety", 0.5))
	require.NoError(t, err)
	_, err = kw.Insert(ctx, indextest.Doc("b", "rust compiler", 0.5))
	require.NoError(t, err)

	matches, err := kw.Search(ctx, index.Request{Text: "Rust memory"})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "a", matches[0].Document.ID)

	// Rewriting b drops the old text from the full-text table.
	_, err = kw.Insert(ctx, indextest.Doc("b", "go scheduler", 0.5))
	require.NoError(t, err)

	matches, err = kw.Search(ctx, index.Request{Text: "compiler"})
	require.NoError(t, err)
	assert.Empty(t, matches)

	matches, err = kw.Search(ctx, index.Request{Text: "scheduler"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "b", matches[0].Document.ID)
}

func TestKeyword_EmptyQuery(t *testing.T) {
	kw := view(t, openCorpus(t), index.ModeKeyword)
	_, err := kw.Search(context.Background(), index.Request{Text: "   "})
	require.Error(t, err)
	assert.True(t, sorcerr.IsQueryError(err))
}

func TestKeyword_Limit(t *testing.T) {
	ctx := context.Background()
	kw := view(t, openCorpus(t), index.ModeKeyword)
	for _, id := range []string{"d", "b", "c", "a"} {
		_, err := kw.Insert(ctx, indextest.Doc(id, "identical text", 0.5))
		require.NoError(t, err)
	}

	matches, err := kw.Search(ctx, index.Request{Text: "identical", Limit: 2})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "a", matches[0].Document.ID)
	assert.Equal(t, "b", matches[1].Document.ID)
}

func TestSemantic_NearestFirst(t *testing.T) {
	ctx := context.Background()
	sem := view(t, openCorpus(t), index.ModeSemantic)

	_, err := sem.Insert(ctx, indextest.Doc("near", "goroutines channels select", 0.5))
	require.NoError(t, err)
	_, err = sem.Insert(ctx, indextest.Doc("far", "sourdough starter hydration", 0.5))
	require.NoError(t, err)

	matches, err := sem.Search(ctx, index.Request{Text: "channels and goroutines", Limit: 5})
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, "near", matches[0].Document.ID)
	assert.Greater(t, matches[0].Confidence, float32(0.3))
}

func TestSemantic_RejectsWrongDimensions(t *testing.T) {
	ctx := context.Background()
	sem := view(t, openCorpus(t), index.ModeSemantic)

	d := indextest.Doc("x", "text", 0.5)
	d.Embedding = []float32{1, 0, 0}
	_, err := sem.Insert(ctx, d)
	require.Error(t, err)
	assert.True(t, sorcerr.IsStorageError(err))

	_, err = sem.Search(ctx, index.Request{Vector: []float32{1}})
	require.Error(t, err)
	assert.True(t, sorcerr.IsQueryError(err))
}

func TestTimeBased_RecencyOrder(t *testing.T) {
	ctx := context.Background()
	c := openCorpus(t)
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	c.SetNowFunc(func() time.Time { return now })
	recent := view(t, c, index.ModeTimeBased)

	old := indextest.Doc("old", "changelog entry", 0.5)
	old.Metadata.UpdatedAt = now.Add(-14 * 24 * time.Hour)
	fresh := indextest.Doc("fresh", "changelog entry", 0.5)
	fresh.Metadata.UpdatedAt = now
	for _, d := range []*index.Document{old, fresh} {
		_, err := recent.Insert(ctx, d)
		require.NoError(t, err)
	}

	matches, err := recent.Search(ctx, index.Request{Text: "changelog"})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "fresh", matches[0].Document.ID)
	assert.InDelta(t, 1, matches[0].Confidence, 1e-6)
	assert.InDelta(t, 0.25, matches[1].Confidence, 1e-4)

	docs, err := recent.List(ctx, now.Add(-24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "fresh", docs[0].ID)
}

func TestGraph_TraversesSharedEntities(t *testing.T) {
	ctx := context.Background()
	c := openCorpus(t)
	g := view(t, c, index.ModeGraph)

	a := indextest.Doc("a", "intro", 0.5)
	a.Entities = []index.Entity{{Name: "Rust", EntityType: "language", Confidence: 0.9}, {Name: "Mozilla", EntityType: "org", Confidence: 0.8}}
	b := indextest.Doc("b", "history", 0.5)
	b.Entities = []index.Entity{{Name: "mozilla", EntityType: "org", Confidence: 0.8}}
	z := indextest.Doc("z", "unrelated", 0.5)
	z.Entities = []index.Entity{{Name: "Python", EntityType: "language", Confidence: 0.9}}
	for _, d := range []*index.Document{a, b, z} {
		_, err := g.Insert(ctx, d)
		require.NoError(t, err)
	}

	matches, err := g.Search(ctx, index.Request{Text: "rust"})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "a", matches[0].Document.ID)
	assert.InDelta(t, 1, matches[0].Confidence, 1e-6)
	assert.Equal(t, "b", matches[1].Document.ID)
	assert.InDelta(t, 0.5, matches[1].Confidence, 1e-6)

	// Deleting a cuts the path from rust to b.
	ok, err := g.Delete(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)

	matches, err = g.Search(ctx, index.Request{Text: "rust"})
	require.NoError(t, err)
	assert.Empty(t, matches)

	_, err = g.Search(ctx, index.Request{Text: ""})
	assert.True(t, sorcerr.IsQueryError(err))
}

func TestGraph_MultiWordEntity(t *testing.T) {
	ctx := context.Background()
	g := view(t, openCorpus(t), index.ModeGraph)

	d := indextest.Doc("ml", "notes", 0.5)
	d.Entities = []index.Entity{{Name: "Machine-Learning", EntityType: "topic", Confidence: 1}}
	_, err := g.Insert(ctx, d)
	require.NoError(t, err)

	matches, err := g.Search(ctx, index.Request{Text: "machine learning"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "ml", matches[0].Document.ID)
}

func TestRescore(t *testing.T) {
	ctx := context.Background()
	kw := view(t, openCorpus(t), index.ModeKeyword)
	_, err := kw.Insert(ctx, indextest.Doc("a", "alpha", 0.5))
	require.NoError(t, err)

	ok, err := kw.Rescore(ctx, "a", 0.95)
	require.NoError(t, err)
	assert.True(t, ok)

	got, _, err := kw.Get(ctx, "a")
	require.NoError(t, err)
	assert.InDelta(t, 0.95, got.Metadata.TrustScore, 1e-6)

	ok, err = kw.Rescore(ctx, "nope", 0.1)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = kw.Rescore(ctx, "a", -1)
	assert.Error(t, err)
}

func TestFactory_SharesCorpusPerPath(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	env := index.Env{DataDir: dir, Embedder: index.NewHashEmbedder(32)}

	kw, err := index.Open(ctx, index.Spec{Name: "kw", Type: "sqlite", Mode: index.ModeKeyword}, env)
	require.NoError(t, err)
	g, err := index.Open(ctx, index.Spec{Name: "g", Type: "sqlite", Mode: index.ModeGraph}, env)
	require.NoError(t, err)

	d := indextest.Doc("x", "body", 0.5)
	d.Entities = []index.Entity{{Name: "Tokio", EntityType: "library", Confidence: 1}}
	_, err = kw.Insert(ctx, d)
	require.NoError(t, err)

	matches, err := g.Search(ctx, index.Request{Text: "tokio"})
	require.NoError(t, err)
	require.Len(t, matches, 1)

	require.NoError(t, index.CloseStore(kw))
	// g still works after kw released its reference.
	_, ok, err := g.Get(ctx, "x")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, index.CloseStore(g))
	require.NoError(t, index.CloseStore(g))

	_, err = index.Open(ctx, index.Spec{Name: "bad", Type: "sqlite", Mode: index.ModeFileSystem}, env)
	assert.Error(t, err)
}
