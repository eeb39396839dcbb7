// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

// Package indextest holds the behavioural checks every IndexStore must pass.
package indextest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/sorcerer-dev/sorcerer/internal/index"
)

// Doc builds a document with fixed timestamps.
func Doc(id, content string, trust float32) *index.Document {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &index.Document{
		ID:      id,
		Content: content,
		Metadata: index.Metadata{
			Source:     "test://" + id,
			CreatedAt:  ts,
			UpdatedAt:  ts,
			TrustScore: trust,
			Tags:       []string{"t"},
		},
	}
}

// RunStoreContract exercises the insert/get/delete/search lifecycle.
// newStore must return an empty store. query must match the content
// "alpha beta gamma" for the backend under test.
func RunStoreContract(t *testing.T, newStore func(t *testing.T) index.IndexStore, query string) {
	t.Helper()
	ctx := context.Background()

	t.Run("get missing", func(t *testing.T) {
		s := newStore(t)
		doc, ok, err := s.Get(ctx, "nope")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, doc)
	})

	t.Run("delete missing", func(t *testing.T) {
		s := newStore(t)
		ok, err := s.Delete(ctx, "nope")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("insert then get", func(t *testing.T) {
		s := newStore(t)
		id, err := s.Insert(ctx, Doc("doc-1", "alpha beta gamma", 0.8))
		require.NoError(t, err)
		require.NotEmpty(t, id)

		got, ok, err := s.Get(ctx, id)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, id, got.ID)
		assert.Equal(t, "alpha beta gamma", got.Content)
		assert.InDelta(t, 0.8, got.Metadata.TrustScore, 1e-6)
	})

	t.Run("insert assigns id", func(t *testing.T) {
		s := newStore(t)
		d := Doc("", "alpha beta gamma", 0.5)
		id, err := s.Insert(ctx, d)
		require.NoError(t, err)
		assert.NotEmpty(t, id)

		_, ok, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("insert rejects bad trust", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Insert(ctx, Doc("bad", "alpha", 1.5))
		require.Error(t, err)
	})

	t.Run("search finds inserted document", func(t *testing.T) {
		s := newStore(t)
		id, err := s.Insert(ctx, Doc("doc-s", "alpha beta gamma", 0.6))
		require.NoError(t, err)

		matches, err := s.Search(ctx, index.Request{Text: query, Limit: 10})
		require.NoError(t, err)
		require.NotEmpty(t, matches)
		assert.Equal(t, id, matches[0].Document.ID)
		for _, m := range matches {
			assert.GreaterOrEqual(t, m.Confidence, float32(0))
			assert.LessOrEqual(t, m.Confidence, float32(1))
		}
	})

	t.Run("delete removes from get and search", func(t *testing.T) {
		s := newStore(t)
		id, err := s.Insert(ctx, Doc("doc-d", "alpha beta gamma", 0.6))
		require.NoError(t, err)

		ok, err := s.Delete(ctx, id)
		require.NoError(t, err)
		assert.True(t, ok)

		_, found, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.False(t, found)

		matches, err := s.Search(ctx, index.Request{Text: query, Limit: 10})
		require.NoError(t, err)
		for _, m := range matches {
			assert.NotEqual(t, id, m.Document.ID)
		}

		ok, err = s.Delete(ctx, id)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("reinsert replaces", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Insert(ctx, Doc("doc-r", "alpha beta gamma", 0.6))
		require.NoError(t, err)
		_, err = s.Insert(ctx, Doc("doc-r", "alpha beta gamma delta", 0.9))
		require.NoError(t, err)

		got, ok, err := s.Get(ctx, "doc-r")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "alpha beta gamma delta", got.Content)
		assert.InDelta(t, 0.9, got.Metadata.TrustScore, 1e-6)
	})

	t.Run("concurrent writes to one id", func(t *testing.T) {
		s := newStore(t)
		trust := func(i int) float32 { return float32(i+1) / 10 }

		var g errgroup.Group
		for i := range 8 {
			g.Go(func() error {
				content := fmt.Sprintf("alpha beta gamma writer%d", i)
				if _, err := s.Insert(ctx, Doc("doc-c", content, trust(i))); err != nil {
					return err
				}
				if i%3 == 0 {
					_, err := s.Delete(ctx, "doc-c")
					return err
				}
				_, _, err := s.Get(ctx, "doc-c")
				return err
			})
		}
		require.NoError(t, g.Wait())

		got, ok, err := s.Get(ctx, "doc-c")
		require.NoError(t, err)
		if !ok {
			return
		}
		var writer int
		_, err = fmt.Sscanf(got.Content, "alpha beta gamma writer%d", &writer)
		require.NoError(t, err, "content %q is not one writer's", got.Content)
		assert.InDelta(t, trust(writer), got.Metadata.TrustScore, 1e-6, "content and trust come from the same write")
	})
}
