// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

// Package memory provides process-local index backends. They hold every
// document in a map and answer keyword, semantic and time-based queries
// by scanning it.
package memory

import (
	"container/heap"
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sorcerer-dev/sorcerer/internal/index"
	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
)

const defaultLimit = 50

func init() {
	index.RegisterFactory("memory", func(_ context.Context, spec index.Spec, env index.Env) (index.IndexStore, error) {
		return New(spec.Mode, env.Embedder)
	})
}

// Store is an in-memory IndexStore for one mode.
type Store struct {
	mu       sync.RWMutex
	mode     index.Mode
	embedder index.Embedder
	docs     map[string]*index.Document
	vectors  map[string][]float32
	nowFunc  func() time.Time
}

var (
	_ index.IndexStore = (*Store)(nil)
	_ index.Rescorer   = (*Store)(nil)
	_ index.Lister     = (*Store)(nil)
)

// New creates an empty store. Semantic stores need an embedder.
func New(mode index.Mode, embedder index.Embedder) (*Store, error) {
	switch mode {
	case index.ModeKeyword, index.ModeTimeBased:
	case index.ModeSemantic:
		if embedder == nil {
			return nil, sorcerr.New(sorcerr.CodeIndexStorageInvalidInput, "semantic memory store requires an embedder")
		}
	default:
		return nil, sorcerr.Errorf(sorcerr.CodeIndexBackendUnsupported, "memory store cannot serve mode %q", mode)
	}
	return &Store{
		mode:     mode,
		embedder: embedder,
		docs:     make(map[string]*index.Document),
		vectors:  make(map[string][]float32),
		nowFunc:  time.Now,
	}, nil
}

// SetNowFunc overrides the clock used for recency scoring.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	s.nowFunc = fn
	s.mu.Unlock()
}

func (s *Store) Insert(ctx context.Context, doc *index.Document) (string, error) {
	d := doc.Clone()
	if err := index.Prepare(d, time.Now()); err != nil {
		return "", err
	}

	var vec []float32
	if s.mode == index.ModeSemantic {
		vec = d.Embedding
		if len(vec) == 0 {
			var err error
			vec, err = s.embedder.Embed(ctx, searchable(d))
			if err != nil {
				return "", sorcerr.Wrap(err, sorcerr.CodeIndexStorageFailure, "embedding document", sorcerr.FieldDocumentID(d.ID))
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[d.ID] = d
	if vec != nil {
		s.vectors[d.ID] = vec
	}
	return d.ID, nil
}

func (s *Store) Get(_ context.Context, id string) (*index.Document, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[id]
	if !ok {
		return nil, false, nil
	}
	return d.Clone(), true, nil
}

func (s *Store) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; !ok {
		return false, nil
	}
	delete(s.docs, id)
	delete(s.vectors, id)
	return true, nil
}

// Rescore replaces the trust score of id.
func (s *Store) Rescore(_ context.Context, id string, trust float32) (bool, error) {
	if trust < 0 || trust > 1 {
		return false, sorcerr.Errorf(sorcerr.CodeIndexStorageInvalidInput, "trust score %v outside [0, 1]", trust)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok {
		return false, nil
	}
	d.Metadata.TrustScore = trust
	return true, nil
}

// List returns documents updated at or after since, newest first.
func (s *Store) List(_ context.Context, since time.Time, limit int) ([]*index.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*index.Document
	for _, d := range s.docs {
		if !d.Metadata.UpdatedAt.Before(since) {
			out = append(out, d.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Metadata.UpdatedAt, out[j].Metadata.UpdatedAt
		if !a.Equal(b) {
			return a.After(b)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Search(ctx context.Context, req index.Request) ([]index.Match, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	switch s.mode {
	case index.ModeKeyword:
		return s.searchKeyword(req.Text, limit)
	case index.ModeSemantic:
		return s.searchSemantic(ctx, req, limit)
	default:
		return s.searchRecent(req.Text, limit)
	}
}

func (s *Store) searchKeyword(text string, limit int) ([]index.Match, error) {
	terms := index.Terms(text)
	if len(terms) == 0 {
		return nil, sorcerr.New(sorcerr.CodeIndexQueryInvalid, "keyword query has no searchable terms")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	h := &matchHeap{}
	for _, d := range s.docs {
		if conf := index.TermConfidence(terms, searchable(d)); conf > 0 {
			h.offer(d, conf, limit)
		}
	}
	return h.drain(), nil
}

func (s *Store) searchSemantic(ctx context.Context, req index.Request, limit int) ([]index.Match, error) {
	vec := req.Vector
	if len(vec) == 0 {
		if strings.TrimSpace(req.Text) == "" {
			return nil, sorcerr.New(sorcerr.CodeIndexQueryInvalid, "semantic query needs text or a vector")
		}
		var err error
		vec, err = s.embedder.Embed(ctx, req.Text)
		if err != nil {
			return nil, sorcerr.Wrap(err, sorcerr.CodeIndexQueryFailure, "embedding query")
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	h := &matchHeap{}
	for id, v := range s.vectors {
		if conf := index.SimilarityConfidence(index.Cosine(vec, v)); conf > 0 {
			h.offer(s.docs[id], conf, limit)
		}
	}
	return h.drain(), nil
}

func (s *Store) searchRecent(text string, limit int) ([]index.Match, error) {
	terms := index.Terms(text)

	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.nowFunc()
	h := &matchHeap{}
	for _, d := range s.docs {
		if len(terms) > 0 && index.TermConfidence(terms, searchable(d)) == 0 {
			continue
		}
		h.offer(d, index.RecencyConfidence(now, d.Metadata.UpdatedAt), limit)
	}
	return h.drain(), nil
}

func searchable(d *index.Document) string {
	return d.Metadata.Title + "\n" + d.Content + "\n" + strings.Join(d.Metadata.Tags, " ")
}

// matchHeap is a min-heap keeping the best limit matches seen so far.
// Ties on confidence keep the lower id.
type matchHeap []index.Match

func (h matchHeap) Len() int { return len(h) }
func (h matchHeap) Less(i, j int) bool {
	if h[i].Confidence != h[j].Confidence {
		return h[i].Confidence < h[j].Confidence
	}
	return h[i].Document.ID > h[j].Document.ID
}
func (h matchHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *matchHeap) Push(x any)   { *h = append(*h, x.(index.Match)) }
func (h *matchHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func (h *matchHeap) offer(d *index.Document, conf float32, limit int) {
	m := index.Match{Document: d, Confidence: conf}
	if h.Len() < limit {
		heap.Push(h, m)
		return
	}
	if better(m, (*h)[0]) {
		(*h)[0] = m
		heap.Fix(h, 0)
	}
}

func better(a, b index.Match) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	return a.Document.ID < b.Document.ID
}

// drain returns the kept matches best first, cloning each document.
func (h *matchHeap) drain() []index.Match {
	out := make([]index.Match, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		m := heap.Pop(h).(index.Match)
		m.Document = m.Document.Clone()
		out[i] = m
	}
	return out
}
