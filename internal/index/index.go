// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

// Package index defines the document model and the IndexStore contract
// shared by every retrieval backend, plus the registry mapping query modes
// to backend instances.
package index

import (
	"context"
	"io"
	"time"

	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
)

// Mode is a retrieval strategy. It decides which backends are eligible
// for a query.
type Mode string

const (
	ModeKeyword    Mode = "keyword"
	ModeSemantic   Mode = "semantic"
	ModeGraph      Mode = "graph"
	ModeTimeBased  Mode = "time_based"
	ModeFileSystem Mode = "filesystem"
	ModeAPI        Mode = "api"
)

// Modes lists every supported mode.
func Modes() []Mode {
	return []Mode{ModeKeyword, ModeSemantic, ModeGraph, ModeTimeBased, ModeFileSystem, ModeAPI}
}

// ParseMode validates s as a Mode.
func ParseMode(s string) (Mode, error) {
	for _, m := range Modes() {
		if string(m) == s {
			return m, nil
		}
	}
	return "", sorcerr.Errorf(sorcerr.CodeIndexQueryInvalid, "unknown query mode %q", s)
}

// Exclusive reports whether at most one backend may serve the mode.
func (m Mode) Exclusive() bool {
	return m == ModeGraph || m == ModeAPI
}

// Request is what a backend receives for one search. It carries no
// constraints: filtering and global ranking happen in the planner.
type Request struct {
	Text string
	// Vector is an optional precomputed query embedding for semantic
	// backends; when nil they embed Text themselves.
	Vector []float32
	// Limit caps the raw matches a backend returns. Zero lets the backend
	// pick its own default.
	Limit int
}

// Match is one raw hit. Confidence is the backend's own relevance estimate
// in [0, 1]; trust travels with the document snapshot.
type Match struct {
	Document   *Document
	Confidence float32
}

// TrustScore returns the stored trust score of the matched document.
func (m Match) TrustScore() float32 {
	if m.Document == nil {
		return 0
	}
	return m.Document.Metadata.TrustScore
}

// IndexStore is implemented by every backend. Implementations must be safe
// for concurrent use and must never expose a half-written document.
type IndexStore interface {
	// Insert stores doc and returns its id, assigning one when empty.
	Insert(ctx context.Context, doc *Document) (string, error)
	// Search returns raw matches, best first. Nothing matching is an empty
	// slice, not an error.
	Search(ctx context.Context, req Request) ([]Match, error)
	// Get returns (nil, false, nil) for an unknown id.
	Get(ctx context.Context, id string) (*Document, bool, error)
	// Delete reports whether a document was removed.
	Delete(ctx context.Context, id string) (bool, error)
}

// Rescorer is implemented by backends that own their documents' trust
// scores. Re-scoring is only ever caller-triggered.
type Rescorer interface {
	Rescore(ctx context.Context, id string, trust float32) (bool, error)
}

// Embedder turns text into a vector of Dimensions() floats.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// Lister is implemented by backends that can enumerate recently updated
// documents.
type Lister interface {
	List(ctx context.Context, since time.Time, limit int) ([]*Document, error)
}

// Sourced is implemented by stores that are views over a shared document
// set. Two stores with the same Source hold the same documents under the
// same ids.
type Sourced interface {
	Source() any
}

// SourceOf returns the document set behind s: its Source when it has one,
// otherwise s itself.
func SourceOf(s IndexStore) any {
	if v, ok := s.(Sourced); ok {
		return v.Source()
	}
	return s
}

// CloseStore closes s when it holds resources.
func CloseStore(s IndexStore) error {
	if c, ok := s.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
