// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

package index

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
)

// DefaultTrustScore is assigned to documents ingested without one.
const DefaultTrustScore float32 = 0.5

// Metadata describes a document's provenance.
type Metadata struct {
	Source     string    `json:"source" yaml:"source"`
	Title      string    `json:"title,omitempty" yaml:"title,omitempty"`
	CreatedAt  time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" yaml:"updated_at"`
	TrustScore float32   `json:"trust_score" yaml:"trust_score"`
	Tags       []string  `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Entity is a named thing extracted from a document.
type Entity struct {
	Name       string  `json:"name" yaml:"name"`
	EntityType string  `json:"entity_type" yaml:"entity_type"`
	Confidence float32 `json:"confidence" yaml:"confidence"`
}

// Document is the indexed unit. Its id is stable for its lifetime and its
// trust score changes only through an explicit Rescore.
type Document struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Metadata  Metadata  `json:"metadata"`
	Embedding []float32 `json:"embedding,omitempty"`
	Entities  []Entity  `json:"entities,omitempty"`
}

// NewDocument creates a document with a fresh id, the default trust score
// and both timestamps set to now.
func NewDocument(content, source string) *Document {
	now := time.Now().UTC()
	return &Document{
		ID:      uuid.NewString(),
		Content: content,
		Metadata: Metadata{
			Source:     source,
			CreatedAt:  now,
			UpdatedAt:  now,
			TrustScore: DefaultTrustScore,
		},
	}
}

// Clone returns a deep copy so callers never share backend-owned slices.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	c.Metadata.Tags = slices.Clone(d.Metadata.Tags)
	c.Embedding = slices.Clone(d.Embedding)
	c.Entities = slices.Clone(d.Entities)
	return &c
}

// Title returns the metadata title or, failing that, the first line of
// content cut to 80 runes.
func (d *Document) Title() string {
	if d.Metadata.Title != "" {
		return d.Metadata.Title
	}
	line, _, _ := strings.Cut(strings.TrimSpace(d.Content), "\n")
	if r := []rune(line); len(r) > 80 {
		return string(r[:80])
	}
	return line
}

// Prepare assigns an id and timestamps where missing and validates the
// document before a backend persists it. now is used for missing times.
func Prepare(d *Document, now time.Time) error {
	if d == nil {
		return sorcerr.New(sorcerr.CodeIndexStorageInvalidInput, "document is nil")
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if strings.TrimSpace(d.ID) != d.ID {
		return sorcerr.New(sorcerr.CodeIndexStorageInvalidInput, "document id must not have surrounding whitespace", sorcerr.FieldDocumentID(d.ID))
	}
	if t := d.Metadata.TrustScore; t < 0 || t > 1 || t != t {
		return sorcerr.Errorf(sorcerr.CodeIndexStorageInvalidInput, "document %s: trust score %v outside [0, 1]", d.ID, t)
	}
	for _, e := range d.Entities {
		if e.Name == "" {
			return sorcerr.Errorf(sorcerr.CodeIndexStorageInvalidInput, "document %s: entity without a name", d.ID)
		}
	}
	if d.Metadata.CreatedAt.IsZero() {
		d.Metadata.CreatedAt = now.UTC()
	}
	if d.Metadata.UpdatedAt.IsZero() {
		d.Metadata.UpdatedAt = d.Metadata.CreatedAt
	}
	return nil
}

// ClampTrust bounds a score reported by an external system to [0, 1].
func ClampTrust(v float32) float32 {
	switch {
	case v != v || v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
