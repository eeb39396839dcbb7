// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

package sqlite

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"

	"github.com/sorcerer-dev/sorcerer/internal/index"
	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
)

const (
	defaultLimit = 50
	// graphDepth reaches documents that share an entity with a document
	// mentioning a query entity: entity -> doc -> entity -> doc.
	graphDepth = 3
)

var (
	_ index.IndexStore = (*View)(nil)
	_ index.Rescorer   = (*View)(nil)
	_ index.Lister     = (*View)(nil)
)

// View serves one mode over a Corpus. Writes through any view are visible
// to all views of the same corpus.
type View struct {
	corpus  *Corpus
	mode    index.Mode
	release func() error
	once    sync.Once
}

func (v *View) Mode() index.Mode { return v.mode }

// Source reports the corpus the view reads from.
func (v *View) Source() any { return v.corpus }

func (v *View) Corpus() *Corpus { return v.corpus }

func (v *View) Insert(ctx context.Context, doc *index.Document) (string, error) {
	return v.corpus.Insert(ctx, doc)
}

func (v *View) Get(ctx context.Context, id string) (*index.Document, bool, error) {
	return v.corpus.Get(ctx, id)
}

func (v *View) Delete(ctx context.Context, id string) (bool, error) {
	return v.corpus.Delete(ctx, id)
}

func (v *View) Rescore(ctx context.Context, id string, trust float32) (bool, error) {
	return v.corpus.Rescore(ctx, id, trust)
}

func (v *View) List(ctx context.Context, since time.Time, limit int) ([]*index.Document, error) {
	return v.corpus.List(ctx, since, limit)
}

// Close releases the view's hold on a pooled corpus.
func (v *View) Close() error {
	var err error
	v.once.Do(func() {
		if v.release != nil {
			err = v.release()
		}
	})
	return err
}

func (v *View) Search(ctx context.Context, req index.Request) ([]index.Match, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	switch v.mode {
	case index.ModeKeyword:
		return v.corpus.searchKeyword(ctx, req.Text, limit)
	case index.ModeSemantic:
		return v.corpus.searchSemantic(ctx, req, limit)
	case index.ModeGraph:
		return v.corpus.searchGraph(ctx, req.Text, limit)
	default:
		return v.corpus.searchRecent(ctx, req.Text, limit)
	}
}

func matchExpr(terms []string) string {
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + t + `"`
	}
	return strings.Join(quoted, " OR ")
}

func (c *Corpus) searchKeyword(ctx context.Context, text string, limit int) ([]index.Match, error) {
	terms := index.Terms(text)
	if len(terms) == 0 {
		return nil, sorcerr.New(sorcerr.CodeIndexQueryInvalid, "keyword query has no searchable terms")
	}

	const q = `SELECT ` + docColumns + `
FROM documents_fts f
JOIN documents d ON d.pk = f.docid
WHERE documents_fts MATCH ?`

	rows, err := c.db.QueryContext(ctx, q, matchExpr(terms))
	if err != nil {
		return nil, sorcerr.Errorf(sorcerr.CodeIndexQueryFailure, "full-text search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []index.Match
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, sorcerr.Errorf(sorcerr.CodeIndexQueryFailure, "scanning match: %w", err)
		}
		body := d.Metadata.Title + "\n" + d.Content + "\n" + strings.Join(d.Metadata.Tags, " ")
		if conf := index.TermConfidence(terms, body); conf > 0 {
			out = append(out, index.Match{Document: d, Confidence: conf})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, sorcerr.Errorf(sorcerr.CodeIndexQueryFailure, "iterating matches: %w", err)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Document.ID < out[j].Document.ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (c *Corpus) searchSemantic(ctx context.Context, req index.Request, limit int) ([]index.Match, error) {
	vec := req.Vector
	if len(vec) == 0 {
		if strings.TrimSpace(req.Text) == "" {
			return nil, sorcerr.New(sorcerr.CodeIndexQueryInvalid, "semantic query needs text or a vector")
		}
		var err error
		vec, err = c.embedder.Embed(ctx, req.Text)
		if err != nil {
			return nil, sorcerr.Wrap(err, sorcerr.CodeIndexQueryFailure, "embedding query")
		}
	}
	if len(vec) != c.embedder.Dimensions() {
		return nil, sorcerr.Errorf(sorcerr.CodeIndexQueryInvalid,
			"query vector has %d dimensions, index expects %d", len(vec), c.embedder.Dimensions())
	}
	blob, err := sqlite_vec.SerializeFloat32(index.Normalize(append([]float32(nil), vec...)))
	if err != nil {
		return nil, sorcerr.Errorf(sorcerr.CodeIndexQueryFailure, "serializing query vector: %w", err)
	}

	const q = `SELECT ` + docColumns + `, v.distance
FROM documents_vec v
JOIN documents d ON d.id = v.id
WHERE v.embedding MATCH ? AND k = ?
ORDER BY v.distance`

	rows, err := c.db.QueryContext(ctx, q, blob, limit)
	if err != nil {
		return nil, sorcerr.Errorf(sorcerr.CodeIndexQueryFailure, "vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []index.Match
	for rows.Next() {
		var dist float64
		d, err := scanDocument(rows, &dist)
		if err != nil {
			return nil, sorcerr.Errorf(sorcerr.CodeIndexQueryFailure, "scanning vector match: %w", err)
		}
		// unit vectors: cos = 1 - d^2/2
		if conf := index.SimilarityConfidence(float32(1 - dist*dist/2)); conf > 0 {
			out = append(out, index.Match{Document: d, Confidence: conf})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, sorcerr.Errorf(sorcerr.CodeIndexQueryFailure, "iterating vector matches: %w", err)
	}
	return out, nil
}

func (c *Corpus) searchRecent(ctx context.Context, text string, limit int) ([]index.Match, error) {
	terms := index.Terms(text)

	q := `SELECT ` + docColumns + ` FROM documents d`
	var args []any
	if len(terms) > 0 {
		q += ` WHERE d.pk IN (SELECT docid FROM documents_fts WHERE documents_fts MATCH ?)`
		args = append(args, matchExpr(terms))
	}
	q += ` ORDER BY d.updated_at DESC, d.id LIMIT ?`
	args = append(args, limit)

	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, sorcerr.Errorf(sorcerr.CodeIndexQueryFailure, "recency search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	now := c.now()
	var out []index.Match
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, sorcerr.Errorf(sorcerr.CodeIndexQueryFailure, "scanning recent document: %w", err)
		}
		out = append(out, index.Match{Document: d, Confidence: index.RecencyConfidence(now, d.Metadata.UpdatedAt)})
	}
	if err := rows.Err(); err != nil {
		return nil, sorcerr.Errorf(sorcerr.CodeIndexQueryFailure, "iterating recent documents: %w", err)
	}
	return out, nil
}
