// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/sorcerer-dev/sorcerer/internal/index"
	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
)

const predicateMentions = "mentions"

func docNode(id string) string { return "doc:" + id }

// entityNode normalises an entity name so "Machine-Learning" and
// "machine learning" meet at the same node.
func entityNode(name string) string {
	return "entity:" + strings.Join(index.Tokenize(name), " ")
}

// writeTriples replaces the (doc, mentions, entity) edges of d.
func writeTriples(ctx context.Context, tx *sql.Tx, d *index.Document) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM triples WHERE document_id = ?`, d.ID); err != nil {
		return err
	}
	const q = `INSERT INTO triples (subject, predicate, object, document_id, confidence)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(subject, predicate, object) DO UPDATE SET confidence = MAX(confidence, excluded.confidence)`
	for _, e := range d.Entities {
		node := entityNode(e.Name)
		if node == "entity:" {
			continue
		}
		conf := float64(e.Confidence)
		if conf <= 0 {
			conf = 1
		}
		if _, err := tx.ExecContext(ctx, q, docNode(d.ID), predicateMentions, node, d.ID, conf); err != nil {
			return err
		}
	}
	return nil
}

// searchGraph seeds a traversal at the entities named by the query and
// walks the mention graph in both directions. Confidence falls with the
// number of hops to the document.
func (c *Corpus) searchGraph(ctx context.Context, text string, limit int) ([]index.Match, error) {
	terms := index.Terms(text)
	if len(terms) == 0 {
		return nil, sorcerr.New(sorcerr.CodeIndexQueryInvalid, "graph query names no entity")
	}
	seeds := make([]string, 0, len(terms)+1)
	for _, t := range terms {
		seeds = append(seeds, "entity:"+t)
	}
	if len(terms) > 1 {
		seeds = append(seeds, entityNode(text))
	}

	var qb strings.Builder
	args := make([]any, 0, len(seeds)+2)
	qb.WriteString(`WITH RECURSIVE reachable(node, depth) AS (
	SELECT column1, 0 FROM (VALUES `)
	for i, s := range seeds {
		if i > 0 {
			qb.WriteString(", ")
		}
		qb.WriteString("(?)")
		args = append(args, s)
	}
	qb.WriteString(`)
	UNION
	SELECT CASE WHEN t.subject = r.node THEN t.object ELSE t.subject END, r.depth + 1
	FROM reachable r
	JOIN triples t ON (t.subject = r.node OR t.object = r.node)
	WHERE r.depth < ?
)
SELECT ` + docColumns + `, MIN(r.depth) AS hops
FROM reachable r
JOIN documents d ON r.node = 'doc:' || d.id
GROUP BY d.id
ORDER BY hops, d.id
LIMIT ?`)
	args = append(args, graphDepth, limit)

	rows, err := c.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, sorcerr.Errorf(sorcerr.CodeIndexQueryFailure, "graph traversal: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []index.Match
	for rows.Next() {
		var hops int
		d, err := scanDocument(rows, &hops)
		if err != nil {
			return nil, sorcerr.Errorf(sorcerr.CodeIndexQueryFailure, "scanning graph match: %w", err)
		}
		out = append(out, index.Match{Document: d, Confidence: 2 / float32(1+hops)})
	}
	if err := rows.Err(); err != nil {
		return nil, sorcerr.Errorf(sorcerr.CodeIndexQueryFailure, "iterating graph matches: %w", err)
	}
	return out, nil
}
