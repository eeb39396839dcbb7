// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

// Package sqlite implements the keyword, semantic, graph and time-based
// backends on one SQLite database. Every mode is a view over a shared
// documents table; an FTS4 table, a sqlite-vec table and an entity
// triples table are kept in step with it inside each write transaction.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/sorcerer-dev/sorcerer/internal/index"
	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
)

func init() {
	sqlite_vec.Auto()
}

// Options configures a Corpus.
type Options struct {
	PoolSize    int
	BusyTimeout time.Duration
	// Embedder fills the vector table on insert. Nil disables semantic
	// search.
	Embedder index.Embedder
	Logger   *slog.Logger
}

// Corpus owns the database behind all sqlite views.
type Corpus struct {
	db       *sql.DB
	embedder index.Embedder
	logger   *slog.Logger

	mu      sync.RWMutex
	nowFunc func() time.Time
}

// Open opens (or creates) the database at path and migrates it.
func Open(path string, opts Options) (*Corpus, error) {
	busy := opts.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	// Transactions take the write lock at BEGIN.
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_foreign_keys=on&_txlock=immediate", path, busy.Milliseconds())

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, sorcerr.Errorf(sorcerr.CodeDatabaseOpenFailure, "opening sqlite db: %w", err)
	}
	if opts.PoolSize > 0 {
		db.SetMaxOpenConns(opts.PoolSize)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, sorcerr.Errorf(sorcerr.CodeDatabaseOpenFailure, "pinging sqlite db: %w", err)
	}

	dims := 0
	if opts.Embedder != nil {
		dims = opts.Embedder.Dimensions()
	}
	if err := migrate(db, dims); err != nil {
		_ = db.Close()
		return nil, sorcerr.Errorf(sorcerr.CodeDatabaseMigrateFailure, "migrating index tables: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Corpus{db: db, embedder: opts.Embedder, logger: logger, nowFunc: time.Now}, nil
}

func migrate(db *sql.DB, dims int) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS documents (
	pk         INTEGER PRIMARY KEY,
	id         TEXT NOT NULL UNIQUE,
	title      TEXT NOT NULL DEFAULT '',
	content    TEXT NOT NULL,
	source     TEXT NOT NULL DEFAULT '',
	tags       TEXT NOT NULL DEFAULT '[]',
	entities   TEXT NOT NULL DEFAULT '[]',
	trust      REAL NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_updated ON documents(updated_at DESC, id);

CREATE VIRTUAL TABLE IF NOT EXISTS documents_fts USING fts4(title, content, tags, tokenize=unicode61);

CREATE TRIGGER IF NOT EXISTS documents_ai AFTER INSERT ON documents BEGIN
	INSERT INTO documents_fts(docid, title, content, tags) VALUES (new.pk, new.title, new.content, new.tags);
END;
CREATE TRIGGER IF NOT EXISTS documents_bd BEFORE DELETE ON documents BEGIN
	DELETE FROM documents_fts WHERE docid = old.pk;
END;
CREATE TRIGGER IF NOT EXISTS documents_bu BEFORE UPDATE ON documents BEGIN
	DELETE FROM documents_fts WHERE docid = old.pk;
END;
CREATE TRIGGER IF NOT EXISTS documents_au AFTER UPDATE ON documents BEGIN
	INSERT INTO documents_fts(docid, title, content, tags) VALUES (new.pk, new.title, new.content, new.tags);
END;

CREATE TABLE IF NOT EXISTS triples (
	subject     TEXT NOT NULL,
	predicate   TEXT NOT NULL,
	object      TEXT NOT NULL,
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	confidence  REAL NOT NULL DEFAULT 1,
	UNIQUE(subject, predicate, object)
);

CREATE INDEX IF NOT EXISTS idx_triples_spo ON triples(subject, predicate, object);
CREATE INDEX IF NOT EXISTS idx_triples_osp ON triples(object, subject, predicate);
`
	if _, err := db.Exec(ddl); err != nil {
		return err
	}
	if dims <= 0 {
		return nil
	}
	vecDDL := fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS documents_vec USING vec0(id TEXT PRIMARY KEY, embedding float[%d])`,
		dims,
	)
	if _, err := db.Exec(vecDDL); err != nil {
		return fmt.Errorf("creating vector table: %w", err)
	}
	return nil
}

// SetNowFunc overrides the clock used for recency scoring.
func (c *Corpus) SetNowFunc(fn func() time.Time) {
	c.mu.Lock()
	c.nowFunc = fn
	c.mu.Unlock()
}

func (c *Corpus) now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nowFunc()
}

// View returns an IndexStore serving mode over this corpus.
func (c *Corpus) View(mode index.Mode) (*View, error) {
	switch mode {
	case index.ModeKeyword, index.ModeGraph, index.ModeTimeBased:
	case index.ModeSemantic:
		if c.embedder == nil {
			return nil, sorcerr.New(sorcerr.CodeIndexStorageInvalidInput, "semantic sqlite view requires an embedder")
		}
	default:
		return nil, sorcerr.Errorf(sorcerr.CodeIndexBackendUnsupported, "sqlite cannot serve mode %q", mode)
	}
	return &View{corpus: c, mode: mode}, nil
}

// Close closes the database.
func (c *Corpus) Close() error {
	return c.db.Close()
}

// Insert upserts doc together with its full-text row, its vector and its
// entity triples. Readers never observe a partial write.
func (c *Corpus) Insert(ctx context.Context, doc *index.Document) (string, error) {
	d := doc.Clone()
	if err := index.Prepare(d, c.now()); err != nil {
		return "", err
	}

	var blob []byte
	if c.embedder != nil {
		vec := d.Embedding
		if len(vec) == 0 {
			var err error
			vec, err = c.embedder.Embed(ctx, d.Metadata.Title+"\n"+d.Content)
			if err != nil {
				return "", sorcerr.Wrap(err, sorcerr.CodeIndexStorageFailure, "embedding document", sorcerr.FieldDocumentID(d.ID))
			}
		}
		if len(vec) != c.embedder.Dimensions() {
			return "", sorcerr.Errorf(sorcerr.CodeIndexStorageInvalidInput,
				"document %s: embedding has %d dimensions, index expects %d", d.ID, len(vec), c.embedder.Dimensions())
		}
		var err error
		blob, err = sqlite_vec.SerializeFloat32(index.Normalize(vec))
		if err != nil {
			return "", sorcerr.Errorf(sorcerr.CodeIndexStorageFailure, "serializing embedding: %w", err)
		}
	}

	tags, err := json.Marshal(nonNil(d.Metadata.Tags))
	if err != nil {
		return "", sorcerr.Errorf(sorcerr.CodeIndexStorageFailure, "marshalling tags: %w", err)
	}
	entities, err := json.Marshal(nonNil(d.Entities))
	if err != nil {
		return "", sorcerr.Errorf(sorcerr.CodeIndexStorageFailure, "marshalling entities: %w", err)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return "", sorcerr.Errorf(sorcerr.CodeIndexStorageFailure, "beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const upsert = `INSERT INTO documents (id, title, content, source, tags, entities, trust, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	title = excluded.title,
	content = excluded.content,
	source = excluded.source,
	tags = excluded.tags,
	entities = excluded.entities,
	trust = excluded.trust,
	created_at = excluded.created_at,
	updated_at = excluded.updated_at`
	if _, err := tx.ExecContext(ctx, upsert,
		d.ID, d.Metadata.Title, d.Content, d.Metadata.Source, string(tags), string(entities),
		float64(d.Metadata.TrustScore), d.Metadata.CreatedAt.UnixNano(), d.Metadata.UpdatedAt.UnixNano(),
	); err != nil {
		return "", sorcerr.Errorf(sorcerr.CodeIndexStorageFailure, "upserting document %s: %w", d.ID, err)
	}

	if err := writeTriples(ctx, tx, d); err != nil {
		return "", sorcerr.Errorf(sorcerr.CodeIndexStorageFailure, "writing triples for %s: %w", d.ID, err)
	}

	if blob != nil {
		// vec0 does not support ON CONFLICT; delete first for upsert.
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents_vec WHERE id = ?`, d.ID); err != nil {
			return "", sorcerr.Errorf(sorcerr.CodeIndexStorageFailure, "deleting vector %s: %w", d.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO documents_vec(id, embedding) VALUES (?, ?)`, d.ID, blob); err != nil {
			return "", sorcerr.Errorf(sorcerr.CodeIndexStorageFailure, "inserting vector %s: %w", d.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", sorcerr.Errorf(sorcerr.CodeIndexStorageFailure, "committing document %s: %w", d.ID, err)
	}
	return d.ID, nil
}

// Get returns the stored document without its embedding.
func (c *Corpus) Get(ctx context.Context, id string) (*index.Document, bool, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+docColumns+` FROM documents d WHERE d.id = ?`, id)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, sorcerr.Errorf(sorcerr.CodeIndexStorageFailure, "loading document %s: %w", id, err)
	}
	return d, true, nil
}

// Delete removes a document and everything derived from it.
func (c *Corpus) Delete(ctx context.Context, id string) (bool, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return false, sorcerr.Errorf(sorcerr.CodeIndexStorageFailure, "beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return false, sorcerr.Errorf(sorcerr.CodeIndexStorageFailure, "deleting document %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, sorcerr.Errorf(sorcerr.CodeIndexStorageFailure, "deleting document %s: %w", id, err)
	}
	if c.embedder != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents_vec WHERE id = ?`, id); err != nil {
			return false, sorcerr.Errorf(sorcerr.CodeIndexStorageFailure, "deleting vector %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, sorcerr.Errorf(sorcerr.CodeIndexStorageFailure, "committing delete of %s: %w", id, err)
	}
	return n > 0, nil
}

// Rescore updates the trust score of id.
func (c *Corpus) Rescore(ctx context.Context, id string, trust float32) (bool, error) {
	if trust < 0 || trust > 1 || trust != trust {
		return false, sorcerr.Errorf(sorcerr.CodeIndexStorageInvalidInput, "trust score %v outside [0, 1]", trust)
	}
	res, err := c.db.ExecContext(ctx, `UPDATE documents SET trust = ? WHERE id = ?`, float64(trust), id)
	if err != nil {
		return false, sorcerr.Errorf(sorcerr.CodeIndexStorageFailure, "rescoring %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, sorcerr.Errorf(sorcerr.CodeIndexStorageFailure, "rescoring %s: %w", id, err)
	}
	return n > 0, nil
}

// List returns documents updated at or after since, newest first.
func (c *Corpus) List(ctx context.Context, since time.Time, limit int) ([]*index.Document, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := c.db.QueryContext(ctx,
		`SELECT `+docColumns+` FROM documents d WHERE d.updated_at >= ? ORDER BY d.updated_at DESC, d.id LIMIT ?`,
		since.UnixNano(), limit)
	if err != nil {
		return nil, sorcerr.Errorf(sorcerr.CodeIndexStorageFailure, "listing documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*index.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, sorcerr.Errorf(sorcerr.CodeIndexStorageFailure, "scanning document: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, sorcerr.Errorf(sorcerr.CodeIndexStorageFailure, "iterating documents: %w", err)
	}
	return out, nil
}

// Count returns the number of stored documents.
func (c *Corpus) Count(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		return 0, sorcerr.Errorf(sorcerr.CodeIndexStorageFailure, "counting documents: %w", err)
	}
	return n, nil
}

const docColumns = `d.id, d.title, d.content, d.source, d.tags, d.entities, d.trust, d.created_at, d.updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(s scanner, extra ...any) (*index.Document, error) {
	var (
		d                index.Document
		tags, entities   string
		trust            float64
		created, updated int64
	)
	dest := append([]any{
		&d.ID, &d.Metadata.Title, &d.Content, &d.Metadata.Source, &tags, &entities, &trust, &created, &updated,
	}, extra...)
	if err := s.Scan(dest...); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &d.Metadata.Tags); err != nil {
		return nil, fmt.Errorf("decoding tags of %s: %w", d.ID, err)
	}
	if err := json.Unmarshal([]byte(entities), &d.Entities); err != nil {
		return nil, fmt.Errorf("decoding entities of %s: %w", d.ID, err)
	}
	if len(d.Metadata.Tags) == 0 {
		d.Metadata.Tags = nil
	}
	if len(d.Entities) == 0 {
		d.Entities = nil
	}
	d.Metadata.TrustScore = float32(trust)
	d.Metadata.CreatedAt = time.Unix(0, created).UTC()
	d.Metadata.UpdatedAt = time.Unix(0, updated).UTC()
	return &d, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
