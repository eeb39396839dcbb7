// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

// Package fs serves the filesystem mode from a directory of Markdown, text
// and PDF files. A document id is its path relative to the root, or the
// id recorded in the file's front matter.
package fs

import (
	"bytes"
	"context"
	"errors"
	iofs "io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/sorcerer-dev/sorcerer/internal/index"
	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
)

const defaultLimit = 50

var extensions = map[string]bool{".md": true, ".markdown": true, ".txt": true, ".pdf": true}

func init() {
	index.RegisterFactory("fs", func(_ context.Context, spec index.Spec, env index.Env) (index.IndexStore, error) {
		return New(spec.Path, Options{DefaultTrust: spec.DefaultTrust, Workers: env.Workers, Logger: env.Logger})
	})
}

// Options configures a Store.
type Options struct {
	// DefaultTrust applies to files whose front matter carries no score.
	DefaultTrust float32
	Workers      int
	Logger       *slog.Logger
}

// Store is a directory-backed IndexStore.
type Store struct {
	root         string
	defaultTrust float32
	workers      int
	logger       *slog.Logger

	// mu serialises writers; readers only see complete files because
	// writes go through a rename.
	mu sync.Mutex
}

var (
	_ index.IndexStore = (*Store)(nil)
	_ index.Rescorer   = (*Store)(nil)
)

// New opens root, creating it when missing.
func New(root string, opts Options) (*Store, error) {
	if root == "" {
		return nil, sorcerr.New(sorcerr.CodeIndexStorageInvalidInput, "filesystem backend needs a root directory")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, sorcerr.Errorf(sorcerr.CodeIndexStorageFailure, "creating %s: %w", root, err)
	}
	if opts.DefaultTrust == 0 {
		opts.DefaultTrust = index.DefaultTrustScore
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Store{root: root, defaultTrust: opts.DefaultTrust, workers: opts.Workers, logger: opts.Logger}, nil
}

// Root returns the directory served by the store.
func (s *Store) Root() string { return s.root }

// relPath validates id as a path inside the root.
func relPath(id string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(id))
	if id == "" || filepath.IsAbs(clean) || clean == "." || clean == ".." ||
		strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", sorcerr.New(sorcerr.CodeIndexStorageInvalidInput, "document id escapes the index root", sorcerr.FieldDocumentID(id))
	}
	return clean, nil
}

// locate finds the file holding id: the id itself when it names a
// supported file, else id with a .md suffix.
func (s *Store) locate(id string) (string, bool, error) {
	rel, err := relPath(id)
	if err != nil {
		return "", false, err
	}
	candidates := []string{rel + ".md"}
	if extensions[strings.ToLower(filepath.Ext(rel))] {
		candidates = []string{rel, rel + ".md"}
	}
	for _, c := range candidates {
		full := filepath.Join(s.root, c)
		info, err := os.Stat(full)
		switch {
		case err == nil && info.Mode().IsRegular():
			return full, true, nil
		case err != nil && !errors.Is(err, iofs.ErrNotExist):
			return "", false, sorcerr.Errorf(sorcerr.CodeIndexStorageFailure, "stat %s: %w", c, err)
		}
	}
	return filepath.Join(s.root, candidates[0]), false, nil
}

func (s *Store) Insert(_ context.Context, doc *index.Document) (string, error) {
	d := doc.Clone()
	if err := index.Prepare(d, time.Now()); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path, _, err := s.locate(d.ID)
	if err != nil {
		return "", err
	}
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return "", sorcerr.New(sorcerr.CodeIndexStorageInvalidInput, "pdf documents are read-only", sorcerr.FieldDocumentID(d.ID))
	}
	if err := writeFileAtomic(path, encodeMarkdown(d)); err != nil {
		return "", sorcerr.Errorf(sorcerr.CodeIndexStorageFailure, "writing %s: %w", d.ID, err)
	}
	return d.ID, nil
}

func (s *Store) Get(_ context.Context, id string) (*index.Document, bool, error) {
	path, ok, err := s.locate(id)
	if err != nil || !ok {
		return nil, false, err
	}
	d, err := s.load(path)
	if err != nil {
		return nil, false, err
	}
	return d, true, nil
}

func (s *Store) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, ok, err := s.locate(id)
	if err != nil || !ok {
		return false, err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return false, nil
		}
		return false, sorcerr.Errorf(sorcerr.CodeIndexStorageFailure, "removing %s: %w", id, err)
	}
	return true, nil
}

// Rescore rewrites the trust score in the file's front matter.
func (s *Store) Rescore(ctx context.Context, id string, trust float32) (bool, error) {
	if trust < 0 || trust > 1 || trust != trust {
		return false, sorcerr.Errorf(sorcerr.CodeIndexStorageInvalidInput, "trust score %v outside [0, 1]", trust)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	path, ok, err := s.locate(id)
	if err != nil || !ok {
		return false, err
	}
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return false, sorcerr.New(sorcerr.CodeIndexStorageInvalidInput, "pdf documents are read-only", sorcerr.FieldDocumentID(id))
	}
	d, err := s.load(path)
	if err != nil {
		return false, err
	}
	d.Metadata.TrustScore = trust
	if err := writeFileAtomic(path, encodeMarkdown(d)); err != nil {
		return false, sorcerr.Errorf(sorcerr.CodeIndexStorageFailure, "writing %s: %w", id, err)
	}
	return true, nil
}

// Search scans every supported file under the root and scores it against
// the query terms.
func (s *Store) Search(ctx context.Context, req index.Request) ([]index.Match, error) {
	terms := index.Terms(req.Text)
	if len(terms) == 0 {
		return nil, sorcerr.New(sorcerr.CodeIndexQueryInvalid, "filesystem query has no searchable terms")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	paths, err := s.walk()
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	var out []index.Match

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, p := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			d, err := s.load(p)
			if err != nil {
				// One unreadable file does not fail the scan.
				s.logger.Warn("skipping unreadable file", "path", p, "error", err)
				return nil
			}
			body := d.Metadata.Title + "\n" + d.Content + "\n" + strings.Join(d.Metadata.Tags, " ")
			if conf := index.TermConfidence(terms, body); conf > 0 {
				mu.Lock()
				out = append(out, index.Match{Document: d, Confidence: conf})
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, sorcerr.Errorf(sorcerr.CodeIndexQueryFailure, "scanning %s: %w", s.root, err)
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

func (s *Store) walk() ([]string, error) {
	var paths []string
	err := filepath.WalkDir(s.root, func(path string, e iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if e.IsDir() {
			if path != s.root && strings.HasPrefix(e.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if extensions[strings.ToLower(filepath.Ext(path))] && !strings.HasPrefix(e.Name(), ".") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, sorcerr.Errorf(sorcerr.CodeIndexQueryFailure, "walking %s: %w", s.root, err)
	}
	return paths, nil
}

// load reads path into a Document.
func (s *Store) load(path string) (*index.Document, error) {
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return nil, sorcerr.Errorf(sorcerr.CodeIndexStorageFailure, "resolving %s: %w", path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, sorcerr.Errorf(sorcerr.CodeIndexStorageFailure, "stat %s: %w", rel, err)
	}

	d := &index.Document{
		ID: filepath.ToSlash(rel),
		Metadata: index.Metadata{
			Source:     "file://" + filepath.ToSlash(path),
			Title:      strings.TrimSuffix(filepath.Base(rel), filepath.Ext(rel)),
			CreatedAt:  info.ModTime().UTC(),
			UpdatedAt:  info.ModTime().UTC(),
			TrustScore: s.defaultTrust,
		},
	}

	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		text, err := readPDF(path)
		if err != nil {
			return nil, sorcerr.Errorf(sorcerr.CodeIndexStorageFailure, "reading pdf %s: %w", rel, err)
		}
		d.Content = text
		return d, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, sorcerr.Errorf(sorcerr.CodeIndexStorageFailure, "reading %s: %w", rel, err)
	}
	if err := decodeMarkdown(raw, d); err != nil {
		return nil, sorcerr.Errorf(sorcerr.CodeIndexStorageFailure, "parsing %s: %w", rel, err)
	}
	return d, nil
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".sorcerer-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

var frontMatterDelim = []byte("---\n")

type frontMatter struct {
	ID         string         `yaml:"id,omitempty"`
	Title      string         `yaml:"title,omitempty"`
	Source     string         `yaml:"source,omitempty"`
	CreatedAt  time.Time      `yaml:"created_at,omitempty"`
	UpdatedAt  time.Time      `yaml:"updated_at,omitempty"`
	TrustScore *float32       `yaml:"trust_score,omitempty"`
	Tags       []string       `yaml:"tags,omitempty"`
	Entities   []index.Entity `yaml:"entities,omitempty"`
}

func encodeMarkdown(d *index.Document) []byte {
	trust := d.Metadata.TrustScore
	fm := frontMatter{
		ID:         d.ID,
		Title:      d.Metadata.Title,
		Source:     d.Metadata.Source,
		CreatedAt:  d.Metadata.CreatedAt.UTC(),
		UpdatedAt:  d.Metadata.UpdatedAt.UTC(),
		TrustScore: &trust,
		Tags:       d.Metadata.Tags,
		Entities:   d.Entities,
	}
	head, _ := yaml.Marshal(fm)

	var buf bytes.Buffer
	buf.Write(frontMatterDelim)
	buf.Write(head)
	buf.Write(frontMatterDelim)
	buf.WriteString(d.Content)
	return buf.Bytes()
}

// decodeMarkdown fills d from raw, overriding the file-derived defaults
// with whatever the front matter declares.
func decodeMarkdown(raw []byte, d *index.Document) error {
	raw = bytes.ReplaceAll(raw, []byte("\r\n"), []byte("\n"))
	if !bytes.HasPrefix(raw, frontMatterDelim) {
		d.Content = string(raw)
		return nil
	}
	rest := raw[len(frontMatterDelim):]
	head, body, found := bytes.Cut(rest, append([]byte("\n"), frontMatterDelim...))
	if !found {
		// "---\n---\n" has an empty header.
		if !bytes.HasPrefix(rest, frontMatterDelim) {
			d.Content = string(raw)
			return nil
		}
		head, body = nil, rest[len(frontMatterDelim):]
	}

	var fm frontMatter
	if err := yaml.Unmarshal(head, &fm); err != nil {
		return err
	}
	if fm.ID != "" {
		d.ID = fm.ID
	}
	if fm.Title != "" {
		d.Metadata.Title = fm.Title
	}
	if fm.Source != "" {
		d.Metadata.Source = fm.Source
	}
	if !fm.CreatedAt.IsZero() {
		d.Metadata.CreatedAt = fm.CreatedAt.UTC()
	}
	if !fm.UpdatedAt.IsZero() {
		d.Metadata.UpdatedAt = fm.UpdatedAt.UTC()
	}
	if fm.TrustScore != nil {
		d.Metadata.TrustScore = *fm.TrustScore
	}
	d.Metadata.Tags = fm.Tags
	d.Entities = fm.Entities
	d.Content = string(body)
	return nil
}
