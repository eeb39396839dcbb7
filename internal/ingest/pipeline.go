// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

package ingest

import (
	"context"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/sorcerer-dev/sorcerer/internal/crawler"
	"github.com/sorcerer-dev/sorcerer/internal/index"
	"github.com/sorcerer-dev/sorcerer/internal/scan"
	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
)

// URLFailure records a page that could not be fetched or stored.
type URLFailure struct {
	URL   string `json:"url"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}

// Report is the outcome of one crawl.
type Report struct {
	Backend  string       `json:"backend"`
	IDs      []string     `json:"ids"`
	Failures []URLFailure `json:"failures,omitempty"`
}

// Pipeline feeds documents into registered backends through one batcher
// per backend. It is safe for concurrent use.
type Pipeline struct {
	registry *index.Registry
	crawler  *crawler.Crawler
	opts     Options
	logger   *slog.Logger
	scanner  *scan.Scanner
	scanMode scan.Mode

	mu       sync.Mutex
	batchers map[string]*Batcher
	closed   bool
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithScanner screens every submitted or crawled document at the ingest
// stage and applies mode to what the scanner finds.
func WithScanner(s *scan.Scanner, mode scan.Mode) PipelineOption {
	return func(p *Pipeline) {
		p.scanner = s
		p.scanMode = mode
	}
}

// NewPipeline creates a pipeline over reg. A nil crawler disables Crawl.
func NewPipeline(reg *index.Registry, c *crawler.Crawler, opts Options, popts ...PipelineOption) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		registry: reg,
		crawler:  c,
		opts:     opts,
		logger:   logger,
		scanMode: scan.ModeOff,
		batchers: make(map[string]*Batcher),
	}
	for _, o := range popts {
		o(p)
	}
	return p
}

// Screen applies the pipeline's scanner to doc. Clean documents come back
// unchanged. Redacted ones are returned as a copy tagged "redacted" and
// flagged ones as a copy tagged "sensitive". Blocked documents fail with
// CodeIndexContentBlocked.
func (p *Pipeline) Screen(doc *index.Document) (*index.Document, error) {
	if p.scanner == nil || p.scanMode == scan.ModeOff || doc == nil {
		return doc, nil
	}
	res, err := p.scanner.Scan(doc.Content, scan.StageIngest)
	if err != nil {
		return nil, err
	}
	if !res.Threat {
		return doc, nil
	}

	content, err := scan.ApplyMode(p.scanMode, doc.Content, res)
	if err != nil {
		p.logger.Warn("document blocked", "document_id", doc.ID, "rules", res.Rules())
		return nil, sorcerr.With(err, sorcerr.FieldDocumentID(doc.ID))
	}

	out := doc.Clone()
	out.Content = content
	switch p.scanMode {
	case scan.ModeRedact:
		out.Metadata.Tags = addTag(out.Metadata.Tags, "redacted")
		p.logger.Info("document redacted", "document_id", doc.ID, "rules", res.Rules())
	case scan.ModeFlag:
		out.Metadata.Tags = addTag(out.Metadata.Tags, "sensitive")
		p.logger.Warn("sensitive content indexed", "document_id", doc.ID, "rules", res.Rules())
	}
	return out, nil
}

// screen splits docs into the ones to store and failures for the rest.
func (p *Pipeline) screen(docs []*index.Document) ([]*index.Document, []Failure) {
	if p.scanner == nil || p.scanMode == scan.ModeOff {
		return docs, nil
	}
	kept := make([]*index.Document, 0, len(docs))
	var failures []Failure
	for _, d := range docs {
		out, err := p.Screen(d)
		if err != nil {
			failures = append(failures, Failure{DocumentID: d.ID, Err: err})
			continue
		}
		kept = append(kept, out)
	}
	return kept, failures
}

func addTag(tags []string, tag string) []string {
	if slices.Contains(tags, tag) {
		return tags
	}
	return append(tags, tag)
}

// Batcher returns the batcher committing to backend, creating it on first
// use.
func (p *Pipeline) Batcher(backend string) (*Batcher, error) {
	b, ok := p.registry.Lookup(backend)
	if !ok {
		return nil, sorcerr.New(sorcerr.CodeServerEntityNotFound, "unknown backend", sorcerr.FieldBackend(backend))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, sorcerr.New(sorcerr.CodeIndexStorageFailure, "ingest pipeline is closed")
	}
	if bt, ok := p.batchers[backend]; ok {
		return bt, nil
	}
	opts := p.opts
	opts.Logger = p.logger.With("backend", backend)
	bt, err := New(b.Store, opts)
	if err != nil {
		return nil, err
	}
	p.batchers[backend] = bt
	return bt, nil
}

// Submit buffers docs for backend. Full batches are committed before it
// returns; the rest waits for the timer or a flush.
func (p *Pipeline) Submit(ctx context.Context, backend string, docs ...*index.Document) (Commit, error) {
	bt, err := p.Batcher(backend)
	if err != nil {
		return Commit{}, err
	}
	kept, blocked := p.screen(docs)
	c, err := bt.Add(ctx, kept...)
	c.Failures = append(blocked, c.Failures...)
	return c, err
}

// Crawl fetches urls and commits every page it could read to backend
// before returning.
func (p *Pipeline) Crawl(ctx context.Context, backend string, urls []string) (Report, error) {
	report := Report{Backend: backend, IDs: []string{}}
	if p.crawler == nil {
		return report, sorcerr.New(sorcerr.CodeCrawlerRequestInvalid, "no crawler configured")
	}
	if len(urls) == 0 {
		return report, sorcerr.New(sorcerr.CodeCrawlerRequestInvalid, "at least one url is required")
	}
	bt, err := p.Batcher(backend)
	if err != nil {
		return report, err
	}

	byID := make(map[string]string, len(urls))
	var docs []*index.Document
	for _, r := range p.crawler.FetchAll(ctx, urls) {
		if r.Err != nil {
			report.Failures = append(report.Failures, urlFailure(r.URL, r.Err))
			continue
		}
		byID[r.Document.ID] = r.URL
		docs = append(docs, r.Document)
	}

	kept, blocked := p.screen(docs)
	added, _ := bt.Add(ctx, kept...)
	flushed, _ := bt.Flush(ctx)
	for _, c := range []Commit{{Failures: blocked}, added, flushed} {
		report.IDs = append(report.IDs, c.IDs...)
		for _, f := range c.Failures {
			report.Failures = append(report.Failures, urlFailure(byID[f.DocumentID], f.Err))
		}
	}
	sort.Strings(report.IDs)

	p.logger.Info("crawl finished",
		"backend", backend,
		"urls", len(urls),
		"indexed", len(report.IDs),
		"failed", len(report.Failures),
	)
	if len(report.IDs) == 0 && len(report.Failures) > 0 {
		return report, sorcerr.Errorf(sorcerr.CodeCrawlerFetchFailure, "none of %d urls could be indexed", len(urls))
	}
	return report, nil
}

// Flush commits every buffered document.
func (p *Pipeline) Flush(ctx context.Context) error {
	var errs []error
	for _, bt := range p.snapshot() {
		if _, err := bt.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return sorcerr.Join(errs...)
}

// Stats returns counters per backend that has received documents.
func (p *Pipeline) Stats() map[string]Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]Stats, len(p.batchers))
	for name, bt := range p.batchers {
		out[name] = bt.Stats()
	}
	return out
}

// Close flushes and stops every batcher.
func (p *Pipeline) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	var errs []error
	for _, bt := range p.snapshot() {
		if err := bt.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return sorcerr.Join(errs...)
}

func (p *Pipeline) snapshot() []*Batcher {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Batcher, 0, len(p.batchers))
	for _, bt := range p.batchers {
		out = append(out, bt)
	}
	return out
}

func urlFailure(url string, err error) URLFailure {
	return URLFailure{URL: url, Code: string(sorcerr.CodeOf(err)), Error: err.Error()}
}
