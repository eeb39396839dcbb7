// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

// Package crawler fetches web pages and turns them into documents ready
// for indexing.
package crawler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sorcerer-dev/sorcerer/internal/index"
	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
)

const (
	DefaultUserAgent     = "Sorcerer/0.1.0 (+http://sorcerer.ai)"
	DefaultTimeout       = 30 * time.Second
	DefaultMaxConcurrent = 10

	// DefaultMaxBodyBytes caps how much of a response body is read.
	DefaultMaxBodyBytes int64 = 10 << 20
)

// TagCrawled marks every document the crawler produces.
const TagCrawled = "crawled"

// Options configures a Crawler. Zero values take the defaults above.
type Options struct {
	UserAgent     string
	Timeout       time.Duration
	MaxConcurrent int
	MaxBodyBytes  int64
	DefaultTrust  float32
	HTTPClient    *http.Client
	Logger        *slog.Logger
}

// Crawler fetches pages with a fixed user agent and per-request timeout.
type Crawler struct {
	opts    Options
	http    *http.Client
	logger  *slog.Logger
	nowFunc func() time.Time
}

func New(opts Options) *Crawler {
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.DefaultTrust <= 0 {
		opts.DefaultTrust = index.DefaultTrustScore
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Crawler{opts: opts, http: hc, logger: logger, nowFunc: time.Now}
}

// SetNowFunc overrides the clock stamped on fetched documents.
func (c *Crawler) SetNowFunc(fn func() time.Time) { c.nowFunc = fn }

// DocumentID is the stable id of the document fetched from rawURL, so a
// re-crawl replaces the earlier copy.
func DocumentID(rawURL string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(rawURL)).String()
}

// Fetch downloads rawURL and extracts its title and text. HTML and plain
// text are supported.
func (c *Crawler) Fetch(ctx context.Context, rawURL string) (*index.Document, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, sorcerr.Errorf(sorcerr.CodeCrawlerRequestInvalid, "crawl url %q must be an absolute http(s) url", rawURL)
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, sorcerr.Wrap(err, sorcerr.CodeCrawlerRequestInvalid, "building request")
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Accept", "text/html, text/plain;q=0.9")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, sorcerr.Wrap(err, sorcerr.CodeCrawlerFetchFailure, "fetching "+u.String())
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, sorcerr.New(sorcerr.CodeCrawlerFetchFailure,
			fmt.Sprintf("fetching %s: HTTP %d", u, resp.StatusCode),
			sorcerr.Field("status", resp.StatusCode))
	}

	body := io.LimitReader(resp.Body, c.opts.MaxBodyBytes)
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))

	var title, text string
	switch {
	case mediaType == "" || mediaType == "text/html" || mediaType == "application/xhtml+xml":
		title, text, err = Extract(body)
		if err != nil {
			return nil, err
		}
	case strings.HasPrefix(mediaType, "text/"):
		raw, err := io.ReadAll(body)
		if err != nil {
			return nil, sorcerr.Wrap(err, sorcerr.CodeCrawlerFetchFailure, "reading body")
		}
		text = strings.TrimSpace(string(raw))
	default:
		return nil, sorcerr.Errorf(sorcerr.CodeCrawlerParseFailure, "unsupported content type %q at %s", mediaType, u)
	}
	if text == "" {
		return nil, sorcerr.Errorf(sorcerr.CodeCrawlerParseFailure, "no text extracted from %s", u)
	}

	// Redirects change the final location; the id stays keyed on the
	// requested url.
	source := resp.Request.URL.String()
	now := c.nowFunc().UTC()
	doc := &index.Document{
		ID:      DocumentID(rawURL),
		Content: text,
		Metadata: index.Metadata{
			Source:     source,
			Title:      title,
			CreatedAt:  now,
			UpdatedAt:  now,
			TrustScore: c.opts.DefaultTrust,
			Tags:       []string{TagCrawled},
		},
	}
	c.logger.Debug("page fetched", "url", source, "bytes", len(text))
	return doc, nil
}

// Result is the outcome of fetching one url in FetchAll.
type Result struct {
	URL      string
	Document *index.Document
	Err      error
}

// FetchAll fetches urls with at most MaxConcurrent requests in flight.
// Results keep the order of urls; one failure does not stop the others.
func (c *Crawler) FetchAll(ctx context.Context, urls []string) []Result {
	out := make([]Result, len(urls))
	var g errgroup.Group
	g.SetLimit(c.opts.MaxConcurrent)
	for i, u := range urls {
		g.Go(func() error {
			doc, err := c.Fetch(ctx, u)
			out[i] = Result{URL: u, Document: doc, Err: err}
			if err != nil {
				c.logger.Warn("crawl failed", "url", u, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}
