// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

// Package httpapi serves the api mode by delegating to a remote search
// service over a small JSON REST contract:
//
//	GET    {base}/search?q=<text>&limit=<n>  -> {"results":[{"document":{...},"confidence":0.8}]}
//	GET    {base}/documents/{id}             -> Document, 404 when unknown
//	PUT    {base}/documents/{id}             -> {"id":"..."}
//	DELETE {base}/documents/{id}             -> 204, 404 when unknown
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sorcerer-dev/sorcerer/internal/index"
	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
)

const (
	defaultLimit   = 50
	maxErrorBody   = 4 << 10
	defaultTimeout = 30 * time.Second
)

func init() {
	index.RegisterFactory("http", func(_ context.Context, spec index.Spec, env index.Env) (index.IndexStore, error) {
		return New(spec.URL, Options{
			APIKey:       spec.APIKey,
			UserAgent:    env.UserAgent,
			Timeout:      env.HTTPTimeout,
			DefaultTrust: spec.DefaultTrust,
		})
	})
}

// Options configures a Client.
type Options struct {
	APIKey    string
	UserAgent string
	Timeout   time.Duration
	// DefaultTrust applies to remote documents that report no trust score.
	DefaultTrust float32
	HTTPClient   *http.Client
}

// Client is an IndexStore backed by a remote REST service.
type Client struct {
	base         *url.URL
	apiKey       string
	userAgent    string
	defaultTrust float32
	http         *http.Client
}

var _ index.IndexStore = (*Client)(nil)

// New validates baseURL and builds a client.
func New(baseURL string, opts Options) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, sorcerr.Errorf(sorcerr.CodeIndexStorageInvalidInput, "api backend url %q must be an absolute http(s) url", baseURL)
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	if opts.DefaultTrust == 0 {
		opts.DefaultTrust = index.DefaultTrustScore
	}
	return &Client{base: u, apiKey: opts.APIKey, userAgent: opts.UserAgent, defaultTrust: opts.DefaultTrust, http: hc}, nil
}

type wireMatch struct {
	Document   *wireDocument `json:"document"`
	Confidence float32       `json:"confidence"`
}

type searchResponse struct {
	Results []wireMatch `json:"results"`
}

// wireDocument mirrors index.Document with an optional trust score so a
// missing value can fall back to the backend default.
type wireDocument struct {
	ID       string `json:"id"`
	Content  string `json:"content"`
	Metadata struct {
		Source     string    `json:"source"`
		Title      string    `json:"title,omitempty"`
		CreatedAt  time.Time `json:"created_at"`
		UpdatedAt  time.Time `json:"updated_at"`
		TrustScore *float32  `json:"trust_score,omitempty"`
		Tags       []string  `json:"tags,omitempty"`
	} `json:"metadata"`
	Entities []index.Entity `json:"entities,omitempty"`
}

func (c *Client) toDocument(w *wireDocument) *index.Document {
	d := &index.Document{
		ID:       w.ID,
		Content:  w.Content,
		Entities: w.Entities,
		Metadata: index.Metadata{
			Source:     w.Metadata.Source,
			Title:      w.Metadata.Title,
			CreatedAt:  w.Metadata.CreatedAt,
			UpdatedAt:  w.Metadata.UpdatedAt,
			TrustScore: c.defaultTrust,
			Tags:       w.Metadata.Tags,
		},
	}
	if t := w.Metadata.TrustScore; t != nil {
		d.Metadata.TrustScore = index.ClampTrust(*t)
	}
	return d
}

func (c *Client) endpoint(parts ...string) string {
	var sb strings.Builder
	sb.WriteString(c.base.String())
	for _, p := range parts {
		sb.WriteString("/")
		sb.WriteString(url.PathEscape(p))
	}
	return sb.String()
}

func (c *Client) do(ctx context.Context, method, target string, body any) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, r)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return c.http.Do(req)
}

func statusError(resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return fmt.Errorf("remote returned %s: %s", resp.Status, strings.TrimSpace(string(msg)))
}

func (c *Client) Search(ctx context.Context, req index.Request) ([]index.Match, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, sorcerr.New(sorcerr.CodeIndexQueryInvalid, "api query text is empty")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	q := url.Values{"q": {req.Text}, "limit": {strconv.Itoa(limit)}}

	resp, err := c.do(ctx, http.MethodGet, c.endpoint("search")+"?"+q.Encode(), nil)
	if err != nil {
		return nil, sorcerr.Errorf(sorcerr.CodeIndexQueryFailure, "calling search api: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, sorcerr.Errorf(sorcerr.CodeIndexQueryFailure, "search api: %w", statusError(resp))
	}

	var body searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, sorcerr.Errorf(sorcerr.CodeIndexQueryFailure, "decoding search response: %w", err)
	}

	out := make([]index.Match, 0, len(body.Results))
	for _, m := range body.Results {
		if m.Document == nil || m.Document.ID == "" {
			continue
		}
		out = append(out, index.Match{Document: c.toDocument(m.Document), Confidence: index.ClampTrust(m.Confidence)})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (c *Client) Get(ctx context.Context, id string) (*index.Document, bool, error) {
	resp, err := c.do(ctx, http.MethodGet, c.endpoint("documents", id), nil)
	if err != nil {
		return nil, false, sorcerr.Errorf(sorcerr.CodeIndexStorageFailure, "fetching %s: %w", id, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, false, nil
	default:
		return nil, false, sorcerr.Errorf(sorcerr.CodeIndexStorageFailure, "fetching %s: %w", id, statusError(resp))
	}
	var w wireDocument
	if err := json.NewDecoder(resp.Body).Decode(&w); err != nil {
		return nil, false, sorcerr.Errorf(sorcerr.CodeIndexStorageFailure, "decoding %s: %w", id, err)
	}
	if w.ID == "" {
		w.ID = id
	}
	return c.toDocument(&w), true, nil
}

func (c *Client) Insert(ctx context.Context, doc *index.Document) (string, error) {
	d := doc.Clone()
	if err := index.Prepare(d, time.Now()); err != nil {
		return "", err
	}
	resp, err := c.do(ctx, http.MethodPut, c.endpoint("documents", d.ID), d)
	if err != nil {
		return "", sorcerr.Errorf(sorcerr.CodeIndexStorageFailure, "storing %s: %w", d.ID, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", sorcerr.Errorf(sorcerr.CodeIndexStorageFailure, "storing %s: %w", d.ID, statusError(resp))
	}

	var ack struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ack); err == nil && ack.ID != "" {
		return ack.ID, nil
	}
	return d.ID, nil
}

func (c *Client) Delete(ctx context.Context, id string) (bool, error) {
	resp, err := c.do(ctx, http.MethodDelete, c.endpoint("documents", id), nil)
	if err != nil {
		return false, sorcerr.Errorf(sorcerr.CodeIndexStorageFailure, "deleting %s: %w", id, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		return true, nil
	default:
		return false, sorcerr.Errorf(sorcerr.CodeIndexStorageFailure, "deleting %s: %w", id, statusError(resp))
	}
}
