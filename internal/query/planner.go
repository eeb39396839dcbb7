// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

package query

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sorcerer-dev/sorcerer/internal/index"
	"github.com/sorcerer-dev/sorcerer/internal/scoring"
	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
	"github.com/sorcerer-dev/sorcerer/pkg/health"
)

// ActionRunner applies one post-action to a ranked result set. The
// returned slice must hold exactly the ids it was given; order is free.
type ActionRunner interface {
	Apply(ctx context.Context, action Action, q SearchQuery, results []SearchResult) ([]SearchResult, error)
}

const (
	// DefaultFanOut bounds how many backends are searched at once.
	DefaultFanOut = 8
	// minRawLimit is the smallest per-backend request. Constraints are
	// applied after retrieval, so backends are asked for more than
	// max_results.
	minRawLimit    = 50
	rawLimitFactor = 4
)

// Planner selects backends for a query, merges and ranks their matches
// and applies post-actions. It is safe for concurrent use.
type Planner struct {
	registry *index.Registry
	scorer   *scoring.Scorer
	logger   *slog.Logger
	fanOut   int
	cooldown time.Duration
	nowFunc  func() time.Time

	mu       sync.RWMutex
	actions  ActionRunner
	trackers map[string]*health.Tracker
}

// Option configures a Planner.
type Option func(*Planner)

func WithLogger(l *slog.Logger) Option {
	return func(p *Planner) { p.logger = l }
}

func WithActions(r ActionRunner) Option {
	return func(p *Planner) { p.actions = r }
}

// WithFanOut bounds concurrent backend searches. Values below 1 are ignored.
func WithFanOut(n int) Option {
	return func(p *Planner) {
		if n > 0 {
			p.fanOut = n
		}
	}
}

// WithCooldown sets how long a failing backend is skipped.
func WithCooldown(d time.Duration) Option {
	return func(p *Planner) {
		if d > 0 {
			p.cooldown = d
		}
	}
}

// NewPlanner creates a planner over reg. A nil scorer uses scoring.Default.
func NewPlanner(reg *index.Registry, scorer *scoring.Scorer, opts ...Option) *Planner {
	if scorer == nil {
		scorer = scoring.Default()
	}
	p := &Planner{
		registry: reg,
		scorer:   scorer,
		logger:   slog.Default(),
		fanOut:   DefaultFanOut,
		cooldown: health.DefaultCooldown,
		nowFunc:  time.Now,
		trackers: make(map[string]*health.Tracker),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetActions installs the post-action runner. The runner usually
// dispatches agents that themselves call the planner, so it is attached
// after construction.
func (p *Planner) SetActions(r ActionRunner) {
	p.mu.Lock()
	p.actions = r
	p.mu.Unlock()
}

// SetNowFunc replaces the clock used by backend health trackers.
func (p *Planner) SetNowFunc(fn func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nowFunc = fn
	for _, t := range p.trackers {
		t.SetNowFunc(fn)
	}
}

// Scorer returns the planner's scorer.
func (p *Planner) Scorer() *scoring.Scorer { return p.scorer }

// Registry returns the backend registry the planner searches.
func (p *Planner) Registry() *index.Registry { return p.registry }

func (p *Planner) tracker(name string) *health.Tracker {
	p.mu.RLock()
	t, ok := p.trackers[name]
	p.mu.RUnlock()
	if ok {
		return t
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.trackers[name]; ok {
		return t
	}
	t = health.MustTracker(name, p.cooldown)
	t.SetNowFunc(p.nowFunc)
	p.trackers[name] = t
	return t
}

// BackendHealth returns a snapshot per backend searched so far, sorted by
// name.
func (p *Planner) BackendHealth() []health.Metrics {
	p.mu.RLock()
	out := make([]health.Metrics, 0, len(p.trackers))
	for _, t := range p.trackers {
		out = append(out, t.Metrics())
	}
	p.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute plans and runs q. Backend and post-action failures are recorded
// on the result; an error is returned only for an invalid query or when no
// backend serves the mode.
func (p *Planner) Execute(ctx context.Context, q SearchQuery) (*QueryResult, error) {
	start := time.Now()
	if err := q.Validate(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	actions := p.actions
	p.mu.RUnlock()
	if len(q.Actions) > 0 && actions == nil {
		return nil, sorcerr.New(sorcerr.CodeQueryPlanInvalid, "query declares post-actions but no action runner is configured")
	}

	backends := p.registry.ForMode(q.Mode)
	if len(backends) == 0 {
		return nil, sorcerr.New(sorcerr.CodeQueryBackendUnavailable,
			"no backend registered for mode "+string(q.Mode), sorcerr.Field("mode", string(q.Mode)))
	}
	if q.Mode.Exclusive() && len(backends) != 1 {
		return nil, sorcerr.Errorf(sorcerr.CodeQueryPlanInvalid,
			"mode %s expects exactly one backend, found %d", q.Mode, len(backends))
	}

	res := &QueryResult{
		QueryID:  uuid.NewString(),
		Backends: make([]string, len(backends)),
	}
	for i, b := range backends {
		res.Backends[i] = b.Name
	}

	logger := p.logger.With("query_id", res.QueryID, "mode", string(q.Mode))
	merged, failures := p.fanOutSearch(ctx, logger, q, backends)
	res.Failures = failures

	results := p.filter(q.Constraints, merged)
	p.rank(results)
	if len(results) > q.Constraints.MaxResults {
		results = results[:q.Constraints.MaxResults]
	}

	for _, action := range q.Actions {
		next, err := p.applyAction(ctx, actions, action, q, results)
		if err != nil {
			logger.Warn("post-action failed", "action", string(action), "error", err)
			res.Failures = append(res.Failures, failureOf(actionPrefix+string(action), err))
			continue
		}
		results = next
		p.rank(results)
	}

	if results == nil {
		results = []SearchResult{}
	}
	res.Results = results
	res.TotalCount = len(results)
	res.ExecutionTimeMs = time.Since(start).Milliseconds()

	logger.Debug("query executed",
		"results", res.TotalCount,
		"failures", len(res.Failures),
		"duration_ms", res.ExecutionTimeMs,
	)
	return res, nil
}

type backendHits struct {
	backend string
	source  any
	matches []index.Match
}

func (p *Planner) fanOutSearch(ctx context.Context, logger *slog.Logger, q SearchQuery, backends []index.Backend) ([]SearchResult, []Failure) {
	req := index.Request{Text: q.Text, Limit: max(q.Constraints.MaxResults*rawLimitFactor, minRawLimit)}

	hits := make([]backendHits, len(backends))
	errs := make([]error, len(backends))

	var g errgroup.Group
	g.SetLimit(p.fanOut)
	for i, b := range backends {
		tracker := p.tracker(b.Name)
		if !tracker.Available() {
			errs[i] = sorcerr.New(sorcerr.CodeQueryBackendUnavailable,
				"backend is cooling down after a failure", sorcerr.FieldBackend(b.Name))
			continue
		}
		g.Go(func() error {
			matches, err := searchBackend(ctx, b, req)
			if err != nil {
				// A malformed query says nothing about the backend's health.
				if !sorcerr.HasCode(err, sorcerr.CodeIndexQueryInvalid) {
					tracker.RecordFailure(err)
				}
				errs[i] = err
				return nil
			}
			tracker.RecordSuccess()
			hits[i] = backendHits{backend: b.Name, source: index.SourceOf(b.Store), matches: matches}
			return nil
		})
	}
	_ = g.Wait()

	var failures []Failure
	for i, err := range errs {
		if err == nil {
			continue
		}
		logger.Warn("backend search failed", "backend", backends[i].Name, "error", err)
		failures = append(failures, failureOf(backends[i].Name, err))
	}
	return merge(hits), failures
}

func searchBackend(ctx context.Context, b index.Backend, req index.Request) (matches []index.Match, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = sorcerr.Errorf(sorcerr.CodeIndexQueryFailure, "backend %s panicked: %v", b.Name, r)
		}
	}()
	matches, err = b.Store.Search(ctx, req)
	if err != nil {
		return nil, sorcerr.With(err, sorcerr.FieldBackend(b.Name))
	}
	return matches, nil
}

// docKey names one document: ids are unique only within the document set
// a backend reads from.
type docKey struct {
	source any
	id     string
}

// merge collapses matches for the same document, keeping the most
// confident one. Ties go to the backend listed first. Equal ids from
// unrelated stores are different documents and are all kept.
func merge(hits []backendHits) []SearchResult {
	byID := make(map[docKey]int)
	var out []SearchResult
	for _, h := range hits {
		for _, m := range h.matches {
			if m.Document == nil {
				continue
			}
			r := fromMatch(h.backend, m)
			key := docKey{source: h.source, id: r.ID}
			if i, ok := byID[key]; ok {
				if r.Confidence > out[i].Confidence {
					out[i] = r
				}
				continue
			}
			byID[key] = len(out)
			out = append(out, r)
		}
	}
	return out
}

func (p *Planner) filter(c Constraints, in []SearchResult) []SearchResult {
	out := in[:0]
	for _, r := range in {
		if r.TrustScore < c.MinTrust {
			continue
		}
		if c.UpdatedAfter != nil && r.UpdatedAt.Before(*c.UpdatedAfter) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func (p *Planner) rank(results []SearchResult) {
	for i := range results {
		results[i].Rank = p.scorer.Rank(results[i].Confidence, results[i].TrustScore)
	}
	// Equal ids from different backends tie-break on the backend name.
	scoring.Sort(p.scorer, results, func(r SearchResult) (string, float32, float32) {
		return r.ID + "\x00" + r.Backend, r.Confidence, r.TrustScore
	})
}

func (p *Planner) applyAction(ctx context.Context, runner ActionRunner, action Action, q SearchQuery, results []SearchResult) ([]SearchResult, error) {
	in := make([]SearchResult, len(results))
	for i, r := range results {
		in[i] = r.Clone()
	}
	out, err := runner.Apply(ctx, action, q, in)
	if err != nil {
		return nil, sorcerr.With(sorcerr.Wrap(err, sorcerr.CodeQueryActionFailure, "applying "+string(action)), sorcerr.Field("action", string(action)))
	}
	if !sameIDs(results, out) {
		return nil, sorcerr.Errorf(sorcerr.CodeQueryActionFailure, "post-action %s changed the result set", action)
	}
	return out, nil
}

func sameIDs(a, b []SearchResult) bool {
	if len(a) != len(b) {
		return false
	}
	type ref struct{ backend, id string }
	seen := make(map[ref]int, len(a))
	for _, r := range a {
		seen[ref{r.Backend, r.ID}]++
	}
	for _, r := range b {
		k := ref{r.Backend, r.ID}
		if seen[k] == 0 {
			return false
		}
		seen[k]--
	}
	return true
}
