// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

// Package query plans and executes searches across the registered index
// backends and ranks the merged matches.
package query

import (
	"fmt"
	"time"

	"github.com/sorcerer-dev/sorcerer/internal/index"
	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
)

// Action is a post-processing step applied to ranked results.
type Action string

const (
	ActionVerify    Action = "verify"
	ActionCompare   Action = "compare"
	ActionSummarize Action = "summarize"
	ActionExecute   Action = "execute"
)

// ParseAction validates s as an Action.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionVerify, ActionCompare, ActionSummarize, ActionExecute:
		return a, nil
	}
	return "", sorcerr.Errorf(sorcerr.CodeQueryPlanInvalid, "unknown post-action %q", s)
}

// Constraints filter merged matches. MaxResults bounds the final set, not
// what each backend returns.
type Constraints struct {
	UpdatedAfter *time.Time `json:"updated_after,omitempty"`
	MinTrust     float32    `json:"min_trust_score"`
	MaxResults   int        `json:"max_results"`
}

// Validate checks the constraint ranges.
func (c Constraints) Validate() error {
	if c.MaxResults <= 0 {
		return sorcerr.Errorf(sorcerr.CodeQueryPlanInvalid, "max_results must be positive, got %d", c.MaxResults)
	}
	if c.MinTrust < 0 || c.MinTrust > 1 || c.MinTrust != c.MinTrust {
		return sorcerr.Errorf(sorcerr.CodeQueryPlanInvalid, "min_trust_score must be within [0, 1], got %v", c.MinTrust)
	}
	return nil
}

// SearchQuery is one retrieval request.
type SearchQuery struct {
	Mode        index.Mode  `json:"mode"`
	Text        string      `json:"text"`
	Constraints Constraints `json:"constraints"`
	Actions     []Action    `json:"actions,omitempty"`
}

// Validate checks mode, constraints and actions.
func (q SearchQuery) Validate() error {
	if _, err := index.ParseMode(string(q.Mode)); err != nil {
		return sorcerr.Errorf(sorcerr.CodeQueryPlanInvalid, "invalid search mode: %v", err)
	}
	if err := q.Constraints.Validate(); err != nil {
		return err
	}
	for _, a := range q.Actions {
		if _, err := ParseAction(string(a)); err != nil {
			return err
		}
	}
	return nil
}

// SearchResult is one ranked hit. Confidence and TrustScore are kept
// separate; Rank is their combination.
type SearchResult struct {
	ID         string            `json:"id"`
	Title      string            `json:"title"`
	Content    string            `json:"content"`
	Source     string            `json:"source"`
	Backend    string            `json:"backend"`
	Confidence float32           `json:"confidence"`
	TrustScore float32           `json:"trust_score"`
	Rank       float32           `json:"rank"`
	UpdatedAt  time.Time         `json:"updated_at"`
	Tags       []string          `json:"tags,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Annotate sets a metadata entry, allocating the map when needed.
func (r *SearchResult) Annotate(key, value string) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]string)
	}
	r.Metadata[key] = value
}

// Clone returns a copy that shares no maps or slices with r.
func (r SearchResult) Clone() SearchResult {
	if r.Tags != nil {
		r.Tags = append([]string(nil), r.Tags...)
	}
	if r.Metadata != nil {
		md := make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			md[k] = v
		}
		r.Metadata = md
	}
	return r
}

// Failure records a backend or post-action that did not complete.
type Failure struct {
	Source string `json:"source"`
	Code   string `json:"code,omitempty"`
	Error  string `json:"error"`
}

func failureOf(source string, err error) Failure {
	return Failure{Source: source, Code: string(sorcerr.CodeOf(err)), Error: err.Error()}
}

// QueryResult is the full response to a query. TotalCount always equals
// len(Results).
type QueryResult struct {
	QueryID         string         `json:"query_id"`
	Results         []SearchResult `json:"results"`
	TotalCount      int            `json:"total_count"`
	ExecutionTimeMs int64          `json:"execution_time_ms"`
	Backends        []string       `json:"backends"`
	Failures        []Failure      `json:"failures,omitempty"`
}

// Degraded reports whether any backend or action failed.
func (r *QueryResult) Degraded() bool { return len(r.Failures) > 0 }

// AllBackendsFailed reports whether no backend produced an answer.
func (r *QueryResult) AllBackendsFailed() bool {
	failed := 0
	for _, f := range r.Failures {
		if !isActionSource(f.Source) {
			failed++
		}
	}
	return len(r.Backends) > 0 && failed == len(r.Backends)
}

const actionPrefix = "action:"

func isActionSource(s string) bool {
	return len(s) > len(actionPrefix) && s[:len(actionPrefix)] == actionPrefix
}

const snippetRunes = 512

func snippet(s string) string {
	r := []rune(s)
	if len(r) <= snippetRunes {
		return s
	}
	return string(r[:snippetRunes]) + "…"
}

func fromMatch(backend string, m index.Match) SearchResult {
	d := m.Document
	return SearchResult{
		ID:         d.ID,
		Title:      d.Title(),
		Content:    snippet(d.Content),
		Source:     d.Metadata.Source,
		Backend:    backend,
		Confidence: m.Confidence,
		TrustScore: d.Metadata.TrustScore,
		UpdatedAt:  d.Metadata.UpdatedAt,
		Tags:       d.Metadata.Tags,
	}
}

// String renders a result for logs and the CLI.
func (r SearchResult) String() string {
	return fmt.Sprintf("%s (rank %.3f, confidence %.3f, trust %.2f)", r.ID, r.Rank, r.Confidence, r.TrustScore)
}
