// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

// Package agents holds the built-in agents (Scout, Analyst, Verifier,
// Executor and the memory keeper), the post-action runner the planner
// calls for verify/compare/summarize/execute, and the digest summarizer.
package agents

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/sorcerer-dev/sorcerer/internal/agent"
	"github.com/sorcerer-dev/sorcerer/internal/index"
	"github.com/sorcerer-dev/sorcerer/internal/query"
	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
)

// Deps are the collaborators the built-in agents share. Every field except
// Logger is required by at least one agent.
type Deps struct {
	Planner    *query.Planner
	Summarizer *Summarizer
	Hooks      *Hooks
	Logger     *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// Task parameter keys understood by the built-in agents.
const (
	ParamDeep     = "deep"
	ParamIDs      = "ids"
	ParamBackends = "backends"
	ParamContents = "contents"
	ParamID       = "id"
	ParamBackend  = "backend"
	ParamSource   = "source"
	ParamContent  = "content"
	ParamHook     = "hook"
	ParamResults  = "results"
	ParamOp       = "op"
	ParamKey      = "key"
	ParamValue    = "value"
)

// search runs the task's query through the planner. A malformed query is an
// invalid task, not an execution failure, so it is never retried.
func search(ctx context.Context, p *query.Planner, q query.SearchQuery) (*query.QueryResult, error) {
	if q.Mode == "" {
		q.Mode = index.ModeKeyword
	}
	if q.Constraints.MaxResults <= 0 {
		q.Constraints.MaxResults = agent.DefaultMaxResults
	}
	res, err := p.Execute(ctx, q)
	if err != nil {
		if sorcerr.HasCode(err, sorcerr.CodeQueryPlanInvalid) {
			return nil, sorcerr.Errorf(sorcerr.CodeAgentTaskInvalid, "invalid query: %v", err)
		}
		return nil, sorcerr.Wrap(err, sorcerr.CodeAgentExecutionFailure, "searching")
	}
	return res, nil
}

// paramBool accepts a bool or a string such as "true".
func paramBool(t agent.Task, key string) bool {
	switch v := t.Params[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

// paramResults returns results handed over in-process by the action runner.
func paramResults(t agent.Task) ([]query.SearchResult, bool) {
	rs, ok := t.Params[ParamResults].([]query.SearchResult)
	return rs, ok
}

func topConfidence(results []query.SearchResult) float32 {
	var best float32
	for _, r := range results {
		best = max(best, r.Confidence)
	}
	return best
}

func ids(results []query.SearchResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.ID
	}
	return out
}

func backendsOf(results []query.SearchResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Backend
	}
	return out
}

func formatScore(v float32) string {
	return strconv.FormatFloat(float64(v), 'f', 3, 32)
}
