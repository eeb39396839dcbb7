// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

package agents

import (
	"context"

	"github.com/sorcerer-dev/sorcerer/internal/agent"
	"github.com/sorcerer-dev/sorcerer/internal/query"
)

// Memory keys written by the Scout.
const (
	memLastQuery   = "last_query_id"
	memQueryPrefix = "query:"
)

// Scout discovers documents: it runs the task's query through the planner
// and remembers the ids it found. A deep run follows up each top result
// with a required Analyst and an optional Verifier.
type Scout struct {
	agent.Base
	deps Deps
}

func NewScout(name string, mem *agent.Memory, deps Deps) *Scout {
	return &Scout{Base: agent.NewBase(name, agent.TypeScout, mem), deps: deps}
}

func (s *Scout) Execute(ctx context.Context, x *agent.Execution) (*agent.AgentResult, error) {
	q := x.Task.SearchQuery()
	res, err := search(ctx, s.deps.Planner, q)
	if err != nil {
		return nil, err
	}

	found := ids(res.Results)
	x.Memory.Set(memLastQuery, res.QueryID)
	x.Memory.Set(memQueryPrefix+res.QueryID, found)

	output := map[string]any{
		"query_id":    res.QueryID,
		"results":     res.Results,
		"total_count": res.TotalCount,
		"backends":    res.Backends,
	}
	if len(res.Failures) > 0 {
		output["failures"] = res.Failures
	}

	if paramBool(x.Task, ParamDeep) && len(res.Results) > 0 {
		followUps, err := s.deepen(ctx, x, res.Results)
		if err != nil {
			return nil, err
		}
		output["follow_ups"] = followUps
	}

	x.Logger.Debug("scout finished", "query_id", res.QueryID, "results", res.TotalCount)
	return agent.Succeed(output, topConfidence(res.Results)), nil
}

// deepen spawns an Analyst (required) and a Verifier (optional) for as
// many top results as the child budget allows.
func (s *Scout) deepen(ctx context.Context, x *agent.Execution, results []query.SearchResult) ([]map[string]any, error) {
	n := min(len(results), x.ChildBudget()/2)
	if n == 0 {
		return nil, nil
	}

	children := make([]agent.Task, 0, 2*n)
	for _, r := range results[:n] {
		children = append(children,
			agent.Task{
				Query:     x.Task.Query,
				Mode:      x.Task.Mode,
				AgentType: agent.TypeAnalyst,
				Required:  true,
				Params: map[string]any{
					ParamIDs:      []string{r.ID},
					ParamBackends: []string{r.Backend},
					ParamContents: []string{r.Content},
				},
			},
			verifyTask(x.Task.Query, x.Task.Mode, r),
		)
	}

	outs, err := x.Spawn(ctx, children...)
	if err != nil {
		return nil, err
	}

	followUps := make([]map[string]any, n)
	for i := range n {
		analysis, verification := outs[2*i], outs[2*i+1]
		followUps[i] = map[string]any{
			"id":                  results[i].ID,
			"analysis_status":     analysis.Status,
			"verification_status": verification.Status,
		}
		if analysis.Status == agent.StatusSuccess {
			followUps[i]["analysis"] = analysis.Output
		}
		if verification.Status == agent.StatusSuccess {
			followUps[i]["verification"] = verification.Output
		} else {
			followUps[i]["verification_error"] = verification.Error
		}
	}
	return followUps, nil
}
