// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

package agents

import (
	"context"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/sorcerer-dev/sorcerer/internal/agent"
	"github.com/sorcerer-dev/sorcerer/internal/query"
	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
)

// Metadata keys the runner writes onto results.
const (
	MetaVerification    = "verification"
	MetaVerified        = "verified"
	MetaCorroborations  = "corroborations"
	MetaAgreement       = "agreement"
	MetaSummaryProvider = "summary_provider"
	MetaSummaryModel    = "summary_model"
)

// DefaultSummarizeConcurrency bounds parallel digests in one Summarize.
const DefaultSummarizeConcurrency = 4

// Runner applies post-actions by dispatching built-in agents. Called from
// inside an agent execution it spawns children of that task; otherwise it
// submits top-level tasks to the scheduler.
type Runner struct {
	sched *agent.Scheduler
	deps  Deps
}

var _ query.ActionRunner = (*Runner)(nil)

func NewRunner(s *agent.Scheduler, deps Deps) *Runner {
	return &Runner{sched: s, deps: deps}
}

func (r *Runner) Apply(ctx context.Context, action query.Action, q query.SearchQuery, results []query.SearchResult) ([]query.SearchResult, error) {
	if len(results) == 0 {
		return results, nil
	}
	switch action {
	case query.ActionVerify:
		return r.verify(ctx, q, results)
	case query.ActionCompare:
		return r.compare(ctx, q, results)
	case query.ActionSummarize:
		return r.summarize(ctx, results)
	case query.ActionExecute:
		return r.execute(ctx, q, results)
	}
	return nil, sorcerr.Errorf(sorcerr.CodeQueryPlanInvalid, "unknown post-action %q", action)
}

func (r *Runner) budget(ctx context.Context) int {
	if x, ok := agent.ExecutionFrom(ctx); ok {
		return x.ChildBudget()
	}
	return r.sched.MaxSubAgents()
}

func (r *Runner) dispatch(ctx context.Context, tasks ...agent.Task) ([]*agent.AgentResult, error) {
	if x, ok := agent.ExecutionFrom(ctx); ok {
		return x.Spawn(ctx, tasks...)
	}

	out := make([]*agent.AgentResult, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range tasks {
		g.Go(func() error {
			res, err := r.sched.Submit(gctx, t)
			if err != nil {
				return err
			}
			out[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// verify runs an optional Verifier per result, top ranked first, as far as
// the child budget allows. Uncorroborated results lose trust; results left
// unverified are marked so.
func (r *Runner) verify(ctx context.Context, q query.SearchQuery, results []query.SearchResult) ([]query.SearchResult, error) {
	n := min(len(results), r.budget(ctx))
	tasks := make([]agent.Task, n)
	for i := range n {
		tasks[i] = verifyTask(q.Text, q.Mode, results[i])
	}
	outs, err := r.dispatch(ctx, tasks...)
	if err != nil {
		return nil, err
	}

	for i := range results {
		res := &results[i]
		if i >= n {
			res.Annotate(MetaVerification, "skipped")
			continue
		}
		out := outs[i]
		if out.Status != agent.StatusSuccess {
			res.Annotate(MetaVerification, "failed: "+out.Error)
			continue
		}
		corroborated, _ := out.Output["corroborated"].(bool)
		backing, _ := out.Output["corroborations"].([]string)
		if factor, ok := out.Output["trust_factor"].(float32); ok && !corroborated {
			res.TrustScore *= factor
		}
		res.Annotate(MetaVerification, "done")
		res.Annotate(MetaVerified, strconv.FormatBool(corroborated))
		res.Annotate(MetaCorroborations, strconv.Itoa(len(backing)))
	}
	return results, nil
}

// compare asks one Analyst how far the results agree and records each
// result's mean agreement.
func (r *Runner) compare(ctx context.Context, q query.SearchQuery, results []query.SearchResult) ([]query.SearchResult, error) {
	if len(results) == 1 {
		results[0].Annotate(MetaAgreement, formatScore(1))
		return results, nil
	}
	if r.budget(ctx) < 1 {
		return nil, sorcerr.New(sorcerr.CodeAgentTaskInvalid, "no sub-agent budget left for compare")
	}

	contents := make([]string, len(results))
	for i, res := range results {
		contents[i] = res.Content
	}
	outs, err := r.dispatch(ctx, agent.Task{
		Query:     q.Text,
		Mode:      q.Mode,
		AgentType: agent.TypeAnalyst,
		Params: map[string]any{
			ParamIDs:      ids(results),
			ParamBackends: backendsOf(results),
			ParamContents: contents,
		},
	})
	if err != nil {
		return nil, err
	}
	if err := outs[0].Err(); err != nil {
		return nil, err
	}

	docs, _ := outs[0].Output["documents"].([]Analysis)
	byID := make(map[string]float32, len(docs))
	for _, d := range docs {
		byID[d.ID] = d.Agreement
	}
	for i := range results {
		if v, ok := byID[results[i].ID]; ok {
			results[i].Annotate(MetaAgreement, formatScore(v))
		}
	}
	return results, nil
}

// summarize replaces each result's content with a digest of the full
// document, or of the snippet when the document is gone.
func (r *Runner) summarize(ctx context.Context, results []query.SearchResult) ([]query.SearchResult, error) {
	if r.deps.Summarizer == nil {
		return nil, sorcerr.New(sorcerr.CodeQueryPlanInvalid, "summarize requires a summarizer")
	}
	reg := r.deps.Planner.Registry()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(DefaultSummarizeConcurrency)
	for i := range results {
		res := &results[i]
		g.Go(func() error {
			text := res.Content
			doc, _, err := reg.FindIn(gctx, res.Backend, res.ID)
			if err != nil {
				r.deps.logger().Debug("summarize: document lookup failed", "id", res.ID, "error", err)
			} else if doc != nil && doc.Content != "" {
				text = doc.Content
			}
			if text == "" {
				return nil
			}
			out, err := r.deps.Summarizer.Digest(gctx, text)
			if err != nil {
				return sorcerr.With(err, sorcerr.FieldDocumentID(res.ID))
			}
			res.Content = out.Text
			res.Annotate(MetaSummaryProvider, out.Provider)
			res.Annotate(MetaSummaryModel, out.Model)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// execute hands the results to one Executor running the default hook and
// takes back the results it returns.
func (r *Runner) execute(ctx context.Context, q query.SearchQuery, results []query.SearchResult) ([]query.SearchResult, error) {
	if r.budget(ctx) < 1 {
		return nil, sorcerr.New(sorcerr.CodeAgentTaskInvalid, "no sub-agent budget left for execute")
	}
	outs, err := r.dispatch(ctx, agent.Task{
		Query:     q.Text,
		Mode:      q.Mode,
		AgentType: agent.TypeExecutor,
		Params: map[string]any{
			ParamHook:    DefaultHook,
			ParamResults: results,
		},
	})
	if err != nil {
		return nil, err
	}
	if err := outs[0].Err(); err != nil {
		return nil, err
	}
	out, ok := outs[0].Output["results"].([]query.SearchResult)
	if !ok {
		return nil, sorcerr.New(sorcerr.CodeAgentExecutionFailure, "executor returned no results")
	}
	return out, nil
}
