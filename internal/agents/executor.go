// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

package agents

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/sorcerer-dev/sorcerer/internal/agent"
	"github.com/sorcerer-dev/sorcerer/internal/index"
	"github.com/sorcerer-dev/sorcerer/internal/query"
	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
)

// Hook is a named execution step over a result set. It may annotate or
// reorder results but must keep every id; the report lands in the
// Executor's output.
type Hook func(ctx context.Context, results []query.SearchResult) ([]query.SearchResult, map[string]any, error)

// Built-in hook names.
const (
	HookCount   = "count"
	HookSources = "sources"

	// DefaultHook runs for the Execute post-action when none is named.
	DefaultHook = HookSources
)

// Hooks is a registry of execution hooks. It is safe for concurrent use.
type Hooks struct {
	mu    sync.RWMutex
	hooks map[string]Hook
}

// NewHooks returns a registry holding the built-in hooks.
func NewHooks() *Hooks {
	h := &Hooks{hooks: make(map[string]Hook)}
	h.hooks[HookCount] = countHook
	h.hooks[HookSources] = sourcesHook
	return h
}

// Register adds or replaces the hook called name.
func (h *Hooks) Register(name string, hook Hook) error {
	if name == "" || hook == nil {
		return sorcerr.New(sorcerr.CodeAgentRegistryConflict, "hook needs a name and a function")
	}
	h.mu.Lock()
	h.hooks[name] = hook
	h.mu.Unlock()
	return nil
}

func (h *Hooks) get(name string) (Hook, bool) {
	if h == nil {
		return nil, false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	hook, ok := h.hooks[name]
	return hook, ok
}

// Names lists the registered hooks, sorted.
func (h *Hooks) Names() []string {
	h.mu.RLock()
	out := make([]string, 0, len(h.hooks))
	for name := range h.hooks {
		out = append(out, name)
	}
	h.mu.RUnlock()
	sort.Strings(out)
	return out
}

func countHook(_ context.Context, results []query.SearchResult) ([]query.SearchResult, map[string]any, error) {
	return results, map[string]any{"count": len(results)}, nil
}

// sourcesHook tallies results per source and tags each result with how
// many results share its source.
func sourcesHook(_ context.Context, results []query.SearchResult) ([]query.SearchResult, map[string]any, error) {
	bySource := make(map[string]int)
	for _, r := range results {
		bySource[r.Source]++
	}
	for i := range results {
		results[i].Annotate("source_results", strconv.Itoa(bySource[results[i].Source]))
	}
	return results, map[string]any{"sources": bySource}, nil
}

// Executor runs a named hook over a result set. The results come from the
// task params when the action runner hands them over, otherwise from an
// API query for the task text.
type Executor struct {
	agent.Base
	deps Deps
}

func NewExecutor(name string, mem *agent.Memory, deps Deps) *Executor {
	return &Executor{Base: agent.NewBase(name, agent.TypeExecutor, mem), deps: deps}
}

func (e *Executor) Execute(ctx context.Context, x *agent.Execution) (*agent.AgentResult, error) {
	name := x.Task.Param(ParamHook)
	var hook Hook
	if name != "" {
		var ok bool
		if hook, ok = e.deps.Hooks.get(name); !ok {
			return nil, sorcerr.Errorf(sorcerr.CodeAgentExecutionFailure, "unknown execution hook %q", name)
		}
	}

	results, handed := paramResults(x.Task)
	var queryID string
	if !handed {
		q := x.Task.SearchQuery()
		if q.Mode == "" {
			q.Mode = index.ModeAPI
		}
		res, err := search(ctx, e.deps.Planner, q)
		if err != nil {
			return nil, err
		}
		results, queryID = res.Results, res.QueryID
	}

	output := map[string]any{}
	if queryID != "" {
		output["query_id"] = queryID
	}
	if hook != nil {
		out, report, err := hook(ctx, results)
		if err != nil {
			return nil, sorcerr.Wrap(err, sorcerr.CodeAgentExecutionFailure, "running hook "+name)
		}
		results = out
		output["hook"] = name
		output["report"] = report
		x.Memory.Set("last_hook", name)
	}
	output["results"] = results
	output["total_count"] = len(results)

	return agent.Succeed(output, topConfidence(results)), nil
}
