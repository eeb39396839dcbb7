// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

package agents_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sorcerer-dev/sorcerer/internal/agent"
	"github.com/sorcerer-dev/sorcerer/internal/agents"
	"github.com/sorcerer-dev/sorcerer/internal/query"
	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
)

func handed() []query.SearchResult {
	return []query.SearchResult{
		{ID: "a", Source: "wiki", Confidence: 0.4},
		{ID: "b", Source: "wiki", Confidence: 0.9},
		{ID: "c", Source: "blog", Confidence: 0.2},
	}
}

func TestHooks_BuiltinsAndRegister(t *testing.T) {
	h := agents.NewHooks()
	assert.Equal(t, []string{"count", "sources"}, h.Names())

	require.NoError(t, h.Register("noop", func(_ context.Context, rs []query.SearchResult) ([]query.SearchResult, map[string]any, error) {
		return rs, nil, nil
	}))
	assert.Equal(t, []string{"count", "noop", "sources"}, h.Names())

	err := h.Register("", nil)
	require.Error(t, err)
}

func TestExecutor_RunsNamedHook(t *testing.T) {
	f := newFixture(t, agent.Options{}, nil)

	res := f.submit(t, agent.Task{
		AgentType: agent.TypeExecutor,
		Params:    map[string]any{"hook": "sources", "results": handed()},
	})
	require.Equal(t, agent.StatusSuccess, res.Status, res.Error)

	assert.Equal(t, "sources", res.Output["hook"])
	report := res.Output["report"].(map[string]any)
	assert.Equal(t, map[string]int{"wiki": 2, "blog": 1}, report["sources"])

	results := byID(res.Output["results"].([]query.SearchResult))
	assert.Equal(t, "2", results["a"].Metadata["source_results"])
	assert.Equal(t, "1", results["c"].Metadata["source_results"])
	assert.InDelta(t, 0.9, res.Confidence, 1e-6)
}

func TestExecutor_UnknownHookFails(t *testing.T) {
	f := newFixture(t, agent.Options{}, nil)

	res := f.submit(t, agent.Task{
		AgentType: agent.TypeExecutor,
		Params:    map[string]any{"hook": "deploy", "results": handed()},
	})

	assert.Equal(t, agent.StatusFailed, res.Status)
	assert.Equal(t, string(sorcerr.CodeAgentExecutionFailure), res.ErrorCode)
	assert.Contains(t, res.Error, "deploy")
}

func TestExecutor_HookErrorFails(t *testing.T) {
	f := newFixture(t, agent.Options{}, nil)
	require.NoError(t, f.hooks.Register("broken", func(context.Context, []query.SearchResult) ([]query.SearchResult, map[string]any, error) {
		return nil, nil, errors.New("webhook refused")
	}))

	res := f.submit(t, agent.Task{
		AgentType: agent.TypeExecutor,
		Params:    map[string]any{"hook": "broken", "results": handed()},
	})

	assert.Equal(t, agent.StatusFailed, res.Status)
	assert.Contains(t, res.Error, "webhook refused")
}

func TestExecutor_SearchesWhenNoResultsHanded(t *testing.T) {
	f := newFixture(t, agent.Options{}, nil)

	res := f.submit(t, agent.Task{
		AgentType: agent.TypeExecutor,
		Query:     "cake",
		Mode:      "keyword",
		Params:    map[string]any{"hook": "count"},
	})
	require.Equal(t, agent.StatusSuccess, res.Status, res.Error)

	assert.NotEmpty(t, res.Output["query_id"])
	assert.Equal(t, map[string]any{"count": 1}, res.Output["report"])
}
