// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

package agents_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sorcerer-dev/sorcerer/internal/agent"
	"github.com/sorcerer-dev/sorcerer/internal/agents"
	"github.com/sorcerer-dev/sorcerer/internal/provider"
	"github.com/sorcerer-dev/sorcerer/internal/provider/local"
	"github.com/sorcerer-dev/sorcerer/internal/query"
)

func TestRunner_VerifyLowersUncorroboratedTrust(t *testing.T) {
	f := newFixture(t, agent.Options{}, nil)

	res, err := f.planner.Execute(context.Background(), keyword("cake", query.ActionVerify))
	require.NoError(t, err)
	require.Empty(t, res.Failures)
	require.Len(t, res.Results, 1)

	r := res.Results[0]
	assert.Equal(t, "cake-1", r.ID)
	assert.InDelta(t, 0.35, r.TrustScore, 1e-6)
	assert.Equal(t, "done", r.Metadata[agents.MetaVerification])
	assert.Equal(t, "false", r.Metadata[agents.MetaVerified])
	assert.Equal(t, "0", r.Metadata[agents.MetaCorroborations])
}

func TestRunner_VerifyKeepsCorroboratedTrust(t *testing.T) {
	f := newFixture(t, agent.Options{}, nil)

	res, err := f.planner.Execute(context.Background(), keyword("ownership", query.ActionVerify))
	require.NoError(t, err)
	require.Len(t, res.Results, 3)

	rust := byID(res.Results)["rust-1"]
	assert.InDelta(t, 0.9, rust.TrustScore, 1e-6)
	assert.Equal(t, "true", rust.Metadata[agents.MetaVerified])
}

func TestRunner_VerifyHonorsChildBudget(t *testing.T) {
	f := newFixture(t, agent.Options{MaxSubAgents: 1}, nil)

	res, err := f.planner.Execute(context.Background(), keyword("ownership", query.ActionVerify))
	require.NoError(t, err)
	require.Len(t, res.Results, 3)

	counts := map[string]int{}
	for _, r := range res.Results {
		counts[r.Metadata[agents.MetaVerification]]++
	}
	assert.Equal(t, map[string]int{"done": 1, "skipped": 2}, counts)
}

func TestRunner_CompareAnnotatesAgreement(t *testing.T) {
	f := newFixture(t, agent.Options{}, nil)

	res, err := f.planner.Execute(context.Background(), keyword("ownership", query.ActionCompare))
	require.NoError(t, err)
	require.Empty(t, res.Failures)
	require.Len(t, res.Results, 3)
	for _, r := range res.Results {
		assert.NotEmpty(t, r.Metadata[agents.MetaAgreement], r.ID)
	}

	res, err = f.planner.Execute(context.Background(), keyword("cake", query.ActionCompare))
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "1.000", res.Results[0].Metadata[agents.MetaAgreement])
}

func TestRunner_SummarizeReplacesContent(t *testing.T) {
	f := newFixture(t, agent.Options{}, agents.NewSummarizer(nil, 1, nil))

	res, err := f.planner.Execute(context.Background(), keyword("enforces", query.ActionSummarize))
	require.NoError(t, err)
	require.Empty(t, res.Failures)
	require.Len(t, res.Results, 1)

	r := res.Results[0]
	assert.Equal(t, "rust-1", r.ID)
	assert.Len(t, local.Sentences(r.Content), 1)
	assert.Contains(t, "Rust ownership rules prevent data races. The borrow checker enforces ownership.", r.Content)
	assert.Equal(t, provider.NameLocal, r.Metadata[agents.MetaSummaryProvider])
	assert.Equal(t, local.Model, r.Metadata[agents.MetaSummaryModel])
}

func TestRunner_ExecuteRunsDefaultHook(t *testing.T) {
	f := newFixture(t, agent.Options{}, nil)

	res, err := f.planner.Execute(context.Background(), keyword("ownership", query.ActionExecute))
	require.NoError(t, err)
	require.Empty(t, res.Failures)
	require.Len(t, res.Results, 3)
	for _, r := range res.Results {
		assert.Equal(t, "1", r.Metadata["source_results"], r.ID)
	}
}

func TestRunner_ActionsComposeInOrder(t *testing.T) {
	f := newFixture(t, agent.Options{}, nil)

	res, err := f.planner.Execute(context.Background(),
		keyword("ownership", query.ActionVerify, query.ActionCompare, query.ActionExecute))
	require.NoError(t, err)
	require.Empty(t, res.Failures)
	for _, r := range res.Results {
		assert.Contains(t, r.Metadata, agents.MetaVerification)
		assert.Contains(t, r.Metadata, agents.MetaAgreement)
		assert.Contains(t, r.Metadata, "source_results")
	}
}

func TestRunner_UnknownActionIsRejected(t *testing.T) {
	f := newFixture(t, agent.Options{}, nil)

	_, err := f.runner.Apply(context.Background(), "translate", keyword("x"), []query.SearchResult{{ID: "a"}})
	require.Error(t, err)
}
