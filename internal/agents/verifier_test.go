// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

package agents_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sorcerer-dev/sorcerer/internal/agent"
	"github.com/sorcerer-dev/sorcerer/internal/agents"
	"github.com/sorcerer-dev/sorcerer/internal/index"
	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
)

func TestVerifier_CorroboratedByOtherSources(t *testing.T) {
	f := newFixture(t, agent.Options{}, nil)

	res := f.submit(t, agent.Task{
		AgentType: agent.TypeVerifier,
		Mode:      index.ModeKeyword,
		Params:    map[string]any{"id": "rust-1"},
	})
	require.Equal(t, agent.StatusSuccess, res.Status, res.Error)

	assert.Equal(t, true, res.Output["corroborated"])
	assert.Equal(t, float32(1), res.Output["trust_factor"])
	backing, ok := res.Output["corroborations"].([]string)
	require.True(t, ok)
	assert.Contains(t, backing, "rust-2")
	assert.NotContains(t, backing, "rust-1")
	assert.Greater(t, res.Confidence, float32(0))
}

func TestVerifier_UncorroboratedHalvesTrust(t *testing.T) {
	f := newFixture(t, agent.Options{}, nil)

	res := f.submit(t, agent.Task{
		AgentType: agent.TypeVerifier,
		Mode:      index.ModeKeyword,
		Params:    map[string]any{"id": "cake-1"},
	})
	require.Equal(t, agent.StatusSuccess, res.Status, res.Error)

	assert.Equal(t, false, res.Output["corroborated"])
	assert.Equal(t, agents.UncorroboratedFactor, res.Output["trust_factor"])
	assert.InDelta(t, 0.5, res.Confidence, 1e-6)
}

func TestVerifier_SameSourceDoesNotCorroborate(t *testing.T) {
	f := newFixture(t, agent.Options{}, nil)

	// The handed document is unknown to every backend, so its source and
	// content come from the params. Only rust-2 shares its source.
	res := f.submit(t, agent.Task{
		AgentType: agent.TypeVerifier,
		Params: map[string]any{
			"id":      "draft",
			"source":  "blog",
			"content": "owner value tracks",
		},
	})
	require.Equal(t, agent.StatusSuccess, res.Status, res.Error)
	assert.Equal(t, false, res.Output["corroborated"])
}

func TestVerifier_RequiresID(t *testing.T) {
	f := newFixture(t, agent.Options{}, nil)

	res := f.submit(t, agent.Task{AgentType: agent.TypeVerifier})

	assert.Equal(t, agent.StatusFailed, res.Status)
	assert.Equal(t, string(sorcerr.CodeAgentTaskInvalid), res.ErrorCode)
}
