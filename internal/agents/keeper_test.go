// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

package agents_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sorcerer-dev/sorcerer/internal/agent"
	"github.com/sorcerer-dev/sorcerer/internal/agents"
	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
)

func keeperTask(op, key string, value any) agent.Task {
	params := map[string]any{"op": op, "key": key}
	if value != nil {
		params["value"] = value
	}
	return agent.Task{AgentName: agents.KeeperName, Params: params}
}

func TestKeeper_RememberRecallForget(t *testing.T) {
	f := newFixture(t, agent.Options{}, nil)

	res := f.submit(t, keeperTask("remember", "favourite", "borrow checker"))
	require.Equal(t, agent.StatusSuccess, res.Status, res.Error)

	res = f.submit(t, keeperTask("recall", "favourite", nil))
	require.Equal(t, agent.StatusSuccess, res.Status, res.Error)
	assert.Equal(t, true, res.Output["found"])
	assert.Equal(t, "borrow checker", res.Output["value"])

	res = f.submit(t, keeperTask("list", "", nil))
	require.Equal(t, agent.StatusSuccess, res.Status, res.Error)
	assert.Equal(t, []string{"favourite"}, res.Output["keys"])

	mem, ok := f.sched.Memory(agents.KeeperName)
	require.True(t, ok)
	assert.Equal(t, "borrow checker", mem["favourite"])

	res = f.submit(t, keeperTask("forget", "favourite", nil))
	require.Equal(t, agent.StatusSuccess, res.Status, res.Error)
	assert.Equal(t, true, res.Output["forgotten"])

	res = f.submit(t, keeperTask("recall", "favourite", nil))
	require.Equal(t, agent.StatusSuccess, res.Status, res.Error)
	assert.Equal(t, false, res.Output["found"])
	assert.Zero(t, res.Confidence)
}

func TestKeeper_InvalidRequests(t *testing.T) {
	f := newFixture(t, agent.Options{}, nil)

	tests := []struct {
		name string
		task agent.Task
	}{
		{"unknown op", keeperTask("shred", "k", nil)},
		{"missing key", keeperTask("recall", "", nil)},
		{"remember without value", keeperTask("remember", "k", nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := f.submit(t, tt.task)
			assert.Equal(t, agent.StatusFailed, res.Status)
			assert.Equal(t, string(sorcerr.CodeAgentTaskInvalid), res.ErrorCode)
		})
	}
}

func TestKeeper_IsRoutedForMemoryType(t *testing.T) {
	f := newFixture(t, agent.Options{}, nil)

	res := f.submit(t, agent.Task{
		AgentType: agent.TypeMemory,
		Params:    map[string]any{"op": "list"},
	})
	require.Equal(t, agent.StatusSuccess, res.Status, res.Error)
	assert.Equal(t, agents.KeeperName, res.Agent)
}
