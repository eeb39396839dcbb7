// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

package agents

import (
	"context"
	"strings"

	"github.com/sorcerer-dev/sorcerer/internal/agent"
	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
)

// KeeperName is the name the memory keeper registers under. There is one
// keeper so that remember and recall see the same memory.
const KeeperName = "memory"

// Memory keeper operations.
const (
	OpRemember = "remember"
	OpRecall   = "recall"
	OpForget   = "forget"
	OpList     = "list"
)

// Keeper stores and recalls values in its own TTL memory on behalf of
// other tasks.
type Keeper struct {
	agent.Base
}

func NewKeeper(mem *agent.Memory) *Keeper {
	return &Keeper{Base: agent.NewBase(KeeperName, agent.TypeMemory, mem)}
}

func (k *Keeper) Execute(_ context.Context, x *agent.Execution) (*agent.AgentResult, error) {
	op := strings.ToLower(x.Task.Param(ParamOp))
	key := x.Task.Param(ParamKey)
	if key == "" && op != OpList {
		return nil, sorcerr.Errorf(sorcerr.CodeAgentTaskInvalid, "memory %s needs a key", op)
	}

	switch op {
	case OpRemember:
		value, ok := x.Task.Params[ParamValue]
		if !ok {
			return nil, sorcerr.New(sorcerr.CodeAgentTaskInvalid, "remember needs a value")
		}
		x.Memory.Set(key, value)
		return agent.Succeed(map[string]any{"key": key, "stored": true}, 1), nil

	case OpRecall:
		value, ok := x.Memory.Get(key)
		if !ok {
			return agent.Succeed(map[string]any{"key": key, "found": false}, 0), nil
		}
		return agent.Succeed(map[string]any{"key": key, "found": true, "value": value}, 1), nil

	case OpForget:
		return agent.Succeed(map[string]any{"key": key, "forgotten": x.Memory.Delete(key)}, 1), nil

	case OpList:
		return agent.Succeed(map[string]any{"keys": x.Memory.Keys()}, 1), nil
	}
	return nil, sorcerr.Errorf(sorcerr.CodeAgentTaskInvalid, "unknown memory operation %q", op)
}
