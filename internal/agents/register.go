// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

package agents

import (
	"github.com/sorcerer-dev/sorcerer/internal/agent"
	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
)

// DefaultInstancesPerType bounds each built-in pool when Install is given
// no limit.
const DefaultInstancesPerType = 4

// Install registers factories for the Scout, Analyst, Verifier and
// Executor pools plus the single memory keeper, then attaches a Runner to
// the planner so post-actions dispatch through s.
func Install(s *agent.Scheduler, deps Deps, instancesPerType int, keeperMemory *agent.Memory) (*Runner, error) {
	if deps.Planner == nil {
		return nil, sorcerr.New(sorcerr.CodeAgentRegistryConflict, "built-in agents need a planner")
	}
	if deps.Hooks == nil {
		deps.Hooks = NewHooks()
	}
	if deps.Summarizer == nil {
		deps.Summarizer = NewSummarizer(nil, 0, deps.Logger)
	}
	if instancesPerType <= 0 {
		instancesPerType = DefaultInstancesPerType
	}

	factories := map[agent.Type]agent.Factory{
		agent.TypeScout: func(name string, mem *agent.Memory) (agent.Agent, error) {
			return NewScout(name, mem, deps), nil
		},
		agent.TypeAnalyst: func(name string, mem *agent.Memory) (agent.Agent, error) {
			return NewAnalyst(name, mem, deps), nil
		},
		agent.TypeVerifier: func(name string, mem *agent.Memory) (agent.Agent, error) {
			return NewVerifier(name, mem, deps), nil
		},
		agent.TypeExecutor: func(name string, mem *agent.Memory) (agent.Agent, error) {
			return NewExecutor(name, mem, deps), nil
		},
	}
	for _, typ := range []agent.Type{agent.TypeScout, agent.TypeAnalyst, agent.TypeVerifier, agent.TypeExecutor} {
		if err := s.RegisterFactory(typ, factories[typ], instancesPerType); err != nil {
			return nil, err
		}
	}
	if err := s.Register(NewKeeper(keeperMemory)); err != nil {
		return nil, err
	}

	r := NewRunner(s, deps)
	deps.Planner.SetActions(r)
	return r, nil
}
