// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

// Package agent runs tasks on agents. The Scheduler keeps every task in an
// arena indexed by id, routes tasks to agent instances, enforces timeouts
// and folds child outcomes into their parent's result.
package agent

import (
	"context"
	"log/slog"
	"time"
)

// Agent executes tasks of one type. An instance handles one task at a
// time; the scheduler never calls Execute concurrently on the same
// instance.
type Agent interface {
	Name() string
	Type() Type
	// Execute runs x.Task. Returning an error, or a result whose status is
	// Failed, fails the task.
	Execute(ctx context.Context, x *Execution) (*AgentResult, error)
	// Memory is the instance's own context, never shared with another
	// agent.
	Memory() *Memory
}

// Factory creates a new instance of an agent type on demand.
type Factory func(name string, mem *Memory) (Agent, error)

// Base carries the identity and memory every agent needs. Embed it.
type Base struct {
	name string
	typ  Type
	mem  *Memory
}

// NewBase creates a Base. A nil memory gets a fresh one without expiry.
func NewBase(name string, typ Type, mem *Memory) Base {
	if mem == nil {
		mem = NewMemory(0)
	}
	return Base{name: name, typ: typ, mem: mem}
}

func (b *Base) Name() string    { return b.name }
func (b *Base) Type() Type      { return b.typ }
func (b *Base) Memory() *Memory { return b.mem }

// Execution is what an agent receives for one task: the task itself, the
// instance's memory and a handle to spawn children.
type Execution struct {
	Task   Task
	Memory *Memory
	Logger *slog.Logger

	agent string
	s     *Scheduler
	slot  *slot
}

// Agent returns the name of the instance running the task.
func (x *Execution) Agent() string { return x.agent }

// Now returns the scheduler's clock.
func (x *Execution) Now() time.Time { return x.s.now() }

// ChildBudget is how many more children the task may spawn.
func (x *Execution) ChildBudget() int {
	return x.s.childBudget(x.Task.ID)
}

type executionKey struct{}

// ExecutionFrom returns the execution running on ctx, if any. Code called
// from inside an agent uses it to attach child tasks to the right parent.
func ExecutionFrom(ctx context.Context) (*Execution, bool) {
	x, ok := ctx.Value(executionKey{}).(*Execution)
	return x, ok
}

func withExecution(ctx context.Context, x *Execution) context.Context {
	return context.WithValue(ctx, executionKey{}, x)
}

// Spawn runs children of the current task concurrently and waits for all
// of them. Each child's ParentID is set to the current task. Results come
// back in the order of children; a child that fails is reported through
// its result, not the error. The error is set only when the children
// could not be submitted, such as exceeding max_sub_agents.
func (x *Execution) Spawn(ctx context.Context, children ...Task) ([]*AgentResult, error) {
	return x.s.spawn(ctx, x, children)
}
