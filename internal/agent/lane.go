// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

package agent

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
)

// laneBacklog bounds how many executions may queue behind a busy instance
// before Submit blocks.
const laneBacklog = 256

// job is one function queued on a Lane.
type job struct {
	ctx  context.Context
	fn   func(context.Context) error
	done chan<- error
}

// Lane runs one agent instance's executions one at a time, in submission
// order, on its own goroutine. An agent therefore never sees two of its
// tasks at once.
type Lane struct {
	agent    string
	jobs     chan job
	stop     chan struct{}
	stopped  chan struct{}
	inFlight atomic.Int64

	mu     sync.RWMutex
	closed bool
}

// NewLane starts a lane for the named agent instance. Close releases it.
func NewLane(agentName string) *Lane {
	l := &Lane{
		agent:   agentName,
		jobs:    make(chan job, laneBacklog),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go l.work()
	return l
}

// Pending counts executions queued or running.
func (l *Lane) Pending() int {
	return int(l.inFlight.Load())
}

// work runs jobs until Close, then finishes whatever is still queued.
func (l *Lane) work() {
	defer close(l.stopped)
	for {
		select {
		case j := <-l.jobs:
			l.do(j)
		case <-l.stop:
			for len(l.jobs) > 0 {
				l.do(<-l.jobs)
			}
			return
		}
	}
}

func (l *Lane) do(j job) {
	err := j.ctx.Err()
	if err == nil {
		err = l.call(j)
	}
	l.inFlight.Add(-1)
	j.done <- err
}

// call runs j.fn and turns a panic into an execution failure.
func (l *Lane) call(j job) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		slog.Error("agent panicked",
			"agent", l.agent,
			"panic", r,
			"stack", string(debug.Stack()))
		err = sorcerr.Errorf(sorcerr.CodeAgentExecutionFailure, "agent %s panicked: %v", l.agent, r)
	}()
	return j.fn(j.ctx)
}

func (l *Lane) closedErr() error {
	return sorcerr.New(sorcerr.CodeAgentExecutionFailure, "lane is closed", sorcerr.FieldAgent(l.agent))
}

// Submit queues fn and waits for it to finish. If ctx ends first Submit
// returns ctx.Err(); a started fn keeps the lane busy until it returns.
func (l *Lane) Submit(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return l.closedErr()
	}
	l.inFlight.Add(1)
	select {
	case l.jobs <- job{ctx: ctx, fn: fn, done: done}:
		l.mu.RUnlock()
	case <-ctx.Done():
		l.mu.RUnlock()
		l.inFlight.Add(-1)
		return ctx.Err()
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close rejects new work and waits for queued work to finish. Repeated
// calls are no-ops.
func (l *Lane) Close() {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.stop)
	}
	l.mu.Unlock()
	<-l.stopped
}
