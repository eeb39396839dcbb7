// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/sorcerer-dev/sorcerer/internal/index"
	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
)

const (
	DefaultMaxSubAgents  = 5
	DefaultMaxConcurrent = 16
	DefaultTimeout       = 300 * time.Second
)

// NoAgentMessage is the failure reported when no agent can take a task.
const NoAgentMessage = "No suitable agent found"

// Options configure a Scheduler. Zero values take the defaults above.
type Options struct {
	MaxSubAgents   int
	MaxConcurrent  int
	DefaultTimeout time.Duration
	TypeTimeouts   map[Type]time.Duration
	MemoryTTL      time.Duration
	// Routing overrides entries of DefaultRouting.
	Routing map[index.Mode]Type
	Logger  *slog.Logger
}

type record struct {
	task     Task
	status   Status
	agent    string
	result   *AgentResult
	children []string
	done     chan struct{}
}

type instance struct {
	agent Agent
	lane  *Lane
	// current is the id of the task running on the instance and load the
	// number of tasks assigned to it and not yet finished; both guarded by
	// Scheduler.mu.
	current string
	load    int
}

type pool struct {
	instances []*instance
	factory   Factory
	max       int
}

// Scheduler dispatches tasks to agents. It is safe for concurrent use.
type Scheduler struct {
	opts    Options
	logger  *slog.Logger
	sem     *semaphore.Weighted
	routing map[index.Mode]Type

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	nowFunc func() time.Time
	tasks   map[string]*record
	byName  map[string]*instance
	pools   map[Type]*pool
	closed  bool
}

// NewScheduler creates a scheduler with no agents.
func NewScheduler(opts Options) *Scheduler {
	if opts.MaxSubAgents <= 0 {
		opts.MaxSubAgents = DefaultMaxSubAgents
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	routing := DefaultRouting()
	for mode, typ := range opts.Routing {
		routing[mode] = typ
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		opts:    opts,
		logger:  opts.Logger,
		sem:     semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		routing: routing,
		baseCtx: ctx,
		cancel:  cancel,
		nowFunc: time.Now,
		tasks:   make(map[string]*record),
		byName:  make(map[string]*instance),
		pools:   make(map[Type]*pool),
	}
}

// SetNowFunc overrides the clock used for task creation times.
func (s *Scheduler) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	s.nowFunc = fn
	s.mu.Unlock()
}

func (s *Scheduler) now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nowFunc()
}

// MaxSubAgents is the fan-out limit per parent task.
func (s *Scheduler) MaxSubAgents() int { return s.opts.MaxSubAgents }

// Register adds a named agent instance.
func (s *Scheduler) Register(a Agent) error {
	if a == nil || a.Name() == "" {
		return sorcerr.New(sorcerr.CodeAgentRegistryConflict, "agent must have a name")
	}
	if _, err := ParseType(string(a.Type())); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed()
	}
	if _, dup := s.byName[a.Name()]; dup {
		return sorcerr.New(sorcerr.CodeAgentRegistryConflict, "agent already registered", sorcerr.FieldAgent(a.Name()))
	}
	s.registerLocked(a)
	return nil
}

// caller holds s.mu
func (s *Scheduler) registerLocked(a Agent) *instance {
	inst := &instance{agent: a, lane: NewLane(a.Name())}
	s.byName[a.Name()] = inst
	p, ok := s.pools[a.Type()]
	if !ok {
		p = &pool{}
		s.pools[a.Type()] = p
	}
	p.instances = append(p.instances, inst)
	return inst
}

// RegisterFactory lets the scheduler create up to max instances of typ on
// demand. Instances registered with Register count towards max.
func (s *Scheduler) RegisterFactory(typ Type, f Factory, max int) error {
	if _, err := ParseType(string(typ)); err != nil {
		return err
	}
	if f == nil || max < 1 {
		return sorcerr.Errorf(sorcerr.CodeAgentRegistryConflict, "factory for %s needs a constructor and a positive limit", typ)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed()
	}
	p, ok := s.pools[typ]
	if !ok {
		p = &pool{}
		s.pools[typ] = p
	}
	p.factory = f
	p.max = max
	return nil
}

// AgentInfo describes a registered instance.
type AgentInfo struct {
	Name    string `json:"name"`
	Type    Type   `json:"type"`
	Pending int    `json:"pending"`
	Task    string `json:"task,omitempty"`
}

// Agents lists the registered instances by name.
func (s *Scheduler) Agents() []AgentInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AgentInfo, 0, len(s.byName))
	for name, inst := range s.byName {
		out = append(out, AgentInfo{Name: name, Type: inst.agent.Type(), Pending: inst.load, Task: inst.current})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Memory returns a snapshot of an instance's live memory.
func (s *Scheduler) Memory(agentName string) (map[string]any, bool) {
	s.mu.Lock()
	inst, ok := s.byName[agentName]
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	return inst.agent.Memory().Snapshot(), true
}

// Submit runs task to completion and returns its result. Failures of the
// task are reported through the result's status; the error is set only
// when the task could not be recorded at all.
func (s *Scheduler) Submit(ctx context.Context, task Task) (*AgentResult, error) {
	rec, err := s.admit(task, "")
	if err != nil {
		return nil, err
	}
	s.run(ctx, rec)
	return s.resultOf(rec), nil
}

// Start records task and runs it in the background. Use Wait or Result to
// collect the outcome.
func (s *Scheduler) Start(task Task) (string, error) {
	s.wg.Add(1)
	rec, err := s.admit(task, "")
	if err != nil {
		s.wg.Done()
		return "", err
	}
	go func() {
		defer s.wg.Done()
		s.run(s.baseCtx, rec)
	}()
	return rec.task.ID, nil
}

// Wait blocks until task id is terminal or ctx is done.
func (s *Scheduler) Wait(ctx context.Context, id string) (*AgentResult, error) {
	s.mu.Lock()
	rec, ok := s.tasks[id]
	s.mu.Unlock()
	if !ok {
		return nil, sorcerr.New(sorcerr.CodeAgentTaskNotFound, "task not found", sorcerr.FieldTaskID(id))
	}
	select {
	case <-rec.done:
		return s.resultOf(rec), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Retry runs a failed or timed-out task again as a new task with the same
// parent. Tasks rejected as invalid are never retried.
func (s *Scheduler) Retry(ctx context.Context, id string) (*AgentResult, error) {
	s.mu.Lock()
	rec, ok := s.tasks[id]
	var (
		task   Task
		status Status
		code   string
	)
	if ok {
		task = rec.task.clone()
		status = rec.status
		if rec.result != nil {
			code = rec.result.ErrorCode
		}
	}
	s.mu.Unlock()

	switch {
	case !ok:
		return nil, sorcerr.New(sorcerr.CodeAgentTaskNotFound, "task not found", sorcerr.FieldTaskID(id))
	case status != StatusFailed && status != StatusTimedOut:
		return nil, sorcerr.Errorf(sorcerr.CodeAgentTaskInvalid, "task %s is %s; only failed or timed out tasks can be retried", id, status)
	case sorcerr.Code(code) == sorcerr.CodeAgentTaskInvalid:
		return nil, sorcerr.Errorf(sorcerr.CodeAgentTaskInvalid, "task %s was rejected as invalid and is not retried", id)
	}

	task.ID = ""
	task.CreatedAt = time.Time{}
	nrec, err := s.admit(task, task.ParentID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("retrying task", "task_id", nrec.task.ID, "retry_of", id)
	s.run(ctx, nrec)
	return s.resultOf(nrec), nil
}

// Task returns the recorded task.
func (s *Scheduler) Task(id string) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tasks[id]
	if !ok {
		return Task{}, false
	}
	return rec.task.clone(), true
}

// Status returns the task's current status.
func (s *Scheduler) Status(id string) (Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tasks[id]
	if !ok {
		return "", false
	}
	return rec.status, true
}

// Result returns the result of a terminal task.
func (s *Scheduler) Result(id string) (*AgentResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tasks[id]
	if !ok || rec.result == nil {
		return nil, false
	}
	return rec.result.Clone(), true
}

// Children lists the ids of a task's children in order.
func (s *Scheduler) Children(id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tasks[id]
	if !ok {
		return nil
	}
	out := append([]string(nil), rec.children...)
	sort.Strings(out)
	return out
}

// Close cancels background tasks, waits for them and stops every lane.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	lanes := make([]*Lane, 0, len(s.byName))
	for _, inst := range s.byName {
		lanes = append(lanes, inst.lane)
	}
	s.mu.Unlock()
	for _, l := range lanes {
		l.Close()
	}
	return nil
}

func errClosed() error {
	return sorcerr.New(sorcerr.CodeAgentExecutionFailure, "scheduler is closed")
}

func (s *Scheduler) resultOf(rec *record) *AgentResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return rec.result.Clone()
}

// admit validates task and records it as Pending. An invalid task is
// recorded and immediately failed; only tasks that cannot be recorded at
// all return an error.
func (s *Scheduler) admit(task Task, parentID string) (*record, error) {
	t := task.clone()
	if parentID != "" {
		t.ParentID = parentID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errClosed()
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if _, dup := s.tasks[t.ID]; dup {
		return nil, sorcerr.New(sorcerr.CodeAgentTaskInvalid, "task id already exists", sorcerr.FieldTaskID(t.ID))
	}
	t.CreatedAt = s.nowFunc()
	if t.Constraints.MaxResults == 0 {
		t.Constraints.MaxResults = DefaultMaxResults
	}

	rec := &record{task: t, status: StatusPending, done: make(chan struct{})}
	s.tasks[t.ID] = rec

	invalid := s.validateLocked(t)
	if t.ParentID != "" {
		if parent, ok := s.tasks[t.ParentID]; ok {
			parent.children = append(parent.children, t.ID)
		}
	}
	if invalid != nil {
		s.finishLocked(rec, &AgentResult{
			Status:    StatusFailed,
			Error:     invalid.Error(),
			ErrorCode: string(sorcerr.CodeAgentTaskInvalid),
		}, 0)
	}
	return rec, nil
}

// caller holds s.mu
func (s *Scheduler) validateLocked(t Task) error {
	if t.ParentID != "" {
		parent, ok := s.tasks[t.ParentID]
		if !ok {
			return sorcerr.Errorf(sorcerr.CodeAgentTaskInvalid, "parent task %s does not exist", t.ParentID)
		}
		if parent.task.CreatedAt.After(t.CreatedAt) {
			return sorcerr.Errorf(sorcerr.CodeAgentTaskInvalid, "parent task %s was created after its child", t.ParentID)
		}
	}
	if t.Timeout < 0 {
		return sorcerr.Errorf(sorcerr.CodeAgentTaskInvalid, "timeout must not be negative, got %s", t.Timeout)
	}
	if t.AgentType != "" {
		if _, err := ParseType(string(t.AgentType)); err != nil {
			return err
		}
	}
	if t.Mode != "" {
		if _, err := index.ParseMode(string(t.Mode)); err != nil {
			return sorcerr.Errorf(sorcerr.CodeAgentTaskInvalid, "task mode: %v", err)
		}
	}
	if err := t.Constraints.Validate(); err != nil {
		return sorcerr.Errorf(sorcerr.CodeAgentTaskInvalid, "task constraints: %v", err)
	}
	return nil
}

// caller holds s.mu
func (s *Scheduler) transitionLocked(rec *record, to Status) {
	if !canTransition(rec.status, to) {
		panic(fmt.Sprintf("agent: illegal task transition %s -> %s for %s", rec.status, to, rec.task.ID))
	}
	rec.status = to
}

// caller holds s.mu
func (s *Scheduler) finishLocked(rec *record, res *AgentResult, elapsed time.Duration) {
	s.transitionLocked(rec, res.Status)
	res.TaskID = rec.task.ID
	res.Agent = rec.agent
	res.ExecutionTimeMs = elapsed.Milliseconds()
	if res.Status != StatusSuccess {
		res.Confidence = 0
	}
	rec.result = res
	close(rec.done)

	attrs := []any{"task_id", rec.task.ID, "agent", rec.agent, "status", string(res.Status), "duration_ms", res.ExecutionTimeMs}
	if res.Status == StatusSuccess {
		s.logger.Debug("task finished", attrs...)
	} else {
		s.logger.Warn("task finished", append(attrs, "error", res.Error)...)
	}
}

func (s *Scheduler) run(ctx context.Context, rec *record) {
	s.mu.Lock()
	if rec.status.Terminal() {
		s.mu.Unlock()
		return
	}
	inst, err := s.assignLocked(rec)
	if err != nil {
		res := &AgentResult{Status: StatusFailed, Error: err.Error(), ErrorCode: string(sorcerr.CodeOf(err))}
		if sorcerr.HasCode(err, sorcerr.CodeAgentTaskInvalid) {
			res.Output = map[string]any{"error": NoAgentMessage}
		}
		if rec.status == StatusPending && res.ErrorCode != string(sorcerr.CodeAgentTaskInvalid) {
			s.transitionLocked(rec, StatusRunning)
		}
		s.finishLocked(rec, res, 0)
		s.mu.Unlock()
		return
	}
	rec.agent = inst.agent.Name()
	inst.load++
	s.transitionLocked(rec, StatusRunning)
	task := rec.task.clone()
	s.mu.Unlock()

	timeout := s.timeoutFor(task, inst.agent.Type())
	limit := deadlineOf(ctx, timeout)
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger := s.logger.With("task_id", task.ID, "agent", inst.agent.Name())
	logger.Debug("task started", "parent_id", task.ParentID, "timeout", timeout)

	start := time.Now()
	sl := &slot{sem: s.sem}
	var (
		execErr error
		// 0 queued, 1 started, 2 abandoned before it started
		state atomic.Int32
	)
	out := make(chan *AgentResult, 1)
	if err := sl.acquire(tctx); err != nil {
		execErr = err
	} else {
		execErr = inst.lane.Submit(tctx, func(lctx context.Context) error {
			if !state.CompareAndSwap(0, 1) {
				return lctx.Err()
			}
			s.setCurrent(inst, task.ID)
			defer s.unassign(inst)

			x := &Execution{
				Task:   task,
				Memory: inst.agent.Memory(),
				Logger: logger,
				agent:  inst.agent.Name(),
				s:      s,
				slot:   sl,
			}
			r, err := inst.agent.Execute(withExecution(lctx, x), x)
			if n := x.Memory.Purge(); n > 0 {
				logger.Debug("memory purged", "expired", n)
			}
			if err != nil {
				return err
			}
			if r == nil {
				return sorcerr.New(sorcerr.CodeAgentExecutionFailure, "agent returned no result")
			}
			out <- r.Clone()
			return nil
		})
	}
	sl.release()
	if state.CompareAndSwap(0, 2) {
		s.unassign(inst)
	}
	elapsed := time.Since(start)

	// A nil error from Submit means the job ran to completion and sent.
	var res *AgentResult
	if execErr == nil {
		res = <-out
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	children := s.childSummariesLocked(rec)
	s.finishLocked(rec, s.outcome(tctx, res, execErr, limit, children), elapsed)
}

// deadlineOf describes the deadline a task running under ctx with its own
// timeout will actually get.
func deadlineOf(ctx context.Context, timeout time.Duration) string {
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < timeout {
			return "inherited " + rem.Round(time.Millisecond).String()
		}
	}
	return timeout.String()
}

func (s *Scheduler) outcome(tctx context.Context, res *AgentResult, execErr error, limit string, children []ChildSummary) *AgentResult {
	sorted, failed, weakest, hasRequired := foldChildren(children)

	switch {
	case errors.Is(tctx.Err(), context.DeadlineExceeded):
		return &AgentResult{
			Status:    StatusTimedOut,
			Error:     fmt.Sprintf("task exceeded its %s deadline", limit),
			ErrorCode: string(sorcerr.CodeAgentExecutionTimeout),
			Children:  sorted,
		}
	case tctx.Err() != nil:
		return &AgentResult{
			Status:    StatusFailed,
			Error:     "task cancelled: " + tctx.Err().Error(),
			ErrorCode: string(sorcerr.CodeAgentExecutionFailure),
			Children:  sorted,
		}
	case execErr != nil:
		code := sorcerr.CodeAgentExecutionFailure
		if sorcerr.IsInvalidTask(execErr) {
			code = sorcerr.CodeAgentTaskInvalid
		}
		return &AgentResult{Status: StatusFailed, Error: execErr.Error(), ErrorCode: string(code), Children: sorted}
	}

	out := res
	out.Children = sorted
	switch out.Status {
	case StatusSuccess:
	case StatusFailed:
		if out.Error == "" {
			out.Error = "agent reported failure"
		}
		if out.ErrorCode == "" {
			out.ErrorCode = string(sorcerr.CodeAgentExecutionFailure)
		}
		return out
	default:
		return &AgentResult{
			Status:    StatusFailed,
			Output:    out.Output,
			Error:     fmt.Sprintf("agent returned non-terminal status %q", out.Status),
			ErrorCode: string(sorcerr.CodeAgentExecutionFailure),
			Children:  sorted,
		}
	}

	if failed != nil {
		out.Status = StatusFailed
		out.Error = fmt.Sprintf("required child %s %s", failed.TaskID, failed.Status)
		if failed.Error != "" {
			out.Error += ": " + failed.Error
		}
		out.ErrorCode = string(sorcerr.CodeAgentExecutionFailure)
		return out
	}
	out.Confidence = float32(clamp01(float64(out.Confidence)))
	if hasRequired {
		out.Confidence = min(out.Confidence, weakest)
	}
	return out
}

func clamp01(v float64) float64 {
	switch {
	case v != v || v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// caller holds s.mu
func (s *Scheduler) childSummariesLocked(rec *record) []ChildSummary {
	out := make([]ChildSummary, 0, len(rec.children))
	for _, id := range rec.children {
		c, ok := s.tasks[id]
		if !ok {
			continue
		}
		if c.result == nil {
			out = append(out, ChildSummary{TaskID: id, Agent: c.agent, Status: c.status, Required: c.task.Required})
			continue
		}
		out = append(out, summarize(c.task, c.result))
	}
	return out
}

func (s *Scheduler) setCurrent(inst *instance, taskID string) {
	s.mu.Lock()
	inst.current = taskID
	s.mu.Unlock()
}

func (s *Scheduler) unassign(inst *instance) {
	s.mu.Lock()
	inst.current = ""
	inst.load--
	s.mu.Unlock()
}

func (s *Scheduler) timeoutFor(t Task, typ Type) time.Duration {
	if t.Timeout > 0 {
		return t.Timeout
	}
	if d := s.opts.TypeTimeouts[typ]; d > 0 {
		return d
	}
	return s.opts.DefaultTimeout
}

// assignLocked picks the instance for rec. An explicit agent name wins,
// then the task's agent type, then the routing table for its mode. An
// instance already running one of the task's ancestors is never chosen.
// Child tasks only go to idle instances: a pool with a factory grows past
// its limit for them and a fixed pool fails the child at once.
//
// caller holds s.mu
func (s *Scheduler) assignLocked(rec *record) (*instance, error) {
	t := rec.task
	ancestors := s.ancestorsLocked(t.ParentID)
	busyWithAncestor := func(inst *instance) bool {
		return inst.current != "" && ancestors[inst.current]
	}

	if t.AgentName != "" {
		inst, ok := s.byName[t.AgentName]
		if !ok {
			return nil, sorcerr.New(sorcerr.CodeAgentTaskInvalid, NoAgentMessage, sorcerr.FieldAgent(t.AgentName))
		}
		if busyWithAncestor(inst) {
			return nil, sorcerr.Errorf(sorcerr.CodeAgentExecutionFailure, "agent %s is running an ancestor of task %s", t.AgentName, t.ID)
		}
		return inst, nil
	}

	typ := t.AgentType
	if typ == "" {
		typ = s.routing[t.Mode]
	}
	p, ok := s.pools[typ]
	if typ == "" || !ok || (len(p.instances) == 0 && p.factory == nil) {
		return nil, sorcerr.New(sorcerr.CodeAgentTaskInvalid, NoAgentMessage, sorcerr.Field("agent_type", string(typ)))
	}

	var best *instance
	for _, inst := range p.instances {
		if busyWithAncestor(inst) {
			continue
		}
		if inst.load == 0 {
			return inst, nil
		}
		if best == nil || inst.load < best.load {
			best = inst
		}
	}
	child := t.ParentID != ""
	if p.factory != nil && (len(p.instances) < p.max || child) {
		return s.growLocked(typ, p)
	}
	if best == nil {
		return nil, sorcerr.Errorf(sorcerr.CodeAgentExecutionFailure, "every %s instance is running an ancestor of task %s", typ, t.ID)
	}
	if child {
		return nil, sorcerr.Errorf(sorcerr.CodeAgentExecutionFailure, "no idle %s instance for child task %s", typ, t.ID)
	}
	return best, nil
}

// caller holds s.mu
func (s *Scheduler) growLocked(typ Type, p *pool) (*instance, error) {
	name := ""
	for n := len(p.instances) + 1; ; n++ {
		name = fmt.Sprintf("%s-%d", typ, n)
		if _, taken := s.byName[name]; !taken {
			break
		}
	}
	a, err := p.factory(name, NewMemory(s.opts.MemoryTTL))
	if err != nil {
		return nil, sorcerr.Wrap(err, sorcerr.CodeAgentExecutionFailure, "creating agent instance", sorcerr.FieldAgent(name))
	}
	if a.Type() != typ || a.Name() != name {
		return nil, sorcerr.Errorf(sorcerr.CodeAgentExecutionFailure, "factory for %s returned %s agent %q", typ, a.Type(), a.Name())
	}
	s.logger.Info("agent instance created", "agent", name, "type", string(typ), "over_limit", len(p.instances) >= p.max)
	return s.registerLocked(a), nil
}

// caller holds s.mu
func (s *Scheduler) ancestorsLocked(parentID string) map[string]bool {
	out := make(map[string]bool)
	for id := parentID; id != ""; {
		if out[id] {
			break
		}
		out[id] = true
		rec, ok := s.tasks[id]
		if !ok {
			break
		}
		id = rec.task.ParentID
	}
	return out
}

func (s *Scheduler) childBudget(taskID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tasks[taskID]
	if !ok {
		return 0
	}
	return max(s.opts.MaxSubAgents-len(rec.children), 0)
}

func (s *Scheduler) spawn(ctx context.Context, x *Execution, children []Task) ([]*AgentResult, error) {
	if len(children) == 0 {
		return nil, nil
	}
	parentID := x.Task.ID

	s.mu.Lock()
	parent, ok := s.tasks[parentID]
	if !ok {
		s.mu.Unlock()
		return nil, sorcerr.New(sorcerr.CodeAgentTaskNotFound, "parent task not found", sorcerr.FieldTaskID(parentID))
	}
	if n := len(parent.children) + len(children); n > s.opts.MaxSubAgents {
		s.mu.Unlock()
		return nil, sorcerr.Errorf(sorcerr.CodeAgentTaskInvalid,
			"task %s would have %d children; max_sub_agents is %d", parentID, n, s.opts.MaxSubAgents)
	}
	for _, c := range children {
		if c.ID != "" {
			if _, dup := s.tasks[c.ID]; dup {
				s.mu.Unlock()
				return nil, sorcerr.New(sorcerr.CodeAgentTaskInvalid, "task id already exists", sorcerr.FieldTaskID(c.ID))
			}
		}
	}
	s.mu.Unlock()

	recs := make([]*record, len(children))
	for i, c := range children {
		rec, err := s.admit(c, parentID)
		if err != nil {
			return nil, err
		}
		recs[i] = rec
	}

	x.slot.suspend()
	var g errgroup.Group
	for _, rec := range recs {
		g.Go(func() error {
			s.run(ctx, rec)
			return nil
		})
	}
	_ = g.Wait()
	resumeErr := x.slot.resume(ctx)

	results := make([]*AgentResult, len(recs))
	for i, rec := range recs {
		results[i] = s.resultOf(rec)
	}
	return results, resumeErr
}

// slot is a task's hold on one of the scheduler's worker slots. A parent
// gives its slot up while it waits on children. Once released for good the
// slot is never taken again, even if a timed-out agent keeps spawning.
type slot struct {
	sem     *semaphore.Weighted
	mu      sync.Mutex
	held    bool
	done    bool
	waiters int
}

func (s *slot) acquire(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.held || s.done {
		return nil
	}
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	s.held = true
	return nil
}

func (s *slot) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = true
	if s.held {
		s.sem.Release(1)
		s.held = false
	}
}

func (s *slot) suspend() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waiters++
	if s.waiters == 1 && s.held {
		s.sem.Release(1)
		s.held = false
	}
}

func (s *slot) resume(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waiters--
	if s.waiters > 0 || s.held || s.done {
		return nil
	}
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	s.held = true
	return nil
}
