// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

package agent

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sorcerer-dev/sorcerer/internal/index"
	"github.com/sorcerer-dev/sorcerer/internal/query"
	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
)

// Type names an agent role. Tasks are routed by type.
type Type string

const (
	TypeScout    Type = "scout"
	TypeAnalyst  Type = "analyst"
	TypeVerifier Type = "verifier"
	TypeExecutor Type = "executor"
	TypeMemory   Type = "memory"
)

// Types returns every agent type in a stable order.
func Types() []Type {
	return []Type{TypeScout, TypeAnalyst, TypeVerifier, TypeExecutor, TypeMemory}
}

// ParseType validates s as an agent type.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Types() {
		if t == known {
			return t, nil
		}
	}
	return "", sorcerr.Errorf(sorcerr.CodeAgentTaskInvalid, "unknown agent type %q", s)
}

// DefaultRouting maps a query mode to the agent type that serves it when a
// task names neither an agent nor a type.
func DefaultRouting() map[index.Mode]Type {
	return map[index.Mode]Type{
		index.ModeKeyword:    TypeScout,
		index.ModeSemantic:   TypeScout,
		index.ModeFileSystem: TypeScout,
		index.ModeTimeBased:  TypeScout,
		index.ModeGraph:      TypeAnalyst,
		index.ModeAPI:        TypeExecutor,
	}
}

// Status is a task's position in its lifecycle.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusSuccess  Status = "success"
	StatusFailed   Status = "failed"
	StatusTimedOut Status = "timed_out"
)

// Terminal reports whether s is final.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusTimedOut
}

// canTransition encodes Pending → Running → {Success, Failed, TimedOut}.
// Pending → Failed covers tasks rejected before any agent was assigned.
func canTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusRunning || to == StatusFailed
	case StatusRunning:
		return to.Terminal()
	}
	return false
}

// DefaultMaxResults applies when a task leaves constraints.max_results unset.
const DefaultMaxResults = 10

// Task is one unit of work. Its ID is immutable once submitted.
type Task struct {
	ID          string            `json:"id"`
	ParentID    string            `json:"parent_id,omitempty"`
	Query       string            `json:"query"`
	Mode        index.Mode        `json:"mode,omitempty"`
	Constraints query.Constraints `json:"constraints"`
	Actions     []query.Action    `json:"actions,omitempty"`
	AgentType   Type              `json:"agent_type,omitempty"`
	AgentName   string            `json:"agent_name,omitempty"`
	Required    bool              `json:"required,omitempty"`
	Timeout     time.Duration     `json:"timeout,omitempty"`
	Params      map[string]any    `json:"params,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// SearchQuery builds the planner query the task describes.
func (t Task) SearchQuery() query.SearchQuery {
	return query.SearchQuery{
		Mode:        t.Mode,
		Text:        t.Query,
		Constraints: t.Constraints,
		Actions:     t.Actions,
	}
}

// Param returns a string parameter, or "" when absent.
func (t Task) Param(key string) string {
	switch v := t.Params[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Strings returns a list parameter. JSON-decoded lists arrive as []any.
func (t Task) Strings(key string) []string {
	switch v := t.Params[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	}
	return nil
}

func (t Task) clone() Task {
	c := t
	c.Actions = append([]query.Action(nil), t.Actions...)
	if t.Constraints.UpdatedAfter != nil {
		after := *t.Constraints.UpdatedAfter
		c.Constraints.UpdatedAfter = &after
	}
	if t.Params != nil {
		c.Params = make(map[string]any, len(t.Params))
		for k, v := range t.Params {
			c.Params[k] = v
		}
	}
	return c
}

// ChildSummary is a parent's record of one child outcome.
type ChildSummary struct {
	TaskID     string  `json:"task_id"`
	Agent      string  `json:"agent,omitempty"`
	Status     Status  `json:"status"`
	Required   bool    `json:"required"`
	Confidence float32 `json:"confidence"`
	Error      string  `json:"error,omitempty"`
}

// AgentResult is the outcome of one task. It is immutable once the task is
// terminal; accessors hand out copies.
type AgentResult struct {
	TaskID          string         `json:"task_id"`
	Agent           string         `json:"agent,omitempty"`
	Status          Status         `json:"status"`
	Output          map[string]any `json:"output,omitempty"`
	Confidence      float32        `json:"confidence"`
	ExecutionTimeMs int64          `json:"execution_time_ms"`
	Error           string         `json:"error,omitempty"`
	ErrorCode       string         `json:"error_code,omitempty"`
	Children        []ChildSummary `json:"children,omitempty"`
}

// Succeed builds a successful result for an agent to return.
func Succeed(output map[string]any, confidence float32) *AgentResult {
	return &AgentResult{Status: StatusSuccess, Output: output, Confidence: confidence}
}

// Err returns the coded error behind a non-successful result, or nil.
func (r *AgentResult) Err() error {
	if r == nil || r.Status == StatusSuccess {
		return nil
	}
	code := sorcerr.Code(r.ErrorCode)
	if code == "" {
		code = sorcerr.CodeAgentExecutionFailure
		if r.Status == StatusTimedOut {
			code = sorcerr.CodeAgentExecutionTimeout
		}
	}
	return sorcerr.New(code, r.Error, sorcerr.FieldTaskID(r.TaskID), sorcerr.FieldAgent(r.Agent))
}

// Clone returns a deep copy of r's slices and top-level output map.
func (r *AgentResult) Clone() *AgentResult {
	if r == nil {
		return nil
	}
	c := *r
	if r.Output != nil {
		c.Output = make(map[string]any, len(r.Output))
		for k, v := range r.Output {
			c.Output[k] = v
		}
	}
	c.Children = append([]ChildSummary(nil), r.Children...)
	return &c
}

func summarize(t Task, r *AgentResult) ChildSummary {
	return ChildSummary{
		TaskID:     t.ID,
		Agent:      r.Agent,
		Status:     r.Status,
		Required:   t.Required,
		Confidence: r.Confidence,
		Error:      r.Error,
	}
}

// foldChildren aggregates child outcomes. The fold is keyed by child id so
// the completion order of siblings cannot change the outcome. It returns
// the sorted summaries, the first failing required child (if any) and the
// weakest required-child confidence.
func foldChildren(children []ChildSummary) (sorted []ChildSummary, failed *ChildSummary, weakest float32, hasRequired bool) {
	sorted = append([]ChildSummary(nil), children...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].TaskID < sorted[j].TaskID })

	weakest = 1
	for i := range sorted {
		c := &sorted[i]
		if !c.Required {
			continue
		}
		hasRequired = true
		if c.Status != StatusSuccess {
			if failed == nil {
				failed = c
			}
			continue
		}
		weakest = min(weakest, c.Confidence)
	}
	return sorted, failed, weakest, hasRequired
}
