// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/sorcerer-dev/sorcerer/internal/agent"
	"github.com/sorcerer-dev/sorcerer/internal/index"
	"github.com/sorcerer-dev/sorcerer/internal/ingest"
	"github.com/sorcerer-dev/sorcerer/internal/query"
	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
	"github.com/sorcerer-dev/sorcerer/pkg/health"
)

const (
	statusOK       = "ok"
	statusDegraded = "degraded"
)

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Tags:        []string{"system"},
	}, s.handleHealth)

	huma.Register(s.api, huma.Operation{
		OperationID: "run-query",
		Method:      http.MethodPost,
		Path:        "/api/v1/query",
		Summary:     "Run a search query",
		Tags:        []string{"query"},
	}, s.handleQuery)

	huma.Register(s.api, huma.Operation{
		OperationID: "submit-task",
		Method:      http.MethodPost,
		Path:        "/api/v1/tasks",
		Summary:     "Submit an agent task",
		Tags:        []string{"tasks"},
	}, s.handleSubmitTask)

	huma.Register(s.api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/api/v1/tasks/{id}",
		Summary:     "Get a task and its result",
		Tags:        []string{"tasks"},
	}, s.handleGetTask)

	huma.Register(s.api, huma.Operation{
		OperationID: "retry-task",
		Method:      http.MethodPost,
		Path:        "/api/v1/tasks/{id}/retry",
		Summary:     "Retry a failed or timed out task",
		Tags:        []string{"tasks"},
	}, s.handleRetryTask)

	huma.Register(s.api, huma.Operation{
		OperationID:   "add-document",
		Method:        http.MethodPost,
		Path:          "/api/v1/documents",
		Summary:       "Index a document",
		Tags:          []string{"documents"},
		DefaultStatus: http.StatusCreated,
	}, s.handleAddDocument)

	huma.Register(s.api, huma.Operation{
		OperationID: "crawl-documents",
		Method:      http.MethodPost,
		Path:        "/api/v1/documents/crawl",
		Summary:     "Fetch pages and index them",
		Tags:        []string{"documents"},
	}, s.handleCrawl)

	huma.Register(s.api, huma.Operation{
		OperationID: "get-document",
		Method:      http.MethodGet,
		Path:        "/api/v1/documents/{backend}/{id}",
		Summary:     "Get a document",
		Tags:        []string{"documents"},
	}, s.handleGetDocument)

	huma.Register(s.api, huma.Operation{
		OperationID: "delete-document",
		Method:      http.MethodDelete,
		Path:        "/api/v1/documents/{backend}/{id}",
		Summary:     "Delete a document",
		Tags:        []string{"documents"},
	}, s.handleDeleteDocument)

	huma.Register(s.api, huma.Operation{
		OperationID: "rescore-document",
		Method:      http.MethodPost,
		Path:        "/api/v1/documents/{backend}/{id}/trust",
		Summary:     "Set a document's trust score",
		Tags:        []string{"documents"},
	}, s.handleRescore)

	huma.Register(s.api, huma.Operation{
		OperationID: "list-agents",
		Method:      http.MethodGet,
		Path:        "/api/v1/agents",
		Summary:     "List agent instances",
		Tags:        []string{"agents"},
	}, s.handleListAgents)

	huma.Register(s.api, huma.Operation{
		OperationID: "get-agent-memory",
		Method:      http.MethodGet,
		Path:        "/api/v1/agents/{name}/memory",
		Summary:     "Snapshot an agent's memory",
		Tags:        []string{"agents"},
	}, s.handleAgentMemory)
}

// apiError maps a coded error to an HTTP problem response.
func apiError(err error) error {
	status := sorcerr.HTTPStatus(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable &&
		status != http.StatusBadGateway && status != http.StatusGatewayTimeout {
		return huma.Error500InternalServerError("internal error", err)
	}
	return huma.NewError(status, err.Error())
}

// --- Request/Response types for huma ---

type healthOutput struct {
	Body struct {
		Status    string           `json:"status" example:"ok" doc:"ok, or degraded when a dependency is cooling down"`
		Version   string           `json:"version"`
		Backends  []health.Metrics `json:"backends"`
		Providers []health.Metrics `json:"providers,omitempty"`
	}
}

type constraintsBody struct {
	MinTrust     float32    `json:"min_trust_score,omitempty" minimum:"0" maximum:"1"`
	MaxResults   int        `json:"max_results,omitempty" minimum:"0" doc:"Defaults to 10"`
	UpdatedAfter *time.Time `json:"updated_after,omitempty"`
}

func (c constraintsBody) constraints() query.Constraints {
	out := query.Constraints{MinTrust: c.MinTrust, MaxResults: c.MaxResults, UpdatedAfter: c.UpdatedAfter}
	if out.MaxResults == 0 {
		out.MaxResults = agent.DefaultMaxResults
	}
	return out
}

func parseActions(names []string) ([]query.Action, error) {
	out := make([]query.Action, 0, len(names))
	for _, n := range names {
		a, err := query.ParseAction(n)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

type queryInput struct {
	Body struct {
		Mode        string          `json:"mode,omitempty" enum:"keyword,semantic,graph,time_based,filesystem,api" doc:"Defaults to keyword"`
		Text        string          `json:"text" doc:"Query text"`
		Constraints constraintsBody `json:"constraints,omitempty"`
		Actions     []string        `json:"actions,omitempty" doc:"Post-actions applied in order: verify, compare, summarize, execute"`
	}
}

type queryOutput struct {
	Body *query.QueryResult
}

type taskInput struct {
	Wait bool `query:"wait" default:"true" doc:"Block until the task is terminal"`
	Body struct {
		Query       string          `json:"query" doc:"Query text"`
		Mode        string          `json:"mode,omitempty" enum:"keyword,semantic,graph,time_based,filesystem,api"`
		Constraints constraintsBody `json:"constraints,omitempty"`
		Actions     []string        `json:"actions,omitempty"`
		AgentType   string          `json:"agent_type,omitempty" enum:"scout,analyst,verifier,executor,memory"`
		AgentName   string          `json:"agent_name,omitempty"`
		TimeoutMs   int64           `json:"timeout_ms,omitempty" minimum:"0"`
		Params      map[string]any  `json:"params,omitempty"`
	}
}

type taskOutput struct {
	Status int
	Body   struct {
		TaskID string             `json:"task_id"`
		Status agent.Status       `json:"status"`
		Result *agent.AgentResult `json:"result,omitempty"`
	}
}

type taskIDInput struct {
	ID string `path:"id"`
}

type getTaskOutput struct {
	Body struct {
		Task     agent.Task         `json:"task"`
		Status   agent.Status       `json:"status"`
		Result   *agent.AgentResult `json:"result,omitempty"`
		Children []string           `json:"children"`
	}
}

type addDocumentInput struct {
	Body struct {
		Backend    string         `json:"backend" minLength:"1" doc:"Target backend name"`
		ID         string         `json:"id,omitempty" doc:"Assigned when empty"`
		Content    string         `json:"content" minLength:"1"`
		Source     string         `json:"source" minLength:"1"`
		Title      string         `json:"title,omitempty"`
		TrustScore *float32       `json:"trust_score,omitempty" minimum:"0" maximum:"1" doc:"Defaults to 0.5"`
		Tags       []string       `json:"tags,omitempty"`
		Entities   []index.Entity `json:"entities,omitempty"`
	}
}

type documentRef struct {
	ID      string `json:"id"`
	Backend string `json:"backend"`
}

type addDocumentOutput struct {
	Body documentRef
}

type crawlInput struct {
	Body struct {
		Backend string   `json:"backend" minLength:"1"`
		URLs    []string `json:"urls" minItems:"1"`
	}
}

type crawlOutput struct {
	Body ingest.Report
}

type documentPath struct {
	Backend string `path:"backend"`
	ID      string `path:"id"`
}

type getDocumentOutput struct {
	Body struct {
		Backend  string          `json:"backend"`
		Document *index.Document `json:"document"`
	}
}

type deleteDocumentOutput struct {
	Body struct {
		Deleted bool `json:"deleted"`
	}
}

type rescoreInput struct {
	Backend string `path:"backend"`
	ID      string `path:"id"`
	Body    struct {
		TrustScore float32 `json:"trust_score" minimum:"0" maximum:"1"`
	}
}

type listAgentsOutput struct {
	Body struct {
		Agents []agent.AgentInfo `json:"agents"`
	}
}

type agentNameInput struct {
	Name string `path:"name"`
}

type agentMemoryOutput struct {
	Body struct {
		Agent  string         `json:"agent"`
		Memory map[string]any `json:"memory"`
	}
}

// --- Handlers ---

func (s *Server) handleHealth(_ context.Context, _ *struct{}) (*healthOutput, error) {
	out := &healthOutput{}
	out.Body.Status = statusOK
	out.Body.Version = s.cfg.Version

	searched := make(map[string]health.Metrics)
	for _, m := range s.services.search.BackendHealth() {
		searched[m.Name] = m
	}
	out.Body.Backends = []health.Metrics{}
	for _, b := range s.services.backends.All() {
		m, ok := searched[b.Name]
		if !ok {
			m = health.Metrics{Name: b.Name, Available: true}
		}
		if !m.Available {
			out.Body.Status = statusDegraded
		}
		out.Body.Backends = append(out.Body.Backends, m)
	}
	if s.services.providers != nil {
		out.Body.Providers = s.services.providers.Health()
	}
	return out, nil
}

func (s *Server) handleQuery(ctx context.Context, input *queryInput) (*queryOutput, error) {
	mode := index.ModeKeyword
	if input.Body.Mode != "" {
		mode = index.Mode(input.Body.Mode)
	}
	actions, err := parseActions(input.Body.Actions)
	if err != nil {
		return nil, apiError(err)
	}
	res, err := s.services.search.Execute(ctx, query.SearchQuery{
		Mode:        mode,
		Text:        input.Body.Text,
		Constraints: input.Body.Constraints.constraints(),
		Actions:     actions,
	})
	if err != nil {
		return nil, apiError(err)
	}
	return &queryOutput{Body: res}, nil
}

func (s *Server) handleSubmitTask(ctx context.Context, input *taskInput) (*taskOutput, error) {
	task, err := taskFromInput(input)
	if err != nil {
		return nil, apiError(err)
	}

	out := &taskOutput{}
	if !input.Wait {
		id, err := s.services.tasks.Start(task)
		if err != nil {
			return nil, apiError(err)
		}
		out.Status = http.StatusAccepted
		out.Body.TaskID = id
		out.Body.Status, _ = s.services.tasks.Status(id)
		return out, nil
	}

	res, err := s.services.tasks.Submit(ctx, task)
	if err != nil {
		return nil, apiError(err)
	}
	out.Status = http.StatusOK
	out.Body.TaskID = res.TaskID
	out.Body.Status = res.Status
	out.Body.Result = res
	return out, nil
}

func taskFromInput(input *taskInput) (agent.Task, error) {
	b := input.Body
	actions, err := parseActions(b.Actions)
	if err != nil {
		return agent.Task{}, sorcerr.Errorf(sorcerr.CodeAgentTaskInvalid, "%v", err)
	}
	task := agent.Task{
		Query:       b.Query,
		Mode:        index.Mode(b.Mode),
		Constraints: b.Constraints.constraints(),
		Actions:     actions,
		AgentName:   b.AgentName,
		Timeout:     time.Duration(b.TimeoutMs) * time.Millisecond,
		Params:      b.Params,
	}
	if task.Mode == "" && b.AgentType == "" && b.AgentName == "" {
		task.Mode = index.ModeKeyword
	}
	if b.AgentType != "" {
		typ, err := agent.ParseType(b.AgentType)
		if err != nil {
			return agent.Task{}, err
		}
		task.AgentType = typ
	}
	return task, nil
}

func (s *Server) handleGetTask(_ context.Context, input *taskIDInput) (*getTaskOutput, error) {
	task, ok := s.services.tasks.Task(input.ID)
	if !ok {
		return nil, huma.Error404NotFound("task " + input.ID + " not found")
	}
	out := &getTaskOutput{}
	out.Body.Task = task
	out.Body.Status, _ = s.services.tasks.Status(input.ID)
	if res, ok := s.services.tasks.Result(input.ID); ok {
		out.Body.Result = res
	}
	out.Body.Children = s.services.tasks.Children(input.ID)
	if out.Body.Children == nil {
		out.Body.Children = []string{}
	}
	return out, nil
}

func (s *Server) handleRetryTask(ctx context.Context, input *taskIDInput) (*taskOutput, error) {
	res, err := s.services.tasks.Retry(ctx, input.ID)
	if err != nil {
		return nil, apiError(err)
	}
	out := &taskOutput{Status: http.StatusOK}
	out.Body.TaskID = res.TaskID
	out.Body.Status = res.Status
	out.Body.Result = res
	return out, nil
}

func (s *Server) backend(name string) (index.Backend, error) {
	b, ok := s.services.backends.Lookup(name)
	if !ok {
		return index.Backend{}, huma.Error404NotFound("backend " + name + " not found")
	}
	return b, nil
}

func (s *Server) handleAddDocument(ctx context.Context, input *addDocumentInput) (*addDocumentOutput, error) {
	b, err := s.backend(input.Body.Backend)
	if err != nil {
		return nil, err
	}

	doc := index.NewDocument(input.Body.Content, input.Body.Source)
	if input.Body.ID != "" {
		doc.ID = input.Body.ID
	}
	doc.Metadata.Title = input.Body.Title
	doc.Metadata.Tags = input.Body.Tags
	doc.Entities = input.Body.Entities
	if input.Body.TrustScore != nil {
		doc.Metadata.TrustScore = *input.Body.TrustScore
	}
	if s.services.screener != nil {
		if doc, err = s.services.screener.Screen(doc); err != nil {
			return nil, apiError(err)
		}
	}

	id, err := b.Store.Insert(ctx, doc)
	if err != nil {
		return nil, apiError(err)
	}
	s.logger.Info("document indexed", "backend", b.Name, "document_id", id)
	return &addDocumentOutput{Body: documentRef{ID: id, Backend: b.Name}}, nil
}

func (s *Server) handleCrawl(ctx context.Context, input *crawlInput) (*crawlOutput, error) {
	if s.services.crawler == nil {
		return nil, huma.Error503ServiceUnavailable("crawler not configured")
	}
	if _, err := s.backend(input.Body.Backend); err != nil {
		return nil, err
	}
	report, err := s.services.crawler.Crawl(ctx, input.Body.Backend, input.Body.URLs)
	if err != nil && len(report.Failures) == 0 {
		return nil, apiError(err)
	}
	// Per-url failures are part of the report.
	return &crawlOutput{Body: report}, nil
}

func (s *Server) handleGetDocument(ctx context.Context, input *documentPath) (*getDocumentOutput, error) {
	b, err := s.backend(input.Backend)
	if err != nil {
		return nil, err
	}
	doc, ok, err := b.Store.Get(ctx, input.ID)
	if err != nil {
		return nil, apiError(err)
	}
	if !ok {
		return nil, huma.Error404NotFound("document " + input.ID + " not found in " + b.Name)
	}
	out := &getDocumentOutput{}
	out.Body.Backend = b.Name
	out.Body.Document = doc
	return out, nil
}

func (s *Server) handleDeleteDocument(ctx context.Context, input *documentPath) (*deleteDocumentOutput, error) {
	b, err := s.backend(input.Backend)
	if err != nil {
		return nil, err
	}
	deleted, err := b.Store.Delete(ctx, input.ID)
	if err != nil {
		return nil, apiError(err)
	}
	if !deleted {
		return nil, huma.Error404NotFound("document " + input.ID + " not found in " + b.Name)
	}
	s.logger.Info("document deleted", "backend", b.Name, "document_id", input.ID)
	out := &deleteDocumentOutput{}
	out.Body.Deleted = true
	return out, nil
}

func (s *Server) handleRescore(ctx context.Context, input *rescoreInput) (*addDocumentOutput, error) {
	b, err := s.backend(input.Backend)
	if err != nil {
		return nil, err
	}
	r, ok := b.Store.(index.Rescorer)
	if !ok {
		return nil, huma.Error400BadRequest("backend " + b.Name + " does not own trust scores")
	}
	found, err := r.Rescore(ctx, input.ID, input.Body.TrustScore)
	if err != nil {
		return nil, apiError(err)
	}
	if !found {
		return nil, huma.Error404NotFound("document " + input.ID + " not found in " + b.Name)
	}
	return &addDocumentOutput{Body: documentRef{ID: input.ID, Backend: b.Name}}, nil
}

func (s *Server) handleListAgents(_ context.Context, _ *struct{}) (*listAgentsOutput, error) {
	out := &listAgentsOutput{}
	out.Body.Agents = s.services.tasks.Agents()
	return out, nil
}

func (s *Server) handleAgentMemory(_ context.Context, input *agentNameInput) (*agentMemoryOutput, error) {
	mem, ok := s.services.tasks.Memory(input.Name)
	if !ok {
		return nil, huma.Error404NotFound("agent " + input.Name + " not found")
	}
	out := &agentMemoryOutput{}
	out.Body.Agent = input.Name
	out.Body.Memory = mem
	if out.Body.Memory == nil {
		out.Body.Memory = map[string]any{}
	}
	return out, nil
}
