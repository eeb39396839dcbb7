// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

package server

import (
	"context"

	"github.com/sorcerer-dev/sorcerer/internal/agent"
	"github.com/sorcerer-dev/sorcerer/internal/index"
	"github.com/sorcerer-dev/sorcerer/internal/ingest"
	"github.com/sorcerer-dev/sorcerer/internal/query"
	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
	"github.com/sorcerer-dev/sorcerer/pkg/health"
)

// Searcher runs planned queries. *query.Planner implements it.
type Searcher interface {
	Execute(ctx context.Context, q query.SearchQuery) (*query.QueryResult, error)
	BackendHealth() []health.Metrics
}

// TaskService runs and inspects agent tasks. *agent.Scheduler implements
// it.
type TaskService interface {
	Submit(ctx context.Context, task agent.Task) (*agent.AgentResult, error)
	Start(task agent.Task) (string, error)
	Retry(ctx context.Context, id string) (*agent.AgentResult, error)
	Task(id string) (agent.Task, bool)
	Status(id string) (agent.Status, bool)
	Result(id string) (*agent.AgentResult, bool)
	Children(id string) []string
	Agents() []agent.AgentInfo
	Memory(agentName string) (map[string]any, bool)
}

// BackendLookup resolves backends by name. *index.Registry implements it.
type BackendLookup interface {
	Lookup(name string) (index.Backend, bool)
	All() []index.Backend
}

// Crawler fetches pages into a backend. *ingest.Pipeline implements it.
type Crawler interface {
	Crawl(ctx context.Context, backend string, urls []string) (ingest.Report, error)
}

// Screener vets a document before it is stored. *ingest.Pipeline
// implements it.
type Screener interface {
	Screen(doc *index.Document) (*index.Document, error)
}

// ProviderHealth reports model provider availability.
type ProviderHealth interface {
	Health() []health.Metrics
}

// Services holds the dependencies injected into route handlers.
// Use NewServices to ensure the required ones are present.
type Services struct {
	search    Searcher
	tasks     TaskService
	backends  BackendLookup
	crawler   Crawler        // optional; nil = crawl endpoint unavailable
	providers ProviderHealth // optional; nil = no provider section in /health
	screener  Screener       // optional; nil = documents stored as posted
}

// ServiceOption attaches an optional service.
type ServiceOption func(*Services)

func WithCrawler(c Crawler) ServiceOption {
	return func(s *Services) { s.crawler = c }
}

func WithProviderHealth(p ProviderHealth) ServiceOption {
	return func(s *Services) { s.providers = p }
}

func WithScreener(sc Screener) ServiceOption {
	return func(s *Services) { s.screener = sc }
}

// NewServices validates and bundles the route dependencies.
func NewServices(search Searcher, tasks TaskService, backends BackendLookup, opts ...ServiceOption) (*Services, error) {
	if search == nil {
		return nil, sorcerr.New(sorcerr.CodeServerConfigInvalid, "search service is required")
	}
	if tasks == nil {
		return nil, sorcerr.New(sorcerr.CodeServerConfigInvalid, "task service is required")
	}
	if backends == nil {
		return nil, sorcerr.New(sorcerr.CodeServerConfigInvalid, "backend lookup is required")
	}
	s := &Services{search: search, tasks: tasks, backends: backends}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}
