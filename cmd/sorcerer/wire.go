// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sorcerer-dev/sorcerer/internal/agent"
	"github.com/sorcerer-dev/sorcerer/internal/agents"
	"github.com/sorcerer-dev/sorcerer/internal/config"
	"github.com/sorcerer-dev/sorcerer/internal/crawler"
	"github.com/sorcerer-dev/sorcerer/internal/index"
	_ "github.com/sorcerer-dev/sorcerer/internal/index/fs"      // register fs backend
	_ "github.com/sorcerer-dev/sorcerer/internal/index/httpapi" // register http backend
	_ "github.com/sorcerer-dev/sorcerer/internal/index/memory"  // register memory backend
	_ "github.com/sorcerer-dev/sorcerer/internal/index/qdrant"  // register qdrant backend
	_ "github.com/sorcerer-dev/sorcerer/internal/index/sqlite"  // register sqlite backend
	"github.com/sorcerer-dev/sorcerer/internal/ingest"
	"github.com/sorcerer-dev/sorcerer/internal/provider"
	anthropicprov "github.com/sorcerer-dev/sorcerer/internal/provider/anthropic"
	googleprov "github.com/sorcerer-dev/sorcerer/internal/provider/google"
	localprov "github.com/sorcerer-dev/sorcerer/internal/provider/local"
	ollamaprov "github.com/sorcerer-dev/sorcerer/internal/provider/ollama"
	openaiprov "github.com/sorcerer-dev/sorcerer/internal/provider/openai"
	"github.com/sorcerer-dev/sorcerer/internal/query"
	"github.com/sorcerer-dev/sorcerer/internal/scan"
	"github.com/sorcerer-dev/sorcerer/internal/scoring"
	"github.com/sorcerer-dev/sorcerer/internal/server"
	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
)

// Engine holds all wired subsystems and manages their lifecycle.
type Engine struct {
	Config    *config.Config
	Logger    *slog.Logger
	Backends  *index.Registry
	Providers *provider.Registry
	Planner   *query.Planner
	Scheduler *agent.Scheduler
	Runner    *agents.Runner
	Crawler   *crawler.Crawler
	Pipeline  *ingest.Pipeline
	Scanner   *scan.Scanner
}

// providerFactory builds a completion provider from its config section.
type providerFactory func(pc config.ProviderConfig) (provider.Provider, error)

// builtinProviderFactories maps config provider names to constructors.
// Local is always registered separately.
var builtinProviderFactories = map[string]providerFactory{
	provider.NameAnthropic: func(pc config.ProviderConfig) (provider.Provider, error) {
		return anthropicprov.New(anthropicprov.Config{APIKey: pc.APIKey, BaseURL: pc.BaseURL, Model: pc.Model})
	},
	provider.NameOpenAI: func(pc config.ProviderConfig) (provider.Provider, error) {
		return openaiprov.New(openaiprov.Config{APIKey: pc.APIKey, BaseURL: pc.BaseURL, Model: pc.Model})
	},
	provider.NameGoogle: func(pc config.ProviderConfig) (provider.Provider, error) {
		return googleprov.New(googleprov.Config{APIKey: pc.APIKey, BaseURL: pc.BaseURL, Model: pc.Model})
	},
	provider.NameOllama: func(pc config.ProviderConfig) (provider.Provider, error) {
		return ollamaprov.New(ollamaprov.Config{BaseURL: pc.BaseURL, Model: pc.Model})
	},
}

// WireEngine creates all subsystems and wires them together. cfg must
// already be validated and have its secrets resolved.
func WireEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *Engine, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, sorcerr.Errorf(sorcerr.CodeCLISetupFailure, "creating data directory: %w", err)
	}

	e := &Engine{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = e.Close(context.Background())
		}
	}()

	// 1. Embedder shared by every semantic backend.
	embedder, err := newEmbedder(cfg)
	if err != nil {
		return nil, err
	}

	// 2. Backends.
	e.Backends = index.NewRegistry()
	if err := openBackends(ctx, cfg, embedder, logger, e.Backends); err != nil {
		return nil, err
	}

	// 3. Completion providers and the summarizer failover chain.
	e.Providers = provider.NewRegistry(provider.WithLogger(logger))
	if err := registerBuiltinProviders(cfg, e.Providers, logger); err != nil {
		return nil, err
	}

	// 4. Planner.
	scorer, err := scoring.New(scoring.Weights{
		Method:     scoring.Method(cfg.Indexing.Scoring.Method),
		Confidence: cfg.Indexing.Scoring.ConfidenceWeight,
		Trust:      cfg.Indexing.Scoring.TrustWeight,
	})
	if err != nil {
		return nil, err
	}
	e.Planner = query.NewPlanner(e.Backends, scorer, query.WithLogger(logger))

	// 5. Content scanner shared by ingestion and the summarizer.
	e.Scanner, err = newScanner(cfg.Indexing.Scan)
	if err != nil {
		return nil, err
	}

	// 6. Scheduler and the built-in agents.
	schedOpts, err := schedulerOptions(cfg, logger)
	if err != nil {
		return nil, err
	}
	var sumOpts []agents.SummarizerOption
	if cfg.Summarizer.GuardPrompts {
		sumOpts = append(sumOpts, agents.WithPromptGuard(e.Scanner))
	}
	e.Scheduler = agent.NewScheduler(schedOpts)
	e.Runner, err = agents.Install(e.Scheduler, agents.Deps{
		Planner:    e.Planner,
		Summarizer: agents.NewSummarizer(e.Providers, cfg.Summarizer.MaxSentences, logger, sumOpts...),
		Logger:     logger,
	}, cfg.Agents.InstancesPerType, agent.NewMemory(cfg.MemoryTTL()))
	if err != nil {
		return nil, err
	}

	// 7. Crawler and ingestion.
	e.Crawler = crawler.New(crawler.Options{
		UserAgent:     cfg.Crawler.UserAgent,
		Timeout:       cfg.CrawlerTimeout(),
		MaxConcurrent: cfg.Crawler.MaxConcurrentCrawls,
		DefaultTrust:  float32(cfg.Crawler.DefaultTrust),
		Logger:        logger,
	})
	mode, err := scan.ParseMode(cfg.Indexing.Scan.Mode)
	if err != nil {
		return nil, err
	}
	e.Pipeline = ingest.NewPipeline(e.Backends, e.Crawler, ingest.Options{
		BatchSize: cfg.Indexing.BatchSize,
		Interval:  cfg.AutoCommitInterval(),
		Logger:    logger,
	}, ingest.WithScanner(e.Scanner, mode))

	return e, nil
}

// newScanner builds the content scanner from the built-in rules plus any
// rules file.
func newScanner(sc config.ScanConfig) (*scan.Scanner, error) {
	rules := scan.DefaultRules()
	if sc.RulesFile != "" {
		extra, err := scan.LoadRules(sc.RulesFile)
		if err != nil {
			return nil, err
		}
		rules = append(rules, extra...)
	}
	return scan.New(rules)
}

// NewServer builds the HTTP and gRPC server over the engine.
func (e *Engine) NewServer(version string) (*server.Server, error) {
	svc, err := server.NewServices(e.Planner, e.Scheduler, e.Backends,
		server.WithCrawler(e.Pipeline),
		server.WithProviderHealth(e.Providers),
		server.WithScreener(e.Pipeline),
	)
	if err != nil {
		return nil, err
	}

	api := e.Config.API
	cfg := server.Config{
		ListenAddr:  fmt.Sprintf("%s:%d", api.Host, api.Port),
		CORSOrigins: api.CORSOrigins,
		RateLimit: server.RateLimitConfig{
			RequestsPerSecond: api.RateLimit,
			Burst:             api.RateLimitBurst,
		},
		Version: version,
		Logger:  e.Logger,
	}
	if api.GRPCPort > 0 {
		cfg.GRPCAddr = fmt.Sprintf("%s:%d", api.Host, api.GRPCPort)
	}
	return server.New(cfg, svc)
}

// Close flushes pending documents and releases every subsystem in reverse
// dependency order.
func (e *Engine) Close(ctx context.Context) error {
	var errs []error
	if e.Pipeline != nil {
		errs = append(errs, e.Pipeline.Close(ctx))
	}
	if e.Scheduler != nil {
		errs = append(errs, e.Scheduler.Close())
	}
	if e.Providers != nil {
		errs = append(errs, e.Providers.Close())
	}
	if e.Backends != nil {
		errs = append(errs, e.Backends.Close())
	}
	return sorcerr.Join(errs...)
}

func newEmbedder(cfg *config.Config) (index.Embedder, error) {
	dims := cfg.Indexing.VectorDimensions
	pc := cfg.Providers[cfg.Embedding.Provider]

	switch cfg.Embedding.Provider {
	case "", config.ProviderLocal:
		return index.NewHashEmbedder(dims), nil
	case config.ProviderOpenAI:
		return openaiprov.NewEmbedder(openaiprov.Config{APIKey: pc.APIKey, BaseURL: pc.BaseURL, Model: cfg.Embedding.Model}, dims)
	case config.ProviderGoogle:
		return googleprov.NewEmbedder(googleprov.Config{APIKey: pc.APIKey, BaseURL: pc.BaseURL, Model: cfg.Embedding.Model}, dims)
	case config.ProviderOllama:
		return ollamaprov.NewEmbedder(ollamaprov.Config{BaseURL: pc.BaseURL, Model: cfg.Embedding.Model}, dims)
	default:
		return nil, sorcerr.Errorf(sorcerr.CodeConfigValidateInvalidValue, "unsupported embedding provider %q", cfg.Embedding.Provider)
	}
}

// openBackends opens every configured backend and registers it. A sqlite
// backend without a path shares the corpus file named by database.name.
func openBackends(ctx context.Context, cfg *config.Config, embedder index.Embedder, logger *slog.Logger, reg *index.Registry) error {
	env := index.Env{
		DataDir:     cfg.DataDir,
		Embedder:    embedder,
		PoolSize:    cfg.Database.PoolSize,
		BusyTimeout: cfg.DatabaseTimeout(),
		UserAgent:   cfg.Crawler.UserAgent,
		HTTPTimeout: cfg.CrawlerTimeout(),
		Logger:      logger,
	}

	for _, bc := range cfg.Backends {
		mode, err := index.ParseMode(bc.Mode)
		if err != nil {
			return sorcerr.With(err, sorcerr.FieldBackend(bc.Name))
		}
		spec := index.Spec{
			Name:         bc.Name,
			Type:         bc.Type,
			Mode:         mode,
			Path:         bc.Path,
			URL:          bc.URL,
			Collection:   bc.Collection,
			APIKey:       bc.APIKey,
			DefaultTrust: float32(bc.DefaultTrust),
		}
		if spec.Type == config.BackendSQLite && spec.Path == "" && cfg.Database.Name != "" {
			spec.Path = filepath.Join(cfg.DataDir, cfg.Database.Name+".db")
		}

		store, err := index.Open(ctx, spec, env)
		if err != nil {
			return err
		}
		if err := reg.Register(bc.Name, mode, store); err != nil {
			_ = index.CloseStore(store)
			return err
		}
		logger.Debug("backend opened", "backend", bc.Name, "type", bc.Type, "mode", mode)
	}
	return nil
}

// registerBuiltinProviders registers the local digest plus every hosted
// provider that has credentials, then installs the summarizer chain.
func registerBuiltinProviders(cfg *config.Config, reg *provider.Registry, logger *slog.Logger) error {
	if err := reg.Register(localprov.New(cfg.Summarizer.MaxSentences)); err != nil {
		return err
	}

	// Ollama may sit in the chain without a providers entry.
	seen := make(map[string]bool, len(cfg.Providers))
	for name := range cfg.Providers {
		seen[name] = true
	}
	for _, ref := range cfg.Summarizer.Providers {
		name, _, _ := strings.Cut(ref, "/")
		seen[name] = true
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		pc := cfg.Providers[name]
		factory, ok := builtinProviderFactories[name]
		if !ok {
			if name != provider.NameLocal {
				logger.Warn("skipping unknown provider", "provider", name)
			}
			continue
		}
		if pc.APIKey == "" && name != provider.NameOllama {
			logger.Warn("skipping provider without api_key", "provider", name)
			continue
		}
		p, err := factory(pc)
		if err != nil {
			return sorcerr.Errorf(sorcerr.CodeCLISetupFailure, "creating provider %s: %w", name, err)
		}
		if err := reg.Register(p); err != nil {
			return err
		}
	}

	return reg.SetChain(cfg.Summarizer.Providers)
}

func schedulerOptions(cfg *config.Config, logger *slog.Logger) (agent.Options, error) {
	opts := agent.Options{
		MaxSubAgents:   cfg.Agents.MaxSubAgents,
		MaxConcurrent:  cfg.Agents.MaxConcurrentTasks,
		DefaultTimeout: cfg.TaskTimeout(""),
		TypeTimeouts:   make(map[agent.Type]time.Duration, len(cfg.Agents.Timeouts)),
		MemoryTTL:      cfg.MemoryTTL(),
		Routing:        make(map[index.Mode]agent.Type, len(cfg.Routing)),
		Logger:         logger,
	}
	for name := range cfg.Agents.Timeouts {
		typ, err := agent.ParseType(name)
		if err != nil {
			return agent.Options{}, err
		}
		opts.TypeTimeouts[typ] = cfg.TaskTimeout(name)
	}
	for m, t := range cfg.Routing {
		mode, err := index.ParseMode(m)
		if err != nil {
			return agent.Options{}, err
		}
		typ, err := agent.ParseType(t)
		if err != nil {
			return agent.Options{}, err
		}
		opts.Routing[mode] = typ
	}
	return opts, nil
}
