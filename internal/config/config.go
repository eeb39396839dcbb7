// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variable overrides
// (SORCERER_API_PORT overrides api.port).
const EnvPrefix = "SORCERER"

// Config is the top-level Sorcerer configuration. It is loaded once at
// startup and treated as read-only afterwards.
type Config struct {
	DataDir    string                    `mapstructure:"data_dir"`
	System     SystemConfig              `mapstructure:"system"`
	Database   DatabaseConfig            `mapstructure:"database"`
	Indexing   IndexingConfig            `mapstructure:"indexing"`
	Crawler    CrawlerConfig             `mapstructure:"crawler"`
	Agents     AgentsConfig              `mapstructure:"agents"`
	API        APIConfig                 `mapstructure:"api"`
	Backends   []BackendConfig           `mapstructure:"backends"`
	Embedding  EmbeddingConfig           `mapstructure:"embedding"`
	Providers  map[string]ProviderConfig `mapstructure:"providers"`
	Summarizer SummarizerConfig          `mapstructure:"summarizer"`
	Routing    map[string]string         `mapstructure:"routing"`
}

// SystemConfig identifies the deployment and controls logging.
type SystemConfig struct {
	Name      string `mapstructure:"name"`
	Version   string `mapstructure:"version"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
	LogFile   string `mapstructure:"log_file"`
}

// DatabaseConfig describes the storage engine behind the bundled backends.
// The SQLite engine uses Name as the database file name under DataDir,
// PoolSize as the open connection limit and TimeoutSecs as busy timeout.
type DatabaseConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	Name        string `mapstructure:"name"`
	PoolSize    int    `mapstructure:"pool_size"`
	TimeoutSecs int    `mapstructure:"timeout_secs"`
}

// IndexingConfig controls ingestion batching, embeddings and ranking.
type IndexingConfig struct {
	VectorDimensions       int           `mapstructure:"vector_dimensions"`
	BatchSize              int           `mapstructure:"batch_size"`
	AutoCommitIntervalSecs int           `mapstructure:"auto_commit_interval_secs"`
	Scoring                ScoringConfig `mapstructure:"scoring"`
	Scan                   ScanConfig    `mapstructure:"scan"`
}

// ScanConfig controls credential screening of ingested documents.
type ScanConfig struct {
	// Mode is off, flag, redact or block.
	Mode string `mapstructure:"mode"`
	// RulesFile adds YAML rules to the built-in set.
	RulesFile string `mapstructure:"rules_file"`
}

var scanModes = []string{"off", "flag", "redact", "block"}

// ScoringConfig holds the weights combining confidence and trust.
type ScoringConfig struct {
	Method           string  `mapstructure:"method"`
	ConfidenceWeight float64 `mapstructure:"confidence_weight"`
	TrustWeight      float64 `mapstructure:"trust_weight"`
}

// CrawlerConfig controls outbound fetches made by the crawler and by
// backends that call remote services.
type CrawlerConfig struct {
	UserAgent           string  `mapstructure:"user_agent"`
	MaxConcurrentCrawls int     `mapstructure:"max_concurrent_crawls"`
	TimeoutSecs         int     `mapstructure:"timeout_secs"`
	DefaultTrust        float64 `mapstructure:"default_trust"`
}

// AgentsConfig controls the task scheduler.
type AgentsConfig struct {
	MaxSubAgents       int            `mapstructure:"max_sub_agents"`
	MemoryTTLHours     int            `mapstructure:"memory_ttl_hours"`
	DefaultTimeoutSecs int            `mapstructure:"default_timeout_secs"`
	MaxConcurrentTasks int            `mapstructure:"max_concurrent_tasks"`
	InstancesPerType   int            `mapstructure:"instances_per_type"`
	Timeouts           map[string]int `mapstructure:"timeouts"`
}

// APIConfig controls the HTTP and gRPC listeners.
type APIConfig struct {
	Host        string   `mapstructure:"host"`
	Port        int      `mapstructure:"port"`
	GRPCPort    int      `mapstructure:"grpc_port"`
	CORSOrigins []string `mapstructure:"cors_origins"`
	// RateLimit is the sustained requests per second per client IP. Zero
	// disables limiting.
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// BackendConfig declares one index backend instance.
type BackendConfig struct {
	Name         string  `mapstructure:"name"`
	Type         string  `mapstructure:"type"`
	Mode         string  `mapstructure:"mode"`
	Path         string  `mapstructure:"path"`
	URL          string  `mapstructure:"url"`
	Collection   string  `mapstructure:"collection"`
	APIKey       string  `mapstructure:"api_key"`
	DefaultTrust float64 `mapstructure:"default_trust"`
}

// EmbeddingConfig selects the embedding provider for semantic backends.
// Dimensions come from indexing.vector_dimensions.
type EmbeddingConfig struct {
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
}

// ProviderConfig holds credentials and endpoint for an LLM provider.
type ProviderConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

// SummarizerConfig lists providers tried in order when producing digests.
// The local extractive summarizer always terminates the chain.
type SummarizerConfig struct {
	Providers    []string `mapstructure:"providers"`
	MaxSentences int      `mapstructure:"max_sentences"`
	// GuardPrompts keeps text that looks like prompt injection away from
	// hosted providers.
	GuardPrompts bool `mapstructure:"guard_prompts"`
}

// Backend types understood by the wiring layer.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendFS     = "fs"
	BackendHTTP   = "http"
	BackendQdrant = "qdrant"
)

// Query modes, as spelled in configuration.
const (
	ModeKeyword    = "keyword"
	ModeSemantic   = "semantic"
	ModeGraph      = "graph"
	ModeTimeBased  = "time_based"
	ModeFileSystem = "filesystem"
	ModeAPI        = "api"
)

var backendModes = map[string][]string{
	BackendMemory: {ModeKeyword, ModeSemantic, ModeTimeBased},
	BackendSQLite: {ModeKeyword, ModeSemantic, ModeGraph, ModeTimeBased},
	BackendFS:     {ModeFileSystem},
	BackendHTTP:   {ModeAPI},
	BackendQdrant: {ModeSemantic},
}

// Provider names, as spelled in configuration.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderOllama    = "ollama"
	ProviderLocal     = "local"
)

var (
	// completionProviders may appear in summarizer.providers.
	completionProviders = []string{ProviderAnthropic, ProviderOpenAI, ProviderGoogle, ProviderOllama, ProviderLocal}
	// embeddingProviders may serve embedding.provider.
	embeddingProviders = []string{ProviderLocal, ProviderOpenAI, ProviderGoogle, ProviderOllama}
)

var agentTypes = map[string]bool{
	"scout": true, "analyst": true, "verifier": true, "executor": true, "memory": true,
}

// SetDefaults registers every default value on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "./data")

	v.SetDefault("system.name", "Sorcerer")
	v.SetDefault("system.version", "0.1.0")
	v.SetDefault("system.log_level", "info")
	v.SetDefault("system.log_format", "text")
	v.SetDefault("system.log_file", "")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "sorcerer_index")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.timeout_secs", 30)

	v.SetDefault("indexing.vector_dimensions", 1536)
	v.SetDefault("indexing.batch_size", 100)
	v.SetDefault("indexing.auto_commit_interval_secs", 300)
	v.SetDefault("indexing.scoring.method", "product")
	v.SetDefault("indexing.scoring.confidence_weight", 1.0)
	v.SetDefault("indexing.scoring.trust_weight", 1.0)
	v.SetDefault("indexing.scan.mode", "redact")

	v.SetDefault("crawler.user_agent", "Sorcerer/0.1.0 (+http://sorcerer.ai)")
	v.SetDefault("crawler.max_concurrent_crawls", 10)
	v.SetDefault("crawler.timeout_secs", 30)
	v.SetDefault("crawler.default_trust", 0.5)

	v.SetDefault("agents.max_sub_agents", 5)
	v.SetDefault("agents.memory_ttl_hours", 24)
	v.SetDefault("agents.default_timeout_secs", 300)
	v.SetDefault("agents.max_concurrent_tasks", 16)
	v.SetDefault("agents.instances_per_type", 4)

	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.grpc_port", 50051)
	v.SetDefault("api.rate_limit", 0)
	v.SetDefault("api.rate_limit_burst", 20)

	v.SetDefault("backends", []map[string]any{
		{"name": "keyword", "type": BackendSQLite, "mode": ModeKeyword},
		{"name": "semantic", "type": BackendSQLite, "mode": ModeSemantic},
		{"name": "graph", "type": BackendSQLite, "mode": ModeGraph},
		{"name": "recent", "type": BackendSQLite, "mode": ModeTimeBased},
	})

	v.SetDefault("embedding.provider", "local")
	v.SetDefault("summarizer.max_sentences", 3)
	v.SetDefault("summarizer.guard_prompts", true)
}

// SetupEnv binds SORCERER_* environment variables to config keys.
func SetupEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads configuration from the given path (or defaults only when path
// is empty) with environment variable overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	SetupEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, sorcerr.Errorf(sorcerr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
	}

	return FromViper(v)
}

// FromViper decodes and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, sorcerr.Errorf(sorcerr.CodeConfigParseInvalidFormat, "unmarshalling config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, sorcerr.Errorf(sorcerr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

// Validate checks the configuration for logical errors.
// It returns every violation found rather than stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateSystem()...)
	errs = append(errs, c.validateDatabase()...)
	errs = append(errs, c.validateIndexing()...)
	errs = append(errs, c.validateCrawler()...)
	errs = append(errs, c.validateAgents()...)
	errs = append(errs, c.validateAPI()...)
	errs = append(errs, c.validateBackends()...)
	errs = append(errs, c.validateProviders()...)

	return errs
}

func invalid(format string, args ...any) error {
	return sorcerr.Errorf(sorcerr.CodeConfigValidateInvalidValue, "config: "+format, args...)
}

func (c *Config) validateSystem() []error {
	var errs []error

	switch strings.ToLower(c.System.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, invalid("system.log_level must be one of [debug, info, warn, error], got %q", c.System.LogLevel))
	}

	switch c.System.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, invalid("system.log_format must be one of [text, json], got %q", c.System.LogFormat))
	}

	return errs
}

func (c *Config) validateDatabase() []error {
	var errs []error

	if c.Database.Name == "" {
		errs = append(errs, invalid("database.name must not be empty"))
	}
	if err := validatePort("database.port", c.Database.Port); err != nil {
		errs = append(errs, err)
	}
	if c.Database.PoolSize <= 0 {
		errs = append(errs, invalid("database.pool_size must be greater than 0, got %d", c.Database.PoolSize))
	}
	if c.Database.TimeoutSecs <= 0 {
		errs = append(errs, invalid("database.timeout_secs must be greater than 0, got %d", c.Database.TimeoutSecs))
	}

	return errs
}

func (c *Config) validateIndexing() []error {
	var errs []error

	if c.Indexing.VectorDimensions <= 0 {
		errs = append(errs, invalid("indexing.vector_dimensions must be greater than 0, got %d", c.Indexing.VectorDimensions))
	}
	if c.Indexing.BatchSize <= 0 {
		errs = append(errs, invalid("indexing.batch_size must be greater than 0, got %d", c.Indexing.BatchSize))
	}
	if c.Indexing.AutoCommitIntervalSecs <= 0 {
		errs = append(errs, invalid("indexing.auto_commit_interval_secs must be greater than 0, got %d", c.Indexing.AutoCommitIntervalSecs))
	}

	s := c.Indexing.Scoring
	switch s.Method {
	case "product", "sum":
	default:
		errs = append(errs, invalid("indexing.scoring.method must be one of [product, sum], got %q", s.Method))
	}
	if s.ConfidenceWeight < 0 || s.TrustWeight < 0 {
		errs = append(errs, invalid("indexing.scoring weights must be non-negative, got confidence=%g trust=%g", s.ConfidenceWeight, s.TrustWeight))
	} else if s.ConfidenceWeight == 0 && s.TrustWeight == 0 {
		errs = append(errs, invalid("indexing.scoring weights must not both be zero"))
	}

	if !contains(scanModes, strings.ToLower(c.Indexing.Scan.Mode)) {
		errs = append(errs, invalid("indexing.scan.mode must be one of [%s], got %q", strings.Join(scanModes, ", "), c.Indexing.Scan.Mode))
	}

	return errs
}

func (c *Config) validateCrawler() []error {
	var errs []error

	if c.Crawler.UserAgent == "" {
		errs = append(errs, invalid("crawler.user_agent must not be empty"))
	}
	if c.Crawler.MaxConcurrentCrawls <= 0 {
		errs = append(errs, invalid("crawler.max_concurrent_crawls must be greater than 0, got %d", c.Crawler.MaxConcurrentCrawls))
	}
	if c.Crawler.TimeoutSecs <= 0 {
		errs = append(errs, invalid("crawler.timeout_secs must be greater than 0, got %d", c.Crawler.TimeoutSecs))
	}
	if c.Crawler.DefaultTrust < 0 || c.Crawler.DefaultTrust > 1 {
		errs = append(errs, invalid("crawler.default_trust must be within [0, 1], got %g", c.Crawler.DefaultTrust))
	}

	return errs
}

func (c *Config) validateAgents() []error {
	var errs []error

	if c.Agents.MaxSubAgents <= 0 {
		errs = append(errs, invalid("agents.max_sub_agents must be greater than 0, got %d", c.Agents.MaxSubAgents))
	}
	if c.Agents.MemoryTTLHours <= 0 {
		errs = append(errs, invalid("agents.memory_ttl_hours must be greater than 0, got %d", c.Agents.MemoryTTLHours))
	}
	if c.Agents.DefaultTimeoutSecs <= 0 {
		errs = append(errs, invalid("agents.default_timeout_secs must be greater than 0, got %d", c.Agents.DefaultTimeoutSecs))
	}
	if c.Agents.MaxConcurrentTasks <= 0 {
		errs = append(errs, invalid("agents.max_concurrent_tasks must be greater than 0, got %d", c.Agents.MaxConcurrentTasks))
	}
	if c.Agents.InstancesPerType <= 0 {
		errs = append(errs, invalid("agents.instances_per_type must be greater than 0, got %d", c.Agents.InstancesPerType))
	}
	for name, secs := range c.Agents.Timeouts {
		if !agentTypes[name] {
			errs = append(errs, invalid("agents.timeouts.%s names an unknown agent type", name))
		}
		if secs <= 0 {
			errs = append(errs, invalid("agents.timeouts.%s must be greater than 0, got %d", name, secs))
		}
	}
	for mode, agentType := range c.Routing {
		if !validMode(mode) {
			errs = append(errs, invalid("routing.%s names an unknown query mode", mode))
		}
		if !agentTypes[agentType] {
			errs = append(errs, invalid("routing.%s must name an agent type, got %q", mode, agentType))
		}
	}

	return errs
}

func (c *Config) validateAPI() []error {
	var errs []error

	if c.API.Host == "" {
		errs = append(errs, invalid("api.host must not be empty"))
	}
	if err := validatePort("api.port", c.API.Port); err != nil {
		errs = append(errs, err)
	}
	if err := validatePort("api.grpc_port", c.API.GRPCPort); err != nil {
		errs = append(errs, err)
	}
	if c.API.Port == c.API.GRPCPort {
		errs = append(errs, invalid("api.port and api.grpc_port must differ, both are %d", c.API.Port))
	}
	if c.API.RateLimit < 0 {
		errs = append(errs, invalid("api.rate_limit must not be negative, got %g", c.API.RateLimit))
	}
	if c.API.RateLimit > 0 && c.API.RateLimitBurst < 1 {
		errs = append(errs, invalid("api.rate_limit_burst must be at least 1 when api.rate_limit is set, got %d", c.API.RateLimitBurst))
	}

	return errs
}

func (c *Config) validateBackends() []error {
	var errs []error

	names := make(map[string]bool, len(c.Backends))
	perMode := make(map[string]int)

	for i, b := range c.Backends {
		if b.Name == "" {
			errs = append(errs, invalid("backends[%d].name must not be empty", i))
		} else if names[b.Name] {
			errs = append(errs, invalid("backends[%d].name %q is duplicated", i, b.Name))
		}
		names[b.Name] = true

		modes, ok := backendModes[b.Type]
		if !ok {
			errs = append(errs, invalid("backends[%d].type must be one of [memory, sqlite, fs, http, qdrant], got %q", i, b.Type))
			continue
		}
		if !contains(modes, b.Mode) {
			errs = append(errs, invalid("backends[%d] of type %s cannot serve mode %q (supported: %s)", i, b.Type, b.Mode, strings.Join(modes, ", ")))
			continue
		}
		perMode[b.Mode]++

		if b.DefaultTrust < 0 || b.DefaultTrust > 1 {
			errs = append(errs, invalid("backends[%d].default_trust must be within [0, 1], got %g", i, b.DefaultTrust))
		}

		switch b.Type {
		case BackendFS:
			if b.Path == "" {
				errs = append(errs, invalid("backends[%d].path is required for fs backends", i))
			}
		case BackendHTTP:
			if b.URL == "" {
				errs = append(errs, invalid("backends[%d].url is required for http backends", i))
			}
		case BackendQdrant:
			if b.URL == "" || b.Collection == "" {
				errs = append(errs, invalid("backends[%d].url and collection are required for qdrant backends", i))
			}
		}
	}

	for _, mode := range []string{ModeGraph, ModeAPI} {
		if perMode[mode] > 1 {
			errs = append(errs, invalid("at most one %s backend may be configured, got %d", mode, perMode[mode]))
		}
	}

	return errs
}

func (c *Config) validateProviders() []error {
	var errs []error

	for name := range c.Providers {
		if !contains(completionProviders, name) {
			errs = append(errs, invalid("providers.%s is not a known provider (known: %s)", name, strings.Join(completionProviders, ", ")))
		}
	}

	if !contains(embeddingProviders, c.Embedding.Provider) {
		errs = append(errs, invalid("embedding.provider must be one of [%s], got %q", strings.Join(embeddingProviders, ", "), c.Embedding.Provider))
	} else if err := c.requireCredentials("embedding.provider", c.Embedding.Provider); err != nil {
		errs = append(errs, err)
	}

	for i, ref := range c.Summarizer.Providers {
		name, _, _ := strings.Cut(ref, "/")
		if !contains(completionProviders, name) {
			errs = append(errs, invalid("summarizer.providers[%d] names unknown provider %q", i, name))
			continue
		}
		if err := c.requireCredentials(fmt.Sprintf("summarizer.providers[%d]", i), name); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Summarizer.MaxSentences < 1 {
		errs = append(errs, invalid("summarizer.max_sentences must be at least 1, got %d", c.Summarizer.MaxSentences))
	}

	return errs
}

// requireCredentials checks that a hosted provider has an API key. The
// local and Ollama providers need none.
func (c *Config) requireCredentials(key, name string) error {
	if name == ProviderLocal || name == ProviderOllama {
		return nil
	}
	if c.Providers[name].APIKey == "" {
		return invalid("%s uses %s but providers.%s.api_key is empty", key, name, name)
	}
	return nil
}

func validatePort(key string, port int) error {
	if port < 1 || port > 65535 {
		return invalid("%s must be between 1 and 65535, got %d", key, port)
	}
	return nil
}

func validMode(mode string) bool {
	switch mode {
	case ModeKeyword, ModeSemantic, ModeGraph, ModeTimeBased, ModeFileSystem, ModeAPI:
		return true
	}
	return false
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// TaskTimeout returns the execution deadline for tasks handled by the
// given agent type, falling back to agents.default_timeout_secs.
func (c *Config) TaskTimeout(agentType string) time.Duration {
	if secs, ok := c.Agents.Timeouts[agentType]; ok && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return time.Duration(c.Agents.DefaultTimeoutSecs) * time.Second
}

// MemoryTTL returns the lifetime of agent memory entries.
func (c *Config) MemoryTTL() time.Duration {
	return time.Duration(c.Agents.MemoryTTLHours) * time.Hour
}

// AutoCommitInterval returns the batch indexer's commit interval.
func (c *Config) AutoCommitInterval() time.Duration {
	return time.Duration(c.Indexing.AutoCommitIntervalSecs) * time.Second
}

// CrawlerTimeout returns the per-request timeout for outbound fetches.
func (c *Config) CrawlerTimeout() time.Duration {
	return time.Duration(c.Crawler.TimeoutSecs) * time.Second
}

// DatabaseTimeout returns the busy timeout applied to the storage engine.
func (c *Config) DatabaseTimeout() time.Duration {
	return time.Duration(c.Database.TimeoutSecs) * time.Second
}
