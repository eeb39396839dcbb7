// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

package config_test

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sorcerer-dev/sorcerer/internal/config"
	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sorcerer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_DefaultValues(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "Sorcerer", cfg.System.Name)
	assert.Equal(t, "0.1.0", cfg.System.Version)
	assert.Equal(t, "info", cfg.System.LogLevel)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "sorcerer_index", cfg.Database.Name)
	assert.Equal(t, 20, cfg.Database.PoolSize)
	assert.Equal(t, 30, cfg.Database.TimeoutSecs)

	assert.Equal(t, 1536, cfg.Indexing.VectorDimensions)
	assert.Equal(t, 100, cfg.Indexing.BatchSize)
	assert.Equal(t, 300, cfg.Indexing.AutoCommitIntervalSecs)
	assert.Equal(t, "product", cfg.Indexing.Scoring.Method)
	assert.InDelta(t, 1.0, cfg.Indexing.Scoring.ConfidenceWeight, 1e-9)
	assert.InDelta(t, 1.0, cfg.Indexing.Scoring.TrustWeight, 1e-9)
	assert.Equal(t, "redact", cfg.Indexing.Scan.Mode)
	assert.Empty(t, cfg.Indexing.Scan.RulesFile)
	assert.True(t, cfg.Summarizer.GuardPrompts)

	assert.Equal(t, "Sorcerer/0.1.0 (+http://sorcerer.ai)", cfg.Crawler.UserAgent)
	assert.Equal(t, 10, cfg.Crawler.MaxConcurrentCrawls)
	assert.Equal(t, 30, cfg.Crawler.TimeoutSecs)

	assert.Equal(t, 5, cfg.Agents.MaxSubAgents)
	assert.Equal(t, 24, cfg.Agents.MemoryTTLHours)
	assert.Equal(t, 300, cfg.Agents.DefaultTimeoutSecs)

	assert.Equal(t, "0.0.0.0", cfg.API.Host)
	assert.Equal(t, 8080, cfg.API.Port)
	assert.Equal(t, 50051, cfg.API.GRPCPort)

	require.Len(t, cfg.Backends, 4)
	assert.Equal(t, config.BackendSQLite, cfg.Backends[0].Type)
	assert.Equal(t, config.ModeKeyword, cfg.Backends[0].Mode)
}

func TestLoad_FromFile(t *testing.T) {
	path := writeConfig(t, `
system:
  log_level: debug
agents:
  max_sub_agents: 3
  timeouts:
    verifier: 12
backends:
  - name: notes
    type: fs
    mode: filesystem
    path: /srv/notes
    default_trust: 0.8
  - name: kw
    type: memory
    mode: keyword
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.System.LogLevel)
	assert.Equal(t, 3, cfg.Agents.MaxSubAgents)
	require.Len(t, cfg.Backends, 2)
	assert.Equal(t, "notes", cfg.Backends[0].Name)
	assert.Equal(t, "/srv/notes", cfg.Backends[0].Path)
	assert.InDelta(t, 0.8, cfg.Backends[0].DefaultTrust, 1e-9)

	assert.Equal(t, 12*time.Second, cfg.TaskTimeout("verifier"))
	assert.Equal(t, 300*time.Second, cfg.TaskTimeout("scout"))
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("SORCERER_API_PORT", "9090")
	t.Setenv("SORCERER_AGENTS_MAX_SUB_AGENTS", "7")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.API.Port)
	assert.Equal(t, 7, cfg.Agents.MaxSubAgents)
}

func TestLoad_MissingFileIsConfigError(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.True(t, sorcerr.IsConfigError(err))
}

func TestLoad_ValidationCalledAtLoadTime(t *testing.T) {
	path := writeConfig(t, `
api:
  port: 70000
indexing:
  scoring:
    method: median
`)

	_, err := config.Load(path)
	require.Error(t, err)
	assert.True(t, sorcerr.IsConfigError(err))
	assert.Contains(t, err.Error(), "api.port")
	assert.Contains(t, err.Error(), "indexing.scoring.method")
}

func TestLoad_DefaultYAMLIsValid(t *testing.T) {
	path := writeConfig(t, string(config.DefaultConfigYAML))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Backends, 4)
}

func validConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := validConfig(t)
	cfg.Database.PoolSize = 0
	cfg.Agents.MaxSubAgents = 0
	cfg.Indexing.Scoring.ConfidenceWeight = 0
	cfg.Indexing.Scoring.TrustWeight = 0

	errs := cfg.Validate()
	assert.Len(t, errs, 3)
	for _, err := range errs {
		assert.True(t, sorcerr.HasCode(err, sorcerr.CodeConfigValidateInvalidValue))
	}
}

func TestValidate_ScanMode(t *testing.T) {
	for _, mode := range []string{"off", "flag", "redact", "block", "BLOCK"} {
		cfg := validConfig(t)
		cfg.Indexing.Scan.Mode = mode
		assert.Empty(t, cfg.Validate(), mode)
	}

	cfg := validConfig(t)
	cfg.Indexing.Scan.Mode = "quarantine"
	errs := cfg.Validate()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "indexing.scan.mode")
}

func TestValidate_Backends(t *testing.T) {
	tests := []struct {
		name     string
		backends []config.BackendConfig
		wantErr  string
	}{
		{
			name:     "unknown type",
			backends: []config.BackendConfig{{Name: "x", Type: "redis", Mode: "keyword"}},
			wantErr:  "backends[0].type",
		},
		{
			name:     "mode not served by type",
			backends: []config.BackendConfig{{Name: "x", Type: "fs", Mode: "graph", Path: "/tmp"}},
			wantErr:  "cannot serve mode",
		},
		{
			name: "duplicate names",
			backends: []config.BackendConfig{
				{Name: "a", Type: "memory", Mode: "keyword"},
				{Name: "a", Type: "memory", Mode: "semantic"},
			},
			wantErr: "duplicated",
		},
		{
			name: "two graph backends",
			backends: []config.BackendConfig{
				{Name: "g1", Type: "sqlite", Mode: "graph"},
				{Name: "g2", Type: "sqlite", Mode: "graph"},
			},
			wantErr: "at most one graph backend",
		},
		{
			name:     "fs without path",
			backends: []config.BackendConfig{{Name: "fs", Type: "fs", Mode: "filesystem"}},
			wantErr:  "path is required",
		},
		{
			name:     "qdrant without collection",
			backends: []config.BackendConfig{{Name: "q", Type: "qdrant", Mode: "semantic", URL: "localhost:6334"}},
			wantErr:  "collection are required",
		},
		{
			name:     "trust out of range",
			backends: []config.BackendConfig{{Name: "m", Type: "memory", Mode: "keyword", DefaultTrust: 1.5}},
			wantErr:  "default_trust",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			cfg.Backends = tt.backends

			errs := cfg.Validate()
			require.NotEmpty(t, errs)
			assert.Contains(t, sorcerr.Join(errs...).Error(), tt.wantErr)
		})
	}
}

func TestValidate_Providers(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *config.Config)
		wantErr string
	}{
		{
			name:    "unknown embedding provider",
			mutate:  func(c *config.Config) { c.Embedding.Provider = "cohere" },
			wantErr: "embedding.provider must be one of",
		},
		{
			name:    "hosted embedding without key",
			mutate:  func(c *config.Config) { c.Embedding.Provider = "openai" },
			wantErr: "providers.openai.api_key is empty",
		},
		{
			name:    "unknown summarizer provider",
			mutate:  func(c *config.Config) { c.Summarizer.Providers = []string{"mistral/large"} },
			wantErr: "unknown provider \"mistral\"",
		},
		{
			name:    "summarizer provider without key",
			mutate:  func(c *config.Config) { c.Summarizer.Providers = []string{"anthropic/claude-haiku-4-5"} },
			wantErr: "providers.anthropic.api_key is empty",
		},
		{
			name: "unknown provider section",
			mutate: func(c *config.Config) {
				c.Providers = map[string]config.ProviderConfig{"openrouter": {APIKey: "k"}}
			},
			wantErr: "providers.openrouter is not a known provider",
		},
		{
			name:    "no sentences",
			mutate:  func(c *config.Config) { c.Summarizer.MaxSentences = 0 },
			wantErr: "summarizer.max_sentences",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)

			errs := cfg.Validate()
			require.NotEmpty(t, errs)
			assert.Contains(t, sorcerr.Join(errs...).Error(), tt.wantErr)
		})
	}
}

func TestValidate_ProvidersWithoutKeys(t *testing.T) {
	cfg := validConfig(t)
	cfg.Embedding.Provider = "ollama"
	cfg.Summarizer.Providers = []string{"ollama/llama3.2", "local"}
	cfg.Providers = map[string]config.ProviderConfig{"ollama": {BaseURL: "http://localhost:11434"}}
	assert.Empty(t, cfg.Validate())

	cfg.Summarizer.Providers = []string{"google", "ollama"}
	cfg.Providers["google"] = config.ProviderConfig{APIKey: "keyring://sorcerer/google"}
	assert.Empty(t, cfg.Validate())
}

func TestValidate_Routing(t *testing.T) {
	cfg := validConfig(t)
	cfg.Routing = map[string]string{"graph": "analyst"}
	assert.Empty(t, cfg.Validate())

	cfg.Routing = map[string]string{"telepathy": "scout", "api": "wizard"}
	assert.Len(t, cfg.Validate(), 2)
}

func TestDurations(t *testing.T) {
	cfg := validConfig(t)
	assert.Equal(t, 24*time.Hour, cfg.MemoryTTL())
	assert.Equal(t, 300*time.Second, cfg.AutoCommitInterval())
	assert.Equal(t, 30*time.Second, cfg.CrawlerTimeout())
	assert.Equal(t, 30*time.Second, cfg.DatabaseTimeout())
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := config.NewLogger(config.SystemConfig{Name: "Sorcerer", LogLevel: "warn"}, &buf)
	require.NoError(t, err)
	defer func() { _ = closer.Close() }()

	logger.Info("hidden")
	logger.Warn("shown", "task_id", "t-1")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "service=sorcerer")
}

func TestNewLogger_JSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sorcerer.log")
	logger, closer, err := config.NewLogger(config.SystemConfig{LogLevel: "debug", LogFormat: "json", LogFile: path}, nil)
	require.NoError(t, err)

	logger.Debug("written")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"written"`)
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, config.ParseLogLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, config.ParseLogLevel("warning"))
	assert.Equal(t, slog.LevelError, config.ParseLogLevel("error"))
	assert.Equal(t, slog.LevelInfo, config.ParseLogLevel("bogus"))
}

func TestWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sorcerer.yaml")

	written, err := config.WriteDefaultConfig(path)
	require.NoError(t, err)
	assert.True(t, written)

	written, err = config.WriteDefaultConfig(path)
	require.NoError(t, err)
	assert.False(t, written, "existing files are never overwritten")
}
