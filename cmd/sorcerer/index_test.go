// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sorcerer-dev/sorcerer/internal/agent"
	"github.com/sorcerer-dev/sorcerer/internal/index"
	"github.com/sorcerer-dev/sorcerer/internal/ingest"
	"github.com/sorcerer-dev/sorcerer/internal/query"
	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
)

func addFile(t *testing.T, cfg, content string, extra ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	args := append([]string{"index", "add", "--config", cfg, "--backend", "keyword"}, extra...)
	out, _, err := run(t, "", append(args, path)...)
	require.NoError(t, err)
	id := strings.TrimSpace(out)
	require.NotEmpty(t, id)
	return id
}

func TestIndexAddQueryDelete(t *testing.T) {
	cfg := writeConfig(t, sqliteConfig)

	rust := addFile(t, cfg, "The borrow checker enforces ownership rules.", "--trust", "0.9", "--title", "Ownership")
	_ = addFile(t, cfg, "Borrowed sponge cake recipes.", "--trust", "0.2")

	out, _, err := run(t, "", "query", "--config", cfg, "--json", "--min-trust", "0.5", "borrow", "checker")
	require.NoError(t, err)
	var res query.QueryResult
	require.NoError(t, json.Unmarshal([]byte(out), &res), out)
	require.Len(t, res.Results, 1)
	assert.Equal(t, rust, res.Results[0].ID)
	assert.Equal(t, "Ownership", res.Results[0].Title)
	assert.Equal(t, res.TotalCount, len(res.Results))

	out, _, err = run(t, "", "query", "--config", cfg, "borrow")
	require.NoError(t, err)
	assert.Contains(t, out, "RANK")
	assert.Contains(t, out, rust)

	out, _, err = run(t, "", "index", "get", "--config", cfg, "keyword", rust)
	require.NoError(t, err)
	var doc index.Document
	require.NoError(t, json.Unmarshal([]byte(out), &doc), out)
	assert.InDelta(t, 0.9, doc.Metadata.TrustScore, 1e-6)

	_, _, err = run(t, "", "index", "delete", "--config", cfg, "keyword", rust)
	require.NoError(t, err)

	_, _, err = run(t, "", "index", "get", "--config", cfg, "keyword", rust)
	require.Error(t, err)
	assert.True(t, sorcerr.IsNotFound(err))
}

func TestIndexAdd_Stdin(t *testing.T) {
	cfg := writeConfig(t, sqliteConfig)

	out, _, err := run(t, "Notes piped from another tool.", "index", "add", "--config", cfg, "--backend", "keyword", "--tag", "piped")
	require.NoError(t, err)
	id := strings.TrimSpace(out)

	out, _, err = run(t, "", "index", "get", "--config", cfg, "keyword", id)
	require.NoError(t, err)
	var doc index.Document
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "stdin", doc.Metadata.Source)
	assert.Equal(t, []string{"piped"}, doc.Metadata.Tags)
}

func TestIndexAdd_Errors(t *testing.T) {
	cfg := writeConfig(t, sqliteConfig)

	_, _, err := run(t, "text", "index", "add", "--config", cfg, "--backend", "nowhere")
	require.Error(t, err)
	assert.True(t, sorcerr.IsNotFound(err))

	_, _, err = run(t, "text", "index", "add", "--config", cfg, "--backend", "keyword", "--trust", "1.5")
	require.Error(t, err)
	assert.True(t, sorcerr.HasCode(err, sorcerr.CodeCLIInputInvalid))

	_, _, err = run(t, "", "index", "add", "--config", cfg, "--backend", "keyword")
	require.Error(t, err)
	assert.True(t, sorcerr.HasCode(err, sorcerr.CodeCLIInputInvalid))

	_, _, err = run(t, "text", "index", "add", "--config", cfg)
	require.Error(t, err, "--backend is required")
}

func TestIndexCrawl(t *testing.T) {
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/page" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><head><title>Lifetimes</title></head><body><p>Lifetimes bound how long references live.</p></body></html>"))
	}))
	defer site.Close()

	cfg := writeConfig(t, sqliteConfig)
	out, _, err := run(t, "", "index", "crawl", "--config", cfg, "--backend", "keyword", site.URL+"/page", site.URL+"/gone")
	require.NoError(t, err)

	var report ingest.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report), out)
	require.Len(t, report.IDs, 1)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, site.URL+"/gone", report.Failures[0].URL)

	out, _, err = run(t, "", "query", "--config", cfg, "--json", "lifetimes")
	require.NoError(t, err)
	var res query.QueryResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.NotEmpty(t, res.Results)
	assert.Equal(t, report.IDs[0], res.Results[0].ID)
}

func TestIndexBackends(t *testing.T) {
	cfg := writeConfig(t, sqliteConfig)
	out, _, err := run(t, "", "index", "backends", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "keyword")
	assert.Contains(t, out, "time_based")
	assert.Contains(t, out, "sqlite")
}

func TestQuery_InvalidFlags(t *testing.T) {
	cfg := writeConfig(t, sqliteConfig)

	tests := []struct {
		name string
		args []string
	}{
		{"unknown mode", []string{"--mode", "psychic"}},
		{"unknown action", []string{"--action", "teleport"}},
		{"bad time", []string{"--updated-after", "yesterday"}},
		{"trust out of range", []string{"--min-trust", "3"}},
		{"no results allowed", []string{"--max", "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"query", "--config", cfg}, tt.args...)
			_, _, err := run(t, "", append(args, "borrow")...)
			require.Error(t, err)
			assert.True(t, sorcerr.IsInvalidInput(err), err.Error())
		})
	}
}

func TestQuery_NoBackendForMode(t *testing.T) {
	cfg := writeConfig(t, sqliteConfig)
	_, _, err := run(t, "", "query", "--config", cfg, "--mode", "graph", "borrow")
	require.Error(t, err)
}

func TestTaskRun(t *testing.T) {
	cfg := writeConfig(t, sqliteConfig)
	id := addFile(t, cfg, "The borrow checker enforces ownership rules.", "--trust", "0.8")

	out, _, err := run(t, "", "task", "run", "--config", cfg, "--type", "scout", "--mode", "keyword", "borrow")
	require.NoError(t, err)
	var res agent.AgentResult
	require.NoError(t, json.Unmarshal([]byte(out), &res), out)
	assert.Equal(t, agent.StatusSuccess, res.Status)
	assert.Contains(t, out, id)

	out, _, err = run(t, "", "task", "run", "--config", cfg, "--agent", "memory",
		"--param", "op=remember", "--param", "key=topic", "--param", "value=rust")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, agent.StatusSuccess, res.Status)
	assert.Equal(t, true, res.Output["stored"])
}

func TestTaskRun_FailedTaskExitsWithError(t *testing.T) {
	cfg := writeConfig(t, sqliteConfig)

	out, _, err := run(t, "", "task", "run", "--config", cfg, "--agent", "memory", "--param", "op=juggle", "--param", "key=k")
	require.Error(t, err)
	var res agent.AgentResult
	require.NoError(t, json.Unmarshal([]byte(out), &res), out)
	assert.Equal(t, agent.StatusFailed, res.Status)

	_, _, err = run(t, "", "task", "run", "--config", cfg, "--type", "wizard", "borrow")
	require.Error(t, err)
	assert.True(t, sorcerr.IsInvalidInput(err))
}
