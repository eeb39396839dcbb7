// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

package main

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/sorcerer-dev/sorcerer/internal/config"
	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
)

func TestConfigValidate(t *testing.T) {
	cfg := writeConfig(t, sqliteConfig)
	out, _, err := run(t, "", "config", "validate", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration is valid.")
}

func TestConfigValidate_ReportsEveryProblem(t *testing.T) {
	cfg := writeConfig(t, `
api:
  port: 0
agents:
  max_sub_agents: 0
backends:
  - { name: files, type: fs, mode: keyword }
`)
	out, _, err := run(t, "", "config", "validate", "--config", cfg)
	require.Error(t, err)
	assert.True(t, sorcerr.HasCode(err, sorcerr.CodeConfigValidateInvalidValue))
	assert.Contains(t, out, "api.port")
	assert.Contains(t, out, "agents.max_sub_agents")
	assert.Contains(t, out, "backends[0]")
}

func TestConfigShow_RedactsLiteralKeys(t *testing.T) {
	cfg := writeConfig(t, `
providers:
  anthropic: { api_key: sk-ant-literal }
  openai:    { api_key: "keyring://sorcerer/openai" }
`)
	out, _, err := run(t, "", "config", "show", "--config", cfg)
	require.NoError(t, err)
	assert.NotContains(t, out, "sk-ant-literal")
	assert.Contains(t, out, redacted)
	assert.Contains(t, out, "keyring://sorcerer/openai")

	var shown map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &shown))
	api, ok := shown["api"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 8080, api["port"])
}

func TestConfigShow_EnvOverride(t *testing.T) {
	cfg := writeConfig(t, "")
	t.Setenv("SORCERER_API_PORT", "9191")

	out, _, err := run(t, "", "config", "show", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "9191")
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sorcerer.yaml")

	out, _, err := run(t, "", "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfigYAML, data)

	_, _, err = run(t, "", "config", "init", path)
	require.Error(t, err)
	assert.True(t, sorcerr.HasCode(err, sorcerr.CodeCLIInputInvalid))
}

func TestInitViper_BootstrapsDefaultConfig(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	root := NewRootCmd()
	root.SetArgs([]string{"config", "validate"})
	t.Setenv("HOME", dir)
	root.SetOut(io.Discard)
	require.NoError(t, root.Execute())

	_, err := os.Stat(filepath.Join(dir, ".config", "sorcerer", "sorcerer.yaml"))
	assert.NoError(t, err)
}
