// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// run executes the root command with args and returns stdout and stderr.
func run(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	root := NewRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)

	err := root.Execute()
	return out.String(), errOut.String(), err
}

// writeConfig writes a config file under a fresh directory and returns its
// path. The data directory sits next to it.
func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "sorcerer.yaml")
	content := "data_dir: " + filepath.Join(dir, "data") + "\n" +
		"system:\n  log_level: error\n" + body
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// sqliteConfig keeps documents on disk so they survive between commands.
const sqliteConfig = `
indexing:
  vector_dimensions: 64
backends:
  - { name: keyword, type: sqlite, mode: keyword }
  - { name: recent,  type: sqlite, mode: time_based }
`
