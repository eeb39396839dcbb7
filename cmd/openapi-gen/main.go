// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

// Command openapi-gen writes the HTTP API's OpenAPI document.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sorcerer-dev/sorcerer/internal/agent"
	"github.com/sorcerer-dev/sorcerer/internal/index"
	"github.com/sorcerer-dev/sorcerer/internal/query"
	"github.com/sorcerer-dev/sorcerer/internal/server"
	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
)

const defaultOutput = "api/openapi/spec.json"

func main() {
	out := defaultOutput
	if len(os.Args) > 1 {
		out = os.Args[1]
	}
	if err := write(out); err != nil {
		fmt.Fprintf(os.Stderr, "openapi-gen: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("wrote %s\n", out)
}

func write(path string) error {
	doc, err := generateSpec()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return sorcerr.Errorf(sorcerr.CodeCLISetupFailure, "creating %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, append(doc, '\n'), 0o644); err != nil {
		return sorcerr.Errorf(sorcerr.CodeCLISetupFailure, "writing %s: %w", path, err)
	}
	return nil
}

// generateSpec builds a server over empty components and extracts the
// OpenAPI document huma derives from the route types. No handler runs.
func generateSpec() ([]byte, error) {
	reg := index.NewRegistry()
	sched := agent.NewScheduler(agent.Options{})
	defer func() { _ = sched.Close() }()

	svc, err := server.NewServices(query.NewPlanner(reg, nil), sched, reg)
	if err != nil {
		return nil, err
	}
	srv, err := server.New(server.Config{ListenAddr: "127.0.0.1:0"}, svc)
	if err != nil {
		return nil, sorcerr.Errorf(sorcerr.CodeCLISetupFailure, "creating server: %w", err)
	}
	defer func() { _ = srv.Close() }()

	return json.MarshalIndent(srv.API().OpenAPI(), "", "  ")
}
