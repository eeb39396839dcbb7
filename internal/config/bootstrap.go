// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

package config

import (
	_ "embed"
	"log/slog"
	"os"
	"path/filepath"

	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
)

//go:embed sorcerer.yaml.default
var DefaultConfigYAML []byte

// DefaultConfigPath returns ~/.config/sorcerer/sorcerer.yaml.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", sorcerr.Errorf(sorcerr.CodeConfigLoadReadFailure, "resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "sorcerer", "sorcerer.yaml"), nil
}

// WriteDefaultConfig writes the commented default config to path unless a
// file already exists there. It reports whether a file was written.
func WriteDefaultConfig(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return false, sorcerr.Errorf(sorcerr.CodeConfigLoadReadFailure, "creating config directory: %w", err)
	}
	if err := os.WriteFile(path, DefaultConfigYAML, 0o600); err != nil {
		return false, sorcerr.Errorf(sorcerr.CodeConfigLoadReadFailure, "writing default config: %w", err)
	}

	slog.Info("created default config", "path", path)
	return true, nil
}
