// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

//go:build windows

package config

import "log/slog"

// ExposedToOthers always reports false on Windows, where access is governed
// by ACLs rather than mode bits.
func ExposedToOthers(string) (bool, error) { return false, nil }

// WarnInsecurePermissions is a no-op on Windows.
func WarnInsecurePermissions(path string) {
	if path != "" {
		slog.Debug("config permission check not supported on windows", "path", path)
	}
}
