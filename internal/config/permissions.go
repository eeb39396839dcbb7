// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

//go:build !windows

package config

import (
	"io/fs"
	"log/slog"
	"os"
)

const groupOrOtherRead fs.FileMode = 0o044

// ExposedToOthers reports whether the file at path is readable by its group
// or by other users. Provider API keys may live in the config file.
func ExposedToOthers(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	return info.Mode().Perm()&groupOrOtherRead != 0, nil
}

// WarnInsecurePermissions logs a warning when the loaded config file is
// readable beyond its owner. It never fails startup.
func WarnInsecurePermissions(path string) {
	if path == "" {
		return
	}

	exposed, err := ExposedToOthers(path)
	if err != nil {
		slog.Debug("skipping config permission check", "path", path, "error", err)
		return
	}
	if exposed {
		slog.Warn("config file has insecure permissions, api keys may be readable by other users",
			"path", path,
			"recommended", "0600",
		)
	}
}
