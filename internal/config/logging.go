// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

package config

import (
	"io"
	"log/slog"
	"os"
	"strings"

	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
)

// ParseLogLevel converts a configured level name into a slog.Level.
// Unknown names fall back to info.
func ParseLogLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the process logger described by sys. Output goes to
// fallback unless sys.LogFile is set, in which case the file is opened in
// append mode and returned as the closer.
func NewLogger(sys SystemConfig, fallback io.Writer) (*slog.Logger, io.Closer, error) {
	out := fallback
	var closer io.Closer = io.NopCloser(nil)

	if sys.LogFile != "" {
		f, err := os.OpenFile(sys.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, nil, sorcerr.Errorf(sorcerr.CodeConfigLoadReadFailure, "opening log file %s: %w", sys.LogFile, err)
		}
		out = f
		closer = f
	}

	opts := &slog.HandlerOptions{Level: ParseLogLevel(sys.LogLevel)}

	var handler slog.Handler
	if sys.LogFormat == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	logger := slog.New(handler).With("service", strings.ToLower(sys.Name))
	return logger, closer, nil
}
