// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sorcerer-dev/sorcerer/internal/config"
	"github.com/sorcerer-dev/sorcerer/internal/secrets"
	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
)

// NewRootCmd creates the root sorcerer command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "sorcerer",
		Short:         "Sorcerer: agent-orchestrated multi-modal retrieval",
		Long:          "Sorcerer indexes documents into keyword, semantic, graph and time-based backends and answers queries through a pool of cooperating agents.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initViper(cmd)
		},
	}

	// Global flags, mapped to viper keys in initViper.
	root.PersistentFlags().StringP("config", "c", "", "path to config file")
	root.PersistentFlags().String("data-dir", "", "path to data directory")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newServeCmd(),
		newQueryCmd(),
		newTaskCmd(),
		newIndexCmd(),
		newSecretCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)

	return root
}

// initViper sets up the global Viper with defaults, env bindings, flag
// bindings, and optional config file so the standard precedence
// (flag > env > file > defaults) is handled uniformly.
func initViper(cmd *cobra.Command) error {
	viper.Reset()
	v := viper.GetViper()

	config.SetDefaults(v)
	config.SetupEnv(v)

	if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return sorcerr.Errorf(sorcerr.CodeConfigLoadReadFailure, "reading config file: %w", err)
		}
	} else {
		// SetConfigType is left unset so viper never matches a bare
		// ./sorcerer binary in the working directory.
		v.SetConfigName("sorcerer")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/sorcerer")
		v.AddConfigPath("/etc/sorcerer")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return sorcerr.Errorf(sorcerr.CodeConfigLoadReadFailure, "reading config: %w", err)
			}
			if err := bootstrapConfig(v); err != nil {
				return err
			}
		}
	}

	if err := v.BindPFlag("data_dir", cmd.Root().PersistentFlags().Lookup("data-dir")); err != nil {
		return sorcerr.Errorf(sorcerr.CodeCLISetupFailure, "binding data-dir flag: %w", err)
	}
	if err := v.BindPFlag("verbose", cmd.Root().PersistentFlags().Lookup("verbose")); err != nil {
		return sorcerr.Errorf(sorcerr.CodeCLISetupFailure, "binding verbose flag: %w", err)
	}

	return nil
}

// bootstrapConfig writes the default config to ~/.config/sorcerer when no
// config exists anywhere, then reads it. Failing to write is not fatal;
// defaults and env vars still apply.
func bootstrapConfig(v *viper.Viper) error {
	path, err := config.DefaultConfigPath()
	if err != nil {
		slog.Warn("no config found and no home directory to bootstrap one", "error", err)
		return nil
	}
	if _, err := config.WriteDefaultConfig(path); err != nil {
		slog.Warn("bootstrapping default config", "path", path, "error", err)
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return sorcerr.Errorf(sorcerr.CodeConfigLoadReadFailure, "reading bootstrapped config: %w", err)
	}
	return nil
}

// loadConfig decodes and validates the configuration resolved by initViper.
func loadConfig() (*config.Config, error) {
	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		return nil, err
	}
	if viper.GetBool("verbose") {
		cfg.System.LogLevel = "debug"
	}
	return cfg, nil
}

// openEngine loads config, resolves keyring references, installs the
// process logger and wires the engine. The returned cleanup flushes
// pending documents and closes everything.
func openEngine(cmd *cobra.Command) (*Engine, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if err := secrets.ResolveConfig(cfg, secretStoreFactory()); err != nil {
		return nil, nil, err
	}

	logger, logCloser, err := config.NewLogger(cfg.System, cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)
	config.WarnInsecurePermissions(viper.ConfigFileUsed())

	eng, err := WireEngine(cmd.Context(), cfg, logger)
	if err != nil {
		_ = logCloser.Close()
		return nil, nil, err
	}

	cleanup := func() {
		if err := eng.Close(context.Background()); err != nil {
			logger.Warn("shutting down engine", "error", err)
		}
		_ = logCloser.Close()
	}
	return eng, cleanup, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
