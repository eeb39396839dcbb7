// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/sorcerer-dev/sorcerer/internal/config"
	"github.com/sorcerer-dev/sorcerer/internal/secrets"
	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
)

const redacted = "<redacted>"

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate configuration",
	}

	cmd.AddCommand(
		newConfigShowCmd(),
		newConfigValidateCmd(),
		newConfigInitCmd(),
	)

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML with secrets redacted",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	}
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and report every problem",
		Args:  cobra.NoArgs,
		RunE:  runConfigValidate,
	}
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runConfigInit,
	}
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	settings := viper.AllSettings()
	redact(settings)

	if used := viper.ConfigFileUsed(); used != "" {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", used)
	}
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(settings); err != nil {
		return sorcerr.Errorf(sorcerr.CodeCLIRequestFailure, "encoding config: %w", err)
	}
	return enc.Close()
}

// redact blanks every api_key that holds a literal secret. Keyring
// references are kept since they carry no secret.
func redact(v any) {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			if s, ok := val.(string); ok && strings.EqualFold(k, "api_key") && s != "" && !secrets.IsRef(s) {
				t[k] = redacted
				continue
			}
			redact(val)
		}
	case []any:
		for _, val := range t {
			redact(val)
		}
	case []map[string]any:
		for _, val := range t {
			redact(val)
		}
	}
}

func runConfigValidate(cmd *cobra.Command, _ []string) error {
	var cfg config.Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return sorcerr.Errorf(sorcerr.CodeConfigParseInvalidFormat, "unmarshalling config: %w", err)
	}

	errs := cfg.Validate()
	out := cmd.OutOrStdout()
	if len(errs) == 0 {
		_, _ = fmt.Fprintln(out, "Configuration is valid.")
		return nil
	}
	for _, err := range errs {
		_, _ = fmt.Fprintf(out, "  - %v\n", err)
	}
	return sorcerr.Errorf(sorcerr.CodeConfigValidateInvalidValue, "configuration has %d problem(s)", len(errs))
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	var path string
	if len(args) == 1 {
		path = args[0]
	} else {
		p, err := config.DefaultConfigPath()
		if err != nil {
			return err
		}
		path = p
	}

	written, err := config.WriteDefaultConfig(path)
	if err != nil {
		return err
	}
	if !written {
		return sorcerr.Errorf(sorcerr.CodeCLIInputInvalid, "%s already exists", path)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}
