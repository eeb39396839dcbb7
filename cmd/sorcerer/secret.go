// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sorcerer-dev/sorcerer/internal/provider"
	"github.com/sorcerer-dev/sorcerer/internal/secrets"
	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
)

// serviceName is the keyring service under which secrets are stored.
const serviceName = "sorcerer"

const keyCheckTimeout = 15 * time.Second

// secretStoreFactory creates a secrets.Store. It is a package-level variable
// so tests can substitute a mock implementation.
var secretStoreFactory = func() secrets.Store {
	return secrets.KeyringStore{}
}

// keyChecker validates a provider key before it is stored. Tests replace it.
var keyChecker = func(ctx context.Context, name, key, baseURL string) error {
	return provider.CheckKey(ctx, &http.Client{Timeout: keyCheckTimeout}, name, key, baseURL)
}

func newSecretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage secrets stored in the OS keyring",
		Long: `Store and delete secrets under the sorcerer service in the operating
system keyring. Reference them from the config as keyring://sorcerer/<name>.`,
	}

	cmd.AddCommand(
		newSecretSetCmd(),
		newSecretDeleteCmd(),
	)

	return cmd
}

func newSecretSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <name>",
		Short: "Store a secret read from --value or the first line of stdin",
		Args:  cobra.ExactArgs(1),
		RunE:  runSecretSet,
	}

	cmd.Flags().String("value", "", "secret value (prefer stdin to keep it out of shell history)")
	cmd.Flags().String("provider", "", "validate the value as an API key for this provider before storing")
	cmd.Flags().String("base-url", "", "provider base URL used for validation")

	return cmd
}

func newSecretDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a secret by name",
		Args:  cobra.ExactArgs(1),
		RunE:  runSecretDelete,
	}
}

func runSecretSet(cmd *cobra.Command, args []string) error {
	name := args[0]
	f := cmd.Flags()
	value, _ := f.GetString("value")
	providerName, _ := f.GetString("provider")
	baseURL, _ := f.GetString("base-url")

	if !f.Changed("value") {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return sorcerr.Errorf(sorcerr.CodeCLIInputInvalid, "reading secret from stdin: %w", err)
		}
		value = line
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return sorcerr.New(sorcerr.CodeCLIInputInvalid, "secret value is empty")
	}

	if providerName != "" {
		if err := keyChecker(cmd.Context(), providerName, value, baseURL); err != nil {
			return err
		}
	}

	if err := secretStoreFactory().Set(serviceName, name, value); err != nil {
		return sorcerr.Errorf(sorcerr.CodeSecretStoreFailure, "storing secret %q: %w", name, err)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Stored secret: keyring://%s/%s\n", serviceName, name)
	return nil
}

func runSecretDelete(cmd *cobra.Command, args []string) error {
	name := args[0]

	removed, err := secretStoreFactory().Delete(serviceName, name)
	if err != nil {
		return sorcerr.Errorf(sorcerr.CodeSecretStoreFailure, "deleting secret %q: %w", name, err)
	}
	if !removed {
		return sorcerr.Errorf(sorcerr.CodeSecretNotFound, "secret %q not found", name)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted secret: %s\n", name)
	return nil
}
