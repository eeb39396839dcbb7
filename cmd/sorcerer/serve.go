// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and gRPC servers",
		Long:  "Load configuration, open every backend, start the agent pools and serve the HTTP API and gRPC health service until interrupted.",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}

	cmd.Flags().String("host", "", "override api.host")
	cmd.Flags().Int("port", 0, "override api.port")
	cmd.Flags().Int("grpc-port", -1, "override api.grpc_port (0 disables gRPC)")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	eng, cleanup, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	api := &eng.Config.API
	if cmd.Flags().Changed("host") {
		api.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		api.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("grpc-port") {
		api.GRPCPort, _ = cmd.Flags().GetInt("grpc-port")
	}

	srv, err := eng.NewServer(version)
	if err != nil {
		return err
	}
	defer func() { _ = srv.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "sorcerer %s serving on %s:%d (%d backends)\n",
		version, api.Host, api.Port, len(eng.Backends.All()))
	return srv.Start(ctx)
}
