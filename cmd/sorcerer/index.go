// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sorcerer-dev/sorcerer/internal/index"
	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
)

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Add, inspect and remove indexed documents",
	}

	cmd.AddCommand(
		newIndexAddCmd(),
		newIndexGetCmd(),
		newIndexDeleteCmd(),
		newIndexCrawlCmd(),
		newIndexBackendsCmd(),
	)

	return cmd
}

func newIndexAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add [file...]",
		Short: "Index files, or stdin when no file (or -) is given",
		RunE:  runIndexAdd,
	}

	cmd.Flags().String("backend", "", "target backend name (required)")
	cmd.Flags().String("source", "", "source recorded on every document (default: the file path)")
	cmd.Flags().String("title", "", "document title")
	cmd.Flags().Float32("trust", index.DefaultTrustScore, "trust score in [0, 1]")
	cmd.Flags().StringSlice("tag", nil, "tag; repeatable")
	_ = cmd.MarkFlagRequired("backend")

	return cmd
}

func newIndexGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <backend> <id>",
		Short: "Print one document as JSON",
		Args:  cobra.ExactArgs(2),
		RunE:  runIndexGet,
	}
}

func newIndexDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <backend> <id>",
		Short: "Remove one document",
		Args:  cobra.ExactArgs(2),
		RunE:  runIndexDelete,
	}
}

func newIndexCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl <url...>",
		Short: "Fetch pages and index them",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runIndexCrawl,
	}

	cmd.Flags().String("backend", "", "target backend name (required)")
	_ = cmd.MarkFlagRequired("backend")

	return cmd
}

func newIndexBackendsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List the configured backends",
		Args:  cobra.NoArgs,
		RunE:  runIndexBackends,
	}
}

// readDocuments loads one document per path. "-" or no path reads stdin.
func readDocuments(cmd *cobra.Command, paths []string) ([]*index.Document, error) {
	f := cmd.Flags()
	source, _ := f.GetString("source")
	title, _ := f.GetString("title")
	trust, _ := f.GetFloat32("trust")
	tags, _ := f.GetStringSlice("tag")

	if trust < 0 || trust > 1 {
		return nil, sorcerr.Errorf(sorcerr.CodeCLIInputInvalid, "--trust must be within [0, 1], got %v", trust)
	}
	if len(paths) == 0 {
		paths = []string{"-"}
	}

	docs := make([]*index.Document, 0, len(paths))
	for _, p := range paths {
		var (
			data []byte
			err  error
			src  = source
		)
		if p == "-" {
			data, err = io.ReadAll(cmd.InOrStdin())
			if src == "" {
				src = "stdin"
			}
		} else {
			data, err = os.ReadFile(p)
			if src == "" {
				if abs, absErr := filepath.Abs(p); absErr == nil {
					src = abs
				} else {
					src = p
				}
			}
		}
		if err != nil {
			return nil, sorcerr.Errorf(sorcerr.CodeCLIInputInvalid, "reading %s: %w", p, err)
		}
		if len(data) == 0 {
			return nil, sorcerr.Errorf(sorcerr.CodeCLIInputInvalid, "%s is empty", p)
		}

		doc := index.NewDocument(string(data), src)
		doc.Metadata.Title = title
		doc.Metadata.TrustScore = trust
		doc.Metadata.Tags = tags
		docs = append(docs, doc)
	}
	return docs, nil
}

func runIndexAdd(cmd *cobra.Command, args []string) error {
	docs, err := readDocuments(cmd, args)
	if err != nil {
		return err
	}
	backend, _ := cmd.Flags().GetString("backend")

	eng, cleanup, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	commit, err := eng.Pipeline.Submit(cmd.Context(), backend, docs...)
	if err != nil {
		return err
	}
	if err := commit.Err(); err != nil {
		return err
	}
	if err := eng.Pipeline.Flush(cmd.Context()); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, d := range docs {
		_, _ = fmt.Fprintln(out, d.ID)
	}
	return nil
}

func lookupBackend(eng *Engine, name string) (index.Backend, error) {
	b, ok := eng.Backends.Lookup(name)
	if !ok {
		return index.Backend{}, sorcerr.Errorf(sorcerr.CodeServerEntityNotFound, "backend %q is not configured", name)
	}
	return b, nil
}

func runIndexGet(cmd *cobra.Command, args []string) error {
	eng, cleanup, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	b, err := lookupBackend(eng, args[0])
	if err != nil {
		return err
	}
	doc, ok, err := b.Store.Get(cmd.Context(), args[1])
	if err != nil {
		return err
	}
	if !ok {
		return sorcerr.Errorf(sorcerr.CodeIndexDocumentNotFound, "document %q not found in %s", args[1], args[0])
	}
	doc.Embedding = nil
	return writeJSON(cmd.OutOrStdout(), doc)
}

func runIndexDelete(cmd *cobra.Command, args []string) error {
	eng, cleanup, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	b, err := lookupBackend(eng, args[0])
	if err != nil {
		return err
	}
	removed, err := b.Store.Delete(cmd.Context(), args[1])
	if err != nil {
		return err
	}
	if !removed {
		return sorcerr.Errorf(sorcerr.CodeIndexDocumentNotFound, "document %q not found in %s", args[1], args[0])
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s from %s\n", args[1], args[0])
	return nil
}

func runIndexCrawl(cmd *cobra.Command, args []string) error {
	backend, _ := cmd.Flags().GetString("backend")

	eng, cleanup, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	report, err := eng.Pipeline.Crawl(cmd.Context(), backend, args)
	if werr := writeJSON(cmd.OutOrStdout(), report); werr != nil {
		return werr
	}
	return err
}

func runIndexBackends(cmd *cobra.Command, _ []string) error {
	eng, cleanup, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	types := make(map[string]string, len(eng.Config.Backends))
	for _, bc := range eng.Config.Backends {
		types[bc.Name] = bc.Type
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tTYPE\tMODE")
	for _, b := range eng.Backends.All() {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", b.Name, types[b.Name], b.Mode)
	}
	return tw.Flush()
}
