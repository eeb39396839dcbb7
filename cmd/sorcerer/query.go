// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sorcerer-dev/sorcerer/internal/agent"
	"github.com/sorcerer-dev/sorcerer/internal/index"
	"github.com/sorcerer-dev/sorcerer/internal/query"
	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
)

func newQueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query <text...>",
		Short: "Search the configured backends",
		Long:  "Plan and run one query across every backend serving the mode, then apply any post-actions (verify, compare, summarize, execute).",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runQuery,
	}

	addConstraintFlags(cmd)
	cmd.Flags().Bool("json", false, "print the full result as JSON")

	return cmd
}

// addConstraintFlags registers the mode, constraint and action flags shared
// by query and task run.
func addConstraintFlags(cmd *cobra.Command) {
	cmd.Flags().String("mode", string(index.ModeKeyword), "search mode: "+joinModes())
	cmd.Flags().Float32("min-trust", 0, "drop results below this trust score")
	cmd.Flags().Int("max", agent.DefaultMaxResults, "maximum number of results")
	cmd.Flags().String("updated-after", "", "only documents updated after this RFC 3339 time")
	cmd.Flags().StringSlice("action", nil, "post-action to apply; repeatable")
}

func joinModes() string {
	modes := index.Modes()
	out := make([]string, len(modes))
	for i, m := range modes {
		out[i] = string(m)
	}
	return strings.Join(out, ", ")
}

// searchQueryFromFlags builds and validates a query from the shared flags.
func searchQueryFromFlags(cmd *cobra.Command, text string) (query.SearchQuery, error) {
	f := cmd.Flags()
	modeFlag, _ := f.GetString("mode")
	minTrust, _ := f.GetFloat32("min-trust")
	maxResults, _ := f.GetInt("max")
	updatedAfter, _ := f.GetString("updated-after")
	actionFlags, _ := f.GetStringSlice("action")

	q := query.SearchQuery{
		Text:        text,
		Constraints: query.Constraints{MinTrust: minTrust, MaxResults: maxResults},
	}
	if modeFlag != "" {
		mode, err := index.ParseMode(modeFlag)
		if err != nil {
			return q, sorcerr.Errorf(sorcerr.CodeCLIInputInvalid, "--mode: %w", err)
		}
		q.Mode = mode
	}
	if updatedAfter != "" {
		t, err := time.Parse(time.RFC3339, updatedAfter)
		if err != nil {
			return q, sorcerr.Errorf(sorcerr.CodeCLIInputInvalid, "--updated-after must be RFC 3339: %w", err)
		}
		q.Constraints.UpdatedAfter = &t
	}
	for _, s := range actionFlags {
		a, err := query.ParseAction(s)
		if err != nil {
			return q, sorcerr.Errorf(sorcerr.CodeCLIInputInvalid, "--action: %w", err)
		}
		q.Actions = append(q.Actions, a)
	}
	return q, nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	q, err := searchQueryFromFlags(cmd, strings.Join(args, " "))
	if err != nil {
		return err
	}
	if err := q.Validate(); err != nil {
		return sorcerr.Errorf(sorcerr.CodeCLIInputInvalid, "invalid query: %w", err)
	}

	eng, cleanup, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := eng.Planner.Execute(cmd.Context(), q)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return writeJSON(out, res)
	}

	if len(res.Results) == 0 {
		_, _ = fmt.Fprintln(out, "No results.")
	} else {
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "RANK\tTRUST\tBACKEND\tID\tTITLE")
		for _, r := range res.Results {
			_, _ = fmt.Fprintf(tw, "%.3f\t%.2f\t%s\t%s\t%s\n", r.Rank, r.TrustScore, r.Backend, r.ID, r.Title)
		}
		_ = tw.Flush()
	}
	for _, f := range res.Failures {
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s: %s\n", f.Source, f.Error)
	}
	return nil
}
