// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/sorcerer-dev/sorcerer/internal/agent"
	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
)

func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Run tasks on the agent pools",
	}

	cmd.AddCommand(newTaskRunCmd())

	return cmd
}

func newTaskRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [query...]",
		Short: "Submit one task and print its result",
		Long: `Submit a task to the scheduler and wait for it to finish.

Without --type or --agent the task is routed by --mode. Agent parameters
are passed with --param, for example:

  sorcerer task run --agent memory --param op=remember --param key=topic --param value=rust`,
		RunE: runTaskRun,
	}

	addConstraintFlags(cmd)
	cmd.Flags().String("type", "", "agent type: scout, analyst, verifier, executor or memory")
	cmd.Flags().String("agent", "", "run on the named agent instance")
	cmd.Flags().StringToString("param", nil, "task parameter as key=value; repeatable")
	cmd.Flags().Duration("timeout", 0, "task deadline (0 uses the configured timeout)")

	return cmd
}

// taskFromFlags builds a task from the run flags. The mode only routes the
// task when neither an agent type nor a name is given.
func taskFromFlags(cmd *cobra.Command, args []string) (agent.Task, error) {
	q, err := searchQueryFromFlags(cmd, strings.Join(args, " "))
	if err != nil {
		return agent.Task{}, err
	}

	f := cmd.Flags()
	typeFlag, _ := f.GetString("type")
	name, _ := f.GetString("agent")
	params, _ := f.GetStringToString("param")
	timeout, _ := f.GetDuration("timeout")

	task := agent.Task{
		Query:       q.Text,
		Mode:        q.Mode,
		Constraints: q.Constraints,
		Actions:     q.Actions,
		AgentName:   name,
		Timeout:     timeout,
	}
	if typeFlag != "" {
		typ, err := agent.ParseType(typeFlag)
		if err != nil {
			return agent.Task{}, sorcerr.Errorf(sorcerr.CodeCLIInputInvalid, "--type: %w", err)
		}
		task.AgentType = typ
	}
	if (typeFlag != "" || name != "") && !f.Changed("mode") {
		task.Mode = ""
	}
	if len(params) > 0 {
		task.Params = make(map[string]any, len(params))
		for k, v := range params {
			task.Params[k] = v
		}
	}
	return task, nil
}

func runTaskRun(cmd *cobra.Command, args []string) error {
	task, err := taskFromFlags(cmd, args)
	if err != nil {
		return err
	}

	eng, cleanup, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := eng.Scheduler.Submit(cmd.Context(), task)
	if err != nil {
		return err
	}
	if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
		return err
	}
	return res.Err()
}
