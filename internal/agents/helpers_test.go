// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

package agents_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sorcerer-dev/sorcerer/internal/agent"
	"github.com/sorcerer-dev/sorcerer/internal/agents"
	"github.com/sorcerer-dev/sorcerer/internal/index"
	"github.com/sorcerer-dev/sorcerer/internal/index/indextest"
	"github.com/sorcerer-dev/sorcerer/internal/index/memory"
	"github.com/sorcerer-dev/sorcerer/internal/query"
)

type fixture struct {
	sched   *agent.Scheduler
	planner *query.Planner
	runner  *agents.Runner
	hooks   *agents.Hooks
}

func doc(id, source, content string, trust float32) *index.Document {
	d := indextest.Doc(id, content, trust)
	d.Metadata.Source = source
	return d
}

func corpus() []*index.Document {
	return []*index.Document{
		doc("rust-1", "docs.rust", "Rust ownership rules prevent data races. The borrow checker enforces ownership.", 0.9),
		doc("rust-2", "blog", "Ownership in Rust means each value has one owner. The borrow checker tracks ownership.", 0.6),
		doc("go-1", "go.dev", "Go channels pass ownership of data between goroutines.", 0.8),
		doc("cake-1", "recipes", "A sponge cake needs eggs flour and sugar.", 0.7),
	}
}

func newFixture(t *testing.T, opts agent.Options, summarizer *agents.Summarizer) *fixture {
	t.Helper()
	ctx := context.Background()

	store, err := memory.New(index.ModeKeyword, nil)
	require.NoError(t, err)
	for _, d := range corpus() {
		_, err := store.Insert(ctx, d)
		require.NoError(t, err)
	}
	reg := index.NewRegistry()
	require.NoError(t, reg.Register("notes", index.ModeKeyword, store))

	planner := query.NewPlanner(reg, nil)
	sched := agent.NewScheduler(opts)
	t.Cleanup(func() { _ = sched.Close() })

	hooks := agents.NewHooks()
	runner, err := agents.Install(sched, agents.Deps{
		Planner:    planner,
		Summarizer: summarizer,
		Hooks:      hooks,
	}, 0, agent.NewMemory(time.Hour))
	require.NoError(t, err)

	return &fixture{sched: sched, planner: planner, runner: runner, hooks: hooks}
}

func (f *fixture) submit(t *testing.T, task agent.Task) *agent.AgentResult {
	t.Helper()
	res, err := f.sched.Submit(context.Background(), task)
	require.NoError(t, err)
	return res
}

func keyword(text string, actions ...query.Action) query.SearchQuery {
	return query.SearchQuery{
		Mode:        index.ModeKeyword,
		Text:        text,
		Constraints: query.Constraints{MaxResults: 10},
		Actions:     actions,
	}
}

func byID(results []query.SearchResult) map[string]query.SearchResult {
	out := make(map[string]query.SearchResult, len(results))
	for _, r := range results {
		out[r.ID] = r
	}
	return out
}
