// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

package agents

import (
	"context"
	"sort"

	"github.com/sorcerer-dev/sorcerer/internal/agent"
	"github.com/sorcerer-dev/sorcerer/internal/index"
	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
)

// SalientTermCount is how many terms the Analyst keeps per document.
const SalientTermCount = 12

// Analysis is the Analyst's view of one document.
type Analysis struct {
	ID       string         `json:"id"`
	Source   string         `json:"source,omitempty"`
	Terms    []string       `json:"terms"`
	Entities []index.Entity `json:"entities,omitempty"`
	// Agreement is the mean overlap with every other analysed document.
	Agreement float32 `json:"agreement"`
}

// Pair is the overlap between two analysed documents.
type Pair struct {
	A         string  `json:"a"`
	B         string  `json:"b"`
	Agreement float32 `json:"agreement"`
}

// Analyst loads documents by id, extracts salient terms and known entities
// and measures how far the documents agree with one another. Without ids
// it analyses the hits of a graph query for the task text.
type Analyst struct {
	agent.Base
	deps Deps
}

func NewAnalyst(name string, mem *agent.Memory, deps Deps) *Analyst {
	return &Analyst{Base: agent.NewBase(name, agent.TypeAnalyst, mem), deps: deps}
}

func (a *Analyst) Execute(ctx context.Context, x *agent.Execution) (*agent.AgentResult, error) {
	wanted := x.Task.Strings(ParamIDs)
	backends := x.Task.Strings(ParamBackends)
	contents := x.Task.Strings(ParamContents)

	if len(wanted) == 0 {
		q := x.Task.SearchQuery()
		if q.Mode == "" {
			q.Mode = index.ModeGraph
		}
		res, err := search(ctx, a.deps.Planner, q)
		if err != nil {
			return nil, err
		}
		wanted = ids(res.Results)
		backends = backendsOf(res.Results)
		contents = contents[:0]
		for _, r := range res.Results {
			contents = append(contents, r.Content)
		}
	}
	if len(wanted) == 0 {
		return agent.Succeed(map[string]any{"documents": []Analysis{}, "agreement": float32(0)}, 0), nil
	}

	reg := a.deps.Planner.Registry()
	docs := make([]Analysis, 0, len(wanted))
	var missing []string
	for i, id := range wanted {
		backend := ""
		if i < len(backends) {
			backend = backends[i]
		}
		doc, _, err := reg.FindIn(ctx, backend, id)
		if err != nil {
			x.Logger.Warn("document lookup failed", "id", id, "error", err)
		}
		switch {
		case doc != nil:
			docs = append(docs, Analysis{
				ID:       id,
				Source:   doc.Metadata.Source,
				Terms:    index.SalientTerms(doc.Content, SalientTermCount),
				Entities: doc.Entities,
			})
		case i < len(contents) && contents[i] != "":
			docs = append(docs, Analysis{ID: id, Terms: index.SalientTerms(contents[i], SalientTermCount)})
		default:
			missing = append(missing, id)
		}
	}
	if len(docs) == 0 {
		return nil, sorcerr.Errorf(sorcerr.CodeAgentExecutionFailure, "none of the %d documents could be loaded", len(wanted))
	}

	pairs, overall := agreement(docs)
	output := map[string]any{
		"documents": docs,
		"pairs":     pairs,
		"agreement": overall,
	}
	if len(missing) > 0 {
		output["missing"] = missing
	}

	x.Memory.Set("last_analysis", wanted)
	return agent.Succeed(output, float32(len(docs))/float32(len(wanted))), nil
}

// agreement fills each document's mean pairwise Jaccard overlap of terms
// and entity names and returns every pair plus the overall mean. A single
// document agrees with itself.
func agreement(docs []Analysis) ([]Pair, float32) {
	if len(docs) == 1 {
		docs[0].Agreement = 1
		return []Pair{}, 1
	}

	sets := make([]map[string]bool, len(docs))
	for i, d := range docs {
		set := make(map[string]bool, len(d.Terms)+len(d.Entities))
		for _, t := range d.Terms {
			set[t] = true
		}
		for _, e := range d.Entities {
			for _, tok := range index.Tokenize(e.Name) {
				set[tok] = true
			}
		}
		sets[i] = set
	}

	sums := make([]float32, len(docs))
	pairs := make([]Pair, 0, len(docs)*(len(docs)-1)/2)
	var total float32
	for i := range docs {
		for j := i + 1; j < len(docs); j++ {
			v := jaccard(sets[i], sets[j])
			pairs = append(pairs, Pair{A: docs[i].ID, B: docs[j].ID, Agreement: v})
			sums[i] += v
			sums[j] += v
			total += v
		}
	}
	for i := range docs {
		docs[i].Agreement = sums[i] / float32(len(docs)-1)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].A != pairs[j].A {
			return pairs[i].A < pairs[j].A
		}
		return pairs[i].B < pairs[j].B
	})
	return pairs, total / float32(len(pairs))
}

func jaccard(a, b map[string]bool) float32 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if b[k] {
			inter++
		}
	}
	return float32(inter) / float32(len(a)+len(b)-inter)
}
