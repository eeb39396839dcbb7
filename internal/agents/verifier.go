// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

package agents

import (
	"context"
	"strings"

	"github.com/sorcerer-dev/sorcerer/internal/agent"
	"github.com/sorcerer-dev/sorcerer/internal/index"
	"github.com/sorcerer-dev/sorcerer/internal/query"
	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
)

const (
	// UncorroboratedFactor scales the trust of a result no other source
	// backs up.
	UncorroboratedFactor float32 = 0.5

	// uncorroboratedConfidence is the Verifier's confidence when it found
	// no corroboration.
	uncorroboratedConfidence float32 = 0.5

	corroborationTerms = 8
	corroborationLimit = 10
)

// Verifier checks one document against the rest of the corpus: it searches
// for the document's salient terms and counts hits from other sources.
type Verifier struct {
	agent.Base
	deps Deps
}

func NewVerifier(name string, mem *agent.Memory, deps Deps) *Verifier {
	return &Verifier{Base: agent.NewBase(name, agent.TypeVerifier, mem), deps: deps}
}

// verifyTask builds an optional Verifier task for r.
func verifyTask(text string, mode index.Mode, r query.SearchResult) agent.Task {
	return agent.Task{
		Query:     text,
		Mode:      mode,
		AgentType: agent.TypeVerifier,
		Params: map[string]any{
			ParamID:      r.ID,
			ParamBackend: r.Backend,
			ParamSource:  r.Source,
			ParamContent: r.Content,
		},
	}
}

func (v *Verifier) Execute(ctx context.Context, x *agent.Execution) (*agent.AgentResult, error) {
	id := x.Task.Param(ParamID)
	if id == "" {
		return nil, sorcerr.New(sorcerr.CodeAgentTaskInvalid, "verifier needs a document id", sorcerr.FieldTaskID(x.Task.ID))
	}
	source, content := x.Task.Param(ParamSource), x.Task.Param(ParamContent)

	doc, _, err := v.deps.Planner.Registry().FindIn(ctx, x.Task.Param(ParamBackend), id)
	if err != nil {
		x.Logger.Warn("document lookup failed; verifying the posted content", "id", id, "error", err)
	}
	if doc != nil {
		source, content = doc.Metadata.Source, doc.Content
	}

	text := strings.Join(index.SalientTerms(content, corroborationTerms), " ")
	if text == "" {
		text = x.Task.Query
	}
	if text == "" {
		return nil, sorcerr.New(sorcerr.CodeAgentTaskInvalid, "nothing to verify against", sorcerr.FieldDocumentID(id))
	}

	mode := x.Task.Mode
	if mode == "" || mode.Exclusive() {
		mode = index.ModeKeyword
	}
	res, err := search(ctx, v.deps.Planner, query.SearchQuery{
		Mode:        mode,
		Text:        text,
		Constraints: query.Constraints{MaxResults: corroborationLimit},
	})
	if err != nil {
		return nil, err
	}

	var (
		backing []string
		best    float32
	)
	for _, r := range res.Results {
		if r.ID == id || r.Source == source {
			continue
		}
		backing = append(backing, r.ID)
		best = max(best, r.Confidence)
	}

	corroborated := len(backing) > 0
	factor, confidence := float32(1), best
	if !corroborated {
		factor, confidence = UncorroboratedFactor, uncorroboratedConfidence
	}

	x.Memory.Set("verified:"+id, corroborated)
	return agent.Succeed(map[string]any{
		"id":             id,
		"corroborated":   corroborated,
		"corroborations": backing,
		"trust_factor":   factor,
	}, confidence), nil
}
