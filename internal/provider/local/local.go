// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

// Package local is an offline provider producing extractive digests. It
// needs no network and always succeeds on non-empty input, so it ends
// every summarizer chain.
package local

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/sorcerer-dev/sorcerer/internal/index"
	"github.com/sorcerer-dev/sorcerer/internal/provider"
	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
)

// DefaultMaxSentences bounds a digest when the caller sets no limit.
const DefaultMaxSentences = 3

// Model is reported on every completion.
const Model = "extractive"

// Provider implements provider.Provider with Digest. The system prompt is
// ignored.
type Provider struct {
	maxSentences int
}

var _ provider.Provider = (*Provider)(nil)

func New(maxSentences int) *Provider {
	if maxSentences <= 0 {
		maxSentences = DefaultMaxSentences
	}
	return &Provider{maxSentences: maxSentences}
}

func (p *Provider) Name() string { return provider.NameLocal }

func (p *Provider) Complete(ctx context.Context, req provider.CompletionRequest) (*provider.Completion, error) {
	if err := ctx.Err(); err != nil {
		return nil, sorcerr.Wrap(err, sorcerr.CodeProviderUpstreamFailure, "local: cancelled")
	}
	text := Digest(req.Prompt, p.maxSentences)
	if text == "" {
		return nil, sorcerr.New(sorcerr.CodeProviderRequestInvalid, "local: nothing to summarize",
			sorcerr.FieldProvider(provider.NameLocal))
	}
	return &provider.Completion{
		Text:     text,
		Provider: provider.NameLocal,
		Model:    Model,
		Usage: provider.Usage{
			InputTokens:  len(index.Tokenize(req.Prompt)),
			OutputTokens: len(index.Tokenize(text)),
		},
	}, nil
}

func (p *Provider) Close() error { return nil }

// Digest picks the max sentences of text that carry the most frequent
// content words and returns them in their original order. Sentences that
// repeat an earlier one are dropped.
func Digest(text string, max int) string {
	if max <= 0 {
		max = DefaultMaxSentences
	}
	sentences := Sentences(text)
	if len(sentences) == 0 {
		return ""
	}

	freq := make(map[string]int)
	for _, s := range sentences {
		for _, tok := range index.Tokenize(s) {
			if !index.IsStopword(tok) {
				freq[tok]++
			}
		}
	}

	type scored struct {
		pos   int
		score float64
	}
	seen := make(map[string]bool, len(sentences))
	var candidates []scored
	for i, s := range sentences {
		key := strings.Join(index.Tokenize(s), " ")
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true

		var sum, n float64
		for _, tok := range index.Tokenize(s) {
			if index.IsStopword(tok) {
				continue
			}
			sum += float64(freq[tok])
			n++
		}
		if n == 0 {
			continue
		}
		candidates = append(candidates, scored{pos: i, score: sum / n})
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > max {
		candidates = candidates[:max]
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].pos < candidates[j].pos })

	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = sentences[c.pos]
	}
	return strings.Join(out, " ")
}

// Sentences splits text at sentence punctuation followed by whitespace and
// at line breaks. Blank fragments are dropped.
func Sentences(text string) []string {
	var out []string
	var cur strings.Builder
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}

	runes := []rune(text)
	for i, r := range runes {
		if r == '\n' {
			flush()
			continue
		}
		cur.WriteRune(r)
		if (r == '.' || r == '!' || r == '?') && (i+1 == len(runes) || unicode.IsSpace(runes[i+1])) {
			flush()
		}
	}
	flush()
	return out
}
