// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

package agents

import (
	"context"
	"log/slog"

	"github.com/sorcerer-dev/sorcerer/internal/provider"
	"github.com/sorcerer-dev/sorcerer/internal/provider/local"
	"github.com/sorcerer-dev/sorcerer/internal/scan"
	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
)

const (
	digestSystemPrompt = "Summarize the document below in at most three sentences. " +
		"Use only facts stated in the document. Reply with the summary alone."
	digestMaxTokens = 256
	// maxDigestInput caps how many runes of a document reach a provider.
	maxDigestInput = 16000
)

// Summarizer produces digests through the provider registry's failover
// chain and falls back to the local extractive digest when every remote
// provider fails or none is configured.
type Summarizer struct {
	registry *provider.Registry
	fallback *local.Provider
	guard    *scan.Scanner
	logger   *slog.Logger
}

// SummarizerOption configures a Summarizer.
type SummarizerOption func(*Summarizer)

// WithPromptGuard keeps text that matches a prompt-stage rule of s away
// from hosted providers. Such text is digested locally.
func WithPromptGuard(s *scan.Scanner) SummarizerOption {
	return func(sum *Summarizer) { sum.guard = s }
}

// NewSummarizer creates a summarizer. A nil registry always digests
// locally.
func NewSummarizer(reg *provider.Registry, maxSentences int, logger *slog.Logger, opts ...SummarizerOption) *Summarizer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Summarizer{registry: reg, fallback: local.New(maxSentences), logger: logger}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Digest summarizes text.
func (s *Summarizer) Digest(ctx context.Context, text string) (*provider.Completion, error) {
	if text == "" {
		return nil, sorcerr.New(sorcerr.CodeProviderRequestInvalid, "nothing to summarize")
	}
	if r := []rune(text); len(r) > maxDigestInput {
		text = string(r[:maxDigestInput])
	}
	req := provider.CompletionRequest{
		System:    digestSystemPrompt,
		Prompt:    text,
		MaxTokens: digestMaxTokens,
	}

	if s.registry != nil && len(s.registry.Chain()) > 0 && s.safe(text) {
		out, err := s.registry.Complete(ctx, req)
		if err == nil && out.Text != "" {
			return out, nil
		}
		if ctx.Err() != nil {
			return nil, sorcerr.Wrap(ctx.Err(), sorcerr.CodeProviderUpstreamFailure, "digest cancelled")
		}
		s.logger.Warn("remote digest failed, using local digest", "error", err)
	}
	return s.fallback.Complete(ctx, req)
}

func (s *Summarizer) safe(text string) bool {
	if s.guard == nil {
		return true
	}
	res, err := s.guard.Scan(text, scan.StagePrompt)
	if err != nil || res.Threat {
		s.logger.Warn("prompt guard tripped, digesting locally", "rules", res.Rules(), "error", err)
		return false
	}
	return true
}
