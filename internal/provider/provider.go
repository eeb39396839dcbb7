// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

package provider

import (
	"context"
	"strings"
)

// Provider is a language model that turns a prompt into text. Providers
// are used for digests only and are never on the search path.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
	Close() error
}

// CompletionRequest is one non-streaming completion. An empty Model uses
// the provider's configured default.
type CompletionRequest struct {
	Model       string
	System      string
	Prompt      string
	MaxTokens   int
	Temperature *float32
}

// DefaultMaxTokens applies when a request leaves MaxTokens unset.
const DefaultMaxTokens = 1024

// Tokens returns MaxTokens or the default.
func (r CompletionRequest) Tokens() int {
	if r.MaxTokens > 0 {
		return r.MaxTokens
	}
	return DefaultMaxTokens
}

// Usage tracks token consumption.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Completion is a provider's answer.
type Completion struct {
	Text     string `json:"text"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Usage    Usage  `json:"usage"`
}

// Known provider names.
const (
	NameAnthropic = "anthropic"
	NameOpenAI    = "openai"
	NameGoogle    = "google"
	NameOllama    = "ollama"
	NameLocal     = "local"
)

// Names lists the providers the wiring layer can build.
func Names() []string {
	return []string{NameAnthropic, NameOpenAI, NameGoogle, NameOllama, NameLocal}
}

// parseRef splits a "provider/model" reference on the first "/".
func parseRef(ref string) (providerName, model string) {
	idx := strings.Index(ref, "/")
	if idx < 0 {
		return ref, ""
	}
	return ref[:idx], ref[idx+1:]
}
