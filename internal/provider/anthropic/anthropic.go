// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

package anthropic

import (
	"context"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/sorcerer-dev/sorcerer/internal/provider"
	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
)

// DefaultModel is used when neither the config nor the request names one.
const DefaultModel = "claude-haiku-4-5"

// Config holds Anthropic provider configuration.
type Config struct {
	APIKey  string
	BaseURL string // optional, useful for testing against a mock server
	Model   string
}

// Provider implements provider.Provider using the Anthropic Messages API.
type Provider struct {
	client anthropicsdk.Client
	model  string
}

var _ provider.Provider = (*Provider)(nil)

// New creates a new Anthropic provider. Returns an error if the API key is missing.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, sorcerr.New(sorcerr.CodeProviderRequestInvalid, "anthropic: missing api_key in config",
			sorcerr.FieldProvider(provider.NameAnthropic))
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &Provider{client: anthropicsdk.NewClient(opts...), model: model}, nil
}

func (p *Provider) Name() string { return provider.NameAnthropic }

func (p *Provider) Complete(ctx context.Context, req provider.CompletionRequest) (*provider.Completion, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, sorcerr.New(sorcerr.CodeProviderRequestInvalid, "anthropic: empty prompt",
			sorcerr.FieldProvider(provider.NameAnthropic))
	}

	msg, err := p.client.Messages.New(ctx, buildParams(req, p.model))
	if err != nil {
		return nil, sorcerr.Wrap(err, sorcerr.CodeProviderUpstreamFailure, "anthropic: creating message",
			sorcerr.FieldProvider(provider.NameAnthropic))
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, sorcerr.New(sorcerr.CodeProviderResponseInvalid, "anthropic: response has no text content",
			sorcerr.FieldProvider(provider.NameAnthropic))
	}

	return &provider.Completion{
		Text:     text.String(),
		Provider: provider.NameAnthropic,
		Model:    string(msg.Model),
		Usage: provider.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}, nil
}

func (p *Provider) Close() error { return nil }

// buildParams converts a provider.CompletionRequest into Anthropic SDK params.
func buildParams(req provider.CompletionRequest, defaultModel string) anthropicsdk.MessageNewParams {
	model := req.Model
	if model == "" {
		model = defaultModel
	}

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(model),
		MaxTokens: int64(req.Tokens()),
		Messages: []anthropicsdk.MessageParam{
			anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropicsdk.Float(float64(*req.Temperature))
	}
	return params
}
