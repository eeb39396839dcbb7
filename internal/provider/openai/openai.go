// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

package openai

import (
	"context"
	"strings"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/sorcerer-dev/sorcerer/internal/index"
	"github.com/sorcerer-dev/sorcerer/internal/provider"
	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
)

// Default models used when the config leaves one unset.
const (
	DefaultModel          = "gpt-4.1-mini"
	DefaultEmbeddingModel = "text-embedding-3-small"
)

// Config holds OpenAI provider configuration.
type Config struct {
	APIKey  string
	BaseURL string // optional, useful for testing against a mock server or a compatible gateway
	Model   string
}

func newClient(cfg Config) (openaisdk.Client, error) {
	if cfg.APIKey == "" {
		return openaisdk.Client{}, sorcerr.New(sorcerr.CodeProviderRequestInvalid, "openai: missing api_key in config",
			sorcerr.FieldProvider(provider.NameOpenAI))
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return openaisdk.NewClient(opts...), nil
}

// Provider implements provider.Provider using the Chat Completions API.
type Provider struct {
	client openaisdk.Client
	model  string
}

var _ provider.Provider = (*Provider)(nil)

// New creates a new OpenAI provider. Returns an error if the API key is missing.
func New(cfg Config) (*Provider, error) {
	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &Provider{client: client, model: model}, nil
}

func (p *Provider) Name() string { return provider.NameOpenAI }

func (p *Provider) Complete(ctx context.Context, req provider.CompletionRequest) (*provider.Completion, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, sorcerr.New(sorcerr.CodeProviderRequestInvalid, "openai: empty prompt",
			sorcerr.FieldProvider(provider.NameOpenAI))
	}

	resp, err := p.client.Chat.Completions.New(ctx, buildParams(req, p.model))
	if err != nil {
		return nil, sorcerr.Wrap(err, sorcerr.CodeProviderUpstreamFailure, "openai: creating chat completion",
			sorcerr.FieldProvider(provider.NameOpenAI))
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, sorcerr.New(sorcerr.CodeProviderResponseInvalid, "openai: response has no content",
			sorcerr.FieldProvider(provider.NameOpenAI))
	}

	return &provider.Completion{
		Text:     resp.Choices[0].Message.Content,
		Provider: provider.NameOpenAI,
		Model:    resp.Model,
		Usage: provider.Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}, nil
}

func (p *Provider) Close() error { return nil }

// buildParams converts a provider.CompletionRequest into OpenAI SDK params.
// The system prompt is sent as a leading system message.
func buildParams(req provider.CompletionRequest, defaultModel string) openaisdk.ChatCompletionNewParams {
	model := req.Model
	if model == "" {
		model = defaultModel
	}

	var msgs []openaisdk.ChatCompletionMessageParamUnion
	if req.System != "" {
		msgs = append(msgs, openaisdk.SystemMessage(req.System))
	}
	msgs = append(msgs, openaisdk.UserMessage(req.Prompt))

	params := openaisdk.ChatCompletionNewParams{
		Model:               shared.ChatModel(model),
		Messages:            msgs,
		MaxCompletionTokens: param.NewOpt(int64(req.Tokens())),
	}
	if req.Temperature != nil {
		params.Temperature = param.NewOpt(float64(*req.Temperature))
	}
	return params
}

// Embedder implements index.Embedder with the Embeddings API.
type Embedder struct {
	client openaisdk.Client
	model  string
	dims   int
}

var _ index.Embedder = (*Embedder)(nil)

// NewEmbedder creates an embedder producing dims-wide vectors. cfg.Model
// names the embedding model.
func NewEmbedder(cfg Config, dims int) (*Embedder, error) {
	if dims <= 0 {
		return nil, sorcerr.Errorf(sorcerr.CodeProviderRequestInvalid, "openai: embedding dimensions must be positive, got %d", dims)
	}
	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	model := cfg.Model
	if model == "" {
		model = DefaultEmbeddingModel
	}
	return &Embedder{client: client, model: model, dims: dims}, nil
}

func (e *Embedder) Dimensions() int { return e.dims }

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Embeddings.New(ctx, openaisdk.EmbeddingNewParams{
		Input:      openaisdk.EmbeddingNewParamsInputUnion{OfString: param.NewOpt(text)},
		Model:      openaisdk.EmbeddingModel(e.model),
		Dimensions: param.NewOpt(int64(e.dims)),
	})
	if err != nil {
		return nil, sorcerr.Wrap(err, sorcerr.CodeProviderUpstreamFailure, "openai: creating embedding",
			sorcerr.FieldProvider(provider.NameOpenAI))
	}
	if len(resp.Data) == 0 {
		return nil, sorcerr.New(sorcerr.CodeProviderResponseInvalid, "openai: embedding response is empty",
			sorcerr.FieldProvider(provider.NameOpenAI))
	}

	raw := resp.Data[0].Embedding
	if len(raw) != e.dims {
		return nil, sorcerr.Errorf(sorcerr.CodeProviderResponseInvalid,
			"openai: embedding has %d dimensions, want %d", len(raw), e.dims)
	}
	out := make([]float32, len(raw))
	for i, v := range raw {
		out[i] = float32(v)
	}
	return out, nil
}
