// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

package ollama

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"github.com/sorcerer-dev/sorcerer/internal/index"
	"github.com/sorcerer-dev/sorcerer/internal/provider"
	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
)

// Defaults for a local Ollama server.
const (
	DefaultBaseURL        = "http://localhost:11434"
	DefaultModel          = "llama3.2"
	DefaultEmbeddingModel = "nomic-embed-text"
)

// Config holds Ollama configuration. No API key is needed.
type Config struct {
	BaseURL    string
	Model      string
	HTTPClient *http.Client
}

func newClient(cfg Config) (*api.Client, error) {
	raw := cfg.BaseURL
	if raw == "" {
		raw = DefaultBaseURL
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, sorcerr.Errorf(sorcerr.CodeProviderRequestInvalid, "ollama: invalid base_url %q", raw)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	return api.NewClient(u, hc), nil
}

// Provider implements provider.Provider with the Ollama generate API.
type Provider struct {
	client *api.Client
	model  string
}

var _ provider.Provider = (*Provider)(nil)

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

func (p *Provider) Name() string { return provider.NameOllama }

func (p *Provider) Complete(ctx context.Context, req provider.CompletionRequest) (*provider.Completion, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, sorcerr.New(sorcerr.CodeProviderRequestInvalid, "ollama: empty prompt",
			sorcerr.FieldProvider(provider.NameOllama))
	}

	model := req.Model
	if model == "" {
		model = p.model
	}
	stream := false
	options := map[string]any{"num_predict": req.Tokens()}
	if req.Temperature != nil {
		options["temperature"] = *req.Temperature
	}

	out := &provider.Completion{Provider: provider.NameOllama, Model: model}
	var text strings.Builder
	err := p.client.Generate(ctx, &api.GenerateRequest{
		Model:   model,
		System:  req.System,
		Prompt:  req.Prompt,
		Stream:  &stream,
		Options: options,
	}, func(resp api.GenerateResponse) error {
		text.WriteString(resp.Response)
		if resp.Done {
			out.Usage = provider.Usage{
				InputTokens:  resp.PromptEvalCount,
				OutputTokens: resp.EvalCount,
			}
		}
		return nil
	})
	if err != nil {
		return nil, sorcerr.Wrap(err, sorcerr.CodeProviderUpstreamFailure, "ollama: generating",
			sorcerr.FieldProvider(provider.NameOllama))
	}
	if text.Len() == 0 {
		return nil, sorcerr.New(sorcerr.CodeProviderResponseInvalid, "ollama: empty response",
			sorcerr.FieldProvider(provider.NameOllama))
	}
	out.Text = text.String()
	return out, nil
}

func (p *Provider) Close() error { return nil }

// Embedder implements index.Embedder with the Ollama embed API.
type Embedder struct {
	client *api.Client
	model  string
	dims   int
}

var _ index.Embedder = (*Embedder)(nil)

// NewEmbedder creates an embedder expecting dims-wide vectors from the
// configured model.
func NewEmbedder(cfg Config, dims int) (*Embedder, error) {
	if dims <= 0 {
		return nil, sorcerr.Errorf(sorcerr.CodeProviderRequestInvalid, "ollama: embedding dimensions must be positive, got %d", dims)
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
	resp, err := e.client.Embed(ctx, &api.EmbedRequest{Model: e.model, Input: text})
	if err != nil {
		return nil, sorcerr.Wrap(err, sorcerr.CodeProviderUpstreamFailure, "ollama: embedding",
			sorcerr.FieldProvider(provider.NameOllama))
	}
	if len(resp.Embeddings) == 0 {
		return nil, sorcerr.New(sorcerr.CodeProviderResponseInvalid, "ollama: embedding response is empty",
			sorcerr.FieldProvider(provider.NameOllama))
	}

	vec := resp.Embeddings[0]
	if len(vec) != e.dims {
		return nil, sorcerr.Errorf(sorcerr.CodeProviderResponseInvalid,
			"ollama: embedding has %d dimensions, want %d", len(vec), e.dims)
	}
	return append([]float32(nil), vec...), nil
}
