// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

package google

import (
	"context"
	"strings"

	"google.golang.org/genai"

	"github.com/sorcerer-dev/sorcerer/internal/index"
	"github.com/sorcerer-dev/sorcerer/internal/provider"
	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
)

// Default models used when the config leaves one unset.
const (
	DefaultModel          = "gemini-2.5-flash"
	DefaultEmbeddingModel = "gemini-embedding-001"
)

// Config holds Google provider configuration.
type Config struct {
	APIKey  string
	BaseURL string // optional, useful for testing against a mock server
	Model   string
}

func newClient(cfg Config) (*genai.Client, error) {
	if cfg.APIKey == "" {
		return nil, sorcerr.New(sorcerr.CodeProviderRequestInvalid, "google: missing api_key in config",
			sorcerr.FieldProvider(provider.NameGoogle))
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(context.Background(), cc)
	if err != nil {
		return nil, sorcerr.Wrapf(err, sorcerr.CodeProviderUpstreamFailure, "google: creating client")
	}
	return client, nil
}

// Provider implements provider.Provider using the Gemini API.
type Provider struct {
	client *genai.Client
	model  string
}

var _ provider.Provider = (*Provider)(nil)

// New creates a new Google provider. Returns an error if the API key is missing.
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

func (p *Provider) Name() string { return provider.NameGoogle }

func (p *Provider) Complete(ctx context.Context, req provider.CompletionRequest) (*provider.Completion, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, sorcerr.New(sorcerr.CodeProviderRequestInvalid, "google: empty prompt",
			sorcerr.FieldProvider(provider.NameGoogle))
	}

	model := req.Model
	if model == "" {
		model = p.model
	}

	resp, err := p.client.Models.GenerateContent(ctx, model, genai.Text(req.Prompt), buildConfig(req))
	if err != nil {
		return nil, sorcerr.Wrap(err, sorcerr.CodeProviderUpstreamFailure, "google: generating content",
			sorcerr.FieldProvider(provider.NameGoogle))
	}

	text := resp.Text()
	if text == "" {
		return nil, sorcerr.New(sorcerr.CodeProviderResponseInvalid, "google: response has no text content",
			sorcerr.FieldProvider(provider.NameGoogle))
	}

	out := &provider.Completion{Text: text, Provider: provider.NameGoogle, Model: model}
	if resp.ModelVersion != "" {
		out.Model = resp.ModelVersion
	}
	if resp.UsageMetadata != nil {
		out.Usage = provider.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return out, nil
}

func (p *Provider) Close() error { return nil }

// buildConfig converts a provider.CompletionRequest into a genai.GenerateContentConfig.
func buildConfig(req provider.CompletionRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(req.Tokens()),
	}
	if req.Temperature != nil {
		cfg.Temperature = genai.Ptr(*req.Temperature)
	}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}
	return cfg
}

// Embedder implements index.Embedder with the Gemini embedding API.
type Embedder struct {
	client *genai.Client
	model  string
	dims   int
}

var _ index.Embedder = (*Embedder)(nil)

// NewEmbedder creates an embedder producing dims-wide vectors.
func NewEmbedder(cfg Config, dims int) (*Embedder, error) {
	if dims <= 0 {
		return nil, sorcerr.Errorf(sorcerr.CodeProviderRequestInvalid, "google: embedding dimensions must be positive, got %d", dims)
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
	resp, err := e.client.Models.EmbedContent(ctx, e.model, genai.Text(text), &genai.EmbedContentConfig{
		OutputDimensionality: genai.Ptr(int32(e.dims)),
	})
	if err != nil {
		return nil, sorcerr.Wrap(err, sorcerr.CodeProviderUpstreamFailure, "google: embedding content",
			sorcerr.FieldProvider(provider.NameGoogle))
	}
	if len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, sorcerr.New(sorcerr.CodeProviderResponseInvalid, "google: embedding response is empty",
			sorcerr.FieldProvider(provider.NameGoogle))
	}

	vec := resp.Embeddings[0].Values
	if len(vec) != e.dims {
		return nil, sorcerr.Errorf(sorcerr.CodeProviderResponseInvalid,
			"google: embedding has %d dimensions, want %d", len(vec), e.dims)
	}
	return index.Normalize(append([]float32(nil), vec...)), nil
}
