// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

package anthropic_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sorcerer-dev/sorcerer/internal/provider"
	"github.com/sorcerer-dev/sorcerer/internal/provider/anthropic"
	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
)

func TestAnthropicProvider_Name(t *testing.T) {
	p := mustNewProvider(t, "")
	assert.Equal(t, "anthropic", p.Name())
	assert.NoError(t, p.Close())
}

func TestAnthropicProvider_MissingAPIKey(t *testing.T) {
	_, err := anthropic.New(anthropic.Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key")
	assert.True(t, sorcerr.IsInvalidInput(err), "missing API key should be CodeProviderRequestInvalid")
	assert.True(t, sorcerr.HasCode(err, sorcerr.CodeProviderRequestInvalid))
}

func TestAnthropicProvider_Complete(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key-not-real", r.Header.Get("x-api-key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_01",
			"type": "message",
			"role": "assistant",
			"model": "claude-haiku-4-5",
			"content": [{"type": "text", "text": "Go is compiled."}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 12, "output_tokens": 4}
		}`))
	}))
	defer srv.Close()

	p := mustNewProvider(t, srv.URL)
	out, err := p.Complete(context.Background(), provider.CompletionRequest{
		System: "Summarize.",
		Prompt: "Go is a compiled language.",
	})
	require.NoError(t, err)
	assert.Equal(t, "Go is compiled.", out.Text)
	assert.Equal(t, "anthropic", out.Provider)
	assert.Equal(t, "claude-haiku-4-5", out.Model)
	assert.Equal(t, 12, out.Usage.InputTokens)
	assert.Equal(t, 4, out.Usage.OutputTokens)

	assert.Equal(t, anthropic.DefaultModel, got["model"])
	assert.EqualValues(t, provider.DefaultMaxTokens, got["max_tokens"])
	require.Len(t, got["system"], 1)
}

func TestAnthropicProvider_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`))
	}))
	defer srv.Close()

	_, err := mustNewProvider(t, srv.URL).Complete(context.Background(), provider.CompletionRequest{Prompt: "x"})
	require.Error(t, err)
	assert.True(t, sorcerr.IsUpstreamFailure(err))
}

func TestAnthropicProvider_EmptyPrompt(t *testing.T) {
	_, err := mustNewProvider(t, "").Complete(context.Background(), provider.CompletionRequest{Prompt: "  "})
	require.Error(t, err)
	assert.True(t, sorcerr.IsInvalidInput(err))
}

// mustNewProvider creates a provider with a dummy API key for unit tests.
func mustNewProvider(t *testing.T, baseURL string) *anthropic.Provider {
	t.Helper()
	p, err := anthropic.New(anthropic.Config{
		APIKey:  "test-key-not-real",
		BaseURL: baseURL,
	})
	require.NoError(t, err)
	return p
}
