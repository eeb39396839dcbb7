// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

package provider

import (
	"context"
	"io"
	"net/http"
	"strings"

	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
)

// Default model listing endpoints probed by CheckKey.
const (
	anthropicModelsURL = "https://api.anthropic.com/v1/models"
	openAIModelsURL    = "https://api.openai.com/v1/models"
	googleModelsURL    = "https://generativelanguage.googleapis.com/v1/models"
	ollamaTagsURL      = "http://localhost:11434/api/tags"
)

// CheckKey makes a lightweight call to the provider's model listing
// endpoint to confirm key works. A non-empty baseURL replaces the
// provider's default host. Ollama needs no key and is only probed for
// reachability.
func CheckKey(ctx context.Context, client *http.Client, name, key, baseURL string) error {
	var (
		url     string
		headers = map[string]string{}
	)

	switch name {
	case NameAnthropic:
		url = withBase(anthropicModelsURL, baseURL, "/v1/models")
		headers["x-api-key"] = key
		headers["anthropic-version"] = "2023-06-01"
	case NameOpenAI:
		url = withBase(openAIModelsURL, baseURL, "/models")
		headers["Authorization"] = "Bearer " + key
	case NameGoogle:
		// The Generative Language API authenticates via query parameter.
		url = withBase(googleModelsURL, baseURL, "/v1/models") + "?key=" + key
	case NameOllama:
		url = withBase(ollamaTagsURL, baseURL, "/api/tags")
	default:
		return sorcerr.Errorf(sorcerr.CodeProviderKeyInvalid, "unknown provider: %s", name)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return sorcerr.Errorf(sorcerr.CodeProviderKeyCheckFailed, "building validation request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return sorcerr.Errorf(sorcerr.CodeProviderKeyCheckFailed, "validating %s key: %v", name, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return sorcerr.Errorf(sorcerr.CodeProviderKeyInvalid, "invalid %s API key (HTTP %d)", name, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return sorcerr.Errorf(sorcerr.CodeProviderKeyCheckFailed, "%s validation failed (HTTP %d)", name, resp.StatusCode)
	}
	return nil
}

func withBase(def, base, path string) string {
	if base == "" {
		return def
	}
	return strings.TrimRight(base, "/") + path
}
