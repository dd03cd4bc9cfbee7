package main

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// EmbeddingProvider is the external contract spec.md §6 names.
type EmbeddingProvider interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float64, error)
}

// ChatProvider backs the LLM-assisted search-phrase derivation mode
// from spec.md §4.2.1.
type ChatProvider interface {
	GeneratePhrase(ctx context.Context, promptTemplate, server, tool, description string, temperature float64) (string, error)
}

// cachedEmbeddingProvider wraps any EmbeddingProvider with a content-
// hash-keyed LRU cache, grounded on the reference tool indexer's own
// embedding cache: avoids re-embedding unchanged search phrases across
// successive refresh() calls.
type cachedEmbeddingProvider struct {
	inner EmbeddingProvider
	cache *lru.Cache[string, []float64]
}

func newCachedEmbeddingProvider(inner EmbeddingProvider, size int) *cachedEmbeddingProvider {
	if size <= 0 {
		size = 2048
	}
	cache, _ := lru.New[string, []float64](size)
	return &cachedEmbeddingProvider{inner: inner, cache: cache}
}

func (c *cachedEmbeddingProvider) GenerateEmbedding(ctx context.Context, text string) ([]float64, error) {
	key := hashText(text)
	if vec, ok := c.cache.Get(key); ok {
		out := make([]float64, len(vec))
		copy(out, vec)
		return out, nil
	}
	vec, err := c.inner.GenerateEmbedding(ctx, text)
	if err != nil {
		return nil, err
	}
	stored := make([]float64, len(vec))
	copy(stored, vec)
	c.cache.Add(key, stored)
	return vec, nil
}

func hashText(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// ---- Ollama-compatible adapters ----

type ollamaEmbeddingProvider struct {
	baseURL string
	model   string
	client  *http.Client
}

func newOllamaEmbeddingProvider(baseURL, model string, timeout time.Duration) *ollamaEmbeddingProvider {
	return &ollamaEmbeddingProvider{baseURL: strings.TrimRight(baseURL, "/"), model: model, client: &http.Client{Timeout: timeout}}
}

func (p *ollamaEmbeddingProvider) GenerateEmbedding(ctx context.Context, text string) ([]float64, error) {
	reqBody, _ := json.Marshal(map[string]any{"model": p.model, "input": text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embed", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama embed: status %d: %s", resp.StatusCode, string(body))
	}

	var decoded struct {
		Embeddings [][]float64 `json:"embeddings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, err
	}
	if len(decoded.Embeddings) == 0 {
		return nil, fmt.Errorf("ollama embed: empty response")
	}
	return decoded.Embeddings[0], nil
}

type ollamaChatProvider struct {
	baseURL string
	model   string
	client  *http.Client
}

func newOllamaChatProvider(baseURL, model string, timeout time.Duration) *ollamaChatProvider {
	return &ollamaChatProvider{baseURL: strings.TrimRight(baseURL, "/"), model: model, client: &http.Client{Timeout: timeout}}
}

// GeneratePhrase posts a non-streaming /api/generate request. The
// decode step mirrors the reference chat client's streaming-chunk
// handling, collapsed to Ollama's single final JSON object when
// "stream": false.
func (p *ollamaChatProvider) GeneratePhrase(ctx context.Context, promptTemplate, server, tool, description string, temperature float64) (string, error) {
	prompt := renderPhrasePrompt(promptTemplate, server, tool, description)
	reqBody, _ := json.Marshal(map[string]any{
		"model":   p.model,
		"prompt":  prompt,
		"stream":  false,
		"options": map[string]any{"temperature": temperature},
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/generate", bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama generate: status %d: %s", resp.StatusCode, string(body))
	}

	var decoded struct {
		Response string `json:"response"`
		Done     bool   `json:"done"`
		Error    string `json:"error,omitempty"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", err
	}
	if decoded.Error != "" {
		return "", fmt.Errorf("ollama generate: %s", decoded.Error)
	}
	return strings.TrimSpace(decoded.Response), nil
}

func renderPhrasePrompt(template, server, tool, description string) string {
	if template == "" {
		template = "Rewrite the tool below as a 2-3 sentence natural-language search phrase, mentioning the tool name and server name once: tool={{tool}} description={{description}} server={{server}}"
	}
	out := strings.ReplaceAll(template, "{{tool}}", tool)
	out = strings.ReplaceAll(out, "{{description}}", description)
	out = strings.ReplaceAll(out, "{{server}}", server)
	return out
}

// ---- OpenAI-compatible adapters ----

type openAICompatEmbeddingProvider struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

func newOpenAICompatEmbeddingProvider(baseURL, apiKey, model string, timeout time.Duration) *openAICompatEmbeddingProvider {
	return &openAICompatEmbeddingProvider{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, model: model, client: &http.Client{Timeout: timeout}}
}

func (p *openAICompatEmbeddingProvider) GenerateEmbedding(ctx context.Context, text string) ([]float64, error) {
	reqBody, _ := json.Marshal(map[string]any{"model": p.model, "input": text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := retryingDo(p.client, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("openai embeddings: status %d: %s", resp.StatusCode, string(body))
	}

	var decoded struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, err
	}
	if len(decoded.Data) == 0 {
		return nil, fmt.Errorf("openai embeddings: empty response")
	}
	return decoded.Data[0].Embedding, nil
}

// retryingDo retries transient (5xx or transport-level) failures with
// linear backoff, grounded on the reference embedding client's own
// retry behavior for flaky backends.
func retryingDo(client *http.Client, req *http.Request) (*http.Response, error) {
	const maxAttempts = 3
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attemptReq := req.Clone(req.Context())
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			attemptReq.Body = body
		}
		resp, err := client.Do(attemptReq)
		if err == nil && resp.StatusCode < 500 {
			return resp, nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			resp.Body.Close()
		}
		time.Sleep(time.Duration(attempt) * 200 * time.Millisecond)
	}
	return nil, fmt.Errorf("exhausted retries: %w", lastErr)
}

type openAICompatChatProvider struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

func newOpenAICompatChatProvider(baseURL, apiKey, model string, timeout time.Duration) *openAICompatChatProvider {
	return &openAICompatChatProvider{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, model: model, client: &http.Client{Timeout: timeout}}
}

func (p *openAICompatChatProvider) GeneratePhrase(ctx context.Context, promptTemplate, server, tool, description string, temperature float64) (string, error) {
	prompt := renderPhrasePrompt(promptTemplate, server, tool, description)
	reqBody, _ := json.Marshal(map[string]any{
		"model":       p.model,
		"temperature": temperature,
		"messages": []map[string]string{
			{"role": "system", "content": "You rewrite MCP tool metadata into short natural-language search phrases."},
			{"role": "user", "content": prompt},
		},
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("openai chat: status %d: %s", resp.StatusCode, string(body))
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", err
	}
	if len(decoded.Choices) == 0 {
		return "", fmt.Errorf("openai chat: no choices returned")
	}
	return strings.TrimSpace(decoded.Choices[0].Message.Content), nil
}

// newEmbeddingAndChatProviders wires the configured backend, defaulting
// to Ollama the way the reference chat client defaults its own provider
// selection.
func newEmbeddingAndChatProviders(cfg SemanticKernelConfig) (EmbeddingProvider, ChatProvider) {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	var embedder EmbeddingProvider
	var chatter ChatProvider

	switch strings.ToLower(cfg.Provider) {
	case "openai":
		embedder = newOpenAICompatEmbeddingProvider(cfg.OllamaEmbedding.BaseURL, cfg.OpenAIAPIKey, cfg.OllamaEmbedding.ModelName, timeout)
		chatter = newOpenAICompatChatProvider(cfg.OllamaChat.BaseURL, cfg.OpenAIAPIKey, cfg.OllamaChat.ModelName, timeout)
	default:
		embedder = newOllamaEmbeddingProvider(cfg.OllamaEmbedding.BaseURL, cfg.OllamaEmbedding.ModelName, timeout)
		chatter = newOllamaChatProvider(cfg.OllamaChat.BaseURL, cfg.OllamaChat.ModelName, timeout)
	}

	return newCachedEmbeddingProvider(embedder, 4096), chatter
}
