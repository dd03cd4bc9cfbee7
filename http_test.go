package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fixedEmbedder struct {
	vec []float64
	err error
}

func (f *fixedEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float64, error) {
	return f.vec, f.err
}

func newTestIndex(t *testing.T) (*Supervisor, *ToolIndex) {
	t.Helper()
	sup := newSupervisor(map[string]UpstreamServerConfig{})
	idx := newToolIndex(sup, &fixedEmbedder{vec: []float64{1, 0}}, nil, SemanticKernelConfig{MaxResults: defaultMaxResults, MinRelevanceScore: defaultMinRelevance}, nil)
	return sup, idx
}

func TestHandleHealthReturnsPlainTextRunning(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	handleHealth()(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Result().StatusCode)
	}
	if got := w.Body.String(); got != "MCP Server is running" {
		t.Fatalf("expected plain-text body %q, got %q", "MCP Server is running", got)
	}
}

func TestHandleToolIndexInfoReportsServiceInfo(t *testing.T) {
	_, idx := newTestIndex(t)

	req := httptest.NewRequest(http.MethodGet, "/tool-index-info", nil)
	w := httptest.NewRecorder()
	handleToolIndexInfo(idx)(w, req)

	var payload toolIndexInfoResponse
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.ServiceType == "" {
		t.Fatalf("expected non-empty ServiceType")
	}
	if !payload.IsSemanticKernelEnabled {
		t.Fatalf("expected IsSemanticKernelEnabled=true when an embedder is configured")
	}
}

func TestHandleSearchToolsRequiresPrompt(t *testing.T) {
	_, idx := newTestIndex(t)
	engine := newSemanticSearchEngine(idx, &fixedEmbedder{vec: []float64{1, 0}})

	body, _ := json.Marshal(searchToolsRequest{Prompt: ""})
	req := httptest.NewRequest(http.MethodPost, "/search-tools", bytes.NewReader(body))
	w := httptest.NewRecorder()
	handleSearchTools(engine, SemanticKernelConfig{MaxResults: defaultMaxResults, MinRelevanceScore: defaultMinRelevance})(w, req)

	if w.Result().StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty prompt, got %d", w.Result().StatusCode)
	}
}

func TestHandleSearchToolsReturnsResults(t *testing.T) {
	_, idx := newTestIndex(t)
	idx.mu.Lock()
	idx.records = map[string]*ToolVectorRecord{
		"alpha.echo": {ID: "alpha.echo", ServerName: "alpha", ToolName: "echo", Embedding: []float64{1, 0}},
	}
	idx.mu.Unlock()
	engine := newSemanticSearchEngine(idx, &fixedEmbedder{vec: []float64{1, 0}})

	body, _ := json.Marshal(searchToolsRequest{Prompt: "echo back text"})
	req := httptest.NewRequest(http.MethodPost, "/search-tools", bytes.NewReader(body))
	w := httptest.NewRecorder()
	handleSearchTools(engine, SemanticKernelConfig{MaxResults: defaultMaxResults, MinRelevanceScore: defaultMinRelevance})(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Result().StatusCode)
	}
	var payload searchToolsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Query != "echo back text" {
		t.Fatalf("expected Query echoed back, got %q", payload.Query)
	}
	if len(payload.Tools) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(payload.Tools))
	}
}

func TestAuthMiddlewareRejectsMissingToken(t *testing.T) {
	mw := newAuthMiddleware([]string{"secret"})
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Result().StatusCode)
	}
}

func TestAuthMiddlewareAcceptsValidToken(t *testing.T) {
	mw := newAuthMiddleware([]string{"secret"})
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Result().StatusCode)
	}
}
