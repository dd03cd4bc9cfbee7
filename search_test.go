package main

import (
	"context"
	"math"
	"testing"
)

func TestCosineSimilarityIdenticalVectors(t *testing.T) {
	got := cosineSimilarity([]float64{1, 0}, []float64{1, 0})
	if math.Abs(got-1) > 1e-9 {
		t.Fatalf("expected similarity 1, got %v", got)
	}
}

func TestCosineSimilarityOrthogonalVectors(t *testing.T) {
	got := cosineSimilarity([]float64{1, 0}, []float64{0, 1})
	if math.Abs(got) > 1e-9 {
		t.Fatalf("expected similarity 0, got %v", got)
	}
}

func TestCosineSimilarityPanicsOnDimensionMismatch(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on dimension mismatch")
		}
	}()
	cosineSimilarity([]float64{1, 0}, []float64{1, 0, 0})
}

func TestToSnakeCase(t *testing.T) {
	cases := map[string]string{
		"Absolute Path":  "absolute_path",
		"  already_ok  ": "already_ok",
		"Mixed-CASE!!":   "mixed_case",
	}
	for in, want := range cases {
		if got := toSnakeCase(in); got != want {
			t.Fatalf("toSnakeCase(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPlaceholderForType(t *testing.T) {
	if v := placeholderForType("integer", ""); v != 0 {
		t.Fatalf("expected 0 for integer, got %#v", v)
	}
	if v := placeholderForType("boolean", ""); v != false {
		t.Fatalf("expected false for boolean, got %#v", v)
	}
	if v := placeholderForType("string", "Absolute Path"); v != "<absolute_path>" {
		t.Fatalf("expected snake-cased placeholder, got %#v", v)
	}
}

func TestSearchRanksByScoreWithIDTiebreak(t *testing.T) {
	sup := newSupervisor(map[string]UpstreamServerConfig{})
	idx := newToolIndex(sup, &fixedEmbedder{vec: []float64{1, 0}}, nil, SemanticKernelConfig{}, nil)
	idx.mu.Lock()
	idx.records = map[string]*ToolVectorRecord{
		"b.tool": {ID: "b.tool", ServerName: "b", ToolName: "tool", Embedding: []float64{1, 0}},
		"a.tool": {ID: "a.tool", ServerName: "a", ToolName: "tool", Embedding: []float64{1, 0}},
		"c.tool": {ID: "c.tool", ServerName: "c", ToolName: "tool", Embedding: []float64{0, 1}},
	}
	idx.mu.Unlock()

	engine := newSemanticSearchEngine(idx, &fixedEmbedder{vec: []float64{1, 0}})
	results, err := engine.search(context.Background(), "query", 10, 0.5)
	if err != nil {
		t.Fatalf("search() error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results above threshold, got %d", len(results))
	}
	if results[0].ID != "a.tool" || results[1].ID != "b.tool" {
		t.Fatalf("expected tie broken by ID ascending, got %v then %v", results[0].ID, results[1].ID)
	}
}

func TestSearchTruncatesToMaxResults(t *testing.T) {
	sup := newSupervisor(map[string]UpstreamServerConfig{})
	idx := newToolIndex(sup, &fixedEmbedder{vec: []float64{1, 0}}, nil, SemanticKernelConfig{}, nil)
	idx.mu.Lock()
	idx.records = map[string]*ToolVectorRecord{
		"a.tool": {ID: "a.tool", ServerName: "a", ToolName: "tool", Embedding: []float64{1, 0}},
		"b.tool": {ID: "b.tool", ServerName: "b", ToolName: "tool", Embedding: []float64{1, 0}},
	}
	idx.mu.Unlock()

	engine := newSemanticSearchEngine(idx, &fixedEmbedder{vec: []float64{1, 0}})
	results, err := engine.search(context.Background(), "query", 1, 0)
	if err != nil {
		t.Fatalf("search() error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected truncation to 1 result, got %d", len(results))
	}
}

func TestRenderSearchResultsEmpty(t *testing.T) {
	got := renderSearchResults(nil, 0.55)
	if got == "" {
		t.Fatalf("expected a non-empty no-results message")
	}
}
