package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
)

// SearchResult is spec.md §3's SearchResult entity.
type SearchResult struct {
	ID         string
	ServerName string
	Tool       ToolDescriptor
	Score      float64
}

// SemanticSearchEngine is spec.md §4.3: embed the query, rank by cosine
// similarity, threshold, truncate to top-k.
type SemanticSearchEngine struct {
	index    *ToolIndex
	embedder EmbeddingProvider
}

func newSemanticSearchEngine(index *ToolIndex, embedder EmbeddingProvider) *SemanticSearchEngine {
	return &SemanticSearchEngine{index: index, embedder: embedder}
}

const (
	defaultMaxResults   = 5
	defaultMinRelevance = 0.55
)

func (e *SemanticSearchEngine) search(ctx context.Context, query string, maxResults int, minScore float64) ([]SearchResult, error) {
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}

	queryVec, err := e.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, newProxyError(ErrEmbedding, query, err)
	}

	records := e.index.snapshotRecords()
	scored := make([]SearchResult, 0, len(records))
	for _, r := range records {
		if len(r.Embedding) != len(queryVec) {
			debugf("search", "skipping %s: embedding dimension %d does not match query dimension %d", r.ID, len(r.Embedding), len(queryVec))
			continue
		}
		score := cosineSimilarity(queryVec, r.Embedding)
		if score < minScore {
			continue
		}
		scored = append(scored, SearchResult{
			ID:         r.ID,
			ServerName: r.ServerName,
			Tool: ToolDescriptor{
				Name:        r.ToolName,
				Description: r.Description,
				Parameters:  parametersFromRecord(r),
			},
			Score: score,
		})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].ID < scored[j].ID
	})

	if maxResults < len(scored) {
		scored = scored[:maxResults]
	}
	return scored, nil
}

func parametersFromRecord(r *ToolVectorRecord) []Parameter {
	var params []Parameter
	if r.ParametersJSON != "" {
		_ = json.Unmarshal([]byte(r.ParametersJSON), &params)
	}
	return params
}

// cosineSimilarity clamps to [0,1] and panics on a dimension mismatch:
// by the time it's called every record has already been filtered to
// match the query's dimensionality, so a mismatch here is an internal
// invariant violation, not a recoverable condition.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		panic(fmt.Sprintf("embedding dimension mismatch: %d vs %d", len(a), len(b)))
	}
	var dot, magA, magB float64
	for i := range a {
		dot += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	cos := dot / (math.Sqrt(magA) * math.Sqrt(magB))
	if cos < 0 {
		cos = 0
	}
	if cos > 1 {
		cos = 1
	}
	return cos
}

// renderSearchResults formats the ranked results the way spec.md §4.3
// requires: each hit carries its score, description, parameter list,
// and a ready-to-use JSON-RPC invocation envelope.
func renderSearchResults(results []SearchResult, minScore float64) string {
	if len(results) == 0 {
		return fmt.Sprintf("No tools found matching the query above the relevance threshold of %.2f. Try lowering minRelevanceScore or running refresh_tool_index.", minScore)
	}
	blocks := make([]string, 0, len(results))
	for _, r := range results {
		blocks = append(blocks, renderSearchResultBlock(r))
	}
	return strings.Join(blocks, "\n\n")
}

func renderSearchResultBlock(r SearchResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s.%s (score: %.3f)\n", r.ServerName, r.Tool.Name, r.Score)
	if r.Tool.Description != "" {
		fmt.Fprintf(&b, "%s\n", r.Tool.Description)
	}
	for _, p := range r.Tool.Parameters {
		requiredLabel := "optional"
		if p.Required {
			requiredLabel = "required"
		}
		fmt.Fprintf(&b, "  - %s (%s, %s): %s\n", p.Name, p.Type, requiredLabel, p.Description)
	}
	b.WriteString(buildInvocationEnvelope(r))
	return strings.TrimRight(b.String(), "\n")
}

func buildInvocationEnvelope(r SearchResult) string {
	params := make(map[string]any, len(r.Tool.Parameters))
	for _, p := range r.Tool.Parameters {
		params[p.Name] = placeholderForType(p.Type, p.Description)
	}
	envelope := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params": map[string]any{
			"name": toolCallExternalTool,
			"arguments": map[string]any{
				"serverName": r.ServerName,
				"toolName":   r.Tool.Name,
				"parameters": params,
			},
		},
	}
	data, _ := json.MarshalIndent(envelope, "", "  ")
	return string(data) + "\n"
}

var snakeCaseRe = regexp.MustCompile(`[^a-zA-Z0-9]+`)

func placeholderForType(paramType, description string) any {
	switch strings.ToLower(paramType) {
	case "int", "integer":
		return 0
	case "number", "float", "double":
		return 0.0
	case "bool", "boolean":
		return false
	case "array":
		return []any{}
	case "object":
		return map[string]any{}
	default:
		return "<" + toSnakeCase(description) + ">"
	}
}

func toSnakeCase(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = snakeCaseRe.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}
