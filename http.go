package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mark3labs/mcp-go/server"
)

// ===== infra helpers =====
//
// Kept from the upstream proxy's http.go: the middleware chain,
// retargeted from per-server HTTP mounts to the single streamable-HTTP
// surface plus the auxiliary JSON endpoints below.

type MiddlewareFunc func(http.Handler) http.Handler

func chainMiddleware(h http.Handler, middlewares ...MiddlewareFunc) http.Handler {
	for _, mw := range middlewares {
		h = mw(h)
	}
	return h
}

func newAuthMiddleware(tokens []string) MiddlewareFunc {
	tokenSet := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		tokenSet[token] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(tokenSet) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			token := r.Header.Get("Authorization")
			token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
			if token == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			if _, ok := tokenSet[token]; !ok {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func loggerMiddleware(prefix string) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			debugf(prefix, "%s %s", r.Method, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}
}

func recoverMiddleware(prefix string) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.Printf("<%s> panic: %v", prefix, err)
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// ===== auxiliary HTTP surface =====
//
// /health (plain text), /tool-index-info and /search-tools (JSON) are
// the auxiliary endpoints the exposed tool surface carries alongside the
// MCP tools themselves,
// useful for operators and load balancers that don't speak MCP.

// handleHealth is the liveness probe. Plain text, not JSON: load
// balancers and uptime checks shell out to a string match, not a
// decoder.
func handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("MCP Server is running"))
	}
}

type toolIndexInfoResponse struct {
	ServiceType             string `json:"ServiceType"`
	IsSemanticKernelEnabled bool   `json:"IsSemanticKernelEnabled"`
}

func handleToolIndexInfo(idx *ToolIndex) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(toolIndexInfoResponse{
			ServiceType:             "ToolProxy",
			IsSemanticKernelEnabled: idx.embedder != nil,
		})
	}
}

type searchToolsRequest struct {
	Prompt            string   `json:"Prompt"`
	MaxResults        *int     `json:"MaxResults,omitempty"`
	MinRelevanceScore *float64 `json:"MinRelevanceScore,omitempty"`
}

type searchToolsResponse struct {
	Query             string         `json:"Query"`
	MaxResults        int            `json:"MaxResults"`
	MinRelevanceScore float64        `json:"MinRelevanceScore"`
	Tools             []SearchResult `json:"Tools"`
}

func handleSearchTools(engine *SemanticSearchEngine, cfg SemanticKernelConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body searchToolsRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "Error: invalid request body", http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(body.Prompt) == "" {
			http.Error(w, "Error: Prompt must not be empty", http.StatusBadRequest)
			return
		}

		maxResults := cfg.MaxResults
		if body.MaxResults != nil {
			maxResults = *body.MaxResults
		}
		minScore := cfg.MinRelevanceScore
		if body.MinRelevanceScore != nil {
			minScore = *body.MinRelevanceScore
		}

		results, err := engine.search(r.Context(), body.Prompt, maxResults, minScore)
		if err != nil {
			http.Error(w, describeCallError(err), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(searchToolsResponse{
			Query:             body.Prompt,
			MaxResults:        maxResults,
			MinRelevanceScore: minScore,
			Tools:             results,
		})
	}
}

// ===== main HTTP server =====
//
// startHTTPServer mounts the single mark3labs/mcp-go streamable-HTTP
// server (carrying the five meta-tools registered by MetaToolHandler)
// at /mcp, plus the auxiliary JSON endpoints, and blocks until SIGINT
// or SIGTERM, then drains the Supervisor's sessions — the graceful-
// shutdown shape the teacher's own startHTTPServer uses, retargeted
// from "close per-server HTTP mounts" to "stop every upstream session."
func startHTTPServer(ctx context.Context, config *Config, sup *Supervisor, idx *ToolIndex, engine *SemanticSearchEngine, mcpServer *server.MCPServer) error {
	mux := http.NewServeMux()

	streamable := server.NewStreamableHTTPServer(mcpServer)
	mux.Handle("/mcp", streamable)
	mux.Handle("/mcp/", streamable)

	mux.Handle("/health", chainMiddleware(handleHealth(), recoverMiddleware("health")))
	mux.Handle("/tool-index-info", chainMiddleware(handleToolIndexInfo(idx), recoverMiddleware("tool-index-info")))
	mux.Handle("/search-tools", chainMiddleware(handleSearchTools(engine, config.SemanticKernel), recoverMiddleware("search-tools")))

	httpServer := &http.Server{
		Addr:    config.McpProxy.addr(),
		Handler: chainMiddleware(mux, loggerMiddleware("http")),
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("<http> listening on %s", config.McpProxy.addr())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		return err
	case <-sig:
		log.Println("<http> shutdown signal received")
	case <-ctx.Done():
		log.Println("<http> context cancelled")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	sup.stopAll(context.Background(), config.ShutdownGrace)
	return nil
}
