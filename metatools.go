package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// The five tool names spec.md §4 exposes on the single meta-tool
// surface. These are the only tools an MCP client ever sees directly;
// everything else is reached through call_external_tool.
const (
	toolSearchToolsSemantic    = "search_tools_semantic"
	toolListAllServersAndTools = "list_all_servers_and_tools_json"
	toolCallExternalTool       = "call_external_tool"
	toolRefreshToolIndex       = "refresh_tool_index"
	toolGetToolIndexInfo       = "get_tool_index_info"
)

// MetaToolHandler wires the Supervisor, ToolIndex, and search engine
// into the handful of tools the proxy itself serves, applying the
// override cascade the same way the upstream proxy's tool_overrides.go
// cascades apply to per-upstream-tool overrides, scoped here to a
// synthetic "meta" server name.
type MetaToolHandler struct {
	supervisor *Supervisor
	index      *ToolIndex
	search     *SemanticSearchEngine
	overrides  *ToolOverrideSet
	cfg        SemanticKernelConfig
}

func newMetaToolHandler(sup *Supervisor, idx *ToolIndex, search *SemanticSearchEngine, overrides *ToolOverrideSet, cfg SemanticKernelConfig) *MetaToolHandler {
	return &MetaToolHandler{supervisor: sup, index: idx, search: search, overrides: overrides, cfg: cfg}
}

const metaServerName = "meta"

func (h *MetaToolHandler) register(mcpServer *server.MCPServer) {
	h.registerOne(mcpServer, toolSearchToolsSemantic, h.describeSearchToolsSemantic, h.handleSearchToolsSemantic)
	h.registerOne(mcpServer, toolListAllServersAndTools, h.describeListAllServersAndTools, h.handleListAllServersAndTools)
	h.registerOne(mcpServer, toolCallExternalTool, h.describeCallExternalTool, h.handleCallExternalTool)
	h.registerOne(mcpServer, toolRefreshToolIndex, h.describeRefreshToolIndex, h.handleRefreshToolIndex)
	h.registerOne(mcpServer, toolGetToolIndexInfo, h.describeGetToolIndexInfo, h.handleGetToolIndexInfo)
}

func (h *MetaToolHandler) registerOne(mcpServer *server.MCPServer, name string, describe func() mcp.Tool, handle server.ToolHandlerFunc) {
	if !toolEnabled(h.overrides, metaServerName, name) {
		logPrintf("metatools", "%s disabled by override, not registering", name)
		return
	}
	tool := describe()
	applyMetaToolOverride(&tool, h.overrides, name)
	mcpServer.AddTool(tool, handle)
}

// applyMetaToolOverride mutates a meta-tool's description and
// annotations in place from the flattened set.ToolOverrides map (which
// loadToolOverridesFromPath fills from the top-level, server-fragment
// and master tool entries). It uses the entry for the tool's own name
// if there is one, otherwise the "*" entry; the two are not combined.
func applyMetaToolOverride(tool *mcp.Tool, set *ToolOverrideSet, name string) {
	if set == nil {
		return
	}
	var override *ToolOverrideConfig
	if cfg, ok := set.ToolOverrides[name]; ok && cfg != nil {
		override = cfg
	} else if cfg, ok := set.ToolOverrides["*"]; ok && cfg != nil {
		override = cfg
	}
	if override == nil {
		return
	}
	if override.Description != nil {
		tool.Description = *override.Description
	}
	if override.Annotations == nil {
		return
	}
	a := override.Annotations
	if a.Title != nil {
		tool.Annotations.Title = *a.Title
	}
	if a.ReadOnlyHint != nil {
		tool.Annotations.ReadOnlyHint = copyBoolPointer(a.ReadOnlyHint)
	}
	if a.DestructiveHint != nil {
		tool.Annotations.DestructiveHint = copyBoolPointer(a.DestructiveHint)
	}
	if a.IdempotentHint != nil {
		tool.Annotations.IdempotentHint = copyBoolPointer(a.IdempotentHint)
	}
	if a.OpenWorldHint != nil {
		tool.Annotations.OpenWorldHint = copyBoolPointer(a.OpenWorldHint)
	}
}

// ---- search_tools_semantic ----

func (h *MetaToolHandler) describeSearchToolsSemantic() mcp.Tool {
	return mcp.NewTool(toolSearchToolsSemantic,
		mcp.WithDescription("Search the indexed tools of every connected upstream server by semantic similarity to a natural-language query, returning ranked matches with ready-to-use invocation envelopes."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Natural-language description of the capability you need.")),
		mcp.WithNumber("maxResults", mcp.Description("Maximum number of results to return (default 5).")),
		mcp.WithNumber("minRelevanceScore", mcp.Description("Minimum cosine-similarity score in [0,1] a result must clear (default 0.55).")),
	)
}

func (h *MetaToolHandler) handleSearchToolsSemantic(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("Error: " + err.Error()), nil
	}
	maxResults := intArg(req, "maxResults", h.cfg.MaxResults)
	minScore := floatArg(req, "minRelevanceScore", h.cfg.MinRelevanceScore)

	results, err := h.search.search(ctx, query, maxResults, minScore)
	if err != nil {
		return mcp.NewToolResultError(describeCallError(err)), nil
	}
	return mcp.NewToolResultText(renderSearchResults(results, minScore)), nil
}

// ---- list_all_servers_and_tools_json ----

type serverToolsPayload struct {
	ServerName string            `json:"serverName"`
	State      string            `json:"state"`
	Tools      []toolJSONEntry   `json:"tools"`
}

type toolJSONEntry struct {
	Name        string               `json:"name"`
	Description string               `json:"description,omitempty"`
	Parameters  []parameterJSONEntry `json:"parameters,omitempty"`
	Annotations map[string]any       `json:"annotations,omitempty"`
}

type parameterJSONEntry struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required"`
}

func (h *MetaToolHandler) describeListAllServersAndTools() mcp.Tool {
	return mcp.NewTool(toolListAllServersAndTools,
		mcp.WithDescription("Return every configured upstream server, its connection state, and its currently discovered tools with full parameter schemas, as a JSON document."),
	)
}

func (h *MetaToolHandler) handleListAllServersAndTools(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	names := h.supervisor.serverNames()
	payload := make([]serverToolsPayload, 0, len(names))
	for _, name := range names {
		sess := h.supervisor.get(name)
		entry := serverToolsPayload{ServerName: name, State: string(sess.State())}
		for _, t := range sess.Tools() {
			params := make([]parameterJSONEntry, 0, len(t.Parameters))
			for _, p := range t.Parameters {
				params = append(params, parameterJSONEntry{Name: p.Name, Type: p.Type, Description: p.Description, Required: p.Required})
			}
			entry.Tools = append(entry.Tools, toolJSONEntry{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
				Annotations: t.Annotations,
			})
		}
		payload = append(payload, entry)
	}
	sort.Slice(payload, func(i, j int) bool { return payload[i].ServerName < payload[j].ServerName })

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return mcp.NewToolResultError("Error: " + err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ---- call_external_tool ----

func (h *MetaToolHandler) describeCallExternalTool() mcp.Tool {
	return mcp.NewTool(toolCallExternalTool,
		mcp.WithDescription("Invoke a tool on a specific connected upstream server by name, forwarding the given parameters and returning the flattened text result."),
		mcp.WithString("serverName", mcp.Required(), mcp.Description("Name of the upstream server, as listed by list_all_servers_and_tools_json.")),
		mcp.WithString("toolName", mcp.Required(), mcp.Description("Name of the tool on that server.")),
		mcp.WithObject("parameters", mcp.Description("Arguments to pass to the tool, matching its declared parameter schema.")),
	)
}

func (h *MetaToolHandler) handleCallExternalTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	serverName, err := req.RequireString("serverName")
	if err != nil {
		return mcp.NewToolResultError("Error: " + err.Error()), nil
	}
	toolName, err := req.RequireString("toolName")
	if err != nil {
		return mcp.NewToolResultError("Error: " + err.Error()), nil
	}
	params, _ := req.GetArguments()["parameters"].(map[string]any)

	text, err := h.index.call(ctx, serverName, toolName, params)
	if err != nil {
		return mcp.NewToolResultError(describeCallError(err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// ---- refresh_tool_index ----

func (h *MetaToolHandler) describeRefreshToolIndex() mcp.Tool {
	return mcp.NewTool(toolRefreshToolIndex,
		mcp.WithDescription("Re-discover tools from every running upstream server and rebuild the semantic search index from scratch."),
	)
}

func (h *MetaToolHandler) handleRefreshToolIndex(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	h.supervisor.refreshAllTools(ctx)
	stats, err := h.index.refresh(ctx)
	if err != nil {
		return mcp.NewToolResultError(describeCallError(err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"Refreshed tool index: %d servers scanned, %d tools indexed, %d tools skipped, took %s.",
		stats.ServersScanned, stats.ToolsIndexed, stats.ToolsSkipped, stats.Duration)), nil
}

// ---- get_tool_index_info ----

func (h *MetaToolHandler) describeGetToolIndexInfo() mcp.Tool {
	return mcp.NewTool(toolGetToolIndexInfo,
		mcp.WithDescription("Report the current size of the semantic search index and how many tools each connected server contributes."),
	)
}

func (h *MetaToolHandler) handleGetToolIndexInfo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	byServer := h.index.allTools()
	total := 0
	counts := make(map[string]int, len(byServer))
	for name, tools := range byServer {
		counts[name] = len(tools)
		total += len(tools)
	}
	payload := struct {
		TotalTools      int            `json:"totalTools"`
		ToolsByServer   map[string]int `json:"toolsByServer"`
		DisabledServers []string       `json:"disabledServers,omitempty"`
	}{TotalTools: total, ToolsByServer: counts, DisabledServers: disabledServerNames(h.overrides)}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return mcp.NewToolResultError("Error: " + err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ---- shared helpers ----

// describeCallError maps the proxy's closed error taxonomy to the
// human-readable strings spec.md §7 specifies for each kind. Every
// branch is prefixed with "Error " per spec.md §7's wire contract for
// MCP tool error text, and falls back to the raw error, similarly
// prefixed, for anything unexpected.
func describeCallError(err error) string {
	var pe *proxyError
	if !errors.As(err, &pe) {
		return "Error: " + err.Error()
	}
	switch pe.Kind {
	case ErrUnknownServer:
		return fmt.Sprintf("Error: unknown server %q: no upstream server is configured with that name", pe.Subject)
	case ErrUnknownTool:
		return fmt.Sprintf("Error: unknown tool %q on server %q. Available tools on %q: %s", pe.Subject, pe.Server, pe.Server, joinOrNone(pe.Available))
	case ErrNotRunning:
		return fmt.Sprintf("Error: server %q is not running: start it before calling its tools", pe.Subject)
	case ErrDisabled:
		if pe.Server != "" {
			return fmt.Sprintf("Error: tool %q on server %q is disabled by tool-overrides configuration", pe.Subject, pe.Server)
		}
		return fmt.Sprintf("Error: server %q is disabled in configuration", pe.Subject)
	case ErrUpstreamError:
		return fmt.Sprintf("Error: upstream server %q returned an error: %v", pe.Subject, pe.Err)
	case ErrUpstreamStart:
		return fmt.Sprintf("Error: failed to start upstream server %q: %v", pe.Subject, pe.Err)
	case ErrBusy:
		return fmt.Sprintf("Error: %s is busy, a refresh is already in progress", pe.Subject)
	case ErrEmbedding:
		return fmt.Sprintf("Error: failed to embed query %q: %v", pe.Subject, pe.Err)
	case ErrInvalidArgument:
		return fmt.Sprintf("Error: invalid argument: %s", pe.Subject)
	default:
		return "Error: " + pe.Error()
	}
}

func joinOrNone(names []string) string {
	if len(names) == 0 {
		return "(none)"
	}
	return strings.Join(names, ", ")
}

func intArg(req mcp.CallToolRequest, name string, fallback int) int {
	if v, ok := req.GetArguments()[name]; ok {
		if f, ok := v.(float64); ok {
			return int(f)
		}
	}
	return fallback
}

func floatArg(req mcp.CallToolRequest, name string, fallback float64) float64 {
	if v, ok := req.GetArguments()[name]; ok {
		if f, ok := v.(float64); ok {
			return f
		}
	}
	return fallback
}
