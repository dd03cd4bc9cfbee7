package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ToolVectorRecord is spec.md §3's ToolVectorRecord entity.
type ToolVectorRecord struct {
	ID             string
	ServerName     string
	ToolName       string
	Description    string
	ParametersJSON string
	SearchPhrase   string
	Embedding      []float64
	LastUpdated    time.Time
}

type refreshStats struct {
	ServersScanned int
	ToolsIndexed   int
	ToolsSkipped   int
	Duration       time.Duration
}

// ToolIndex is spec.md §4.2's refreshable in-memory vector store. A
// refresh() builds a brand-new byServer/records pair and swaps both in
// under a single lock, so a reader never observes a partially rebuilt
// index — the atomic-swap invariant spec.md §9 calls out explicitly.
type ToolIndex struct {
	supervisor *Supervisor
	embedder   EmbeddingProvider
	chatter    ChatProvider
	cfg        SemanticKernelConfig
	overrides  *ToolOverrideSet

	refreshMu sync.Mutex

	mu       sync.RWMutex
	byServer map[string][]ToolDescriptor
	records  map[string]*ToolVectorRecord
	dim      int
}

func newToolIndex(sup *Supervisor, embedder EmbeddingProvider, chatter ChatProvider, cfg SemanticKernelConfig, overrides *ToolOverrideSet) *ToolIndex {
	return &ToolIndex{
		supervisor: sup,
		embedder:   embedder,
		chatter:    chatter,
		cfg:        cfg,
		overrides:  overrides,
		byServer:   make(map[string][]ToolDescriptor),
		records:    make(map[string]*ToolVectorRecord),
	}
}

func recordID(server, tool string) string { return server + "." + tool }

// refresh rebuilds the index from the Supervisor's current running
// sessions. A second caller while a refresh is in flight gets BUSY
// rather than blocking, per spec.md §7.
func (idx *ToolIndex) refresh(ctx context.Context) (refreshStats, error) {
	if !idx.refreshMu.TryLock() {
		return refreshStats{}, newProxyError(ErrBusy, "tool_index", nil)
	}
	defer idx.refreshMu.Unlock()

	start := time.Now()
	newByServer := make(map[string][]ToolDescriptor)

	type pending struct {
		server, phrase string
		descriptor     ToolDescriptor
	}
	var pendings []pending

	for _, session := range idx.supervisor.running() {
		name := session.Name()
		enabled := make([]ToolDescriptor, 0, len(session.Tools()))
		for _, t := range session.Tools() {
			if !toolEnabled(idx.overrides, name, t.Name) {
				continue
			}
			enabled = append(enabled, t)
			phrase := idx.derivePhrase(ctx, name, t)
			pendings = append(pendings, pending{server: name, phrase: phrase, descriptor: t})
		}
		newByServer[name] = enabled
	}

	newRecords := make(map[string]*ToolVectorRecord, len(pendings))
	skipped := 0
	for _, p := range pendings {
		vec, err := idx.embedder.GenerateEmbedding(ctx, p.phrase)
		if err != nil {
			logPrintf("index", "embedding failed for %s.%s: %v", p.server, p.descriptor.Name, err)
			skipped++
			continue
		}
		if idx.dim != 0 && len(vec) != idx.dim {
			logPrintf("index", "embedding dimension mismatch for %s.%s: got %d want %d, skipping", p.server, p.descriptor.Name, len(vec), idx.dim)
			skipped++
			continue
		}

		paramsJSON, _ := json.Marshal(p.descriptor.Parameters)
		id := recordID(p.server, p.descriptor.Name)
		newRecords[id] = &ToolVectorRecord{
			ID:             id,
			ServerName:     p.server,
			ToolName:       p.descriptor.Name,
			Description:    p.descriptor.Description,
			ParametersJSON: string(paramsJSON),
			SearchPhrase:   p.phrase,
			Embedding:      vec,
			LastUpdated:    time.Now(),
		}
	}

	idx.mu.Lock()
	if idx.dim == 0 {
		for _, r := range newRecords {
			idx.dim = len(r.Embedding)
			break
		}
	}
	idx.byServer = newByServer
	idx.records = newRecords
	idx.mu.Unlock()

	return refreshStats{
		ServersScanned: len(newByServer),
		ToolsIndexed:   len(newRecords),
		ToolsSkipped:   skipped,
		Duration:       time.Since(start),
	}, nil
}

// derivePhrase implements spec.md §4.2.1's two derivation modes: a
// deterministic heuristic template, or an LLM-assisted rewrite that
// falls back to the heuristic on any failure (a quality knob, never a
// correctness requirement per spec.md §9).
func (idx *ToolIndex) derivePhrase(ctx context.Context, server string, tool ToolDescriptor) string {
	heuristic := heuristicPhrase(server, tool)
	if !idx.cfg.UseEnhancedPhraseGeneration || idx.chatter == nil {
		return heuristic
	}
	phrase, err := idx.chatter.GeneratePhrase(ctx, idx.cfg.OllamaChat.PhraseGenerationPrompt, server, tool.Name, tool.Description, idx.cfg.OllamaChat.Temperature)
	if err != nil || strings.TrimSpace(phrase) == "" {
		logPrintf("index", "phrase generation failed for %s.%s, falling back to heuristic: %v", server, tool.Name, err)
		return heuristic
	}
	return phrase
}

func heuristicPhrase(server string, tool ToolDescriptor) string {
	return fmt.Sprintf(`"%s" that is used for "%s". "%s" is available from the server: %s.`, tool.Name, tool.Description, tool.Name, server)
}

func (idx *ToolIndex) allTools() map[string][]ToolDescriptor {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make(map[string][]ToolDescriptor, len(idx.byServer))
	for k, v := range idx.byServer {
		cp := make([]ToolDescriptor, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

func (idx *ToolIndex) serverTools(name string) []ToolDescriptor {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	tools := idx.byServer[name]
	out := make([]ToolDescriptor, len(tools))
	copy(out, tools)
	return out
}

func (idx *ToolIndex) snapshotRecords() []*ToolVectorRecord {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]*ToolVectorRecord, 0, len(idx.records))
	for _, r := range idx.records {
		out = append(out, r)
	}
	return out
}

// call dispatches to the named upstream server, first checking the
// same override cascade refresh() applies during indexing so a tool
// disabled via tool_overrides.go can't be reached through
// call_external_tool even if a client already has its name cached from
// an earlier list.
func (idx *ToolIndex) call(ctx context.Context, server, tool string, params map[string]any) (string, error) {
	session := idx.supervisor.get(server)
	if session == nil {
		return "", newProxyError(ErrUnknownServer, server, nil)
	}
	if !toolEnabled(idx.overrides, server, tool) {
		return "", &proxyError{Kind: ErrDisabled, Subject: tool, Server: server}
	}
	return session.call(ctx, tool, params)
}
