package main

import (
	"context"
	"flag"
	"log"

	"github.com/mark3labs/mcp-go/server"
)

// main wires the four subsystems in the dependency order spec.md §2
// lays out: providers -> Supervisor -> ToolIndex -> meta-tool handlers
// -> HTTP front-end. Mirrors the shape of the teacher's own main.go:
// parse flags, load config, bring up clients, start serving, wait for
// shutdown.
func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	overridesPath := flag.String("tool-overrides", "", "path to the tool override JSON file (overrides config)")
	initConfig := flag.Bool("init-config", false, "write a starter config file to the given -config path and exit")
	debug := flag.Bool("debug", false, "raise log verbosity (equivalent to TOOLPROXY_DEBUG=1)")
	flag.Parse()

	if *debug {
		debugLogging = true
	}

	if *initConfig {
		path := *configPath
		if path == "" {
			path = configHome() + "/config.yaml"
		}
		if err := saveDefaultConfig(path); err != nil {
			log.Fatalf("failed to write default config: %v", err)
		}
		log.Printf("wrote default config to %s", path)
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *overridesPath != "" {
		cfg.ToolOverridesPath = *overridesPath
	}

	embedder, chatter := newEmbeddingAndChatProviders(cfg.SemanticKernel)

	var overrides *ToolOverrideSet
	if cfg.ToolOverridesPath != "" {
		guardedPath, err := resolveToolOverridesPath(cfg.ToolOverridesPath)
		if err != nil {
			log.Fatalf("tool-overrides path %q rejected: %v", cfg.ToolOverridesPath, err)
		}
		overrides, err = loadToolOverridesFromPath(guardedPath)
		if err != nil {
			log.Printf("<main> failed to load tool overrides from %s: %v", guardedPath, err)
		}
	}

	sup := newSupervisor(cfg.McpServers)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started, total := sup.startAll(ctx)
	log.Printf("<main> started %d/%d upstream servers", started, total)

	index := newToolIndex(sup, embedder, chatter, cfg.SemanticKernel, overrides)
	if stats, err := index.refresh(ctx); err != nil {
		log.Printf("<main> initial tool index refresh failed: %v", err)
	} else {
		log.Printf("<main> initial tool index: %d servers, %d tools, %d skipped, took %s",
			stats.ServersScanned, stats.ToolsIndexed, stats.ToolsSkipped, stats.Duration)
	}

	searchEngine := newSemanticSearchEngine(index, embedder)

	mcpServer := server.NewMCPServer(cfg.McpProxy.Name, cfg.McpProxy.Version)
	metaHandler := newMetaToolHandler(sup, index, searchEngine, overrides, cfg.SemanticKernel)
	metaHandler.register(mcpServer)

	if err := startHTTPServer(ctx, cfg, sup, index, searchEngine, mcpServer); err != nil {
		log.Fatalf("http server exited with error: %v", err)
	}
}
