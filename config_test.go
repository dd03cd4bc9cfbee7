package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestUpstreamServerConfigValidateStdioRequiresCommand(t *testing.T) {
	cfg := UpstreamServerConfig{Name: "fs", Transport: TransportStdio}
	if err := cfg.validate(); err == nil {
		t.Fatalf("expected error for stdio transport without command")
	}
}

func TestUpstreamServerConfigValidateHTTPRequiresURL(t *testing.T) {
	cfg := UpstreamServerConfig{Name: "fs", Transport: TransportHTTP}
	if err := cfg.validate(); err == nil {
		t.Fatalf("expected error for http transport without url")
	}
}

func TestUpstreamServerConfigValidateUnknownTransport(t *testing.T) {
	cfg := UpstreamServerConfig{Name: "fs", Transport: "carrier-pigeon"}
	if err := cfg.validate(); err == nil {
		t.Fatalf("expected error for unknown transport")
	}
}

func TestUpstreamServerConfigValidateAccepts(t *testing.T) {
	cfg := UpstreamServerConfig{Name: "fs", Transport: TransportStdio, Command: "fs-server"}
	if err := cfg.validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDefaultConfigHasSaneDefaults(t *testing.T) {
	cfg := defaultConfig()
	if cfg.McpProxy.Port == 0 {
		t.Fatalf("expected non-zero default port")
	}
	if cfg.SemanticKernel.MaxResults != defaultMaxResults {
		t.Fatalf("expected default max results %d, got %d", defaultMaxResults, cfg.SemanticKernel.MaxResults)
	}
	if cfg.SemanticKernel.MinRelevanceScore != defaultMinRelevance {
		t.Fatalf("expected default min relevance %v, got %v", defaultMinRelevance, cfg.SemanticKernel.MinRelevanceScore)
	}
}

func TestLoadConfigLoadsYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlBody := "mcpProxy:\n  name: test-proxy\n  version: \"9.9.9\"\n  host: 127.0.0.1\n  port: 4040\nmcpServers: {}\n"
	if err := os.WriteFile(path, []byte(yamlBody), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig() error: %v", err)
	}
	if cfg.McpProxy.Name != "test-proxy" || cfg.McpProxy.Port != 4040 {
		t.Fatalf("unexpected config loaded: %#v", cfg.McpProxy)
	}
}

func TestLoadConfigAppliesPortEnvOverride(t *testing.T) {
	t.Setenv("TOOLPROXY_PORT", "9999")
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig() error: %v", err)
	}
	if cfg.McpProxy.Port != 9999 {
		t.Fatalf("expected TOOLPROXY_PORT to override port, got %d", cfg.McpProxy.Port)
	}
}

func TestLoadConfigRejectsInvalidServer(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlBody := "mcpServers:\n  broken:\n    transport: stdio\n"
	if err := os.WriteFile(path, []byte(yamlBody), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := loadConfig(path); err == nil {
		t.Fatalf("expected validation error for stdio server missing command")
	}
}
