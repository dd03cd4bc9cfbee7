package main

import (
	"fmt"
	"os"
	"time"

	optional "github.com/TBXark/optional-go"
	confstore "github.com/go-sphere/confstore"
	"gopkg.in/yaml.v3"
)

// TransportKind selects how a Supervisor dials an upstream MCP server.
type TransportKind string

const (
	TransportStdio          TransportKind = "stdio"
	TransportHTTP           TransportKind = "http"
	TransportStreamableHTTP TransportKind = "streamable-http"
	TransportSSE            TransportKind = "sse"
)

// UpstreamServerOptions mirrors the upstream proxy's per-client
// Options block, kept as Optional[T] fields the way TBXark/optional-go
// is used throughout the teacher's client configuration.
type UpstreamServerOptions struct {
	PanicIfInvalid optional.Field[bool] `yaml:"panicIfInvalid,omitempty"`
	LogEnabled     optional.Field[bool] `yaml:"logEnabled,omitempty"`
	AuthTokens     []string             `yaml:"authTokens,omitempty"`
}

// UpstreamServerConfig is spec.md §3's UpstreamServerConfig entity.
type UpstreamServerConfig struct {
	Name        string                `yaml:"-"`
	Description string                `yaml:"description"`
	Transport   TransportKind         `yaml:"transport"`
	Command     string                `yaml:"command,omitempty"`
	Args        []string              `yaml:"args,omitempty"`
	Env         map[string]string     `yaml:"env,omitempty"`
	WorkDir     string                `yaml:"workdir,omitempty"`
	URL         string                `yaml:"url,omitempty"`
	Enabled     bool                  `yaml:"enabled"`
	Tools       []string              `yaml:"tools,omitempty"`
	Options     UpstreamServerOptions `yaml:"options,omitempty"`
}

func (c UpstreamServerConfig) validate() error {
	switch c.Transport {
	case TransportStdio:
		if c.Command == "" {
			return newProxyError(ErrConfigInvalid, c.Name, fmt.Errorf("stdio transport requires command"))
		}
	case TransportHTTP, TransportStreamableHTTP, TransportSSE:
		if c.URL == "" {
			return newProxyError(ErrConfigInvalid, c.Name, fmt.Errorf("%s transport requires url", c.Transport))
		}
	default:
		return newProxyError(ErrConfigInvalid, c.Name, fmt.Errorf("unknown transport %q", c.Transport))
	}
	return nil
}

type MCPProxyConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	BaseURL string `yaml:"baseUrl,omitempty"`
}

func (c *MCPProxyConfig) addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type ManifestConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Description string `yaml:"description"`
}

type VectorStoreConfig struct {
	CollectionName      string `yaml:"collectionName"`
	EmbeddingDimensions int    `yaml:"embeddingDimensions"`
}

type OllamaEmbeddingConfig struct {
	BaseURL   string `yaml:"baseUrl"`
	ModelName string `yaml:"modelName"`
}

type OllamaChatConfig struct {
	BaseURL                string  `yaml:"baseUrl"`
	ModelName              string  `yaml:"modelName"`
	Temperature            float64 `yaml:"temperature"`
	PhraseGenerationPrompt string  `yaml:"phraseGenerationPrompt,omitempty"`
}

// SemanticKernelConfig groups the embedding/chat backend configuration,
// named after the config key path spec.md §6 specifies.
type SemanticKernelConfig struct {
	VectorStore                VectorStoreConfig    `yaml:"vectorStore"`
	OllamaEmbedding             OllamaEmbeddingConfig `yaml:"ollamaEmbedding"`
	OllamaChat                  OllamaChatConfig      `yaml:"ollamaChat"`
	UseEnhancedPhraseGeneration bool                  `yaml:"useEnhancedPhraseGeneration"`
	Provider                    string                `yaml:"provider"` // "ollama" or "openai"
	OpenAIAPIKey                string                `yaml:"openaiApiKey,omitempty"`
	MaxResults                  int                   `yaml:"maxResults,omitempty"`
	MinRelevanceScore           float64               `yaml:"minRelevanceScore,omitempty"`
	RequestTimeout              time.Duration         `yaml:"requestTimeout,omitempty"`
}

type LoggingConfig struct {
	LogLevel map[string]string `yaml:"logLevel,omitempty"`
}

type Config struct {
	McpProxy          *MCPProxyConfig                 `yaml:"mcpProxy"`
	Manifest          *ManifestConfig                 `yaml:"manifest"`
	McpServers        map[string]UpstreamServerConfig `yaml:"mcpServers"`
	SemanticKernel    SemanticKernelConfig             `yaml:"semanticKernel"`
	Logging           LoggingConfig                    `yaml:"logging"`
	ToolOverridesPath string                           `yaml:"toolOverridesPath,omitempty"`
	ShutdownGrace     time.Duration                    `yaml:"shutdownGrace,omitempty"`
}

// ToolOverrideConfig and AnnotationOverrideConfig back tool_overrides.go's
// cascade. It re-describes the five meta-tools under the synthetic
// "meta" server name, and its enabled flags also hide upstream tools
// from the search index and from call_external_tool.
type ToolOverrideConfig struct {
	Enabled     *bool                     `json:"enabled,omitempty"`
	Description *string                   `json:"description,omitempty"`
	Annotations *AnnotationOverrideConfig `json:"annotations,omitempty"`
}

type AnnotationOverrideConfig struct {
	Title           *string `json:"title,omitempty"`
	ReadOnlyHint    *bool   `json:"readOnlyHint,omitempty"`
	DestructiveHint *bool   `json:"destructiveHint,omitempty"`
	IdempotentHint  *bool   `json:"idempotentHint,omitempty"`
	OpenWorldHint   *bool   `json:"openWorldHint,omitempty"`
}

var debugLogging bool

func defaultConfig() *Config {
	return &Config{
		McpProxy: &MCPProxyConfig{
			Name:    "toolproxy",
			Version: "1.0.0",
			Host:    "localhost",
			Port:    3030,
		},
		Manifest: &ManifestConfig{
			Name:        "toolproxy",
			Version:     "1.0.0",
			Description: "Semantic aggregation proxy for upstream MCP tool servers.",
		},
		McpServers: map[string]UpstreamServerConfig{},
		SemanticKernel: SemanticKernelConfig{
			VectorStore: VectorStoreConfig{
				CollectionName:      "tool-index",
				EmbeddingDimensions: 1536,
			},
			Provider: "ollama",
			OllamaEmbedding: OllamaEmbeddingConfig{
				BaseURL:   "http://localhost:11434",
				ModelName: "nomic-embed-text",
			},
			OllamaChat: OllamaChatConfig{
				BaseURL:     "http://localhost:11434",
				ModelName:   "llama3.1",
				Temperature: 0.1,
			},
			MaxResults:        defaultMaxResults,
			MinRelevanceScore: defaultMinRelevance,
			RequestTimeout:    60 * time.Second,
		},
		Logging:       LoggingConfig{LogLevel: map[string]string{"default": "info"}},
		ShutdownGrace: 5 * time.Second,
	}
}

// loadConfig reads and validates the YAML config file at path, applying
// the small set of env var overrides the reference chat client layers
// over its own config file (OPENAI_API_KEY, TOOLPROXY_DEBUG,
// TOOLPROXY_PORT).
func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		if err := confstore.LoadFile(path, cfg); err != nil {
			data, readErr := os.ReadFile(path)
			if readErr != nil {
				return nil, newProxyError(ErrConfigInvalid, path, readErr)
			}
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, newProxyError(ErrConfigInvalid, path, err)
			}
		}
	}

	if cfg.McpProxy.BaseURL == "" {
		cfg.McpProxy.BaseURL = fmt.Sprintf("http://%s", cfg.McpProxy.addr())
	}
	if cfg.SemanticKernel.MaxResults <= 0 {
		cfg.SemanticKernel.MaxResults = defaultMaxResults
	}
	if cfg.SemanticKernel.MinRelevanceScore <= 0 {
		cfg.SemanticKernel.MinRelevanceScore = defaultMinRelevance
	}
	if cfg.SemanticKernel.RequestTimeout <= 0 {
		cfg.SemanticKernel.RequestTimeout = 60 * time.Second
	}

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.SemanticKernel.OpenAIAPIKey = key
	}
	if envEnabled("TOOLPROXY_DEBUG") {
		debugLogging = true
	}
	cfg.McpProxy.Port = envInt("TOOLPROXY_PORT", cfg.McpProxy.Port)

	for name, server := range cfg.McpServers {
		server.Name = name
		if err := server.validate(); err != nil {
			return nil, err
		}
		cfg.McpServers[name] = server
	}

	return cfg, nil
}

// saveDefaultConfig writes a starter config file, mirroring the reference
// chat client's own createDefaultConfig/save behavior for first-run setup.
func saveDefaultConfig(path string) error {
	cfg := defaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	resolved, err := mkdirAllUnder(configHome(), path)
	if err != nil {
		resolved = path
	}
	return os.WriteFile(resolved, data, 0o644)
}

func debugf(subsystem, format string, args ...any) {
	if !debugLogging {
		return
	}
	logPrintf(subsystem, format, args...)
}
