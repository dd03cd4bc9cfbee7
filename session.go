package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// SessionState is the UpstreamSession state machine from spec.md §4.1:
// Stopped -> Starting -> Running|Failed -> Stopped.
type SessionState string

const (
	StateStopped  SessionState = "Stopped"
	StateStarting SessionState = "Starting"
	StateRunning  SessionState = "Running"
	StateFailed   SessionState = "Failed"
	StateStopping SessionState = "Stopping"
)

// ToolDescriptor is spec.md §3's ToolDescriptor entity.
type ToolDescriptor struct {
	Name        string
	Description string
	Parameters  []Parameter
	Annotations map[string]any
}

// Parameter is spec.md §3's Parameter entity.
type Parameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// UpstreamSession owns exactly one upstream MCP client connection and
// the tool descriptors last discovered from it. The mutex guards the
// state, client, tools and lastErr fields; it is not held across
// upstream requests, so start, stop and call on the same session are
// not serialized against one another.
type UpstreamSession struct {
	config UpstreamServerConfig

	mu      sync.RWMutex
	state   SessionState
	client  mcpclient.MCPClient
	tools   []ToolDescriptor
	lastErr error
}

func newUpstreamSession(cfg UpstreamServerConfig) *UpstreamSession {
	return &UpstreamSession{config: cfg, state: StateStopped}
}

func (s *UpstreamSession) Name() string { return s.config.Name }

func (s *UpstreamSession) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *UpstreamSession) setState(st SessionState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// logf logs under this session's name unless the server config has
// explicitly turned logging off via options.logEnabled: false.
func (s *UpstreamSession) logf(format string, args ...any) {
	if !s.config.Options.LogEnabled.OrElse(true) {
		return
	}
	logPrintf(s.config.Name, format, args...)
}

// start dials the configured transport, performs the MCP handshake, and
// discovers tools. It never returns an error: failures land the session
// in StateFailed and are logged, matching the Supervisor contract that
// one bad server never aborts start_all. The exception is a server with
// options.panicIfInvalid set, whose dial or handshake failure panics.
func (s *UpstreamSession) start(ctx context.Context) bool {
	if !s.config.Enabled {
		return false
	}
	s.setState(StateStarting)
	s.logf("starting (%s)", s.config.Transport)

	cli, err := dialUpstreamWithFallback(ctx, s.config)
	if err != nil {
		if s.config.Options.PanicIfInvalid.OrElse(false) {
			panic(fmt.Sprintf("upstream server %q failed to start and panicIfInvalid is set: %v", s.config.Name, err))
		}
		s.logf("failed to start: %v", err)
		s.recordFailure(err)
		return false
	}

	s.mu.Lock()
	s.client = cli
	s.mu.Unlock()

	if err := s.discoverTools(ctx); err != nil {
		s.logf("tool discovery failed, falling back to configured tool list: %v", err)
		s.mu.Lock()
		s.tools = fallbackDescriptors(s.config.Tools)
		s.mu.Unlock()
	}

	s.setState(StateRunning)
	s.logf("running with %d tools", len(s.Tools()))
	return true
}

func fallbackDescriptors(names []string) []ToolDescriptor {
	out := make([]ToolDescriptor, 0, len(names))
	for _, n := range names {
		out = append(out, ToolDescriptor{Name: n})
	}
	return out
}

func (s *UpstreamSession) recordFailure(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.state = StateFailed
	s.mu.Unlock()
}

func (s *UpstreamSession) discoverTools(ctx context.Context) error {
	s.mu.RLock()
	cli := s.client
	s.mu.RUnlock()
	if cli == nil {
		return fmt.Errorf("no active client")
	}
	resp, err := cli.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return err
	}
	descriptors := make([]ToolDescriptor, 0, len(resp.Tools))
	for _, t := range resp.Tools {
		descriptors = append(descriptors, toolDescriptorFromMCP(t))
	}
	s.mu.Lock()
	s.tools = descriptors
	s.mu.Unlock()
	return nil
}

// refreshTools re-runs discovery. Per spec.md §9, an empty result never
// clobbers a previously good list — the upstream may be mid-restart.
func (s *UpstreamSession) refreshTools(ctx context.Context) error {
	if s.State() != StateRunning {
		return newProxyError(ErrNotRunning, s.config.Name, nil)
	}
	s.mu.RLock()
	cli := s.client
	s.mu.RUnlock()
	if cli == nil {
		return newProxyError(ErrNotRunning, s.config.Name, nil)
	}
	resp, err := cli.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return newProxyError(ErrUpstreamError, s.config.Name, err)
	}
	if len(resp.Tools) == 0 {
		s.logf("refresh returned an empty tool list, keeping previous %d tools", len(s.Tools()))
		return nil
	}
	descriptors := make([]ToolDescriptor, 0, len(resp.Tools))
	for _, t := range resp.Tools {
		descriptors = append(descriptors, toolDescriptorFromMCP(t))
	}
	s.mu.Lock()
	s.tools = descriptors
	s.mu.Unlock()
	return nil
}

func (s *UpstreamSession) Tools() []ToolDescriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ToolDescriptor, len(s.tools))
	copy(out, s.tools)
	return out
}

// call forwards a tools/call to the upstream, flattening the result's
// text content blocks per spec.md §4.1.
func (s *UpstreamSession) call(ctx context.Context, toolName string, params map[string]any) (string, error) {
	if !s.config.Enabled {
		return "", newProxyError(ErrDisabled, s.config.Name, nil)
	}
	if s.State() != StateRunning {
		return "", newProxyError(ErrNotRunning, s.config.Name, nil)
	}

	exact, ok := s.resolveToolName(toolName)
	if !ok {
		tools := s.Tools()
		names := make([]string, len(tools))
		for i, t := range tools {
			names[i] = t.Name
		}
		return "", newUnknownToolError(s.config.Name, toolName, names)
	}

	s.mu.RLock()
	cli := s.client
	s.mu.RUnlock()
	if cli == nil {
		return "", newProxyError(ErrNotRunning, s.config.Name, nil)
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = exact
	req.Params.Arguments = params

	result, err := cli.CallTool(ctx, req)
	if err != nil {
		return "", newProxyError(ErrUpstreamError, s.config.Name, err)
	}
	return flattenTextContent(result), nil
}

// resolveToolName matches case-insensitively (spec.md §9's case-
// sensitivity fix) but returns the exact upstream-registered name.
func (s *UpstreamSession) resolveToolName(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tools {
		if strings.EqualFold(t.Name, name) {
			return t.Name, true
		}
	}
	return "", false
}

func (s *UpstreamSession) stop(ctx context.Context) {
	s.setState(StateStopping)
	s.mu.Lock()
	cli := s.client
	s.client = nil
	s.tools = nil
	s.mu.Unlock()
	if cli != nil {
		closeWithContext(ctx, cli)
	}
	s.setState(StateStopped)
	s.logf("stopped")
}

// closeWithContext closes cli but does not wait past ctx's deadline,
// so a hung transport can't hold Supervisor.stopAll past its
// shutdown-grace window. The Close call itself still runs to
// completion in the background; only the caller stops waiting on it.
func closeWithContext(ctx context.Context, cli mcpclient.MCPClient) {
	done := make(chan struct{})
	go func() {
		_ = cli.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// dialUpstreamWithFallback dials the configured transport. For the
// http/streamable-http family it first tries the streamable transport
// and falls back to SSE once, matching upstream MCP servers that only
// implement the older SSE transport at the same URL.
func dialUpstreamWithFallback(ctx context.Context, cfg UpstreamServerConfig) (mcpclient.MCPClient, error) {
	cli, err := dialUpstream(cfg)
	if err != nil {
		return nil, err
	}

	startErr := handshake(ctx, cli, cfg.Name)
	if startErr == nil {
		return cli, nil
	}
	_ = cli.Close()

	if cfg.Transport != TransportHTTP && cfg.Transport != TransportStreamableHTTP {
		return nil, startErr
	}

	logPrintf(cfg.Name, "streamable-http handshake failed, retrying over sse: %v", startErr)
	sseClient, sseErr := mcpclient.NewSSEMCPClient(cfg.URL)
	if sseErr != nil {
		return nil, newProxyError(ErrUpstreamStart, cfg.Name, sseErr)
	}
	if err := handshake(ctx, sseClient, cfg.Name); err != nil {
		_ = sseClient.Close()
		return nil, newProxyError(ErrUpstreamStart, cfg.Name, err)
	}
	return sseClient, nil
}

func handshake(ctx context.Context, cli mcpclient.MCPClient, name string) error {
	if err := cli.Start(ctx); err != nil {
		return fmt.Errorf("start transport: %w", err)
	}
	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "toolproxy", Version: "1.0.0"}
	if _, err := cli.Initialize(ctx, initReq); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	return nil
}

// resolveWorkDir returns cfg's configured working directory, defaulting
// to the user's home directory when unset rather than inheriting
// toolproxy's own cwd.
func resolveWorkDir(workDir string) string {
	if workDir != "" {
		return workDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home
}

// stdioCommandWithWorkDir re-execs command/args under a shell that first
// cds into dir. mcp-go's stdio client spawns the command directly with
// no working-directory option of its own, so this is the only way to
// give an upstream stdio server a non-default cwd.
func stdioCommandWithWorkDir(command string, args []string, dir string) (string, []string) {
	if dir == "" {
		return command, args
	}
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, shellQuote(command))
	for _, a := range args {
		parts = append(parts, shellQuote(a))
	}
	script := fmt.Sprintf("cd %s && exec %s", shellQuote(dir), strings.Join(parts, " "))
	return "/bin/sh", []string{"-c", script}
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func dialUpstream(cfg UpstreamServerConfig) (mcpclient.MCPClient, error) {
	switch cfg.Transport {
	case TransportStdio:
		if cfg.Command == "" {
			return nil, newProxyError(ErrConfigInvalid, cfg.Name, fmt.Errorf("stdio transport requires command"))
		}
		env := make([]string, 0, len(cfg.Env))
		for k, v := range cfg.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		command, args := stdioCommandWithWorkDir(cfg.Command, cfg.Args, resolveWorkDir(cfg.WorkDir))
		cli, err := mcpclient.NewStdioMCPClient(command, env, args...)
		if err != nil {
			return nil, newProxyError(ErrUpstreamStart, cfg.Name, err)
		}
		return cli, nil

	case TransportHTTP, TransportStreamableHTTP:
		if cfg.URL == "" {
			return nil, newProxyError(ErrConfigInvalid, cfg.Name, fmt.Errorf("http transport requires url"))
		}
		cli, err := mcpclient.NewStreamableHttpClient(cfg.URL)
		if err != nil {
			return nil, newProxyError(ErrUpstreamStart, cfg.Name, err)
		}
		return cli, nil

	case TransportSSE:
		if cfg.URL == "" {
			return nil, newProxyError(ErrConfigInvalid, cfg.Name, fmt.Errorf("sse transport requires url"))
		}
		cli, err := mcpclient.NewSSEMCPClient(cfg.URL)
		if err != nil {
			return nil, newProxyError(ErrUpstreamStart, cfg.Name, err)
		}
		return cli, nil

	default:
		return nil, newProxyError(ErrConfigInvalid, cfg.Name, fmt.Errorf("unknown transport %q", cfg.Transport))
	}
}
