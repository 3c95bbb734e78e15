//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package mcp exposes tools from configured MCP servers to the chat loop.
// Tools are cataloged under mcp_<server>_<tool> names and calls are
// bridged back to the owning server. Call failures degrade to an error
// text so a broken tool never aborts a conversation.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	mcp "trpc.group/trpc-go/trpc-mcp-go"

	"trpc.group/trpc-go/trpc-rag-go/chat"
	"trpc.group/trpc-go/trpc-rag-go/log"
	"trpc.group/trpc-go/trpc-rag-go/model"
)

var _ chat.ToolProvider = (*Provider)(nil)

// CallFailurePrefix marks tool results that carry an error description
// instead of output. The chat loop passes these back to the LLM verbatim.
const CallFailurePrefix = "[MCP 工具调用失败]"

// defaultRefreshInterval bounds how long a cached catalog is served.
const defaultRefreshInterval = 5 * time.Minute

// connector is the slice of the MCP client the provider needs. The
// trpc-mcp-go client satisfies it.
type connector interface {
	Initialize(ctx context.Context, req *mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, req *mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// dialFunc opens a client to one server.
type dialFunc func(cfg ServerConfig) (connector, error)

// route maps an exposed function name back to its server and tool.
type route struct {
	session *session
	tool    string
}

// Provider merges the tool catalogs of the enabled servers and dispatches
// calls. It implements the chat tool provider contract.
type Provider struct {
	sessions []*session
	retry    RetryConfig
	refresh  time.Duration

	mu          sync.RWMutex
	catalog     []model.ToolDefinition
	routes      map[string]route
	lastRefresh time.Time
}

// Option configures the provider.
type Option func(*Provider)

// WithRetry overrides the tool call retry configuration.
func WithRetry(cfg RetryConfig) Option {
	return func(p *Provider) { p.retry = cfg }
}

// WithRefreshInterval overrides how often the catalog is re-listed.
func WithRefreshInterval(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.refresh = d
		}
	}
}

// withDialer replaces the client constructor, for tests.
func withDialer(dial dialFunc) Option {
	return func(p *Provider) {
		for _, s := range p.sessions {
			s.dial = dial
		}
	}
}

// NewProvider builds a provider over the configured servers. Disabled
// servers are kept out of the catalog entirely.
func NewProvider(servers []ServerConfig, opts ...Option) *Provider {
	p := &Provider{
		retry:   defaultRetryConfig,
		refresh: defaultRefreshInterval,
	}
	for _, cfg := range servers {
		if !cfg.Enabled {
			continue
		}
		p.sessions = append(p.sessions, &session{cfg: cfg, dial: dialStreamable})
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Tools returns the merged catalog, refreshing it when stale. A server
// that fails to list is skipped so one bad server never hides the rest.
func (p *Provider) Tools(ctx context.Context) ([]model.ToolDefinition, error) {
	p.mu.RLock()
	stale := p.routes == nil || time.Since(p.lastRefresh) > p.refresh
	p.mu.RUnlock()

	if stale {
		p.refreshCatalog(ctx)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]model.ToolDefinition, len(p.catalog))
	copy(out, p.catalog)
	return out, nil
}

// Call dispatches an exposed tool name to its server. The returned string
// is either the tool output or a failure text the LLM can recover from.
func (p *Provider) Call(ctx context.Context, name string, args []byte) string {
	p.mu.RLock()
	r, ok := p.routes[name]
	p.mu.RUnlock()
	if !ok {
		return fmt.Sprintf("%s 未知工具: %s", CallFailurePrefix, name)
	}

	arguments := map[string]any{}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &arguments); err != nil {
			return fmt.Sprintf("%s 参数解析失败: %v", CallFailurePrefix, err)
		}
	}

	result, err := executeWithRetry(ctx, &p.retry, name, func() (*mcp.CallToolResult, error) {
		return r.session.callTool(ctx, r.tool, arguments)
	})
	if err != nil {
		log.Warnf("mcp tool %s call failed: %v", name, err)
		return fmt.Sprintf("%s %v", CallFailurePrefix, err)
	}
	return renderContent(result.Content)
}

// Close shuts down every server session.
func (p *Provider) Close() error {
	var firstErr error
	for _, s := range p.sessions {
		if err := s.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (p *Provider) refreshCatalog(ctx context.Context) {
	var catalog []model.ToolDefinition
	routes := make(map[string]route)

	for _, s := range p.sessions {
		tools, err := s.listTools(ctx)
		if err != nil {
			log.Warnf("mcp server %s: list tools failed, skipping: %v", s.cfg.Name, err)
			continue
		}
		slug := slugify(s.cfg.Name)
		for _, t := range tools {
			name := functionName(slug, t.Name)
			if _, exists := routes[name]; exists {
				log.Warnf("mcp tool name collision on %s, keeping first", name)
				continue
			}
			routes[name] = route{session: s, tool: t.Name}
			catalog = append(catalog, model.ToolDefinition{
				Name:        name,
				Description: t.Description,
				InputSchema: marshalSchema(t.InputSchema),
			})
		}
	}

	p.mu.Lock()
	p.catalog = catalog
	p.routes = routes
	p.lastRefresh = time.Now()
	p.mu.Unlock()
}

func marshalSchema(schema any) json.RawMessage {
	raw, err := json.Marshal(schema)
	if err != nil || string(raw) == "null" {
		return json.RawMessage(`{"type":"object"}`)
	}
	return raw
}

// renderContent flattens MCP content into the single text the chat loop
// feeds back to the LLM. Non-text content is JSON-encoded.
func renderContent(contents []mcp.Content) string {
	if len(contents) == 0 {
		return ""
	}
	parts := make([]string, 0, len(contents))
	for _, c := range contents {
		if text, ok := c.(mcp.TextContent); ok {
			parts = append(parts, text.Text)
			continue
		}
		if raw, err := json.Marshal(c); err == nil {
			parts = append(parts, string(raw))
		}
	}
	if len(parts) == 1 {
		return parts[0]
	}
	out, _ := json.Marshal(parts)
	return string(out)
}

// session lazily connects to one server and serializes access to the
// underlying client.
type session struct {
	cfg  ServerConfig
	dial dialFunc

	mu          sync.Mutex
	client      connector
	initialized bool
}

func (s *session) listTools(ctx context.Context) ([]mcp.Tool, error) {
	client, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	rsp, err := client.ListTools(ctx, &mcp.ListToolsRequest{})
	if err != nil {
		s.reset()
		return nil, fmt.Errorf("list tools on %s: %w", s.cfg.Name, err)
	}
	return rsp.Tools, nil
}

func (s *session) callTool(ctx context.Context, tool string, arguments map[string]any) (*mcp.CallToolResult, error) {
	client, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}

	req := &mcp.CallToolRequest{}
	req.Params.Name = tool
	req.Params.Arguments = arguments

	rsp, err := client.CallTool(ctx, req)
	if err != nil {
		s.reset()
		return nil, fmt.Errorf("call %s on %s: %w", tool, s.cfg.Name, err)
	}
	if rsp.IsError {
		return nil, fmt.Errorf("tool %s: %s", tool, renderContent(rsp.Content))
	}
	return rsp, nil
}

func (s *session) connect(ctx context.Context) (connector, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil && s.initialized {
		return s.client, nil
	}

	client, err := s.dial(s.cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", s.cfg.Name, err)
	}
	if _, err := client.Initialize(ctx, &mcp.InitializeRequest{}); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("initialize %s: %w", s.cfg.Name, err)
	}

	log.Infof("mcp server %s connected", s.cfg.Name)
	s.client = client
	s.initialized = true
	return client, nil
}

// reset drops the client so the next use reconnects.
func (s *session) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		_ = s.client.Close()
	}
	s.client = nil
	s.initialized = false
}

func (s *session) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	s.initialized = false
	return err
}

func dialStreamable(cfg ServerConfig) (connector, error) {
	if _, err := validateTransport(cfg.Transport); err != nil {
		return nil, err
	}
	options := []mcp.ClientOption{
		mcp.WithClientLogger(mcp.GetDefaultLogger()),
	}
	if len(cfg.Headers) > 0 {
		headers := http.Header{}
		for k, v := range cfg.Headers {
			headers.Set(k, v)
		}
		options = append(options, mcp.WithHTTPHeaders(headers))
	}
	return mcp.NewClient(cfg.ServerURL, defaultClientInfo, options...)
}
