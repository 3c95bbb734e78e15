//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

package mcp

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	mcp "trpc.group/trpc-go/trpc-mcp-go"
)

// transport is the wire protocol used to reach an MCP server.
type transport string

const (
	transportSSE        transport = "sse"
	transportStreamable transport = "streamable"
)

// Name length limits imposed by the function-calling surface.
const (
	maxSlugLength         = 32
	maxFunctionNameLength = 64
)

const functionNamePrefix = "mcp_"

var defaultClientInfo = mcp.Implementation{
	Name:    "trpc-rag-go",
	Version: "1.0.0",
}

// defaultRetryConfig keeps tool calls conservative: two retries with
// exponential backoff capped at 8s.
var defaultRetryConfig = RetryConfig{
	MaxRetries:     2,
	InitialBackoff: 500 * time.Millisecond,
	BackoffFactor:  2.0,
	MaxBackoff:     8 * time.Second,
}

// ServerConfig describes one MCP server whose tools are exposed to chat.
type ServerConfig struct {
	// Name identifies the server; its slug prefixes every exposed tool.
	Name string `json:"name"`

	// Transport is "streamable" (default) or "sse".
	Transport string `json:"transport,omitempty"`

	// ServerURL is the HTTP endpoint of the server.
	ServerURL string `json:"server_url"`

	// Headers are sent on every request, typically for auth.
	Headers map[string]string `json:"headers,omitempty"`

	// Timeout bounds individual requests to the server.
	Timeout time.Duration `json:"timeout,omitempty"`

	// Enabled gates the server without removing its configuration.
	Enabled bool `json:"enabled"`
}

// RetryConfig controls tool call retry behavior.
type RetryConfig struct {
	MaxRetries     int           `json:"max_retries"`
	InitialBackoff time.Duration `json:"initial_backoff"`
	BackoffFactor  float64       `json:"backoff_factor"`
	MaxBackoff     time.Duration `json:"max_backoff"`
}

// LoadServers reads a JSON array of server configs from path. A missing
// file is not an error; it means no tools are configured.
func LoadServers(path string) ([]ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read mcp servers file %s: %w", path, err)
	}
	var servers []ServerConfig
	if err := json.Unmarshal(data, &servers); err != nil {
		return nil, fmt.Errorf("parse mcp servers file %s: %w", path, err)
	}
	for _, s := range servers {
		if _, err := validateTransport(s.Transport); err != nil {
			return nil, fmt.Errorf("server %q: %w", s.Name, err)
		}
	}
	return servers, nil
}

func validateTransport(t string) (transport, error) {
	switch t {
	case "", "streamable", "streamable_http":
		return transportStreamable, nil
	case "sse":
		return transportSSE, nil
	default:
		return "", fmt.Errorf("unsupported transport %q, supported: sse, streamable", t)
	}
}

// slugify normalizes a server name into a stable identifier: lowercase,
// spaces and hyphens become underscores, everything else non-alphanumeric
// is dropped, capped at 32 chars.
func slugify(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r == ' ' || r == '-':
			b.WriteByte('_')
		}
	}
	slug := b.String()
	if len(slug) > maxSlugLength {
		slug = slug[:maxSlugLength]
	}
	return slug
}

// functionName builds the exposed tool name mcp_<slug>_<tool>, capped at
// the function-calling surface limit.
func functionName(slug, tool string) string {
	name := functionNamePrefix + slug + "_" + tool
	if len(name) > maxFunctionNameLength {
		name = name[:maxFunctionNameLength]
	}
	return name
}
