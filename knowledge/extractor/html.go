//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

package extractor

import (
	"bytes"
	"context"
	"strings"

	"golang.org/x/net/html"
)

var _ Extractor = (*HTML)(nil)

// HTML extracts the visible text of HTML documents. Script and style
// contents are dropped.
type HTML struct{}

// NewHTML creates an HTML extractor.
func NewHTML() *HTML {
	return &HTML{}
}

// Extensions implements the Extractor interface.
func (h *HTML) Extensions() []string {
	return []string{"html", "htm"}
}

// Extract implements the Extractor interface.
func (h *HTML) Extract(_ context.Context, content []byte) (string, error) {
	decoded := DecodeText(content)
	root, err := html.Parse(bytes.NewReader([]byte(decoded)))
	if err != nil {
		// Malformed markup still indexes as raw text.
		return strings.TrimSpace(decoded), nil
	}

	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return strings.Join(parts, "\n"), nil
}
