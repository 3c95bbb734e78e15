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
	"context"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gmtext "github.com/yuin/goldmark/text"
)

var _ Extractor = (*Markdown)(nil)

// Markdown extracts the text content of Markdown files. Formatting markers
// are dropped so chunking and BM25 see prose, not syntax.
type Markdown struct {
	md goldmark.Markdown
}

// NewMarkdown creates a Markdown extractor.
func NewMarkdown() *Markdown {
	return &Markdown{md: goldmark.New()}
}

// Extensions implements the Extractor interface.
func (m *Markdown) Extensions() []string {
	return []string{"md", "markdown"}
}

// Extract implements the Extractor interface.
func (m *Markdown) Extract(_ context.Context, content []byte) (string, error) {
	source := []byte(DecodeText(content))
	root := m.md.Parser().Parse(gmtext.NewReader(source))

	var b strings.Builder
	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			// Separate block elements with newlines.
			if _, isBlock := n.(*ast.Document); !isBlock && n.Type() == ast.TypeBlock && b.Len() > 0 {
				b.WriteString("\n")
			}
			return ast.WalkContinue, nil
		}
		switch v := n.(type) {
		case *ast.Text:
			b.Write(v.Segment.Value(source))
		case *ast.String:
			b.Write(v.Value)
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				b.Write(seg.Value(source))
			}
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String()), nil
}
