//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

package chunking

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"trpc.group/trpc-go/trpc-rag-go/internal/encoding"
	"trpc.group/trpc-go/trpc-rag-go/knowledge/document"
)

// MarkdownChunking splits markdown documents along heading boundaries.
// Sections that fit the target size become one chunk each; oversize
// sections are re-split on sentence boundaries. Headings inside fenced
// code blocks never open a section because boundaries come from the
// parsed AST, not from line scanning.
type MarkdownChunking struct {
	chunkSize int
	overlap   int
	md        goldmark.Markdown
}

// MarkdownOption represents a functional option for configuring MarkdownChunking.
type MarkdownOption func(*MarkdownChunking)

// WithMarkdownChunkSize sets the target size of each chunk in runes.
func WithMarkdownChunkSize(size int) MarkdownOption {
	return func(mc *MarkdownChunking) {
		mc.chunkSize = size
	}
}

// WithMarkdownOverlap sets the number of runes carried over between chunks
// produced from the same oversize section.
func WithMarkdownOverlap(overlap int) MarkdownOption {
	return func(mc *MarkdownChunking) {
		mc.overlap = overlap
	}
}

// NewMarkdownChunking creates a new markdown chunking strategy with options.
func NewMarkdownChunking(opts ...MarkdownOption) *MarkdownChunking {
	mc := &MarkdownChunking{
		chunkSize: defaultChunkSize,
		overlap:   defaultOverlap,
		md:        goldmark.New(),
	}
	// Apply options.
	for _, opt := range opts {
		opt(mc)
	}
	// Validate parameters.
	if mc.chunkSize <= 0 {
		mc.chunkSize = defaultChunkSize
	}
	if mc.overlap < 0 {
		mc.overlap = 0
	}
	if mc.overlap >= mc.chunkSize {
		mc.overlap = min(defaultOverlap, mc.chunkSize-1)
	}
	return mc
}

var _ Strategy = (*MarkdownChunking)(nil)

// section is a run of markdown between two headings, carrying the heading
// trail that leads to it.
type section struct {
	path    []string
	content string
}

// Chunk splits the document along markdown structure with dense indices.
func (m *MarkdownChunking) Chunk(doc *document.Document) ([]*document.Document, error) {
	if doc == nil {
		return nil, ErrNilDocument
	}
	if doc.IsEmpty() {
		return nil, ErrEmptyDocument
	}

	content := cleanText(doc.Content)
	if encoding.RuneCount(content) <= m.chunkSize {
		chunk := newChunkDocument(doc, content, 0)
		return []*document.Document{chunk}, nil
	}

	sections := m.mergeSections(m.splitSections(content))

	// Oversize sections fall back to sentence merging with the same
	// size and overlap, so every emitted chunk respects the target.
	resplit := &SentenceChunking{
		chunkSize:      m.chunkSize,
		overlap:        m.overlap,
		maxExpandRatio: 1,
	}

	var chunks []*document.Document
	for _, sec := range sections {
		pieces := []string{sec.content}
		if encoding.RuneCount(sec.content) > m.chunkSize {
			pieces = resplit.ChunkText(sec.content)
		}
		for _, piece := range pieces {
			chunk := newChunkDocument(doc, piece, len(chunks))
			if len(sec.path) > 0 {
				chunk.Metadata[document.MetaHeaderPath] = strings.Join(sec.path, " > ")
			}
			chunks = append(chunks, chunk)
		}
	}
	return chunks, nil
}

// heading is a parsed markdown heading with the byte offset of its line.
type heading struct {
	level int
	title string
	start int
}

// parseHeadings walks the AST and returns document-order headings.
func (m *MarkdownChunking) parseHeadings(src []byte) []heading {
	root := m.md.Parser().Parse(text.NewReader(src))

	var headings []heading
	for node := root.FirstChild(); node != nil; node = node.NextSibling() {
		h, ok := node.(*ast.Heading)
		if !ok || h.Lines().Len() == 0 {
			continue
		}
		seg := h.Lines().At(0)
		headings = append(headings, heading{
			level: h.Level,
			title: headingText(h, src),
			start: lineStart(src, seg.Start),
		})
	}
	return headings
}

// splitSections cuts the source at heading line starts. Text before the
// first heading becomes a pathless preamble section.
func (m *MarkdownChunking) splitSections(content string) []section {
	src := []byte(content)
	headings := m.parseHeadings(src)
	if len(headings) == 0 {
		return []section{{content: content}}
	}

	var sections []section
	if pre := strings.TrimSpace(string(src[:headings[0].start])); pre != "" {
		sections = append(sections, section{content: pre})
	}

	// path[level] holds the active heading title per level.
	var path [7]string
	for i, h := range headings {
		end := len(src)
		if i+1 < len(headings) {
			end = headings[i+1].start
		}
		path[h.level] = h.title
		for l := h.level + 1; l < len(path); l++ {
			path[l] = ""
		}

		body := strings.TrimSpace(string(src[h.start:end]))
		if body == "" {
			continue
		}
		var trail []string
		for l := 1; l <= h.level; l++ {
			if path[l] != "" {
				trail = append(trail, path[l])
			}
		}
		sections = append(sections, section{path: trail, content: body})
	}
	return sections
}

// mergeSections greedily coalesces adjacent small sections so a run of
// short subsections does not turn into one chunk each. The merged section
// keeps the heading trail of its first member.
func (m *MarkdownChunking) mergeSections(sections []section) []section {
	var merged []section
	for _, sec := range sections {
		if len(merged) > 0 {
			last := &merged[len(merged)-1]
			combined := encoding.RuneCount(last.content) + encoding.RuneCount(sec.content) + 2
			if combined <= m.chunkSize {
				last.content += "\n\n" + sec.content
				continue
			}
		}
		merged = append(merged, sec)
	}
	return merged
}

// headingText collects the literal text of a heading node.
func headingText(h *ast.Heading, src []byte) string {
	var b strings.Builder
	for child := h.FirstChild(); child != nil; child = child.NextSibling() {
		if t, ok := child.(*ast.Text); ok {
			b.Write(t.Segment.Value(src))
		}
	}
	return strings.TrimSpace(b.String())
}

// lineStart walks back from a text offset to the start of its line, so the
// section boundary includes the heading markers themselves.
func lineStart(src []byte, offset int) int {
	for offset > 0 && src[offset-1] != '\n' {
		offset--
	}
	return offset
}
