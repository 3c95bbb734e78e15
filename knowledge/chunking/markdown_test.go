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
	"testing"

	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-rag-go/knowledge/document"
)

func TestMarkdownNilDocument(t *testing.T) {
	mc := NewMarkdownChunking()
	_, err := mc.Chunk(nil)
	require.ErrorIs(t, err, ErrNilDocument)
}

func TestMarkdownEmptyDocument(t *testing.T) {
	mc := NewMarkdownChunking()
	_, err := mc.Chunk(document.New("empty.md", "   \n\t "))
	require.ErrorIs(t, err, ErrEmptyDocument)
}

func TestMarkdownSmallDocumentSingleChunk(t *testing.T) {
	mc := NewMarkdownChunking(WithMarkdownChunkSize(200))
	chunks, err := mc.Chunk(document.New("small.md", "# Title\n\nA short note."))
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	require.Equal(t, 0, chunks[0].Metadata[document.MetaChunkIndex])
	require.Contains(t, chunks[0].Content, "# Title")
}

func TestMarkdownSplitsOnHeadings(t *testing.T) {
	content := "## Install\n\n" + strings.Repeat("Download the binary and unpack it. ", 3) +
		"\n\n## Configure\n\n" + strings.Repeat("Edit the config file and restart. ", 3)
	mc := NewMarkdownChunking(WithMarkdownChunkSize(120), WithMarkdownOverlap(0))

	chunks, err := mc.Chunk(document.New("guide.md", content))
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(chunks), 2)

	var paths []string
	for i, c := range chunks {
		require.Equal(t, i, c.Metadata[document.MetaChunkIndex])
		if p, ok := c.Metadata[document.MetaHeaderPath].(string); ok {
			paths = append(paths, p)
		}
	}
	require.Contains(t, paths, "Install")
	require.Contains(t, paths, "Configure")
}

func TestMarkdownHeaderPathNesting(t *testing.T) {
	content := "# Manual\n\n" + strings.Repeat("Overview text. ", 10) +
		"\n\n## Setup\n\n" + strings.Repeat("Setup steps here. ", 10)
	mc := NewMarkdownChunking(WithMarkdownChunkSize(100), WithMarkdownOverlap(0))

	chunks, err := mc.Chunk(document.New("manual.md", content))
	require.NoError(t, err)

	var nested bool
	for _, c := range chunks {
		if c.Metadata[document.MetaHeaderPath] == "Manual > Setup" {
			nested = true
		}
	}
	require.True(t, nested, "expected a chunk under the Manual > Setup trail")
}

func TestMarkdownPreambleHasNoHeaderPath(t *testing.T) {
	content := strings.Repeat("Text before any heading. ", 4) +
		"\n\n# First\n\n" + strings.Repeat("Body of the first section. ", 4)
	mc := NewMarkdownChunking(WithMarkdownChunkSize(80), WithMarkdownOverlap(0))

	chunks, err := mc.Chunk(document.New("pre.md", content))
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	require.Contains(t, chunks[0].Content, "Text before any heading.")
	require.NotContains(t, chunks[0].Metadata, document.MetaHeaderPath)
}

func TestMarkdownIgnoresHeadingsInCodeFences(t *testing.T) {
	content := "# Guide\n\n" + strings.Repeat("Real prose. ", 8) +
		"\n\n```\n# not a heading\nprintln(1)\n```\n\n## Usage\n\n" +
		strings.Repeat("Usage details. ", 8)
	mc := NewMarkdownChunking(WithMarkdownChunkSize(90), WithMarkdownOverlap(0))

	chunks, err := mc.Chunk(document.New("fence.md", content))
	require.NoError(t, err)

	var all strings.Builder
	for _, c := range chunks {
		all.WriteString(c.Content)
		if p, ok := c.Metadata[document.MetaHeaderPath].(string); ok {
			require.NotContains(t, p, "not a heading")
		}
	}
	require.Contains(t, all.String(), "# not a heading")
}

func TestMarkdownMergesSmallAdjacentSections(t *testing.T) {
	content := "## A\n\none\n\n## B\n\ntwo\n\n## C\n\nthree\n\n## D\n\n" +
		strings.Repeat("Long tail section content. ", 20)
	mc := NewMarkdownChunking(WithMarkdownChunkSize(120), WithMarkdownOverlap(0))

	chunks, err := mc.Chunk(document.New("merge.md", content))
	require.NoError(t, err)

	var first string
	for _, c := range chunks {
		if strings.Contains(c.Content, "## A") {
			first = c.Content
		}
	}
	require.Contains(t, first, "## B")
	require.Contains(t, first, "## C")
}

func TestMarkdownOversizeSectionResplit(t *testing.T) {
	content := "## Long\n\n" + strings.Repeat("A full sentence that carries some weight. ", 12) +
		"\n\n## Short\n\nDone."
	mc := NewMarkdownChunking(WithMarkdownChunkSize(100), WithMarkdownOverlap(0))

	chunks, err := mc.Chunk(document.New("long.md", content))
	require.NoError(t, err)
	require.Greater(t, len(chunks), 2)

	long := 0
	for i, c := range chunks {
		require.Equal(t, i, c.Metadata[document.MetaChunkIndex])
		if c.Metadata[document.MetaHeaderPath] == "Long" {
			long++
		}
	}
	require.Greater(t, long, 1, "oversize section should produce several chunks")
}
