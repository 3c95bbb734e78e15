//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package chunking provides document chunking strategies and utilities.
package chunking

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"trpc.group/trpc-go/trpc-rag-go/internal/encoding"
	"trpc.group/trpc-go/trpc-rag-go/knowledge/document"
)

// Chunking errors.
var (
	// ErrNilDocument is returned when the input document is nil.
	ErrNilDocument = errors.New("chunking: document is nil")
	// ErrEmptyDocument is returned when the input document has no content.
	ErrEmptyDocument = errors.New("chunking: document content is empty")
)

// Default chunking parameters, in runes.
const (
	defaultChunkSize      = 500
	defaultOverlap        = 50
	defaultMaxExpandRatio = 1.3
)

// Strategy defines the interface for document chunking strategies.
type Strategy interface {
	// Chunk splits a document into smaller documents with dense indices.
	Chunk(doc *document.Document) ([]*document.Document, error)
}

// cleanText normalizes line endings and trims surrounding whitespace.
func cleanText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return strings.TrimSpace(text)
}

// newChunkDocument creates a chunk carrying the parent's metadata plus
// chunk-specific keys. Chunk indices start at 0.
func newChunkDocument(parent *document.Document, content string, index int) *document.Document {
	metadata := make(map[string]any, len(parent.Metadata)+2)
	for k, v := range parent.Metadata {
		metadata[k] = v
	}
	metadata[document.MetaChunkIndex] = index
	metadata[document.MetaChunkSize] = encoding.RuneCount(content)

	var chunkID string
	switch {
	case parent.ID != "":
		chunkID = parent.ID + "_" + strconv.Itoa(index)
	case parent.Name != "":
		chunkID = parent.Name + "_" + strconv.Itoa(index)
	default:
		chunkID = "chunk_" + strconv.Itoa(index)
	}

	now := time.Now().UTC()
	return &document.Document{
		ID:        chunkID,
		Name:      parent.Name,
		Content:   content,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
