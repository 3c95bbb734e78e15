//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package document defines the document unit that flows through extraction,
// chunking and embedding.
package document

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Metadata keys attached to documents and chunks.
const (
	// MetaChunkIndex is the dense position of a chunk within its file.
	MetaChunkIndex = "chunk_index"
	// MetaChunkSize is the rune count of the chunk content.
	MetaChunkSize = "chunk_size"
	// MetaEmbeddingSource marks which modality produced the chunk vector.
	MetaEmbeddingSource = "embedding_source"
	// MetaHeaderPath is the markdown heading trail a chunk belongs to,
	// joined with " > ".
	MetaHeaderPath = "header_path"
)

// Embedding source values.
const (
	EmbeddingSourceText  = "text"
	EmbeddingSourceImage = "image"
)

// Document represents a unit of text with identity and metadata.
type Document struct {
	// ID is the unique identifier.
	ID string
	// Name is a human-readable name, usually the source filename.
	Name string
	// Content is the plain text.
	Content string
	// Metadata carries additional key-value pairs.
	Metadata map[string]any
	// CreatedAt is the creation timestamp.
	CreatedAt time.Time
	// UpdatedAt is the last update timestamp.
	UpdatedAt time.Time
}

// IsEmpty reports whether the document has no visible content.
func (d *Document) IsEmpty() bool {
	return strings.TrimSpace(d.Content) == ""
}

// New creates a document with a generated ID and empty metadata.
func New(name, content string) *Document {
	now := time.Now().UTC()
	return &Document{
		ID:        GenerateID(name, content),
		Name:      name,
		Content:   content,
		Metadata:  make(map[string]any),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// GenerateID generates a unique ID for a document.
// Uses content hash for identification and random bytes for uniqueness.
func GenerateID(name, content string) string {
	// Content hash (first 8 bytes = 16 hex chars).
	hash := sha256.Sum256([]byte(content))
	contentHash := hex.EncodeToString(hash[:8])

	// Random bytes for uniqueness (8 bytes = 16 hex chars).
	randomBytes := make([]byte, 8)
	if _, err := rand.Read(randomBytes); err != nil {
		// Fallback to timestamp-based uniqueness if crypto/rand fails.
		ts := time.Now().UnixNano()
		for i := 0; i < 8; i++ {
			randomBytes[i] = byte(ts >> (i * 8))
		}
	}
	randomStr := hex.EncodeToString(randomBytes)

	return strings.ReplaceAll(name, " ", "_") + "_" + contentHash + "_" + randomStr
}
