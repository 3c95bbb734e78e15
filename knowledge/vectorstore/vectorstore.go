//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package vectorstore defines the vector store abstraction used by the
// ingestion pipeline and the retrieval engine.
package vectorstore

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"strconv"

	"trpc.group/trpc-go/trpc-rag-go/internal/encoding"
)

// Payload field names stored alongside each vector.
const (
	FieldChunkID         = "chunk_id"
	FieldContent         = "content"
	FieldFileID          = "file_id"
	FieldKnowledgeBaseID = "knowledge_base_id"
	FieldUserID          = "user_id"
	FieldChunkIndex      = "chunk_index"
	FieldEmbeddingSource = "embedding_source"
)

// MaxPayloadContent is the maximum number of runes of chunk content kept in
// the vector payload. Full content lives in the relational store.
const MaxPayloadContent = 1000

// Payload is the metadata stored with each vector point.
type Payload struct {
	ChunkID         int64  `json:"chunk_id"`
	Content         string `json:"content"`
	FileID          int64  `json:"file_id"`
	KnowledgeBaseID int64  `json:"knowledge_base_id"`
	UserID          int64  `json:"user_id"`
	ChunkIndex      int    `json:"chunk_index"`
	EmbeddingSource string `json:"embedding_source"`
}

// Point is a vector with its identity and payload.
type Point struct {
	ID      uint64
	Vector  []float32
	Payload Payload
}

// Hit is a single search result.
type Hit struct {
	ID      uint64
	Score   float64
	Payload Payload
}

// Filter restricts a search to matching payloads. Nil pointer fields are
// not applied.
type Filter struct {
	KnowledgeBaseID *int64
	FileID          *int64
	UserID          *int64
	EmbeddingSource string
}

// Empty reports whether the filter applies no conditions.
func (f *Filter) Empty() bool {
	return f == nil ||
		(f.KnowledgeBaseID == nil && f.FileID == nil && f.UserID == nil && f.EmbeddingSource == "")
}

// VectorStore stores and searches dense vectors.
type VectorStore interface {
	// EnsureCollection creates the backing collection with the given
	// dimension if it does not exist yet.
	EnsureCollection(ctx context.Context, dim int) error

	// Upsert writes points, overwriting existing ones with the same ID.
	Upsert(ctx context.Context, points []Point) error

	// Search returns the topK nearest points, optionally filtered. A
	// missing collection yields an empty result, not an error.
	Search(ctx context.Context, vector []float32, topK int, filter *Filter) ([]Hit, error)

	// DeleteByIDs removes points by their vector IDs.
	DeleteByIDs(ctx context.Context, ids []uint64) error

	// Close releases the underlying client if this store owns it.
	Close() error
}

// VectorID derives the deterministic vector point ID for a chunk row ID.
// It is the first 8 bytes of sha256 over the decimal chunk ID, constrained
// to the non-negative int64 range so every backend can store it.
func VectorID(chunkID int64) uint64 {
	sum := sha256.Sum256([]byte(strconv.FormatInt(chunkID, 10)))
	return binary.BigEndian.Uint64(sum[:8]) % (1 << 63)
}

// PayloadContent truncates chunk content to the payload limit.
func PayloadContent(content string) string {
	return encoding.SafeTruncate(content, MaxPayloadContent)
}

// ToFloat32 converts an embedding vector to the float32 form backends store.
func ToFloat32(vec []float64) []float32 {
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(v)
	}
	return out
}
