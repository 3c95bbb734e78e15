//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package embedder provides embedding interfaces for knowledge systems.
package embedder

import (
	"context"

	"trpc.group/trpc-go/trpc-rag-go/internal/encoding"
)

// Provider limits shared by embedding backends.
const (
	// MaxBatchSize is the maximum number of inputs per provider request.
	MaxBatchSize = 20
	// MaxTextLength is the maximum input length in runes; longer inputs are truncated.
	MaxTextLength = 8192
)

// Embedder generates dense vectors for text.
type Embedder interface {
	// EmbedTexts embeds a batch of texts, preserving input order.
	// The returned vectors all have Dimension() elements.
	EmbedTexts(ctx context.Context, texts []string) ([][]float64, error)

	// Dimension returns the vector dimension. After the first successful
	// call it reflects the provider's observed dimension, which is
	// authoritative over any configured default.
	Dimension() int
}

// ImageEmbedder generates vectors for images in the same space as text.
type ImageEmbedder interface {
	// EmbedImage embeds raw image bytes of the given format ("png", "jpeg").
	EmbedImage(ctx context.Context, data []byte, format string) ([]float64, error)
}

// PrepareTexts truncates oversize inputs and substitutes a single space for
// blanks, which some providers reject outright. Returned slice is a copy.
func PrepareTexts(texts []string) []string {
	prepared := make([]string, len(texts))
	for i, t := range texts {
		if t == "" {
			t = " "
		}
		prepared[i] = encoding.SafeTruncate(t, MaxTextLength)
	}
	return prepared
}

// ZeroVector returns an all-zero vector of the given dimension.
func ZeroVector(dim int) []float64 {
	return make([]float64, dim)
}
