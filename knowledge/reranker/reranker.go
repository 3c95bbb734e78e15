//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package reranker provides result re-ranking for retrieval.
package reranker

import "context"

// Result is a reranked document reference.
type Result struct {
	// Index is the position of the document in the input slice.
	Index int
	// Score is the model's relevance score for the document.
	Score float64
}

// Reranker re-orders candidate documents by relevance to the query.
// Implementations return results in descending score order. Callers decide
// how to degrade when reranking fails; the retrieval engine keeps the fused
// order in that case.
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string, topN int) ([]Result, error)
}
