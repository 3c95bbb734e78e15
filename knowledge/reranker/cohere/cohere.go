//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package cohere implements reranking against a Cohere-compatible rerank API.
package cohere

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"

	"trpc.group/trpc-go/trpc-rag-go/internal/httpclient"
	"trpc.group/trpc-go/trpc-rag-go/knowledge/reranker"
)

var _ reranker.Reranker = (*Reranker)(nil)

const (
	defaultEndpoint = "https://api.cohere.ai/v1/rerank"
	defaultModel    = "rerank-multilingual-v3.0"
	envAPIKey       = "COHERE_API_KEY"
)

// Reranker calls a Cohere-compatible rerank endpoint.
type Reranker struct {
	apiKey     string
	modelName  string
	endpoint   string
	httpClient *httpclient.Client
}

// Option configures Reranker.
type Option func(*Reranker)

// WithModel sets the model name.
func WithModel(model string) Option {
	return func(r *Reranker) {
		r.modelName = model
	}
}

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(r *Reranker) {
		r.apiKey = key
	}
}

// WithEndpoint sets the endpoint URL.
func WithEndpoint(url string) Option {
	return func(r *Reranker) {
		r.endpoint = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(r *Reranker) {
		r.httpClient = httpclient.NewClient(client)
	}
}

// New creates a new Cohere reranker.
func New(opts ...Option) *Reranker {
	r := &Reranker{
		apiKey:     os.Getenv(envAPIKey),
		endpoint:   defaultEndpoint,
		modelName:  defaultModel,
		httpClient: httpclient.NewClient(nil),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n,omitempty"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank implements the reranker.Reranker interface.
func (r *Reranker) Rerank(ctx context.Context, query string, documents []string, topN int) ([]reranker.Result, error) {
	if len(documents) == 0 {
		return nil, nil
	}

	req := rerankRequest{
		Model:     r.modelName,
		Query:     query,
		Documents: documents,
		TopN:      topN,
	}
	var rsp rerankResponse
	if err := r.httpClient.PostJSON(ctx, r.endpoint, r.apiKey, req, &rsp); err != nil {
		return nil, fmt.Errorf("cohere rerank request: %w", err)
	}

	results := make([]reranker.Result, 0, len(rsp.Results))
	for _, item := range rsp.Results {
		if item.Index < 0 || item.Index >= len(documents) {
			return nil, fmt.Errorf("rerank response index %d out of range", item.Index)
		}
		results = append(results, reranker.Result{Index: item.Index, Score: item.RelevanceScore})
	}
	sort.SliceStable(results, func(a, b int) bool {
		return results[a].Score > results[b].Score
	})

	// The API handles top_n itself; guard locally as well.
	if topN > 0 && len(results) > topN {
		results = results[:topN]
	}
	return results, nil
}
