//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package openai provides an OpenAI-compatible text embedder implementation.
package openai

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"trpc.group/trpc-go/trpc-rag-go/knowledge/embedder"
	"trpc.group/trpc-go/trpc-rag-go/log"
)

var _ embedder.Embedder = (*Embedder)(nil)

const (
	// DefaultModel is the default OpenAI embedding model.
	DefaultModel = "text-embedding-3-small"
	// DefaultDimension is the default embedding dimension for text-embedding-3-small.
	DefaultDimension = 1536

	// Model prefix for text-embedding-3 series, which accept a dimensions parameter.
	textEmbedding3Prefix = "text-embedding-3"
)

// Embedder implements embedder.Embedder against any OpenAI-compatible
// batch embeddings endpoint.
type Embedder struct {
	client         openai.Client
	model          string
	dimension      int64
	apiKey         string
	baseURL        string
	requestOptions []option.RequestOption
}

// Option represents a functional option for configuring the Embedder.
type Option func(*Embedder)

// WithModel sets the embedding model to use.
func WithModel(model string) Option {
	return func(e *Embedder) {
		e.model = model
	}
}

// WithDimension sets the configured default dimension. The provider's
// observed dimension overrides it after the first call.
func WithDimension(dimension int) Option {
	return func(e *Embedder) {
		if dimension > 0 {
			e.dimension = int64(dimension)
		}
	}
}

// WithAPIKey sets the API key.
func WithAPIKey(apiKey string) Option {
	return func(e *Embedder) {
		e.apiKey = apiKey
	}
}

// WithBaseURL sets the base URL for OpenAI-compatible APIs.
func WithBaseURL(baseURL string) Option {
	return func(e *Embedder) {
		e.baseURL = baseURL
	}
}

// WithRequestOptions sets additional options for the OpenAI client requests.
func WithRequestOptions(opts ...option.RequestOption) Option {
	return func(e *Embedder) {
		e.requestOptions = append(e.requestOptions, opts...)
	}
}

// New creates a new OpenAI embedder with the given options.
func New(opts ...Option) *Embedder {
	e := &Embedder{
		model:     DefaultModel,
		dimension: DefaultDimension,
	}
	for _, opt := range opts {
		opt(e)
	}

	var clientOpts []option.RequestOption
	if e.apiKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(e.apiKey))
	}
	if e.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(e.baseURL))
	}
	e.client = openai.NewClient(clientOpts...)
	return e
}

// EmbedTexts implements the embedder.Embedder interface. Inputs are sent in
// batches of at most embedder.MaxBatchSize; oversize texts are truncated.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	prepared := embedder.PrepareTexts(texts)

	vectors := make([][]float64, 0, len(prepared))
	for start := 0; start < len(prepared); start += embedder.MaxBatchSize {
		end := start + embedder.MaxBatchSize
		if end > len(prepared) {
			end = len(prepared)
		}
		batch, err := e.embedBatch(ctx, prepared[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

func (e *Embedder) embedBatch(ctx context.Context, batch []string) ([][]float64, error) {
	request := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: batch},
		Model: e.model,
	}
	if strings.HasPrefix(e.model, textEmbedding3Prefix) {
		request.Dimensions = openai.Int(atomic.LoadInt64(&e.dimension))
	}

	response, err := e.client.Embeddings.New(ctx, request, e.requestOptions...)
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(response.Data) != len(batch) {
		return nil, fmt.Errorf("embedding count %d does not match input count %d",
			len(response.Data), len(batch))
	}

	vectors := make([][]float64, len(batch))
	for _, item := range response.Data {
		i := int(item.Index)
		if i < 0 || i >= len(batch) {
			log.Warnf("embedding response index %d out of range", i)
			continue
		}
		vectors[i] = item.Embedding
	}

	// The provider's native dimension is authoritative.
	if len(vectors) > 0 && len(vectors[0]) > 0 {
		atomic.StoreInt64(&e.dimension, int64(len(vectors[0])))
	}
	for i, v := range vectors {
		if v == nil {
			vectors[i] = embedder.ZeroVector(e.Dimension())
		}
	}
	return vectors, nil
}

// Dimension implements the embedder.Embedder interface.
func (e *Embedder) Dimension() int {
	return int(atomic.LoadInt64(&e.dimension))
}
