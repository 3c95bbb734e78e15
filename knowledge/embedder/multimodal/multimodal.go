//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package multimodal provides a REST embedder that places text and images in
// a shared vector space.
package multimodal

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"sync/atomic"

	"trpc.group/trpc-go/trpc-rag-go/internal/httpclient"
	"trpc.group/trpc-go/trpc-rag-go/knowledge/embedder"
)

var (
	_ embedder.Embedder      = (*Embedder)(nil)
	_ embedder.ImageEmbedder = (*Embedder)(nil)
)

// DefaultDimension is the default vector dimension before the provider's
// native dimension is observed.
const DefaultDimension = 1024

// Embedder calls a multimodal batch embedding endpoint. Text and image
// inputs produce vectors in the same space, enabling text-to-image search.
type Embedder struct {
	endpoint   string
	apiKey     string
	model      string
	dimension  int64
	httpClient *httpclient.Client
}

// Option configures the Embedder.
type Option func(*Embedder)

// WithEndpoint sets the embedding endpoint URL.
func WithEndpoint(url string) Option {
	return func(e *Embedder) {
		e.endpoint = url
	}
}

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(e *Embedder) {
		e.apiKey = key
	}
}

// WithModel sets the model name.
func WithModel(model string) Option {
	return func(e *Embedder) {
		e.model = model
	}
}

// WithDimension sets the configured default dimension.
func WithDimension(dim int) Option {
	return func(e *Embedder) {
		if dim > 0 {
			e.dimension = int64(dim)
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(e *Embedder) {
		e.httpClient = httpclient.NewClient(client)
	}
}

// New creates a multimodal embedder.
func New(opts ...Option) *Embedder {
	e := &Embedder{
		dimension:  DefaultDimension,
		httpClient: httpclient.NewClient(nil),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type content struct {
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"`
}

type embedRequest struct {
	Model string `json:"model"`
	Input struct {
		Contents []content `json:"contents"`
	} `json:"input"`
}

type embedResponse struct {
	Output struct {
		Embeddings []struct {
			Index     int       `json:"index"`
			Embedding []float64 `json:"embedding"`
		} `json:"embeddings"`
	} `json:"output"`
}

// EmbedTexts implements the embedder.Embedder interface.
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
		contents := make([]content, 0, end-start)
		for _, t := range prepared[start:end] {
			contents = append(contents, content{Text: t})
		}
		batch, err := e.embed(ctx, contents)
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

// EmbedImage implements the embedder.ImageEmbedder interface.
func (e *Embedder) EmbedImage(ctx context.Context, data []byte, format string) ([]float64, error) {
	if len(data) == 0 {
		return embedder.ZeroVector(e.Dimension()), nil
	}
	dataURL := "data:image/" + format + ";base64," + base64.StdEncoding.EncodeToString(data)
	vectors, err := e.embed(ctx, []content{{Image: dataURL}})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *Embedder) embed(ctx context.Context, contents []content) ([][]float64, error) {
	req := embedRequest{Model: e.model}
	req.Input.Contents = contents

	var rsp embedResponse
	if err := e.httpClient.PostJSON(ctx, e.endpoint, e.apiKey, req, &rsp); err != nil {
		return nil, fmt.Errorf("multimodal embedding request: %w", err)
	}
	if len(rsp.Output.Embeddings) != len(contents) {
		return nil, fmt.Errorf("embedding count %d does not match input count %d",
			len(rsp.Output.Embeddings), len(contents))
	}

	vectors := make([][]float64, len(contents))
	for _, item := range rsp.Output.Embeddings {
		if item.Index < 0 || item.Index >= len(contents) {
			return nil, fmt.Errorf("embedding response index %d out of range", item.Index)
		}
		vectors[item.Index] = item.Embedding
	}
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
