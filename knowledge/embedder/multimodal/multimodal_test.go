//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

package multimodal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-rag-go/knowledge/embedder"
)

func newEmbedServer(t *testing.T, dim int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		var rsp embedResponse
		for i := range req.Input.Contents {
			vec := make([]float64, dim)
			vec[0] = float64(i + 1)
			rsp.Output.Embeddings = append(rsp.Output.Embeddings, struct {
				Index     int       `json:"index"`
				Embedding []float64 `json:"embedding"`
			}{Index: i, Embedding: vec})
		}
		json.NewEncoder(w).Encode(rsp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEmbedTexts(t *testing.T) {
	srv := newEmbedServer(t, 8)
	e := New(WithEndpoint(srv.URL), WithModel("mm-embed"))

	vecs, err := e.EmbedTexts(context.Background(), []string{"猫", "dog", ""})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, float64(1), vecs[0][0])
	assert.Equal(t, float64(3), vecs[2][0])

	// Observed dimension becomes authoritative.
	assert.Equal(t, 8, e.Dimension())
}

func TestEmbedTextsBatching(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.LessOrEqual(t, len(req.Input.Contents), embedder.MaxBatchSize)

		var rsp embedResponse
		for i := range req.Input.Contents {
			rsp.Output.Embeddings = append(rsp.Output.Embeddings, struct {
				Index     int       `json:"index"`
				Embedding []float64 `json:"embedding"`
			}{Index: i, Embedding: []float64{1}})
		}
		json.NewEncoder(w).Encode(rsp)
	}))
	defer srv.Close()

	e := New(WithEndpoint(srv.URL))
	texts := make([]string, 45)
	for i := range texts {
		texts[i] = "text"
	}
	vecs, err := e.EmbedTexts(context.Background(), texts)
	require.NoError(t, err)
	assert.Len(t, vecs, 45)
	assert.Equal(t, 3, requests)
}

func TestEmbedTextsTruncation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		for _, c := range req.Input.Contents {
			assert.LessOrEqual(t, len([]rune(c.Text)), embedder.MaxTextLength)
		}
		var rsp embedResponse
		rsp.Output.Embeddings = append(rsp.Output.Embeddings, struct {
			Index     int       `json:"index"`
			Embedding []float64 `json:"embedding"`
		}{Index: 0, Embedding: []float64{1}})
		json.NewEncoder(w).Encode(rsp)
	}))
	defer srv.Close()

	e := New(WithEndpoint(srv.URL))
	_, err := e.EmbedTexts(context.Background(), []string{strings.Repeat("长", 10000)})
	require.NoError(t, err)
}

func TestEmbedImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Input.Contents, 1)
		assert.True(t, strings.HasPrefix(req.Input.Contents[0].Image, "data:image/png;base64,"))

		var rsp embedResponse
		rsp.Output.Embeddings = append(rsp.Output.Embeddings, struct {
			Index     int       `json:"index"`
			Embedding []float64 `json:"embedding"`
		}{Index: 0, Embedding: []float64{0.5, 0.5}})
		json.NewEncoder(w).Encode(rsp)
	}))
	defer srv.Close()

	e := New(WithEndpoint(srv.URL))
	vec, err := e.EmbedImage(context.Background(), []byte{0x89, 0x50, 0x4E, 0x47}, "png")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 0.5}, vec)
}

func TestEmbedImageEmptyData(t *testing.T) {
	e := New(WithDimension(4))
	vec, err := e.EmbedImage(context.Background(), nil, "png")
	require.NoError(t, err)
	assert.Equal(t, embedder.ZeroVector(4), vec)
}

func TestEmbedCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(embedResponse{})
	}))
	defer srv.Close()

	e := New(WithEndpoint(srv.URL))
	_, err := e.EmbedTexts(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match")
}
