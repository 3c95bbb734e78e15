//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

package httpclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))

		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "hello", in["q"])

		json.NewEncoder(w).Encode(map[string]int{"n": 3})
	}))
	defer srv.Close()

	var out struct {
		N int `json:"n"`
	}
	c := NewClient(nil)
	err := c.PostJSON(context.Background(), srv.URL, "key-1", map[string]string{"q": "hello"}, &out)
	require.NoError(t, err)
	assert.Equal(t, 3, out.N)
}

func TestPostJSONErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(nil)
	err := c.PostJSON(context.Background(), srv.URL, "", map[string]string{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestPostJSONEmptyEndpoint(t *testing.T) {
	c := NewClient(nil)
	err := c.PostJSON(context.Background(), "", "", nil, nil)
	require.Error(t, err)
}
