//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

package openai

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-rag-go/model"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestGenerateContentNonStreaming(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "cmpl-1",
			"object": "chat.completion",
			"model": "test-model",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "hello there"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 5, "completion_tokens": 2, "total_tokens": 7}
		}`)
	})

	m := New("test-model", WithBaseURL(srv.URL), WithAPIKey("test"))
	ch, err := m.GenerateContent(context.Background(), &model.Request{
		Messages: []model.Message{model.NewUserMessage("hi")},
	})
	require.NoError(t, err)

	var final *model.Response
	for rsp := range ch {
		final = rsp
	}
	require.NotNil(t, final)
	require.Nil(t, final.Error)
	assert.True(t, final.Done)
	assert.Equal(t, "hello there", final.Content())
	require.NotNil(t, final.Usage)
	assert.Equal(t, 7, final.Usage.TotalTokens)
}

func TestGenerateContentToolCalls(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "cmpl-2",
			"object": "chat.completion",
			"model": "test-model",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "",
				"tool_calls": [{"id": "call-1", "type": "function",
					"function": {"name": "mcp_search_lookup", "arguments": "{\"q\":\"cats\"}"}}]},
				"finish_reason": "tool_calls"}],
			"usage": {"prompt_tokens": 5, "completion_tokens": 2, "total_tokens": 7}
		}`)
	})

	m := New("test-model", WithBaseURL(srv.URL), WithAPIKey("test"))
	ch, err := m.GenerateContent(context.Background(), &model.Request{
		Messages: []model.Message{model.NewUserMessage("find cats")},
		Tools: []model.ToolDefinition{{
			Name:        "mcp_search_lookup",
			Description: "lookup things",
			InputSchema: []byte(`{"type":"object","properties":{"q":{"type":"string"}}}`),
		}},
	})
	require.NoError(t, err)

	var final *model.Response
	for rsp := range ch {
		final = rsp
	}
	require.NotNil(t, final)
	require.True(t, final.IsToolCallResponse())
	call := final.Choices[0].Message.ToolCalls[0]
	assert.Equal(t, "call-1", call.ID)
	assert.Equal(t, "mcp_search_lookup", call.Function.Name)
	assert.JSONEq(t, `{"q":"cats"}`, string(call.Function.Arguments))
}

func TestGenerateContentStreaming(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		chunks := []string{
			`{"id":"c","object":"chat.completion.chunk","model":"m","choices":[{"index":0,"delta":{"role":"assistant","content":"Hel"}}]}`,
			`{"id":"c","object":"chat.completion.chunk","model":"m","choices":[{"index":0,"delta":{"content":"lo"}}]}`,
			`{"id":"c","object":"chat.completion.chunk","model":"m","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
		}
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	m := New("m", WithBaseURL(srv.URL), WithAPIKey("test"))
	ch, err := m.GenerateContent(context.Background(), &model.Request{
		Messages:         []model.Message{model.NewUserMessage("hi")},
		GenerationConfig: model.GenerationConfig{Stream: true},
	})
	require.NoError(t, err)

	var deltas []string
	var final *model.Response
	for rsp := range ch {
		if rsp.IsPartial {
			deltas = append(deltas, rsp.Choices[0].Delta.Content)
			continue
		}
		final = rsp
	}
	assert.Equal(t, []string{"Hel", "lo"}, deltas)
	require.NotNil(t, final)
	assert.True(t, final.Done)
	assert.Equal(t, "Hello", final.Content())
}

func TestGenerateContentNilRequest(t *testing.T) {
	m := New("m")
	_, err := m.GenerateContent(context.Background(), nil)
	require.Error(t, err)
}

func TestGenerateContentAPIError(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"bad key"}}`, http.StatusUnauthorized)
	})

	m := New("m", WithBaseURL(srv.URL), WithAPIKey("bad"))
	ch, err := m.GenerateContent(context.Background(), &model.Request{
		Messages: []model.Message{model.NewUserMessage("hi")},
	})
	require.NoError(t, err)

	var final *model.Response
	for rsp := range ch {
		final = rsp
	}
	require.NotNil(t, final)
	require.NotNil(t, final.Error)
	assert.Equal(t, model.ErrorTypeAPIError, final.Error.Type)
}
