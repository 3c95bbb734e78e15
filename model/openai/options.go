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
	openaiopt "github.com/openai/openai-go/option"
)

const defaultChannelBufferSize = 256

// options holds configuration for the Model.
type options struct {
	// APIKey authenticates against the provider.
	APIKey string
	// BaseURL points at an OpenAI-compatible endpoint.
	BaseURL string
	// ChannelBufferSize is the response channel buffer size.
	ChannelBufferSize int
	// RequestOptions are extra options passed to every SDK request.
	RequestOptions []openaiopt.RequestOption
}

// Option configures the Model.
type Option func(*options)

// WithAPIKey sets the API key. Falls back to OPENAI_API_KEY when unset.
func WithAPIKey(key string) Option {
	return func(o *options) {
		o.APIKey = key
	}
}

// WithBaseURL sets the base URL for an OpenAI-compatible API.
func WithBaseURL(url string) Option {
	return func(o *options) {
		o.BaseURL = url
	}
}

// WithChannelBufferSize sets the buffer size of the response channel.
func WithChannelBufferSize(size int) Option {
	return func(o *options) {
		if size > 0 {
			o.ChannelBufferSize = size
		}
	}
}

// WithRequestOptions appends SDK request options applied to every call.
func WithRequestOptions(opts ...openaiopt.RequestOption) Option {
	return func(o *options) {
		o.RequestOptions = append(o.RequestOptions, opts...)
	}
}
