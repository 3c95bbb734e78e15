//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package model provides interfaces for working with LLMs.
package model

import (
	"context"
	"errors"
	"fmt"
)

// Model is the interface that chat-completion model implementations satisfy.
type Model interface {
	// GenerateContent sends the request to the model and returns a channel
	// of responses. For non-streaming requests the channel carries a single
	// final response; for streaming requests it carries partial deltas
	// followed by one final response. The channel is closed when generation
	// finishes or the context is cancelled.
	GenerateContent(ctx context.Context, request *Request) (<-chan *Response, error)

	// Info returns basic information about the model.
	Info() Info
}

// Info describes a model.
type Info struct {
	// Name is the model identifier sent to the provider.
	Name string
}

// Complete runs a non-streaming request to completion and returns the
// final response. A response carrying an API error is returned as error.
func Complete(ctx context.Context, m Model, req *Request) (*Response, error) {
	req.Stream = false
	ch, err := m.GenerateContent(ctx, req)
	if err != nil {
		return nil, err
	}
	var final *Response
	for rsp := range ch {
		if rsp.Error != nil {
			return nil, fmt.Errorf("model error: %s", rsp.Error.Message)
		}
		if rsp.Done || !rsp.IsPartial {
			final = rsp
		}
	}
	if final == nil {
		return nil, errors.New("model returned no final response")
	}
	return final, nil
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }

// Float64Ptr returns a pointer to v.
func Float64Ptr(v float64) *float64 { return &v }

// BoolPtr returns a pointer to v.
func BoolPtr(v bool) *bool { return &v }

// StringPtr returns a pointer to v.
func StringPtr(v string) *string { return &v }
