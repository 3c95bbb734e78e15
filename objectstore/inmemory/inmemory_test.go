//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

package inmemory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-rag-go/objectstore"
)

func TestPutGetDelete(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k", []byte("v"), "text/plain"))
	data, contentType, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), data)
	assert.Equal(t, "text/plain", contentType)

	require.NoError(t, s.Delete(ctx, "k", "missing"))
	_, _, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, objectstore.ErrNotFound)
	assert.Zero(t, s.Len())
}

func TestGetReturnsCopy(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k", []byte("abc"), ""))
	data, _, err := s.Get(ctx, "k")
	require.NoError(t, err)
	data[0] = 'x'

	again, _, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), again)
}
