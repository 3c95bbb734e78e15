//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

package s3

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-rag-go/objectstore"
)

// mockAPI implements the s3API subset for testing.
type mockAPI struct {
	putFunc    func(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	getFunc    func(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	deleteFunc func(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

func (m *mockAPI) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putFunc != nil {
		return m.putFunc(ctx, params, optFns...)
	}
	return &s3.PutObjectOutput{}, nil
}

func (m *mockAPI) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, params, optFns...)
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(""))}, nil
}

func (m *mockAPI) DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	if m.deleteFunc != nil {
		return m.deleteFunc(ctx, params, optFns...)
	}
	return &s3.DeleteObjectsOutput{}, nil
}

func TestNewEmptyBucket(t *testing.T) {
	_, err := New(context.Background())
	assert.ErrorIs(t, err, ErrEmptyBucket)
}

func TestPutSetsContentType(t *testing.T) {
	var captured *s3.PutObjectInput
	api := &mockAPI{
		putFunc: func(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
			captured = params
			return &s3.PutObjectOutput{}, nil
		},
	}
	store, err := New(context.Background(), WithBucket("files"), WithAPI(api))
	require.NoError(t, err)

	err = store.Put(context.Background(), "1/hash/a.pdf", []byte("%PDF"), "application/pdf")
	require.NoError(t, err)
	require.NotNil(t, captured)
	assert.Equal(t, "files", aws.ToString(captured.Bucket))
	assert.Equal(t, "1/hash/a.pdf", aws.ToString(captured.Key))
	assert.Equal(t, "application/pdf", aws.ToString(captured.ContentType))
}

func TestGetReturnsBodyAndContentType(t *testing.T) {
	api := &mockAPI{
		getFunc: func(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
			return &s3.GetObjectOutput{
				Body:        io.NopCloser(strings.NewReader("payload")),
				ContentType: aws.String("text/plain"),
			}, nil
		},
	}
	store, err := New(context.Background(), WithBucket("files"), WithAPI(api))
	require.NoError(t, err)

	data, contentType, err := store.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
	assert.Equal(t, "text/plain", contentType)
}

func TestGetNotFound(t *testing.T) {
	api := &mockAPI{
		getFunc: func(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
			return nil, &types.NoSuchKey{}
		},
	}
	store, err := New(context.Background(), WithBucket("files"), WithAPI(api))
	require.NoError(t, err)

	_, _, err = store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, objectstore.ErrNotFound)
}

func TestDeleteBatches(t *testing.T) {
	var batches [][]types.ObjectIdentifier
	api := &mockAPI{
		deleteFunc: func(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
			batches = append(batches, params.Delete.Objects)
			return &s3.DeleteObjectsOutput{}, nil
		},
	}
	store, err := New(context.Background(), WithBucket("files"), WithAPI(api))
	require.NoError(t, err)

	keys := make([]string, 1500)
	for i := range keys {
		keys[i] = "k"
	}
	require.NoError(t, store.Delete(context.Background(), keys...))
	require.Len(t, batches, 2)
	assert.Len(t, batches[0], 1000)
	assert.Len(t, batches[1], 500)
}

func TestDeleteEmptyKeys(t *testing.T) {
	store, err := New(context.Background(), WithBucket("files"), WithAPI(&mockAPI{}))
	require.NoError(t, err)
	assert.NoError(t, store.Delete(context.Background()))
}
