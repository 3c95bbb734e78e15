//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package objectstore defines the object storage abstraction used for
// uploaded file bytes. Backends live in subpackages.
package objectstore

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the object does not exist.
	ErrNotFound = errors.New("objectstore: object not found")
	// ErrBucketNotFound is returned when the bucket does not exist.
	ErrBucketNotFound = errors.New("objectstore: bucket not found")
	// ErrAccessDenied is returned when access to the object is denied.
	ErrAccessDenied = errors.New("objectstore: access denied")
)

// Store is the interface for object storage backends.
type Store interface {
	// Put uploads an object.
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// Get downloads an object, returning its bytes and content type.
	Get(ctx context.Context, key string) ([]byte, string, error)
	// Delete removes objects. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
	// Close releases backend resources.
	Close() error
}

// BuildKey derives the object key for an uploaded file. Content-addressed
// by hash so identical uploads share storage under a user namespace.
func BuildKey(userID int64, contentHash, filename string) string {
	return fmt.Sprintf("%d/%s/%s", userID, contentHash, filename)
}
