//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

package qdrant

import (
	"context"

	"github.com/qdrant/go-client/qdrant"
)

// Client is the subset of Qdrant client operations the store uses.
// This allows for mocking in tests.
type Client interface {
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	CreateCollection(ctx context.Context, req *qdrant.CreateCollection) error
	Upsert(ctx context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Delete(ctx context.Context, req *qdrant.DeletePoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Close() error
}

// NewClient creates a new Qdrant client.
// The returned *qdrant.Client implements the Client interface.
func NewClient(config *qdrant.Config) (Client, error) {
	return qdrant.NewClient(config)
}
