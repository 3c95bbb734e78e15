//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package qdrant provides a Qdrant-backed vector store.
package qdrant

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/qdrant/go-client/qdrant"

	"trpc.group/trpc-go/trpc-rag-go/knowledge/vectorstore"
)

var _ vectorstore.VectorStore = (*VectorStore)(nil)

// Default connection settings.
const (
	DefaultHost = "localhost"
	DefaultPort = 6334
)

// VectorStore implements vectorstore.VectorStore on Qdrant.
type VectorStore struct {
	client         Client
	collectionName string
	distance       qdrant.Distance
	ownsClient     bool
	closeOnce      sync.Once
	closeErr       error
}

type options struct {
	host           string
	port           int
	apiKey         string
	useTLS         bool
	collectionName string
	distance       qdrant.Distance
	client         Client
}

// Option configures the VectorStore.
type Option func(*options)

// WithHost sets the Qdrant host.
func WithHost(host string) Option {
	return func(o *options) {
		o.host = host
	}
}

// WithPort sets the Qdrant gRPC port.
func WithPort(port int) Option {
	return func(o *options) {
		o.port = port
	}
}

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(o *options) {
		o.apiKey = key
	}
}

// WithTLS enables TLS on the connection.
func WithTLS(useTLS bool) Option {
	return func(o *options) {
		o.useTLS = useTLS
	}
}

// WithCollectionName sets the collection name.
func WithCollectionName(name string) Option {
	return func(o *options) {
		o.collectionName = name
	}
}

// WithDistance sets the distance metric. Defaults to cosine.
func WithDistance(distance qdrant.Distance) Option {
	return func(o *options) {
		o.distance = distance
	}
}

// WithClient injects an existing client. The store will not close it.
func WithClient(client Client) Option {
	return func(o *options) {
		o.client = client
	}
}

// New creates a Qdrant vector store.
func New(opts ...Option) (*VectorStore, error) {
	o := options{
		host:     DefaultHost,
		port:     DefaultPort,
		distance: qdrant.Distance_Cosine,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.collectionName == "" {
		return nil, fmt.Errorf("qdrant: collection name is required")
	}

	vs := &VectorStore{
		client:         o.client,
		collectionName: o.collectionName,
		distance:       o.distance,
	}
	if vs.client == nil {
		client, err := NewClient(&qdrant.Config{
			Host:   o.host,
			Port:   o.port,
			APIKey: o.apiKey,
			UseTLS: o.useTLS,
		})
		if err != nil {
			return nil, fmt.Errorf("qdrant: create client: %w", err)
		}
		vs.client = client
		vs.ownsClient = true
	}
	return vs, nil
}

// EnsureCollection implements vectorstore.VectorStore.
func (vs *VectorStore) EnsureCollection(ctx context.Context, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("qdrant: dimension must be positive, got %d", dim)
	}
	exists, err := vs.client.CollectionExists(ctx, vs.collectionName)
	if err != nil {
		return fmt.Errorf("qdrant: check collection %q: %w", vs.collectionName, err)
	}
	if exists {
		return nil
	}
	err = vs.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: vs.collectionName,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: vs.distance,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: create collection %q: %w", vs.collectionName, err)
	}
	return nil
}

// Upsert implements vectorstore.VectorStore.
func (vs *VectorStore) Upsert(ctx context.Context, points []vectorstore.Point) error {
	if len(points) == 0 {
		return nil
	}
	qdrantPoints := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		qdrantPoints = append(qdrantPoints, &qdrant.PointStruct{
			Id:      qdrant.NewIDNum(p.ID),
			Vectors: qdrant.NewVectorsDense(p.Vector),
			Payload: qdrant.NewValueMap(map[string]any{
				vectorstore.FieldChunkID:         p.Payload.ChunkID,
				vectorstore.FieldContent:         vectorstore.PayloadContent(p.Payload.Content),
				vectorstore.FieldFileID:          p.Payload.FileID,
				vectorstore.FieldKnowledgeBaseID: p.Payload.KnowledgeBaseID,
				vectorstore.FieldUserID:          p.Payload.UserID,
				vectorstore.FieldChunkIndex:      int64(p.Payload.ChunkIndex),
				vectorstore.FieldEmbeddingSource: p.Payload.EmbeddingSource,
			}),
		})
	}
	_, err := vs.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: vs.collectionName,
		Points:         qdrantPoints,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert %d points into %q: %w", len(points), vs.collectionName, err)
	}
	return nil
}

// Search implements vectorstore.VectorStore. A missing collection is treated
// as an empty index.
func (vs *VectorStore) Search(ctx context.Context, vector []float32, topK int, filter *vectorstore.Filter) ([]vectorstore.Hit, error) {
	if topK <= 0 {
		return nil, nil
	}
	points, err := vs.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: vs.collectionName,
		Query:          qdrant.NewQueryDense(vector),
		Filter:         buildFilter(filter),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		if isCollectionMissing(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("qdrant: query %q: %w", vs.collectionName, err)
	}

	hits := make([]vectorstore.Hit, 0, len(points))
	for _, pt := range points {
		hits = append(hits, vectorstore.Hit{
			ID:      pt.Id.GetNum(),
			Score:   float64(pt.Score),
			Payload: payloadFromValues(pt.Payload),
		})
	}
	return hits, nil
}

// DeleteByIDs implements vectorstore.VectorStore.
func (vs *VectorStore) DeleteByIDs(ctx context.Context, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewIDNum(id))
	}
	_, err := vs.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: vs.collectionName,
		Points:         qdrant.NewPointsSelectorIDs(pointIDs),
	})
	if err != nil {
		if isCollectionMissing(err) {
			return nil
		}
		return fmt.Errorf("qdrant: delete %d points from %q: %w", len(ids), vs.collectionName, err)
	}
	return nil
}

// Close implements vectorstore.VectorStore. Injected clients stay open.
func (vs *VectorStore) Close() error {
	vs.closeOnce.Do(func() {
		if vs.ownsClient {
			vs.closeErr = vs.client.Close()
		}
	})
	return vs.closeErr
}

// buildFilter renders the typed filter as Qdrant payload conditions.
func buildFilter(f *vectorstore.Filter) *qdrant.Filter {
	if f.Empty() {
		return nil
	}
	var must []*qdrant.Condition
	if f.KnowledgeBaseID != nil {
		must = append(must, qdrant.NewMatchInt(vectorstore.FieldKnowledgeBaseID, *f.KnowledgeBaseID))
	}
	if f.FileID != nil {
		must = append(must, qdrant.NewMatchInt(vectorstore.FieldFileID, *f.FileID))
	}
	if f.UserID != nil {
		must = append(must, qdrant.NewMatchInt(vectorstore.FieldUserID, *f.UserID))
	}
	if f.EmbeddingSource != "" {
		must = append(must, qdrant.NewMatchKeyword(vectorstore.FieldEmbeddingSource, f.EmbeddingSource))
	}
	return &qdrant.Filter{Must: must}
}

func payloadFromValues(values map[string]*qdrant.Value) vectorstore.Payload {
	return vectorstore.Payload{
		ChunkID:         getInt64(values, vectorstore.FieldChunkID),
		Content:         getString(values, vectorstore.FieldContent),
		FileID:          getInt64(values, vectorstore.FieldFileID),
		KnowledgeBaseID: getInt64(values, vectorstore.FieldKnowledgeBaseID),
		UserID:          getInt64(values, vectorstore.FieldUserID),
		ChunkIndex:      int(getInt64(values, vectorstore.FieldChunkIndex)),
		EmbeddingSource: getString(values, vectorstore.FieldEmbeddingSource),
	}
}

func getInt64(values map[string]*qdrant.Value, key string) int64 {
	if v, ok := values[key]; ok {
		return v.GetIntegerValue()
	}
	return 0
}

func getString(values map[string]*qdrant.Value, key string) string {
	if v, ok := values[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

func isCollectionMissing(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "doesn't exist") || strings.Contains(msg, "not found")
}
