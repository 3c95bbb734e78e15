//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package milvus provides a Milvus-backed vector store.
package milvus

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/index"
	client "github.com/milvus-io/milvus/client/v2/milvusclient"
	"google.golang.org/grpc"

	"trpc.group/trpc-go/trpc-rag-go/knowledge/vectorstore"
)

var _ vectorstore.VectorStore = (*VectorStore)(nil)

// Field names in the Milvus collection.
const (
	fieldID     = "id"
	fieldVector = "vector"

	maxContentLength = 4096

	hnswM              = 16
	hnswEfConstruction = 200
)

// Client is the subset of Milvus client operations the store uses.
// This allows for mocking in tests.
type Client interface {
	HasCollection(ctx context.Context, option client.HasCollectionOption, callOptions ...grpc.CallOption) (bool, error)
	CreateCollection(ctx context.Context, option client.CreateCollectionOption, callOptions ...grpc.CallOption) error
	LoadCollection(ctx context.Context, option client.LoadCollectionOption, callOptions ...grpc.CallOption) (client.LoadTask, error)
	Upsert(ctx context.Context, option client.UpsertOption, callOptions ...grpc.CallOption) (client.UpsertResult, error)
	Delete(ctx context.Context, option client.DeleteOption, callOptions ...grpc.CallOption) (client.DeleteResult, error)
	Search(ctx context.Context, option client.SearchOption, callOptions ...grpc.CallOption) ([]client.ResultSet, error)
	Close(ctx context.Context) error
}

// VectorStore implements vectorstore.VectorStore on Milvus.
type VectorStore struct {
	client         Client
	collectionName string
	metricType     entity.MetricType
	ownsClient     bool
	closeOnce      sync.Once
	closeErr       error
}

type options struct {
	address        string
	username       string
	password       string
	dbName         string
	collectionName string
	metricType     entity.MetricType
	client         Client
}

// Option configures the VectorStore.
type Option func(*options)

// WithAddress sets the Milvus server address, e.g. "localhost:19530".
func WithAddress(address string) Option {
	return func(o *options) {
		o.address = address
	}
}

// WithAuth sets the username and password.
func WithAuth(username, password string) Option {
	return func(o *options) {
		o.username = username
		o.password = password
	}
}

// WithDBName sets the database name.
func WithDBName(dbName string) Option {
	return func(o *options) {
		o.dbName = dbName
	}
}

// WithCollectionName sets the collection name.
func WithCollectionName(name string) Option {
	return func(o *options) {
		o.collectionName = name
	}
}

// WithMetricType sets the similarity metric. Defaults to cosine.
func WithMetricType(metricType entity.MetricType) Option {
	return func(o *options) {
		o.metricType = metricType
	}
}

// WithClient injects an existing client. The store will not close it.
func WithClient(c Client) Option {
	return func(o *options) {
		o.client = c
	}
}

// New creates a Milvus vector store.
func New(ctx context.Context, opts ...Option) (*VectorStore, error) {
	o := options{
		address:    "localhost:19530",
		metricType: entity.COSINE,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.collectionName == "" {
		return nil, fmt.Errorf("milvus: collection name is required")
	}

	vs := &VectorStore{
		client:         o.client,
		collectionName: o.collectionName,
		metricType:     o.metricType,
	}
	if vs.client == nil {
		c, err := client.New(ctx, &client.ClientConfig{
			Address:  o.address,
			Username: o.username,
			Password: o.password,
			DBName:   o.dbName,
		})
		if err != nil {
			return nil, fmt.Errorf("milvus: connect %q: %w", o.address, err)
		}
		vs.client = c
		vs.ownsClient = true
	}
	return vs, nil
}

// EnsureCollection implements vectorstore.VectorStore. The collection is
// loaded after creation so it is immediately searchable.
func (vs *VectorStore) EnsureCollection(ctx context.Context, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("milvus: dimension must be positive, got %d", dim)
	}
	exists, err := vs.client.HasCollection(ctx, client.NewHasCollectionOption(vs.collectionName))
	if err != nil {
		return fmt.Errorf("milvus: check collection %q: %w", vs.collectionName, err)
	}
	if !exists {
		if err := vs.createCollection(ctx, dim); err != nil {
			return err
		}
	}

	loadTask, err := vs.client.LoadCollection(ctx, client.NewLoadCollectionOption(vs.collectionName))
	if err != nil {
		return fmt.Errorf("milvus: load collection %q: %w", vs.collectionName, err)
	}
	if err := loadTask.Await(ctx); err != nil {
		return fmt.Errorf("milvus: await load of %q: %w", vs.collectionName, err)
	}
	return nil
}

func (vs *VectorStore) createCollection(ctx context.Context, dim int) error {
	schema := &entity.Schema{
		CollectionName: vs.collectionName,
		AutoID:         false,
		Fields: []*entity.Field{
			entity.NewField().
				WithName(fieldID).
				WithDataType(entity.FieldTypeInt64).
				WithIsPrimaryKey(true),
			entity.NewField().
				WithName(fieldVector).
				WithDataType(entity.FieldTypeFloatVector).
				WithDim(int64(dim)),
			entity.NewField().
				WithName(vectorstore.FieldChunkID).
				WithDataType(entity.FieldTypeInt64),
			entity.NewField().
				WithName(vectorstore.FieldContent).
				WithDataType(entity.FieldTypeVarChar).
				WithMaxLength(maxContentLength),
			entity.NewField().
				WithName(vectorstore.FieldFileID).
				WithDataType(entity.FieldTypeInt64),
			entity.NewField().
				WithName(vectorstore.FieldKnowledgeBaseID).
				WithDataType(entity.FieldTypeInt64),
			entity.NewField().
				WithName(vectorstore.FieldUserID).
				WithDataType(entity.FieldTypeInt64),
			entity.NewField().
				WithName(vectorstore.FieldChunkIndex).
				WithDataType(entity.FieldTypeInt64),
			entity.NewField().
				WithName(vectorstore.FieldEmbeddingSource).
				WithDataType(entity.FieldTypeVarChar).
				WithMaxLength(32),
		},
	}

	indexOption := client.NewCreateIndexOption(vs.collectionName, fieldVector,
		index.NewHNSWIndex(vs.metricType, hnswM, hnswEfConstruction))

	err := vs.client.CreateCollection(ctx,
		client.NewCreateCollectionOption(vs.collectionName, schema).WithIndexOptions(indexOption))
	if err != nil {
		return fmt.Errorf("milvus: create collection %q: %w", vs.collectionName, err)
	}
	return nil
}

// Upsert implements vectorstore.VectorStore.
func (vs *VectorStore) Upsert(ctx context.Context, points []vectorstore.Point) error {
	if len(points) == 0 {
		return nil
	}

	ids := make([]int64, len(points))
	vectors := make([][]float32, len(points))
	chunkIDs := make([]int64, len(points))
	contents := make([]string, len(points))
	fileIDs := make([]int64, len(points))
	kbIDs := make([]int64, len(points))
	userIDs := make([]int64, len(points))
	chunkIndexes := make([]int64, len(points))
	sources := make([]string, len(points))
	dim := 0
	for i, p := range points {
		ids[i] = int64(p.ID)
		vectors[i] = p.Vector
		chunkIDs[i] = p.Payload.ChunkID
		contents[i] = vectorstore.PayloadContent(p.Payload.Content)
		fileIDs[i] = p.Payload.FileID
		kbIDs[i] = p.Payload.KnowledgeBaseID
		userIDs[i] = p.Payload.UserID
		chunkIndexes[i] = int64(p.Payload.ChunkIndex)
		sources[i] = p.Payload.EmbeddingSource
		if len(p.Vector) > dim {
			dim = len(p.Vector)
		}
	}

	upsertOption := client.NewColumnBasedInsertOption(vs.collectionName).
		WithInt64Column(fieldID, ids).
		WithColumns(column.NewColumnFloatVector(fieldVector, dim, vectors)).
		WithInt64Column(vectorstore.FieldChunkID, chunkIDs).
		WithVarcharColumn(vectorstore.FieldContent, contents).
		WithInt64Column(vectorstore.FieldFileID, fileIDs).
		WithInt64Column(vectorstore.FieldKnowledgeBaseID, kbIDs).
		WithInt64Column(vectorstore.FieldUserID, userIDs).
		WithInt64Column(vectorstore.FieldChunkIndex, chunkIndexes).
		WithVarcharColumn(vectorstore.FieldEmbeddingSource, sources)

	if _, err := vs.client.Upsert(ctx, upsertOption); err != nil {
		return fmt.Errorf("milvus: upsert %d points into %q: %w", len(points), vs.collectionName, err)
	}
	return nil
}

// Search implements vectorstore.VectorStore. A missing collection is treated
// as an empty index.
func (vs *VectorStore) Search(ctx context.Context, vector []float32, topK int, filter *vectorstore.Filter) ([]vectorstore.Hit, error) {
	if topK <= 0 {
		return nil, nil
	}
	exists, err := vs.client.HasCollection(ctx, client.NewHasCollectionOption(vs.collectionName))
	if err != nil {
		return nil, fmt.Errorf("milvus: check collection %q: %w", vs.collectionName, err)
	}
	if !exists {
		return nil, nil
	}

	searchOption := client.NewSearchOption(vs.collectionName, topK,
		[]entity.Vector{entity.FloatVector(vector)}).
		WithANNSField(fieldVector).
		WithOutputFields(
			vectorstore.FieldChunkID,
			vectorstore.FieldContent,
			vectorstore.FieldFileID,
			vectorstore.FieldKnowledgeBaseID,
			vectorstore.FieldUserID,
			vectorstore.FieldChunkIndex,
			vectorstore.FieldEmbeddingSource,
		)
	if expr := buildFilterExpr(filter); expr != "" {
		searchOption.WithFilter(expr)
	}

	results, err := vs.client.Search(ctx, searchOption)
	if err != nil {
		return nil, fmt.Errorf("milvus: search %q: %w", vs.collectionName, err)
	}
	if len(results) == 0 {
		return nil, nil
	}
	return convertResultSet(results[0])
}

// DeleteByIDs implements vectorstore.VectorStore.
func (vs *VectorStore) DeleteByIDs(ctx context.Context, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}
	int64IDs := make([]int64, len(ids))
	for i, id := range ids {
		int64IDs[i] = int64(id)
	}
	deleteOption := client.NewDeleteOption(vs.collectionName).WithInt64IDs(fieldID, int64IDs)
	if _, err := vs.client.Delete(ctx, deleteOption); err != nil {
		if isCollectionMissing(err) {
			return nil
		}
		return fmt.Errorf("milvus: delete %d points from %q: %w", len(ids), vs.collectionName, err)
	}
	return nil
}

// Close implements vectorstore.VectorStore. Injected clients stay open.
func (vs *VectorStore) Close() error {
	vs.closeOnce.Do(func() {
		if vs.ownsClient {
			vs.closeErr = vs.client.Close(context.Background())
		}
	})
	return vs.closeErr
}

// buildFilterExpr renders the typed filter as a Milvus boolean expression.
func buildFilterExpr(f *vectorstore.Filter) string {
	if f.Empty() {
		return ""
	}
	var terms []string
	if f.KnowledgeBaseID != nil {
		terms = append(terms, fmt.Sprintf("%s == %d", vectorstore.FieldKnowledgeBaseID, *f.KnowledgeBaseID))
	}
	if f.FileID != nil {
		terms = append(terms, fmt.Sprintf("%s == %d", vectorstore.FieldFileID, *f.FileID))
	}
	if f.UserID != nil {
		terms = append(terms, fmt.Sprintf("%s == %d", vectorstore.FieldUserID, *f.UserID))
	}
	if f.EmbeddingSource != "" {
		terms = append(terms, fmt.Sprintf("%s == %q", vectorstore.FieldEmbeddingSource, f.EmbeddingSource))
	}
	return strings.Join(terms, " and ")
}

func convertResultSet(rs client.ResultSet) ([]vectorstore.Hit, error) {
	if rs.ResultCount == 0 {
		return nil, nil
	}
	hits := make([]vectorstore.Hit, rs.ResultCount)
	for i := 0; i < rs.ResultCount; i++ {
		if rs.IDs != nil {
			id, err := rs.IDs.GetAsInt64(i)
			if err != nil {
				return nil, fmt.Errorf("milvus: read result id: %w", err)
			}
			hits[i].ID = uint64(id)
		}
		if i < len(rs.Scores) {
			hits[i].Score = float64(rs.Scores[i])
		}
		hits[i].Payload = vectorstore.Payload{
			ChunkID:         columnInt64(rs, vectorstore.FieldChunkID, i),
			Content:         columnString(rs, vectorstore.FieldContent, i),
			FileID:          columnInt64(rs, vectorstore.FieldFileID, i),
			KnowledgeBaseID: columnInt64(rs, vectorstore.FieldKnowledgeBaseID, i),
			UserID:          columnInt64(rs, vectorstore.FieldUserID, i),
			ChunkIndex:      int(columnInt64(rs, vectorstore.FieldChunkIndex, i)),
			EmbeddingSource: columnString(rs, vectorstore.FieldEmbeddingSource, i),
		}
	}
	return hits, nil
}

func columnInt64(rs client.ResultSet, field string, i int) int64 {
	col := rs.GetColumn(field)
	if col == nil || i >= col.Len() {
		return 0
	}
	v, err := col.GetAsInt64(i)
	if err != nil {
		return 0
	}
	return v
}

func columnString(rs client.ResultSet, field string, i int) string {
	col := rs.GetColumn(field)
	if col == nil || i >= col.Len() {
		return ""
	}
	v, err := col.GetAsString(i)
	if err != nil {
		return ""
	}
	return v
}

func isCollectionMissing(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") || strings.Contains(msg, "not exist")
}
