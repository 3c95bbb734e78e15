//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

package kb

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-rag-go/internal/errs"
	storage "trpc.group/trpc-go/trpc-rag-go/storage/postgres"
)

func newMockStore(t *testing.T, opts ...Option) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(storage.NewClient(db), opts...), mock
}

func TestCreateFileFillsIdentity(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery(`INSERT INTO files`).
		WithArgs(int64(7), "a.pdf", "pdf", int64(10), "7/hash/a.pdf", "hash", FileStatusUploading, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow(int64(3), now, now))

	f := &File{
		UserID: 7, Filename: "a.pdf", FileType: "pdf", FileSize: 10,
		StoragePath: "7/hash/a.pdf", ContentHash: "hash", Status: FileStatusUploading,
	}
	require.NoError(t, s.CreateFile(context.Background(), f))
	assert.Equal(t, int64(3), f.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetFileNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .* FROM files WHERE id`).
		WithArgs(int64(99), int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.GetFile(context.Background(), 7, 99)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindNotFound))
}

func TestGetFileByHashNoDuplicate(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .* FROM files`).
		WithArgs(int64(7), "hash").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	f, err := s.GetFileByHash(context.Background(), 7, "hash")
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestLinkFileTxReportsExisting(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO knowledge_base_files`).
		WithArgs(int64(1), int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	linked, err := s.LinkFileTx(context.Background(), s.Client(), 1, 2)
	require.NoError(t, err)
	assert.False(t, linked, "conflict insert should report not linked")
}

func TestSearchChunksLikeEmptyInputs(t *testing.T) {
	s, _ := newMockStore(t)

	chunks, err := s.SearchChunksLike(context.Background(), nil, []string{"kw"}, 10)
	require.NoError(t, err)
	assert.Nil(t, chunks)

	chunks, err = s.SearchChunksLike(context.Background(), []int64{1}, nil, 10)
	require.NoError(t, err)
	assert.Nil(t, chunks)
}

func TestSearchChunksLikeQueryShape(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .* FROM chunks\s+WHERE knowledge_base_id IN \(\$1, \$2\) AND \(content ILIKE \$3 OR content ILIKE \$4\)`).
		WithArgs(int64(1), int64(2), "%部署%", "%config%", 20).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "file_id", "knowledge_base_id", "chunk_index", "content",
			"metadata", "vector_id", "created_at",
		}).AddRow(int64(5), int64(9), int64(1), 0, "部署说明", nil, int64(1234), time.Now()))

	chunks, err := s.SearchChunksLike(context.Background(), []int64{1, 2}, []string{"部署", "config"}, 20)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "部署说明", chunks[0].Content)
	assert.Equal(t, EmbeddingSourceText, chunks[0].EmbeddingSource())
}

func TestGetChunksByIDsPreservesOrder(t *testing.T) {
	s, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{
		"id", "file_id", "knowledge_base_id", "chunk_index", "content",
		"metadata", "vector_id", "created_at",
	}).
		AddRow(int64(2), int64(1), int64(1), 1, "b", nil, int64(0), time.Now()).
		AddRow(int64(8), int64(1), int64(1), 0, "a", []byte(`{"embedding_source":"image"}`), int64(0), time.Now())
	mock.ExpectQuery(`SELECT .* FROM chunks WHERE id IN`).WillReturnRows(rows)

	chunks, err := s.GetChunksByIDs(context.Background(), []int64{8, 2})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, int64(8), chunks[0].ID)
	assert.Equal(t, EmbeddingSourceImage, chunks[0].EmbeddingSource())
	assert.Equal(t, int64(2), chunks[1].ID)
}

func TestEvictConversationsDeletesBeyondMax(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM conversations WHERE user_id`).
		WithArgs(int64(7), 50).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)).AddRow(int64(12)))
	mock.ExpectExec(`DELETE FROM messages`).WithArgs(int64(11)).WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(`DELETE FROM conversations`).WithArgs(int64(11)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM messages`).WithArgs(int64(12)).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`DELETE FROM conversations`).WithArgs(int64(12)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	evicted, err := s.EvictConversations(context.Background(), 7, 50)
	require.NoError(t, err)
	assert.Equal(t, []int64{11, 12}, evicted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTablePrefix(t *testing.T) {
	s, mock := newMockStore(t, WithTablePrefix("rag"))

	mock.ExpectExec(`DELETE FROM rag_files WHERE id`).
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.DeleteFile(context.Background(), 1))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTablePrefixRejectsBadChars(t *testing.T) {
	assert.Panics(t, func() {
		newStorePanic(t, "bad-prefix;")
	})
}

func newStorePanic(t *testing.T, prefix string) {
	t.Helper()
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	NewStore(storage.NewClient(db), WithTablePrefix(prefix))
}

func TestInitSchemaCreatesEverything(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()
	client := storage.NewClient(db)

	for range tableDefs {
		mock.ExpectExec(`CREATE TABLE IF NOT EXISTS`).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	for range indexDefs {
		mock.ExpectExec(`CREATE (UNIQUE )?INDEX IF NOT EXISTS`).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	for range tableDefs {
		mock.ExpectQuery(`information_schema.tables`).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	}
	for range indexDefs {
		mock.ExpectQuery(`pg_indexes`).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	}

	require.NoError(t, InitSchema(context.Background(), client, ""))
	require.NoError(t, mock.ExpectationsWereMet())
}
