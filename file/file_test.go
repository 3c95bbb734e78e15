//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

package file

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-rag-go/internal/errs"
	"trpc.group/trpc-go/trpc-rag-go/kb"
	"trpc.group/trpc-go/trpc-rag-go/objectstore/inmemory"
	storage "trpc.group/trpc-go/trpc-rag-go/storage/postgres"
)

func newTestService(t *testing.T, opts ...Option) (*Service, sqlmock.Sqlmock, *inmemory.Store) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	objects := inmemory.New()
	store := kb.NewStore(storage.NewClient(db))
	return NewService(store, objects, opts...), mock, objects
}

func TestValidateFilename(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		wantErr  bool
	}{
		{"ok", "report.pdf", false},
		{"chinese", "部署手册.docx", false},
		{"empty", "", true},
		{"whitespace", "   ", true},
		{"too long", strings.Repeat("a", 201) + ".txt", true},
		{"traversal", "../etc/passwd.txt", true},
		{"slash", "a/b.txt", true},
		{"backslash", `a\b.txt`, true},
		{"nul", "a\x00b.txt", true},
		{"executable", "setup.exe", true},
		{"script", "run.sh", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFilename(tt.filename)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errs.Is(err, errs.KindValidation))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateContentMagicNumbers(t *testing.T) {
	allowed := map[string]struct{}{
		"pdf": {}, "png": {}, "txt": {}, "docx": {}, "html": {},
	}
	tests := []struct {
		name    string
		content []byte
		ext     string
		wantErr bool
	}{
		{"pdf ok", []byte("%PDF-1.7 rest"), "pdf", false},
		{"pdf forged", []byte("MZ\x90\x00"), "pdf", true},
		{"png ok", []byte("\x89PNG\r\n\x1a\nrest"), "png", false},
		{"docx ok", []byte("PK\x03\x04rest"), "docx", false},
		{"html doctype", []byte("<!DOCTYPE html>"), "html", false},
		{"txt no magic", []byte("anything at all"), "txt", false},
		{"disallowed ext", []byte("GIF89a"), "gif", true},
		{"empty", nil, "txt", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateContent(tt.content, tt.ext, allowed)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errs.Is(err, errs.KindValidation))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestUploadStoresObjectAndRecord(t *testing.T) {
	svc, mock, objects := newTestService(t)
	data := []byte("%PDF-1.7 content")
	sum := md5.Sum(data)
	hash := hex.EncodeToString(sum[:])
	now := time.Now()

	mock.ExpectQuery(`SELECT .* FROM files`).
		WithArgs(int64(7), hash).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`INSERT INTO files`).
		WithArgs(int64(7), "a.pdf", "pdf", int64(len(data)), "7/"+hash+"/a.pdf",
			hash, kb.FileStatusCompleted, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow(int64(3), now, now))

	f, err := svc.Upload(context.Background(), 7, "a.pdf", data)
	require.NoError(t, err)
	assert.Equal(t, int64(3), f.ID)
	assert.Equal(t, kb.FileStatusCompleted, f.Status)

	stored, contentType, err := objects.Get(context.Background(), f.StoragePath)
	require.NoError(t, err)
	assert.Equal(t, data, stored)
	assert.Equal(t, "application/pdf", contentType)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUploadRejectsOversize(t *testing.T) {
	svc, _, _ := newTestService(t, WithMaxFileSize(8))

	_, err := svc.Upload(context.Background(), 7, "a.txt", []byte("way past the cap"))
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindValidation))
}

func TestUploadDuplicateUsesExisting(t *testing.T) {
	svc, mock, objects := newTestService(t)
	data := []byte("duplicate text")
	sum := md5.Sum(data)
	hash := hex.EncodeToString(sum[:])
	now := time.Now()

	mock.ExpectQuery(`SELECT .* FROM files`).
		WithArgs(int64(7), hash).
		WillReturnRows(fileRows(now).AddRow(
			int64(5), int64(7), "old.txt", "txt", int64(len(data)),
			"7/"+hash+"/old.txt", hash, kb.FileStatusCompleted, 4, now, now))

	f, err := svc.Upload(context.Background(), 7, "new.txt", data)
	require.NoError(t, err)
	assert.Equal(t, int64(5), f.ID)
	assert.Equal(t, "old.txt", f.Filename, "existing record returned untouched")
	assert.Zero(t, objects.Len(), "no new object written")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUploadDuplicateOverwrite(t *testing.T) {
	svc, mock, objects := newTestService(t, WithDedupPolicy("overwrite"))
	data := []byte("duplicate text")
	sum := md5.Sum(data)
	hash := hex.EncodeToString(sum[:])
	now := time.Now()
	oldPath := "7/" + hash + "/old.txt"
	newPath := "7/" + hash + "/new.txt"
	require.NoError(t, objects.Put(context.Background(), oldPath, data, "text/plain"))

	mock.ExpectQuery(`SELECT .* FROM files`).
		WithArgs(int64(7), hash).
		WillReturnRows(fileRows(now).AddRow(
			int64(5), int64(7), "old.txt", "txt", int64(len(data)),
			oldPath, hash, kb.FileStatusCompleted, 4, now, now))
	mock.ExpectQuery(`SELECT knowledge_base_id FROM knowledge_base_files`).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"knowledge_base_id"}).AddRow(int64(2)))
	mock.ExpectBegin()
	mock.ExpectQuery(`DELETE FROM chunks`).
		WithArgs(int64(2), int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"vector_id"}).AddRow(int64(1234)))
	mock.ExpectExec(`UPDATE knowledge_bases`).
		WithArgs(-1, int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectExec(`UPDATE files`).
		WithArgs(int64(len(data)), newPath, hash, kb.FileStatusUploading, int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE files`).
		WithArgs(kb.FileStatusCompleted, int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT .* FROM files WHERE id`).
		WithArgs(int64(5), int64(7)).
		WillReturnRows(fileRows(now).AddRow(
			int64(5), int64(7), "new.txt", "txt", int64(len(data)),
			newPath, hash, kb.FileStatusCompleted, 0, now, now))

	f, err := svc.Upload(context.Background(), 7, "new.txt", data)
	require.NoError(t, err)
	assert.Equal(t, newPath, f.StoragePath)
	assert.Equal(t, 0, f.ChunkCount)
	_, _, err = objects.Get(context.Background(), oldPath)
	assert.Error(t, err, "replaced object removed")
	_, _, err = objects.Get(context.Background(), newPath)
	assert.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteCascades(t *testing.T) {
	svc, mock, objects := newTestService(t)
	now := time.Now()
	path := "7/hash/a.txt"
	require.NoError(t, objects.Put(context.Background(), path, []byte("x"), "text/plain"))

	mock.ExpectQuery(`SELECT .* FROM files WHERE id`).
		WithArgs(int64(5), int64(7)).
		WillReturnRows(fileRows(now).AddRow(
			int64(5), int64(7), "a.txt", "txt", int64(1),
			path, "hash", kb.FileStatusCompleted, 2, now, now))
	mock.ExpectQuery(`SELECT knowledge_base_id FROM knowledge_base_files`).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"knowledge_base_id"}).AddRow(int64(2)))
	mock.ExpectBegin()
	mock.ExpectQuery(`DELETE FROM chunks`).
		WithArgs(int64(2), int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"vector_id"}).
			AddRow(int64(10)).AddRow(int64(11)))
	mock.ExpectExec(`UPDATE knowledge_bases`).
		WithArgs(-2, int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM knowledge_base_files`).
		WithArgs(int64(2), int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE knowledge_bases SET file_count`).
		WithArgs(int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectExec(`DELETE FROM files`).
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, svc.Delete(context.Background(), 7, 5))
	assert.Zero(t, objects.Len(), "object removed")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestContentReadsObject(t *testing.T) {
	svc, mock, objects := newTestService(t)
	now := time.Now()
	path := "7/hash/a.txt"
	require.NoError(t, objects.Put(context.Background(), path, []byte("body"), "text/plain"))

	mock.ExpectQuery(`SELECT .* FROM files WHERE id`).
		WithArgs(int64(5), int64(7)).
		WillReturnRows(fileRows(now).AddRow(
			int64(5), int64(7), "a.txt", "txt", int64(4),
			path, "hash", kb.FileStatusCompleted, 0, now, now))

	data, f, err := svc.Content(context.Background(), 7, 5)
	require.NoError(t, err)
	assert.Equal(t, []byte("body"), data)
	assert.Equal(t, "a.txt", f.Filename)
}

func fileRows(time.Time) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "user_id", "filename", "file_type", "file_size",
		"storage_path", "content_hash", "status", "chunk_count",
		"created_at", "updated_at",
	})
}
