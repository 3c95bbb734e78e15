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
	"database/sql"
	"errors"
	"fmt"

	"trpc.group/trpc-go/trpc-rag-go/internal/errs"
)

const fileColumns = `id, user_id, filename, file_type, file_size, storage_path,
	content_hash, status, chunk_count, created_at, updated_at`

func scanFile(row interface{ Scan(dest ...any) error }) (*File, error) {
	var f File
	err := row.Scan(&f.ID, &f.UserID, &f.Filename, &f.FileType, &f.FileSize,
		&f.StoragePath, &f.ContentHash, &f.Status, &f.ChunkCount,
		&f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// CreateFile inserts the file and fills its id and timestamps.
func (s *Store) CreateFile(ctx context.Context, f *File) error {
	query := fmt.Sprintf(`INSERT INTO %s
		(user_id, filename, file_type, file_size, storage_path, content_hash, status, chunk_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`, s.t.files)
	err := s.client.QueryRowContext(ctx, query,
		f.UserID, f.Filename, f.FileType, f.FileSize, f.StoragePath,
		f.ContentHash, f.Status, f.ChunkCount,
	).Scan(&f.ID, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return errs.Wrapf(errs.KindDependency, err, "create file")
	}
	return nil
}

// GetFile returns the user's file or a NotFound error. Ownership is part
// of the lookup so foreign ids read as missing.
func (s *Store) GetFile(ctx context.Context, userID, fileID int64) (*File, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1 AND user_id = $2`,
		fileColumns, s.t.files)
	f, err := scanFile(s.client.QueryRowContext(ctx, query, fileID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.KindNotFound, "file %d not found", fileID)
	}
	if err != nil {
		return nil, errs.Wrapf(errs.KindDependency, err, "get file %d", fileID)
	}
	return f, nil
}

// GetFileByHash returns the user's file with the given content hash, or
// nil when no duplicate exists.
func (s *Store) GetFileByHash(ctx context.Context, userID int64, contentHash string) (*File, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s
		WHERE user_id = $1 AND content_hash = $2
		ORDER BY id LIMIT 1`, fileColumns, s.t.files)
	f, err := scanFile(s.client.QueryRowContext(ctx, query, userID, contentHash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrapf(errs.KindDependency, err, "get file by hash")
	}
	return f, nil
}

// ListFiles returns the user's files, newest first.
func (s *Store) ListFiles(ctx context.Context, userID int64) ([]*File, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE user_id = $1 ORDER BY id DESC`,
		fileColumns, s.t.files)
	var files []*File
	err := s.client.Query(ctx, func(rows *sql.Rows) error {
		for rows.Next() {
			f, err := scanFile(rows)
			if err != nil {
				return err
			}
			files = append(files, f)
		}
		return nil
	}, query, userID)
	if err != nil {
		return nil, errs.Wrapf(errs.KindDependency, err, "list files")
	}
	return files, nil
}

// UpdateFileStatus transitions the file's processing status.
func (s *Store) UpdateFileStatus(ctx context.Context, fileID int64, status string) error {
	query := fmt.Sprintf(`UPDATE %s
		SET status = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2`, s.t.files)
	if _, err := s.client.ExecContext(ctx, query, status, fileID); err != nil {
		return errs.Wrapf(errs.KindDependency, err, "update file %d status", fileID)
	}
	return nil
}

// ReplaceFileContent updates the stored bytes' identity on overwrite
// dedup and resets the chunk count to zero.
func (s *Store) ReplaceFileContent(ctx context.Context, fileID, fileSize int64, storagePath, contentHash string) error {
	query := fmt.Sprintf(`UPDATE %s
		SET file_size = $1, storage_path = $2, content_hash = $3,
			status = $4, chunk_count = 0, updated_at = CURRENT_TIMESTAMP
		WHERE id = $5`, s.t.files)
	_, err := s.client.ExecContext(ctx, query,
		fileSize, storagePath, contentHash, FileStatusUploading, fileID)
	if err != nil {
		return errs.Wrapf(errs.KindDependency, err, "replace file %d content", fileID)
	}
	return nil
}

// DeleteFile removes the row. Cascades are the caller's job (file package).
func (s *Store) DeleteFile(ctx context.Context, fileID int64) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.t.files)
	if _, err := s.client.ExecContext(ctx, query, fileID); err != nil {
		return errs.Wrapf(errs.KindDependency, err, "delete file %d", fileID)
	}
	return nil
}

// AddFileChunkCountTx bumps the file's chunk counter, typically inside
// an ingestion transaction.
func (s *Store) AddFileChunkCountTx(ctx context.Context, q Queryer, fileID int64, delta int) error {
	query := fmt.Sprintf(`UPDATE %s
		SET chunk_count = chunk_count + $1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2`, s.t.files)
	_, err := q.ExecContext(ctx, query, delta, fileID)
	return err
}
