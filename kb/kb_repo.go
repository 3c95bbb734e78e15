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
	"strings"

	"trpc.group/trpc-go/trpc-rag-go/internal/errs"
)

const kbColumns = `id, user_id, name, description, chunk_size, chunk_overlap,
	chunk_max_expand_ratio, enable_hybrid, enable_rerank, file_count,
	chunk_count, created_at, updated_at`

func scanKnowledgeBase(row interface{ Scan(dest ...any) error }) (*KnowledgeBase, error) {
	var k KnowledgeBase
	err := row.Scan(&k.ID, &k.UserID, &k.Name, &k.Description,
		&k.ChunkSize, &k.ChunkOverlap, &k.ChunkMaxExpandRatio,
		&k.EnableHybrid, &k.EnableRerank, &k.FileCount, &k.ChunkCount,
		&k.CreatedAt, &k.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// CreateKnowledgeBase inserts the KB and fills its id and timestamps.
func (s *Store) CreateKnowledgeBase(ctx context.Context, k *KnowledgeBase) error {
	query := fmt.Sprintf(`INSERT INTO %s
		(user_id, name, description, chunk_size, chunk_overlap,
		 chunk_max_expand_ratio, enable_hybrid, enable_rerank)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`, s.t.knowledgeBases)
	err := s.client.QueryRowContext(ctx, query,
		k.UserID, k.Name, k.Description, k.ChunkSize, k.ChunkOverlap,
		k.ChunkMaxExpandRatio, k.EnableHybrid, k.EnableRerank,
	).Scan(&k.ID, &k.CreatedAt, &k.UpdatedAt)
	if err != nil {
		return errs.Wrapf(errs.KindDependency, err, "create knowledge base")
	}
	return nil
}

// GetKnowledgeBase returns the user's KB or a NotFound error.
func (s *Store) GetKnowledgeBase(ctx context.Context, userID, kbID int64) (*KnowledgeBase, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1 AND user_id = $2`,
		kbColumns, s.t.knowledgeBases)
	k, err := scanKnowledgeBase(s.client.QueryRowContext(ctx, query, kbID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.KindNotFound, "knowledge base %d not found", kbID)
	}
	if err != nil {
		return nil, errs.Wrapf(errs.KindDependency, err, "get knowledge base %d", kbID)
	}
	return k, nil
}

// ListKnowledgeBases returns the user's KBs, newest first.
func (s *Store) ListKnowledgeBases(ctx context.Context, userID int64) ([]*KnowledgeBase, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE user_id = $1 ORDER BY id DESC`,
		kbColumns, s.t.knowledgeBases)
	var kbs []*KnowledgeBase
	err := s.client.Query(ctx, func(rows *sql.Rows) error {
		for rows.Next() {
			k, err := scanKnowledgeBase(rows)
			if err != nil {
				return err
			}
			kbs = append(kbs, k)
		}
		return nil
	}, query, userID)
	if err != nil {
		return nil, errs.Wrapf(errs.KindDependency, err, "list knowledge bases")
	}
	return kbs, nil
}

// ListKnowledgeBaseIDs returns the ids of every KB the user owns,
// for all-KB retrieval scope.
func (s *Store) ListKnowledgeBaseIDs(ctx context.Context, userID int64) ([]int64, error) {
	query := fmt.Sprintf(`SELECT id FROM %s WHERE user_id = $1 ORDER BY id`,
		s.t.knowledgeBases)
	var ids []int64
	err := s.client.Query(ctx, func(rows *sql.Rows) error {
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	}, query, userID)
	if err != nil {
		return nil, errs.Wrapf(errs.KindDependency, err, "list knowledge base ids")
	}
	return ids, nil
}

// UpdateKnowledgeBase persists name/description/toggles/chunking overrides.
func (s *Store) UpdateKnowledgeBase(ctx context.Context, k *KnowledgeBase) error {
	query := fmt.Sprintf(`UPDATE %s
		SET name = $1, description = $2, chunk_size = $3, chunk_overlap = $4,
			chunk_max_expand_ratio = $5, enable_hybrid = $6, enable_rerank = $7,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $8 AND user_id = $9`, s.t.knowledgeBases)
	res, err := s.client.ExecContext(ctx, query,
		k.Name, k.Description, k.ChunkSize, k.ChunkOverlap,
		k.ChunkMaxExpandRatio, k.EnableHybrid, k.EnableRerank,
		k.ID, k.UserID)
	if err != nil {
		return errs.Wrapf(errs.KindDependency, err, "update knowledge base %d", k.ID)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errs.New(errs.KindNotFound, "knowledge base %d not found", k.ID)
	}
	return nil
}

// DeleteKnowledgeBase removes the KB row.
func (s *Store) DeleteKnowledgeBase(ctx context.Context, kbID int64) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.t.knowledgeBases)
	if _, err := s.client.ExecContext(ctx, query, kbID); err != nil {
		return errs.Wrapf(errs.KindDependency, err, "delete knowledge base %d", kbID)
	}
	return nil
}

// AddKBChunkCountTx applies a per-file chunk delta to the KB counter
// inside the ingestion transaction.
func (s *Store) AddKBChunkCountTx(ctx context.Context, q Queryer, kbID int64, delta int) error {
	query := fmt.Sprintf(`UPDATE %s
		SET chunk_count = chunk_count + $1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2`, s.t.knowledgeBases)
	_, err := q.ExecContext(ctx, query, delta, kbID)
	return err
}

// RefreshKBFileCountTx recomputes file_count as the number of links.
func (s *Store) RefreshKBFileCountTx(ctx context.Context, q Queryer, kbID int64) error {
	query := fmt.Sprintf(`UPDATE %s SET file_count = (
			SELECT COUNT(*) FROM %s WHERE knowledge_base_id = $1
		), updated_at = CURRENT_TIMESTAMP
		WHERE id = $1`, s.t.knowledgeBases, s.t.knowledgeBaseFiles)
	_, err := q.ExecContext(ctx, query, kbID)
	return err
}

// LinkFileTx records the (kb, file) membership. Returns false when the
// link already exists.
func (s *Store) LinkFileTx(ctx context.Context, q Queryer, kbID, fileID int64) (bool, error) {
	query := fmt.Sprintf(`INSERT INTO %s (knowledge_base_id, file_id)
		VALUES ($1, $2)
		ON CONFLICT (knowledge_base_id, file_id) DO NOTHING`, s.t.knowledgeBaseFiles)
	res, err := q.ExecContext(ctx, query, kbID, fileID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// UnlinkFileTx removes the (kb, file) membership.
func (s *Store) UnlinkFileTx(ctx context.Context, q Queryer, kbID, fileID int64) error {
	query := fmt.Sprintf(`DELETE FROM %s
		WHERE knowledge_base_id = $1 AND file_id = $2`, s.t.knowledgeBaseFiles)
	_, err := q.ExecContext(ctx, query, kbID, fileID)
	return err
}

// FileLinked reports whether the file is already in the KB.
func (s *Store) FileLinked(ctx context.Context, kbID, fileID int64) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS (
		SELECT FROM %s WHERE knowledge_base_id = $1 AND file_id = $2
	)`, s.t.knowledgeBaseFiles)
	var linked bool
	err := s.client.QueryRowContext(ctx, query, kbID, fileID).Scan(&linked)
	if err != nil {
		return false, errs.Wrapf(errs.KindDependency, err, "check file link")
	}
	return linked, nil
}

// ListKBFileIDs returns the ids of files linked into the KB.
func (s *Store) ListKBFileIDs(ctx context.Context, kbID int64) ([]int64, error) {
	query := fmt.Sprintf(`SELECT file_id FROM %s
		WHERE knowledge_base_id = $1 ORDER BY file_id`, s.t.knowledgeBaseFiles)
	var ids []int64
	err := s.client.Query(ctx, func(rows *sql.Rows) error {
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	}, query, kbID)
	if err != nil {
		return nil, errs.Wrapf(errs.KindDependency, err, "list kb file ids")
	}
	return ids, nil
}

// ListKBsForFile returns ids of KBs containing the file, for delete
// cascades and cache invalidation.
func (s *Store) ListKBsForFile(ctx context.Context, fileID int64) ([]int64, error) {
	query := fmt.Sprintf(`SELECT knowledge_base_id FROM %s
		WHERE file_id = $1 ORDER BY knowledge_base_id`, s.t.knowledgeBaseFiles)
	var ids []int64
	err := s.client.Query(ctx, func(rows *sql.Rows) error {
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	}, query, fileID)
	if err != nil {
		return nil, errs.Wrapf(errs.KindDependency, err, "list kbs for file %d", fileID)
	}
	return ids, nil
}

// ListKBFiles returns the files linked into the KB with their per-KB
// chunk counts.
func (s *Store) ListKBFiles(ctx context.Context, kbID int64) ([]*File, map[int64]int, error) {
	query := fmt.Sprintf(`SELECT %s, (
			SELECT COUNT(*) FROM %s c
			WHERE c.file_id = f.id AND c.knowledge_base_id = $1
		) AS kb_chunks
		FROM %s f
		JOIN %s l ON l.file_id = f.id
		WHERE l.knowledge_base_id = $1
		ORDER BY f.id`,
		prefixColumns("f", fileColumns), s.t.chunks, s.t.files, s.t.knowledgeBaseFiles)

	var files []*File
	counts := make(map[int64]int)
	err := s.client.Query(ctx, func(rows *sql.Rows) error {
		for rows.Next() {
			var f File
			var kbChunks int
			err := rows.Scan(&f.ID, &f.UserID, &f.Filename, &f.FileType,
				&f.FileSize, &f.StoragePath, &f.ContentHash, &f.Status,
				&f.ChunkCount, &f.CreatedAt, &f.UpdatedAt, &kbChunks)
			if err != nil {
				return err
			}
			files = append(files, &f)
			counts[f.ID] = kbChunks
		}
		return nil
	}, query, kbID)
	if err != nil {
		return nil, nil, errs.Wrapf(errs.KindDependency, err, "list kb files")
	}
	return files, counts, nil
}

// prefixColumns qualifies a comma-separated column list with an alias.
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
