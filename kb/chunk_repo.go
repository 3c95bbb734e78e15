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
	"encoding/json"
	"fmt"
	"strings"

	"trpc.group/trpc-go/trpc-rag-go/internal/errs"
)

const chunkColumns = `id, file_id, knowledge_base_id, chunk_index, content,
	metadata, vector_id, created_at`

func scanChunk(row interface{ Scan(dest ...any) error }) (*Chunk, error) {
	var c Chunk
	var metadata []byte
	err := row.Scan(&c.ID, &c.FileID, &c.KnowledgeBaseID, &c.ChunkIndex,
		&c.Content, &metadata, &c.VectorID, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &c.Metadata); err != nil {
			return nil, fmt.Errorf("decode chunk %d metadata: %w", c.ID, err)
		}
	}
	return &c, nil
}

// InsertChunkTx inserts one chunk and fills its id, inside the ingestion
// transaction. The vector id is written afterwards since it derives from
// the generated id.
func (s *Store) InsertChunkTx(ctx context.Context, q Queryer, c *Chunk) error {
	var metadata any
	if c.Metadata != nil {
		raw, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("encode chunk metadata: %w", err)
		}
		metadata = raw
	}
	query := fmt.Sprintf(`INSERT INTO %s
		(file_id, knowledge_base_id, chunk_index, content, metadata)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`, s.t.chunks)
	return q.QueryRowContext(ctx, query,
		c.FileID, c.KnowledgeBaseID, c.ChunkIndex, c.Content, metadata,
	).Scan(&c.ID, &c.CreatedAt)
}

// SetChunkVectorIDTx records the derived vector id for a chunk.
func (s *Store) SetChunkVectorIDTx(ctx context.Context, q Queryer, chunkID, vectorID int64) error {
	query := fmt.Sprintf(`UPDATE %s SET vector_id = $1 WHERE id = $2`, s.t.chunks)
	_, err := q.ExecContext(ctx, query, vectorID, chunkID)
	return err
}

// DeleteChunksTx removes the file's chunks in one KB and returns their
// vector ids for vector store cleanup.
func (s *Store) DeleteChunksTx(ctx context.Context, q Queryer, kbID, fileID int64) ([]int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s
		WHERE knowledge_base_id = $1 AND file_id = $2
		RETURNING vector_id`, s.t.chunks)
	rows, err := q.QueryContext(ctx, query, kbID, fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var vectorIDs []int64
	for rows.Next() {
		var vectorID sql.NullInt64
		if err := rows.Scan(&vectorID); err != nil {
			return nil, err
		}
		if vectorID.Valid {
			vectorIDs = append(vectorIDs, vectorID.Int64)
		}
	}
	return vectorIDs, rows.Err()
}

// DeleteChunksByFile removes every chunk of the file across all KBs,
// returning vector ids for cleanup.
func (s *Store) DeleteChunksByFile(ctx context.Context, fileID int64) ([]int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE file_id = $1
		RETURNING vector_id`, s.t.chunks)
	return s.deleteReturningVectorIDs(ctx, query, fileID)
}

// DeleteChunksByKB removes every chunk in the KB, returning vector ids.
func (s *Store) DeleteChunksByKB(ctx context.Context, kbID int64) ([]int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE knowledge_base_id = $1
		RETURNING vector_id`, s.t.chunks)
	return s.deleteReturningVectorIDs(ctx, query, kbID)
}

func (s *Store) deleteReturningVectorIDs(ctx context.Context, query string, arg any) ([]int64, error) {
	var vectorIDs []int64
	err := s.client.Query(ctx, func(rows *sql.Rows) error {
		for rows.Next() {
			var vectorID sql.NullInt64
			if err := rows.Scan(&vectorID); err != nil {
				return err
			}
			if vectorID.Valid {
				vectorIDs = append(vectorIDs, vectorID.Int64)
			}
		}
		return nil
	}, query, arg)
	if err != nil {
		return nil, errs.Wrapf(errs.KindDependency, err, "delete chunks")
	}
	return vectorIDs, nil
}

// GetChunksByIDs returns chunks by primary key, in input order where
// present.
func (s *Store) GetChunksByIDs(ctx context.Context, ids []int64) ([]*Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id IN (%s)`,
		chunkColumns, s.t.chunks, strings.Join(placeholders, ", "))

	byID := make(map[int64]*Chunk, len(ids))
	err := s.client.Query(ctx, func(rows *sql.Rows) error {
		for rows.Next() {
			c, err := scanChunk(rows)
			if err != nil {
				return err
			}
			byID[c.ID] = c
		}
		return nil
	}, query, args...)
	if err != nil {
		return nil, errs.Wrapf(errs.KindDependency, err, "get chunks by ids")
	}

	chunks := make([]*Chunk, 0, len(byID))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			chunks = append(chunks, c)
		}
	}
	return chunks, nil
}

// ListChunksByFileKB returns the file's chunks in one KB ordered by
// chunk_index, for the chunk inspection endpoint.
func (s *Store) ListChunksByFileKB(ctx context.Context, kbID, fileID int64) ([]*Chunk, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s
		WHERE knowledge_base_id = $1 AND file_id = $2
		ORDER BY chunk_index`, chunkColumns, s.t.chunks)
	return s.listChunks(ctx, query, kbID, fileID)
}

// ListFirstChunks returns the first n chunks of a KB by ascending id,
// the retrieval fallback pool.
func (s *Store) ListFirstChunks(ctx context.Context, kbID int64, n int) ([]*Chunk, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s
		WHERE knowledge_base_id = $1
		ORDER BY id LIMIT $2`, chunkColumns, s.t.chunks)
	return s.listChunks(ctx, query, kbID, n)
}

// SearchChunksLike returns a lexical candidate pool: chunks in the given
// KBs whose content matches any keyword, ordered by id, capped at limit.
func (s *Store) SearchChunksLike(ctx context.Context, kbIDs []int64, keywords []string, limit int) ([]*Chunk, error) {
	if len(kbIDs) == 0 || len(keywords) == 0 {
		return nil, nil
	}

	args := make([]any, 0, len(kbIDs)+len(keywords)+1)
	kbPlaceholders := make([]string, len(kbIDs))
	for i, id := range kbIDs {
		args = append(args, id)
		kbPlaceholders[i] = fmt.Sprintf("$%d", len(args))
	}
	likeTerms := make([]string, len(keywords))
	for i, kw := range keywords {
		args = append(args, "%"+escapeLike(kw)+"%")
		likeTerms[i] = fmt.Sprintf("content ILIKE $%d", len(args))
	}
	args = append(args, limit)

	query := fmt.Sprintf(`SELECT %s FROM %s
		WHERE knowledge_base_id IN (%s) AND (%s)
		ORDER BY id LIMIT $%d`,
		chunkColumns, s.t.chunks,
		strings.Join(kbPlaceholders, ", "),
		strings.Join(likeTerms, " OR "),
		len(args))
	return s.listChunks(ctx, query, args...)
}

// ListNeighborChunks returns chunks of the file whose index lies within
// the inclusive window, ordered by chunk_index. Used for window expansion.
func (s *Store) ListNeighborChunks(ctx context.Context, kbID, fileID int64, fromIndex, toIndex int) ([]*Chunk, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s
		WHERE knowledge_base_id = $1 AND file_id = $2
		AND chunk_index BETWEEN $3 AND $4
		ORDER BY chunk_index`, chunkColumns, s.t.chunks)
	return s.listChunks(ctx, query, kbID, fileID, fromIndex, toIndex)
}

func (s *Store) listChunks(ctx context.Context, query string, args ...any) ([]*Chunk, error) {
	var chunks []*Chunk
	err := s.client.Query(ctx, func(rows *sql.Rows) error {
		for rows.Next() {
			c, err := scanChunk(rows)
			if err != nil {
				return err
			}
			chunks = append(chunks, c)
		}
		return nil
	}, query, args...)
	if err != nil {
		return nil, errs.Wrapf(errs.KindDependency, err, "list chunks")
	}
	return chunks, nil
}

// escapeLike escapes LIKE wildcards in user-derived keywords.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
