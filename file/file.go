//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package file implements upload, dedup, and delete of user files backed
// by the relational store and an object store.
package file

import (
	"context"
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"strings"

	"trpc.group/trpc-go/trpc-rag-go/config"
	"trpc.group/trpc-go/trpc-rag-go/internal/errs"
	"trpc.group/trpc-go/trpc-rag-go/kb"
	"trpc.group/trpc-go/trpc-rag-go/knowledge/vectorstore"
	"trpc.group/trpc-go/trpc-rag-go/log"
	"trpc.group/trpc-go/trpc-rag-go/objectstore"
)

// DefaultMaxFileSize caps uploads at 100 MiB.
const DefaultMaxFileSize int64 = 100 * 1024 * 1024

var defaultAllowedTypes = []string{
	"pdf", "ppt", "pptx", "txt", "xlsx", "docx",
	"jpeg", "jpg", "png", "md", "html", "zip",
}

var contentTypes = map[string]string{
	"pdf":  "application/pdf",
	"txt":  "text/plain",
	"md":   "text/markdown",
	"html": "text/html",
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
	"zip":  "application/zip",
	"docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	"ppt":  "application/vnd.ms-powerpoint",
}

// Service manages the lifecycle of uploaded files: validation, content
// dedup, object storage, and the cascade on deletion.
type Service struct {
	store       *kb.Store
	objects     objectstore.Store
	vectors     vectorstore.VectorStore
	maxFileSize int64
	allowed     map[string]struct{}
	dedupPolicy string
}

// Option configures the file service.
type Option func(*Service)

// WithMaxFileSize overrides the upload size cap in bytes.
func WithMaxFileSize(n int64) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxFileSize = n
		}
	}
}

// WithAllowedTypes overrides the extension allow-list.
func WithAllowedTypes(types []string) Option {
	return func(s *Service) {
		if len(types) == 0 {
			return
		}
		s.allowed = make(map[string]struct{}, len(types))
		for _, t := range types {
			s.allowed[strings.ToLower(strings.TrimSpace(t))] = struct{}{}
		}
	}
}

// WithDedupPolicy sets the behavior on duplicate content, one of
// config.DedupUseExisting or config.DedupOverwrite.
func WithDedupPolicy(policy string) Option {
	return func(s *Service) {
		if policy != "" {
			s.dedupPolicy = policy
		}
	}
}

// WithVectorStore enables vector cleanup when chunks are removed.
func WithVectorStore(vs vectorstore.VectorStore) Option {
	return func(s *Service) { s.vectors = vs }
}

// NewService builds a file service over the relational and object stores.
func NewService(store *kb.Store, objects objectstore.Store, opts ...Option) *Service {
	s := &Service{
		store:       store,
		objects:     objects,
		maxFileSize: DefaultMaxFileSize,
		dedupPolicy: config.DedupUseExisting,
	}
	WithAllowedTypes(defaultAllowedTypes)(s)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upload validates and stores the file. Identical content already owned
// by the user is deduplicated per the configured policy: use_existing
// returns the existing record untouched, overwrite drops its chunks and
// vectors and replaces the stored bytes.
func (s *Service) Upload(ctx context.Context, userID int64, filename string, data []byte) (*kb.File, error) {
	if err := ValidateFilename(filename); err != nil {
		return nil, err
	}
	ext := Extension(filename)
	if err := ValidateContent(data, ext, s.allowed); err != nil {
		return nil, err
	}
	if int64(len(data)) > s.maxFileSize {
		return nil, errs.New(errs.KindValidation,
			"文件大小超过限制（最大 %d 字节）", s.maxFileSize)
	}

	sum := md5.Sum(data)
	hash := hex.EncodeToString(sum[:])

	existing, err := s.store.GetFileByHash(ctx, userID, hash)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if s.dedupPolicy != config.DedupOverwrite {
			return existing, nil
		}
		return s.overwrite(ctx, existing, filename, ext, data, hash)
	}

	key := objectstore.BuildKey(userID, hash, filename)
	if err := s.objects.Put(ctx, key, data, contentTypeOf(ext)); err != nil {
		return nil, errs.Wrapf(errs.KindDependency, err, "store file object")
	}
	f := &kb.File{
		UserID:      userID,
		Filename:    filename,
		FileType:    ext,
		FileSize:    int64(len(data)),
		StoragePath: key,
		ContentHash: hash,
		Status:      kb.FileStatusCompleted,
	}
	if err := s.store.CreateFile(ctx, f); err != nil {
		return nil, err
	}
	return f, nil
}

// overwrite reuses the existing record for identical content: its chunks
// and vectors are dropped and the object rewritten under the new name.
func (s *Service) overwrite(ctx context.Context, existing *kb.File, filename, ext string, data []byte, hash string) (*kb.File, error) {
	vectorIDs, err := s.removeFileChunks(ctx, existing.ID)
	if err != nil {
		return nil, err
	}
	s.deleteVectors(ctx, vectorIDs)

	key := objectstore.BuildKey(existing.UserID, hash, filename)
	if err := s.objects.Put(ctx, key, data, contentTypeOf(ext)); err != nil {
		return nil, errs.Wrapf(errs.KindDependency, err, "store file object")
	}
	if key != existing.StoragePath {
		if err := s.objects.Delete(ctx, existing.StoragePath); err != nil {
			log.Warnf("delete replaced object %s: %v", existing.StoragePath, err)
		}
	}
	if err := s.store.ReplaceFileContent(ctx, existing.ID, int64(len(data)), key, hash); err != nil {
		return nil, err
	}
	if err := s.store.UpdateFileStatus(ctx, existing.ID, kb.FileStatusCompleted); err != nil {
		return nil, err
	}
	return s.store.GetFile(ctx, existing.UserID, existing.ID)
}

// Get returns the user's file record.
func (s *Service) Get(ctx context.Context, userID, fileID int64) (*kb.File, error) {
	return s.store.GetFile(ctx, userID, fileID)
}

// List returns the user's files, newest first.
func (s *Service) List(ctx context.Context, userID int64) ([]*kb.File, error) {
	return s.store.ListFiles(ctx, userID)
}

// Content returns the stored bytes and the file record. Used by the
// ingestion pipeline and the download endpoint.
func (s *Service) Content(ctx context.Context, userID, fileID int64) ([]byte, *kb.File, error) {
	f, err := s.store.GetFile(ctx, userID, fileID)
	if err != nil {
		return nil, nil, err
	}
	data, _, err := s.objects.Get(ctx, f.StoragePath)
	if err != nil {
		return nil, nil, errs.Wrapf(errs.KindDependency, err, "read file object %s", f.StoragePath)
	}
	return data, f, nil
}

// Delete removes the file everywhere: chunks and their vectors, KB
// memberships with refreshed counters, the stored object (best effort),
// then the record itself.
func (s *Service) Delete(ctx context.Context, userID, fileID int64) error {
	f, err := s.store.GetFile(ctx, userID, fileID)
	if err != nil {
		return err
	}

	kbIDs, err := s.store.ListKBsForFile(ctx, fileID)
	if err != nil {
		return err
	}
	var vectorIDs []int64
	for _, kbID := range kbIDs {
		ids, err := s.detachFromKB(ctx, kbID, fileID)
		if err != nil {
			return err
		}
		vectorIDs = append(vectorIDs, ids...)
	}
	s.deleteVectors(ctx, vectorIDs)

	if err := s.objects.Delete(ctx, f.StoragePath); err != nil {
		log.Warnf("delete object %s: %v", f.StoragePath, err)
	}
	return s.store.DeleteFile(ctx, fileID)
}

// removeFileChunks drops the file's chunks in every KB with counters kept
// consistent, returning the vector ids for cleanup.
func (s *Service) removeFileChunks(ctx context.Context, fileID int64) ([]int64, error) {
	kbIDs, err := s.store.ListKBsForFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	var vectorIDs []int64
	for _, kbID := range kbIDs {
		err := s.store.Client().Transaction(ctx, func(tx *sql.Tx) error {
			ids, err := s.store.DeleteChunksTx(ctx, tx, kbID, fileID)
			if err != nil {
				return err
			}
			vectorIDs = append(vectorIDs, ids...)
			return s.store.AddKBChunkCountTx(ctx, tx, kbID, -len(ids))
		})
		if err != nil {
			return nil, errs.Wrapf(errs.KindDependency, err, "remove chunks in kb %d", kbID)
		}
	}
	return vectorIDs, nil
}

// detachFromKB removes chunks and the membership link of the file in one
// KB, keeping both counters consistent, and returns the vector ids.
func (s *Service) detachFromKB(ctx context.Context, kbID, fileID int64) ([]int64, error) {
	var vectorIDs []int64
	err := s.store.Client().Transaction(ctx, func(tx *sql.Tx) error {
		ids, err := s.store.DeleteChunksTx(ctx, tx, kbID, fileID)
		if err != nil {
			return err
		}
		vectorIDs = ids
		if err := s.store.AddKBChunkCountTx(ctx, tx, kbID, -len(ids)); err != nil {
			return err
		}
		if err := s.store.UnlinkFileTx(ctx, tx, kbID, fileID); err != nil {
			return err
		}
		return s.store.RefreshKBFileCountTx(ctx, tx, kbID)
	})
	if err != nil {
		return nil, errs.Wrapf(errs.KindDependency, err, "detach file %d from kb %d", fileID, kbID)
	}
	return vectorIDs, nil
}

// deleteVectors removes the chunks' points from the vector store. Failures
// only log: the relational rows are already gone and orphan points do not
// surface in results.
func (s *Service) deleteVectors(ctx context.Context, vectorIDs []int64) {
	if s.vectors == nil || len(vectorIDs) == 0 {
		return
	}
	ids := make([]uint64, len(vectorIDs))
	for i, id := range vectorIDs {
		ids[i] = uint64(id)
	}
	if err := s.vectors.DeleteByIDs(ctx, ids); err != nil {
		log.Warnf("delete %d vectors: %v", len(ids), err)
	}
}

func contentTypeOf(ext string) string {
	if ct, ok := contentTypes[strings.ToLower(ext)]; ok {
		return ct
	}
	return "application/octet-stream"
}
