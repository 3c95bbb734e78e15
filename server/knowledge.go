//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"trpc.group/trpc-go/trpc-rag-go/cache"
	"trpc.group/trpc-go/trpc-rag-go/internal/errs"
	"trpc.group/trpc-go/trpc-rag-go/kb"
	"trpc.group/trpc-go/trpc-rag-go/task"
)

// knowledgeBaseRequest carries create/update fields. Pointer fields are
// applied only when present so updates stay partial.
type knowledgeBaseRequest struct {
	Name                *string  `json:"name,omitempty"`
	Description         *string  `json:"description,omitempty"`
	ChunkSize           *int     `json:"chunk_size,omitempty"`
	ChunkOverlap        *int     `json:"chunk_overlap,omitempty"`
	ChunkMaxExpandRatio *float64 `json:"chunk_max_expand_ratio,omitempty"`
	EnableHybrid        *bool    `json:"enable_hybrid,omitempty"`
	EnableRerank        *bool    `json:"enable_rerank,omitempty"`
}

func (req *knowledgeBaseRequest) validate() error {
	if req.ChunkSize != nil && *req.ChunkSize <= 0 {
		return errs.New(errs.KindValidation, "chunk_size 必须为正数")
	}
	if req.ChunkOverlap != nil && *req.ChunkOverlap < 0 {
		return errs.New(errs.KindValidation, "chunk_overlap 不得为负数")
	}
	if req.ChunkSize != nil && req.ChunkOverlap != nil && *req.ChunkOverlap >= *req.ChunkSize {
		return errs.New(errs.KindValidation, "chunk_overlap 必须小于 chunk_size")
	}
	if req.ChunkMaxExpandRatio != nil && *req.ChunkMaxExpandRatio < 1 {
		return errs.New(errs.KindValidation, "chunk_max_expand_ratio 不得小于 1")
	}
	return nil
}

func (req *knowledgeBaseRequest) apply(base *kb.KnowledgeBase) {
	if req.Name != nil {
		base.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		base.Description = *req.Description
	}
	if req.ChunkSize != nil {
		base.ChunkSize = req.ChunkSize
	}
	if req.ChunkOverlap != nil {
		base.ChunkOverlap = req.ChunkOverlap
	}
	if req.ChunkMaxExpandRatio != nil {
		base.ChunkMaxExpandRatio = req.ChunkMaxExpandRatio
	}
	if req.EnableHybrid != nil {
		base.EnableHybrid = *req.EnableHybrid
	}
	if req.EnableRerank != nil {
		base.EnableRerank = *req.EnableRerank
	}
}

func (s *Server) handleCreateKB(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)

	var req knowledgeBaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errs.New(errs.KindValidation, "非法的请求体: %v", err))
		return
	}
	if req.Name == nil || strings.TrimSpace(*req.Name) == "" {
		s.writeError(w, errs.New(errs.KindValidation, "知识库名称为空"))
		return
	}
	if err := req.validate(); err != nil {
		s.writeError(w, err)
		return
	}

	base := &kb.KnowledgeBase{UserID: userID}
	req.apply(base)
	if err := s.deps.Store.CreateKnowledgeBase(r.Context(), base); err != nil {
		s.writeError(w, err)
		return
	}

	s.invalidateKB(r.Context(), userID, base.ID)
	s.writeJSON(w, http.StatusCreated, base)
}

func (s *Server) handleListKBs(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	key := cache.KBListKey(userID)

	var cached []*kb.KnowledgeBase
	if s.cacheGet(r.Context(), key, &cached) {
		s.writeJSON(w, http.StatusOK, cached)
		return
	}

	bases, err := s.deps.Store.ListKnowledgeBases(r.Context(), userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if bases == nil {
		bases = []*kb.KnowledgeBase{}
	}
	s.cacheSet(r.Context(), key, bases, 0)
	s.writeJSON(w, http.StatusOK, bases)
}

func (s *Server) handleGetKB(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	kbID, err := pathID(r, "kbID")
	if err != nil {
		s.writeError(w, err)
		return
	}
	key := cache.KBDetailKey(userID, kbID)

	var cached kb.KnowledgeBase
	if s.cacheGet(r.Context(), key, &cached) {
		s.writeJSON(w, http.StatusOK, &cached)
		return
	}

	base, err := s.deps.Store.GetKnowledgeBase(r.Context(), userID, kbID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.cacheSet(r.Context(), key, base, 0)
	s.writeJSON(w, http.StatusOK, base)
}

func (s *Server) handleUpdateKB(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	kbID, err := pathID(r, "kbID")
	if err != nil {
		s.writeError(w, err)
		return
	}

	var req knowledgeBaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errs.New(errs.KindValidation, "非法的请求体: %v", err))
		return
	}
	if err := req.validate(); err != nil {
		s.writeError(w, err)
		return
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		s.writeError(w, errs.New(errs.KindValidation, "知识库名称为空"))
		return
	}

	base, err := s.deps.Store.GetKnowledgeBase(r.Context(), userID, kbID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	req.apply(base)
	if err := s.deps.Store.UpdateKnowledgeBase(r.Context(), base); err != nil {
		s.writeError(w, err)
		return
	}

	s.invalidateKB(r.Context(), userID, kbID)
	s.writeJSON(w, http.StatusOK, base)
}

func (s *Server) handleDeleteKB(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	kbID, err := pathID(r, "kbID")
	if err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.deps.Ingest.RemoveKnowledgeBase(r.Context(), userID, kbID); err != nil {
		s.writeError(w, err)
		return
	}

	s.invalidateKB(r.Context(), userID, kbID)
	s.invalidateFiles(r.Context(), userID)
	s.writeJSON(w, http.StatusOK, map[string]string{"message": "知识库已删除"})
}

type addFilesRequest struct {
	FileIDs []int64 `json:"file_ids"`
}

func (s *Server) handleAddKBFiles(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	kbID, err := pathID(r, "kbID")
	if err != nil {
		s.writeError(w, err)
		return
	}

	var req addFilesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errs.New(errs.KindValidation, "非法的请求体: %v", err))
		return
	}
	if len(req.FileIDs) == 0 {
		s.writeError(w, errs.New(errs.KindValidation, "file_ids 为空"))
		return
	}

	sub, err := s.deps.Tasks.Submit(r.Context(), task.Job{
		Type:            task.JobAddFiles,
		UserID:          userID,
		KnowledgeBaseID: kbID,
		FileIDs:         req.FileIDs,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.invalidateKB(r.Context(), userID, kbID)
	s.writeJSON(w, http.StatusAccepted, sub)
}

func (s *Server) handleAddKBFilesStream(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	kbID, err := pathID(r, "kbID")
	if err != nil {
		s.writeError(w, err)
		return
	}

	var req addFilesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errs.New(errs.KindValidation, "非法的请求体: %v", err))
		return
	}
	if len(req.FileIDs) == 0 {
		s.writeError(w, errs.New(errs.KindValidation, "file_ids 为空"))
		return
	}

	events, err := s.deps.Ingest.AddFilesStream(r.Context(), userID, kbID, req.FileIDs)
	if err != nil {
		s.writeError(w, err)
		return
	}

	sse, ok := newSSEWriter(w)
	if !ok {
		return
	}
	for ev := range events {
		sse.Send(ev)
	}
	sse.Done()
	s.invalidateKB(r.Context(), userID, kbID)
	s.invalidateFiles(r.Context(), userID)
}

func (s *Server) handleRemoveKBFile(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	kbID, err := pathID(r, "kbID")
	if err != nil {
		s.writeError(w, err)
		return
	}
	fileID, err := pathID(r, "fileID")
	if err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.deps.Ingest.RemoveFile(r.Context(), userID, kbID, fileID); err != nil {
		s.writeError(w, err)
		return
	}

	s.invalidateKB(r.Context(), userID, kbID)
	s.invalidateFiles(r.Context(), userID)
	s.writeJSON(w, http.StatusOK, map[string]string{"message": "文件已从知识库移除"})
}

func (s *Server) handleReindexFile(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	kbID, err := pathID(r, "kbID")
	if err != nil {
		s.writeError(w, err)
		return
	}
	fileID, err := pathID(r, "fileID")
	if err != nil {
		s.writeError(w, err)
		return
	}

	sub, err := s.deps.Tasks.Submit(r.Context(), task.Job{
		Type:            task.JobReindexFile,
		UserID:          userID,
		KnowledgeBaseID: kbID,
		FileIDs:         []int64{fileID},
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.invalidateKB(r.Context(), userID, kbID)
	s.writeJSON(w, http.StatusAccepted, sub)
}

// kbFileView is a file row augmented with the chunk count this KB holds
// for it, which can differ from the file's global counter.
type kbFileView struct {
	*kb.File
	KBChunkCount int `json:"kb_chunk_count"`
}

func (s *Server) handleListKBFiles(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	kbID, err := pathID(r, "kbID")
	if err != nil {
		s.writeError(w, err)
		return
	}

	if _, err := s.deps.Store.GetKnowledgeBase(r.Context(), userID, kbID); err != nil {
		s.writeError(w, err)
		return
	}
	files, counts, err := s.deps.Store.ListKBFiles(r.Context(), kbID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	views := make([]kbFileView, 0, len(files))
	for _, f := range files {
		views = append(views, kbFileView{File: f, KBChunkCount: counts[f.ID]})
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleListChunks(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	kbID, err := pathID(r, "kbID")
	if err != nil {
		s.writeError(w, err)
		return
	}
	fileID, err := pathID(r, "fileID")
	if err != nil {
		s.writeError(w, err)
		return
	}

	if _, err := s.deps.Store.GetKnowledgeBase(r.Context(), userID, kbID); err != nil {
		s.writeError(w, err)
		return
	}
	chunks, err := s.deps.Store.ListChunksByFileKB(r.Context(), kbID, fileID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if chunks == nil {
		chunks = []*kb.Chunk{}
	}
	s.writeJSON(w, http.StatusOK, chunks)
}
