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
	"io"
	"net/http"

	"trpc.group/trpc-go/trpc-rag-go/cache"
	"trpc.group/trpc-go/trpc-rag-go/internal/errs"
	"trpc.group/trpc-go/trpc-rag-go/kb"
)

func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	if err := s.allowUpload(r.Context(), userID); err != nil {
		s.writeError(w, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		s.writeError(w, errs.New(errs.KindValidation, "解析上传表单失败: %v", err))
		return
	}
	part, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, errs.New(errs.KindValidation, "缺少 file 字段"))
		return
	}
	defer part.Close()

	data, err := io.ReadAll(part)
	if err != nil {
		s.writeError(w, errs.Wrapf(errs.KindValidation, err, "读取上传内容"))
		return
	}

	file, err := s.deps.Files.Upload(r.Context(), userID, header.Filename, data)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.invalidateFiles(r.Context(), userID)
	s.writeJSON(w, http.StatusCreated, file)
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	key := cache.FileListKey(userID)

	var cached []*kb.File
	if s.cacheGet(r.Context(), key, &cached) {
		s.writeJSON(w, http.StatusOK, cached)
		return
	}

	files, err := s.deps.Files.List(r.Context(), userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if files == nil {
		files = []*kb.File{}
	}
	s.cacheSet(r.Context(), key, files, 0)
	s.writeJSON(w, http.StatusOK, files)
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	fileID, err := pathID(r, "fileID")
	if err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.deps.Files.Delete(r.Context(), userID, fileID); err != nil {
		s.writeError(w, err)
		return
	}

	s.invalidateFiles(r.Context(), userID)
	s.writeJSON(w, http.StatusOK, map[string]string{"message": "文件已删除"})
}
