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
	"fmt"
	"net/http"

	"trpc.group/trpc-go/trpc-rag-go/cache"
	"trpc.group/trpc-go/trpc-rag-go/internal/errs"
	"trpc.group/trpc-go/trpc-rag-go/kb"
	"trpc.group/trpc-go/trpc-rag-go/retrieval"
)

type chatRequest struct {
	Message         string `json:"message"`
	ConversationID  *int64 `json:"conversation_id,omitempty"`
	KnowledgeBaseID *int64 `json:"knowledge_base_id,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	if err := s.allowChat(r.Context(), userID); err != nil {
		s.writeError(w, err)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errs.New(errs.KindValidation, "非法的请求体: %v", err))
		return
	}

	rsp, err := s.deps.Chat.Chat(r.Context(), userID, req.Message, req.ConversationID, req.KnowledgeBaseID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.invalidateConversations(r.Context(), userID, rsp.ConversationID)
	s.writeJSON(w, http.StatusOK, rsp)
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	if err := s.allowChat(r.Context(), userID); err != nil {
		s.writeError(w, err)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errs.New(errs.KindValidation, "非法的请求体: %v", err))
		return
	}

	events, err := s.deps.Chat.ChatStream(r.Context(), userID, req.Message, req.ConversationID, req.KnowledgeBaseID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	sse, ok := newSSEWriter(w)
	if !ok {
		return
	}
	var convID int64
	for ev := range events {
		if ev.ConversationID > 0 {
			convID = ev.ConversationID
		}
		sse.Send(ev)
	}
	sse.Done()
	s.invalidateConversations(r.Context(), userID, convID)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	page, size := pagination(r)
	key := fmt.Sprintf("%s:page:%d:%d", cache.ConvListKey(userID), page, size)

	var cached []*kb.Conversation
	if s.cacheGet(r.Context(), key, &cached) {
		s.writeJSON(w, http.StatusOK, cached)
		return
	}

	convs, err := s.deps.Store.ListConversations(r.Context(), userID, size, (page-1)*size)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if convs == nil {
		convs = []*kb.Conversation{}
	}
	s.cacheSet(r.Context(), key, convs, 0)
	s.writeJSON(w, http.StatusOK, convs)
}

// conversationDetail bundles the thread with its messages.
type conversationDetail struct {
	Conversation *kb.Conversation `json:"conversation"`
	Messages     []*kb.Message    `json:"messages"`
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	convID, err := pathID(r, "convID")
	if err != nil {
		s.writeError(w, err)
		return
	}
	key := cache.ConvDetailKey(userID, convID)

	var cached conversationDetail
	if s.cacheGet(r.Context(), key, &cached) {
		s.writeJSON(w, http.StatusOK, &cached)
		return
	}

	conv, err := s.deps.Store.GetConversation(r.Context(), userID, convID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	messages, err := s.deps.Store.ListMessages(r.Context(), convID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if messages == nil {
		messages = []*kb.Message{}
	}

	detail := conversationDetail{Conversation: conv, Messages: messages}
	ttl := cache.DefaultDetailTTL
	if s.cache != nil {
		ttl = s.cache.DetailTTL()
	}
	s.cacheSet(r.Context(), key, detail, ttl)
	s.writeJSON(w, http.StatusOK, &detail)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	convID, err := pathID(r, "convID")
	if err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.deps.Store.DeleteConversation(r.Context(), userID, convID); err != nil {
		s.writeError(w, err)
		return
	}

	s.invalidateConversations(r.Context(), userID, convID)
	s.writeJSON(w, http.StatusOK, map[string]string{"message": "对话已删除"})
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	taskID := pathString(r, "taskID")
	if taskID == "" {
		s.writeError(w, errs.New(errs.KindValidation, "非法的任务 id"))
		return
	}

	meta, err := s.deps.Tasks.Status(r.Context(), taskID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	key := cache.UsageKey(userID)

	var cached map[string]any
	if s.cacheGet(r.Context(), key, &cached) {
		s.writeJSON(w, http.StatusOK, cached)
		return
	}

	if s.limiter == nil {
		s.writeJSON(w, http.StatusOK, map[string]string{"message": "未启用限流"})
		return
	}
	usage := s.limiter.Usage(r.Context(), userID)
	s.cacheSet(r.Context(), key, usage, 0)
	s.writeJSON(w, http.StatusOK, usage)
}

type searchRequest struct {
	Query           string `json:"query"`
	KnowledgeBaseID *int64 `json:"knowledge_base_id,omitempty"`
	TopK            int    `json:"top_k,omitempty"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	if err := s.allowSearch(r.Context(), userID); err != nil {
		s.writeError(w, err)
		return
	}

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errs.New(errs.KindValidation, "非法的请求体: %v", err))
		return
	}

	result, err := s.deps.Search.Retrieve(r.Context(), req.Query, retrieval.Scope{
		UserID:          userID,
		KnowledgeBaseID: req.KnowledgeBaseID,
	}, req.TopK)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}
