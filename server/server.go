//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package server is the HTTP surface of the RAG service: JSON routes over
// gorilla/mux, SSE streaming for chat and ingestion, redis-backed caching
// on list endpoints and per-user rate limits enforced before any work.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"trpc.group/trpc-go/trpc-rag-go/cache"
	"trpc.group/trpc-go/trpc-rag-go/chat"
	"trpc.group/trpc-go/trpc-rag-go/internal/errs"
	"trpc.group/trpc-go/trpc-rag-go/kb"
	"trpc.group/trpc-go/trpc-rag-go/kb/ingest"
	"trpc.group/trpc-go/trpc-rag-go/log"
	"trpc.group/trpc-go/trpc-rag-go/ratelimit"
	"trpc.group/trpc-go/trpc-rag-go/retrieval"
	"trpc.group/trpc-go/trpc-rag-go/task"
)

// DefaultListenAddr is used when no address is configured.
const DefaultListenAddr = ":8000"

// DefaultMaxUploadBytes bounds multipart upload bodies.
const DefaultMaxUploadBytes = 100 << 20

// userIDHeader carries the authenticated user id; auth itself is external.
const userIDHeader = "X-User-ID"

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// FileService is the slice of the file service the handlers use.
type FileService interface {
	Upload(ctx context.Context, userID int64, filename string, data []byte) (*kb.File, error)
	List(ctx context.Context, userID int64) ([]*kb.File, error)
	Delete(ctx context.Context, userID, fileID int64) error
}

// Ingestor covers the knowledge base ingestion operations served directly,
// without going through the task queue.
type Ingestor interface {
	AddFilesStream(ctx context.Context, userID, kbID int64, fileIDs []int64) (<-chan ingest.Event, error)
	RemoveFile(ctx context.Context, userID, kbID, fileID int64) error
	RemoveKnowledgeBase(ctx context.Context, userID, kbID int64) error
}

// TaskRunner submits queued jobs and reads their status.
type TaskRunner interface {
	Submit(ctx context.Context, job task.Job) (*task.Submission, error)
	Status(ctx context.Context, taskID string) (*task.Meta, error)
}

// ChatService runs conversation turns.
type ChatService interface {
	Chat(ctx context.Context, userID int64, message string, convID, kbID *int64) (*chat.Response, error)
	ChatStream(ctx context.Context, userID int64, message string, convID, kbID *int64) (<-chan chat.Event, error)
}

// Retriever serves the retrieval-only search endpoint.
type Retriever interface {
	Retrieve(ctx context.Context, query string, scope retrieval.Scope, topK int) (*retrieval.Result, error)
}

// Dependencies bundles the services the server fronts.
type Dependencies struct {
	Store  *kb.Store
	Files  FileService
	Ingest Ingestor
	Tasks  TaskRunner
	Chat   ChatService
	Search Retriever
}

// Server is the HTTP surface.
type Server struct {
	deps    Dependencies
	limiter *ratelimit.Limiter
	cache   *cache.Cache

	router    *mux.Router
	addr      string
	maxUpload int64
	httpSrv   *http.Server
}

// Option configures the server.
type Option func(*Server)

// WithListenAddr sets the listen address.
func WithListenAddr(addr string) Option {
	return func(s *Server) {
		if addr != "" {
			s.addr = addr
		}
	}
}

// WithRateLimiter enables per-user quotas. Without it every request is
// allowed.
func WithRateLimiter(l *ratelimit.Limiter) Option {
	return func(s *Server) { s.limiter = l }
}

// WithCache enables read caching on list and detail endpoints.
func WithCache(c *cache.Cache) Option {
	return func(s *Server) { s.cache = c }
}

// WithMaxUploadBytes bounds the multipart upload body size.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUpload = n
		}
	}
}

// New builds the server and registers its routes.
func New(deps Dependencies, opts ...Option) *Server {
	s := &Server{
		deps:      deps,
		router:    mux.NewRouter(),
		addr:      DefaultListenAddr,
		maxUpload: DefaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(s)
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Content-Length", "Content-Type"},
	})
	s.router.Use(c.Handler)
	s.registerRoutes()
	return s
}

// Handler exposes the router, e.g. for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Infof("http server listening on %s", s.addr)
	return s.httpSrv.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.identity)

	api.HandleFunc("/files", s.handleUploadFile).Methods(http.MethodPost)
	api.HandleFunc("/files", s.handleListFiles).Methods(http.MethodGet)
	api.HandleFunc("/files/{fileID}", s.handleDeleteFile).Methods(http.MethodDelete)

	api.HandleFunc("/knowledge-bases", s.handleCreateKB).Methods(http.MethodPost)
	api.HandleFunc("/knowledge-bases", s.handleListKBs).Methods(http.MethodGet)
	api.HandleFunc("/knowledge-bases/{kbID}", s.handleGetKB).Methods(http.MethodGet)
	api.HandleFunc("/knowledge-bases/{kbID}", s.handleUpdateKB).Methods(http.MethodPut)
	api.HandleFunc("/knowledge-bases/{kbID}", s.handleDeleteKB).Methods(http.MethodDelete)
	api.HandleFunc("/knowledge-bases/{kbID}/files", s.handleAddKBFiles).Methods(http.MethodPost)
	api.HandleFunc("/knowledge-bases/{kbID}/files/stream", s.handleAddKBFilesStream).Methods(http.MethodPost)
	api.HandleFunc("/knowledge-bases/{kbID}/files", s.handleListKBFiles).Methods(http.MethodGet)
	api.HandleFunc("/knowledge-bases/{kbID}/files/{fileID}", s.handleRemoveKBFile).Methods(http.MethodDelete)
	api.HandleFunc("/knowledge-bases/{kbID}/files/{fileID}/reindex", s.handleReindexFile).Methods(http.MethodPost)
	api.HandleFunc("/knowledge-bases/{kbID}/files/{fileID}/chunks", s.handleListChunks).Methods(http.MethodGet)

	api.HandleFunc("/chat", s.handleChat).Methods(http.MethodPost)
	api.HandleFunc("/chat/stream", s.handleChatStream).Methods(http.MethodPost)

	api.HandleFunc("/conversations", s.handleListConversations).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{convID}", s.handleGetConversation).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{convID}", s.handleDeleteConversation).Methods(http.MethodDelete)

	api.HandleFunc("/tasks/{taskID}", s.handleTaskStatus).Methods(http.MethodGet)
	api.HandleFunc("/usage", s.handleUsage).Methods(http.MethodGet)
	api.HandleFunc("/search", s.handleSearch).Methods(http.MethodPost)
}

type contextKey string

const userIDKey contextKey = "user_id"

// identity resolves the user from the X-User-ID header. Authentication is
// handled upstream; an absent or malformed header is a client error.
func (s *Server) identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(userIDHeader)
		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || userID <= 0 {
			s.writeErrorStatus(w, http.StatusUnauthorized, "缺少或非法的 X-User-ID")
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestUserID(r *http.Request) int64 {
	userID, _ := r.Context().Value(userIDKey).(int64)
	return userID
}

func pathID(r *http.Request, name string) (int64, error) {
	raw := mux.Vars(r)[name]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errs.New(errs.KindValidation, "非法的路径参数 %s", name)
	}
	return id, nil
}

func pathString(r *http.Request, name string) string {
	return mux.Vars(r)[name]
}

// pagination reads 1-based page/page_size query params.
func pagination(r *http.Request) (page, size int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	size, _ = strconv.Atoi(r.URL.Query().Get("page_size"))
	if size < 1 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return page, size
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps error kinds onto HTTP statuses. Internal failures get a
// generic body with a request id; details stay in the logs.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch errs.KindOf(err) {
	case errs.KindValidation:
		s.writeErrorStatus(w, http.StatusBadRequest, err.Error())
	case errs.KindNotFound:
		s.writeErrorStatus(w, http.StatusNotFound, "资源不存在")
	case errs.KindRateLimit:
		s.writeErrorStatus(w, http.StatusTooManyRequests, err.Error())
	default:
		requestID := uuid.NewString()
		log.Errorf("request %s failed: %v", requestID, err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":      "服务器内部错误",
			"request_id": requestID,
		})
	}
}

func (s *Server) writeErrorStatus(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// Rate limit wrappers, nil-safe so quotas stay optional.

func (s *Server) allowUpload(ctx context.Context, userID int64) error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.AllowUpload(ctx, userID)
}

func (s *Server) allowChat(ctx context.Context, userID int64) error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.AllowChat(ctx, userID)
}

func (s *Server) allowSearch(ctx context.Context, userID int64) error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.AllowSearch(ctx, userID)
}

// Cache wrappers, nil-safe so caching stays optional.

func (s *Server) cacheGet(ctx context.Context, key string, dest any) bool {
	if s.cache == nil {
		return false
	}
	return s.cache.GetJSON(ctx, key, dest)
}

func (s *Server) cacheSet(ctx context.Context, key string, v any, ttl time.Duration) {
	if s.cache == nil {
		return
	}
	s.cache.SetJSON(ctx, key, v, ttl)
}

func (s *Server) cacheDelete(ctx context.Context, keys ...string) {
	if s.cache == nil {
		return
	}
	s.cache.Delete(ctx, keys...)
}

func (s *Server) cacheSweep(ctx context.Context, prefix string) {
	if s.cache == nil {
		return
	}
	s.cache.DeleteByPrefix(ctx, prefix)
}

// invalidateFiles drops the caches a file mutation can stale: file lists,
// stats, and KB views whose counters reference the file.
func (s *Server) invalidateFiles(ctx context.Context, userID int64) {
	s.cacheDelete(ctx, cache.FileListKey(userID), cache.StatsKey(userID))
	s.cacheSweep(ctx, fmt.Sprintf("kb:detail:user:%d", userID))
	s.cacheDelete(ctx, cache.KBListKey(userID))
}

func (s *Server) invalidateKB(ctx context.Context, userID, kbID int64) {
	s.cacheDelete(ctx, cache.KBListKey(userID), cache.KBDetailKey(userID, kbID), cache.StatsKey(userID))
}

func (s *Server) invalidateConversations(ctx context.Context, userID int64, convID int64) {
	s.cacheSweep(ctx, fmt.Sprintf("conv:list:user:%d", userID))
	if convID > 0 {
		s.cacheDelete(ctx, cache.ConvDetailKey(userID, convID))
	}
}
