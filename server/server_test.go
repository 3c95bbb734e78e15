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
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-rag-go/cache"
	"trpc.group/trpc-go/trpc-rag-go/chat"
	"trpc.group/trpc-go/trpc-rag-go/kb"
	"trpc.group/trpc-go/trpc-rag-go/kb/ingest"
	"trpc.group/trpc-go/trpc-rag-go/ratelimit"
	"trpc.group/trpc-go/trpc-rag-go/retrieval"
	storage "trpc.group/trpc-go/trpc-rag-go/storage/postgres"
	"trpc.group/trpc-go/trpc-rag-go/task"
)

type fakeFiles struct {
	uploads int
	lists   int
	deletes int
	file    *kb.File
}

func (f *fakeFiles) Upload(_ context.Context, userID int64, filename string, _ []byte) (*kb.File, error) {
	f.uploads++
	return &kb.File{ID: 5, UserID: userID, Filename: filename, Status: kb.FileStatusCompleted}, nil
}

func (f *fakeFiles) List(context.Context, int64) ([]*kb.File, error) {
	f.lists++
	return []*kb.File{f.file}, nil
}

func (f *fakeFiles) Delete(context.Context, int64, int64) error {
	f.deletes++
	return nil
}

type fakeIngest struct {
	removed   int
	kbRemoved int
	events    []ingest.Event
}

func (f *fakeIngest) AddFilesStream(context.Context, int64, int64, []int64) (<-chan ingest.Event, error) {
	ch := make(chan ingest.Event, len(f.events))
	for _, ev := range f.events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (f *fakeIngest) RemoveFile(context.Context, int64, int64, int64) error {
	f.removed++
	return nil
}

func (f *fakeIngest) RemoveKnowledgeBase(context.Context, int64, int64) error {
	f.kbRemoved++
	return nil
}

type fakeTasks struct {
	jobs []task.Job
	meta *task.Meta
}

func (f *fakeTasks) Submit(_ context.Context, job task.Job) (*task.Submission, error) {
	f.jobs = append(f.jobs, job)
	return &task.Submission{TaskID: "task-1"}, nil
}

func (f *fakeTasks) Status(context.Context, string) (*task.Meta, error) {
	if f.meta != nil {
		return f.meta, nil
	}
	return &task.Meta{Status: task.StatePending}, nil
}

type fakeChat struct {
	rsp    *chat.Response
	events []chat.Event
}

func (f *fakeChat) Chat(context.Context, int64, string, *int64, *int64) (*chat.Response, error) {
	return f.rsp, nil
}

func (f *fakeChat) ChatStream(context.Context, int64, string, *int64, *int64) (<-chan chat.Event, error) {
	ch := make(chan chat.Event, len(f.events))
	for _, ev := range f.events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

type fakeSearch struct {
	result *retrieval.Result
	calls  int
}

func (f *fakeSearch) Retrieve(context.Context, string, retrieval.Scope, int) (*retrieval.Result, error) {
	f.calls++
	return f.result, nil
}

type testEnv struct {
	server *Server
	mock   sqlmock.Sqlmock
	files  *fakeFiles
	ingest *fakeIngest
	tasks  *fakeTasks
	search *fakeSearch
}

func newTestServer(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	env := &testEnv{
		mock:   mock,
		files:  &fakeFiles{file: &kb.File{ID: 5, Filename: "doc.pdf"}},
		ingest: &fakeIngest{},
		tasks:  &fakeTasks{},
		search: &fakeSearch{result: &retrieval.Result{Context: "ctx", Confidence: 0.8}},
	}
	env.server = New(Dependencies{
		Store:  kb.NewStore(storage.NewClient(db)),
		Files:  env.files,
		Ingest: env.ingest,
		Tasks:  env.tasks,
		Chat:   &fakeChat{rsp: &chat.Response{ConversationID: 30, Message: "回答"}},
		Search: env.search,
	}, opts...)
	return env
}

func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return cache.New(client)
}

func doRequest(env *testEnv, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("X-User-ID", "7")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)
	return w
}

func TestIdentityRequired(t *testing.T) {
	env := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/files", nil)
	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUploadFile(t *testing.T) {
	env := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "报告.pdf")
	require.NoError(t, err)
	_, err = part.Write([]byte("%PDF-1.4 content"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/files", &buf)
	req.Header.Set("X-User-ID", "7")
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, 1, env.files.uploads)
	var file kb.File
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &file))
	assert.Equal(t, "报告.pdf", file.Filename)
}

func TestUploadRateLimited(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	limiter := ratelimit.New(client, ratelimit.WithUploadPerDay(1))
	env := newTestServer(t, WithRateLimiter(limiter))

	upload := func() int {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		part, _ := mw.CreateFormFile("file", "a.txt")
		_, _ = part.Write([]byte("hello"))
		_ = mw.Close()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/files", &buf)
		req.Header.Set("X-User-ID", "7")
		req.Header.Set("Content-Type", mw.FormDataContentType())
		w := httptest.NewRecorder()
		env.server.Handler().ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusCreated, upload())
	assert.Equal(t, http.StatusTooManyRequests, upload())
	assert.Equal(t, 1, env.files.uploads, "limited request never reaches the service")
}

func TestListFilesCached(t *testing.T) {
	env := newTestServer(t, WithCache(newTestCache(t)))

	w := doRequest(env, http.MethodGet, "/api/v1/files", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = doRequest(env, http.MethodGet, "/api/v1/files", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, env.files.lists, "second read served from cache")
	assert.Contains(t, w.Body.String(), "doc.pdf")
}

func TestCreateKBRejectsEmptyName(t *testing.T) {
	env := newTestServer(t)
	w := doRequest(env, http.MethodPost, "/api/v1/knowledge-bases", []byte(`{"name":"  "}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "知识库名称为空")
}

func TestCreateKBRejectsBadChunking(t *testing.T) {
	env := newTestServer(t)
	w := doRequest(env, http.MethodPost, "/api/v1/knowledge-bases",
		[]byte(`{"name":"文档库","chunk_size":100,"chunk_overlap":100}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "chunk_overlap")
}

func TestGetKBNotFoundIsUniform(t *testing.T) {
	env := newTestServer(t)
	env.mock.ExpectQuery(`SELECT .* FROM knowledge_bases WHERE`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	w := doRequest(env, http.MethodGet, "/api/v1/knowledge-bases/99", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "资源不存在")
}

func TestDeleteKBUsesCascade(t *testing.T) {
	env := newTestServer(t)
	w := doRequest(env, http.MethodDelete, "/api/v1/knowledge-bases/2", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, env.ingest.kbRemoved)
}

func TestAddKBFilesSubmitsTask(t *testing.T) {
	env := newTestServer(t)
	w := doRequest(env, http.MethodPost, "/api/v1/knowledge-bases/2/files",
		[]byte(`{"file_ids":[5,6]}`))
	assert.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, env.tasks.jobs, 1)
	assert.Equal(t, task.JobAddFiles, env.tasks.jobs[0].Type)
	assert.Equal(t, []int64{5, 6}, env.tasks.jobs[0].FileIDs)
	assert.Contains(t, w.Body.String(), "task-1")
}

func TestAddKBFilesRejectsEmpty(t *testing.T) {
	env := newTestServer(t)
	w := doRequest(env, http.MethodPost, "/api/v1/knowledge-bases/2/files", []byte(`{"file_ids":[]}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIngestStreamSSE(t *testing.T) {
	env := newTestServer(t)
	env.ingest.events = []ingest.Event{
		{Type: ingest.EventFileStart, FileID: 5, Filename: "doc.pdf"},
		{Type: ingest.EventFileDone, FileID: 5, Filename: "doc.pdf", Chunks: 3},
		{Type: ingest.EventDone, Stats: &ingest.Stats{FilesAdded: 1, ChunksAdded: 3}},
	}

	w := doRequest(env, http.MethodPost, "/api/v1/knowledge-bases/2/files/stream",
		[]byte(`{"file_ids":[5]}`))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	body := w.Body.String()
	frames := strings.Split(strings.TrimSpace(body), "\n\n")
	require.Len(t, frames, 4)
	assert.Contains(t, frames[0], `"type":"file_start"`)
	assert.Contains(t, frames[2], `"files_added":1`)
	assert.Equal(t, "data: [DONE]", frames[3])
}

func TestChatEndpoint(t *testing.T) {
	env := newTestServer(t)
	w := doRequest(env, http.MethodPost, "/api/v1/chat", []byte(`{"message":"你好"}`))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"conversation_id":30`)
}

func TestChatStreamSSE(t *testing.T) {
	env := newTestServer(t)
	conf := 0.9
	env.server.deps.Chat = &fakeChat{events: []chat.Event{
		{Type: chat.EventToken, Content: "你"},
		{Type: chat.EventToken, Content: "好"},
		{Type: chat.EventDone, ConversationID: 30, Confidence: &conf},
	}}

	w := doRequest(env, http.MethodPost, "/api/v1/chat/stream", []byte(`{"message":"打招呼"}`))
	assert.Equal(t, http.StatusOK, w.Code)

	frames := strings.Split(strings.TrimSpace(w.Body.String()), "\n\n")
	require.Len(t, frames, 4)
	assert.Contains(t, frames[0], `"type":"token"`)
	assert.Contains(t, frames[2], `"type":"done"`)
	assert.Equal(t, "data: [DONE]", frames[3])
}

func TestTaskStatusEndpoint(t *testing.T) {
	env := newTestServer(t)
	env.tasks.meta = &task.Meta{Status: task.StateSuccess, UpdatedAt: time.Now()}
	w := doRequest(env, http.MethodGet, "/api/v1/tasks/task-1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), task.StateSuccess)
}

func TestSearchEndpoint(t *testing.T) {
	env := newTestServer(t)
	w := doRequest(env, http.MethodPost, "/api/v1/search", []byte(`{"query":"问题","top_k":3}`))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, env.search.calls)
	assert.Contains(t, w.Body.String(), `"confidence":0.8`)
}

func TestUsageWithoutLimiter(t *testing.T) {
	env := newTestServer(t)
	w := doRequest(env, http.MethodGet, "/api/v1/usage", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
