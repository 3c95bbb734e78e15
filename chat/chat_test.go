//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-rag-go/kb"
	"trpc.group/trpc-go/trpc-rag-go/model"
	"trpc.group/trpc-go/trpc-rag-go/retrieval"
	storage "trpc.group/trpc-go/trpc-rag-go/storage/postgres"
)

type fakeModel struct {
	responses [][]*model.Response
	prompts   []string
	calls     int
	err       error
}

func (f *fakeModel) GenerateContent(_ context.Context, req *model.Request) (<-chan *model.Response, error) {
	if len(req.Messages) > 0 {
		f.prompts = append(f.prompts, req.Messages[0].Content)
	}
	if f.err != nil {
		return nil, f.err
	}
	rsps := f.responses[f.calls]
	f.calls++
	ch := make(chan *model.Response, len(rsps))
	for _, r := range rsps {
		ch <- r
	}
	close(ch)
	return ch, nil
}

func (f *fakeModel) Info() model.Info { return model.Info{Name: "fake-model"} }

func finalResponse(content string) *model.Response {
	return &model.Response{
		Choices: []model.Choice{{Message: model.NewAssistantMessage(content)}},
		Done:    true,
	}
}

func partialResponse(delta string) *model.Response {
	return &model.Response{
		Choices:   []model.Choice{{Delta: model.Message{Role: model.RoleAssistant, Content: delta}}},
		IsPartial: true,
	}
}

type fakeRetriever struct {
	result *retrieval.Result
	err    error
}

func (f *fakeRetriever) Retrieve(context.Context, string, retrieval.Scope, int) (*retrieval.Result, error) {
	return f.result, f.err
}

type fakeTools struct {
	called []string
}

func (f *fakeTools) Tools(context.Context) ([]model.ToolDefinition, error) {
	return []model.ToolDefinition{{Name: "mcp_demo_lookup"}}, nil
}

func (f *fakeTools) Call(_ context.Context, name string, _ []byte) string {
	f.called = append(f.called, name)
	return "tool result"
}

func newTestOrchestrator(t *testing.T, llm model.Model, r Retriever, opts ...Option) (*Orchestrator, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store := kb.NewStore(storage.NewClient(db))
	return New(store, r, llm, opts...), mock
}

func messageRowsHeader() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "conversation_id", "role", "content", "tokens", "model",
		"confidence", "retrieved_context", "max_confidence_context",
		"sources", "created_at",
	})
}

// expectTurn wires the store calls every successful turn makes, from
// conversation creation through eviction.
func expectTurn(mock sqlmock.Sqlmock, withCitations bool) {
	now := time.Now()
	mock.ExpectQuery(`INSERT INTO conversations`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow(int64(30), now, now))
	mock.ExpectQuery(`recent ORDER BY created_at`).
		WillReturnRows(messageRowsHeader())
	mock.ExpectQuery(`INSERT INTO messages`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(1), now))
	if withCitations {
		mock.ExpectQuery(`SELECT .* FROM files WHERE id`).
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "user_id", "filename", "file_type", "file_size",
				"storage_path", "content_hash", "status", "chunk_count",
				"created_at", "updated_at",
			}).AddRow(int64(1), int64(7), "doc.pdf", "pdf", int64(1), "p", "h",
				kb.FileStatusCompleted, 1, now, now))
	}
	mock.ExpectQuery(`INSERT INTO messages`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(2), now))
	mock.ExpectExec(`UPDATE conversations SET title`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE conversations SET updated_at`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM conversations WHERE user_id`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()
}

func retrievedResult(confidence float64) *retrieval.Result {
	return &retrieval.Result{
		Context:     "知识库相关内容",
		Confidence:  confidence,
		BestContext: "知识库相关内容",
		Selected: []retrieval.SelectedChunk{{
			ChunkID: 10, FileID: 1, KnowledgeBaseID: 2, ChunkIndex: 0,
			Content: "知识库相关内容", Score: confidence,
		}},
	}
}

func TestChatAnswersWithContext(t *testing.T) {
	llm := &fakeModel{responses: [][]*model.Response{{finalResponse("这是回答")}}}
	o, mock := newTestOrchestrator(t, llm, &fakeRetriever{result: retrievedResult(0.9)})
	expectTurn(mock, true)

	rsp, err := o.Chat(context.Background(), 7, "问题来了", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(30), rsp.ConversationID)
	assert.Equal(t, "这是回答", rsp.Message)
	require.NotNil(t, rsp.Confidence)
	assert.Equal(t, 0.9, *rsp.Confidence)
	require.Len(t, rsp.Sources, 1)
	assert.Equal(t, "doc.pdf", rsp.Sources[0].Filename)

	require.Len(t, llm.prompts, 1)
	assert.Contains(t, llm.prompts[0], "【知识库上下文】")
	assert.NotContains(t, llm.prompts[0], lowConfidenceNotice)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChatLowConfidenceWarning(t *testing.T) {
	llm := &fakeModel{responses: [][]*model.Response{{finalResponse("谨慎回答")}}}
	o, mock := newTestOrchestrator(t, llm, &fakeRetriever{result: retrievedResult(0.3)})
	expectTurn(mock, true)

	_, err := o.Chat(context.Background(), 7, "问题", nil, nil)
	require.NoError(t, err)
	require.Len(t, llm.prompts, 1)
	assert.Contains(t, llm.prompts[0], lowConfidenceNotice)
}

func TestChatNoContextNotice(t *testing.T) {
	llm := &fakeModel{responses: [][]*model.Response{{finalResponse("通用回答")}}}
	o, mock := newTestOrchestrator(t, llm, &fakeRetriever{result: &retrieval.Result{}})
	expectTurn(mock, false)

	rsp, err := o.Chat(context.Background(), 7, "问题", nil, nil)
	require.NoError(t, err)
	assert.Nil(t, rsp.Confidence, "no retrieval, no confidence")
	assert.Contains(t, llm.prompts[0], noContextNotice)
}

func TestChatLLMFailurePersistsApology(t *testing.T) {
	llm := &fakeModel{err: errors.New("provider down")}
	o, mock := newTestOrchestrator(t, llm, &fakeRetriever{result: retrievedResult(0.9)})
	expectTurn(mock, true)

	rsp, err := o.Chat(context.Background(), 7, "问题", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, Apology, rsp.Message)
	assert.Nil(t, rsp.Confidence)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChatToolLoop(t *testing.T) {
	toolCall := &model.Response{
		Choices: []model.Choice{{Message: model.Message{
			Role: model.RoleAssistant,
			ToolCalls: []model.ToolCall{{
				ID: "call-1", Type: "function",
				Function: model.FunctionCall{Name: "mcp_demo_lookup", Arguments: []byte(`{}`)},
			}},
		}}},
		Done: true,
	}
	llm := &fakeModel{responses: [][]*model.Response{
		{toolCall},
		{finalResponse("工具之后的回答")},
	}}
	tools := &fakeTools{}
	o, mock := newTestOrchestrator(t, llm, &fakeRetriever{result: &retrieval.Result{}}, WithTools(tools))
	expectTurn(mock, false)

	rsp, err := o.Chat(context.Background(), 7, "需要查询", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "工具之后的回答", rsp.Message)
	assert.Equal(t, []string{"mcp_demo_lookup"}, tools.called)
	assert.Equal(t, 2, llm.calls)
}

func TestChatStreamEmitsTokensThenDone(t *testing.T) {
	llm := &fakeModel{responses: [][]*model.Response{{
		partialResponse("你"),
		partialResponse("好"),
		finalResponse("你好"),
	}}}
	o, mock := newTestOrchestrator(t, llm, &fakeRetriever{result: retrievedResult(0.9)})
	expectTurn(mock, true)

	events, err := o.ChatStream(context.Background(), 7, "打个招呼", nil, nil)
	require.NoError(t, err)

	var tokens []string
	var done *Event
	for ev := range events {
		switch ev.Type {
		case EventToken:
			tokens = append(tokens, ev.Content)
		case EventDone:
			e := ev
			done = &e
		}
	}
	assert.Equal(t, []string{"你", "好"}, tokens)
	require.NotNil(t, done)
	assert.Equal(t, int64(30), done.ConversationID)
	require.NotNil(t, done.Confidence)
	assert.Equal(t, 0.9, *done.Confidence)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChatStreamClientDisconnectPersistsPartial(t *testing.T) {
	llm := &fakeModel{responses: [][]*model.Response{{
		partialResponse("部分"),
		partialResponse("回答"),
		finalResponse("部分回答"),
	}}}
	o, mock := newTestOrchestrator(t, llm, &fakeRetriever{result: retrievedResult(0.9)})
	expectTurn(mock, true)

	ctx, cancel := context.WithCancel(context.Background())
	events, err := o.ChatStream(ctx, 7, "问题", nil, nil)
	require.NoError(t, err)

	first := <-events
	require.Equal(t, EventToken, first.Type)
	cancel()
	// Let the stream goroutine observe the cancellation before draining.
	time.Sleep(20 * time.Millisecond)

	for ev := range events {
		assert.NotEqual(t, EventDone, ev.Type, "disconnected stream must not emit done")
	}
	// The full persistence chain ran even though ctx was cancelled.
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	o, _ := newTestOrchestrator(t, &fakeModel{}, &fakeRetriever{result: &retrieval.Result{}})
	_, err := o.Chat(context.Background(), 7, "  ", nil, nil)
	require.Error(t, err)
}

func TestHistorySummarisationKeepsRecentVerbatim(t *testing.T) {
	llm := &fakeModel{responses: [][]*model.Response{
		{finalResponse("历史摘要内容")},
	}}
	o, _ := newTestOrchestrator(t, llm, &fakeRetriever{result: &retrieval.Result{}},
		WithContextMessages(2))

	history := []*kb.Message{
		{Role: kb.RoleUser, Content: "第一问"},
		{Role: kb.RoleAssistant, Content: "第一答"},
		{Role: kb.RoleUser, Content: "第二问"},
		{Role: kb.RoleAssistant, Content: "第二答"},
	}
	text := o.historyContext(context.Background(), history)
	assert.Contains(t, text, summaryPrefix+" 历史摘要内容")
	assert.Contains(t, text, "用户: 第二问")
	assert.Contains(t, text, "助手: 第二答")
	assert.NotContains(t, text, "第一问")
}
