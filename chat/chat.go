//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package chat orchestrates RAG conversations: retrieval-grounded prompts,
// history summarisation, an optional MCP tool loop, and persistence.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"trpc.group/trpc-go/trpc-rag-go/internal/encoding"
	"trpc.group/trpc-go/trpc-rag-go/internal/errs"
	"trpc.group/trpc-go/trpc-rag-go/kb"
	"trpc.group/trpc-go/trpc-rag-go/log"
	"trpc.group/trpc-go/trpc-rag-go/model"
	"trpc.group/trpc-go/trpc-rag-go/retrieval"
	"trpc.group/trpc-go/trpc-rag-go/telemetry/trace"
)

// Orchestrator defaults.
const (
	DefaultTopK                = 5
	DefaultConfidenceThreshold = 0.6
	DefaultContextMessages     = 8
	DefaultHistoryMaxCount     = 100

	maxToolRounds   = 5
	maxTitleChars   = 50
	maxSummaryChars = 500
	maxHistoryLine  = 200
	maxSnippetChars = 200

	// TitlePlaceholder marks a conversation whose title is not derived yet.
	TitlePlaceholder = "新对话"

	summaryPrefix = "[对话历史总结]"

	// Apology is persisted when the LLM fails so the conversation stays
	// consistent.
	Apology = "抱歉，我暂时无法回答您的问题，请稍后再试。"

	systemPersona = "你是一个知识库问答助手。优先依据提供的知识库上下文回答用户问题，" +
		"上下文不足时再结合通用知识，并明确说明。回答使用用户提问的语言。"

	lowConfidenceNotice = "注意：知识库检索置信度较低。请告知用户知识库中的相关内容有限，" +
		"回答将主要依据通用知识。"

	noContextNotice = "注意：知识库中没有检索到相关内容，请依据通用知识回答，并说明这一点。"
)

// Retriever builds the RAG context for a query. *retrieval.Engine
// implements it.
type Retriever interface {
	Retrieve(ctx context.Context, query string, scope retrieval.Scope, topK int) (*retrieval.Result, error)
}

// ToolProvider exposes external tools (MCP servers) to the model.
type ToolProvider interface {
	// Tools returns the aggregated tool catalog.
	Tools(ctx context.Context) ([]model.ToolDefinition, error)
	// Call executes one tool and returns its textual result. Failures
	// come back as error text, never as an error, so the loop continues.
	Call(ctx context.Context, name string, args []byte) string
}

// Response is the synchronous chat result.
type Response struct {
	ConversationID int64         `json:"conversation_id"`
	Message        string        `json:"message"`
	Confidence     *float64      `json:"confidence,omitempty"`
	Sources        []kb.Citation `json:"sources,omitempty"`
}

// Event types emitted by ChatStream.
const (
	EventToken = "token"
	EventDone  = "done"
	EventError = "error"
)

// Event is one streaming chat notification.
type Event struct {
	Type           string        `json:"type"`
	Content        string        `json:"content,omitempty"`
	ConversationID int64         `json:"conversation_id,omitempty"`
	Confidence     *float64      `json:"confidence,omitempty"`
	Sources        []kb.Citation `json:"sources,omitempty"`
	Error          string        `json:"error,omitempty"`
}

// Orchestrator runs the chat algorithm over the store, retriever and LLM.
type Orchestrator struct {
	store     *kb.Store
	retriever Retriever
	llm       model.Model
	tools     ToolProvider

	topK                int
	confidenceThreshold float64
	contextMessages     int
	historyMax          int
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithTopK sets the retrieval depth.
func WithTopK(k int) Option {
	return func(o *Orchestrator) {
		if k > 0 {
			o.topK = k
		}
	}
}

// WithConfidenceThreshold sets the low-confidence warning threshold.
func WithConfidenceThreshold(t float64) Option {
	return func(o *Orchestrator) {
		if t > 0 {
			o.confidenceThreshold = t
		}
	}
}

// WithContextMessages sets how many verbatim history turns to keep.
func WithContextMessages(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.contextMessages = n
		}
	}
}

// WithHistoryMax sets the per-user conversation cap before eviction.
func WithHistoryMax(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.historyMax = n
		}
	}
}

// WithTools enables the MCP tool-call loop.
func WithTools(tp ToolProvider) Option {
	return func(o *Orchestrator) { o.tools = tp }
}

// New builds a chat orchestrator.
func New(store *kb.Store, retriever Retriever, llm model.Model, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:               store,
		retriever:           retriever,
		llm:                 llm,
		topK:                DefaultTopK,
		confidenceThreshold: DefaultConfidenceThreshold,
		contextMessages:     DefaultContextMessages,
		historyMax:          DefaultHistoryMaxCount,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// turn carries the per-request state between preparation and persistence.
type turn struct {
	conv      *kb.Conversation
	firstTurn bool
	userID    int64
	message   string
	retrieved *retrieval.Result
	citations []kb.Citation
	request   *model.Request
}

// Chat runs one synchronous conversation turn.
func (o *Orchestrator) Chat(ctx context.Context, userID int64, message string, convID, kbID *int64) (*Response, error) {
	ctx, span := trace.Tracer.Start(ctx, "chat.turn")
	defer span.End()
	span.SetAttributes(attribute.Int64(trace.AttrUserID, userID))
	if kbID != nil {
		span.SetAttributes(attribute.Int64(trace.AttrKnowledgeBaseID, *kbID))
	}

	t, err := o.prepare(ctx, userID, message, convID, kbID)
	if err != nil {
		return nil, err
	}

	content, llmErr := o.generate(ctx, t.request)
	var confidence *float64
	if llmErr != nil {
		log.Warnf("chat generation failed: %v", llmErr)
		content = Apology
	} else if t.retrieved.Confidence > 0 {
		c := t.retrieved.Confidence
		confidence = &c
	}

	if err := o.persistAssistant(ctx, t, content, confidence); err != nil {
		return nil, err
	}
	return &Response{
		ConversationID: t.conv.ID,
		Message:        content,
		Confidence:     confidence,
		Sources:        t.citations,
	}, nil
}

// ChatStream runs one turn, emitting token events followed by done. On
// client disconnect the partial message is persisted and no done event is
// emitted.
func (o *Orchestrator) ChatStream(ctx context.Context, userID int64, message string, convID, kbID *int64) (<-chan Event, error) {
	t, err := o.prepare(ctx, userID, message, convID, kbID)
	if err != nil {
		return nil, err
	}

	events := make(chan Event)
	go func() {
		defer close(events)

		content, disconnected, llmErr := o.generateStream(ctx, t, events)
		var confidence *float64
		if llmErr != nil {
			log.Warnf("chat stream generation failed: %v", llmErr)
			content = Apology
			events <- Event{Type: EventToken, Content: content}
		} else if t.retrieved.Confidence > 0 {
			c := t.retrieved.Confidence
			confidence = &c
		}

		// Persistence must survive the client going away.
		persistCtx := context.WithoutCancel(ctx)
		if err := o.persistAssistant(persistCtx, t, content, confidence); err != nil {
			log.Errorf("persist assistant message: %v", err)
		}
		if disconnected {
			return
		}
		events <- Event{
			Type:           EventDone,
			ConversationID: t.conv.ID,
			Confidence:     confidence,
			Sources:        t.citations,
		}
	}()
	return events, nil
}

// prepare resolves the conversation, persists the user message, retrieves
// context, and composes the model request.
func (o *Orchestrator) prepare(ctx context.Context, userID int64, message string, convID, kbID *int64) (*turn, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, errs.New(errs.KindValidation, "消息内容为空")
	}

	conv, firstTurn, err := o.resolveConversation(ctx, userID, convID, kbID)
	if err != nil {
		return nil, err
	}

	history, err := o.store.ListRecentMessages(ctx, conv.ID, o.contextMessages*2)
	if err != nil {
		return nil, err
	}

	if err := o.store.CreateMessage(ctx, &kb.Message{
		ConversationID: conv.ID,
		Role:           kb.RoleUser,
		Content:        message,
	}); err != nil {
		return nil, err
	}

	scope := retrieval.Scope{UserID: userID}
	if conv.KnowledgeBaseID != nil {
		scope.KnowledgeBaseID = conv.KnowledgeBaseID
	}
	retrieved, err := o.retriever.Retrieve(ctx, message, scope, o.topK)
	if err != nil {
		log.Warnf("retrieval failed, answering without context: %v", err)
		retrieved = &retrieval.Result{}
	}

	citations := o.citations(ctx, userID, retrieved.Selected)
	system := o.composeSystemPrompt(ctx, retrieved, history)

	req := &model.Request{
		Messages: []model.Message{
			model.NewSystemMessage(system),
			model.NewUserMessage(message),
		},
	}
	return &turn{
		conv:      conv,
		firstTurn: firstTurn,
		userID:    userID,
		message:   message,
		retrieved: retrieved,
		citations: citations,
		request:   req,
	}, nil
}

func (o *Orchestrator) resolveConversation(ctx context.Context, userID int64, convID, kbID *int64) (*kb.Conversation, bool, error) {
	if convID != nil {
		conv, err := o.store.GetConversation(ctx, userID, *convID)
		return conv, false, err
	}
	conv := &kb.Conversation{
		UserID:          userID,
		KnowledgeBaseID: kbID,
		Title:           TitlePlaceholder,
	}
	if err := o.store.CreateConversation(ctx, conv); err != nil {
		return nil, false, err
	}
	return conv, true, nil
}

// composeSystemPrompt assembles the persona with the knowledge and history
// sections, omitting empty ones.
func (o *Orchestrator) composeSystemPrompt(ctx context.Context, retrieved *retrieval.Result, history []*kb.Message) string {
	var b strings.Builder
	b.WriteString(systemPersona)

	if retrieved.Context != "" {
		b.WriteString("\n\n【知识库上下文】\n")
		if retrieved.Confidence > 0 && retrieved.Confidence < o.confidenceThreshold {
			b.WriteString(lowConfidenceNotice)
			b.WriteString("\n")
		}
		b.WriteString(retrieved.Context)
	} else {
		b.WriteString("\n\n")
		b.WriteString(noContextNotice)
	}

	if historyText := o.historyContext(ctx, history); historyText != "" {
		b.WriteString("\n\n【对话历史】\n")
		b.WriteString(historyText)
	}
	return b.String()
}

// historyContext renders the last N messages verbatim and summarises the
// older tail through the LLM.
func (o *Orchestrator) historyContext(ctx context.Context, history []*kb.Message) string {
	if len(history) == 0 {
		return ""
	}

	var lines []string
	if len(history) > o.contextMessages {
		older := history[:len(history)-o.contextMessages]
		history = history[len(history)-o.contextMessages:]
		if summary := o.summarize(ctx, older); summary != "" {
			lines = append(lines, summaryPrefix+" "+summary)
		}
	}
	for _, m := range history {
		lines = append(lines, historyLine(m))
	}
	return strings.Join(lines, "\n")
}

// summarize condenses older history into one short paragraph. Failures
// drop the summary rather than the turn.
func (o *Orchestrator) summarize(ctx context.Context, older []*kb.Message) string {
	if len(older) == 0 {
		return ""
	}
	lines := make([]string, len(older))
	for i, m := range older {
		lines[i] = historyLine(m)
	}
	rsp, err := model.Complete(ctx, o.llm, &model.Request{
		Messages: []model.Message{
			model.NewSystemMessage("请将下面的对话历史压缩为不超过500字的摘要，保留事实与用户目标，不要评论。"),
			model.NewUserMessage(strings.Join(lines, "\n")),
		},
		GenerationConfig: model.GenerationConfig{MaxTokens: model.IntPtr(512)},
	})
	if err != nil {
		log.Debugf("history summarisation failed: %v", err)
		return ""
	}
	return encoding.SafeTruncate(strings.TrimSpace(rsp.Content()), maxSummaryChars)
}

func historyLine(m *kb.Message) string {
	role := "用户"
	if m.Role == kb.RoleAssistant {
		role = "助手"
	}
	return role + ": " + encoding.SafeTruncate(m.Content, maxHistoryLine)
}

// generate runs the non-streaming tool loop until the model returns text.
func (o *Orchestrator) generate(ctx context.Context, req *model.Request) (string, error) {
	if err := o.attachTools(ctx, req); err != nil {
		log.Warnf("tool catalog unavailable: %v", err)
	}
	for round := 0; round < maxToolRounds; round++ {
		rsp, err := model.Complete(ctx, o.llm, req)
		if err != nil {
			return "", err
		}
		if !rsp.IsToolCallResponse() || o.tools == nil {
			return rsp.Content(), nil
		}
		o.appendToolResults(ctx, req, rsp.Choices[0].Message.ToolCalls)
	}
	return "", errs.New(errs.KindDependency, "tool loop exceeded %d rounds", maxToolRounds)
}

// generateStream streams deltas as token events, running tool rounds as
// needed. It reports whether the client disconnected mid-stream.
func (o *Orchestrator) generateStream(ctx context.Context, t *turn, events chan<- Event) (string, bool, error) {
	req := t.request
	if err := o.attachTools(ctx, req); err != nil {
		log.Warnf("tool catalog unavailable: %v", err)
	}

	var content strings.Builder
	for round := 0; round < maxToolRounds; round++ {
		req.Stream = true
		ch, err := o.llm.GenerateContent(ctx, req)
		if err != nil {
			return content.String(), false, err
		}

		var final *model.Response
		for rsp := range ch {
			if rsp.Error != nil {
				return content.String(), false, fmt.Errorf("model error: %s", rsp.Error.Message)
			}
			if rsp.IsPartial {
				if delta := rsp.Content(); delta != "" && !rsp.IsToolCallResponse() {
					content.WriteString(delta)
					select {
					case events <- Event{Type: EventToken, Content: delta}:
					case <-ctx.Done():
						return content.String(), true, nil
					}
				}
				continue
			}
			if rsp.Done {
				final = rsp
			}
		}
		if final == nil {
			return content.String(), false, errs.New(errs.KindDependency, "model returned no final response")
		}
		if !final.IsToolCallResponse() || o.tools == nil {
			if content.Len() == 0 {
				content.WriteString(final.Content())
			}
			return content.String(), false, nil
		}
		o.appendToolResults(ctx, req, final.Choices[0].Message.ToolCalls)
	}
	return content.String(), false, errs.New(errs.KindDependency, "tool loop exceeded %d rounds", maxToolRounds)
}

func (o *Orchestrator) attachTools(ctx context.Context, req *model.Request) error {
	if o.tools == nil {
		return nil
	}
	tools, err := o.tools.Tools(ctx)
	if err != nil {
		return err
	}
	req.Tools = tools
	return nil
}

// appendToolResults executes the requested calls and extends the
// conversation with the assistant turn plus one tool message per call.
func (o *Orchestrator) appendToolResults(ctx context.Context, req *model.Request, calls []model.ToolCall) {
	req.Messages = append(req.Messages, model.Message{
		Role:      model.RoleAssistant,
		ToolCalls: calls,
	})
	for _, call := range calls {
		result := o.tools.Call(ctx, call.Function.Name, call.Function.Arguments)
		req.Messages = append(req.Messages,
			model.NewToolMessage(call.ID, call.Function.Name, result))
	}
}

// persistAssistant writes the assistant message, derives the title on the
// first turn, bumps updated_at, and evicts conversations past the cap.
func (o *Orchestrator) persistAssistant(ctx context.Context, t *turn, content string, confidence *float64) error {
	msg := &kb.Message{
		ConversationID:       t.conv.ID,
		Role:                 kb.RoleAssistant,
		Content:              content,
		Model:                o.llm.Info().Name,
		Confidence:           confidence,
		MaxConfidenceContext: strPtrOrNil(t.retrieved.BestContext),
	}
	if confidence != nil && *confidence < o.confidenceThreshold && t.retrieved.Context != "" {
		msg.RetrievedContext = strPtrOrNil(t.retrieved.Context)
	}
	if len(t.citations) > 0 {
		raw, err := json.Marshal(t.citations)
		if err == nil {
			s := string(raw)
			msg.Sources = &s
		}
	}
	if err := o.store.CreateMessage(ctx, msg); err != nil {
		return err
	}

	if t.firstTurn || t.conv.Title == "" || t.conv.Title == TitlePlaceholder {
		title := encoding.SafeTruncate(t.message, maxTitleChars)
		if err := o.store.UpdateConversationTitle(ctx, t.conv.ID, title); err != nil {
			log.Warnf("update conversation title: %v", err)
		}
	}
	if err := o.store.TouchConversation(ctx, t.conv.ID); err != nil {
		log.Warnf("touch conversation: %v", err)
	}
	if _, err := o.store.EvictConversations(ctx, t.userID, o.historyMax); err != nil {
		log.Warnf("evict conversations: %v", err)
	}
	return nil
}

// citations maps the selected chunks to user-facing source references.
func (o *Orchestrator) citations(ctx context.Context, userID int64, selected []retrieval.SelectedChunk) []kb.Citation {
	if len(selected) == 0 {
		return nil
	}
	names := make(map[int64]string)
	citations := make([]kb.Citation, 0, len(selected))
	for _, s := range selected {
		name, ok := names[s.FileID]
		if !ok {
			if f, err := o.store.GetFile(ctx, userID, s.FileID); err == nil {
				name = f.Filename
			}
			names[s.FileID] = name
		}
		citations = append(citations, kb.Citation{
			FileID:     s.FileID,
			Filename:   name,
			ChunkIndex: s.ChunkIndex,
			Snippet:    encoding.SafeTruncate(s.Content, maxSnippetChars),
		})
	}
	return citations
}

func strPtrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
