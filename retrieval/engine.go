//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package retrieval implements hybrid dense + lexical retrieval with rank
// fusion, optional reranking, and context window expansion.
package retrieval

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel/attribute"

	"trpc.group/trpc-go/trpc-rag-go/internal/encoding"
	"trpc.group/trpc-go/trpc-rag-go/internal/errs"
	"trpc.group/trpc-go/trpc-rag-go/kb"
	"trpc.group/trpc-go/trpc-rag-go/knowledge/bm25"
	"trpc.group/trpc-go/trpc-rag-go/knowledge/embedder"
	"trpc.group/trpc-go/trpc-rag-go/knowledge/reranker"
	"trpc.group/trpc-go/trpc-rag-go/knowledge/vectorstore"
	"trpc.group/trpc-go/trpc-rag-go/log"
	"trpc.group/trpc-go/trpc-rag-go/model"
	"trpc.group/trpc-go/trpc-rag-go/telemetry/trace"
)

// Retrieval defaults.
const (
	DefaultRRFK         = 60
	DefaultWindowExpand = 1
	DefaultExpandCount  = 2

	// MaxContextChars bounds the assembled context text.
	MaxContextChars = 8000
	// MaxKeywords bounds the lexical candidate query.
	MaxKeywords = 8
	// FallbackChunks is the size of the low-confidence fallback pool.
	FallbackChunks = 20
	// FallbackConfidence marks fallback and rerank-failure selections.
	FallbackConfidence = 0.5

	defaultPoolSize = 8
)

// Scope restricts retrieval to one KB or to every KB the user owns.
type Scope struct {
	UserID          int64
	KnowledgeBaseID *int64
}

// SelectedChunk is one retrieved chunk with its relevance score.
type SelectedChunk struct {
	ChunkID         int64   `json:"chunk_id"`
	FileID          int64   `json:"file_id"`
	KnowledgeBaseID int64   `json:"knowledge_base_id"`
	ChunkIndex      int     `json:"chunk_index"`
	Content         string  `json:"content"`
	Score           float64 `json:"score"`
}

// Result is the assembled retrieval output.
type Result struct {
	Context     string          `json:"context"`
	Confidence  float64         `json:"confidence"`
	BestContext string          `json:"best_context,omitempty"`
	Selected    []SelectedChunk `json:"selected,omitempty"`
}

// Engine runs the retrieval pipeline.
type Engine struct {
	store   *kb.Store
	vectors vectorstore.VectorStore
	embed   embedder.Embedder
	rerank  reranker.Reranker
	llm     model.Model
	pool    *ants.Pool

	rrfK         int
	windowExpand int
	useBM25      bool
	queryExpand  bool
	expandCount  int
}

// Option configures the engine.
type Option func(*Engine)

// WithReranker enables cross-encoder reranking.
func WithReranker(r reranker.Reranker) Option {
	return func(e *Engine) { e.rerank = r }
}

// WithQueryExpansion enables LLM paraphrase expansion of the query.
func WithQueryExpansion(m model.Model, count int) Option {
	return func(e *Engine) {
		e.llm = m
		e.queryExpand = m != nil
		if count > 0 {
			e.expandCount = count
		}
	}
}

// WithRRFK overrides the fusion constant.
func WithRRFK(k int) Option {
	return func(e *Engine) {
		if k > 0 {
			e.rrfK = k
		}
	}
}

// WithWindowExpand sets how many neighbour chunks to pull on each side.
func WithWindowExpand(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.windowExpand = n
		}
	}
}

// WithBM25 toggles the lexical path globally. Per-KB hybrid toggles still
// apply on single-KB queries.
func WithBM25(enabled bool) Option {
	return func(e *Engine) { e.useBM25 = enabled }
}

// New builds a retrieval engine. Close releases the fan-out pool.
func New(
	store *kb.Store,
	vectors vectorstore.VectorStore,
	embed embedder.Embedder,
	opts ...Option,
) (*Engine, error) {
	pool, err := ants.NewPool(defaultPoolSize)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		store:        store,
		vectors:      vectors,
		embed:        embed,
		pool:         pool,
		rrfK:         DefaultRRFK,
		windowExpand: DefaultWindowExpand,
		useBM25:      true,
		expandCount:  DefaultExpandCount,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Close releases the worker pool.
func (e *Engine) Close() {
	e.pool.Release()
}

// Retrieve builds the RAG context for the query within the scope.
func (e *Engine) Retrieve(ctx context.Context, query string, scope Scope, topK int) (*Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errs.New(errs.KindValidation, "query is empty")
	}
	if topK <= 0 {
		topK = 5
	}

	ctx, span := trace.Tracer.Start(ctx, "retrieval.retrieve")
	defer span.End()
	span.SetAttributes(
		attribute.Int64(trace.AttrUserID, scope.UserID),
		attribute.Int(trace.AttrTopK, topK),
	)

	kbIDs, hybrid, rerankOn, err := e.resolveScope(ctx, scope)
	if err != nil {
		return nil, err
	}
	if len(kbIDs) == 0 {
		return &Result{}, nil
	}

	queries := e.expandQuery(ctx, query)
	lists := e.gatherRankedLists(ctx, queries, scope, kbIDs, hybrid, topK)

	fused := fuse(lists, e.rrfK)
	if len(fused) == 0 {
		return e.fallback(ctx, scope, kbIDs)
	}

	candidateCount := topK * 2
	if candidateCount > len(fused) {
		candidateCount = len(fused)
	}
	candidates := fused[:candidateCount]

	ids := make([]int64, len(candidates))
	for i, c := range candidates {
		ids[i] = c.chunkID
	}
	chunks, err := e.store.GetChunksByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return e.fallback(ctx, scope, kbIDs)
	}

	selected, confidence := e.selectChunks(ctx, query, chunks, candidates, rerankOn, topK)
	span.SetAttributes(
		attribute.Int(trace.AttrChunkCount, len(selected)),
		attribute.Float64(trace.AttrConfidence, confidence),
	)

	expanded, err := e.expandWindows(ctx, selected)
	if err != nil {
		return nil, err
	}

	return &Result{
		Context:     assembleContext(expanded),
		Confidence:  confidence,
		BestContext: selected[0].Content,
		Selected:    selected,
	}, nil
}

// resolveScope returns the KB ids plus the effective hybrid and rerank
// toggles. The all-KBs path follows global configuration, not per-KB flags.
func (e *Engine) resolveScope(ctx context.Context, scope Scope) ([]int64, bool, bool, error) {
	if scope.KnowledgeBaseID != nil {
		base, err := e.store.GetKnowledgeBase(ctx, scope.UserID, *scope.KnowledgeBaseID)
		if err != nil {
			return nil, false, false, err
		}
		return []int64{base.ID},
			e.useBM25 && base.EnableHybrid,
			e.rerank != nil && base.EnableRerank,
			nil
	}
	ids, err := e.store.ListKnowledgeBaseIDs(ctx, scope.UserID)
	if err != nil {
		return nil, false, false, err
	}
	return ids, e.useBM25, e.rerank != nil, nil
}

// expandQuery asks the LLM for paraphrases and prepends the original.
// Failures degrade to the single original query.
func (e *Engine) expandQuery(ctx context.Context, query string) []string {
	queries := []string{query}
	if !e.queryExpand || e.llm == nil {
		return queries
	}
	rsp, err := model.Complete(ctx, e.llm, &model.Request{
		Messages: []model.Message{
			model.NewSystemMessage("你是检索查询改写助手。将用户的问题改写为语义相同但表述不同的检索查询，每行一个，不要编号，不要解释。"),
			model.NewUserMessage(query),
		},
		GenerationConfig: model.GenerationConfig{
			MaxTokens:   model.IntPtr(256),
			Temperature: model.Float64Ptr(0.7),
		},
	})
	if err != nil {
		log.Debugf("query expansion failed: %v", err)
		return queries
	}
	for _, line := range strings.Split(rsp.Content(), "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "0123456789.、- "))
		if line == "" || line == query {
			continue
		}
		queries = append(queries, line)
		if len(queries) > e.expandCount {
			break
		}
	}
	return queries
}

// gatherRankedLists fans the expanded queries out on the worker pool and
// collects the per-query dense and lexical ranked lists.
func (e *Engine) gatherRankedLists(
	ctx context.Context, queries []string, scope Scope, kbIDs []int64, hybrid bool, topK int,
) [][]int64 {
	var mu sync.Mutex
	var wg sync.WaitGroup
	var lists [][]int64

	add := func(list []int64) {
		if len(list) == 0 {
			return
		}
		mu.Lock()
		lists = append(lists, list)
		mu.Unlock()
	}

	for _, q := range queries {
		q := q
		wg.Add(1)
		task := func() {
			defer wg.Done()
			add(e.denseSearch(ctx, q, scope, topK))
			if hybrid {
				add(e.lexicalSearch(ctx, q, scope, kbIDs, topK))
			}
		}
		if err := e.pool.Submit(task); err != nil {
			task()
		}
	}
	wg.Wait()
	return lists
}

// denseSearch embeds the query and searches the vector store within the
// scope, returning up to topK*3 chunk ids in rank order.
func (e *Engine) denseSearch(ctx context.Context, query string, scope Scope, topK int) []int64 {
	vecs, err := e.embed.EmbedTexts(ctx, []string{query})
	if err != nil || len(vecs) == 0 {
		log.Warnf("embed query: %v", err)
		return nil
	}

	filter := &vectorstore.Filter{}
	if scope.KnowledgeBaseID != nil {
		filter.KnowledgeBaseID = scope.KnowledgeBaseID
	} else {
		userID := scope.UserID
		filter.UserID = &userID
	}

	hits, err := e.vectors.Search(ctx, vectorstore.ToFloat32(vecs[0]), topK*3, filter)
	if err != nil {
		log.Warnf("vector search: %v", err)
		return nil
	}
	ids := make([]int64, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.Payload.ChunkID)
	}
	return ids
}

// lexicalSearch pulls a LIKE candidate pool and ranks it with BM25,
// returning up to topK*3 chunk ids.
func (e *Engine) lexicalSearch(
	ctx context.Context, query string, scope Scope, kbIDs []int64, topK int,
) []int64 {
	keywords := Keywords(query)
	if len(keywords) == 0 {
		return nil
	}
	poolSize := topK * 2
	if scope.KnowledgeBaseID == nil {
		poolSize = topK * 3
	}
	chunks, err := e.store.SearchChunksLike(ctx, kbIDs, keywords, poolSize)
	if err != nil {
		log.Warnf("lexical candidate pool: %v", err)
		return nil
	}
	if len(chunks) == 0 {
		return nil
	}

	docs := make([]string, len(chunks))
	for i, c := range chunks {
		docs[i] = c.Content
	}
	ranked := bm25.Rank(query, docs)
	limit := topK * 3
	if limit > len(ranked) {
		limit = len(ranked)
	}
	ids := make([]int64, 0, limit)
	for _, r := range ranked[:limit] {
		if r.Score <= 0 {
			break
		}
		ids = append(ids, chunks[r.Index].ID)
	}
	return ids
}

// selectChunks applies reranking (or RRF order) over the fused candidates
// and returns the topK selection with the overall confidence.
func (e *Engine) selectChunks(
	ctx context.Context, query string, chunks []*kb.Chunk, candidates []fusedChunk,
	rerankOn bool, topK int,
) ([]SelectedChunk, float64) {
	rrfScore := make(map[int64]float64, len(candidates))
	for _, c := range candidates {
		rrfScore[c.chunkID] = c.score
	}
	rrfConfidence := func() float64 {
		max := 0.0
		for _, c := range chunks {
			if s := rrfScore[c.ID]; s > max {
				max = s
			}
		}
		conf := max * float64(e.rrfK)
		if conf > 1 {
			conf = 1
		}
		return conf
	}

	if rerankOn && e.rerank != nil {
		docs := make([]string, len(chunks))
		for i, c := range chunks {
			docs[i] = c.Content
		}
		results, err := e.rerank.Rerank(ctx, query, docs, len(docs))
		if err == nil && len(results) > 0 {
			if len(results) > topK {
				results = results[:topK]
			}
			selected := make([]SelectedChunk, 0, len(results))
			best := 0.0
			for _, r := range results {
				if r.Index < 0 || r.Index >= len(chunks) {
					continue
				}
				selected = append(selected, newSelected(chunks[r.Index], r.Score))
				if r.Score > best {
					best = r.Score
				}
			}
			if len(selected) > 0 {
				return selected, best
			}
		}
		if err != nil {
			log.Warnf("rerank failed, keeping fused order: %v", err)
		}
		// Fused order with a neutral relevance stands in for the reranker.
		return topSelected(chunks, topK, func(*kb.Chunk) float64 { return FallbackConfidence }),
			rrfConfidence()
	}

	selected := topSelected(chunks, topK, func(c *kb.Chunk) float64 {
		s := rrfScore[c.ID] * float64(e.rrfK)
		if s > 1 {
			s = 1
		}
		return s
	})
	return selected, rrfConfidence()
}

func topSelected(chunks []*kb.Chunk, topK int, score func(*kb.Chunk) float64) []SelectedChunk {
	if len(chunks) > topK {
		chunks = chunks[:topK]
	}
	selected := make([]SelectedChunk, len(chunks))
	for i, c := range chunks {
		selected[i] = newSelected(c, score(c))
	}
	return selected
}

func newSelected(c *kb.Chunk, score float64) SelectedChunk {
	return SelectedChunk{
		ChunkID:         c.ID,
		FileID:          c.FileID,
		KnowledgeBaseID: c.KnowledgeBaseID,
		ChunkIndex:      c.ChunkIndex,
		Content:         c.Content,
		Score:           score,
	}
}

// expandWindows pulls ±N neighbour chunks per selection, deduplicates,
// and orders by (file_id, chunk_index) for concatenation.
func (e *Engine) expandWindows(ctx context.Context, selected []SelectedChunk) ([]SelectedChunk, error) {
	if e.windowExpand <= 0 {
		out := append([]SelectedChunk(nil), selected...)
		sortByPosition(out)
		return out, nil
	}

	seen := make(map[int64]SelectedChunk, len(selected))
	for _, s := range selected {
		from := s.ChunkIndex - e.windowExpand
		if from < 0 {
			from = 0
		}
		neighbors, err := e.store.ListNeighborChunks(ctx,
			s.KnowledgeBaseID, s.FileID, from, s.ChunkIndex+e.windowExpand)
		if err != nil {
			return nil, err
		}
		for _, n := range neighbors {
			if _, ok := seen[n.ID]; !ok {
				seen[n.ID] = newSelected(n, 0)
			}
		}
		seen[s.ChunkID] = s
	}

	out := make([]SelectedChunk, 0, len(seen))
	for _, s := range seen {
		out = append(out, s)
	}
	sortByPosition(out)
	return out, nil
}

func sortByPosition(chunks []SelectedChunk) {
	sort.Slice(chunks, func(i, j int) bool {
		if chunks[i].FileID != chunks[j].FileID {
			return chunks[i].FileID < chunks[j].FileID
		}
		return chunks[i].ChunkIndex < chunks[j].ChunkIndex
	})
}

// fallback returns the first chunks of a single-KB scope so an empty match
// is distinguishable from an empty KB.
func (e *Engine) fallback(ctx context.Context, scope Scope, kbIDs []int64) (*Result, error) {
	if scope.KnowledgeBaseID == nil || len(kbIDs) != 1 {
		return &Result{}, nil
	}
	chunks, err := e.store.ListFirstChunks(ctx, kbIDs[0], FallbackChunks)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return &Result{}, nil
	}
	selected := topSelected(chunks, len(chunks), func(*kb.Chunk) float64 { return FallbackConfidence })
	return &Result{
		Context:     assembleContext(selected),
		Confidence:  FallbackConfidence,
		BestContext: selected[0].Content,
		Selected:    selected,
	}, nil
}

func assembleContext(chunks []SelectedChunk) string {
	parts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if strings.TrimSpace(c.Content) == "" {
			continue
		}
		parts = append(parts, c.Content)
	}
	return encoding.SafeTruncate(strings.Join(parts, "\n\n"), MaxContextChars)
}

// fusedChunk is one chunk id with its accumulated RRF score.
type fusedChunk struct {
	chunkID int64
	score   float64
}

// fuse merges ranked lists with reciprocal rank fusion. Ties break by
// ascending chunk id.
func fuse(lists [][]int64, rrfK int) []fusedChunk {
	scores := make(map[int64]float64)
	for _, list := range lists {
		for rank, id := range list {
			scores[id] += 1.0 / float64(rrfK+rank+1)
		}
	}
	fused := make([]fusedChunk, 0, len(scores))
	for id, score := range scores {
		fused = append(fused, fusedChunk{chunkID: id, score: score})
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].score != fused[j].score {
			return fused[i].score > fused[j].score
		}
		return fused[i].chunkID < fused[j].chunkID
	})
	return fused
}

// Keywords tokenises the query for the lexical candidate pool: unique
// tokens in first-seen order, capped at MaxKeywords.
func Keywords(query string) []string {
	tokens := bm25.Tokenize(query)
	seen := make(map[string]struct{}, len(tokens))
	keywords := make([]string, 0, MaxKeywords)
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		keywords = append(keywords, t)
		if len(keywords) == MaxKeywords {
			break
		}
	}
	return keywords
}
