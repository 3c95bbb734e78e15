//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package ingest links files into knowledge bases: extract, chunk, embed,
// and commit chunk rows and vectors with per-file atomicity.
package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"trpc.group/trpc-go/trpc-rag-go/internal/encoding"
	"trpc.group/trpc-go/trpc-rag-go/internal/errs"
	"trpc.group/trpc-go/trpc-rag-go/kb"
	"trpc.group/trpc-go/trpc-rag-go/knowledge/chunking"
	"trpc.group/trpc-go/trpc-rag-go/knowledge/document"
	"trpc.group/trpc-go/trpc-rag-go/knowledge/embedder"
	"trpc.group/trpc-go/trpc-rag-go/knowledge/extractor"
	"trpc.group/trpc-go/trpc-rag-go/knowledge/vectorstore"
	"trpc.group/trpc-go/trpc-rag-go/log"
	"trpc.group/trpc-go/trpc-rag-go/objectstore"
	"trpc.group/trpc-go/trpc-rag-go/telemetry/trace"
)

// Chunking defaults applied when the KB carries no overrides.
const (
	DefaultChunkSize      = 500
	DefaultChunkOverlap   = 50
	DefaultMaxExpandRatio = 1.3
)

// MaxImageChunkContent bounds the OCR text stored as the image chunk's
// content. The payload copy is truncated further.
const (
	MaxImageChunkContent = 2000
	maxImagePayload      = 500
)

// imagePlaceholder stands in when an image yields no OCR text at all.
const imagePlaceholder = "[图片]"

var imageExtensions = map[string]struct{}{
	"png": {}, "jpg": {}, "jpeg": {}, "gif": {},
}

// Skip records a file the batch could not ingest and why.
type Skip struct {
	FileID   int64  `json:"file_id"`
	Filename string `json:"filename"`
	Reason   string `json:"reason"`
}

// Stats summarizes one add-files batch.
type Stats struct {
	FilesAdded   int `json:"files_added"`
	FilesSkipped int `json:"files_skipped"`
	ChunksAdded  int `json:"chunks_added"`
}

// Event types emitted by AddFilesStream, in order per file.
const (
	EventFileStart = "file_start"
	EventFileDone  = "file_done"
	EventFileSkip  = "file_skip"
	EventDone      = "done"
	EventError     = "error"
)

// Event is one progress notification from a streaming ingestion.
type Event struct {
	Type     string `json:"type"`
	FileID   int64  `json:"file_id,omitempty"`
	Filename string `json:"filename,omitempty"`
	Chunks   int    `json:"chunks,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Stats    *Stats `json:"stats,omitempty"`
	Skipped  []Skip `json:"skipped,omitempty"`
	Error    string `json:"error,omitempty"`
}

// skipError aborts one file's transaction with a recorded reason while
// letting the batch continue.
type skipError struct {
	reason string
}

func (e *skipError) Error() string { return e.reason }

// Pipeline ingests files into knowledge bases.
type Pipeline struct {
	store      *kb.Store
	objects    objectstore.Store
	extractors *extractor.Registry
	embed      embedder.Embedder
	imageEmbed embedder.ImageEmbedder
	vectors    vectorstore.VectorStore

	chunkSize      int
	chunkOverlap   int
	maxExpandRatio float64

	mu      sync.Mutex
	ensured bool
}

// Option configures the pipeline.
type Option func(*Pipeline)

// WithChunkDefaults sets the global chunking parameters used when a KB
// has no overrides.
func WithChunkDefaults(size, overlap int, maxExpandRatio float64) Option {
	return func(p *Pipeline) {
		if size > 0 {
			p.chunkSize = size
		}
		if overlap >= 0 {
			p.chunkOverlap = overlap
		}
		if maxExpandRatio > 0 {
			p.maxExpandRatio = maxExpandRatio
		}
	}
}

// WithImageEmbedder enables the extra image-source chunk for image files.
func WithImageEmbedder(ie embedder.ImageEmbedder) Option {
	return func(p *Pipeline) { p.imageEmbed = ie }
}

// New builds an ingestion pipeline.
func New(
	store *kb.Store,
	objects objectstore.Store,
	extractors *extractor.Registry,
	embed embedder.Embedder,
	vectors vectorstore.VectorStore,
	opts ...Option,
) *Pipeline {
	p := &Pipeline{
		store:          store,
		objects:        objects,
		extractors:     extractors,
		embed:          embed,
		vectors:        vectors,
		chunkSize:      DefaultChunkSize,
		chunkOverlap:   DefaultChunkOverlap,
		maxExpandRatio: DefaultMaxExpandRatio,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AddFiles links the files into the KB synchronously. Per-file failures
// land in the skip list; the batch continues.
func (p *Pipeline) AddFiles(ctx context.Context, userID, kbID int64, fileIDs []int64) (*Stats, []Skip, error) {
	ctx, span := trace.Tracer.Start(ctx, "ingest.add_files")
	defer span.End()
	span.SetAttributes(
		attribute.Int64(trace.AttrUserID, userID),
		attribute.Int64(trace.AttrKnowledgeBaseID, kbID),
		attribute.Int(trace.AttrFileCount, len(fileIDs)),
	)

	base, err := p.store.GetKnowledgeBase(ctx, userID, kbID)
	if err != nil {
		return nil, nil, err
	}

	stats := &Stats{}
	var skipped []Skip
	for _, fileID := range fileIDs {
		f, err := p.store.GetFile(ctx, userID, fileID)
		if err != nil {
			stats.FilesSkipped++
			skipped = append(skipped, Skip{FileID: fileID, Reason: reasonOf(err)})
			continue
		}
		chunks, err := p.addFile(ctx, base, f)
		if err != nil {
			stats.FilesSkipped++
			skipped = append(skipped, Skip{FileID: f.ID, Filename: f.Filename, Reason: reasonOf(err)})
			continue
		}
		stats.FilesAdded++
		stats.ChunksAdded += chunks
	}
	span.SetAttributes(attribute.Int(trace.AttrChunkCount, stats.ChunksAdded))
	return stats, skipped, nil
}

// AddFilesStream runs AddFiles asynchronously, emitting ordered progress
// events. The channel closes after the final done (or error) event.
func (p *Pipeline) AddFilesStream(ctx context.Context, userID, kbID int64, fileIDs []int64) (<-chan Event, error) {
	base, err := p.store.GetKnowledgeBase(ctx, userID, kbID)
	if err != nil {
		return nil, err
	}

	events := make(chan Event)
	go func() {
		defer close(events)
		stats := &Stats{}
		var skipped []Skip
		for _, fileID := range fileIDs {
			f, err := p.store.GetFile(ctx, userID, fileID)
			if err != nil {
				stats.FilesSkipped++
				skip := Skip{FileID: fileID, Reason: reasonOf(err)}
				skipped = append(skipped, skip)
				events <- Event{Type: EventFileSkip, FileID: fileID, Reason: skip.Reason}
				continue
			}
			events <- Event{Type: EventFileStart, FileID: f.ID, Filename: f.Filename}
			chunks, err := p.addFile(ctx, base, f)
			if err != nil {
				stats.FilesSkipped++
				skip := Skip{FileID: f.ID, Filename: f.Filename, Reason: reasonOf(err)}
				skipped = append(skipped, skip)
				events <- Event{Type: EventFileSkip, FileID: f.ID, Filename: f.Filename, Reason: skip.Reason}
				continue
			}
			stats.FilesAdded++
			stats.ChunksAdded += chunks
			events <- Event{Type: EventFileDone, FileID: f.ID, Filename: f.Filename, Chunks: chunks}
		}
		events <- Event{Type: EventDone, Stats: stats, Skipped: skipped}
	}()
	return events, nil
}

// RemoveFile drops the file's chunks and membership in the KB, with
// counters kept consistent and vectors cleaned up best effort.
func (p *Pipeline) RemoveFile(ctx context.Context, userID, kbID, fileID int64) error {
	if _, err := p.store.GetKnowledgeBase(ctx, userID, kbID); err != nil {
		return err
	}
	if _, err := p.store.GetFile(ctx, userID, fileID); err != nil {
		return err
	}

	var vectorIDs []int64
	err := p.store.Client().Transaction(ctx, func(tx *sql.Tx) error {
		ids, err := p.store.DeleteChunksTx(ctx, tx, kbID, fileID)
		if err != nil {
			return err
		}
		vectorIDs = ids
		if err := p.store.AddKBChunkCountTx(ctx, tx, kbID, -len(ids)); err != nil {
			return err
		}
		if err := p.store.AddFileChunkCountTx(ctx, tx, fileID, -len(ids)); err != nil {
			return err
		}
		if err := p.store.UnlinkFileTx(ctx, tx, kbID, fileID); err != nil {
			return err
		}
		return p.store.RefreshKBFileCountTx(ctx, tx, kbID)
	})
	if err != nil {
		return errs.Wrapf(errs.KindDependency, err, "remove file %d from kb %d", fileID, kbID)
	}
	p.deleteVectors(ctx, vectorIDs)
	return nil
}

// RemoveKnowledgeBase deletes the KB with its chunks, reducing per-file
// chunk counters and cleaning up vectors best effort.
func (p *Pipeline) RemoveKnowledgeBase(ctx context.Context, userID, kbID int64) error {
	if _, err := p.store.GetKnowledgeBase(ctx, userID, kbID); err != nil {
		return err
	}
	fileIDs, err := p.store.ListKBFileIDs(ctx, kbID)
	if err != nil {
		return err
	}

	var vectorIDs []int64
	err = p.store.Client().Transaction(ctx, func(tx *sql.Tx) error {
		for _, fileID := range fileIDs {
			ids, err := p.store.DeleteChunksTx(ctx, tx, kbID, fileID)
			if err != nil {
				return err
			}
			vectorIDs = append(vectorIDs, ids...)
			if err := p.store.AddFileChunkCountTx(ctx, tx, fileID, -len(ids)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errs.Wrapf(errs.KindDependency, err, "remove chunks of kb %d", kbID)
	}
	if err := p.store.DeleteKnowledgeBase(ctx, kbID); err != nil {
		return err
	}
	p.deleteVectors(ctx, vectorIDs)
	return nil
}

// ReindexFile re-ingests the file in the KB from its stored bytes.
func (p *Pipeline) ReindexFile(ctx context.Context, userID, kbID, fileID int64) (*Stats, []Skip, error) {
	if err := p.RemoveFile(ctx, userID, kbID, fileID); err != nil {
		return nil, nil, err
	}
	return p.AddFiles(ctx, userID, kbID, []int64{fileID})
}

// ReindexAll re-ingests every file currently linked into the KB.
func (p *Pipeline) ReindexAll(ctx context.Context, userID, kbID int64) (*Stats, []Skip, error) {
	fileIDs, err := p.store.ListKBFileIDs(ctx, kbID)
	if err != nil {
		return nil, nil, err
	}
	for _, fileID := range fileIDs {
		if err := p.RemoveFile(ctx, userID, kbID, fileID); err != nil {
			return nil, nil, err
		}
	}
	return p.AddFiles(ctx, userID, kbID, fileIDs)
}

// addFile runs the per-file algorithm in one transaction. It returns the
// number of chunks written, or a skipError for recorded skip reasons.
func (p *Pipeline) addFile(ctx context.Context, base *kb.KnowledgeBase, f *kb.File) (int, error) {
	linked, err := p.store.FileLinked(ctx, base.ID, f.ID)
	if err != nil {
		return 0, err
	}
	if linked {
		return 0, &skipError{reason: "already in KB"}
	}

	var written int
	var upserted []uint64
	err = p.store.Client().Transaction(ctx, func(tx *sql.Tx) error {
		inserted, err := p.store.LinkFileTx(ctx, tx, base.ID, f.ID)
		if err != nil {
			return err
		}
		if !inserted {
			return &skipError{reason: "already in KB"}
		}

		data, _, err := p.objects.Get(ctx, f.StoragePath)
		if err != nil {
			return &skipError{reason: fmt.Sprintf("read file: %v", err)}
		}

		text, err := p.extractors.Extract(ctx, f.FileType, data)
		if err != nil {
			return &skipError{reason: fmt.Sprintf("extract text: %v", err)}
		}
		if strings.TrimSpace(text) == "" && !isImage(f.FileType) {
			return &skipError{reason: "empty text"}
		}

		chunks, err := p.chunkText(base, f, text)
		if err != nil {
			return &skipError{reason: fmt.Sprintf("chunk text: %v", err)}
		}
		if len(chunks) == 0 && !isImage(f.FileType) {
			return &skipError{reason: "no chunks"}
		}

		points, err := p.persistTextChunks(ctx, tx, base, f, chunks)
		if err != nil {
			return err
		}

		if isImage(f.FileType) && p.imageEmbed != nil {
			point, err := p.persistImageChunk(ctx, tx, base, f, text, data, len(chunks))
			if err != nil {
				return err
			}
			points = append(points, point)
		}
		if len(points) == 0 {
			return &skipError{reason: "no chunks"}
		}

		if err := p.ensureCollection(ctx); err != nil {
			return err
		}
		if err := p.vectors.Upsert(ctx, points); err != nil {
			return errs.Wrapf(errs.KindDependency, err, "upsert vectors")
		}
		for _, pt := range points {
			upserted = append(upserted, pt.ID)
		}

		written = len(points)
		if err := p.store.AddFileChunkCountTx(ctx, tx, f.ID, written); err != nil {
			return err
		}
		if err := p.store.AddKBChunkCountTx(ctx, tx, base.ID, written); err != nil {
			return err
		}
		return p.store.RefreshKBFileCountTx(ctx, tx, base.ID)
	})
	if err != nil {
		if len(upserted) > 0 {
			log.Warnf("ingest rollback for file %d leaves %d orphan vectors: %v",
				f.ID, len(upserted), upserted)
		}
		return 0, err
	}
	return written, nil
}

// persistTextChunks writes chunk rows and builds their vector points.
func (p *Pipeline) persistTextChunks(
	ctx context.Context, tx *sql.Tx, base *kb.KnowledgeBase, f *kb.File, chunks []string,
) ([]vectorstore.Point, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	rows := make([]*kb.Chunk, len(chunks))
	for i, content := range chunks {
		row := &kb.Chunk{
			FileID:          f.ID,
			KnowledgeBaseID: base.ID,
			ChunkIndex:      i,
			Content:         content,
			Metadata:        map[string]any{"embedding_source": kb.EmbeddingSourceText},
		}
		if err := p.store.InsertChunkTx(ctx, tx, row); err != nil {
			return nil, err
		}
		row.VectorID = int64(vectorstore.VectorID(row.ID))
		if err := p.store.SetChunkVectorIDTx(ctx, tx, row.ID, row.VectorID); err != nil {
			return nil, err
		}
		rows[i] = row
	}

	vectors, err := p.embed.EmbedTexts(ctx, chunks)
	if err != nil {
		return nil, errs.Wrapf(errs.KindDependency, err, "embed %d chunks", len(chunks))
	}
	if len(vectors) != len(chunks) {
		return nil, &skipError{reason: fmt.Sprintf(
			"embed count mismatch: %d vectors for %d chunks", len(vectors), len(chunks))}
	}

	points := make([]vectorstore.Point, len(rows))
	for i, row := range rows {
		points[i] = vectorstore.Point{
			ID:     uint64(row.VectorID),
			Vector: vectorstore.ToFloat32(vectors[i]),
			Payload: vectorstore.Payload{
				ChunkID:         row.ID,
				Content:         vectorstore.PayloadContent(row.Content),
				FileID:          f.ID,
				KnowledgeBaseID: base.ID,
				UserID:          f.UserID,
				ChunkIndex:      row.ChunkIndex,
				EmbeddingSource: kb.EmbeddingSourceText,
			},
		}
	}
	return points, nil
}

// persistImageChunk writes the extra image-source chunk whose vector is
// the image embedding, enabling text-to-image search in the same space.
func (p *Pipeline) persistImageChunk(
	ctx context.Context, tx *sql.Tx, base *kb.KnowledgeBase, f *kb.File,
	ocrText string, data []byte, index int,
) (vectorstore.Point, error) {
	content := encoding.SafeTruncate(strings.TrimSpace(ocrText), MaxImageChunkContent)
	if content == "" {
		content = imagePlaceholder
	}
	row := &kb.Chunk{
		FileID:          f.ID,
		KnowledgeBaseID: base.ID,
		ChunkIndex:      index,
		Content:         content,
		Metadata:        map[string]any{"embedding_source": kb.EmbeddingSourceImage},
	}
	if err := p.store.InsertChunkTx(ctx, tx, row); err != nil {
		return vectorstore.Point{}, err
	}
	row.VectorID = int64(vectorstore.VectorID(row.ID))
	if err := p.store.SetChunkVectorIDTx(ctx, tx, row.ID, row.VectorID); err != nil {
		return vectorstore.Point{}, err
	}

	vec, err := p.imageEmbed.EmbedImage(ctx, data, f.FileType)
	if err != nil {
		return vectorstore.Point{}, errs.Wrapf(errs.KindDependency, err, "embed image")
	}
	return vectorstore.Point{
		ID:     uint64(row.VectorID),
		Vector: vectorstore.ToFloat32(vec),
		Payload: vectorstore.Payload{
			ChunkID:         row.ID,
			Content:         encoding.SafeTruncate(content, maxImagePayload),
			FileID:          f.ID,
			KnowledgeBaseID: base.ID,
			UserID:          f.UserID,
			ChunkIndex:      row.ChunkIndex,
			EmbeddingSource: kb.EmbeddingSourceImage,
		},
	}, nil
}

// chunkText splits extracted text with KB overrides over the defaults.
func (p *Pipeline) chunkText(base *kb.KnowledgeBase, f *kb.File, text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	size, overlap, ratio := p.chunkSize, p.chunkOverlap, p.maxExpandRatio
	if base.ChunkSize != nil && *base.ChunkSize > 0 {
		size = *base.ChunkSize
	}
	if base.ChunkOverlap != nil && *base.ChunkOverlap >= 0 {
		overlap = *base.ChunkOverlap
	}
	if base.ChunkMaxExpandRatio != nil && *base.ChunkMaxExpandRatio > 0 {
		ratio = *base.ChunkMaxExpandRatio
	}

	var strategy chunking.Strategy
	if isMarkdown(f.FileType) {
		strategy = chunking.NewMarkdownChunking(
			chunking.WithMarkdownChunkSize(size),
			chunking.WithMarkdownOverlap(overlap),
		)
	} else {
		strategy = chunking.NewSentenceChunking(
			chunking.WithChunkSize(size),
			chunking.WithOverlap(overlap),
			chunking.WithMaxExpandRatio(ratio),
		)
	}
	docs, err := strategy.Chunk(document.New(f.Filename, text))
	if err != nil {
		return nil, err
	}
	chunks := make([]string, len(docs))
	for i, doc := range docs {
		chunks[i] = doc.Content
	}
	return chunks, nil
}

// ensureCollection probes the embedder once to observe the real dimension
// and creates the collection with it. Retries on the next file if it fails.
func (p *Pipeline) ensureCollection(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ensured {
		return nil
	}
	vecs, err := p.embed.EmbedTexts(ctx, []string{"dimension probe"})
	if err != nil {
		return errs.Wrapf(errs.KindDependency, err, "dimension probe")
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return errs.New(errs.KindDependency, "dimension probe returned no vector")
	}
	if err := p.vectors.EnsureCollection(ctx, len(vecs[0])); err != nil {
		return errs.Wrapf(errs.KindDependency, err, "ensure collection")
	}
	p.ensured = true
	return nil
}

func (p *Pipeline) deleteVectors(ctx context.Context, vectorIDs []int64) {
	if len(vectorIDs) == 0 {
		return
	}
	ids := make([]uint64, len(vectorIDs))
	for i, id := range vectorIDs {
		ids[i] = uint64(id)
	}
	if err := p.vectors.DeleteByIDs(ctx, ids); err != nil {
		log.Warnf("delete %d vectors: %v", len(ids), err)
	}
}

func isMarkdown(fileType string) bool {
	switch strings.ToLower(fileType) {
	case "md", "markdown":
		return true
	}
	return false
}

func isImage(fileType string) bool {
	_, ok := imageExtensions[strings.ToLower(fileType)]
	return ok
}

// reasonOf flattens an error into a skip reason.
func reasonOf(err error) string {
	var skip *skipError
	if errors.As(err, &skip) {
		return skip.reason
	}
	return err.Error()
}
