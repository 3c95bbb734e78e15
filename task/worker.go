//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	segmentio "github.com/segmentio/kafka-go"

	"trpc.group/trpc-go/trpc-rag-go/kb/ingest"
	"trpc.group/trpc-go/trpc-rag-go/log"
	"trpc.group/trpc-go/trpc-rag-go/storage/kafka"
)

// Worker consumes queued jobs and executes them through the pipeline.
type Worker struct {
	reader   kafka.Reader
	status   *StatusStore
	executor Executor
}

// NewWorker builds a queue worker.
func NewWorker(reader kafka.Reader, status *StatusStore, executor Executor) *Worker {
	return &Worker{reader: reader, status: status, executor: executor}
}

// Run consumes jobs until the context is cancelled. Malformed messages
// are committed and dropped; execution failures are recorded as FAILURE
// and committed so the job is not redelivered forever.
func (w *Worker) Run(ctx context.Context) error {
	for {
		msg, err := w.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return fmt.Errorf("fetch job: %w", err)
		}

		var job Job
		if err := json.Unmarshal(msg.Value, &job); err != nil {
			log.Errorf("drop malformed job message: %v", err)
			w.commit(ctx, msg)
			continue
		}

		w.execute(ctx, job)
		w.commit(ctx, msg)
	}
}

func (w *Worker) execute(ctx context.Context, job Job) {
	log.Infof("task %s: %s starting", job.ID, job.Type)
	_ = w.status.Set(ctx, job.ID, &Meta{Status: StateStarted})

	result, err := w.executor.Execute(ctx, job)
	if err != nil {
		log.Errorf("task %s: %s failed: %v", job.ID, job.Type, err)
		_ = w.status.Set(ctx, job.ID, &Meta{
			Status:    StateFailure,
			Error:     err.Error(),
			Traceback: fmt.Sprintf("%+v", err),
		})
		return
	}

	meta := &Meta{Status: StateSuccess}
	if raw, err := json.Marshal(result); err == nil {
		meta.Result = raw
	}
	_ = w.status.Set(ctx, job.ID, meta)
	log.Infof("task %s: %s done", job.ID, job.Type)
}

func (w *Worker) commit(ctx context.Context, msg segmentio.Message) {
	if err := w.reader.CommitMessages(ctx, msg); err != nil {
		log.Warnf("commit job offset: %v", err)
	}
}

// PipelineExecutor adapts the ingestion pipeline to the job contract.
type PipelineExecutor struct {
	pipeline *ingest.Pipeline
}

// NewPipelineExecutor wraps the pipeline.
func NewPipelineExecutor(p *ingest.Pipeline) *PipelineExecutor {
	return &PipelineExecutor{pipeline: p}
}

var _ Executor = (*PipelineExecutor)(nil)

// Execute dispatches on the job type.
func (e *PipelineExecutor) Execute(ctx context.Context, job Job) (any, error) {
	switch job.Type {
	case JobAddFiles:
		stats, skipped, err := e.pipeline.AddFiles(ctx, job.UserID, job.KnowledgeBaseID, job.FileIDs)
		return ingestResult(stats, skipped), err
	case JobReindexFile:
		if len(job.FileIDs) != 1 {
			return nil, fmt.Errorf("reindex_file expects exactly one file id, got %d", len(job.FileIDs))
		}
		stats, skipped, err := e.pipeline.ReindexFile(ctx, job.UserID, job.KnowledgeBaseID, job.FileIDs[0])
		return ingestResult(stats, skipped), err
	case JobReindexAll:
		stats, skipped, err := e.pipeline.ReindexAll(ctx, job.UserID, job.KnowledgeBaseID)
		return ingestResult(stats, skipped), err
	default:
		return nil, fmt.Errorf("unknown job type %q", job.Type)
	}
}

func ingestResult(stats *ingest.Stats, skipped []ingest.Skip) map[string]any {
	if stats == nil {
		return nil
	}
	return map[string]any{
		"files_added":   stats.FilesAdded,
		"files_skipped": stats.FilesSkipped,
		"chunks_added":  stats.ChunksAdded,
		"skipped":       skipped,
	}
}
