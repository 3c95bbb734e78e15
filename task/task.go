//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package task submits long ingestion jobs to a durable queue with a
// synchronous in-process fallback, and tracks their status in redis.
package task

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	segmentio "github.com/segmentio/kafka-go"

	"trpc.group/trpc-go/trpc-rag-go/internal/errs"
	"trpc.group/trpc-go/trpc-rag-go/log"
	"trpc.group/trpc-go/trpc-rag-go/storage/kafka"
)

// Job types understood by the worker.
const (
	JobAddFiles    = "kb.add_files"
	JobReindexFile = "kb.reindex_file"
	JobReindexAll  = "kb.reindex_all"
)

// Task states, matching the status polling contract.
const (
	StatePending = "PENDING"
	StateStarted = "STARTED"
	StateSuccess = "SUCCESS"
	StateFailure = "FAILURE"
	StateRetry   = "RETRY"
)

// DefaultSubmitTimeout bounds the queue submit before falling back to
// synchronous execution.
const DefaultSubmitTimeout = 10 * time.Second

// statusTTL keeps finished task metadata around for a day.
const statusTTL = 24 * time.Hour

const statusKeyPrefix = "task:meta:"

// Job is one queued ingestion operation.
type Job struct {
	ID              string    `json:"id"`
	Type            string    `json:"type"`
	UserID          int64     `json:"user_id"`
	KnowledgeBaseID int64     `json:"knowledge_base_id"`
	FileIDs         []int64   `json:"file_ids,omitempty"`
	SubmittedAt     time.Time `json:"submitted_at"`
}

// Submission is the result of submitting a job. Sync marks jobs the queue
// could not take, which were executed in-process instead; those carry no
// TaskID since there is nothing to poll, the result is already attached.
type Submission struct {
	TaskID string `json:"task_id,omitempty"`
	Sync   bool   `json:"sync"`
	Result any    `json:"result,omitempty"`
}

// Meta is the polled task status.
type Meta struct {
	Status    string          `json:"status"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	Traceback string          `json:"traceback,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Executor runs a job's operation. The ingestion pipeline adapter in this
// package implements it.
type Executor interface {
	Execute(ctx context.Context, job Job) (any, error)
}

// Runner submits jobs and polls their status.
type Runner struct {
	writer        kafka.Writer
	status        *StatusStore
	executor      Executor
	submitTimeout time.Duration
}

// RunnerOption configures the runner.
type RunnerOption func(*Runner)

// WithSubmitTimeout overrides the queue submit deadline.
func WithSubmitTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.submitTimeout = d
		}
	}
}

// NewRunner builds a task runner over the queue writer and status store.
func NewRunner(writer kafka.Writer, status *StatusStore, executor Executor, opts ...RunnerOption) *Runner {
	r := &Runner{
		writer:        writer,
		status:        status,
		executor:      executor,
		submitTimeout: DefaultSubmitTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Submit enqueues the job within the submit timeout. When the queue is
// unavailable or slow, the job runs in-process and the submission is
// marked Sync with the result attached.
func (r *Runner) Submit(ctx context.Context, job Job) (*Submission, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.SubmittedAt = time.Now().UTC()

	if err := r.status.Set(ctx, job.ID, &Meta{Status: StatePending}); err != nil {
		log.Warnf("task %s: set pending status: %v", job.ID, err)
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return nil, errs.Wrapf(errs.KindValidation, err, "encode job")
	}

	submitCtx, cancel := context.WithTimeout(ctx, r.submitTimeout)
	defer cancel()
	err = r.writer.WriteMessages(submitCtx, segmentio.Message{
		Key:   []byte(job.ID),
		Value: payload,
	})
	if err == nil {
		return &Submission{TaskID: job.ID}, nil
	}

	log.Warnf("task %s: queue submit failed, executing synchronously: %v", job.ID, err)
	result := r.runSync(ctx, job)
	return &Submission{Sync: true, Result: result}, nil
}

// Status returns the job's polled state. Unknown ids read as PENDING,
// matching queue backends that create state lazily.
func (r *Runner) Status(ctx context.Context, taskID string) (*Meta, error) {
	return r.status.Get(ctx, taskID)
}

func (r *Runner) runSync(ctx context.Context, job Job) any {
	_ = r.status.Set(ctx, job.ID, &Meta{Status: StateStarted})
	result, err := r.executor.Execute(ctx, job)
	if err != nil {
		_ = r.status.Set(ctx, job.ID, &Meta{Status: StateFailure, Error: err.Error()})
		return map[string]any{"error": err.Error()}
	}
	r.finishSuccess(ctx, job.ID, result)
	return result
}

func (r *Runner) finishSuccess(ctx context.Context, taskID string, result any) {
	meta := &Meta{Status: StateSuccess}
	if raw, err := json.Marshal(result); err == nil {
		meta.Result = raw
	}
	_ = r.status.Set(ctx, taskID, meta)
}

// StatusStore keeps task metadata in redis under task:meta:<id>.
type StatusStore struct {
	client redis.UniversalClient
}

// NewStatusStore builds a status store over the redis client.
func NewStatusStore(client redis.UniversalClient) *StatusStore {
	return &StatusStore{client: client}
}

// Set writes the task state with the retention TTL.
func (s *StatusStore) Set(ctx context.Context, taskID string, meta *Meta) error {
	meta.UpdatedAt = time.Now().UTC()
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, statusKeyPrefix+taskID, raw, statusTTL).Err()
}

// Get reads the task state. Missing keys read as PENDING.
func (s *StatusStore) Get(ctx context.Context, taskID string) (*Meta, error) {
	raw, err := s.client.Get(ctx, statusKeyPrefix+taskID).Bytes()
	if err == redis.Nil {
		return &Meta{Status: StatePending}, nil
	}
	if err != nil {
		return nil, errs.Wrapf(errs.KindDependency, err, "get task %s status", taskID)
	}
	var meta Meta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, errs.Wrapf(errs.KindDataIntegrity, err, "decode task %s status", taskID)
	}
	return &meta, nil
}
