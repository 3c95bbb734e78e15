//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, 500, cfg.ChunkSize)
	assert.Equal(t, 50, cfg.ChunkOverlap)
	assert.InDelta(t, 1.3, cfg.ChunkMaxExpandRatio, 1e-9)
	assert.InDelta(t, 0.6, cfg.RAGConfidenceThreshold, 1e-9)
	assert.Equal(t, 60, cfg.RRFK)
	assert.True(t, cfg.RAGUseBM25)
	assert.Equal(t, 1, cfg.RAGContextWindowExpand)
	assert.Equal(t, 100, cfg.ChatHistoryMaxCount)
	assert.Equal(t, 8, cfg.ChatContextMessageCount)
	assert.Equal(t, 80, cfg.PDFOCRMinChars)
	assert.Equal(t, int64(100*1024*1024), cfg.MaxFileSize)
	assert.Equal(t, DedupUseExisting, cfg.UploadOnDuplicate)
	assert.Equal(t, 10*time.Second, cfg.TaskSubmitTimeout)
	assert.Equal(t, "rag_collection", cfg.VectorCollection)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CHUNK_SIZE", "800")
	t.Setenv("RAG_USE_BM25", "false")
	t.Setenv("CACHE_TTL_DETAIL", "45")
	t.Setenv("TASK_SUBMIT_TIMEOUT", "3s")
	t.Setenv("KAFKA_BROKERS", "b1:9092, b2:9092")

	cfg := Load()
	assert.Equal(t, 800, cfg.ChunkSize)
	assert.False(t, cfg.RAGUseBM25)
	assert.Equal(t, 45*time.Second, cfg.CacheTTLDetail)
	assert.Equal(t, 3*time.Second, cfg.TaskSubmitTimeout)
	assert.Equal(t, []string{"b1:9092", "b2:9092"}, cfg.KafkaBrokers)
}

func TestEnvInvalidFallsBack(t *testing.T) {
	t.Setenv("CHUNK_SIZE", "not-a-number")
	t.Setenv("RAG_CONFIDENCE_THRESHOLD", "high")
	t.Setenv("RAG_QUERY_EXPAND", "maybe")

	cfg := Load()
	assert.Equal(t, 500, cfg.ChunkSize)
	assert.InDelta(t, 0.6, cfg.RAGConfidenceThreshold, 1e-9)
	assert.False(t, cfg.RAGQueryExpand)
}

func TestAllowedType(t *testing.T) {
	cfg := Load()
	require.NotEmpty(t, cfg.AllowedFileTypes)

	assert.True(t, cfg.AllowedType("pdf"))
	assert.True(t, cfg.AllowedType(".PDF"))
	assert.True(t, cfg.AllowedType("jpeg"))
	assert.False(t, cfg.AllowedType("exe"))
	assert.False(t, cfg.AllowedType(""))
}
