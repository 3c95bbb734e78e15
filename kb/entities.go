//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

package kb

import "time"

// File processing statuses.
const (
	FileStatusUploading  = "uploading"
	FileStatusProcessing = "processing"
	FileStatusCompleted  = "completed"
	FileStatusFailed     = "failed"
)

// Chunk embedding sources.
const (
	EmbeddingSourceText  = "text"
	EmbeddingSourceImage = "image"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// File is an uploaded file owned by a user. Bytes live in the object
// store under StoragePath; the row tracks processing state.
type File struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	Filename    string    `json:"filename"`
	FileType    string    `json:"file_type"`
	FileSize    int64     `json:"file_size"`
	StoragePath string    `json:"storage_path"`
	ContentHash string    `json:"content_hash"`
	Status      string    `json:"status"`
	ChunkCount  int       `json:"chunk_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// KnowledgeBase groups files for retrieval. Chunking fields are nullable
// per-KB overrides of the global config.
type KnowledgeBase struct {
	ID                  int64     `json:"id"`
	UserID              int64     `json:"user_id"`
	Name                string    `json:"name"`
	Description         string    `json:"description"`
	ChunkSize           *int      `json:"chunk_size,omitempty"`
	ChunkOverlap        *int      `json:"chunk_overlap,omitempty"`
	ChunkMaxExpandRatio *float64  `json:"chunk_max_expand_ratio,omitempty"`
	EnableHybrid        bool      `json:"enable_hybrid"`
	EnableRerank        bool      `json:"enable_rerank"`
	FileCount           int       `json:"file_count"`
	ChunkCount          int       `json:"chunk_count"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// KnowledgeBaseFile links a file into a knowledge base.
type KnowledgeBaseFile struct {
	ID              int64     `json:"id"`
	KnowledgeBaseID int64     `json:"knowledge_base_id"`
	FileID          int64     `json:"file_id"`
	CreatedAt       time.Time `json:"created_at"`
}

// Chunk is one indexed piece of a file within a knowledge base. VectorID
// is the deterministic vector store id derived from the chunk id.
type Chunk struct {
	ID              int64          `json:"id"`
	FileID          int64          `json:"file_id"`
	KnowledgeBaseID int64          `json:"knowledge_base_id"`
	ChunkIndex      int            `json:"chunk_index"`
	Content         string         `json:"content"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	VectorID        int64          `json:"vector_id"`
	CreatedAt       time.Time      `json:"created_at"`
}

// EmbeddingSource reads the chunk's embedding source from metadata,
// defaulting to text.
func (c *Chunk) EmbeddingSource() string {
	if c.Metadata != nil {
		if s, ok := c.Metadata["embedding_source"].(string); ok && s != "" {
			return s
		}
	}
	return EmbeddingSourceText
}

// Conversation is a chat thread, optionally bound to one knowledge base.
type Conversation struct {
	ID              int64     `json:"id"`
	UserID          int64     `json:"user_id"`
	KnowledgeBaseID *int64    `json:"knowledge_base_id,omitempty"`
	Title           string    `json:"title"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Message is one turn in a conversation. Confidence and the context
// fields are nullable; Sources carries serialized citations.
type Message struct {
	ID                   int64     `json:"id"`
	ConversationID       int64     `json:"conversation_id"`
	Role                 string    `json:"role"`
	Content              string    `json:"content"`
	Tokens               int       `json:"tokens"`
	Model                string    `json:"model"`
	Confidence           *float64  `json:"confidence,omitempty"`
	RetrievedContext     *string   `json:"retrieved_context,omitempty"`
	MaxConfidenceContext *string   `json:"max_confidence_context,omitempty"`
	Sources              *string   `json:"sources,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
}

// Citation points a generated answer back to an indexed chunk.
type Citation struct {
	FileID     int64  `json:"file_id"`
	Filename   string `json:"filename"`
	ChunkIndex int    `json:"chunk_index"`
	Snippet    string `json:"snippet"`
}
