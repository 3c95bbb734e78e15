//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

package kb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"trpc.group/trpc-go/trpc-rag-go/log"
	storage "trpc.group/trpc-go/trpc-rag-go/storage/postgres"
)

// Table names
const (
	tableUsers              = "users"
	tableFiles              = "files"
	tableKnowledgeBases     = "knowledge_bases"
	tableKnowledgeBaseFiles = "knowledge_base_files"
	tableChunks             = "chunks"
	tableConversations      = "conversations"
	tableMessages           = "messages"
)

// SQL templates for table creation
const (
	sqlCreateUsersTable = `
		CREATE TABLE IF NOT EXISTS {{TABLE_NAME}} (
			id BIGSERIAL PRIMARY KEY,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`

	sqlCreateFilesTable = `
		CREATE TABLE IF NOT EXISTS {{TABLE_NAME}} (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL,
			filename VARCHAR(255) NOT NULL,
			file_type VARCHAR(32) NOT NULL,
			file_size BIGINT NOT NULL DEFAULT 0,
			storage_path VARCHAR(512) NOT NULL,
			content_hash VARCHAR(64) NOT NULL,
			status VARCHAR(32) NOT NULL DEFAULT 'uploading',
			chunk_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`

	sqlCreateKnowledgeBasesTable = `
		CREATE TABLE IF NOT EXISTS {{TABLE_NAME}} (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL,
			name VARCHAR(255) NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			chunk_size INTEGER DEFAULT NULL,
			chunk_overlap INTEGER DEFAULT NULL,
			chunk_max_expand_ratio DOUBLE PRECISION DEFAULT NULL,
			enable_hybrid BOOLEAN NOT NULL DEFAULT TRUE,
			enable_rerank BOOLEAN NOT NULL DEFAULT TRUE,
			file_count INTEGER NOT NULL DEFAULT 0,
			chunk_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`

	sqlCreateKnowledgeBaseFilesTable = `
		CREATE TABLE IF NOT EXISTS {{TABLE_NAME}} (
			id BIGSERIAL PRIMARY KEY,
			knowledge_base_id BIGINT NOT NULL,
			file_id BIGINT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`

	sqlCreateChunksTable = `
		CREATE TABLE IF NOT EXISTS {{TABLE_NAME}} (
			id BIGSERIAL PRIMARY KEY,
			file_id BIGINT NOT NULL,
			knowledge_base_id BIGINT NOT NULL,
			chunk_index INTEGER NOT NULL,
			content TEXT NOT NULL,
			metadata JSONB DEFAULT NULL,
			vector_id BIGINT DEFAULT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`

	sqlCreateConversationsTable = `
		CREATE TABLE IF NOT EXISTS {{TABLE_NAME}} (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL,
			knowledge_base_id BIGINT DEFAULT NULL,
			title VARCHAR(255) NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`

	sqlCreateMessagesTable = `
		CREATE TABLE IF NOT EXISTS {{TABLE_NAME}} (
			id BIGSERIAL PRIMARY KEY,
			conversation_id BIGINT NOT NULL,
			role VARCHAR(16) NOT NULL,
			content TEXT NOT NULL,
			tokens INTEGER NOT NULL DEFAULT 0,
			model VARCHAR(128) NOT NULL DEFAULT '',
			confidence DOUBLE PRECISION DEFAULT NULL,
			retrieved_context TEXT DEFAULT NULL,
			max_confidence_context TEXT DEFAULT NULL,
			sources TEXT DEFAULT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`

	// files: dedup lookup by owner + content hash
	sqlCreateFilesHashIndex = `
		CREATE INDEX IF NOT EXISTS {{INDEX_NAME}}
		ON {{TABLE_NAME}}(user_id, content_hash)`

	// knowledge_bases: owner listing
	sqlCreateKnowledgeBasesUserIndex = `
		CREATE INDEX IF NOT EXISTS {{INDEX_NAME}}
		ON {{TABLE_NAME}}(user_id)`

	// knowledge_base_files: one link per (kb, file)
	sqlCreateKnowledgeBaseFilesUniqueIndex = `
		CREATE UNIQUE INDEX IF NOT EXISTS {{INDEX_NAME}}
		ON {{TABLE_NAME}}(knowledge_base_id, file_id)`

	// chunks: per-KB retrieval scans
	sqlCreateChunksKBIndex = `
		CREATE INDEX IF NOT EXISTS {{INDEX_NAME}}
		ON {{TABLE_NAME}}(knowledge_base_id)`

	// chunks: window expansion by (file_id, chunk_index)
	sqlCreateChunksFileIndex = `
		CREATE INDEX IF NOT EXISTS {{INDEX_NAME}}
		ON {{TABLE_NAME}}(file_id, chunk_index)`

	// conversations: eviction and listing by (user_id, updated_at)
	sqlCreateConversationsUserIndex = `
		CREATE INDEX IF NOT EXISTS {{INDEX_NAME}}
		ON {{TABLE_NAME}}(user_id, updated_at)`

	// messages: history reads in order
	sqlCreateMessagesConvIndex = `
		CREATE INDEX IF NOT EXISTS {{INDEX_NAME}}
		ON {{TABLE_NAME}}(conversation_id, created_at)`
)

type tableDefinition struct {
	name     string
	template string
}

type indexDefinition struct {
	table    string
	suffix   string
	template string
}

var tableDefs = []tableDefinition{
	{tableUsers, sqlCreateUsersTable},
	{tableFiles, sqlCreateFilesTable},
	{tableKnowledgeBases, sqlCreateKnowledgeBasesTable},
	{tableKnowledgeBaseFiles, sqlCreateKnowledgeBaseFilesTable},
	{tableChunks, sqlCreateChunksTable},
	{tableConversations, sqlCreateConversationsTable},
	{tableMessages, sqlCreateMessagesTable},
}

var indexDefs = []indexDefinition{
	{tableFiles, "hash", sqlCreateFilesHashIndex},
	{tableKnowledgeBases, "user", sqlCreateKnowledgeBasesUserIndex},
	{tableKnowledgeBaseFiles, "unique_link", sqlCreateKnowledgeBaseFilesUniqueIndex},
	{tableChunks, "kb", sqlCreateChunksKBIndex},
	{tableChunks, "file_pos", sqlCreateChunksFileIndex},
	{tableConversations, "user_updated", sqlCreateConversationsUserIndex},
	{tableMessages, "conv_created", sqlCreateMessagesConvIndex},
}

func buildCreateTableSQL(prefix, tableName, template string) string {
	return strings.ReplaceAll(template, "{{TABLE_NAME}}", prefix+tableName)
}

func buildIndexName(prefix, tableName, suffix string) string {
	return fmt.Sprintf("idx_%s%s_%s", prefix, tableName, suffix)
}

func buildIndexSQL(prefix, tableName, suffix, template string) string {
	out := strings.ReplaceAll(template, "{{TABLE_NAME}}", prefix+tableName)
	return strings.ReplaceAll(out, "{{INDEX_NAME}}", buildIndexName(prefix, tableName, suffix))
}

// InitSchema creates tables and indexes idempotently, then verifies the
// tables exist. The prefix must match the one the Store was built with.
func InitSchema(ctx context.Context, client storage.Client, prefix string) error {
	if prefix != "" {
		if err := validateTablePrefix(prefix); err != nil {
			return fmt.Errorf("invalid table prefix: %w", err)
		}
		if !strings.HasSuffix(prefix, "_") {
			prefix += "_"
		}
	}

	for _, table := range tableDefs {
		tableSQL := buildCreateTableSQL(prefix, table.name, table.template)
		if _, err := client.ExecContext(ctx, tableSQL); err != nil {
			return fmt.Errorf("create table %s failed: %w", prefix+table.name, err)
		}
	}
	for _, idx := range indexDefs {
		indexSQL := buildIndexSQL(prefix, idx.table, idx.suffix, idx.template)
		if _, err := client.ExecContext(ctx, indexSQL); err != nil {
			return fmt.Errorf("create index on %s failed: %w", prefix+idx.table, err)
		}
	}

	return verifyTables(ctx, client, prefix)
}

// verifyTables checks table existence against information_schema. Missing
// indexes only warn.
func verifyTables(ctx context.Context, client storage.Client, prefix string) error {
	for _, table := range tableDefs {
		fullName := prefix + table.name
		var exists bool
		err := client.Query(ctx, func(rows *sql.Rows) error {
			if rows.Next() {
				return rows.Scan(&exists)
			}
			return nil
		}, `SELECT EXISTS (
			SELECT FROM information_schema.tables
			WHERE table_schema = current_schema()
			AND table_name = $1
		)`, fullName)
		if err != nil {
			return fmt.Errorf("check table %s existence failed: %w", fullName, err)
		}
		if !exists {
			return fmt.Errorf("table %s does not exist", fullName)
		}
	}

	for _, idx := range indexDefs {
		indexName := buildIndexName(prefix, idx.table, idx.suffix)
		var exists bool
		err := client.Query(ctx, func(rows *sql.Rows) error {
			if rows.Next() {
				return rows.Scan(&exists)
			}
			return nil
		}, `SELECT EXISTS (
			SELECT FROM pg_indexes
			WHERE schemaname = current_schema()
			AND indexname = $1
		)`, indexName)
		if err != nil {
			return fmt.Errorf("check index %s failed: %w", indexName, err)
		}
		if !exists {
			log.Warnf("index %s on table %s is missing", indexName, prefix+idx.table)
		}
	}
	return nil
}
