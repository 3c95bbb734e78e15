//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package kb holds the knowledge-base domain model: entities, the
// relational schema, and repositories over storage/postgres.
package kb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	storage "trpc.group/trpc-go/trpc-rag-go/storage/postgres"
)

// Queryer is the query surface shared by the postgres client and *sql.Tx,
// so repository helpers run both standalone and inside a transaction.
type Queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	_ Queryer = (storage.Client)(nil)
	_ Queryer = (*sql.Tx)(nil)
)

// tableNames resolves the prefixed table names once at construction.
type tableNames struct {
	users              string
	files              string
	knowledgeBases     string
	knowledgeBaseFiles string
	chunks             string
	conversations      string
	messages           string
}

func newTableNames(prefix string) tableNames {
	return tableNames{
		users:              prefix + tableUsers,
		files:              prefix + tableFiles,
		knowledgeBases:     prefix + tableKnowledgeBases,
		knowledgeBaseFiles: prefix + tableKnowledgeBaseFiles,
		chunks:             prefix + tableChunks,
		conversations:      prefix + tableConversations,
		messages:           prefix + tableMessages,
	}
}

// Store bundles the repositories over one postgres client.
type Store struct {
	client storage.Client
	t      tableNames
}

// Option configures the Store.
type Option func(*Store)

// WithTablePrefix sets a table name prefix. An underscore is appended if
// missing; only alphanumerics and underscore are allowed.
func WithTablePrefix(prefix string) Option {
	return func(s *Store) {
		if prefix == "" {
			return
		}
		if err := validateTablePrefix(prefix); err != nil {
			panic(fmt.Sprintf("invalid table prefix: %v", err))
		}
		if !strings.HasSuffix(prefix, "_") {
			prefix += "_"
		}
		s.t = newTableNames(prefix)
	}
}

// NewStore creates a Store over the given postgres client.
func NewStore(client storage.Client, opts ...Option) *Store {
	s := &Store{client: client, t: newTableNames("")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Client exposes the underlying postgres client, e.g. for transactions.
func (s *Store) Client() storage.Client {
	return s.client
}

func validateTablePrefix(prefix string) error {
	for _, r := range prefix {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' ||
			r >= '0' && r <= '9' || r == '_' {
			continue
		}
		return fmt.Errorf("character %q not allowed", r)
	}
	return nil
}
